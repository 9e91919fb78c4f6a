package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/engram/internal/memory"
)

const emotionalColumns = `id, agent_id, trigger, emotion_type, valence, arousal,
	intensity, physiology, behavior, coping_strategy, resolution, importance,
	tags, metadata, access_count, created_at, accessed_at`

// StoreEmotional appends a new emotional memory. The physiological response
// vector is derived here, deterministically, from the affect dimensions.
func (s *Store) StoreEmotional(ctx context.Context, m *memory.Emotional) (string, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now()
	m.CreatedAt = now
	m.AccessedAt = now
	m.Physiology = memory.DerivePhysiology(m.EmotionType, m.Valence, m.Arousal, m.Intensity)
	if m.Importance == 0 {
		m.Importance = s.cfg.DefaultImportance
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO emotional_memories (
			id, agent_id, trigger, emotion_type, valence, arousal, intensity,
			physiology, behavior, coping_strategy, resolution, importance,
			tags, metadata, access_count, created_at, accessed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,0,$15,$15)`,
		m.ID, m.AgentID, m.Trigger, m.EmotionType, m.Valence, m.Arousal,
		clamp01(m.Intensity), marshalJSON(m.Physiology, "{}"), m.Behavior,
		m.CopingStrategy, m.Resolution, clamp01(m.Importance),
		marshalJSON(m.Tags, "[]"), marshalJSON(m.Metadata, "{}"), now)
	if err != nil {
		return "", fmt.Errorf("store emotional for %s: %w", m.AgentID, err)
	}

	s.touchAgent(ctx, m.AgentID)
	s.index(ctx, m.AgentID, m.ID, memory.TypeEmotional, m.Trigger+" "+m.Behavior)
	s.notifyStored(ctx, m.AgentID, m.ID, memory.TypeEmotional)
	return m.ID, nil
}

// EmotionalQuery filters emotional retrieval.
type EmotionalQuery struct {
	AgentID      string
	EmotionType  string
	MinIntensity float64
	Contains     string
	Limit        int
}

// RetrieveEmotional returns matching memories ordered by intensity then
// recency, with the access side effect applied.
func (s *Store) RetrieveEmotional(ctx context.Context, q EmotionalQuery) ([]*memory.Emotional, error) {
	sql := `SELECT ` + emotionalColumns + ` FROM emotional_memories WHERE agent_id = $1`
	args := []any{q.AgentID}

	if q.EmotionType != "" {
		args = append(args, q.EmotionType)
		sql += fmt.Sprintf(` AND emotion_type = $%d`, len(args))
	}
	if q.MinIntensity > 0 {
		args = append(args, q.MinIntensity)
		sql += fmt.Sprintf(` AND intensity >= $%d`, len(args))
	}
	if q.Contains != "" {
		args = append(args, "%"+q.Contains+"%")
		n := len(args)
		sql += fmt.Sprintf(
			` AND (trigger ILIKE $%d OR emotion_type ILIKE $%d OR behavior ILIKE $%d OR coping_strategy ILIKE $%d)`,
			n, n, n, n)
	}
	sql += ` ORDER BY intensity DESC, created_at DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("retrieve emotional for %s: %w", q.AgentID, err)
	}
	defer rows.Close()

	var result []*memory.Emotional
	var ids []string
	for rows.Next() {
		m, err := scanEmotional(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("retrieve emotional for %s: %w", q.AgentID, err)
	}

	s.touchRows(ctx, "emotional_memories", ids)
	s.touchAgent(ctx, q.AgentID)
	return result, nil
}

// GetEmotional fetches one memory by id without the access side effect.
func (s *Store) GetEmotional(ctx context.Context, agentID, id string) (*memory.Emotional, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+emotionalColumns+` FROM emotional_memories WHERE agent_id = $1 AND id = $2`,
		agentID, id)
	m, err := scanEmotional(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// DeleteEmotional hard-deletes one memory and its associations.
func (s *Store) DeleteEmotional(ctx context.Context, agentID, id string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM emotional_memories WHERE agent_id = $1 AND id = $2`, agentID, id)
	if err != nil {
		return fmt.Errorf("delete emotional %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.removeAssociationsFor(ctx, agentID, []string{id})
	s.unindex(ctx, []string{id})
	return nil
}

func scanEmotional(row scanner) (*memory.Emotional, error) {
	var m memory.Emotional
	var physiology, tags, metadata []byte
	err := row.Scan(
		&m.ID, &m.AgentID, &m.Trigger, &m.EmotionType, &m.Valence, &m.Arousal,
		&m.Intensity, &physiology, &m.Behavior, &m.CopingStrategy, &m.Resolution,
		&m.Importance, &tags, &metadata, &m.AccessCount, &m.CreatedAt, &m.AccessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan emotional: %w", err)
	}
	m.Physiology = decodeJSON(physiology, memory.Physiology{})
	m.Tags = decodeJSON(tags, []string{})
	m.Metadata = decodeJSON(metadata, map[string]any{})
	return &m, nil
}

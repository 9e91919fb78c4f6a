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

// episodicColumns is the column list every episodic query selects, in the
// order scanEpisodic expects.
const episodicColumns = `id, agent_id, session_id, event_type, content, summary,
	participants, context, valence, intensity, lessons_learned, importance,
	tags, metadata, decay_factor, consolidation_level, access_count,
	created_at, accessed_at`

// StoreEpisodic appends a new episodic memory. Temporal context and the
// auto-derived summary are computed here, at write time.
func (s *Store) StoreEpisodic(ctx context.Context, e *memory.Episodic) (string, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := time.Now()
	e.CreatedAt = now
	e.AccessedAt = now
	e.Context = memory.ContextAt(now)
	if e.Summary == "" {
		e.Summary = memory.Summarize(e.Content)
	}
	if e.Importance == 0 {
		e.Importance = s.cfg.DefaultImportance
	}
	if e.DecayFactor == 0 {
		e.DecayFactor = 1.0
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO episodic_memories (
			id, agent_id, session_id, event_type, content, summary,
			participants, context, valence, intensity, lessons_learned,
			importance, tags, metadata, decay_factor, consolidation_level,
			access_count, created_at, accessed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,0,$17,$17)`,
		e.ID, e.AgentID, e.SessionID, e.EventType, e.Content, e.Summary,
		marshalJSON(e.Participants, "[]"), marshalJSON(e.Context, "{}"),
		e.Valence, e.Intensity, e.LessonsLearned, clamp01(e.Importance),
		marshalJSON(e.Tags, "[]"), marshalJSON(e.Metadata, "{}"),
		e.DecayFactor, e.ConsolidationLevel, now)
	if err != nil {
		return "", fmt.Errorf("store episodic for %s: %w", e.AgentID, err)
	}

	s.touchAgent(ctx, e.AgentID)
	s.index(ctx, e.AgentID, e.ID, memory.TypeEpisodic, e.Content+" "+e.Summary)
	s.notifyStored(ctx, e.AgentID, e.ID, memory.TypeEpisodic)
	return e.ID, nil
}

// EpisodicQuery filters episodic retrieval. Zero values mean "no filter".
type EpisodicQuery struct {
	AgentID       string
	SessionID     string
	EventType     string
	MinImportance float64
	Contains      string // substring match across textual fields
	Limit         int
}

// RetrieveEpisodic returns matching memories ordered by importance then
// recency, applying the read-through access side effect.
func (s *Store) RetrieveEpisodic(ctx context.Context, q EpisodicQuery) ([]*memory.Episodic, error) {
	sql := `SELECT ` + episodicColumns + ` FROM episodic_memories WHERE agent_id = $1`
	args := []any{q.AgentID}

	if !s.cfg.IncludeArchived {
		sql += ` AND NOT COALESCE((metadata->>'archived')::boolean, FALSE)`
	}
	if q.SessionID != "" {
		args = append(args, q.SessionID)
		sql += fmt.Sprintf(` AND session_id = $%d`, len(args))
	}
	if q.EventType != "" {
		args = append(args, q.EventType)
		sql += fmt.Sprintf(` AND event_type = $%d`, len(args))
	}
	if q.MinImportance > 0 {
		args = append(args, q.MinImportance)
		sql += fmt.Sprintf(` AND importance >= $%d`, len(args))
	}
	if q.Contains != "" {
		args = append(args, "%"+q.Contains+"%")
		n := len(args)
		sql += fmt.Sprintf(
			` AND (content ILIKE $%d OR summary ILIKE $%d OR lessons_learned ILIKE $%d OR event_type ILIKE $%d)`,
			n, n, n, n)
	}
	sql += ` ORDER BY importance DESC, created_at DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("retrieve episodic for %s: %w", q.AgentID, err)
	}
	defer rows.Close()

	var result []*memory.Episodic
	var ids []string
	for rows.Next() {
		e, err := scanEpisodic(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("retrieve episodic for %s: %w", q.AgentID, err)
	}

	s.touchRows(ctx, "episodic_memories", ids)
	s.touchAgent(ctx, q.AgentID)
	return result, nil
}

// GetEpisodic fetches a single memory by id without the access side effect.
func (s *Store) GetEpisodic(ctx context.Context, agentID, id string) (*memory.Episodic, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+episodicColumns+` FROM episodic_memories WHERE agent_id = $1 AND id = $2`,
		agentID, id)
	e, err := scanEpisodic(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// DeleteEpisodic hard-deletes one memory and its associations.
func (s *Store) DeleteEpisodic(ctx context.Context, agentID, id string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM episodic_memories WHERE agent_id = $1 AND id = $2`, agentID, id)
	if err != nil {
		return fmt.Errorf("delete episodic %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.removeAssociationsFor(ctx, agentID, []string{id})
	s.unindex(ctx, []string{id})
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEpisodic(row scanner) (*memory.Episodic, error) {
	var e memory.Episodic
	var participants, contextJSON, tags, metadata []byte
	err := row.Scan(
		&e.ID, &e.AgentID, &e.SessionID, &e.EventType, &e.Content, &e.Summary,
		&participants, &contextJSON, &e.Valence, &e.Intensity, &e.LessonsLearned,
		&e.Importance, &tags, &metadata, &e.DecayFactor, &e.ConsolidationLevel,
		&e.AccessCount, &e.CreatedAt, &e.AccessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan episodic: %w", err)
	}
	e.Participants = decodeJSON(participants, []string{})
	e.Context = decodeJSON(contextJSON, memory.TemporalContext{})
	e.Tags = decodeJSON(tags, []string{})
	e.Metadata = decodeJSON(metadata, map[string]any{})
	return &e, nil
}

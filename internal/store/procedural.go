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

const proceduralColumns = `id, agent_id, skill_name, skill_type, steps, triggers,
	success_criteria, proficiency, usage_frequency, success_rate, last_used,
	importance, tags, metadata, access_count, created_at, accessed_at`

// StoreProcedural stores a skill. Skill names are unique per agent: a repeat
// write updates the skill definition in place, preserving its usage history.
func (s *Store) StoreProcedural(ctx context.Context, m *memory.Procedural) (string, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now()
	if m.Importance == 0 {
		m.Importance = s.cfg.DefaultImportance
	}

	var id string
	err := s.db.QueryRow(ctx, `
		INSERT INTO procedural_memories (
			id, agent_id, skill_name, skill_type, steps, triggers,
			success_criteria, proficiency, usage_frequency, success_rate,
			last_used, importance, tags, metadata, access_count, created_at, accessed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,0,$15,$15)
		ON CONFLICT (agent_id, skill_name) DO UPDATE SET
			skill_type = EXCLUDED.skill_type,
			steps = EXCLUDED.steps,
			triggers = EXCLUDED.triggers,
			success_criteria = EXCLUDED.success_criteria,
			proficiency = EXCLUDED.proficiency,
			importance = EXCLUDED.importance,
			tags = EXCLUDED.tags,
			metadata = EXCLUDED.metadata
		RETURNING id`,
		m.ID, m.AgentID, m.SkillName, m.SkillType,
		marshalJSON(m.Steps, "[]"), marshalJSON(m.Triggers, "[]"),
		m.SuccessCriteria, clamp01(m.Proficiency), m.UsageFrequency,
		clamp01(m.SuccessRate), m.LastUsed, clamp01(m.Importance),
		marshalJSON(m.Tags, "[]"), marshalJSON(m.Metadata, "{}"), now).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("store procedural %q for %s: %w", m.SkillName, m.AgentID, err)
	}
	m.ID = id

	s.touchAgent(ctx, m.AgentID)
	s.index(ctx, m.AgentID, id, memory.TypeProcedural, m.SkillName+" "+m.SuccessCriteria)
	s.notifyStored(ctx, m.AgentID, id, memory.TypeProcedural)
	return id, nil
}

// ProceduralQuery filters skill retrieval.
type ProceduralQuery struct {
	AgentID        string
	SkillType      string
	MinProficiency float64
	Contains       string
	Limit          int
}

// RetrieveProcedural returns matching skills ordered by proficiency then
// last use, with the access side effect applied.
func (s *Store) RetrieveProcedural(ctx context.Context, q ProceduralQuery) ([]*memory.Procedural, error) {
	sql := `SELECT ` + proceduralColumns + ` FROM procedural_memories WHERE agent_id = $1`
	args := []any{q.AgentID}

	if q.SkillType != "" {
		args = append(args, q.SkillType)
		sql += fmt.Sprintf(` AND skill_type = $%d`, len(args))
	}
	if q.MinProficiency > 0 {
		args = append(args, q.MinProficiency)
		sql += fmt.Sprintf(` AND proficiency >= $%d`, len(args))
	}
	if q.Contains != "" {
		args = append(args, "%"+q.Contains+"%")
		n := len(args)
		sql += fmt.Sprintf(` AND (skill_name ILIKE $%d OR skill_type ILIKE $%d OR success_criteria ILIKE $%d)`, n, n, n)
	}
	sql += ` ORDER BY proficiency DESC, last_used DESC NULLS LAST`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("retrieve procedural for %s: %w", q.AgentID, err)
	}
	defer rows.Close()

	var result []*memory.Procedural
	var ids []string
	for rows.Next() {
		m, err := scanProcedural(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("retrieve procedural for %s: %w", q.AgentID, err)
	}

	s.touchRows(ctx, "procedural_memories", ids)
	s.touchAgent(ctx, q.AgentID)
	return result, nil
}

// GetProcedural fetches one skill by name without the access side effect.
func (s *Store) GetProcedural(ctx context.Context, agentID, skillName string) (*memory.Procedural, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+proceduralColumns+` FROM procedural_memories WHERE agent_id = $1 AND skill_name = $2`,
		agentID, skillName)
	m, err := scanProcedural(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// GetProceduralByID fetches one skill by id without the access side effect.
func (s *Store) GetProceduralByID(ctx context.Context, agentID, id string) (*memory.Procedural, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+proceduralColumns+` FROM procedural_memories WHERE agent_id = $1 AND id = $2`,
		agentID, id)
	m, err := scanProcedural(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// DeleteProcedural hard-deletes one skill and its associations.
func (s *Store) DeleteProcedural(ctx context.Context, agentID, id string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM procedural_memories WHERE agent_id = $1 AND id = $2`, agentID, id)
	if err != nil {
		return fmt.Errorf("delete procedural %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.removeAssociationsFor(ctx, agentID, []string{id})
	s.unindex(ctx, []string{id})
	return nil
}

// RecordSkillUsage tracks one execution of a skill: usage frequency, running
// success rate, last-used timestamp and a small proficiency nudge.
// Returns ErrNotFound for an unknown skill.
func (s *Store) RecordSkillUsage(ctx context.Context, agentID, skillName string, success bool) error {
	successVal := 0.0
	if success {
		successVal = 1.0
	}
	// Running average: rate' = (rate*n + outcome) / (n+1).
	tag, err := s.db.Exec(ctx, `
		UPDATE procedural_memories SET
			success_rate = (success_rate * usage_frequency + $3) / (usage_frequency + 1),
			usage_frequency = usage_frequency + 1,
			proficiency = LEAST(1.0, proficiency + 0.01),
			last_used = NOW(),
			accessed_at = NOW(),
			access_count = access_count + 1
		WHERE agent_id = $1 AND skill_name = $2`,
		agentID, skillName, successVal)
	if err != nil {
		return fmt.Errorf("record usage of %q for %s: %w", skillName, agentID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.touchAgent(ctx, agentID)
	return nil
}

func scanProcedural(row scanner) (*memory.Procedural, error) {
	var m memory.Procedural
	var steps, triggers, tags, metadata []byte
	err := row.Scan(
		&m.ID, &m.AgentID, &m.SkillName, &m.SkillType, &steps, &triggers,
		&m.SuccessCriteria, &m.Proficiency, &m.UsageFrequency, &m.SuccessRate,
		&m.LastUsed, &m.Importance, &tags, &metadata, &m.AccessCount,
		&m.CreatedAt, &m.AccessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan procedural: %w", err)
	}
	m.Steps = decodeJSON(steps, []string{})
	m.Triggers = decodeJSON(triggers, []string{})
	m.Tags = decodeJSON(tags, []string{})
	m.Metadata = decodeJSON(metadata, map[string]any{})
	return &m, nil
}

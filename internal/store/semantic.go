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

const semanticColumns = `id, agent_id, concept, definition, category, subcategory,
	relationships, confidence, source, evidence, importance, tags, metadata,
	access_count, created_at, updated_at, accessed_at`

// StoreSemantic upserts knowledge by concept: writing an existing concept
// updates its mutable fields in place rather than duplicating the row.
// Returns the id of the stored row (the original id on update).
func (s *Store) StoreSemantic(ctx context.Context, m *memory.Semantic) (string, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now()
	if m.Importance == 0 {
		m.Importance = s.cfg.DefaultImportance
	}

	var id string
	err := s.db.QueryRow(ctx, `
		INSERT INTO semantic_memories (
			id, agent_id, concept, definition, category, subcategory,
			relationships, confidence, source, evidence, importance, tags,
			metadata, access_count, created_at, updated_at, accessed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,0,$14,$14,$14)
		ON CONFLICT (agent_id, concept) DO UPDATE SET
			definition = EXCLUDED.definition,
			category = EXCLUDED.category,
			subcategory = EXCLUDED.subcategory,
			relationships = EXCLUDED.relationships,
			confidence = EXCLUDED.confidence,
			source = EXCLUDED.source,
			evidence = EXCLUDED.evidence,
			importance = EXCLUDED.importance,
			tags = EXCLUDED.tags,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		m.ID, m.AgentID, m.Concept, m.Definition, m.Category, m.Subcategory,
		marshalJSON(m.Relationships, "{}"), clamp01(m.Confidence), m.Source,
		m.Evidence, clamp01(m.Importance), marshalJSON(m.Tags, "[]"),
		marshalJSON(m.Metadata, "{}"), now).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("store semantic %q for %s: %w", m.Concept, m.AgentID, err)
	}
	m.ID = id

	s.touchAgent(ctx, m.AgentID)
	s.index(ctx, m.AgentID, id, memory.TypeSemantic, m.Concept+" "+m.Definition)
	s.notifyStored(ctx, m.AgentID, id, memory.TypeSemantic)
	return id, nil
}

// SemanticQuery filters semantic retrieval.
type SemanticQuery struct {
	AgentID       string
	Category      string
	MinConfidence float64
	Contains      string
	Limit         int
}

// RetrieveSemantic returns matching concepts ordered by confidence then
// recency of update, with the access side effect applied.
func (s *Store) RetrieveSemantic(ctx context.Context, q SemanticQuery) ([]*memory.Semantic, error) {
	sql := `SELECT ` + semanticColumns + ` FROM semantic_memories WHERE agent_id = $1`
	args := []any{q.AgentID}

	if q.Category != "" {
		args = append(args, q.Category)
		sql += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	if q.MinConfidence > 0 {
		args = append(args, q.MinConfidence)
		sql += fmt.Sprintf(` AND confidence >= $%d`, len(args))
	}
	if q.Contains != "" {
		args = append(args, "%"+q.Contains+"%")
		n := len(args)
		sql += fmt.Sprintf(` AND (concept ILIKE $%d OR definition ILIKE $%d OR category ILIKE $%d)`, n, n, n)
	}
	sql += ` ORDER BY confidence DESC, updated_at DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("retrieve semantic for %s: %w", q.AgentID, err)
	}
	defer rows.Close()

	var result []*memory.Semantic
	var ids []string
	for rows.Next() {
		m, err := scanSemantic(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("retrieve semantic for %s: %w", q.AgentID, err)
	}

	s.touchRows(ctx, "semantic_memories", ids)
	s.touchAgent(ctx, q.AgentID)
	return result, nil
}

// GetSemanticByConcept fetches a single concept without the access side effect.
func (s *Store) GetSemanticByConcept(ctx context.Context, agentID, concept string) (*memory.Semantic, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+semanticColumns+` FROM semantic_memories WHERE agent_id = $1 AND concept = $2`,
		agentID, concept)
	m, err := scanSemantic(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// GetSemantic fetches a single concept by id without the access side effect.
func (s *Store) GetSemantic(ctx context.Context, agentID, id string) (*memory.Semantic, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+semanticColumns+` FROM semantic_memories WHERE agent_id = $1 AND id = $2`,
		agentID, id)
	m, err := scanSemantic(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// DeleteSemantic hard-deletes one concept and its associations.
func (s *Store) DeleteSemantic(ctx context.Context, agentID, id string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM semantic_memories WHERE agent_id = $1 AND id = $2`, agentID, id)
	if err != nil {
		return fmt.Errorf("delete semantic %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.removeAssociationsFor(ctx, agentID, []string{id})
	s.unindex(ctx, []string{id})
	return nil
}

// ListSemantic returns concepts without the access side effect, for
// consolidation passes that must not skew access statistics.
func (s *Store) ListSemantic(ctx context.Context, agentID string, limit int) ([]*memory.Semantic, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+semanticColumns+` FROM semantic_memories WHERE agent_id = $1
		 ORDER BY updated_at DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list semantic for %s: %w", agentID, err)
	}
	defer rows.Close()

	var result []*memory.Semantic
	for rows.Next() {
		m, err := scanSemantic(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func scanSemantic(row scanner) (*memory.Semantic, error) {
	var m memory.Semantic
	var relationships, tags, metadata []byte
	err := row.Scan(
		&m.ID, &m.AgentID, &m.Concept, &m.Definition, &m.Category, &m.Subcategory,
		&relationships, &m.Confidence, &m.Source, &m.Evidence, &m.Importance,
		&tags, &metadata, &m.AccessCount, &m.CreatedAt, &m.UpdatedAt, &m.AccessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan semantic: %w", err)
	}
	m.Relationships = decodeJSON(relationships, map[string][]string{})
	m.Tags = decodeJSON(tags, []string{})
	m.Metadata = decodeJSON(metadata, map[string]any{})
	return &m, nil
}

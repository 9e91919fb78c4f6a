package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/nidhogg/engram/internal/memory"
)

// reinforceIncrement is the fixed strength bump applied when the same
// ordered pair is associated again.
const reinforceIncrement = 0.1

const associationColumns = `id, agent_id, memory1_id, memory1_type, memory2_id,
	memory2_type, association_type, strength, bidirectional,
	reinforcement_count, last_reinforced, created_at`

// CreateOrReinforce upserts an association for the exact ordered pair.
// A repeat request reinforces the existing record, raising strength by the
// fixed increment (capped at 1.0) and growing the reinforcement count, so
// concurrent duplicate attempts never surface a uniqueness failure.
func (s *Store) CreateOrReinforce(ctx context.Context, a *memory.Association) (string, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now()
	if a.AssocType == "" {
		a.AssocType = memory.AssocSemantic
	}

	var id string
	err := s.db.QueryRow(ctx, `
		INSERT INTO memory_associations (
			id, agent_id, memory1_id, memory1_type, memory2_id, memory2_type,
			association_type, strength, bidirectional, reinforcement_count,
			last_reinforced, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,$10,$10)
		ON CONFLICT (agent_id, memory1_id, memory1_type, memory2_id, memory2_type)
		DO UPDATE SET
			strength = LEAST(1.0, memory_associations.strength + $11),
			reinforcement_count = memory_associations.reinforcement_count + 1,
			last_reinforced = EXCLUDED.last_reinforced
		RETURNING id`,
		a.ID, a.AgentID, a.Memory1ID, string(a.Memory1Type),
		a.Memory2ID, string(a.Memory2Type), a.AssocType, clamp01(a.Strength),
		a.Bidirectional, now, reinforceIncrement).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("associate %s->%s for %s: %w", a.Memory1ID, a.Memory2ID, a.AgentID, err)
	}
	a.ID = id
	return id, nil
}

// TryAssociate is CreateOrReinforce with the secondary-write contract:
// failures are logged and swallowed so the caller's primary operation
// is never rolled back by a degraded linkage step.
// Reports whether a brand-new association was created.
func (s *Store) TryAssociate(ctx context.Context, a *memory.Association) bool {
	existing, err := s.getAssociation(ctx, a.AgentID, a.Memory1ID, a.Memory2ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Warn("association lookup skipped",
			zap.String("agent", a.AgentID), zap.Error(err))
		return false
	}
	isNew := existing == nil

	if _, err := s.CreateOrReinforce(ctx, a); err != nil {
		s.logger.Warn("association creation skipped",
			zap.String("agent", a.AgentID),
			zap.String("memory1", a.Memory1ID),
			zap.String("memory2", a.Memory2ID),
			zap.Error(err))
		return false
	}
	return isNew
}

// RelatedQuery filters FindRelated.
type RelatedQuery struct {
	AgentID     string
	MemoryID    string
	MemoryType  memory.Type
	AssocTypes  []string // optional filter
	MinStrength float64
	Limit       int
}

// FindRelated returns associations touching the given memory, resolved to
// the far endpoint, strongest first. The queried memory itself is never
// returned.
func (s *Store) FindRelated(ctx context.Context, q RelatedQuery) ([]*memory.Related, error) {
	sql := `
		SELECT
			CASE WHEN memory1_id = $2 AND memory1_type = $3 THEN memory2_id ELSE memory1_id END,
			CASE WHEN memory1_id = $2 AND memory1_type = $3 THEN memory2_type ELSE memory1_type END,
			association_type, strength
		FROM memory_associations
		WHERE agent_id = $1
		  AND ((memory1_id = $2 AND memory1_type = $3) OR (memory2_id = $2 AND memory2_type = $3))
		  AND strength >= $4`
	args := []any{q.AgentID, q.MemoryID, string(q.MemoryType), q.MinStrength}

	if len(q.AssocTypes) > 0 {
		args = append(args, q.AssocTypes)
		sql += fmt.Sprintf(` AND association_type = ANY($%d)`, len(args))
	}
	sql += ` ORDER BY strength DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("find related for %s: %w", q.MemoryID, err)
	}
	defer rows.Close()

	var result []*memory.Related
	for rows.Next() {
		var r memory.Related
		var memType string
		if err := rows.Scan(&r.MemoryID, &memType, &r.AssocType, &r.Strength); err != nil {
			return nil, fmt.Errorf("scan related: %w", err)
		}
		r.MemoryType = memory.Type(memType)
		result = append(result, &r)
	}
	return result, rows.Err()
}

// HasAssociation reports whether any record links the two ids, in either
// direction.
func (s *Store) HasAssociation(ctx context.Context, agentID, id1, id2 string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM memory_associations
			WHERE agent_id = $1
			  AND ((memory1_id = $2 AND memory2_id = $3) OR (memory1_id = $3 AND memory2_id = $2))
		)`, agentID, id1, id2).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check association for %s: %w", agentID, err)
	}
	return exists, nil
}

// PruneAssociations deletes weak links that have not been reinforced within
// the stale window. Returns how many were removed.
func (s *Store) PruneAssociations(ctx context.Context, floor float64, staleBefore time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM memory_associations
		WHERE strength < $1 AND last_reinforced < $2`,
		floor, staleBefore)
	if err != nil {
		return 0, fmt.Errorf("prune associations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListAssociations returns all of an agent's associations (export support).
func (s *Store) ListAssociations(ctx context.Context, agentID string) ([]*memory.Association, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+associationColumns+` FROM memory_associations
		 WHERE agent_id = $1 ORDER BY created_at`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list associations for %s: %w", agentID, err)
	}
	defer rows.Close()

	var result []*memory.Association
	for rows.Next() {
		a, err := scanAssociation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// getAssociation fetches the record for an exact ordered pair.
func (s *Store) getAssociation(ctx context.Context, agentID, id1, id2 string) (*memory.Association, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+associationColumns+` FROM memory_associations
		 WHERE agent_id = $1 AND memory1_id = $2 AND memory2_id = $3`,
		agentID, id1, id2)
	a, err := scanAssociation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// removeAssociationsFor deletes every association touching the given ids.
// Called after hard deletes to keep the graph free of dangling endpoints.
func (s *Store) removeAssociationsFor(ctx context.Context, agentID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	_, err := s.db.Exec(ctx, `
		DELETE FROM memory_associations
		WHERE agent_id = $1 AND (memory1_id = ANY($2) OR memory2_id = ANY($2))`,
		agentID, ids)
	if err != nil {
		s.logger.Warn("dangling association cleanup failed",
			zap.String("agent", agentID), zap.Error(err))
	}
}

func scanAssociation(row scanner) (*memory.Association, error) {
	var a memory.Association
	var t1, t2 string
	err := row.Scan(
		&a.ID, &a.AgentID, &a.Memory1ID, &t1, &a.Memory2ID, &t2,
		&a.AssocType, &a.Strength, &a.Bidirectional, &a.Reinforcements,
		&a.LastReinforced, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan association: %w", err)
	}
	a.Memory1Type = memory.Type(t1)
	a.Memory2Type = memory.Type(t2)
	return &a, nil
}

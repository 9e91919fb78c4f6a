package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/engram/internal/memory"
)

const workingColumns = `id, agent_id, session_id, content_type, content, priority,
	weight, activation, source_id, source_type, expires_at, access_count,
	created_at, accessed_at`

// ErrCapacityExceeded is returned when a single item's weight exceeds the
// whole session budget, so no amount of eviction can admit it.
var ErrCapacityExceeded = fmt.Errorf("working memory capacity exceeded")

// StoreWorking inserts a working-memory item, evicting lowest-(priority,
// activation) items until the session's total weight fits the capacity
// budget. The post-insert invariant is strict: total weight never exceeds
// the configured capacity.
func (s *Store) StoreWorking(ctx context.Context, w *memory.Working) (string, error) {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	now := time.Now()
	w.CreatedAt = now
	w.AccessedAt = now
	if w.Weight <= 0 {
		w.Weight = 1.0
	}
	if w.ExpiresAt.IsZero() {
		w.ExpiresAt = now.Add(s.cfg.WorkingTTL.Std())
	}
	if w.Weight > s.cfg.WorkingCapacity {
		return "", fmt.Errorf("item weight %.2f vs capacity %.2f: %w",
			w.Weight, s.cfg.WorkingCapacity, ErrCapacityExceeded)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("store working for %s: %w", w.AgentID, err)
	}
	defer tx.Rollback(ctx)

	// Expired rows never count against the budget; clear them first.
	if _, err := tx.Exec(ctx,
		`DELETE FROM working_memory WHERE agent_id = $1 AND session_id = $2 AND expires_at <= $3`,
		w.AgentID, w.SessionID, now); err != nil {
		return "", fmt.Errorf("purge expired working for %s: %w", w.AgentID, err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, weight FROM working_memory
		WHERE agent_id = $1 AND session_id = $2
		ORDER BY priority ASC, activation ASC, accessed_at ASC
		FOR UPDATE`,
		w.AgentID, w.SessionID)
	if err != nil {
		return "", fmt.Errorf("inspect working set for %s: %w", w.AgentID, err)
	}

	type slot struct {
		id     string
		weight float64
	}
	var slots []slot
	var used float64
	for rows.Next() {
		var sl slot
		if err := rows.Scan(&sl.id, &sl.weight); err != nil {
			rows.Close()
			return "", fmt.Errorf("scan working slot: %w", err)
		}
		slots = append(slots, sl)
		used += sl.weight
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("inspect working set for %s: %w", w.AgentID, err)
	}

	// Evict weakest-first until the new item fits.
	var evict []string
	for _, sl := range slots {
		if used+w.Weight <= s.cfg.WorkingCapacity {
			break
		}
		evict = append(evict, sl.id)
		used -= sl.weight
	}
	if len(evict) > 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM working_memory WHERE id = ANY($1)`, evict); err != nil {
			return "", fmt.Errorf("evict working items for %s: %w", w.AgentID, err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO working_memory (
			id, agent_id, session_id, content_type, content, priority, weight,
			activation, source_id, source_type, expires_at, access_count,
			created_at, accessed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0,$12,$12)`,
		w.ID, w.AgentID, w.SessionID, w.ContentType, w.Content,
		clamp01(w.Priority), w.Weight, clamp01(w.Activation),
		nullableID(w.SourceID), string(w.SourceType), w.ExpiresAt, now); err != nil {
		return "", fmt.Errorf("store working for %s: %w", w.AgentID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("store working for %s: %w", w.AgentID, err)
	}

	if len(evict) > 0 {
		s.logger.Debug("working memory eviction",
			zap.String("agent", w.AgentID),
			zap.String("session", w.SessionID),
			zap.Int("evicted", len(evict)))
	}
	s.touchAgent(ctx, w.AgentID)
	s.notifyStored(ctx, w.AgentID, w.ID, memory.TypeWorking)
	return w.ID, nil
}

// RetrieveWorking returns the live working set for a session, highest
// priority first. Expired rows are purged before reading.
func (s *Store) RetrieveWorking(ctx context.Context, agentID, sessionID string, limit int) ([]*memory.Working, error) {
	s.PurgeExpiredWorking(ctx)

	sql := `SELECT ` + workingColumns + ` FROM working_memory
		WHERE agent_id = $1 AND session_id = $2 AND expires_at > NOW()
		ORDER BY priority DESC, activation DESC`
	args := []any{agentID, sessionID}
	if limit > 0 {
		args = append(args, limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("retrieve working for %s: %w", agentID, err)
	}
	defer rows.Close()

	var result []*memory.Working
	var ids []string
	for rows.Next() {
		var w memory.Working
		var sourceID *string
		var sourceType string
		if err := rows.Scan(
			&w.ID, &w.AgentID, &w.SessionID, &w.ContentType, &w.Content,
			&w.Priority, &w.Weight, &w.Activation, &sourceID, &sourceType,
			&w.ExpiresAt, &w.AccessCount, &w.CreatedAt, &w.AccessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan working: %w", err)
		}
		if sourceID != nil {
			w.SourceID = *sourceID
		}
		w.SourceType = memory.Type(sourceType)
		result = append(result, &w)
		ids = append(ids, w.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("retrieve working for %s: %w", agentID, err)
	}

	s.touchRows(ctx, "working_memory", ids)
	s.touchAgent(ctx, agentID)
	return result, nil
}

// DeleteWorking hard-deletes one working-memory item. Working items never
// enter the vector index, so there is nothing to unindex.
func (s *Store) DeleteWorking(ctx context.Context, agentID, id string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM working_memory WHERE agent_id = $1 AND id = $2`, agentID, id)
	if err != nil {
		return fmt.Errorf("delete working %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.removeAssociationsFor(ctx, agentID, []string{id})
	return nil
}

// WorkingLoad reports the summed weight of live items in a session.
func (s *Store) WorkingLoad(ctx context.Context, agentID, sessionID string) (float64, error) {
	var load float64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(weight), 0) FROM working_memory
		WHERE agent_id = $1 AND session_id = $2 AND expires_at > NOW()`,
		agentID, sessionID).Scan(&load)
	if err != nil {
		return 0, fmt.Errorf("working load for %s: %w", agentID, err)
	}
	return load, nil
}

// PurgeExpiredWorking removes expired rows across all agents.
// Returns the number of rows removed.
func (s *Store) PurgeExpiredWorking(ctx context.Context) int {
	tag, err := s.db.Exec(ctx, `DELETE FROM working_memory WHERE expires_at <= NOW()`)
	if err != nil {
		s.logger.Warn("expired working purge failed")
		return 0
	}
	return int(tag.RowsAffected())
}

func nullableID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

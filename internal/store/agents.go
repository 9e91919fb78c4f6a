package store

import (
	"context"
	"fmt"
	"time"
)

// touchAgent registers activity for an agent, creating the registry row on
// first contact. Called from every store/retrieve path.
func (s *Store) touchAgent(ctx context.Context, agentID string) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO agents (id, created_at, last_active)
		VALUES ($1, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET last_active = NOW()`, agentID)
	if err != nil {
		s.logger.Warn("agent registry update failed")
	}
}

// ListActiveAgents returns agents with activity inside the trailing window.
// Scheduled sweeps use this to bound their work.
func (s *Store) ListActiveAgents(ctx context.Context, window time.Duration) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM agents WHERE last_active > $1 ORDER BY id`,
		time.Now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("list active agents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan agent id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearAgent removes every row belonging to an agent across all collections.
// Used by explicit memory clearing and by restore-with-clear.
func (s *Store) ClearAgent(ctx context.Context, agentID string) error {
	tables := []string{
		"episodic_memories", "semantic_memories", "procedural_memories",
		"emotional_memories", "working_memory", "memory_associations",
		"consolidation_runs",
	}
	for _, table := range tables {
		if _, err := s.db.Exec(ctx, `DELETE FROM `+table+` WHERE agent_id = $1`, agentID); err != nil {
			return fmt.Errorf("clear %s for %s: %w", table, agentID, err)
		}
	}
	if s.indexer != nil {
		s.indexer.RemoveAgent(ctx, agentID)
	}
	return nil
}

// ListAgents returns every registered agent id.
func (s *Store) ListAgents(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan agent id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

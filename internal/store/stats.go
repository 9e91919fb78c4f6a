package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/engram/internal/memory"
)

// Statistics summarizes one agent's memory state across every collection.
func (s *Store) Statistics(ctx context.Context, agentID string) (*memory.Statistics, error) {
	st := &memory.Statistics{AgentID: agentID, GeneratedAt: time.Now()}

	err := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE NOT COALESCE((metadata->>'archived')::boolean, FALSE)),
			COUNT(*) FILTER (WHERE COALESCE((metadata->>'archived')::boolean, FALSE)),
			COALESCE(AVG(importance), 0)
		FROM episodic_memories WHERE agent_id = $1`, agentID).
		Scan(&st.Episodic, &st.ArchivedEpisodic, &st.AvgImportance)
	if err != nil {
		return nil, fmt.Errorf("episodic stats for %s: %w", agentID, err)
	}

	counts := []struct {
		table string
		dest  *int
	}{
		{"semantic_memories", &st.Semantic},
		{"procedural_memories", &st.Procedural},
		{"emotional_memories", &st.Emotional},
		{"memory_associations", &st.Associations},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(ctx,
			`SELECT COUNT(*) FROM `+c.table+` WHERE agent_id = $1`, agentID).
			Scan(c.dest); err != nil {
			return nil, fmt.Errorf("%s stats for %s: %w", c.table, agentID, err)
		}
	}

	if err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM working_memory
		WHERE agent_id = $1 AND expires_at > NOW()`, agentID).
		Scan(&st.Working); err != nil {
		return nil, fmt.Errorf("working stats for %s: %w", agentID, err)
	}

	last, err := s.LastRun(ctx, agentID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	st.LastRun = last
	return st, nil
}

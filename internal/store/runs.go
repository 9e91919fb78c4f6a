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

const runColumns = `id, agent_id, run_type, status, processed, strengthened,
	weakened, forgotten, new_associations, error, started_at, completed_at`

// StartRun opens a consolidation run record in the running state.
func (s *Store) StartRun(ctx context.Context, agentID, runType string) (*memory.Run, error) {
	run := &memory.Run{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		RunType:   runType,
		Status:    memory.RunRunning,
		StartedAt: time.Now(),
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO consolidation_runs (id, agent_id, run_type, status, started_at)
		VALUES ($1,$2,$3,$4,$5)`,
		run.ID, run.AgentID, run.RunType, string(run.Status), run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("start %s run for %s: %w", runType, agentID, err)
	}
	return run, nil
}

// FinishRun persists the final counts and terminal status for a run.
// Every run ends here, completed or failed, never left running.
func (s *Store) FinishRun(ctx context.Context, run *memory.Run) error {
	now := time.Now()
	run.CompletedAt = &now
	_, err := s.db.Exec(ctx, `
		UPDATE consolidation_runs SET
			status = $2, processed = $3, strengthened = $4, weakened = $5,
			forgotten = $6, new_associations = $7, error = $8, completed_at = $9
		WHERE id = $1`,
		run.ID, string(run.Status), run.Processed, run.Strengthened,
		run.Weakened, run.Forgotten, run.NewAssociations, run.Error, now)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun fetches one run record.
func (s *Store) GetRun(ctx context.Context, id string) (*memory.Run, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+runColumns+` FROM consolidation_runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// LastRun returns the most recent run for an agent, or ErrNotFound.
func (s *Store) LastRun(ctx context.Context, agentID string) (*memory.Run, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+runColumns+` FROM consolidation_runs
		 WHERE agent_id = $1 ORDER BY started_at DESC LIMIT 1`, agentID)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ListRuns returns recent runs for an agent, newest first.
func (s *Store) ListRuns(ctx context.Context, agentID string, limit int) ([]*memory.Run, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+runColumns+` FROM consolidation_runs
		 WHERE agent_id = $1 ORDER BY started_at DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs for %s: %w", agentID, err)
	}
	defer rows.Close()

	var result []*memory.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanRun(row scanner) (*memory.Run, error) {
	var r memory.Run
	var status string
	err := row.Scan(
		&r.ID, &r.AgentID, &r.RunType, &status, &r.Processed, &r.Strengthened,
		&r.Weakened, &r.Forgotten, &r.NewAssociations, &r.Error,
		&r.StartedAt, &r.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Status = memory.RunStatus(status)
	return &r, nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/engram/internal/memory"
)

// Dump queries back the backup/export layer. They carry no access side
// effect, include archived rows, and honor an optional incremental cutoff:
// a zero since means everything, otherwise a row qualifies when it was
// created or touched at or after the cutoff.

func (s *Store) DumpEpisodic(ctx context.Context, agentID string, since time.Time) ([]*memory.Episodic, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+episodicColumns+` FROM episodic_memories
		WHERE agent_id = $1 AND (created_at >= $2 OR accessed_at >= $2)
		ORDER BY created_at`, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("dump episodic for %s: %w", agentID, err)
	}
	defer rows.Close()

	var result []*memory.Episodic
	for rows.Next() {
		e, err := scanEpisodic(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *Store) DumpSemantic(ctx context.Context, agentID string, since time.Time) ([]*memory.Semantic, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+semanticColumns+` FROM semantic_memories
		WHERE agent_id = $1 AND (created_at >= $2 OR updated_at >= $2)
		ORDER BY created_at`, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("dump semantic for %s: %w", agentID, err)
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

func (s *Store) DumpProcedural(ctx context.Context, agentID string, since time.Time) ([]*memory.Procedural, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+proceduralColumns+` FROM procedural_memories
		WHERE agent_id = $1 AND (created_at >= $2 OR COALESCE(last_used, created_at) >= $2)
		ORDER BY created_at`, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("dump procedural for %s: %w", agentID, err)
	}
	defer rows.Close()

	var result []*memory.Procedural
	for rows.Next() {
		m, err := scanProcedural(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Store) DumpEmotional(ctx context.Context, agentID string, since time.Time) ([]*memory.Emotional, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+emotionalColumns+` FROM emotional_memories
		WHERE agent_id = $1 AND (created_at >= $2 OR accessed_at >= $2)
		ORDER BY created_at`, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("dump emotional for %s: %w", agentID, err)
	}
	defer rows.Close()

	var result []*memory.Emotional
	for rows.Next() {
		m, err := scanEmotional(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// DumpWorking exports the live (unexpired) working set across all sessions.
func (s *Store) DumpWorking(ctx context.Context, agentID string, since time.Time) ([]*memory.Working, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+workingColumns+` FROM working_memory
		WHERE agent_id = $1 AND expires_at > NOW() AND created_at >= $2
		ORDER BY created_at`, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("dump working for %s: %w", agentID, err)
	}
	defer rows.Close()

	var result []*memory.Working
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
	}
	return result, rows.Err()
}

func (s *Store) DumpAssociations(ctx context.Context, agentID string, since time.Time) ([]*memory.Association, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+associationColumns+` FROM memory_associations
		WHERE agent_id = $1 AND (created_at >= $2 OR last_reinforced >= $2)
		ORDER BY created_at`, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("dump associations for %s: %w", agentID, err)
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

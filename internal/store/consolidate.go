package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/engram/internal/memory"
)

// The methods in this file back the consolidation engine and the lifecycle
// manager. None of them apply the read-through access side effect: batch
// passes must not skew access statistics. Every one is bounded by a LIMIT
// so a pass terminates regardless of data volume.

// DecayEpisodic multiplies importance by factor for memories not accessed
// since the cutoff. Returns how many rows were weakened.
func (s *Store) DecayEpisodic(ctx context.Context, agentID string, unaccessedBefore time.Time, factor float64, limit int) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE episodic_memories SET importance = importance * $3
		WHERE id IN (
			SELECT id FROM episodic_memories
			WHERE agent_id = $1 AND accessed_at < $2
			  AND NOT COALESCE((metadata->>'archived')::boolean, FALSE)
			ORDER BY accessed_at ASC LIMIT $4
		)`, agentID, unaccessedBefore, factor, limit)
	if err != nil {
		return 0, fmt.Errorf("decay episodic for %s: %w", agentID, err)
	}
	return int(tag.RowsAffected()), nil
}

// DecayEmotional multiplies importance and intensity by factor for memories
// not accessed since the cutoff.
func (s *Store) DecayEmotional(ctx context.Context, agentID string, unaccessedBefore time.Time, factor float64, limit int) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE emotional_memories SET importance = importance * $3, intensity = intensity * $3
		WHERE id IN (
			SELECT id FROM emotional_memories
			WHERE agent_id = $1 AND accessed_at < $2
			ORDER BY accessed_at ASC LIMIT $4
		)`, agentID, unaccessedBefore, factor, limit)
	if err != nil {
		return 0, fmt.Errorf("decay emotional for %s: %w", agentID, err)
	}
	return int(tag.RowsAffected()), nil
}

// StrengthenAccessedEpisodic boosts memories accessed since the cutoff that
// are important or emotionally intense (reflection's light pass).
func (s *Store) StrengthenAccessedEpisodic(ctx context.Context, agentID string, accessedSince time.Time, minImportance, minIntensity, delta float64, limit int) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE episodic_memories SET importance = LEAST(1.0, importance + $5)
		WHERE id IN (
			SELECT id FROM episodic_memories
			WHERE agent_id = $1 AND accessed_at >= $2
			  AND (importance >= $3 OR intensity >= $4)
			ORDER BY accessed_at DESC LIMIT $6
		)`, agentID, accessedSince, minImportance, minIntensity, delta, limit)
	if err != nil {
		return 0, fmt.Errorf("strengthen accessed episodic for %s: %w", agentID, err)
	}
	return int(tag.RowsAffected()), nil
}

// DeepStrengthenEpisodic boosts important, frequently-accessed or intense
// memories and bumps their consolidation level (sleep's deep pass).
func (s *Store) DeepStrengthenEpisodic(ctx context.Context, agentID string, minImportance float64, minAccessCount int, minIntensity, delta float64, limit int) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE episodic_memories SET
			importance = LEAST(1.0, importance + $5),
			consolidation_level = consolidation_level + 1
		WHERE id IN (
			SELECT id FROM episodic_memories
			WHERE agent_id = $1
			  AND (importance >= $2 OR access_count >= $3 OR intensity >= $4)
			  AND NOT COALESCE((metadata->>'archived')::boolean, FALSE)
			ORDER BY importance DESC LIMIT $6
		)`, agentID, minImportance, minAccessCount, minIntensity, delta, limit)
	if err != nil {
		return 0, fmt.Errorf("deep strengthen episodic for %s: %w", agentID, err)
	}
	return int(tag.RowsAffected()), nil
}

// StrengthenRecentEpisodic boosts important memories created since the
// cutoff (rehearsal's targeted pass).
func (s *Store) StrengthenRecentEpisodic(ctx context.Context, agentID string, createdSince time.Time, minImportance, delta float64, limit int) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE episodic_memories SET importance = LEAST(1.0, importance + $4)
		WHERE id IN (
			SELECT id FROM episodic_memories
			WHERE agent_id = $1 AND created_at >= $2 AND importance >= $3
			ORDER BY created_at DESC LIMIT $5
		)`, agentID, createdSince, minImportance, delta, limit)
	if err != nil {
		return 0, fmt.Errorf("strengthen recent episodic for %s: %w", agentID, err)
	}
	return int(tag.RowsAffected()), nil
}

// StrengthenIntenseEmotional boosts high-intensity emotional memories.
func (s *Store) StrengthenIntenseEmotional(ctx context.Context, agentID string, minIntensity, delta float64, limit int) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE emotional_memories SET importance = LEAST(1.0, importance + $3)
		WHERE id IN (
			SELECT id FROM emotional_memories
			WHERE agent_id = $1 AND intensity >= $2
			ORDER BY intensity DESC LIMIT $4
		)`, agentID, minIntensity, delta, limit)
	if err != nil {
		return 0, fmt.Errorf("strengthen intense emotional for %s: %w", agentID, err)
	}
	return int(tag.RowsAffected()), nil
}

// ListEpisodicSince returns memories created since the cutoff, newest first,
// without the access side effect.
func (s *Store) ListEpisodicSince(ctx context.Context, agentID string, since time.Time, limit int) ([]*memory.Episodic, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+episodicColumns+` FROM episodic_memories
		WHERE agent_id = $1 AND created_at >= $2
		  AND NOT COALESCE((metadata->>'archived')::boolean, FALSE)
		ORDER BY created_at DESC LIMIT $3`, agentID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list episodic since for %s: %w", agentID, err)
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

// ListEpisodicWithLessons returns memories carrying a lessons-learned field,
// the raw material for pattern extraction.
func (s *Store) ListEpisodicWithLessons(ctx context.Context, agentID string, limit int) ([]*memory.Episodic, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+episodicColumns+` FROM episodic_memories
		WHERE agent_id = $1 AND lessons_learned != ''
		  AND NOT COALESCE((metadata->>'archived')::boolean, FALSE)
		ORDER BY created_at DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list episodic lessons for %s: %w", agentID, err)
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

// ForgetEpisodic hard-deletes memories under the forgotten threshold: very
// low importance, never accessed, older than the cutoff. Dangling
// associations are cleaned up. Returns how many were forgotten.
func (s *Store) ForgetEpisodic(ctx context.Context, agentID string, importanceBelow float64, createdBefore time.Time, limit int) (int, error) {
	rows, err := s.db.Query(ctx, `
		DELETE FROM episodic_memories
		WHERE id IN (
			SELECT id FROM episodic_memories
			WHERE agent_id = $1 AND importance < $2 AND created_at < $3 AND access_count = 0
			ORDER BY importance ASC LIMIT $4
		)
		RETURNING id`, agentID, importanceBelow, createdBefore, limit)
	if err != nil {
		return 0, fmt.Errorf("forget episodic for %s: %w", agentID, err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return 0, fmt.Errorf("forget episodic for %s: %w", agentID, err)
	}
	s.removeAssociationsFor(ctx, agentID, ids)
	s.unindex(ctx, ids)
	return len(ids), nil
}

// ForgetEmotional mirrors ForgetEpisodic for the emotional collection.
func (s *Store) ForgetEmotional(ctx context.Context, agentID string, importanceBelow float64, createdBefore time.Time, limit int) (int, error) {
	rows, err := s.db.Query(ctx, `
		DELETE FROM emotional_memories
		WHERE id IN (
			SELECT id FROM emotional_memories
			WHERE agent_id = $1 AND importance < $2 AND created_at < $3 AND access_count = 0
			ORDER BY importance ASC LIMIT $4
		)
		RETURNING id`, agentID, importanceBelow, createdBefore, limit)
	if err != nil {
		return 0, fmt.Errorf("forget emotional for %s: %w", agentID, err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return 0, fmt.Errorf("forget emotional for %s: %w", agentID, err)
	}
	s.removeAssociationsFor(ctx, agentID, ids)
	s.unindex(ctx, ids)
	return len(ids), nil
}

// ArchiveEpisodic soft-archives stale low-importance memories by setting the
// metadata flag. Already-archived rows are skipped. Returns how many were
// newly archived.
func (s *Store) ArchiveEpisodic(ctx context.Context, agentID string, importanceBelow float64, createdBefore time.Time, limit int) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE episodic_memories SET metadata = metadata || '{"archived": true}'::jsonb
		WHERE id IN (
			SELECT id FROM episodic_memories
			WHERE agent_id = $1 AND importance < $2 AND created_at < $3
			  AND NOT COALESCE((metadata->>'archived')::boolean, FALSE)
			ORDER BY created_at ASC LIMIT $4
		)`, agentID, importanceBelow, createdBefore, limit)
	if err != nil {
		return 0, fmt.Errorf("archive episodic for %s: %w", agentID, err)
	}
	return int(tag.RowsAffected()), nil
}

// ListProceduralUsedSince returns skills exercised since the cutoff.
func (s *Store) ListProceduralUsedSince(ctx context.Context, agentID string, since time.Time, limit int) ([]*memory.Procedural, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+proceduralColumns+` FROM procedural_memories
		WHERE agent_id = $1 AND last_used >= $2
		ORDER BY last_used DESC LIMIT $3`, agentID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list used skills for %s: %w", agentID, err)
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

// ListProceduralRehearsable returns skills worth rehearsing: frequently used
// or with a strong success record.
func (s *Store) ListProceduralRehearsable(ctx context.Context, agentID string, minUsage int, minSuccessRate float64, limit int) ([]*memory.Procedural, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+proceduralColumns+` FROM procedural_memories
		WHERE agent_id = $1 AND (usage_frequency >= $2 OR success_rate >= $3)
		ORDER BY usage_frequency DESC LIMIT $4`, agentID, minUsage, minSuccessRate, limit)
	if err != nil {
		return nil, fmt.Errorf("list rehearsable skills for %s: %w", agentID, err)
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

// NudgeProficiency raises proficiency and tracks access for the given
// skills. Used by reflection refresh and rehearsal.
func (s *Store) NudgeProficiency(ctx context.Context, ids []string, delta float64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE procedural_memories SET
			proficiency = LEAST(1.0, proficiency + $2),
			accessed_at = NOW(),
			access_count = access_count + 1
		WHERE id = ANY($1)`, ids, delta)
	if err != nil {
		return 0, fmt.Errorf("nudge proficiency: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListEmotionalResolved returns emotional memories with a recorded
// resolution outcome, grouped later into coping-strategy patterns.
func (s *Store) ListEmotionalResolved(ctx context.Context, agentID string, limit int) ([]*memory.Emotional, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+emotionalColumns+` FROM emotional_memories
		WHERE agent_id = $1 AND resolution != '' AND coping_strategy != ''
		ORDER BY created_at DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list resolved emotional for %s: %w", agentID, err)
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

func collectIDs(rows interface {
	Next() bool
	Scan(...any) error
	Close()
	Err() error
}) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

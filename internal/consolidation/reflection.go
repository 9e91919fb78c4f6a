package consolidation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nidhogg/engram/internal/memory"
)

// reflectionPass is the light strategy: gentle decay of unaccessed episodic
// memories, a small boost for what was recently worth recalling, temporal
// linking of same-session events, and a proficiency refresh for skills used
// since the last pass.
func (e *Engine) reflectionPass(ctx context.Context, run *memory.Run) error {
	agentID := run.AgentID
	now := time.Now()

	weakened, err := e.store.DecayEpisodic(ctx, agentID,
		now.Add(-decayAge), reflectionDecayFactor, e.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("decay step: %w", err)
	}
	run.Weakened += weakened
	run.Processed += weakened

	boosted, err := e.store.StrengthenAccessedEpisodic(ctx, agentID,
		now.Add(-e.cfg.ReflectionInterval.Std()), strongImportance, strongIntensity,
		reflectionBoost, e.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("strengthen step: %w", err)
	}
	run.Strengthened += boosted
	run.Processed += boosted

	created, processed, err := e.linkTemporalPairs(ctx, agentID, now)
	if err != nil {
		return fmt.Errorf("temporal association step: %w", err)
	}
	run.NewAssociations += created
	run.Processed += processed

	refreshed, err := e.refreshSkills(ctx, agentID, now)
	if err != nil {
		return fmt.Errorf("skill refresh step: %w", err)
	}
	run.Strengthened += refreshed
	run.Processed += refreshed

	return nil
}

// linkTemporalPairs associates episodic memories from the same session that
// happened within the temporal window of each other and are not yet linked.
func (e *Engine) linkTemporalPairs(ctx context.Context, agentID string, now time.Time) (created, processed int, err error) {
	recent, err := e.store.ListEpisodicSince(ctx, agentID, now.Add(-decayAge), e.cfg.BatchLimit)
	if err != nil {
		return 0, 0, err
	}
	processed = len(recent)

	bySession := make(map[string][]*memory.Episodic)
	for _, m := range recent {
		bySession[m.SessionID] = append(bySession[m.SessionID], m)
	}

	for _, session := range bySession {
		sort.Slice(session, func(i, j int) bool {
			return session[i].CreatedAt.Before(session[j].CreatedAt)
		})
		for i := 0; i < len(session); i++ {
			for j := i + 1; j < len(session); j++ {
				if session[j].CreatedAt.Sub(session[i].CreatedAt) > temporalWindow {
					break
				}
				a := memory.Link(agentID,
					session[i].ID, memory.TypeEpisodic,
					session[j].ID, memory.TypeEpisodic,
					memory.AssocTemporal, temporalStrength)
				if e.linkIfMissing(ctx, a) {
					created++
				}
				if created >= e.cfg.BatchLimit {
					return created, processed, nil
				}
			}
		}
	}
	return created, processed, nil
}

func (e *Engine) refreshSkills(ctx context.Context, agentID string, now time.Time) (int, error) {
	skills, err := e.store.ListProceduralUsedSince(ctx, agentID, now.Add(-decayAge), e.cfg.BatchLimit)
	if err != nil {
		return 0, err
	}
	if len(skills) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(skills))
	for _, sk := range skills {
		ids = append(ids, sk.ID)
	}
	return e.store.NudgeProficiency(ctx, ids, reflectionRefresh)
}

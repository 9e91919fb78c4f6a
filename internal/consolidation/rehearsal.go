package consolidation

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/engram/internal/memory"
)

// rehearsalPass is the targeted strategy: deliberately re-activate recent
// important episodes, proven skills and intense emotional memories, and
// weave rehearsal links between the episodes that matter most.
func (e *Engine) rehearsalPass(ctx context.Context, run *memory.Run) error {
	agentID := run.AgentID
	now := time.Now()

	boosted, err := e.store.StrengthenRecentEpisodic(ctx, agentID,
		now.Add(-rehearsalWindow), rehearsalMinImportance, rehearsalBoost, e.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("episodic boost step: %w", err)
	}
	run.Strengthened += boosted
	run.Processed += boosted

	rehearsed, err := e.rehearseSkills(ctx, agentID)
	if err != nil {
		return fmt.Errorf("skill rehearsal step: %w", err)
	}
	run.Strengthened += rehearsed
	run.Processed += rehearsed

	boosted, err = e.store.StrengthenIntenseEmotional(ctx, agentID,
		rehearsalEmotionalMin, rehearsalEmotionalBoost, e.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("emotional boost step: %w", err)
	}
	run.Strengthened += boosted
	run.Processed += boosted

	created, processed, err := e.linkRehearsalPairs(ctx, agentID, now)
	if err != nil {
		return fmt.Errorf("rehearsal association step: %w", err)
	}
	run.NewAssociations += created
	run.Processed += processed

	return nil
}

// rehearseSkills nudges proficiency for frequently-used or high-success
// skills. Rehearsal counts as access, unlike other consolidation reads.
func (e *Engine) rehearseSkills(ctx context.Context, agentID string) (int, error) {
	skills, err := e.store.ListProceduralRehearsable(ctx, agentID,
		strongAccessCount, copingMinSuccess, e.cfg.BatchLimit)
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
	return e.store.NudgeProficiency(ctx, ids, rehearsalProficiency)
}

// linkRehearsalPairs creates rehearsal associations between unlinked pairs
// of same-day high-importance episodic memories.
func (e *Engine) linkRehearsalPairs(ctx context.Context, agentID string, now time.Time) (created, processed int, err error) {
	window, err := e.store.ListEpisodicSince(ctx, agentID, now.Add(-rehearsalWindow), e.cfg.BatchLimit)
	if err != nil {
		return 0, 0, err
	}
	var recent []*memory.Episodic
	for _, m := range window {
		if m.Importance >= rehearsalPairImportance {
			recent = append(recent, m)
		}
	}
	processed = len(recent)

	for i := 0; i < len(recent); i++ {
		for j := i + 1; j < len(recent); j++ {
			if !sameDay(recent[i].CreatedAt, recent[j].CreatedAt) {
				continue
			}
			a := memory.Link(agentID,
				recent[i].ID, memory.TypeEpisodic,
				recent[j].ID, memory.TypeEpisodic,
				memory.AssocRehearsal, rehearsalStrength)
			if e.linkIfMissing(ctx, a) {
				created++
			}
			if created >= e.cfg.BatchLimit {
				return created, processed, nil
			}
		}
	}
	return created, processed, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

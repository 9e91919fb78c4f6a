package consolidation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nidhogg/engram/internal/events"
	"github.com/nidhogg/engram/internal/memory"
)

// sleepPass is the deep strategy: harder decay across episodic and
// emotional collections, deep strengthening with a consolidation-level
// bump, cross-modal linking, episodic-to-semantic pattern extraction,
// forgetting, and coping-skill distillation.
func (e *Engine) sleepPass(ctx context.Context, run *memory.Run) error {
	agentID := run.AgentID
	now := time.Now()

	weakened, err := e.store.DecayEpisodic(ctx, agentID,
		now.Add(-decayAge), sleepDecayFactor, e.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("episodic decay step: %w", err)
	}
	run.Weakened += weakened
	run.Processed += weakened

	weakened, err = e.store.DecayEmotional(ctx, agentID,
		now.Add(-decayAge), sleepDecayFactor, e.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("emotional decay step: %w", err)
	}
	run.Weakened += weakened
	run.Processed += weakened

	boosted, err := e.store.DeepStrengthenEpisodic(ctx, agentID,
		strongImportance, strongAccessCount, strongIntensity, sleepBoost, e.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("strengthen step: %w", err)
	}
	run.Strengthened += boosted
	run.Processed += boosted

	created, processed, err := e.linkCrossModal(ctx, agentID, now)
	if err != nil {
		return fmt.Errorf("cross-modal step: %w", err)
	}
	run.NewAssociations += created
	run.Processed += processed

	extracted, err := e.extractPatterns(ctx, agentID)
	if err != nil {
		return fmt.Errorf("pattern extraction step: %w", err)
	}
	run.Processed += extracted

	forgotten, err := e.forget(ctx, agentID, now)
	if err != nil {
		return fmt.Errorf("forgetting step: %w", err)
	}
	run.Forgotten += forgotten
	run.Processed += forgotten

	distilled, err := e.distillCopingSkills(ctx, agentID)
	if err != nil {
		return fmt.Errorf("coping skill step: %w", err)
	}
	run.Processed += distilled

	return nil
}

// linkCrossModal links recent episodic memories to semantic concepts whose
// name appears in the episodic content or summary.
func (e *Engine) linkCrossModal(ctx context.Context, agentID string, now time.Time) (created, processed int, err error) {
	concepts, err := e.store.ListSemantic(ctx, agentID, e.cfg.BatchLimit)
	if err != nil {
		return 0, 0, err
	}
	if len(concepts) == 0 {
		return 0, 0, nil
	}
	episodes, err := e.store.ListEpisodicSince(ctx, agentID, now.Add(-decayAge), e.cfg.BatchLimit)
	if err != nil {
		return 0, 0, err
	}
	processed = len(episodes)

	for _, ep := range episodes {
		text := strings.ToLower(ep.Content + " " + ep.Summary)
		for _, c := range concepts {
			if c.Concept == "" || !strings.Contains(text, strings.ToLower(c.Concept)) {
				continue
			}
			a := memory.Link(agentID,
				ep.ID, memory.TypeEpisodic,
				c.ID, memory.TypeSemantic,
				memory.AssocSemantic, crossModalStrength)
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

// extractPatterns groups episodic memories carrying lessons by event type
// and distills each group of patternMinLessons or more into one derived
// semantic memory. Repeat extraction updates the concept in place,
// raising its confidence. Returns how many memories fed a pattern.
func (e *Engine) extractPatterns(ctx context.Context, agentID string) (int, error) {
	withLessons, err := e.store.ListEpisodicWithLessons(ctx, agentID, e.cfg.BatchLimit)
	if err != nil {
		return 0, err
	}

	byEvent := make(map[string][]*memory.Episodic)
	for _, m := range withLessons {
		byEvent[m.EventType] = append(byEvent[m.EventType], m)
	}

	processed := 0
	for eventType, group := range byEvent {
		if eventType == "" || len(group) < patternMinLessons {
			continue
		}
		processed += len(group)

		concept := "Pattern: " + eventType
		confidence := 0.5
		if existing, err := e.store.GetSemanticByConcept(ctx, agentID, concept); err == nil {
			confidence = existing.Confidence + 0.1
			if confidence > 1.0 {
				confidence = 1.0
			}
		}

		if _, err := e.store.StoreSemantic(ctx, &memory.Semantic{
			AgentID:    agentID,
			Concept:    concept,
			Definition: joinLessons(group),
			Category:   "pattern",
			Source:     "consolidation",
			Confidence: confidence,
			Importance: 0.6,
		}); err != nil {
			return processed, err
		}
	}
	return processed, nil
}

// joinLessons concatenates the distinct lessons of a group, oldest first,
// so a pattern definition is stable across repeated extraction.
func joinLessons(group []*memory.Episodic) string {
	sort.Slice(group, func(i, j int) bool {
		return group[i].CreatedAt.Before(group[j].CreatedAt)
	})
	seen := make(map[string]bool, len(group))
	var lessons []string
	for _, m := range group {
		if seen[m.LessonsLearned] {
			continue
		}
		seen[m.LessonsLearned] = true
		lessons = append(lessons, m.LessonsLearned)
	}
	return strings.Join(lessons, "; ")
}

func (e *Engine) forget(ctx context.Context, agentID string, now time.Time) (int, error) {
	cutoff := now.Add(-forgottenAge)
	forgotten, err := e.store.ForgetEpisodic(ctx, agentID, forgottenImportance, cutoff, e.cfg.BatchLimit)
	if err != nil {
		return 0, err
	}
	emotional, err := e.store.ForgetEmotional(ctx, agentID, forgottenImportance, cutoff, e.cfg.BatchLimit)
	if err != nil {
		return forgotten, err
	}
	total := forgotten + emotional
	if total > 0 {
		e.bus.Publish(ctx, &events.Event{
			AgentID: agentID,
			Kind:    events.KindMemoryForgotten,
			Detail:  map[string]any{"count": total},
		})
	}
	return total, nil
}

// distillCopingSkills groups resolved emotional memories by emotion type
// and coping strategy; any group seen copingMinCount times with a success
// rate above the threshold becomes (or refreshes) a procedural coping
// skill. Returns how many memories fed a skill.
func (e *Engine) distillCopingSkills(ctx context.Context, agentID string) (int, error) {
	resolved, err := e.store.ListEmotionalResolved(ctx, agentID, e.cfg.BatchLimit)
	if err != nil {
		return 0, err
	}

	type key struct{ emotion, strategy string }
	groups := make(map[key][]*memory.Emotional)
	for _, m := range resolved {
		groups[key{m.EmotionType, m.CopingStrategy}] = append(groups[key{m.EmotionType, m.CopingStrategy}], m)
	}

	processed := 0
	for k, group := range groups {
		if len(group) < copingMinCount {
			continue
		}
		successes := 0
		for _, m := range group {
			if resolutionSucceeded(m.Resolution) {
				successes++
			}
		}
		rate := float64(successes) / float64(len(group))
		if rate <= copingMinSuccess {
			continue
		}
		processed += len(group)

		if _, err := e.store.StoreProcedural(ctx, &memory.Procedural{
			AgentID:         agentID,
			SkillName:       "coping: " + k.emotion,
			SkillType:       "coping",
			Steps:           []string{k.strategy},
			Triggers:        []string{k.emotion},
			SuccessCriteria: "emotional intensity reduced after applying the strategy",
			Proficiency:     rate,
			SuccessRate:     rate,
			Importance:      0.6,
		}); err != nil {
			return processed, err
		}
	}
	return processed, nil
}

// resolutionSucceeded classifies a free-text resolution outcome. The field
// is open vocabulary; negated phrasing loses to the negation check first.
func resolutionSucceeded(resolution string) bool {
	r := strings.ToLower(resolution)
	for _, neg := range []string{"not ", "never ", "unresolved", "failed", "without success"} {
		if strings.Contains(r, neg) {
			return false
		}
	}
	for _, pos := range []string{"resolv", "success", "calm", "recover", "improv", "work"} {
		if strings.Contains(r, pos) {
			return true
		}
	}
	return false
}

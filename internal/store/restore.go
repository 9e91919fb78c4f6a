package store

import (
	"context"
	"fmt"

	"github.com/nidhogg/engram/internal/memory"
)

// Restore writes are the backup-import counterparts of the Store methods.
// They take every field verbatim from the exported row: timestamps, access
// counts, temporal context, derived physiology and a zero importance all
// survive the round trip instead of being restamped at write time. Without
// this a restored 100-day-old memory would look freshly created and never
// age past the lifecycle cutoffs again.

// RestoreEpisodic reinserts an exported episodic memory as-is. A row with
// the same id is overwritten with the backup's values.
func (s *Store) RestoreEpisodic(ctx context.Context, e *memory.Episodic) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO episodic_memories (
			id, agent_id, session_id, event_type, content, summary,
			participants, context, valence, intensity, lessons_learned,
			importance, tags, metadata, decay_factor, consolidation_level,
			access_count, created_at, accessed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			event_type = EXCLUDED.event_type,
			content = EXCLUDED.content,
			summary = EXCLUDED.summary,
			participants = EXCLUDED.participants,
			context = EXCLUDED.context,
			valence = EXCLUDED.valence,
			intensity = EXCLUDED.intensity,
			lessons_learned = EXCLUDED.lessons_learned,
			importance = EXCLUDED.importance,
			tags = EXCLUDED.tags,
			metadata = EXCLUDED.metadata,
			decay_factor = EXCLUDED.decay_factor,
			consolidation_level = EXCLUDED.consolidation_level,
			access_count = EXCLUDED.access_count,
			created_at = EXCLUDED.created_at,
			accessed_at = EXCLUDED.accessed_at`,
		e.ID, e.AgentID, e.SessionID, e.EventType, e.Content, e.Summary,
		marshalJSON(e.Participants, "[]"), marshalJSON(e.Context, "{}"),
		e.Valence, e.Intensity, e.LessonsLearned, clamp01(e.Importance),
		marshalJSON(e.Tags, "[]"), marshalJSON(e.Metadata, "{}"),
		e.DecayFactor, e.ConsolidationLevel, e.AccessCount, e.CreatedAt, e.AccessedAt)
	if err != nil {
		return fmt.Errorf("restore episodic %s for %s: %w", e.ID, e.AgentID, err)
	}
	s.touchAgent(ctx, e.AgentID)
	s.index(ctx, e.AgentID, e.ID, memory.TypeEpisodic, e.Content+" "+e.Summary)
	return nil
}

// RestoreSemantic reinserts an exported concept as-is. The per-agent concept
// uniqueness still holds: a concept already present is overwritten with the
// backup's values, original timestamps included.
func (s *Store) RestoreSemantic(ctx context.Context, m *memory.Semantic) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO semantic_memories (
			id, agent_id, concept, definition, category, subcategory,
			relationships, confidence, source, evidence, importance, tags,
			metadata, access_count, created_at, updated_at, accessed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (agent_id, concept) DO UPDATE SET
			definition = EXCLUDED.definition,
			category = EXCLUDED.category,
			subcategory = EXCLUDED.subcategory,
			relationships = EXCLUDED.relationships,
			confidence = EXCLUDED.confidence,
			source = EXCLUDED.source,
			evidence = EXCLUDED.evidence,
			importance = EXCLUDED.importance,
			tags = EXCLUDED.tags,
			metadata = EXCLUDED.metadata,
			access_count = EXCLUDED.access_count,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			accessed_at = EXCLUDED.accessed_at`,
		m.ID, m.AgentID, m.Concept, m.Definition, m.Category, m.Subcategory,
		marshalJSON(m.Relationships, "{}"), clamp01(m.Confidence), m.Source,
		m.Evidence, clamp01(m.Importance), marshalJSON(m.Tags, "[]"),
		marshalJSON(m.Metadata, "{}"), m.AccessCount, m.CreatedAt, m.UpdatedAt, m.AccessedAt)
	if err != nil {
		return fmt.Errorf("restore semantic %q for %s: %w", m.Concept, m.AgentID, err)
	}
	s.touchAgent(ctx, m.AgentID)
	s.index(ctx, m.AgentID, m.ID, memory.TypeSemantic, m.Concept+" "+m.Definition)
	return nil
}

// RestoreProcedural reinserts an exported skill as-is, usage history and
// all. A skill name already present is overwritten with the backup's values.
func (s *Store) RestoreProcedural(ctx context.Context, m *memory.Procedural) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO procedural_memories (
			id, agent_id, skill_name, skill_type, steps, triggers,
			success_criteria, proficiency, usage_frequency, success_rate,
			last_used, importance, tags, metadata, access_count, created_at, accessed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (agent_id, skill_name) DO UPDATE SET
			skill_type = EXCLUDED.skill_type,
			steps = EXCLUDED.steps,
			triggers = EXCLUDED.triggers,
			success_criteria = EXCLUDED.success_criteria,
			proficiency = EXCLUDED.proficiency,
			usage_frequency = EXCLUDED.usage_frequency,
			success_rate = EXCLUDED.success_rate,
			last_used = EXCLUDED.last_used,
			importance = EXCLUDED.importance,
			tags = EXCLUDED.tags,
			metadata = EXCLUDED.metadata,
			access_count = EXCLUDED.access_count,
			created_at = EXCLUDED.created_at,
			accessed_at = EXCLUDED.accessed_at`,
		m.ID, m.AgentID, m.SkillName, m.SkillType,
		marshalJSON(m.Steps, "[]"), marshalJSON(m.Triggers, "[]"),
		m.SuccessCriteria, clamp01(m.Proficiency), m.UsageFrequency,
		clamp01(m.SuccessRate), m.LastUsed, clamp01(m.Importance),
		marshalJSON(m.Tags, "[]"), marshalJSON(m.Metadata, "{}"),
		m.AccessCount, m.CreatedAt, m.AccessedAt)
	if err != nil {
		return fmt.Errorf("restore procedural %q for %s: %w", m.SkillName, m.AgentID, err)
	}
	s.touchAgent(ctx, m.AgentID)
	s.index(ctx, m.AgentID, m.ID, memory.TypeProcedural, m.SkillName+" "+m.SuccessCriteria)
	return nil
}

// RestoreEmotional reinserts an exported emotional memory as-is. The stored
// physiology vector is kept rather than re-derived.
func (s *Store) RestoreEmotional(ctx context.Context, m *memory.Emotional) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO emotional_memories (
			id, agent_id, trigger, emotion_type, valence, arousal, intensity,
			physiology, behavior, coping_strategy, resolution, importance,
			tags, metadata, access_count, created_at, accessed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			trigger = EXCLUDED.trigger,
			emotion_type = EXCLUDED.emotion_type,
			valence = EXCLUDED.valence,
			arousal = EXCLUDED.arousal,
			intensity = EXCLUDED.intensity,
			physiology = EXCLUDED.physiology,
			behavior = EXCLUDED.behavior,
			coping_strategy = EXCLUDED.coping_strategy,
			resolution = EXCLUDED.resolution,
			importance = EXCLUDED.importance,
			tags = EXCLUDED.tags,
			metadata = EXCLUDED.metadata,
			access_count = EXCLUDED.access_count,
			created_at = EXCLUDED.created_at,
			accessed_at = EXCLUDED.accessed_at`,
		m.ID, m.AgentID, m.Trigger, m.EmotionType, m.Valence, m.Arousal,
		clamp01(m.Intensity), marshalJSON(m.Physiology, "{}"), m.Behavior,
		m.CopingStrategy, m.Resolution, clamp01(m.Importance),
		marshalJSON(m.Tags, "[]"), marshalJSON(m.Metadata, "{}"),
		m.AccessCount, m.CreatedAt, m.AccessedAt)
	if err != nil {
		return fmt.Errorf("restore emotional %s for %s: %w", m.ID, m.AgentID, err)
	}
	s.touchAgent(ctx, m.AgentID)
	s.index(ctx, m.AgentID, m.ID, memory.TypeEmotional, m.Trigger+" "+m.Behavior)
	return nil
}

// RestoreWorking reinserts an exported working-memory item as-is. The
// session capacity budget still binds: an item that no longer fits is
// rejected with ErrCapacityExceeded instead of evicting live rows.
func (s *Store) RestoreWorking(ctx context.Context, w *memory.Working) error {
	used, err := s.WorkingLoad(ctx, w.AgentID, w.SessionID)
	if err != nil {
		return fmt.Errorf("restore working %s for %s: %w", w.ID, w.AgentID, err)
	}
	if used+w.Weight > s.cfg.WorkingCapacity {
		return fmt.Errorf("restore item weight %.2f vs remaining capacity %.2f: %w",
			w.Weight, s.cfg.WorkingCapacity-used, ErrCapacityExceeded)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO working_memory (
			id, agent_id, session_id, content_type, content, priority, weight,
			activation, source_id, source_type, expires_at, access_count,
			created_at, accessed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			content_type = EXCLUDED.content_type,
			content = EXCLUDED.content,
			priority = EXCLUDED.priority,
			weight = EXCLUDED.weight,
			activation = EXCLUDED.activation,
			source_id = EXCLUDED.source_id,
			source_type = EXCLUDED.source_type,
			expires_at = EXCLUDED.expires_at,
			access_count = EXCLUDED.access_count,
			created_at = EXCLUDED.created_at,
			accessed_at = EXCLUDED.accessed_at`,
		w.ID, w.AgentID, w.SessionID, w.ContentType, w.Content,
		clamp01(w.Priority), w.Weight, clamp01(w.Activation),
		nullableID(w.SourceID), string(w.SourceType), w.ExpiresAt,
		w.AccessCount, w.CreatedAt, w.AccessedAt)
	if err != nil {
		return fmt.Errorf("restore working %s for %s: %w", w.ID, w.AgentID, err)
	}
	s.touchAgent(ctx, w.AgentID)
	return nil
}

// RestoreAssociation reinserts an exported link as-is: strength,
// reinforcement count and the last-reinforced timestamp come from the
// backup instead of the reinforcement rule.
func (s *Store) RestoreAssociation(ctx context.Context, a *memory.Association) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO memory_associations (
			id, agent_id, memory1_id, memory1_type, memory2_id, memory2_type,
			association_type, strength, bidirectional, reinforcement_count,
			last_reinforced, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (agent_id, memory1_id, memory1_type, memory2_id, memory2_type)
		DO UPDATE SET
			association_type = EXCLUDED.association_type,
			strength = EXCLUDED.strength,
			bidirectional = EXCLUDED.bidirectional,
			reinforcement_count = EXCLUDED.reinforcement_count,
			last_reinforced = EXCLUDED.last_reinforced`,
		a.ID, a.AgentID, a.Memory1ID, string(a.Memory1Type),
		a.Memory2ID, string(a.Memory2Type), a.AssocType, clamp01(a.Strength),
		a.Bidirectional, a.Reinforcements, a.LastReinforced, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("restore association %s->%s for %s: %w",
			a.Memory1ID, a.Memory2ID, a.AgentID, err)
	}
	return nil
}

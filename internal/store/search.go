package store

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/engram/internal/memory"
)

// SearchQuery drives cross-type search.
type SearchQuery struct {
	AgentID      string
	Term         string
	ExcludeTypes []memory.Type
	Limit        int
}

// Search fans out to every non-excluded collection's substring search, tags
// each hit with its source type, and merges the global top-K by
// importance-weighted recency. A query matching nothing returns an empty
// slice, not an error.
func (s *Store) Search(ctx context.Context, q SearchQuery) ([]*memory.SearchHit, error) {
	if q.Limit <= 0 {
		q.Limit = s.cfg.SearchLimit
	}
	excluded := make(map[memory.Type]bool, len(q.ExcludeTypes))
	for _, t := range q.ExcludeTypes {
		excluded[t] = true
	}
	now := time.Now()

	var hits []*memory.SearchHit

	if !excluded[memory.TypeEpisodic] {
		items, err := s.RetrieveEpisodic(ctx, EpisodicQuery{
			AgentID: q.AgentID, Contains: q.Term, Limit: q.Limit,
		})
		if err != nil {
			return nil, err
		}
		for _, e := range items {
			hits = append(hits, &memory.SearchHit{
				MemoryID: e.ID, MemoryType: memory.TypeEpisodic,
				Content: e.Content, Importance: e.Importance,
				Relevance: memory.Relevance(e.Importance, e.CreatedAt, now),
				CreatedAt: e.CreatedAt,
			})
		}
	}

	if !excluded[memory.TypeSemantic] {
		items, err := s.RetrieveSemantic(ctx, SemanticQuery{
			AgentID: q.AgentID, Contains: q.Term, Limit: q.Limit,
		})
		if err != nil {
			return nil, err
		}
		for _, m := range items {
			hits = append(hits, &memory.SearchHit{
				MemoryID: m.ID, MemoryType: memory.TypeSemantic,
				Content: m.Concept + ": " + m.Definition, Importance: m.Importance,
				Relevance: memory.Relevance(m.Importance, m.CreatedAt, now),
				CreatedAt: m.CreatedAt,
			})
		}
	}

	if !excluded[memory.TypeProcedural] {
		items, err := s.RetrieveProcedural(ctx, ProceduralQuery{
			AgentID: q.AgentID, Contains: q.Term, Limit: q.Limit,
		})
		if err != nil {
			return nil, err
		}
		for _, m := range items {
			hits = append(hits, &memory.SearchHit{
				MemoryID: m.ID, MemoryType: memory.TypeProcedural,
				Content: m.SkillName, Importance: m.Importance,
				Relevance: memory.Relevance(m.Importance, m.CreatedAt, now),
				CreatedAt: m.CreatedAt,
			})
		}
	}

	if !excluded[memory.TypeEmotional] {
		items, err := s.RetrieveEmotional(ctx, EmotionalQuery{
			AgentID: q.AgentID, Contains: q.Term, Limit: q.Limit,
		})
		if err != nil {
			return nil, err
		}
		for _, m := range items {
			hits = append(hits, &memory.SearchHit{
				MemoryID: m.ID, MemoryType: memory.TypeEmotional,
				Content: m.Trigger, Importance: m.Importance,
				Relevance: memory.Relevance(m.Importance, m.CreatedAt, now),
				CreatedAt: m.CreatedAt,
			})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Relevance > hits[j].Relevance
	})
	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}

	s.logger.Debug("cross-type search",
		zap.String("agent", q.AgentID),
		zap.String("term", q.Term),
		zap.Int("hits", len(hits)))
	return hits, nil
}

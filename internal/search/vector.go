package search

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nidhogg/engram/internal/embedding"
	"github.com/nidhogg/engram/internal/memory"
	"github.com/nidhogg/engram/internal/store"
	"github.com/nidhogg/engram/internal/vectorstore"
)

// DefaultCollection is the Qdrant collection shared by all memory types.
const DefaultCollection = "engram_memories"

// VectorIndex pairs an embedding provider with a Qdrant collection. It
// implements store.Indexer for write-path indexing and Searcher for
// similarity recall.
type VectorIndex struct {
	client     *vectorstore.Client
	provider   embedding.Provider
	store      *store.Store
	collection string
	logger     *zap.Logger
}

// NewVectorIndex ensures the collection exists and returns the index.
func NewVectorIndex(ctx context.Context, client *vectorstore.Client, provider embedding.Provider, st *store.Store, logger *zap.Logger) (*VectorIndex, error) {
	if err := client.EnsureCollection(ctx, DefaultCollection, uint64(provider.Dimension())); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return &VectorIndex{
		client:     client,
		provider:   provider,
		store:      st,
		collection: DefaultCollection,
		logger:     logger,
	}, nil
}

// Index embeds one memory's text and upserts its point. Satisfies
// store.Indexer; the store treats failures here as non-fatal.
func (v *VectorIndex) Index(ctx context.Context, agentID, memoryID string, memType memory.Type, text string) error {
	vectors, err := v.provider.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embed memory %s: %w", memoryID, err)
	}
	if len(vectors) == 0 {
		return nil
	}
	return v.client.Upsert(ctx, v.collection, agentID, memoryID, string(memType), vectors[0])
}

// Remove drops points for forgotten memories. Best effort: a degraded
// vector layer only means stale points linger until the next reindex.
func (v *VectorIndex) Remove(ctx context.Context, memoryIDs []string) {
	if err := v.client.Delete(ctx, v.collection, memoryIDs); err != nil {
		v.logger.Warn("vector cleanup skipped",
			zap.Int("points", len(memoryIDs)), zap.Error(err))
	}
}

// RemoveAgent drops every point for one agent.
func (v *VectorIndex) RemoveAgent(ctx context.Context, agentID string) {
	if err := v.client.DeleteAgent(ctx, v.collection, agentID); err != nil {
		v.logger.Warn("vector agent cleanup skipped",
			zap.String("agent", agentID), zap.Error(err))
	}
}

// Search embeds the query term, runs nearest-neighbor recall scoped to the
// agent, and hydrates each hit from the row store. Points whose backing row
// has since been deleted are dropped silently.
func (v *VectorIndex) Search(ctx context.Context, q Query) ([]*memory.SearchHit, error) {
	vectors, err := v.provider.Embed(ctx, []string{q.Term})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	types := includedTypes(q.ExcludeTypes)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	results, err := v.client.Search(ctx, v.collection, q.AgentID, vectors[0], types, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	hits := make([]*memory.SearchHit, 0, len(results))
	for _, r := range results {
		hit, err := v.hydrate(ctx, q.AgentID, r)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		hit.Relevance = float64(r.Score)
		hits = append(hits, hit)
	}
	return hits, nil
}

func (v *VectorIndex) hydrate(ctx context.Context, agentID string, r *vectorstore.SearchResult) (*memory.SearchHit, error) {
	switch memory.Type(r.MemoryType) {
	case memory.TypeEpisodic:
		e, err := v.store.GetEpisodic(ctx, agentID, r.MemoryID)
		if err != nil {
			return nil, err
		}
		return &memory.SearchHit{
			MemoryID: e.ID, MemoryType: memory.TypeEpisodic,
			Content: e.Content, Importance: e.Importance, CreatedAt: e.CreatedAt,
		}, nil
	case memory.TypeSemantic:
		m, err := v.store.GetSemantic(ctx, agentID, r.MemoryID)
		if err != nil {
			return nil, err
		}
		return &memory.SearchHit{
			MemoryID: m.ID, MemoryType: memory.TypeSemantic,
			Content: m.Concept + ": " + m.Definition, Importance: m.Importance, CreatedAt: m.CreatedAt,
		}, nil
	case memory.TypeProcedural:
		m, err := v.store.GetProceduralByID(ctx, agentID, r.MemoryID)
		if err != nil {
			return nil, err
		}
		return &memory.SearchHit{
			MemoryID: m.ID, MemoryType: memory.TypeProcedural,
			Content: m.SkillName, Importance: m.Importance, CreatedAt: m.CreatedAt,
		}, nil
	case memory.TypeEmotional:
		m, err := v.store.GetEmotional(ctx, agentID, r.MemoryID)
		if err != nil {
			return nil, err
		}
		return &memory.SearchHit{
			MemoryID: m.ID, MemoryType: memory.TypeEmotional,
			Content: m.Trigger, Importance: m.Importance, CreatedAt: m.CreatedAt,
		}, nil
	default:
		return nil, store.ErrNotFound
	}
}

func includedTypes(excluded []memory.Type) []string {
	skip := make(map[memory.Type]bool, len(excluded))
	for _, t := range excluded {
		skip[t] = true
	}
	all := []memory.Type{
		memory.TypeEpisodic, memory.TypeSemantic,
		memory.TypeProcedural, memory.TypeEmotional,
	}
	var types []string
	for _, t := range all {
		if !skip[t] {
			types = append(types, string(t))
		}
	}
	if len(types) == len(all) {
		return nil // no filter needed
	}
	return types
}

// Package search layers free-text recall over the memory store. The default
// searcher is the store's own substring scan; when an embedding provider and
// a Qdrant instance are configured, a vector searcher replaces it and new
// memories are indexed as they are written.
package search

import (
	"context"

	"github.com/nidhogg/engram/internal/memory"
	"github.com/nidhogg/engram/internal/store"
)

// Query is a cross-type search request.
type Query struct {
	AgentID      string
	Term         string
	ExcludeTypes []memory.Type
	Limit        int
}

// Searcher answers free-text queries over an agent's memories.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]*memory.SearchHit, error)
}

// SubstringSearcher is the zero-dependency default, backed by the store's
// ILIKE scan over every collection.
type SubstringSearcher struct {
	store *store.Store
}

func NewSubstringSearcher(s *store.Store) *SubstringSearcher {
	return &SubstringSearcher{store: s}
}

func (s *SubstringSearcher) Search(ctx context.Context, q Query) ([]*memory.SearchHit, error) {
	return s.store.Search(ctx, store.SearchQuery{
		AgentID:      q.AgentID,
		Term:         q.Term,
		ExcludeTypes: q.ExcludeTypes,
		Limit:        q.Limit,
	})
}

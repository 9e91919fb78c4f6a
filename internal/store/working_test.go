package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nidhogg/engram/internal/memory"
)

func storeWorking(t *testing.T, agentID, sessionID, content string, priority, weight float64) string {
	t.Helper()
	id, err := testStore.StoreWorking(context.Background(), &memory.Working{
		AgentID:     agentID,
		SessionID:   sessionID,
		ContentType: "note",
		Content:     content,
		Priority:    priority,
		Weight:      weight,
	})
	if err != nil {
		t.Fatalf("store working %q: %v", content, err)
	}
	return id
}

func TestWorkingCapacityEviction(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	// Capacity is 7.0. Three items of weight 3 cannot coexist; the lowest
	// priority one must go.
	low := storeWorking(t, agentID, "s1", "low priority fact", 0.1, 3)
	storeWorking(t, agentID, "s1", "high priority fact", 0.9, 3)
	storeWorking(t, agentID, "s1", "new medium fact", 0.5, 3)

	live, err := testStore.RetrieveWorking(ctx, agentID, "s1", 10)
	if err != nil {
		t.Fatalf("retrieve working: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("working set has %d items, want 2", len(live))
	}
	for _, w := range live {
		if w.ID == low {
			t.Error("lowest priority item survived eviction")
		}
	}

	load, err := testStore.WorkingLoad(ctx, agentID, "s1")
	if err != nil {
		t.Fatalf("working load: %v", err)
	}
	if load > 7.0 {
		t.Errorf("load %f exceeds capacity", load)
	}
}

func TestWorkingOversizedItemRejected(t *testing.T) {
	agentID := newAgentID()

	_, err := testStore.StoreWorking(context.Background(), &memory.Working{
		AgentID: agentID, SessionID: "s1", Content: "too big", Weight: 8,
	})
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("oversized item: err = %v, want ErrCapacityExceeded", err)
	}
}

func TestWorkingExpiry(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	_, err := testStore.StoreWorking(ctx, &memory.Working{
		AgentID:   agentID,
		SessionID: "s1",
		Content:   "already stale",
		Weight:    6,
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("store expired item: %v", err)
	}

	// An expired item never counts against the budget: a full-weight
	// follow-up fits without eviction.
	storeWorking(t, agentID, "s1", "fresh context", 0.5, 7)

	live, err := testStore.RetrieveWorking(ctx, agentID, "s1", 10)
	if err != nil {
		t.Fatalf("retrieve working: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("working set has %d items, want 1", len(live))
	}
	if live[0].Content != "fresh context" {
		t.Errorf("surviving item = %q", live[0].Content)
	}
}

func TestWorkingDefaultWeightAndTTL(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	w := &memory.Working{AgentID: agentID, SessionID: "s1", Content: "defaults"}
	if _, err := testStore.StoreWorking(ctx, w); err != nil {
		t.Fatalf("store working: %v", err)
	}
	if w.Weight != 1.0 {
		t.Errorf("default weight = %f, want 1.0", w.Weight)
	}
	if w.ExpiresAt.Before(time.Now().Add(50 * time.Minute)) {
		t.Errorf("default expiry %v sooner than the configured TTL", w.ExpiresAt)
	}
}

func TestWorkingRetrieveOrdering(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	storeWorking(t, agentID, "s1", "background detail", 0.2, 1)
	storeWorking(t, agentID, "s1", "current goal", 0.9, 1)
	storeWorking(t, agentID, "s1", "recent observation", 0.5, 1)

	live, err := testStore.RetrieveWorking(ctx, agentID, "s1", 10)
	if err != nil {
		t.Fatalf("retrieve working: %v", err)
	}
	if len(live) != 3 {
		t.Fatalf("working set has %d items, want 3", len(live))
	}
	if live[0].Content != "current goal" {
		t.Errorf("first item = %q, want highest priority", live[0].Content)
	}
}

func TestWorkingDelete(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	id := storeWorking(t, agentID, "s1", "scratch note", 0.5, 1)
	keep := storeWorking(t, agentID, "s1", "still needed", 0.5, 1)

	if err := testStore.DeleteWorking(ctx, agentID, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	live, err := testStore.RetrieveWorking(ctx, agentID, "s1", 0)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(live) != 1 || live[0].ID != keep {
		t.Errorf("working set after delete = %+v, want only the kept item", live)
	}

	if err := testStore.DeleteWorking(ctx, agentID, id); err != ErrNotFound {
		t.Errorf("double delete: err = %v, want ErrNotFound", err)
	}
}

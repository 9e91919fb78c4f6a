package events

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/engram/internal/memory"
)

var testBus *Bus

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "skipping events tests, no container runtime: %v\n", err)
		os.Exit(0)
	}
	defer container.Terminate(ctx)

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis endpoint: %v\n", err)
		os.Exit(1)
	}

	testBus, err = NewBus("redis://"+endpoint, zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "bus: %v\n", err)
		os.Exit(1)
	}
	defer testBus.Close()

	os.Exit(m.Run())
}

func TestPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	agentID := "agent-events-rt"
	ch := testBus.Subscribe(ctx, agentID)

	// XRead with "$" only sees entries added after the read begins; give
	// the subscriber a moment to attach.
	time.Sleep(200 * time.Millisecond)

	testBus.Publish(ctx, &Event{
		AgentID:    agentID,
		Kind:       KindMemoryStored,
		MemoryID:   "mem-1",
		MemoryType: "episodic",
	})

	select {
	case ev := <-ch:
		if ev.Kind != KindMemoryStored {
			t.Errorf("kind = %s, want %s", ev.Kind, KindMemoryStored)
		}
		if ev.MemoryID != "mem-1" {
			t.Errorf("memory id = %s", ev.MemoryID)
		}
		if ev.ID == "" || ev.Timestamp.IsZero() {
			t.Error("id or timestamp not filled in")
		}
	case <-ctx.Done():
		t.Fatal("no event received before timeout")
	}
}

func TestPublishIsolatedPerAgent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := testBus.Subscribe(ctx, "agent-a")
	time.Sleep(200 * time.Millisecond)

	testBus.Publish(ctx, &Event{AgentID: "agent-b", Kind: KindMemoryForgotten})

	select {
	case ev := <-ch:
		if ev != nil {
			t.Errorf("agent-a received agent-b's event: %+v", ev)
		}
	case <-time.After(time.Second):
		// expected: nothing crosses streams
	}
}

func TestNilBusIsSafe(t *testing.T) {
	var b *Bus
	b.Publish(context.Background(), &Event{AgentID: "x", Kind: KindMemoryStored})
	b.MemoryStored(context.Background(), "x", "mem-1", memory.TypeEpisodic)
	if err := b.Close(); err != nil {
		t.Errorf("nil close: %v", err)
	}

	ch := b.Subscribe(context.Background(), "x")
	if _, open := <-ch; open {
		t.Error("nil bus subscription should be closed immediately")
	}
}

func TestMemoryStoredHook(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	agentID := "agent-stored-hook"
	ch := testBus.Subscribe(ctx, agentID)
	time.Sleep(200 * time.Millisecond)

	testBus.MemoryStored(ctx, agentID, "mem-42", memory.TypeSemantic)

	select {
	case ev := <-ch:
		if ev.Kind != KindMemoryStored {
			t.Errorf("kind = %s, want %s", ev.Kind, KindMemoryStored)
		}
		if ev.MemoryID != "mem-42" || ev.MemoryType != "semantic" {
			t.Errorf("event = %+v, want memory id and type carried through", ev)
		}
	case <-ctx.Done():
		t.Fatal("no event received before timeout")
	}
}

// Package events publishes memory lifecycle notifications over Redis
// Streams, one stream per agent. Consumers (dashboards, downstream agents)
// subscribe to react to consolidation and forgetting as they happen.
// Publishing is always best effort: a nil or degraded bus never fails the
// operation that produced the event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/engram/internal/memory"
)

// Event kinds emitted by the memory system.
const (
	KindMemoryStored           = "memory.stored"
	KindMemoryForgotten        = "memory.forgotten"
	KindMemoryArchived         = "memory.archived"
	KindConsolidationCompleted = "consolidation.completed"
	KindConsolidationFailed    = "consolidation.failed"
	KindLifecycleSwept         = "lifecycle.swept"
)

const streamPrefix = "engram:events:"

// Event is one memory lifecycle notification.
type Event struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id"`
	Kind       string         `json:"kind"`
	MemoryID   string         `json:"memory_id,omitempty"`
	MemoryType string         `json:"memory_type,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Bus is a Redis Streams publisher. A nil *Bus is valid and drops
// everything, so callers never need to branch on whether eventing is
// configured.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewBus connects to Redis and verifies the connection.
func NewBus(redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{rdb: rdb, logger: logger}, nil
}

// Publish appends one event to the agent's stream. Failures are logged,
// never returned: eventing is a secondary write.
func (b *Bus) Publish(ctx context.Context, ev *Event) {
	if b == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("event encoding failed", zap.String("kind", ev.Kind), zap.Error(err))
		return
	}

	stream := streamPrefix + ev.AgentID
	err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
	if err != nil {
		b.logger.Warn("event publish skipped",
			zap.String("stream", stream),
			zap.String("kind", ev.Kind),
			zap.Error(err))
		return
	}

	b.logger.Debug("event published",
		zap.String("agent", ev.AgentID),
		zap.String("kind", ev.Kind))
}

// MemoryStored announces a freshly written memory. This is the store's
// notifier hook, so every write through the normal store paths lands on
// the agent's stream.
func (b *Bus) MemoryStored(ctx context.Context, agentID, memoryID string, memType memory.Type) {
	b.Publish(ctx, &Event{
		AgentID:    agentID,
		Kind:       KindMemoryStored,
		MemoryID:   memoryID,
		MemoryType: string(memType),
	})
}

// Subscribe listens for one agent's events. Returns a channel that emits
// events until the context is cancelled.
func (b *Bus) Subscribe(ctx context.Context, agentID string) <-chan *Event {
	ch := make(chan *Event, 16)
	if b == nil {
		close(ch)
		return ch
	}
	stream := streamPrefix + agentID

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()
			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev Event
					if json.Unmarshal([]byte(data), &ev) == nil {
						ch <- &ev
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	return b.rdb.Close()
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/engram/internal/lifecycle"
	"github.com/nidhogg/engram/internal/memory"
)

type fakeBackend struct {
	mu       sync.Mutex
	agents   []string
	reflects map[string]int
	sleeps   map[string]int
	sweeps   map[string]int
	failFor  string
}

func newFakeBackend(agents ...string) *fakeBackend {
	return &fakeBackend{
		agents:   agents,
		reflects: make(map[string]int),
		sleeps:   make(map[string]int),
		sweeps:   make(map[string]int),
	}
}

func (f *fakeBackend) ListActiveAgents(context.Context, time.Duration) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.agents...), nil
}

func (f *fakeBackend) Reflect(_ context.Context, agentID string) (*memory.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reflects[agentID]++
	if agentID == f.failFor {
		return nil, errors.New("induced failure")
	}
	return &memory.Run{AgentID: agentID}, nil
}

func (f *fakeBackend) Sleep(_ context.Context, agentID string) (*memory.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps[agentID]++
	return &memory.Run{AgentID: agentID}, nil
}

func (f *fakeBackend) Sweep(_ context.Context, agentID string) (*lifecycle.SweepReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps[agentID]++
	return &lifecycle.SweepReport{AgentID: agentID}, nil
}

func (f *fakeBackend) count(m map[string]int, agentID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return m[agentID]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestReflectionCadence(t *testing.T) {
	backend := newFakeBackend("a1", "a2")
	svc := New(backend, backend, backend, Config{
		ReflectionInterval: 20 * time.Millisecond,
		SleepHourUTC:       3,
	}, zap.NewNop())

	svc.Start()
	defer svc.Stop()

	waitFor(t, func() bool {
		return backend.count(backend.reflects, "a1") >= 2 &&
			backend.count(backend.reflects, "a2") >= 2
	})
	if got := backend.count(backend.sweeps, "a1"); got != 0 {
		t.Errorf("sweeps ran %d times with no sweep interval", got)
	}
}

func TestOneAgentFailureDoesNotStopOthers(t *testing.T) {
	backend := newFakeBackend("bad", "good")
	backend.failFor = "bad"
	svc := New(backend, backend, backend, Config{
		ReflectionInterval: 20 * time.Millisecond,
		SleepHourUTC:       3,
	}, zap.NewNop())

	svc.Start()
	defer svc.Stop()

	// "bad" sorts before "good" in the agent list, so reaching "good"
	// proves the pass continued past the failure.
	waitFor(t, func() bool {
		return backend.count(backend.reflects, "good") >= 2
	})
}

func TestSweepCadence(t *testing.T) {
	backend := newFakeBackend("a1")
	svc := New(backend, backend, backend, Config{
		SweepInterval: 20 * time.Millisecond,
		SleepHourUTC:  3,
	}, zap.NewNop())

	svc.Start()
	defer svc.Stop()

	waitFor(t, func() bool {
		return backend.count(backend.sweeps, "a1") >= 2
	})
	if got := backend.count(backend.reflects, "a1"); got != 0 {
		t.Errorf("reflections ran %d times with no reflection interval", got)
	}
}

func TestStopIsDeterministic(t *testing.T) {
	backend := newFakeBackend("a1")
	svc := New(backend, backend, backend, Config{
		ReflectionInterval: 10 * time.Millisecond,
		SleepHourUTC:       3,
	}, zap.NewNop())

	svc.Start()
	waitFor(t, func() bool { return backend.count(backend.reflects, "a1") >= 1 })
	svc.Stop()

	settled := backend.count(backend.reflects, "a1")
	time.Sleep(50 * time.Millisecond)
	if got := backend.count(backend.reflects, "a1"); got != settled {
		t.Errorf("passes kept running after Stop: %d -> %d", settled, got)
	}

	// Stop twice is safe, Start after Stop works again.
	svc.Stop()
	svc.Start()
	waitFor(t, func() bool { return backend.count(backend.reflects, "a1") > settled })
	svc.Stop()
}

func TestUntilNextHour(t *testing.T) {
	cases := []struct {
		now  time.Time
		hour int
		want time.Duration
	}{
		{time.Date(2026, 1, 10, 1, 0, 0, 0, time.UTC), 3, 2 * time.Hour},
		{time.Date(2026, 1, 10, 3, 0, 0, 0, time.UTC), 3, 24 * time.Hour},
		{time.Date(2026, 1, 10, 23, 30, 0, 0, time.UTC), 3, 3*time.Hour + 30*time.Minute},
	}
	for _, tc := range cases {
		if got := untilNextHour(tc.now, tc.hour); got != tc.want {
			t.Errorf("untilNextHour(%v, %d) = %v, want %v", tc.now, tc.hour, got, tc.want)
		}
	}
}

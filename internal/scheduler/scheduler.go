// Package scheduler drives the background cadence of the memory system:
// reflection on a fixed interval, sleep consolidation once a day at a fixed
// UTC hour, and the lifecycle sweep on its own interval. Each pass iterates
// the agents active within the configured window; one agent failing never
// stops the pass for the others.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/engram/internal/lifecycle"
	"github.com/nidhogg/engram/internal/memory"
)

// Consolidator runs consolidation passes for one agent.
type Consolidator interface {
	Reflect(ctx context.Context, agentID string) (*memory.Run, error)
	Sleep(ctx context.Context, agentID string) (*memory.Run, error)
}

// Sweeper runs the lifecycle sweep for one agent.
type Sweeper interface {
	Sweep(ctx context.Context, agentID string) (*lifecycle.SweepReport, error)
}

// AgentLister enumerates agents with recent activity.
type AgentLister interface {
	ListActiveAgents(ctx context.Context, window time.Duration) ([]string, error)
}

// Config carries the cadence. Zero intervals disable the matching loop.
type Config struct {
	ReflectionInterval time.Duration
	SleepHourUTC       int
	SweepInterval      time.Duration
	ActiveAgentWindow  time.Duration
}

// Service owns the background loops. Start launches them, Stop cancels and
// waits for any in-flight pass to finish.
type Service struct {
	agents       AgentLister
	consolidator Consolidator
	sweeper      Sweeper
	cfg          Config
	logger       *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(agents AgentLister, consolidator Consolidator, sweeper Sweeper, cfg Config, logger *zap.Logger) *Service {
	if cfg.ActiveAgentWindow <= 0 {
		cfg.ActiveAgentWindow = 7 * 24 * time.Hour
	}
	return &Service{
		agents:       agents,
		consolidator: consolidator,
		sweeper:      sweeper,
		cfg:          cfg,
		logger:       logger,
	}
}

// Start launches the background loops. Calling Start on a running service
// is a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.cfg.ReflectionInterval > 0 {
		s.wg.Add(1)
		go s.intervalLoop(ctx, "reflection", s.cfg.ReflectionInterval, s.reflectAll)
	}
	s.wg.Add(1)
	go s.sleepLoop(ctx)
	if s.cfg.SweepInterval > 0 && s.sweeper != nil {
		s.wg.Add(1)
		go s.intervalLoop(ctx, "sweep", s.cfg.SweepInterval, s.sweepAll)
	}
	s.logger.Info("scheduler started",
		zap.Duration("reflection_interval", s.cfg.ReflectionInterval),
		zap.Int("sleep_hour_utc", s.cfg.SleepHourUTC),
		zap.Duration("sweep_interval", s.cfg.SweepInterval))
}

// Stop cancels the loops and blocks until in-flight passes return.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Service) intervalLoop(ctx context.Context, name string, interval time.Duration, pass func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pass(ctx)
		}
	}
}

func (s *Service) sleepLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		wait := untilNextHour(time.Now().UTC(), s.cfg.SleepHourUTC)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.sleepAll(ctx)
		}
	}
}

// untilNextHour returns the wait until the next occurrence of the given UTC
// hour, always in the future so a pass never runs twice in one day.
func untilNextHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

func (s *Service) reflectAll(ctx context.Context) {
	s.forEachAgent(ctx, "reflection", func(ctx context.Context, agentID string) error {
		_, err := s.consolidator.Reflect(ctx, agentID)
		return err
	})
}

func (s *Service) sleepAll(ctx context.Context) {
	s.forEachAgent(ctx, "sleep", func(ctx context.Context, agentID string) error {
		_, err := s.consolidator.Sleep(ctx, agentID)
		return err
	})
}

func (s *Service) sweepAll(ctx context.Context) {
	s.forEachAgent(ctx, "sweep", func(ctx context.Context, agentID string) error {
		_, err := s.sweeper.Sweep(ctx, agentID)
		return err
	})
}

func (s *Service) forEachAgent(ctx context.Context, name string, pass func(context.Context, string) error) {
	agents, err := s.agents.ListActiveAgents(ctx, s.cfg.ActiveAgentWindow)
	if err != nil {
		s.logger.Error("scheduled pass aborted, agent listing failed",
			zap.String("pass", name), zap.Error(err))
		return
	}
	for _, agentID := range agents {
		if ctx.Err() != nil {
			return
		}
		if err := pass(ctx, agentID); err != nil {
			s.logger.Error("scheduled pass failed for agent",
				zap.String("pass", name),
				zap.String("agent", agentID),
				zap.Error(err))
		}
	}
}

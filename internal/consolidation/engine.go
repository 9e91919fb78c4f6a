// Package consolidation implements the batch passes that reshape an agent's
// memory over time: reflection (light, frequent), sleep (deep, daily) and
// rehearsal (targeted, on demand). Every pass runs under a persistent run
// record that always terminates in completed or failed.
package consolidation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/engram/internal/config"
	"github.com/nidhogg/engram/internal/events"
	"github.com/nidhogg/engram/internal/memory"
	"github.com/nidhogg/engram/internal/store"
)

// Strategy constants. Reflection touches memory gently and often; sleep
// decays harder, consolidates deeper and is the only pass that forgets;
// rehearsal deliberately re-activates what matters.
const (
	reflectionDecayFactor = 0.98
	reflectionBoost       = 0.05
	reflectionRefresh     = 0.01
	temporalWindow        = 3 * time.Hour
	temporalStrength      = 0.5

	sleepDecayFactor    = 0.95
	sleepBoost          = 0.1
	crossModalStrength  = 0.6
	patternMinLessons   = 3
	copingMinCount      = 2
	copingMinSuccess    = 0.6
	forgottenImportance = 0.10
	forgottenAge        = 30 * 24 * time.Hour

	rehearsalWindow         = 7 * 24 * time.Hour
	rehearsalBoost          = 0.08
	rehearsalMinImportance  = 0.6
	rehearsalProficiency    = 0.03
	rehearsalEmotionalMin   = 0.7
	rehearsalEmotionalBoost = 0.05
	rehearsalPairImportance = 0.7
	rehearsalStrength       = 0.6

	decayAge          = 24 * time.Hour
	strongImportance  = 0.7
	strongIntensity   = 0.7
	strongAccessCount = 3
)

// Engine coordinates consolidation passes against one store.
type Engine struct {
	store  *store.Store
	bus    *events.Bus
	cfg    config.ConsolidationConfig
	logger *zap.Logger
}

// New creates an Engine. The event bus may be nil.
func New(st *store.Store, bus *events.Bus, cfg config.ConsolidationConfig, logger *zap.Logger) *Engine {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 200
	}
	return &Engine{store: st, bus: bus, cfg: cfg, logger: logger}
}

// Reflect runs the light consolidation pass for one agent.
func (e *Engine) Reflect(ctx context.Context, agentID string) (*memory.Run, error) {
	return e.run(ctx, agentID, memory.RunReflection, e.reflectionPass)
}

// Sleep runs the deep consolidation pass for one agent.
func (e *Engine) Sleep(ctx context.Context, agentID string) (*memory.Run, error) {
	return e.run(ctx, agentID, memory.RunSleep, e.sleepPass)
}

// Rehearse runs the targeted reinforcement pass for one agent.
func (e *Engine) Rehearse(ctx context.Context, agentID string) (*memory.Run, error) {
	return e.run(ctx, agentID, memory.RunRehearsal, e.rehearsalPass)
}

// run executes one pass inside the run state machine. The record always
// ends completed or failed, even when the pass panics.
func (e *Engine) run(ctx context.Context, agentID, runType string, pass func(context.Context, *memory.Run) error) (run *memory.Run, err error) {
	run, err = e.store.StartRun(ctx, agentID, runType)
	if err != nil {
		return nil, fmt.Errorf("start %s run: %w", runType, err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s pass panic: %v", runType, r)
		}
		if err != nil {
			run.Status = memory.RunFailed
			run.Error = err.Error()
		} else {
			run.Status = memory.RunCompleted
		}
		// The record must reach a terminal state even when the pass
		// context was cancelled mid-flight.
		finishCtx := context.WithoutCancel(ctx)
		if ferr := e.store.FinishRun(finishCtx, run); ferr != nil {
			e.logger.Error("consolidation run record not finalized",
				zap.String("agent", agentID),
				zap.String("run_id", run.ID),
				zap.Error(ferr))
		}
		e.publish(finishCtx, run)
		e.logger.Info("consolidation run finished",
			zap.String("agent", agentID),
			zap.String("type", runType),
			zap.String("status", string(run.Status)),
			zap.Int("processed", run.Processed),
			zap.Int("strengthened", run.Strengthened),
			zap.Int("weakened", run.Weakened),
			zap.Int("forgotten", run.Forgotten),
			zap.Int("new_associations", run.NewAssociations))
	}()

	err = pass(ctx, run)
	return run, err
}

func (e *Engine) publish(ctx context.Context, run *memory.Run) {
	kind := events.KindConsolidationCompleted
	if run.Status == memory.RunFailed {
		kind = events.KindConsolidationFailed
	}
	e.bus.Publish(ctx, &events.Event{
		AgentID: run.AgentID,
		Kind:    kind,
		Detail: map[string]any{
			"run_id":           run.ID,
			"run_type":         run.RunType,
			"processed":        run.Processed,
			"strengthened":     run.Strengthened,
			"weakened":         run.Weakened,
			"forgotten":        run.Forgotten,
			"new_associations": run.NewAssociations,
		},
	})
}

// linkIfMissing creates an association only when no link exists between the
// two memories in either direction. Reports whether one was created.
func (e *Engine) linkIfMissing(ctx context.Context, a *memory.Association) bool {
	linked, err := e.store.HasAssociation(ctx, a.AgentID, a.Memory1ID, a.Memory2ID)
	if err != nil {
		e.logger.Warn("association check skipped",
			zap.String("agent", a.AgentID), zap.Error(err))
		return false
	}
	if linked {
		return false
	}
	return e.store.TryAssociate(ctx, a)
}

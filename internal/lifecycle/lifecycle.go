// Package lifecycle runs the periodic hygiene sweep: archiving stale
// low-importance memories, hard-deleting the worthless ones, pruning weak
// associations and reclaiming space when enough rows were removed.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/engram/internal/config"
	"github.com/nidhogg/engram/internal/events"
	"github.com/nidhogg/engram/internal/store"
)

// sweepBatchLimit bounds how many rows a single sweep touches per
// collection. A backlog drains over successive sweeps.
const sweepBatchLimit = 1000

// SweepReport summarizes what one sweep did for one agent.
type SweepReport struct {
	AgentID        string        `json:"agent_id"`
	Archived       int           `json:"archived"`
	Deleted        int           `json:"deleted"`
	PrunedLinks    int           `json:"pruned_links"`
	ExpiredWorking int           `json:"expired_working"`
	Compacted      bool          `json:"compacted"`
	Duration       time.Duration `json:"duration"`
}

// Manager owns the sweep. The event bus may be nil.
type Manager struct {
	store  *store.Store
	bus    *events.Bus
	cfg    config.LifecycleConfig
	logger *zap.Logger
}

func New(st *store.Store, bus *events.Bus, cfg config.LifecycleConfig, logger *zap.Logger) *Manager {
	return &Manager{store: st, bus: bus, cfg: cfg, logger: logger}
}

// Sweep runs the full hygiene pass for one agent. Deletion runs before
// archival so that memories past the hard-delete cutoff are removed
// outright instead of being archived first.
func (m *Manager) Sweep(ctx context.Context, agentID string) (*SweepReport, error) {
	started := time.Now()
	report := &SweepReport{AgentID: agentID}

	deleteBefore := started.Add(-m.cfg.ForgottenAge.Std())
	deleted, err := m.store.ForgetEpisodic(ctx, agentID, m.cfg.ForgottenThreshold, deleteBefore, sweepBatchLimit)
	if err != nil {
		return report, fmt.Errorf("sweep delete episodic: %w", err)
	}
	report.Deleted += deleted
	deleted, err = m.store.ForgetEmotional(ctx, agentID, m.cfg.ForgottenThreshold, deleteBefore, sweepBatchLimit)
	if err != nil {
		return report, fmt.Errorf("sweep delete emotional: %w", err)
	}
	report.Deleted += deleted

	archiveBefore := started.Add(-m.cfg.ArchiveAge.Std())
	archived, err := m.store.ArchiveEpisodic(ctx, agentID, m.cfg.ArchiveImportance, archiveBefore, sweepBatchLimit)
	if err != nil {
		return report, fmt.Errorf("sweep archive: %w", err)
	}
	report.Archived = archived
	if archived > 0 {
		m.bus.Publish(ctx, &events.Event{
			AgentID: agentID,
			Kind:    events.KindMemoryArchived,
			Detail:  map[string]any{"count": archived},
		})
	}

	staleBefore := started.Add(-m.cfg.AssociationStale.Std())
	pruned, err := m.store.PruneAssociations(ctx, m.cfg.AssociationFloor, staleBefore)
	if err != nil {
		return report, fmt.Errorf("sweep prune associations: %w", err)
	}
	report.PrunedLinks = pruned

	report.ExpiredWorking = m.store.PurgeExpiredWorking(ctx)

	if report.Deleted+report.PrunedLinks+report.ExpiredWorking >= m.cfg.CompactionMinRows {
		if err := m.store.Compact(ctx); err != nil {
			m.logger.Warn("sweep compaction skipped",
				zap.String("agent", agentID), zap.Error(err))
		} else {
			report.Compacted = true
		}
	}

	report.Duration = time.Since(started)
	m.publish(ctx, report)
	m.logger.Info("lifecycle sweep finished",
		zap.String("agent", agentID),
		zap.Int("archived", report.Archived),
		zap.Int("deleted", report.Deleted),
		zap.Int("pruned_links", report.PrunedLinks),
		zap.Int("expired_working", report.ExpiredWorking),
		zap.Bool("compacted", report.Compacted),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (m *Manager) publish(ctx context.Context, report *SweepReport) {
	m.bus.Publish(ctx, &events.Event{
		AgentID: report.AgentID,
		Kind:    events.KindLifecycleSwept,
		Detail: map[string]any{
			"archived":        report.Archived,
			"deleted":         report.Deleted,
			"pruned_links":    report.PrunedLinks,
			"expired_working": report.ExpiredWorking,
			"compacted":       report.Compacted,
		},
	})
}

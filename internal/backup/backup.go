// Package backup exports an agent's entire memory state to a
// self-describing JSON document and restores it through the store's
// field-preserving restore writes, so ids, timestamps and access history
// round-trip intact while the uniqueness and capacity invariants still hold.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/engram/internal/memory"
	"github.com/nidhogg/engram/internal/store"
)

// FormatVersion identifies the backup document layout. Readers must reject
// versions they do not understand.
const FormatVersion = 1

// AgentBackup is the complete exported state of one agent.
type AgentBackup struct {
	FormatVersion int                   `json:"format_version"`
	ExportedAt    time.Time             `json:"exported_at"`
	AgentID       string                `json:"agent_id"`
	Since         *time.Time            `json:"since,omitempty"` // set on incremental exports
	Episodic      []*memory.Episodic    `json:"episodic"`
	Semantic      []*memory.Semantic    `json:"semantic"`
	Procedural    []*memory.Procedural  `json:"procedural"`
	Emotional     []*memory.Emotional   `json:"emotional"`
	Working       []*memory.Working     `json:"working"`
	Associations  []*memory.Association `json:"associations"`
	Statistics    *memory.Statistics    `json:"statistics"`
}

// Archive bundles every agent's backup into one document.
type Archive struct {
	FormatVersion int            `json:"format_version"`
	ExportedAt    time.Time      `json:"exported_at"`
	Agents        []*AgentBackup `json:"agents"`
}

// ImportReport counts what a restore did per collection.
type ImportReport struct {
	Agents       int `json:"agents"`
	Episodic     int `json:"episodic"`
	Semantic     int `json:"semantic"`
	Procedural   int `json:"procedural"`
	Emotional    int `json:"emotional"`
	Working      int `json:"working"`
	Associations int `json:"associations"`
	Failed       int `json:"failed"`
}

// Manager performs exports and restores against one store.
type Manager struct {
	store  *store.Store
	logger *zap.Logger
}

func New(st *store.Store, logger *zap.Logger) *Manager {
	return &Manager{store: st, logger: logger}
}

// ExportAgent exports one agent. A zero since exports everything; otherwise
// only rows created or touched at or after the cutoff are included and the
// document is marked incremental.
func (m *Manager) ExportAgent(ctx context.Context, agentID string, since time.Time) (*AgentBackup, error) {
	b := &AgentBackup{
		FormatVersion: FormatVersion,
		ExportedAt:    time.Now().UTC(),
		AgentID:       agentID,
	}
	if !since.IsZero() {
		s := since
		b.Since = &s
	}

	var err error
	if b.Episodic, err = m.store.DumpEpisodic(ctx, agentID, since); err != nil {
		return nil, fmt.Errorf("export %s: %w", agentID, err)
	}
	if b.Semantic, err = m.store.DumpSemantic(ctx, agentID, since); err != nil {
		return nil, fmt.Errorf("export %s: %w", agentID, err)
	}
	if b.Procedural, err = m.store.DumpProcedural(ctx, agentID, since); err != nil {
		return nil, fmt.Errorf("export %s: %w", agentID, err)
	}
	if b.Emotional, err = m.store.DumpEmotional(ctx, agentID, since); err != nil {
		return nil, fmt.Errorf("export %s: %w", agentID, err)
	}
	if b.Working, err = m.store.DumpWorking(ctx, agentID, since); err != nil {
		return nil, fmt.Errorf("export %s: %w", agentID, err)
	}
	if b.Associations, err = m.store.DumpAssociations(ctx, agentID, since); err != nil {
		return nil, fmt.Errorf("export %s: %w", agentID, err)
	}
	if b.Statistics, err = m.store.Statistics(ctx, agentID); err != nil {
		return nil, fmt.Errorf("export %s: %w", agentID, err)
	}
	return b, nil
}

// ExportAll exports every known agent into one archive.
func (m *Manager) ExportAll(ctx context.Context, since time.Time) (*Archive, error) {
	agents, err := m.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("export all: %w", err)
	}
	archive := &Archive{
		FormatVersion: FormatVersion,
		ExportedAt:    time.Now().UTC(),
	}
	for _, agentID := range agents {
		b, err := m.ExportAgent(ctx, agentID, since)
		if err != nil {
			return nil, err
		}
		archive.Agents = append(archive.Agents, b)
	}
	return archive, nil
}

// WriteFile exports every agent and writes the archive as indented JSON.
func (m *Manager) WriteFile(ctx context.Context, path string, since time.Time) error {
	archive, err := m.ExportAll(ctx, since)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(archive, "", "  ")
	if err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	m.logger.Info("backup written",
		zap.String("path", path),
		zap.Int("agents", len(archive.Agents)))
	return nil
}

// RestoreFile reads an archive from disk and imports every agent in it.
// With clearFirst set, each agent's existing state is wiped before import.
func (m *Manager) RestoreFile(ctx context.Context, path string, clearFirst bool) (*ImportReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	var archive Archive
	if err := json.Unmarshal(data, &archive); err != nil {
		return nil, fmt.Errorf("decode backup: %w", err)
	}
	if archive.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("unsupported backup format version %d", archive.FormatVersion)
	}

	report := &ImportReport{}
	for _, b := range archive.Agents {
		if err := m.Import(ctx, b, clearFirst, report); err != nil {
			return report, err
		}
	}
	return report, nil
}

// Import restores one agent's backup through the store's restore writes,
// which take every exported field verbatim. Row ids, timestamps, access
// counts and a deliberately zero importance all survive the round trip,
// so restored memories keep their age and the lifecycle cutoffs still
// apply to them. A failing item is logged and counted; the batch continues.
func (m *Manager) Import(ctx context.Context, b *AgentBackup, clearFirst bool, report *ImportReport) error {
	if b.FormatVersion != FormatVersion {
		return fmt.Errorf("unsupported backup format version %d", b.FormatVersion)
	}
	if clearFirst {
		if err := m.store.ClearAgent(ctx, b.AgentID); err != nil {
			return fmt.Errorf("clear %s before restore: %w", b.AgentID, err)
		}
	}
	report.Agents++

	for _, e := range b.Episodic {
		if err := m.store.RestoreEpisodic(ctx, e); err != nil {
			m.skip(b.AgentID, "episodic", e.ID, err, report)
			continue
		}
		report.Episodic++
	}
	for _, s := range b.Semantic {
		// Concept upsert: a concept already present takes the backup's values.
		if err := m.store.RestoreSemantic(ctx, s); err != nil {
			m.skip(b.AgentID, "semantic", s.ID, err, report)
			continue
		}
		report.Semantic++
	}
	for _, p := range b.Procedural {
		if err := m.store.RestoreProcedural(ctx, p); err != nil {
			m.skip(b.AgentID, "procedural", p.ID, err, report)
			continue
		}
		report.Procedural++
	}
	for _, e := range b.Emotional {
		if err := m.store.RestoreEmotional(ctx, e); err != nil {
			m.skip(b.AgentID, "emotional", e.ID, err, report)
			continue
		}
		report.Emotional++
	}
	for _, w := range b.Working {
		if err := m.store.RestoreWorking(ctx, w); err != nil {
			m.skip(b.AgentID, "working", w.ID, err, report)
			continue
		}
		report.Working++
	}
	// Associations go last so both endpoints exist; the pair upsert keeps
	// re-imports from duplicating links.
	for _, a := range b.Associations {
		if err := m.store.RestoreAssociation(ctx, a); err != nil {
			m.skip(b.AgentID, "association", a.ID, err, report)
			continue
		}
		report.Associations++
	}
	return nil
}

func (m *Manager) skip(agentID, collection, id string, err error, report *ImportReport) {
	report.Failed++
	m.logger.Warn("restore item skipped",
		zap.String("agent", agentID),
		zap.String("collection", collection),
		zap.String("id", id),
		zap.Error(err))
}

package lifecycle

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/nidhogg/engram/internal/config"
	"github.com/nidhogg/engram/internal/memory"
	"github.com/nidhogg/engram/internal/store"
)

var (
	testStore *store.Store
	testPool  *pgxpool.Pool
	testCfg   config.LifecycleConfig
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("engram_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skipping lifecycle tests, no container runtime: %v\n", err)
		os.Exit(0)
	}
	defer container.Terminate(ctx)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "pg connection string: %v\n", err)
		os.Exit(1)
	}

	testStore, err = store.New(dsn, config.Default().Memory, zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %v\n", err)
		os.Exit(1)
	}
	defer testStore.Close()

	if err := testStore.Migrate(ctx, "../../migrations"); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	testPool, err = pgxpool.New(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pool: %v\n", err)
		os.Exit(1)
	}
	defer testPool.Close()

	testCfg = config.Default().Lifecycle

	os.Exit(m.Run())
}

func newAgentID() string {
	return "agent-" + uuid.New().String()[:8]
}

func newManager() *Manager {
	return New(testStore, nil, testCfg, zap.NewNop())
}

func storeEpisodicAged(t *testing.T, agentID string, importance float64, age time.Duration) string {
	t.Helper()
	ctx := context.Background()
	id, err := testStore.StoreEpisodic(ctx, &memory.Episodic{
		AgentID:    agentID,
		SessionID:  "s1",
		EventType:  "event",
		Content:    "aged memory",
		Importance: importance,
	})
	if err != nil {
		t.Fatalf("store episodic: %v", err)
	}
	if age > 0 {
		ts := time.Now().Add(-age)
		if _, err := testPool.Exec(ctx,
			"UPDATE episodic_memories SET created_at = $1, accessed_at = $1 WHERE id = $2", ts, id); err != nil {
			t.Fatalf("backdate: %v", err)
		}
	}
	return id
}

func TestSweepDeletesBeforeArchiving(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	// Old and worthless: removed outright, not archived.
	doomed := storeEpisodicAged(t, agentID, 0.05, 100*24*time.Hour)
	// Old but mildly important: archived, still retrievable by flag.
	dusty := storeEpisodicAged(t, agentID, 0.20, 40*24*time.Hour)
	// Same importance, too young for either fate.
	fresh := storeEpisodicAged(t, agentID, 0.20, 0)

	report, err := newManager().Sweep(ctx, agentID)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", report.Deleted)
	}
	if report.Archived != 1 {
		t.Errorf("archived = %d, want 1", report.Archived)
	}

	if _, err := testStore.GetEpisodic(ctx, agentID, doomed); err != store.ErrNotFound {
		t.Errorf("worthless memory survived: err = %v", err)
	}

	// Archived rows disappear from default retrieval but are not gone.
	visible, err := testStore.RetrieveEpisodic(ctx, store.EpisodicQuery{AgentID: agentID})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(visible) != 1 || visible[0].ID != fresh {
		t.Errorf("default retrieval = %d rows, want only the fresh memory", len(visible))
	}
	archived, err := testStore.GetEpisodic(ctx, agentID, dusty)
	if err != nil {
		t.Fatalf("archived memory gone: %v", err)
	}
	if !archived.Archived() {
		t.Error("archived flag not set")
	}
}

func TestSweepAccessedMemoriesSurvive(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	id := storeEpisodicAged(t, agentID, 0.05, 100*24*time.Hour)
	if _, err := testPool.Exec(ctx,
		"UPDATE episodic_memories SET access_count = 2 WHERE id = $1", id); err != nil {
		t.Fatalf("mark accessed: %v", err)
	}

	report, err := newManager().Sweep(ctx, agentID)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Deleted != 0 {
		t.Errorf("deleted = %d, want 0 (memory was accessed)", report.Deleted)
	}
	if _, err := testStore.GetEpisodic(ctx, agentID, id); err != nil {
		t.Errorf("accessed memory deleted: %v", err)
	}
}

func TestSweepPrunesWeakStaleAssociations(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	a := storeEpisodicAged(t, agentID, 0.6, 0)
	b := storeEpisodicAged(t, agentID, 0.6, 0)
	c := storeEpisodicAged(t, agentID, 0.6, 0)

	weak, err := testStore.CreateOrReinforce(ctx, memory.Link(
		agentID, a, memory.TypeEpisodic, b, memory.TypeEpisodic, memory.AssocTemporal, 0.1))
	if err != nil {
		t.Fatalf("associate: %v", err)
	}
	strong, err := testStore.CreateOrReinforce(ctx, memory.Link(
		agentID, a, memory.TypeEpisodic, c, memory.TypeEpisodic, memory.AssocTemporal, 0.9))
	if err != nil {
		t.Fatalf("associate: %v", err)
	}
	ts := time.Now().Add(-40 * 24 * time.Hour)
	for _, id := range []string{weak, strong} {
		if _, err := testPool.Exec(ctx,
			"UPDATE memory_associations SET last_reinforced = $1 WHERE id = $2", ts, id); err != nil {
			t.Fatalf("backdate association: %v", err)
		}
	}

	report, err := newManager().Sweep(ctx, agentID)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.PrunedLinks != 1 {
		t.Errorf("pruned = %d, want 1", report.PrunedLinks)
	}
	assocs, err := testStore.ListAssociations(ctx, agentID)
	if err != nil {
		t.Fatalf("list associations: %v", err)
	}
	if len(assocs) != 1 || assocs[0].ID != strong {
		t.Errorf("surviving associations = %d, want only the strong one", len(assocs))
	}
}

func TestSweepCompactsPastThreshold(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	storeEpisodicAged(t, agentID, 0.05, 100*24*time.Hour)

	cfg := testCfg
	cfg.CompactionMinRows = 1
	mgr := New(testStore, nil, cfg, zap.NewNop())

	report, err := mgr.Sweep(ctx, agentID)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Deleted != 1 {
		t.Fatalf("deleted = %d, want 1", report.Deleted)
	}
	if !report.Compacted {
		t.Error("compaction not triggered at the threshold")
	}

	// A quiet follow-up sweep stays below the threshold.
	report, err = mgr.Sweep(ctx, agentID)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if report.Compacted {
		t.Error("compaction triggered with nothing removed")
	}
}

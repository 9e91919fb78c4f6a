package consolidation

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
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
	testStore  *store.Store
	testEngine *Engine
	testPool   *pgxpool.Pool
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
		fmt.Fprintf(os.Stderr, "skipping consolidation tests, no container runtime: %v\n", err)
		os.Exit(0)
	}
	defer container.Terminate(ctx)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "pg connection string: %v\n", err)
		os.Exit(1)
	}

	logger := zap.NewNop()
	testStore, err = store.New(dsn, config.Default().Memory, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %v\n", err)
		os.Exit(1)
	}
	defer testStore.Close()

	if err := testStore.Migrate(ctx, "../../migrations"); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	testEngine = New(testStore, nil, config.Default().Consolidation, logger)

	testPool, err = pgxpool.New(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pool: %v\n", err)
		os.Exit(1)
	}
	defer testPool.Close()

	os.Exit(m.Run())
}

func newAgentID() string {
	return "agent-" + uuid.New().String()[:8]
}

func mustStoreEpisodic(t *testing.T, e *memory.Episodic) string {
	t.Helper()
	id, err := testStore.StoreEpisodic(context.Background(), e)
	if err != nil {
		t.Fatalf("store episodic: %v", err)
	}
	return id
}

func TestReflectionEndToEnd(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	m1 := mustStoreEpisodic(t, &memory.Episodic{
		AgentID:    agentID,
		SessionID:  "research",
		EventType:  "learning",
		Content:    "read a deep survey on renewable energy storage",
		Intensity:  0.6,
		Importance: 0.9,
	})
	s1, err := testStore.StoreSemantic(ctx, &memory.Semantic{
		AgentID:    agentID,
		Concept:    "renewable_energy",
		Definition: "energy from naturally replenished sources",
		Confidence: 0.8,
	})
	if err != nil {
		t.Fatalf("store semantic: %v", err)
	}
	if _, err := testStore.CreateOrReinforce(ctx, memory.Link(
		agentID, m1, memory.TypeEpisodic, s1, memory.TypeSemantic,
		memory.AssocSemantic, 0.8)); err != nil {
		t.Fatalf("associate: %v", err)
	}

	run, err := testEngine.Reflect(ctx, agentID)
	if err != nil {
		t.Fatalf("reflect: %v", err)
	}
	if run.Status != memory.RunCompleted {
		t.Errorf("run status = %s, want completed", run.Status)
	}
	if run.Processed < 2 {
		t.Errorf("processed = %d, want >= 2", run.Processed)
	}

	related, err := testStore.FindRelated(ctx, store.RelatedQuery{
		AgentID: agentID, MemoryID: m1, MemoryType: memory.TypeEpisodic,
	})
	if err != nil {
		t.Fatalf("find related: %v", err)
	}
	foundS1 := false
	for _, r := range related {
		if r.MemoryID == s1 {
			foundS1 = true
			if math.Abs(r.Strength-0.8) > 1e-9 {
				t.Errorf("association strength = %f, want untouched 0.8", r.Strength)
			}
		}
	}
	if !foundS1 {
		t.Error("semantic memory not reachable from the episodic one")
	}

	stats, err := testStore.Statistics(ctx, agentID)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.Episodic == 0 || stats.Semantic == 0 {
		t.Errorf("statistics counts episodic=%d semantic=%d, want both nonzero",
			stats.Episodic, stats.Semantic)
	}
	if stats.LastRun == nil || stats.LastRun.RunType != memory.RunReflection {
		t.Errorf("statistics last run = %+v, want the reflection run", stats.LastRun)
	}
}

func TestReflectionTemporalAssociations(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	first := mustStoreEpisodic(t, &memory.Episodic{
		AgentID: agentID, SessionID: "pairing", EventType: "task",
		Content: "started the refactor", Importance: 0.5,
	})
	second := mustStoreEpisodic(t, &memory.Episodic{
		AgentID: agentID, SessionID: "pairing", EventType: "task",
		Content: "finished the refactor", Importance: 0.5,
	})
	// A different session never gets a temporal link.
	mustStoreEpisodic(t, &memory.Episodic{
		AgentID: agentID, SessionID: "other", EventType: "task",
		Content: "unrelated work", Importance: 0.5,
	})

	run, err := testEngine.Reflect(ctx, agentID)
	if err != nil {
		t.Fatalf("reflect: %v", err)
	}
	if run.NewAssociations != 1 {
		t.Errorf("new associations = %d, want 1", run.NewAssociations)
	}

	linked, err := testStore.HasAssociation(ctx, agentID, first, second)
	if err != nil {
		t.Fatalf("has association: %v", err)
	}
	if !linked {
		t.Fatal("same-session pair not linked")
	}

	// A second pass must not duplicate or reinforce the discovered link.
	run, err = testEngine.Reflect(ctx, agentID)
	if err != nil {
		t.Fatalf("second reflect: %v", err)
	}
	if run.NewAssociations != 0 {
		t.Errorf("second pass created %d associations, want 0", run.NewAssociations)
	}
	assocs, err := testStore.ListAssociations(ctx, agentID)
	if err != nil {
		t.Fatalf("list associations: %v", err)
	}
	if len(assocs) != 1 {
		t.Fatalf("got %d associations, want 1", len(assocs))
	}
	if math.Abs(assocs[0].Strength-temporalStrength) > 1e-9 {
		t.Errorf("strength = %f, want untouched %f", assocs[0].Strength, temporalStrength)
	}
	if assocs[0].AssocType != memory.AssocTemporal {
		t.Errorf("association type = %s, want temporal", assocs[0].AssocType)
	}
}

func TestSleepPatternExtraction(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	lessons := []string{
		"validate inputs before calling the API",
		"retry with backoff on 429",
		"cache the auth token",
	}
	for i, lesson := range lessons {
		mustStoreEpisodic(t, &memory.Episodic{
			AgentID:        agentID,
			SessionID:      "api-work",
			EventType:      "api_failure",
			Content:        fmt.Sprintf("api call failed, attempt %d", i+1),
			LessonsLearned: lesson,
			Importance:     0.6,
		})
	}
	// Fewer than three lessons of this type: no pattern.
	mustStoreEpisodic(t, &memory.Episodic{
		AgentID: agentID, SessionID: "api-work", EventType: "deploy_failure",
		Content: "deploy rolled back", LessonsLearned: "check migrations first", Importance: 0.6,
	})

	run, err := testEngine.Sleep(ctx, agentID)
	if err != nil {
		t.Fatalf("sleep: %v", err)
	}
	if run.Status != memory.RunCompleted {
		t.Fatalf("run status = %s", run.Status)
	}

	pattern, err := testStore.GetSemanticByConcept(ctx, agentID, "Pattern: api_failure")
	if err != nil {
		t.Fatalf("pattern not extracted: %v", err)
	}
	for _, lesson := range lessons {
		if !strings.Contains(pattern.Definition, lesson) {
			t.Errorf("definition missing lesson %q", lesson)
		}
	}
	firstConfidence := pattern.Confidence

	if _, err := testStore.GetSemanticByConcept(ctx, agentID, "Pattern: deploy_failure"); err != store.ErrNotFound {
		t.Errorf("pattern extracted from %d lessons: err = %v", 1, err)
	}

	// Second run on unchanged data: same single row, higher confidence.
	if _, err := testEngine.Sleep(ctx, agentID); err != nil {
		t.Fatalf("second sleep: %v", err)
	}
	again, err := testStore.GetSemanticByConcept(ctx, agentID, "Pattern: api_failure")
	if err != nil {
		t.Fatalf("pattern lost on second run: %v", err)
	}
	if again.Confidence <= firstConfidence {
		t.Errorf("confidence %f not incremented from %f", again.Confidence, firstConfidence)
	}

	all, err := testStore.ListSemantic(ctx, agentID, 50)
	if err != nil {
		t.Fatalf("list semantic: %v", err)
	}
	patterns := 0
	for _, m := range all {
		if strings.HasPrefix(m.Concept, "Pattern: api_failure") {
			patterns++
		}
	}
	if patterns != 1 {
		t.Errorf("got %d pattern rows, want exactly 1", patterns)
	}
}

func TestSleepCrossModalLinking(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	ep := mustStoreEpisodic(t, &memory.Episodic{
		AgentID: agentID, SessionID: "s1", EventType: "task",
		Content: "tuned the kubernetes autoscaler today", Importance: 0.6,
	})
	concept, err := testStore.StoreSemantic(ctx, &memory.Semantic{
		AgentID: agentID, Concept: "kubernetes",
		Definition: "a container orchestrator", Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("store semantic: %v", err)
	}

	if _, err := testEngine.Sleep(ctx, agentID); err != nil {
		t.Fatalf("sleep: %v", err)
	}

	linked, err := testStore.HasAssociation(ctx, agentID, ep, concept)
	if err != nil {
		t.Fatalf("has association: %v", err)
	}
	if !linked {
		t.Error("episodic memory not linked to the concept it mentions")
	}
}

func TestSleepForgetting(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	doomed := mustStoreEpisodic(t, &memory.Episodic{
		AgentID: agentID, SessionID: "s1", EventType: "noise",
		Content: "completely forgettable", Importance: 0.05,
	})
	backdate(t, "episodic_memories", doomed, 40*24*time.Hour)

	// Low importance but young: survives.
	young := mustStoreEpisodic(t, &memory.Episodic{
		AgentID: agentID, SessionID: "s1", EventType: "noise",
		Content: "forgettable but fresh", Importance: 0.05,
	})

	run, err := testEngine.Sleep(ctx, agentID)
	if err != nil {
		t.Fatalf("sleep: %v", err)
	}
	if run.Forgotten != 1 {
		t.Errorf("forgotten = %d, want 1", run.Forgotten)
	}
	if _, err := testStore.GetEpisodic(ctx, agentID, doomed); err != store.ErrNotFound {
		t.Errorf("doomed memory still present: err = %v", err)
	}
	if _, err := testStore.GetEpisodic(ctx, agentID, young); err != nil {
		t.Errorf("young memory was forgotten: %v", err)
	}
}

func TestSleepCopingSkills(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	for i := 0; i < 2; i++ {
		if _, err := testStore.StoreEmotional(ctx, &memory.Emotional{
			AgentID: agentID, Trigger: fmt.Sprintf("incident %d", i),
			EmotionType: "fear", Valence: -0.6, Arousal: 0.8, Intensity: 0.7,
			CopingStrategy: "write down the facts before reacting",
			Resolution:     "resolved after an hour",
		}); err != nil {
			t.Fatalf("store emotional: %v", err)
		}
	}
	// A single failed instance: below both the count and rate bars.
	if _, err := testStore.StoreEmotional(ctx, &memory.Emotional{
		AgentID: agentID, Trigger: "argument",
		EmotionType: "anger", Valence: -0.5, Arousal: 0.7, Intensity: 0.6,
		CopingStrategy: "count to ten", Resolution: "did not work at all",
	}); err != nil {
		t.Fatalf("store emotional: %v", err)
	}

	if _, err := testEngine.Sleep(ctx, agentID); err != nil {
		t.Fatalf("sleep: %v", err)
	}

	skill, err := testStore.GetProcedural(ctx, agentID, "coping: fear")
	if err != nil {
		t.Fatalf("coping skill not distilled: %v", err)
	}
	if skill.SkillType != "coping" {
		t.Errorf("skill type = %s", skill.SkillType)
	}
	if len(skill.Steps) != 1 || skill.Steps[0] != "write down the facts before reacting" {
		t.Errorf("steps = %v", skill.Steps)
	}

	if _, err := testStore.GetProcedural(ctx, agentID, "coping: anger"); err != store.ErrNotFound {
		t.Errorf("failed strategy distilled anyway: err = %v", err)
	}
}

func TestRehearsalBoostsAndLinks(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	a := mustStoreEpisodic(t, &memory.Episodic{
		AgentID: agentID, SessionID: "s1", EventType: "milestone",
		Content: "shipped the parser", Importance: 0.8,
	})
	b := mustStoreEpisodic(t, &memory.Episodic{
		AgentID: agentID, SessionID: "s2", EventType: "milestone",
		Content: "shipped the compiler", Importance: 0.75,
	})
	low := mustStoreEpisodic(t, &memory.Episodic{
		AgentID: agentID, SessionID: "s1", EventType: "minor",
		Content: "renamed a variable", Importance: 0.3,
	})

	if _, err := testStore.StoreProcedural(ctx, &memory.Procedural{
		AgentID: agentID, SkillName: "code-review", SkillType: "cognitive",
		Proficiency: 0.5, SuccessRate: 0.9, UsageFrequency: 5,
	}); err != nil {
		t.Fatalf("store procedural: %v", err)
	}

	run, err := testEngine.Rehearse(ctx, agentID)
	if err != nil {
		t.Fatalf("rehearse: %v", err)
	}
	if run.Status != memory.RunCompleted {
		t.Fatalf("run status = %s", run.Status)
	}

	boosted, err := testStore.GetEpisodic(ctx, agentID, a)
	if err != nil {
		t.Fatalf("get boosted: %v", err)
	}
	if math.Abs(boosted.Importance-0.88) > 1e-9 {
		t.Errorf("importance = %f, want 0.88", boosted.Importance)
	}
	unboosted, err := testStore.GetEpisodic(ctx, agentID, low)
	if err != nil {
		t.Fatalf("get unboosted: %v", err)
	}
	if unboosted.Importance != 0.3 {
		t.Errorf("low importance = %f, want unchanged", unboosted.Importance)
	}

	// Both milestones were stored today with importance >= 0.7 (after
	// boost they are higher still); a rehearsal link must appear.
	linked, err := testStore.HasAssociation(ctx, agentID, a, b)
	if err != nil {
		t.Fatalf("has association: %v", err)
	}
	if !linked {
		t.Error("same-day important pair not linked")
	}

	skill, err := testStore.GetProcedural(ctx, agentID, "code-review")
	if err != nil {
		t.Fatalf("get skill: %v", err)
	}
	if math.Abs(skill.Proficiency-0.53) > 1e-9 {
		t.Errorf("proficiency = %f, want 0.53", skill.Proficiency)
	}
	if skill.AccessCount != 1 {
		t.Errorf("access count = %d, want 1 (rehearsal tracks access)", skill.AccessCount)
	}
}

func TestRunNeverLeftRunning(t *testing.T) {
	assertFailed := func(t *testing.T, run *memory.Run) {
		t.Helper()
		got, err := testStore.GetRun(context.Background(), run.ID)
		if err != nil {
			t.Fatalf("get run: %v", err)
		}
		if got.Status != memory.RunFailed {
			t.Errorf("status = %s, want failed", got.Status)
		}
		if got.Error == "" {
			t.Error("failure reason not recorded")
		}
		if got.CompletedAt == nil {
			t.Error("terminal timestamp not set")
		}
	}

	t.Run("panicking pass", func(t *testing.T) {
		run, err := testEngine.run(context.Background(), newAgentID(), memory.RunReflection,
			func(context.Context, *memory.Run) error {
				panic("midway explosion")
			})
		if err == nil {
			t.Fatal("expected an error from a panicking pass")
		}
		if !strings.Contains(err.Error(), "midway explosion") {
			t.Errorf("panic value lost: %v", err)
		}
		assertFailed(t, run)
	})

	t.Run("cancelled mid-pass", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		run, err := testEngine.run(ctx, newAgentID(), memory.RunSleep,
			func(ctx context.Context, _ *memory.Run) error {
				cancel()
				return ctx.Err()
			})
		if err == nil {
			t.Fatal("expected the cancellation error")
		}
		assertFailed(t, run)
	})
}

func backdate(t *testing.T, table, id string, age time.Duration) {
	t.Helper()
	ts := time.Now().Add(-age)
	query := fmt.Sprintf("UPDATE %s SET created_at = $1, accessed_at = $1 WHERE id = $2", table)
	if _, err := testPool.Exec(context.Background(), query, ts, id); err != nil {
		t.Fatalf("backdate %s: %v", id, err)
	}
}

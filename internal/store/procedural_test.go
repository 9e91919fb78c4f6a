package store

import (
	"context"
	"math"
	"testing"

	"github.com/nidhogg/engram/internal/memory"
)

func TestProceduralUpsertBySkillName(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	first, err := testStore.StoreProcedural(ctx, &memory.Procedural{
		AgentID:     agentID,
		SkillName:   "rollback-deploy",
		SkillType:   "operational",
		Steps:       []string{"pause traffic", "revert release", "verify health"},
		Proficiency: 0.4,
	})
	if err != nil {
		t.Fatalf("store procedural: %v", err)
	}

	// Record some usage before the re-store so history preservation is
	// observable.
	if err := testStore.RecordSkillUsage(ctx, agentID, "rollback-deploy", true); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if err := testStore.RecordSkillUsage(ctx, agentID, "rollback-deploy", false); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	second, err := testStore.StoreProcedural(ctx, &memory.Procedural{
		AgentID:     agentID,
		SkillName:   "rollback-deploy",
		SkillType:   "operational",
		Steps:       []string{"pause traffic", "revert release", "verify health", "announce"},
		Proficiency: 0.6,
	})
	if err != nil {
		t.Fatalf("restate procedural: %v", err)
	}
	if second != first {
		t.Errorf("upsert changed id: %s -> %s", first, second)
	}

	got, err := testStore.GetProcedural(ctx, agentID, "rollback-deploy")
	if err != nil {
		t.Fatalf("get procedural: %v", err)
	}
	if len(got.Steps) != 4 {
		t.Errorf("steps not updated, got %d", len(got.Steps))
	}
	if got.UsageFrequency != 2 {
		t.Errorf("usage history lost on upsert: frequency = %d, want 2", got.UsageFrequency)
	}
	if got.LastUsed == nil {
		t.Error("last_used lost on upsert")
	}
}

func TestRecordSkillUsage(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	if _, err := testStore.StoreProcedural(ctx, &memory.Procedural{
		AgentID: agentID, SkillName: "summarize", SkillType: "cognitive", Proficiency: 0.5,
	}); err != nil {
		t.Fatalf("store procedural: %v", err)
	}

	// success, success, failure -> rate 2/3.
	outcomes := []bool{true, true, false}
	for _, ok := range outcomes {
		if err := testStore.RecordSkillUsage(ctx, agentID, "summarize", ok); err != nil {
			t.Fatalf("record usage: %v", err)
		}
	}

	got, err := testStore.GetProcedural(ctx, agentID, "summarize")
	if err != nil {
		t.Fatalf("get procedural: %v", err)
	}
	if got.UsageFrequency != 3 {
		t.Errorf("usage frequency = %d, want 3", got.UsageFrequency)
	}
	if math.Abs(got.SuccessRate-2.0/3.0) > 1e-9 {
		t.Errorf("success rate = %f, want %f", got.SuccessRate, 2.0/3.0)
	}
	if math.Abs(got.Proficiency-0.53) > 1e-9 {
		t.Errorf("proficiency = %f, want 0.53", got.Proficiency)
	}

	if err := testStore.RecordSkillUsage(ctx, agentID, "no-such-skill", true); err != ErrNotFound {
		t.Errorf("unknown skill: err = %v, want ErrNotFound", err)
	}
}

func TestProceduralRetrieveOrdering(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	skills := []struct {
		name        string
		proficiency float64
	}{
		{"novice-skill", 0.2},
		{"expert-skill", 0.9},
		{"middling-skill", 0.5},
	}
	for _, sk := range skills {
		if _, err := testStore.StoreProcedural(ctx, &memory.Procedural{
			AgentID: agentID, SkillName: sk.name, SkillType: "cognitive", Proficiency: sk.proficiency,
		}); err != nil {
			t.Fatalf("store %s: %v", sk.name, err)
		}
	}

	got, err := testStore.RetrieveProcedural(ctx, ProceduralQuery{AgentID: agentID})
	if err != nil {
		t.Fatalf("retrieve procedural: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("retrieved %d, want 3", len(got))
	}
	if got[0].SkillName != "expert-skill" {
		t.Errorf("first result = %s, want expert-skill", got[0].SkillName)
	}
}

func TestProceduralDelete(t *testing.T) {
	ctx := context.Background()
	agentID := newAgentID()

	id, err := testStore.StoreProcedural(ctx, &memory.Procedural{
		AgentID: agentID, SkillName: "obsolete_routine", SkillType: "technical",
		Proficiency: 0.3, Steps: []string{"the old way"},
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	if err := testStore.DeleteProcedural(ctx, agentID, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := testStore.GetProceduralByID(ctx, agentID, id); err != ErrNotFound {
		t.Errorf("get deleted: err = %v, want ErrNotFound", err)
	}
	if _, err := testStore.GetProcedural(ctx, agentID, "obsolete_routine"); err != ErrNotFound {
		t.Errorf("get deleted by name: err = %v, want ErrNotFound", err)
	}

	if err := testStore.DeleteProcedural(ctx, agentID, id); err != ErrNotFound {
		t.Errorf("double delete: err = %v, want ErrNotFound", err)
	}
}

package search

import (
	"testing"

	"github.com/nidhogg/engram/internal/memory"
)

func TestIncludedTypes(t *testing.T) {
	if got := includedTypes(nil); got != nil {
		t.Errorf("no exclusions should mean no filter, got %v", got)
	}

	got := includedTypes([]memory.Type{memory.TypeEmotional, memory.TypeProcedural})
	if len(got) != 2 {
		t.Fatalf("got %v, want 2 types", got)
	}
	for _, typ := range got {
		if typ == string(memory.TypeEmotional) || typ == string(memory.TypeProcedural) {
			t.Errorf("excluded type %s still included", typ)
		}
	}

	all := []memory.Type{
		memory.TypeEpisodic, memory.TypeSemantic,
		memory.TypeProcedural, memory.TypeEmotional,
	}
	if got := includedTypes(all); len(got) != 0 {
		t.Errorf("excluding everything should include nothing, got %v", got)
	}
}

package ipcl

import "testing"

func TestParseCritiqueJSONPlain(t *testing.T) {
	items, err := parseCritiqueJSON(`[{"persona":"Security","concern":"no auth check","step_ref":2,"severity":9,"confidence":8}]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].Persona != "Security" || items[0].Signal != 72 {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestParseCritiqueJSONEmptyArray(t *testing.T) {
	items, err := parseCritiqueJSON("[]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %+v", items)
	}
}

func TestParseCritiqueJSONTolerantOfFence(t *testing.T) {
	raw := "```json\n[{\"persona\":\"Edge Cases\",\"concern\":\"nil input\",\"step_ref\":null,\"severity\":6,\"confidence\":7}]\n```"
	items, err := parseCritiqueJSON(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].Persona != "Edge Cases" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestParseCritiqueJSONMalformedIsError(t *testing.T) {
	_, err := parseCritiqueJSON("not json at all")
	if err == nil {
		t.Fatalf("expected a parse error for malformed input")
	}
}

func TestComputeConvergenceStable(t *testing.T) {
	prev := "1. Step one\n2. Step two\n"
	next := "1. Step one.\n2. Step two\n"
	result := computeConvergence(next, prev, nil, 15.0)
	if _, ok := result.(Stable); !ok {
		t.Fatalf("expected Stable, got %T", result)
	}
}

func TestComputeConvergenceScopeRunaway(t *testing.T) {
	prev := "1. Step one\n"
	next := prev + string(make([]byte, 100))
	must := []CritiqueItem{NewCritiqueItem("Security", "critical gap", nil, 9, 9)}
	result := computeConvergence(next, prev, must, 15.0)
	if _, ok := result.(ScopeRunaway); !ok {
		t.Fatalf("expected ScopeRunaway, got %T", result)
	}
}

func TestComputeConvergenceContinuingOnFirstIteration(t *testing.T) {
	result := computeConvergence("1. Step one\n", "", nil, 15.0)
	if _, ok := result.(Continuing); !ok {
		t.Fatalf("expected Continuing on first iteration (no previous plan), got %T", result)
	}
}

func TestStripNonNumberedPreamble(t *testing.T) {
	text := "Sure, here's the plan:\n\n1. Do the thing\n2. Test it\n"
	out := stripNonNumberedPreamble(text)
	if out != "1. Do the thing\n2. Test it\n" {
		t.Fatalf("unexpected stripped text: %q", out)
	}
}

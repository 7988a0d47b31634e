package ipcl

import "testing"

func intPtr(v int) *int { return &v }

func TestCritiqueItemDerivedFields(t *testing.T) {
	item := NewCritiqueItem("Security", "Missing auth check", intPtr(3), 9, 8)
	if item.Signal != 72 {
		t.Fatalf("expected signal 72, got %d", item.Signal)
	}
	if !item.IsMustAddress {
		t.Fatalf("expected must-address")
	}
	if item.IsMinorityRisk {
		t.Fatalf("expected not minority risk")
	}
}

func TestCritiqueItemMinorityRisk(t *testing.T) {
	item := NewCritiqueItem("Architecture", "Possible circular dep", nil, 7, 3)
	if item.Signal != 21 {
		t.Fatalf("expected signal 21, got %d", item.Signal)
	}
	if item.IsMustAddress {
		t.Fatalf("expected not must-address")
	}
	if !item.IsMinorityRisk {
		t.Fatalf("expected minority risk")
	}
}

func TestCritiqueItemNeither(t *testing.T) {
	item := NewCritiqueItem("Completeness", "Missing test step", nil, 5, 8)
	if item.IsMustAddress {
		t.Fatalf("severity below 8 should not be must-address")
	}
	if item.IsMinorityRisk {
		t.Fatalf("confidence above 4 should not be minority risk")
	}
}

func TestCritiqueItemClampsScores(t *testing.T) {
	item := NewCritiqueItem("Regression", "Overflow", nil, 15, 12)
	if item.Severity != 10 || item.Confidence != 10 {
		t.Fatalf("expected scores clamped to 10, got severity=%d confidence=%d", item.Severity, item.Confidence)
	}
	if item.Signal != 100 {
		t.Fatalf("expected signal 100, got %d", item.Signal)
	}
}

func TestPlanResultFinalPlanCancelled(t *testing.T) {
	result := &PlanResult{Outcome: Cancelled}
	if result.FinalPlan() != "" {
		t.Fatalf("expected empty final plan for a cancelled result")
	}
}

func TestPlanResultFinalPlanConverged(t *testing.T) {
	result := &PlanResult{
		Outcome: Converged,
		Iterations: []PlanIteration{
			{Iteration: 1, PlanText: "Step 1: do thing"},
		},
	}
	if result.FinalPlan() != "Step 1: do thing" {
		t.Fatalf("unexpected final plan: %q", result.FinalPlan())
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxIterations != 3 {
		t.Fatalf("expected default max_iterations 3, got %d", cfg.MaxIterations)
	}
	if cfg.ConvergencePct != 15.0 {
		t.Fatalf("expected default convergence_pct 15.0, got %v", cfg.ConvergencePct)
	}
}

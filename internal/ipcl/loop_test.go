package ipcl

import (
	"context"
	"testing"

	"github.com/xonecas/symb/internal/fallback"
	"github.com/xonecas/symb/internal/provider"
)

// scriptedProvider returns a fixed sequence of text responses, one per
// ChatStream call, looping on the last entry once exhausted.
type scriptedProvider struct {
	responses []string
	calls     int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) ChatStream(ctx context.Context, messages []provider.Message, tools []provider.Tool) (<-chan provider.StreamEvent, error) {
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++

	ch := make(chan provider.StreamEvent, 2)
	ch <- provider.StreamEvent{Type: provider.EventContentDelta, Content: p.responses[idx]}
	ch <- provider.StreamEvent{Type: provider.EventDone}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) ListModels(ctx context.Context) ([]provider.Model, error) { return nil, nil }
func (p *scriptedProvider) ContextLimitTokens() int                                 { return 100000 }
func (p *scriptedProvider) Close() error                                            { return nil }

func TestLoopConvergesWhenStable(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		"1. Do the thing\n2. Test it\n", // generate
		"[]",                            // critique iteration 1 (no must-address)
	}}
	chain := fallback.New(p)
	loop := New(chain, DefaultConfig())

	result, err := loop.Run(context.Background(), "implement a thing", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != Converged {
		t.Fatalf("expected Converged, got %v", result.Outcome)
	}
	if len(result.Iterations) != 1 {
		t.Fatalf("expected exactly one iteration, got %d", len(result.Iterations))
	}
}

func TestLoopHitsIterationCap(t *testing.T) {
	must := `[{"persona":"Security","concern":"still missing auth","step_ref":1,"severity":9,"confidence":9}]`
	p := &scriptedProvider{responses: []string{
		"1. Do the thing\n",  // generate
		must,                 // critique 1
		"1. Do the thing v2\n", // regenerate 1
		must,                 // critique 2
		"1. Do the thing v3\n", // regenerate 2
		must,                 // critique 3
	}}
	chain := fallback.New(p)
	loop := New(chain, Config{MaxIterations: 3, ConvergencePct: 15.0})

	result, err := loop.Run(context.Background(), "implement auth", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != IterationCap {
		t.Fatalf("expected IterationCap, got %v", result.Outcome)
	}
	if len(result.Iterations) != 3 {
		t.Fatalf("expected 3 iterations, got %d", len(result.Iterations))
	}
}

func TestLoopUserApprovalStopsEarly(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		"1. Do the thing\n",
		`[{"persona":"Security","concern":"x","step_ref":1,"severity":9,"confidence":9}]`,
	}}
	chain := fallback.New(p)
	loop := New(chain, DefaultConfig())

	steer := func(iteration int, planText string, critiques []CritiqueItem) UserFeedback {
		return Approve{}
	}

	result, err := loop.Run(context.Background(), "implement a thing", steer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != UserApproved {
		t.Fatalf("expected UserApproved, got %v", result.Outcome)
	}
}

func TestLoopUserCancelStopsEarly(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		"1. Do the thing\n",
		"[]",
	}}
	chain := fallback.New(p)
	loop := New(chain, DefaultConfig())

	steer := func(iteration int, planText string, critiques []CritiqueItem) UserFeedback {
		return Cancel{}
	}

	result, err := loop.Run(context.Background(), "implement a thing", steer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != Cancelled {
		t.Fatalf("expected Cancelled, got %v", result.Outcome)
	}
}

func TestLoopGenerationFailurePropagates(t *testing.T) {
	chain := fallback.New()
	loop := New(chain, DefaultConfig())

	_, err := loop.Run(context.Background(), "implement a thing", nil)
	if err == nil {
		t.Fatalf("expected an error when the chain has no providers")
	}
}

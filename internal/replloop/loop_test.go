package replloop

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/xonecas/symb/internal/embedding"
	"github.com/xonecas/symb/internal/fallback"
	"github.com/xonecas/symb/internal/memtree"
	"github.com/xonecas/symb/internal/patternstore"
	"github.com/xonecas/symb/internal/permission"
	"github.com/xonecas/symb/internal/provider"
	"github.com/xonecas/symb/internal/tools"
)

// scriptedProvider replays a fixed sequence of turns (each a text reply
// plus optional tool calls), advancing one step per ChatStream call.
type scriptedProvider struct {
	turns []scriptedTurn
	calls int
}

type scriptedTurn struct {
	text  string
	calls []provider.ToolCall
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) ChatStream(ctx context.Context, messages []provider.Message, tools []provider.Tool) (<-chan provider.StreamEvent, error) {
	idx := p.calls
	if idx >= len(p.turns) {
		idx = len(p.turns) - 1
	}
	p.calls++
	turn := p.turns[idx]

	ch := make(chan provider.StreamEvent, 4+len(turn.calls)*2)
	if turn.text != "" {
		ch <- provider.StreamEvent{Type: provider.EventContentDelta, Content: turn.text}
	}
	for i, tc := range turn.calls {
		ch <- provider.StreamEvent{Type: provider.EventToolCallBegin, ToolCallIndex: i, ToolCallID: tc.ID, ToolCallName: tc.Name}
		ch <- provider.StreamEvent{Type: provider.EventToolCallDelta, ToolCallIndex: i, ToolCallArgs: string(tc.Arguments)}
	}
	ch <- provider.StreamEvent{Type: provider.EventDone}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) ListModels(ctx context.Context) ([]provider.Model, error) { return nil, nil }
func (p *scriptedProvider) ContextLimitTokens() int                                 { return 100000 }
func (p *scriptedProvider) Close() error                                            { return nil }

func newTestLoop(t *testing.T, turns []scriptedTurn) (*Loop, *patternstore.Store) {
	t.Helper()
	chain := fallback.New(&scriptedProvider{turns: turns})

	reg := tools.NewRegistry()
	reg.Register(tools.Definition{Name: "echo", InputSchema: json.RawMessage(`{"type":"object"}`)},
		func(ctx context.Context, tc *tools.ToolContext, input json.RawMessage) (string, error) {
			return "echoed", nil
		})
	reg.Register(tools.AskUserQuestionDefinition(), tools.AskUserQuestionHandler)

	patterns := patternstore.Open()
	perms := permission.NewManager(t.TempDir()).WithDefault(permission.AskUser)
	executor := tools.NewExecutor(reg, patterns, perms, &tools.ToolContext{})

	loop := New(Options{
		Chain:    chain,
		Registry: reg,
		Executor: executor,
		Patterns: patterns,
		Tree:     memtree.New(embedding.Dim),
		Embedder: embedding.NewHashEmbedding(),
	})
	return loop, patterns
}

func drainUntilTerminal(t *testing.T, loop *Loop, qid QueryID, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case evt := <-loop.Events():
			switch e := evt.(type) {
			case QueryComplete:
				if e.QID == qid {
					return e
				}
			case QueryFailed:
				if e.QID == qid {
					return e
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for query %d to terminate", qid)
		}
	}
}

func TestLoopCompletesWithNoToolCalls(t *testing.T) {
	loop, _ := newTestLoop(t, []scriptedTurn{{text: "hello there"}})

	qid := loop.Submit(context.Background(), "hi")
	evt := drainUntilTerminal(t, loop, qid, 2*time.Second)

	complete, ok := evt.(QueryComplete)
	if !ok {
		t.Fatalf("expected QueryComplete, got %#v", evt)
	}
	if complete.Response != "hello there" {
		t.Fatalf("unexpected response: %q", complete.Response)
	}
}

func TestLoopRunsApprovedToolCall(t *testing.T) {
	loop, _ := newTestLoop(t, []scriptedTurn{
		{calls: []provider.ToolCall{{ID: "1", Name: "echo", Arguments: json.RawMessage(`{}`)}}},
		{text: "done"},
	})

	qid := loop.Submit(context.Background(), "use the echo tool")

	var approval ToolApprovalNeeded
	for {
		evt := <-loop.Events()
		if a, ok := evt.(ToolApprovalNeeded); ok {
			approval = a
			break
		}
	}
	approval.ReplyCh <- ApprovalReply{Approved: true}

	evt := drainUntilTerminal(t, loop, qid, 2*time.Second)
	complete, ok := evt.(QueryComplete)
	if !ok {
		t.Fatalf("expected QueryComplete, got %#v", evt)
	}
	if complete.Response != "done" {
		t.Fatalf("unexpected final response: %q", complete.Response)
	}
}

func TestLoopDeniedToolCallSurfacesAsErrorResult(t *testing.T) {
	loop, _ := newTestLoop(t, []scriptedTurn{
		{calls: []provider.ToolCall{{ID: "1", Name: "echo", Arguments: json.RawMessage(`{}`)}}},
		{text: "acknowledged"},
	})

	qid := loop.Submit(context.Background(), "use the echo tool")

	var approval ToolApprovalNeeded
	toolResultSeen := false
	for {
		evt := <-loop.Events()
		switch e := evt.(type) {
		case ToolApprovalNeeded:
			approval = e
			approval.ReplyCh <- ApprovalReply{Approved: false}
		case ToolResult:
			toolResultSeen = true
			if !e.Result.IsError {
				t.Fatalf("expected an error tool result after denial")
			}
		case QueryComplete, QueryFailed:
			if !toolResultSeen {
				t.Fatalf("expected a ToolResult event before query termination")
			}
			return
		}
	}
}

func TestLoopInterceptsAskUserQuestion(t *testing.T) {
	askArgs, _ := json.Marshal(map[string]any{
		"questions": []map[string]any{{"question": "Which approach?", "options": []string{"A", "B"}}},
	})
	loop, _ := newTestLoop(t, []scriptedTurn{
		{calls: []provider.ToolCall{{ID: "1", Name: tools.AskUserQuestionName, Arguments: askArgs}}},
		{text: "using approach A"},
	})

	qid := loop.Submit(context.Background(), "which way should I go?")

	var asked QuestionAsked
	for {
		evt := <-loop.Events()
		if a, ok := evt.(QuestionAsked); ok {
			asked = a
			break
		}
	}
	if len(asked.Questions) != 1 || asked.Questions[0].Question != "Which approach?" {
		t.Fatalf("unexpected questions: %+v", asked.Questions)
	}
	asked.ReplyCh <- []string{"A"}

	evt := drainUntilTerminal(t, loop, qid, 2*time.Second)
	complete, ok := evt.(QueryComplete)
	if !ok {
		t.Fatalf("expected QueryComplete, got %#v", evt)
	}
	if complete.Response != "using approach A" {
		t.Fatalf("unexpected final response: %q", complete.Response)
	}
}

func TestLoopCancelSurfacesQueryFailed(t *testing.T) {
	loop, _ := newTestLoop(t, []scriptedTurn{{text: "never seen"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	qid := loop.Submit(ctx, "hi")
	loop.Cancel(qid)

	evt := drainUntilTerminal(t, loop, qid, 2*time.Second)
	failed, ok := evt.(QueryFailed)
	if !ok {
		t.Fatalf("expected QueryFailed, got %#v", evt)
	}
	if failed.Reason != FailureCancelled {
		t.Fatalf("expected FailureCancelled, got %v", failed.Reason)
	}
}

func TestRingSnapshotRetainsEvents(t *testing.T) {
	loop, _ := newTestLoop(t, []scriptedTurn{{text: "hello there"}})

	qid := loop.Submit(context.Background(), "hi")
	drainUntilTerminal(t, loop, qid, 2*time.Second)

	snapshot := loop.RingSnapshot()
	if len(snapshot) == 0 {
		t.Fatalf("expected the ring to retain emitted events")
	}
}

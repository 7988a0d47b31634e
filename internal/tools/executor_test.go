package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/xonecas/symb/internal/patternstore"
	"github.com/xonecas/symb/internal/permission"
)

func newTestRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(Definition{Name: "echo"}, func(_ context.Context, _ *ToolContext, input json.RawMessage) (string, error) {
		return string(input), nil
	})
	reg.Register(Definition{Name: "boom"}, func(_ context.Context, _ *ToolContext, _ json.RawMessage) (string, error) {
		return "", errors.New("handler exploded")
	})
	return reg
}

func TestExecuteMissingToolReturnsErrorResult(t *testing.T) {
	reg := newTestRegistry()
	perms := permission.NewManager("").WithDefault(permission.Allow)
	exec := NewExecutor(reg, nil, perms, &ToolContext{})

	res, err := exec.Execute(context.Background(), ToolUse{ID: "1", Name: "nonexistent", Arguments: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError || res.Content != "Tool not found" {
		t.Fatalf("expected a 'Tool not found' error result, got %+v", res)
	}
}

func TestExecuteAskUserQuestionIsIntercepted(t *testing.T) {
	reg := newTestRegistry()
	reg.Register(AskUserQuestionDefinition(), AskUserQuestionHandler)
	perms := permission.NewManager("").WithDefault(permission.Allow)
	exec := NewExecutor(reg, nil, perms, &ToolContext{})

	_, err := exec.Execute(context.Background(), ToolUse{ID: "1", Name: AskUserQuestionName, Arguments: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrInterceptedByLoop) {
		t.Fatalf("expected ErrInterceptedByLoop, got %v", err)
	}
}

func TestExecuteDenyReturnsErrorResult(t *testing.T) {
	reg := newTestRegistry()
	perms := permission.NewManager("").WithDefault(permission.Deny)
	exec := NewExecutor(reg, nil, perms, &ToolContext{})

	res, err := exec.Execute(context.Background(), ToolUse{ID: "1", Name: "echo", Arguments: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected an error result when policy denies, got %+v", res)
	}
}

func TestExecuteAskUserReturnsApprovalRequired(t *testing.T) {
	reg := newTestRegistry()
	perms := permission.NewManager("").WithDefault(permission.AskUser)
	exec := NewExecutor(reg, nil, perms, &ToolContext{})

	_, err := exec.Execute(context.Background(), ToolUse{ID: "1", Name: "echo", Arguments: json.RawMessage(`{"x":1}`)})
	if !errors.Is(err, ErrApprovalRequired) {
		t.Fatalf("expected ErrApprovalRequired, got %v", err)
	}
	var approvalErr *ApprovalRequiredError
	if !errors.As(err, &approvalErr) {
		t.Fatalf("expected errors.As to unwrap an *ApprovalRequiredError")
	}
	if approvalErr.ToolUse.Name != "echo" {
		t.Fatalf("expected the pending tool use to be carried in the error")
	}
}

func TestExecuteExactApprovalBypassesAskUser(t *testing.T) {
	reg := newTestRegistry()
	perms := permission.NewManager("").WithDefault(permission.AskUser)
	patterns := patternstore.Open()
	sig := patternstore.Signature{ToolName: "echo", ContextKey: contextKeyFor("echo", json.RawMessage(`{"x":1}`))}
	patterns.ApproveExact(sig, false)

	exec := NewExecutor(reg, patterns, perms, &ToolContext{})
	res, err := exec.Execute(context.Background(), ToolUse{ID: "1", Name: "echo", Arguments: json.RawMessage(`{"x":1}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError {
		t.Fatalf("expected a cached approval to bypass AskUser, got %+v", res)
	}
}

func TestExecuteHandlerErrorWrapsIntoErrorResult(t *testing.T) {
	reg := newTestRegistry()
	perms := permission.NewManager("").WithDefault(permission.Allow)
	exec := NewExecutor(reg, nil, perms, &ToolContext{})

	res, err := exec.Execute(context.Background(), ToolUse{ID: "1", Name: "boom", Arguments: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("a handler error must not propagate as a process-level error: %v", err)
	}
	if !res.IsError || res.Content != "handler exploded" {
		t.Fatalf("expected the handler's error wrapped into an error ToolResult, got %+v", res)
	}
}

func TestExecuteBatchStopsOnApprovalRequired(t *testing.T) {
	reg := newTestRegistry()
	perms := permission.NewManager("").WithDefault(permission.AskUser)
	exec := NewExecutor(reg, nil, perms, &ToolContext{})

	uses := []ToolUse{
		{ID: "1", Name: "echo", Arguments: json.RawMessage(`{}`)},
		{ID: "2", Name: "echo", Arguments: json.RawMessage(`{}`)},
	}
	results, err := exec.ExecuteBatch(context.Background(), uses)
	if !errors.Is(err, ErrApprovalRequired) {
		t.Fatalf("expected ErrApprovalRequired, got %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results before the first suspension, got %d", len(results))
	}
}

func TestExecuteBatchPreservesOrder(t *testing.T) {
	reg := newTestRegistry()
	perms := permission.NewManager("").WithDefault(permission.Allow)
	exec := NewExecutor(reg, nil, perms, &ToolContext{})

	uses := []ToolUse{
		{ID: "1", Name: "echo", Arguments: json.RawMessage(`"a"`)},
		{ID: "2", Name: "echo", Arguments: json.RawMessage(`"b"`)},
	}
	results, err := exec.ExecuteBatch(context.Background(), uses)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 || results[0].ToolUseID != "1" || results[1].ToolUseID != "2" {
		t.Fatalf("expected results in call order, got %+v", results)
	}
}

func TestContextKeyForShellUsesCommandInCwdForm(t *testing.T) {
	key := contextKeyFor("bash", json.RawMessage(`{"command":"cargo test"}`))
	if key != "cargo test in cwd" {
		t.Fatalf("expected a 'cmd in cwd' shaped context key, got %q", key)
	}
}

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xonecas/symb/internal/patternstore"
	"github.com/xonecas/symb/internal/permission"
)

// AskUserQuestionName is the tool name the model uses to ask the user a
// clarifying question. The executor never dispatches it — the event loop
// must intercept it before tool uses reach the executor at all.
const AskUserQuestionName = "AskUserQuestion"

// ErrInterceptedByLoop is returned when a ToolUse named AskUserQuestionName
// reaches the executor. It should never happen if the caller intercepts
// the tool use first, as spec.md §4.J requires.
var ErrInterceptedByLoop = errors.New("tools: AskUserQuestion must be intercepted by the event loop, not dispatched to the executor")

// ErrApprovalRequired is the sentinel wrapped by ApprovalRequiredError. Use
// errors.Is against this to detect a suspended tool use regardless of its
// payload.
var ErrApprovalRequired = errors.New("tools: tool execution requires user approval")

// ApprovalRequiredError carries the pending tool use and its signature back
// to the caller (the REPL event loop, §J) so it can suspend the query,
// render an approval prompt, and resume once the user answers — instead of
// blocking the executor goroutine on user input.
type ApprovalRequiredError struct {
	ToolUse   ToolUse
	Signature patternstore.Signature
	Reason    string
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("approval required for %s (%s): %s", e.ToolUse.Name, e.Signature.ContextKey, e.Reason)
}

func (e *ApprovalRequiredError) Unwrap() error { return ErrApprovalRequired }

// Executor dispatches ToolUse values to their registered handlers, gating
// each call on the pattern store (cached approvals) and the permission
// manager (policy rules plus constitutional constraints).
type Executor struct {
	registry *Registry
	patterns *patternstore.Store
	perms    *permission.Manager
	tc       *ToolContext
}

// NewExecutor builds an executor over a registry, gated by patterns and
// perms, running handlers against tc. patterns may be nil to disable the
// approval cache (every call then falls through to perms).
func NewExecutor(registry *Registry, patterns *patternstore.Store, perms *permission.Manager, tc *ToolContext) *Executor {
	return &Executor{registry: registry, patterns: patterns, perms: perms, tc: tc}
}

// Execute runs a single tool use end to end:
//  1. AskUserQuestionName is refused outright — it is the loop's job.
//  2. Lookup the handler; a missing tool returns an error ToolResult.
//  3. Build the tool's Signature and consult the pattern store, then the
//     permission manager, for Allow / AskUser / Deny.
//  4. Allow runs the handler; Deny returns an error ToolResult; AskUser
//     returns ApprovalRequiredError so the caller can suspend.
//  5. A handler error is wrapped into an error ToolResult, never returned
//     as a process-level error.
func (e *Executor) Execute(ctx context.Context, tu ToolUse) (*ToolResult, error) {
	if tu.Name == AskUserQuestionName {
		return nil, fmt.Errorf("%w: %s", ErrInterceptedByLoop, tu.Name)
	}

	_, handler, ok := e.registry.lookup(tu.Name)
	if !ok {
		return &ToolResult{ToolUseID: tu.ID, Content: "Tool not found", IsError: true}, nil
	}

	sig := patternstore.Signature{ToolName: tu.Name, ContextKey: contextKeyFor(tu.Name, tu.Arguments)}

	if !e.cacheApproved(sig) {
		check := e.perms.Check(tu.Name, tu.Arguments)
		switch check.Verdict {
		case permission.Deny:
			reason := check.Reason
			if reason == "" {
				reason = "denied by policy"
			}
			return &ToolResult{ToolUseID: tu.ID, Content: fmt.Sprintf("Permission denied: %s", reason), IsError: true}, nil
		case permission.AskUser:
			return nil, &ApprovalRequiredError{ToolUse: tu, Signature: sig, Reason: check.Reason}
		}
	}

	content, err := handler(ctx, e.tc, tu.Arguments)
	if err != nil {
		return &ToolResult{ToolUseID: tu.ID, Content: err.Error(), IsError: true}, nil
	}
	return &ToolResult{ToolUseID: tu.ID, Content: content}, nil
}

// cacheApproved reports whether a signature is already covered by an exact
// or pattern approval, consulting the pattern store before the permission
// manager is asked at all.
func (e *Executor) cacheApproved(sig patternstore.Signature) bool {
	if e.patterns == nil {
		return false
	}
	if e.patterns.IsExactApproved(sig) {
		return true
	}
	_, matched := e.patterns.MatchPattern(sig)
	return matched
}

// ExecuteBatch runs a list of tool uses sequentially, preserving order, as
// spec.md §4.H's execute_batch requires. It stops and returns immediately
// on the first ApprovalRequiredError or ErrInterceptedByLoop, leaving the
// remaining uses for the caller to resume or abandon.
func (e *Executor) ExecuteBatch(ctx context.Context, uses []ToolUse) ([]*ToolResult, error) {
	results := make([]*ToolResult, 0, len(uses))
	for _, tu := range uses {
		r, err := e.Execute(ctx, tu)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// contextKeyFor builds a tool's canonical context_key for the approval
// cache, per spec.md §9 Open Question 3: shell tools use "<command> in cwd",
// file tools use the path, network tools use the URL. Tools with no natural
// single-field key (grep, glob) combine their defining fields; unrecognized tools fall back to the raw input so
// two distinct payloads still produce distinct keys.
func contextKeyFor(name string, input json.RawMessage) string {
	var fields map[string]json.RawMessage
	_ = json.Unmarshal(input, &fields)

	str := func(key string) string {
		raw, ok := fields[key]
		if !ok {
			return ""
		}
		var s string
		_ = json.Unmarshal(raw, &s)
		return s
	}

	switch name {
	case "bash":
		return fmt.Sprintf("%s in cwd", str("command"))
	case "read", "write", "edit":
		return str("path")
	case "web_fetch":
		return str("url")
	case "grep":
		return fmt.Sprintf("grep %q glob=%q", str("pattern"), str("glob"))
	case "glob":
		return fmt.Sprintf("glob %q", str("pattern"))
	default:
		return string(input)
	}
}

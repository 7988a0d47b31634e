// Package tools implements the tool registry and executor: the dispatch
// layer between a provider's requested ToolUse and the handler that runs
// it, gated by the pattern store and permission manager.
package tools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/xonecas/symb/internal/provider"
)

// ToolUse is the provider's request to invoke a tool. It is the same shape
// as provider.ToolCall — the executor consumes tool calls straight off a
// ChatStream without any intermediate conversion.
type ToolUse = provider.ToolCall

// ToolResult is the outcome of a tool invocation, bundled back to the
// provider as a tool-role message keyed by ToolUseID.
type ToolResult struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// Definition describes a tool's name, description, and JSON Schema
// parameters — the same information a provider needs to offer the tool to
// the model.
type Definition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToProviderTool converts a Definition into the provider-agnostic Tool
// shape consumed by provider.Provider.ChatStream.
func (d Definition) ToProviderTool() provider.Tool {
	return provider.Tool{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.InputSchema,
	}
}

// ToolContext carries the ambient state a handler needs: the working
// directory tools are rooted at and an optional live-output callback for
// shell-class tools.
type ToolContext struct {
	WorkingDir string
	OnOutput   func(chunk string)
}

// Handler runs a tool's input and returns its result text. A non-nil error
// represents the tool itself failing (a bad command, a missing file, an
// HTTP error) — the executor wraps it into an error ToolResult rather than
// propagating it as a process-level error, per the tool-execution error
// kind: handler failures never escape the executor.
type Handler func(ctx context.Context, tc *ToolContext, input json.RawMessage) (string, error)

// Registry maps tool names to their definition and handler.
type Registry struct {
	mu       sync.RWMutex
	defs     map[string]Definition
	handlers map[string]Handler
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:     make(map[string]Definition),
		handlers: make(map[string]Handler),
	}
}

// Register adds a tool definition and its handler. A later call with the
// same name replaces the earlier one.
func (r *Registry) Register(def Definition, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
	r.handlers[def.Name] = h
}

func (r *Registry) lookup(name string) (Definition, Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return Definition{}, nil, false
	}
	return def, r.handlers[name], true
}

// Definitions returns all registered tool definitions, for advertising to
// a provider via ChatStream's tools argument.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}

// ProviderTools returns every registered definition converted to
// provider.Tool, ready to pass to ChatStream.
func (r *Registry) ProviderTools() []provider.Tool {
	defs := r.Definitions()
	out := make([]provider.Tool, len(defs))
	for i, d := range defs {
		out[i] = d.ToProviderTool()
	}
	return out
}

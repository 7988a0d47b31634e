package tools

import (
	"context"
	"encoding/json"
)

// AskUserQuestionDefinition describes the AskUserQuestion tool for
// advertising to the provider. Its handler is never invoked — Executor.Execute
// special-cases AskUserQuestionName and returns ErrInterceptedByLoop before
// any lookup, per spec.md §4.J: the REPL event loop renders the embedded
// questions itself and replies with the user's choices as a ToolResult
// bundle, so the tool call never reaches the executor's dispatch.
func AskUserQuestionDefinition() Definition {
	return Definition{
		Name: AskUserQuestionName,
		Description: `Ask the user one or more clarifying questions before proceeding.
Each question may offer a list of suggested answers.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"questions": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"question": {"type": "string"},
							"options":  {"type": "array", "items": {"type": "string"}}
						},
						"required": ["question"]
					}
				}
			},
			"required": ["questions"]
		}`),
	}
}

// AskUserQuestionHandler is registered alongside the definition so the
// registry's (Definition, Handler) invariant holds, but Execute rejects the
// tool name before this ever runs.
func AskUserQuestionHandler(_ context.Context, _ *ToolContext, _ json.RawMessage) (string, error) {
	return "", ErrInterceptedByLoop
}

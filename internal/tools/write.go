package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// writeArgs are the arguments to the write tool.
type writeArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// WriteDefinition describes the write tool: create or overwrite a file,
// returning a short summary rather than an echo of the content.
func WriteDefinition() Definition {
	return Definition{
		Name:        "write",
		Description: "Create a file or overwrite it entirely with new content.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path":    {"type": "string", "description": "Path to the file to create or overwrite"},
				"content": {"type": "string", "description": "Full file content"}
			},
			"required": ["path", "content"]
		}`),
	}
}

// WriteHandler implements the write tool.
func WriteHandler(_ context.Context, tc *ToolContext, input json.RawMessage) (string, error) {
	var args writeArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Path == "" {
		return "", fmt.Errorf("path is required")
	}

	absPath, err := resolvePath(tc, args.Path)
	if err != nil {
		return "", err
	}

	_, existed := os.Stat(absPath)
	verb := "Created"
	if existed == nil {
		verb = "Overwrote"
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directories: %w", err)
	}
	if err := os.WriteFile(absPath, []byte(args.Content), 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", args.Path, err)
	}

	lineCount := strings.Count(args.Content, "\n") + 1
	return fmt.Sprintf("%s %s (%d lines)", verb, args.Path, lineCount), nil
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// readArgs are the arguments to the read tool.
type readArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line,omitempty"` // 1-indexed, inclusive
	EndLine   int    `json:"end_line,omitempty"`   // 1-indexed, inclusive
	MaxLines  int    `json:"max_lines,omitempty"`
}

// ReadDefinition describes the read tool: file contents with an optional
// 1-indexed line slice and a cap on the number of lines returned.
func ReadDefinition() Definition {
	return Definition{
		Name:        "read",
		Description: "Read a file's contents, optionally restricted to a line range and capped at max_lines.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path":       {"type": "string", "description": "Path to the file to read"},
				"start_line": {"type": "integer", "description": "1-indexed starting line (inclusive)"},
				"end_line":   {"type": "integer", "description": "1-indexed ending line (inclusive)"},
				"max_lines":  {"type": "integer", "description": "Maximum number of lines to return"}
			},
			"required": ["path"]
		}`),
	}
}

// ReadHandler implements the read tool.
func ReadHandler(_ context.Context, tc *ToolContext, input json.RawMessage) (string, error) {
	var args readArgs
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

	content, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", args.Path, err)
	}

	lines := strings.Split(string(content), "\n")
	start, end := 1, len(lines)
	if args.StartLine > 0 {
		start = args.StartLine
	}
	if args.EndLine > 0 {
		end = args.EndLine
	}
	if start < 1 || start > len(lines) {
		return "", fmt.Errorf("start_line %d out of range (file has %d lines)", start, len(lines))
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return "", fmt.Errorf("invalid range: start_line (%d) > end_line (%d)", start, end)
	}

	selected := lines[start-1 : end]
	truncated := false
	if args.MaxLines > 0 && len(selected) > args.MaxLines {
		selected = selected[:args.MaxLines]
		truncated = true
	}

	out := strings.Join(selected, "\n")
	if truncated {
		out += fmt.Sprintf("\n\n[truncated at %d lines]", args.MaxLines)
	}
	return out, nil
}

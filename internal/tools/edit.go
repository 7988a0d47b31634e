package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// editArgs are the arguments to the edit tool: exact-string replacement.
// OldString must appear exactly once in the file unless ReplaceAll is set,
// per spec.md §4.H and the Edit-tool scenario in §8.
type editArgs struct {
	Path       string `json:"path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

// EditDefinition describes the edit tool.
func EditDefinition() Definition {
	return Definition{
		Name: "edit",
		Description: `Replace exact text in a file. old_string must match uniquely unless replace_all is set,
in which case every occurrence is replaced. Returns a unified diff of the change.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path":        {"type": "string", "description": "Path to the file to edit"},
				"old_string":  {"type": "string", "description": "Exact text to replace"},
				"new_string":  {"type": "string", "description": "Replacement text"},
				"replace_all": {"type": "boolean", "description": "Replace every occurrence instead of requiring a unique match"}
			},
			"required": ["path", "old_string", "new_string"]
		}`),
	}
}

// EditHandler implements the edit tool.
func EditHandler(_ context.Context, tc *ToolContext, input json.RawMessage) (string, error) {
	var args editArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Path == "" {
		return "", fmt.Errorf("path is required")
	}
	if args.OldString == "" {
		return "", fmt.Errorf("old_string must not be empty")
	}
	if args.OldString == args.NewString {
		return "", fmt.Errorf("old_string and new_string are identical")
	}

	absPath, err := resolvePath(tc, args.Path)
	if err != nil {
		return "", err
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", args.Path, err)
	}
	before := string(raw)

	count := strings.Count(before, args.OldString)
	if count == 0 {
		return "", fmt.Errorf("old_string not found in %s", args.Path)
	}
	if count > 1 && !args.ReplaceAll {
		return "", fmt.Errorf("old_string matches %d times in %s; set replace_all or narrow the match to make it unique", count, args.Path)
	}

	var after string
	if args.ReplaceAll {
		after = strings.ReplaceAll(before, args.OldString, args.NewString)
	} else {
		after = strings.Replace(before, args.OldString, args.NewString, 1)
	}

	if err := os.WriteFile(absPath, []byte(after), 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", args.Path, err)
	}

	diff := unifiedDiff(args.Path, before, after)
	added, removed := diffStats(diff)

	summary := fmt.Sprintf("Added %d line(s), removed %d line(s)", added, removed)
	if diff == "" {
		return summary, nil
	}
	return summary + "\n\n" + diff, nil
}

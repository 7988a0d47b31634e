package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xonecas/symb/internal/filesearch"
)

// globArgs are the arguments to the glob tool.
type globArgs struct {
	Pattern    string `json:"pattern"`
	MaxResults int    `json:"max_results,omitempty"`
}

// GlobDefinition describes the glob tool: filename pattern matching under
// the working directory, honoring .gitignore like the teacher's searcher.
func GlobDefinition() Definition {
	return Definition{
		Name:        "glob",
		Description: "Find files whose path matches a pattern (regex over the relative path, .gitignore-aware).",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern":     {"type": "string", "description": "Pattern to match file paths against"},
				"max_results": {"type": "integer", "description": "Maximum number of paths to return. Default: 200"}
			},
			"required": ["pattern"]
		}`),
	}
}

// GlobHandler implements the glob tool.
func GlobHandler(ctx context.Context, tc *ToolContext, input json.RawMessage) (string, error) {
	var args globArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}
	if args.MaxResults <= 0 {
		args.MaxResults = 200
	}

	root := "."
	if tc != nil && tc.WorkingDir != "" {
		root = tc.WorkingDir
	}
	searcher, err := filesearch.NewSearcher(root)
	if err != nil {
		return "", fmt.Errorf("failed to build searcher: %w", err)
	}

	results, err := searcher.Search(ctx, filesearch.Options{
		Pattern:       args.Pattern,
		ContentSearch: false,
		MaxResults:    args.MaxResults,
		RootDir:       root,
	})
	if err != nil {
		return "", fmt.Errorf("glob failed: %w", err)
	}
	if len(results) == 0 {
		return "No files matched.", nil
	}

	paths := make([]string, len(results))
	for i, r := range results {
		paths[i] = r.Path
	}
	sort.Strings(paths)

	out := ""
	for _, p := range paths {
		out += p + "\n"
	}
	return out, nil
}

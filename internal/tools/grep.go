package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/xonecas/symb/internal/filesearch"
)

// grepArgs are the arguments to the grep tool.
type grepArgs struct {
	Pattern    string `json:"pattern"`
	Glob       string `json:"glob,omitempty"`    // optional filename filter, e.g. "*.go"
	Context    int    `json:"context,omitempty"` // lines of context before/after each match
	MaxResults int    `json:"max_results,omitempty"`
}

// GrepDefinition describes the grep tool: a regex search over walked files
// with an optional glob filter and a context-line window, per spec.md §4.H.
func GrepDefinition() Definition {
	return Definition{
		Name:        "grep",
		Description: "Search file contents for a regex pattern, with an optional filename glob filter and context-line window.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern":     {"type": "string", "description": "Regex pattern to search for"},
				"glob":        {"type": "string", "description": "Optional filename glob filter, e.g. \"*.go\""},
				"context":     {"type": "integer", "description": "Lines of context to show before/after each match"},
				"max_results": {"type": "integer", "description": "Maximum number of matches to return. Default: 200"}
			},
			"required": ["pattern"]
		}`),
	}
}

// grepMatch is one matching line plus its surrounding context.
type grepMatch struct {
	path       string
	lineNum    int
	before     []string
	line       string
	after      []string
}

// GrepHandler implements the grep tool.
func GrepHandler(ctx context.Context, tc *ToolContext, input json.RawMessage) (string, error) {
	var args grepArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}
	if args.MaxResults <= 0 {
		args.MaxResults = 200
	}

	regex, err := regexp.Compile(args.Pattern)
	if err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}

	root := "."
	if tc != nil && tc.WorkingDir != "" {
		root = tc.WorkingDir
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid working directory: %w", err)
	}

	gitignore, err := filesearch.NewGitignoreMatcher(filepath.Join(rootAbs, ".gitignore"))
	if err != nil {
		gitignore, _ = filesearch.NewGitignoreMatcher("")
	}

	var matches []grepMatch
	err = filepath.WalkDir(rootAbs, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		relPath, relErr := filepath.Rel(rootAbs, path)
		if relErr != nil {
			return nil
		}

		if d.IsDir() {
			if d.Name() == ".git" || gitignore.Matches(relPath, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if gitignore.Matches(relPath, false) {
			return nil
		}
		if args.Glob != "" {
			matched, _ := filepath.Match(args.Glob, filepath.Base(path))
			if !matched {
				matched, _ = filepath.Match(args.Glob, relPath)
			}
			if !matched {
				return nil
			}
		}

		info, infoErr := d.Info()
		if infoErr != nil || info.Size() > 10*1024*1024 {
			return nil
		}

		fileMatches, readErr := grepFile(path, relPath, regex, args.Context)
		if readErr != nil {
			return nil
		}
		matches = append(matches, fileMatches...)
		if len(matches) >= args.MaxResults {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return "", fmt.Errorf("grep failed: %w", err)
	}

	if len(matches) == 0 {
		return "No matches found.", nil
	}
	if len(matches) > args.MaxResults {
		matches = matches[:args.MaxResults]
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].path != matches[j].path {
			return matches[i].path < matches[j].path
		}
		return matches[i].lineNum < matches[j].lineNum
	})

	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "%s:%d:\n", m.path, m.lineNum)
		for i, l := range m.before {
			fmt.Fprintf(&b, "  %d-%s\n", m.lineNum-len(m.before)+i, l)
		}
		fmt.Fprintf(&b, "  %d:%s\n", m.lineNum, m.line)
		for i, l := range m.after {
			fmt.Fprintf(&b, "  %d+%s\n", m.lineNum+i+1, l)
		}
	}
	return b.String(), nil
}

// grepFile scans a single file for regex matches, buffering contextWindow
// lines before each match and attaching the following contextWindow lines
// once they're read.
func grepFile(absPath, relPath string, regex *regexp.Regexp, contextWindow int) ([]grepMatch, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "\x00") {
			return nil, nil // binary file, skip
		}
		all = append(all, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var matches []grepMatch
	for i, line := range all {
		if !regex.MatchString(line) {
			continue
		}
		m := grepMatch{path: relPath, lineNum: i + 1, line: line}
		if contextWindow > 0 {
			start := i - contextWindow
			if start < 0 {
				start = 0
			}
			end := i + contextWindow + 1
			if end > len(all) {
				end = len(all)
			}
			m.before = all[start:i]
			m.after = all[i+1 : end]
		}
		matches = append(matches, m)
	}
	return matches, nil
}

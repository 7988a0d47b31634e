package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestGlobMatchesFilePaths(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "main.go", "package main\n")
	writeTempFile(t, dir, "README.md", "# hi\n")
	tc := &ToolContext{WorkingDir: dir}

	input, _ := json.Marshal(globArgs{Pattern: `\.go$`})
	out, err := GlobHandler(context.Background(), tc, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "main.go") {
		t.Fatalf("expected main.go to match, got %q", out)
	}
	if strings.Contains(out, "README.md") {
		t.Fatalf("expected README.md to be excluded, got %q", out)
	}
}

func TestGlobNoMatches(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "main.go", "package main\n")
	tc := &ToolContext{WorkingDir: dir}

	input, _ := json.Marshal(globArgs{Pattern: `\.rs$`})
	out, err := GlobHandler(context.Background(), tc, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "No files matched." {
		t.Fatalf("expected a no-match message, got %q", out)
	}
}

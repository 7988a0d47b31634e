package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestEditReplacesUniqueMatch(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "f.txt", "hello world\nfoo\nbye\n")
	tc := &ToolContext{WorkingDir: dir}

	input, _ := json.Marshal(editArgs{Path: "f.txt", OldString: "foo", NewString: "bar"})
	out, err := EditHandler(context.Background(), tc, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := os.ReadFile(filepath.Join(dir, "f.txt"))
	want := "hello world\nbar\nbye\n"
	if string(got) != want {
		t.Fatalf("expected file content %q, got %q", want, string(got))
	}
	if !strings.Contains(out, "Added 1 line(s), removed 1 line(s)") {
		t.Fatalf("expected a line-delta summary, got %q", out)
	}
}

func TestEditRejectsAmbiguousMatchWithoutReplaceAll(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "f.txt", "foo\nfoo\n")
	tc := &ToolContext{WorkingDir: dir}

	input, _ := json.Marshal(editArgs{Path: "f.txt", OldString: "foo", NewString: "bar"})
	_, err := EditHandler(context.Background(), tc, input)
	if err == nil {
		t.Fatalf("expected an error for an ambiguous match")
	}
}

func TestEditReplaceAllReplacesEveryOccurrence(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "f.txt", "foo\nfoo\n")
	tc := &ToolContext{WorkingDir: dir}

	input, _ := json.Marshal(editArgs{Path: "f.txt", OldString: "foo", NewString: "bar", ReplaceAll: true})
	if _, err := EditHandler(context.Background(), tc, input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := os.ReadFile(filepath.Join(dir, "f.txt"))
	if string(got) != "bar\nbar\n" {
		t.Fatalf("expected both occurrences replaced, got %q", string(got))
	}
}

func TestEditMissingOldStringFails(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "f.txt", "hello\n")
	tc := &ToolContext{WorkingDir: dir}

	input, _ := json.Marshal(editArgs{Path: "f.txt", OldString: "nope", NewString: "bar"})
	_, err := EditHandler(context.Background(), tc, input)
	if err == nil {
		t.Fatalf("expected an error when old_string is absent")
	}
}

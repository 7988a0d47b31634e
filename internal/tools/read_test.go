package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestReadReturnsFullFileByDefault(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "f.txt", "a\nb\nc\n")
	tc := &ToolContext{WorkingDir: dir}

	input, _ := json.Marshal(readArgs{Path: "f.txt"})
	out, err := ReadHandler(context.Background(), tc, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "a\nb\nc\n" {
		t.Fatalf("expected full file content, got %q", out)
	}
}

func TestReadRespectsLineRange(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "f.txt", "a\nb\nc\nd\n")
	tc := &ToolContext{WorkingDir: dir}

	input, _ := json.Marshal(readArgs{Path: "f.txt", StartLine: 2, EndLine: 3})
	out, err := ReadHandler(context.Background(), tc, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "b\nc" {
		t.Fatalf("expected lines 2-3, got %q", out)
	}
}

func TestReadMaxLinesTruncates(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "f.txt", "a\nb\nc\nd\n")
	tc := &ToolContext{WorkingDir: dir}

	input, _ := json.Marshal(readArgs{Path: "f.txt", MaxLines: 2})
	out, err := ReadHandler(context.Background(), tc, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "a\nb") || !strings.Contains(out, "[truncated at 2 lines]") {
		t.Fatalf("expected a max_lines truncation marker, got %q", out)
	}
}

func TestReadRejectsPathEscapingWorkingDir(t *testing.T) {
	dir := t.TempDir()
	tc := &ToolContext{WorkingDir: dir}

	input, _ := json.Marshal(readArgs{Path: "../../etc/passwd"})
	_, err := ReadHandler(context.Background(), tc, input)
	if err == nil {
		t.Fatalf("expected an error escaping the working directory")
	}
}

package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xonecas/symb/internal/shell"
)

func TestBashHandlerRunsCommand(t *testing.T) {
	dir := t.TempDir()
	sh := shell.New(dir, nil)
	handler := MakeBashHandler(sh)

	input, _ := json.Marshal(bashArgs{Command: "echo hello"})
	out, err := handler(context.Background(), &ToolContext{WorkingDir: dir}, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "hello") {
		t.Fatalf("expected command output, got %q", out)
	}
}

func TestBashHandlerReportsNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	sh := shell.New(dir, nil)
	handler := MakeBashHandler(sh)

	input, _ := json.Marshal(bashArgs{Command: "exit 3"})
	out, err := handler(context.Background(), &ToolContext{WorkingDir: dir}, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Exit code: 3") {
		t.Fatalf("expected an exit code line, got %q", out)
	}
}

func TestBashHandlerPersistsCwdAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	sh := shell.New(dir, nil)
	handler := MakeBashHandler(sh)

	cd, _ := json.Marshal(bashArgs{Command: "cd sub"})
	if _, err := handler(context.Background(), &ToolContext{}, cd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pwd, _ := json.Marshal(bashArgs{Command: "pwd"})
	out, err := handler(context.Background(), &ToolContext{}, pwd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "sub") {
		t.Fatalf("expected cwd to persist across calls, got %q", out)
	}
}

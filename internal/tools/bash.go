package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xonecas/symb/internal/shell"
)

// bashArgs are the arguments to the bash tool.
type bashArgs struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"` // seconds, default 60
}

const (
	bashDefaultTimeoutSec = 60
	bashMaxTimeoutSec     = 600
	bashMaxOutputChars    = 20000
)

// BashDefinition describes the bash tool: a subshell exec with persistent
// cwd/env across calls within a session.
func BashDefinition() Definition {
	return Definition{
		Name: "bash",
		Description: `Execute a command in an in-process POSIX shell. Working directory and
environment persist across calls within the session. Standard output is
streamed as it is produced; output is truncated at 20000 characters.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "The shell command to execute"},
				"timeout": {"type": "integer", "description": "Timeout in seconds (default 60, max 600)"}
			},
			"required": ["command"]
		}`),
	}
}

// streamWriter forwards each Write to onChunk while also buffering it.
type streamWriter struct {
	buf     *bytes.Buffer
	onChunk func(string)
}

func (w *streamWriter) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	if n > 0 && w.onChunk != nil {
		w.onChunk(string(p[:n]))
	}
	return n, err
}

// MakeBashHandler builds the bash tool handler bound to a single shared
// shell, so cwd and env mutations (cd, export) persist across tool calls
// the same way a real terminal session would.
func MakeBashHandler(sh *shell.Shell) Handler {
	return func(ctx context.Context, tc *ToolContext, input json.RawMessage) (string, error) {
		var args bashArgs
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if args.Command == "" {
			return "", fmt.Errorf("command is required")
		}

		timeout := bashDefaultTimeoutSec
		if args.Timeout > 0 {
			timeout = args.Timeout
		}
		if timeout > bashMaxTimeoutSec {
			timeout = bashMaxTimeoutSec
		}

		runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()

		var stdout, stderr bytes.Buffer
		var onOutput func(chunk string)
		if tc != nil {
			onOutput = tc.OnOutput
		}

		var execErr error
		if onOutput != nil {
			sw := &streamWriter{buf: &stdout, onChunk: onOutput}
			execErr = sh.ExecStream(runCtx, args.Command, sw, &stderr)
		} else {
			execErr = sh.ExecStream(runCtx, args.Command, &stdout, &stderr)
		}

		exitCode := shell.ExitCode(execErr)
		output := formatBashOutput(stdout.String(), stderr.String(), exitCode, runCtx.Err())
		if output == "" {
			output = "(no output)\n"
		}
		if len([]rune(output)) > bashMaxOutputChars {
			output = truncateMiddle(output, bashMaxOutputChars)
		}
		return output, nil
	}
}

// formatBashOutput concatenates stdout and stderr (stderr prefixed by a
// header), appending an "Exit code: N" line on non-zero exit, per
// spec.md §4.H.
func formatBashOutput(stdout, stderr string, exitCode int, ctxErr error) string {
	var b strings.Builder
	if stdout != "" {
		b.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			b.WriteByte('\n')
		}
	}
	if stderr != "" {
		b.WriteString("--- stderr ---\n")
		b.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			b.WriteByte('\n')
		}
	}
	if ctxErr != nil {
		b.WriteString("[timed out]\n")
	}
	if exitCode != 0 {
		fmt.Fprintf(&b, "Exit code: %d\n", exitCode)
	}
	return b.String()
}

func truncateMiddle(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	half := maxChars / 2
	return string(runes[:half]) + "\n\n... [truncated] ...\n\n" + string(runes[len(runes)-half:])
}

// Package activitylog writes agent activity events to a daily JSONL file
// under the application's data directory (agent_YYYY-MM-DD.jsonl).
package activitylog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Event is an agent activity event. Each concrete type supplies its own
// snake_case tag and flattens its fields alongside the top-level timestamp,
// mirroring a Rust #[serde(tag = "event")] enum.
type Event interface {
	Tag() string
	fields() map[string]any
}

// TaskStart records the agent picking up a task from the backlog.
type TaskStart struct {
	ID   string
	Desc string
}

func (TaskStart) Tag() string { return "task_start" }
func (e TaskStart) fields() map[string]any {
	return map[string]any{"id": e.ID, "desc": e.Desc}
}

// ToolUse records a tool invocation.
type ToolUse struct {
	Tool string
	Cmd  string
}

func (ToolUse) Tag() string { return "tool_use" }
func (e ToolUse) fields() map[string]any {
	return map[string]any{"tool": e.Tool, "cmd": e.Cmd}
}

// Commit records a git commit made by the agent.
type Commit struct {
	Repo string
	Hash string
	Msg  string
}

func (Commit) Tag() string { return "commit" }
func (e Commit) fields() map[string]any {
	return map[string]any{"repo": e.Repo, "hash": e.Hash, "msg": e.Msg}
}

// TaskDone records successful task completion.
type TaskDone struct {
	ID        string
	DurationS uint64
}

func (TaskDone) Tag() string { return "task_done" }
func (e TaskDone) fields() map[string]any {
	return map[string]any{"id": e.ID, "duration_s": e.DurationS}
}

// TaskFailed records a failed task.
type TaskFailed struct {
	ID        string
	DurationS uint64
	Reason    string
}

func (TaskFailed) Tag() string { return "task_failed" }
func (e TaskFailed) fields() map[string]any {
	return map[string]any{"id": e.ID, "duration_s": e.DurationS, "reason": e.Reason}
}

// Reflect records a self-reflection or persona update.
type Reflect struct {
	Summary string
}

func (Reflect) Tag() string { return "reflect" }
func (e Reflect) fields() map[string]any {
	return map[string]any{"summary": e.Summary}
}

// Idle records the agent sleeping while waiting for new tasks.
type Idle struct {
	SleepS uint64
}

func (Idle) Tag() string { return "idle" }
func (e Idle) fields() map[string]any {
	return map[string]any{"sleep_s": e.SleepS}
}

// Logger writes activity events to a daily JSONL file.
type Logger struct {
	dir string
}

// New creates a logger writing under dir (caller-supplied data directory),
// creating it if necessary.
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create activity log directory: %w", err)
	}
	return &Logger{dir: dir}, nil
}

// Log appends event to today's log file.
func (l *Logger) Log(event Event) error {
	path := l.TodayPath()

	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"event": event.Tag(),
	}
	for k, v := range event.fields() {
		entry[k] = v
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal activity event: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open activity log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write activity event: %w", err)
	}
	return nil
}

// TodayPath returns the path to today's log file.
func (l *Logger) TodayPath() string {
	date := time.Now().Local().Format("2006-01-02")
	return filepath.Join(l.dir, fmt.Sprintf("agent_%s.jsonl", date))
}

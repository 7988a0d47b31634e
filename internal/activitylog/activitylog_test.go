package activitylog

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func readLines(t *testing.T, l *Logger) []map[string]any {
	t.Helper()
	path := l.TodayPath()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var lines []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("parse line: %v", err)
		}
		lines = append(lines, m)
	}
	return lines
}

func TestLogCreatesFile(t *testing.T) {
	logger, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if _, err := os.Stat(logger.TodayPath()); err == nil {
		t.Fatal("expected log file not to exist yet")
	}
	if err := logger.Log(TaskStart{ID: "001", Desc: "do something"}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, err := os.Stat(logger.TodayPath()); err != nil {
		t.Fatal("expected log file to exist after logging")
	}
}

func TestMultipleLogsAppend(t *testing.T) {
	logger, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := logger.Log(Idle{SleepS: uint64(i)}); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	if lines := readLines(t, logger); len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d", len(lines))
	}
}

func TestLogHasTimestamp(t *testing.T) {
	logger, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if err := logger.Log(Idle{SleepS: 60}); err != nil {
		t.Fatalf("log: %v", err)
	}
	lines := readLines(t, logger)
	ts, _ := lines[0]["ts"].(string)
	if !strings.Contains(ts, "T") {
		t.Fatalf("expected RFC3339 timestamp, got %q", ts)
	}
}

func TestEventTags(t *testing.T) {
	logger, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	cases := []struct {
		event Event
		tag   string
		check func(t *testing.T, line map[string]any)
	}{
		{TaskStart{ID: "42", Desc: "refactor auth"}, "task_start", func(t *testing.T, l map[string]any) {
			if l["id"] != "42" || l["desc"] != "refactor auth" {
				t.Fatalf("unexpected fields: %v", l)
			}
		}},
		{ToolUse{Tool: "bash", Cmd: "go test"}, "tool_use", func(t *testing.T, l map[string]any) {
			if l["tool"] != "bash" || l["cmd"] != "go test" {
				t.Fatalf("unexpected fields: %v", l)
			}
		}},
		{Commit{Repo: "/projects/myapp", Hash: "abc1234", Msg: "feat: add tests"}, "commit", func(t *testing.T, l map[string]any) {
			if l["repo"] != "/projects/myapp" || l["hash"] != "abc1234" {
				t.Fatalf("unexpected fields: %v", l)
			}
		}},
		{TaskDone{ID: "007", DurationS: 142}, "task_done", func(t *testing.T, l map[string]any) {
			if l["id"] != "007" {
				t.Fatalf("unexpected fields: %v", l)
			}
		}},
		{TaskFailed{ID: "003", DurationS: 30, Reason: "build error"}, "task_failed", func(t *testing.T, l map[string]any) {
			if l["reason"] != "build error" {
				t.Fatalf("unexpected fields: %v", l)
			}
		}},
		{Reflect{Summary: "learned a lot"}, "reflect", func(t *testing.T, l map[string]any) {
			if l["summary"] != "learned a lot" {
				t.Fatalf("unexpected fields: %v", l)
			}
		}},
		{Idle{SleepS: 60}, "idle", func(t *testing.T, l map[string]any) {
			if l["sleep_s"] != float64(60) {
				t.Fatalf("unexpected fields: %v", l)
			}
		}},
	}

	for _, c := range cases {
		t.Run(c.tag, func(t *testing.T) {
			dirLogger, err := New(t.TempDir())
			if err != nil {
				t.Fatalf("new logger: %v", err)
			}
			if err := dirLogger.Log(c.event); err != nil {
				t.Fatalf("log: %v", err)
			}
			lines := readLines(t, dirLogger)
			if len(lines) != 1 {
				t.Fatalf("expected 1 line, got %d", len(lines))
			}
			if lines[0]["event"] != c.tag {
				t.Fatalf("expected event %q, got %v", c.tag, lines[0]["event"])
			}
			c.check(t, lines[0])
		})
	}
	_ = logger
}

func TestTodayPathFormat(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	path := logger.TodayPath()
	base := path[len(dir)+1:]
	if !strings.HasPrefix(base, "agent_") || !strings.HasSuffix(base, ".jsonl") {
		t.Fatalf("unexpected filename: %q", base)
	}
	datePart := base[len("agent_") : len(base)-len(".jsonl")]
	if len(datePart) != 10 || !strings.Contains(datePart, "-") {
		t.Fatalf("unexpected date part: %q", datePart)
	}
}

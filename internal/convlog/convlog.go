// Package convlog buffers and appends conversation turns to a JSONL log,
// with weighted user feedback for downstream training use.
package convlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Feedback is the user's rating of a logged interaction.
type Feedback string

const (
	FeedbackGood     Feedback = "good"
	FeedbackBad      Feedback = "bad"
	FeedbackCritical Feedback = "critical"
)

// Weight returns the training weight associated with the feedback tier.
func (f Feedback) Weight() float64 {
	switch f {
	case FeedbackCritical:
		return 10.0
	case FeedbackBad:
		return 3.0
	default:
		return 1.0
	}
}

// TokenUsage records provider-reported token counts for a turn.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Entry is a single logged conversation interaction.
type Entry struct {
	ID        string     `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Query     string     `json:"query"`
	Response  string     `json:"response"`
	Model     string     `json:"model"`
	ToolsUsed []string   `json:"tools_used"`
	Tokens    TokenUsage `json:"tokens"`
	Feedback  *Feedback  `json:"feedback,omitempty"`
	Weight    float64    `json:"weight"`
}

func newEntry(query, response, model string, toolsUsed []string, tokens TokenUsage) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Query:     query,
		Response:  response,
		Model:     model,
		ToolsUsed: toolsUsed,
		Tokens:    tokens,
		Weight:    1.0,
	}
}

func (e *Entry) setFeedback(f Feedback) {
	e.Weight = f.Weight()
	e.Feedback = &f
}

const flushThreshold = 10

// Logger buffers log entries and periodically flushes them to a JSONL file.
type Logger struct {
	mu      sync.Mutex
	logPath string
	buffer  []Entry
}

// New creates a logger writing to logPath, creating its parent directory if
// necessary.
func New(logPath string) (*Logger, error) {
	if dir := filepath.Dir(logPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create logging directory: %w", err)
		}
	}
	return &Logger{logPath: logPath}, nil
}

// LogInteraction buffers a new entry, auto-flushing once flushThreshold
// entries have accumulated. Returns the new entry's ID.
func (l *Logger) LogInteraction(query, response, model string, toolsUsed []string, tokens TokenUsage) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := newEntry(query, response, model, toolsUsed, tokens)
	l.buffer = append(l.buffer, entry)

	if len(l.buffer) >= flushThreshold {
		if err := l.flushLocked(); err != nil {
			return "", err
		}
	}

	return entry.ID, nil
}

// Flush writes any buffered entries to disk.
func (l *Logger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

func (l *Logger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	log.Debug().Int("count", len(l.buffer)).Msg("flushing conversation log entries")

	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, entry := range l.buffer {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal log entry: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("write log entry: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush log writer: %w", err)
	}

	l.buffer = l.buffer[:0]
	return nil
}

// AddFeedback rewrites the log file, attaching feedback to the entry with
// the given ID. Returns an error if the entry is not found.
func (l *Logger) AddFeedback(entryID string, feedback Feedback) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	data, err := os.ReadFile(l.logPath)
	if err != nil {
		return fmt.Errorf("read log file: %w", err)
	}

	lines := splitLines(data)
	var updated []Entry
	found := false

	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fmt.Errorf("parse log entry: %w", err)
		}
		if entry.ID == entryID {
			entry.setFeedback(feedback)
			found = true
		}
		updated = append(updated, entry)
	}

	if !found {
		return fmt.Errorf("log entry %s not found", entryID)
	}

	file, err := os.Create(l.logPath)
	if err != nil {
		return fmt.Errorf("open log file for writing: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, entry := range updated {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal log entry: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Path returns the logger's output path.
func (l *Logger) Path() string { return l.logPath }

// Close flushes any buffered entries. Go has no Drop equivalent, so callers
// must defer Close explicitly at shutdown.
func (l *Logger) Close() error {
	return l.Flush()
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, trimSpace(data[start:i]))
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, trimSpace(data[start:]))
	}
	return lines
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && (b[start] == ' ' || b[start] == '\t' || b[start] == '\r') {
		start++
	}
	for end > start && (b[end-1] == ' ' || b[end-1] == '\t' || b[end-1] == '\r') {
		end--
	}
	return b[start:end]
}

// Package replloop implements the concurrent REPL event loop: a
// single-threaded cooperative scheduler that multiplexes keyboard input,
// provider streaming deltas, tool results, and approval prompts onto one
// ordered event stream per query, while allowing independent queries to
// interleave.
package replloop

import (
	"github.com/xonecas/symb/internal/patternstore"
	"github.com/xonecas/symb/internal/tools"
)

// QueryID identifies one user turn (and any background agent turn) across
// its whole lifetime, from UserInput through QueryComplete/QueryFailed.
type QueryID uint64

// Event is the sum type flowing through the loop's event channel. Every
// concrete event type implements queryID() so the loop can group and order
// events per spec.md §4.J's causal-ordering guarantee.
type Event interface {
	queryID() QueryID
}

// UserInput is a keyboard submit starting a new query.
type UserInput struct {
	QID  QueryID
	Text string
}

func (e UserInput) queryID() QueryID { return e.QID }

// StreamingStarted marks the beginning of a provider stream for a query.
type StreamingStarted struct {
	QID QueryID
}

func (e StreamingStarted) queryID() QueryID { return e.QID }

// StreamingDelta carries one incremental chunk of provider output.
type StreamingDelta struct {
	QID   QueryID
	Delta string
}

func (e StreamingDelta) queryID() QueryID { return e.QID }

// StreamingComplete marks the end of one provider call within a query (a
// query may make several provider calls across tool-use rounds).
type StreamingComplete struct {
	QID          QueryID
	FullResponse string
}

func (e StreamingComplete) queryID() QueryID { return e.QID }

// ApprovalReply is sent back on a ToolApprovalNeeded event's ReplyCh.
type ApprovalReply struct {
	Approved   bool
	Persistent bool // write through to the pattern store, not just cache for this session
}

// ToolApprovalNeeded is emitted when the executor suspends a tool call
// awaiting a user decision. The loop parks the originating query on
// ReplyCh and keeps servicing other events until the reply arrives.
type ToolApprovalNeeded struct {
	QID       QueryID
	ToolUse   tools.ToolUse
	Signature patternstore.Signature
	Reason    string
	ReplyCh   chan<- ApprovalReply
}

func (e ToolApprovalNeeded) queryID() QueryID { return e.QID }

// ToolResult is emitted after a tool use finishes executing.
type ToolResult struct {
	QID    QueryID
	ToolID string
	Result tools.ToolResult
}

func (e ToolResult) queryID() QueryID { return e.QID }

// QuestionAsked is emitted when the model calls AskUserQuestion. The loop
// intercepts this tool by name before dispatch (spec.md §4.J) and renders
// the embedded questions itself rather than handing it to the executor.
type QuestionAsked struct {
	QID       QueryID
	ToolUseID string
	Questions []Question
	ReplyCh   chan<- []string
}

func (e QuestionAsked) queryID() QueryID { return e.QID }

// Question is one embedded question from an AskUserQuestion tool call.
type Question struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// QueryComplete is a terminal success state for a query.
type QueryComplete struct {
	QID      QueryID
	Response string
}

func (e QueryComplete) queryID() QueryID { return e.QID }

// FailureReason tags why a query ended in QueryFailed.
type FailureReason int

const (
	FailureProvider FailureReason = iota
	FailureTool
	FailureCancelled
	FailureInternal
)

// QueryFailed is a terminal failure state for a query.
type QueryFailed struct {
	QID    QueryID
	Reason FailureReason
	Err    error
}

func (e QueryFailed) queryID() QueryID { return e.QID }

// CancelQuery requests that an in-flight query be aborted.
type CancelQuery struct {
	QID QueryID
}

func (e CancelQuery) queryID() QueryID { return e.QID }

// Shutdown requests the loop stop accepting new work and exit once
// in-flight queries finish or are cancelled.
type Shutdown struct{}

func (Shutdown) queryID() QueryID { return 0 }

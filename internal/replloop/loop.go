package replloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/symb/internal/activitylog"
	"github.com/xonecas/symb/internal/convlog"
	"github.com/xonecas/symb/internal/embedding"
	"github.com/xonecas/symb/internal/fallback"
	"github.com/xonecas/symb/internal/memclassify"
	"github.com/xonecas/symb/internal/memtree"
	"github.com/xonecas/symb/internal/patternstore"
	"github.com/xonecas/symb/internal/provider"
	"github.com/xonecas/symb/internal/tools"
)

// defaultMemoryK is the number of memory hits injected as system context,
// per spec.md §4.J step 1.
const defaultMemoryK = 5

// defaultRingCapacity bounds the output event ring; the oldest entry is
// dropped on overflow (spec.md §5 backpressure).
const defaultRingCapacity = 1000

// defaultProviderTimeout is the per-attempt timeout for a provider call
// (spec.md §4.J, §5).
const defaultProviderTimeout = 60 * time.Second

// Options configures a Loop.
type Options struct {
	Chain     *fallback.Chain
	Registry  *tools.Registry
	Executor  *tools.Executor
	Patterns  *patternstore.Store
	Tree      *memtree.Tree
	Embedder  embedding.Engine
	ConvLog   *convlog.Logger
	ActLog    *activitylog.Logger
	MemoryK   int // default defaultMemoryK
	RingCap   int // default defaultRingCapacity
}

// Loop is the concurrent REPL event loop coordinating one or more
// concurrently in-flight queries over a shared provider chain, tool
// executor, and memory store.
type Loop struct {
	chain    *fallback.Chain
	registry *tools.Registry
	executor *tools.Executor
	patterns *patternstore.Store
	tree     *memtree.Tree
	embedder embedding.Engine
	convLog  *convlog.Logger
	actLog   *activitylog.Logger
	memoryK  int

	events chan Event

	mu      sync.Mutex
	cancels map[QueryID]context.CancelFunc

	nextQID atomic.Uint64

	ringMu  sync.Mutex
	ring    []Event
	ringCap int
}

// New builds a Loop from Options, filling in documented defaults for any
// zero-valued tunables.
func New(opts Options) *Loop {
	memK := opts.MemoryK
	if memK <= 0 {
		memK = defaultMemoryK
	}
	ringCap := opts.RingCap
	if ringCap <= 0 {
		ringCap = defaultRingCapacity
	}

	return &Loop{
		chain:    opts.Chain,
		registry: opts.Registry,
		executor: opts.Executor,
		patterns: opts.Patterns,
		tree:     opts.Tree,
		embedder: opts.Embedder,
		convLog:  opts.ConvLog,
		actLog:   opts.ActLog,
		memoryK:  memK,
		events:   make(chan Event, 256),
		cancels:  make(map[QueryID]context.CancelFunc),
		ringCap:  ringCap,
	}
}

// Events returns the loop's ordered event stream for a UI or test harness
// to consume. Events for a given query_id arrive in causal order; events
// from concurrent queries may interleave.
func (l *Loop) Events() <-chan Event {
	return l.events
}

// Submit starts a new query for the given user input and returns its
// QueryID immediately; the agent-turn protocol runs on its own goroutine.
func (l *Loop) Submit(ctx context.Context, text string) QueryID {
	qid := QueryID(l.nextQID.Add(1))
	qctx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	l.cancels[qid] = cancel
	l.mu.Unlock()

	l.emit(UserInput{QID: qid, Text: text})

	go func() {
		defer func() {
			l.mu.Lock()
			delete(l.cancels, qid)
			l.mu.Unlock()
			cancel()
		}()
		l.runQuery(qctx, qid, text)
	}()

	return qid
}

// Cancel requests that an in-flight query stop. Its provider stream is
// signaled to close, pending tool executions for that query are dropped,
// and a QueryFailed{cancelled} event follows.
func (l *Loop) Cancel(qid QueryID) {
	l.mu.Lock()
	cancel, ok := l.cancels[qid]
	l.mu.Unlock()
	if ok {
		cancel()
	}
}

// Shutdown cancels every in-flight query. Callers should stop calling
// Submit afterward; in-flight goroutines still emit their terminal events.
func (l *Loop) Shutdown() {
	l.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(l.cancels))
	for _, c := range l.cancels {
		cancels = append(cancels, c)
	}
	l.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	l.emit(Shutdown{})
}

// emit pushes an event onto both the consumer channel (non-blocking, best
// effort) and the bounded output ring.
func (l *Loop) emit(e Event) {
	l.ringMu.Lock()
	l.ring = append(l.ring, e)
	if len(l.ring) > l.ringCap {
		l.ring = l.ring[len(l.ring)-l.ringCap:]
	}
	l.ringMu.Unlock()

	select {
	case l.events <- e:
	default:
		// Consumer is behind; the ring already has the durable copy of
		// this event, so a dropped send here only delays live delivery.
		log.Warn().Msg("replloop: event channel full, event retained in ring only")
	}
}

// RingSnapshot returns a copy of the current bounded output ring, oldest
// first.
func (l *Loop) RingSnapshot() []Event {
	l.ringMu.Lock()
	defer l.ringMu.Unlock()
	out := make([]Event, len(l.ring))
	copy(out, l.ring)
	return out
}

// runQuery drives the per-query agent-turn protocol of spec.md §4.J:
// memory injection, fallback-chain call, tool-use rounds, classification,
// and logging.
func (l *Loop) runQuery(ctx context.Context, qid QueryID, text string) {
	history := []provider.Message{
		{Role: "system", Content: l.systemPrompt(text)},
		{Role: "user", Content: text},
	}

	providerTools := l.registry.ProviderTools()
	var toolsUsed []string
	var lastResponse string
	var lastModel string

	const maxToolRounds = 60
	for round := 0; round < maxToolRounds; round++ {
		if ctx.Err() != nil {
			l.emit(QueryFailed{QID: qid, Reason: FailureCancelled, Err: ctx.Err()})
			return
		}

		l.emit(StreamingStarted{QID: qid})

		attemptCtx, cancelAttempt := context.WithTimeout(ctx, defaultProviderTimeout)
		resp, providerName, err := l.callProvider(attemptCtx, qid, history, providerTools)
		cancelAttempt()
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				l.emit(QueryFailed{QID: qid, Reason: FailureCancelled, Err: ctx.Err()})
				return
			}
			l.emit(QueryFailed{QID: qid, Reason: FailureProvider, Err: err})
			return
		}
		lastModel = providerName

		l.emit(StreamingComplete{QID: qid, FullResponse: resp.Content})

		assistantMsg := provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			Reasoning: resp.Reasoning,
			ToolCalls: resp.ToolCalls,
			CreatedAt: time.Now(),
		}
		history = append(history, assistantMsg)
		lastResponse = resp.Content

		if len(resp.ToolCalls) == 0 {
			l.finalizeQuery(ctx, qid, text, lastResponse, lastModel, toolsUsed, resp.InputTokens, resp.OutputTokens)
			return
		}

		seenIDs := make(map[string]bool, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			if seenIDs[tc.ID] {
				l.emit(QueryFailed{QID: qid, Reason: FailureInternal, Err: fmt.Errorf("duplicate tool use id %q in one assistant message", tc.ID)})
				return
			}
			seenIDs[tc.ID] = true
		}

		resultMsgs, ok := l.runToolRound(ctx, qid, resp.ToolCalls)
		if !ok {
			l.emit(QueryFailed{QID: qid, Reason: FailureCancelled, Err: context.Canceled})
			return
		}
		for _, tc := range resp.ToolCalls {
			toolsUsed = append(toolsUsed, tc.Name)
		}
		history = append(history, resultMsgs...)
	}

	l.emit(QueryFailed{QID: qid, Reason: FailureInternal, Err: fmt.Errorf("tool round limit (%d) exceeded", maxToolRounds)})
}

func (l *Loop) systemPrompt(queryText string) string {
	base := "You are a coding assistant with access to tools for reading, writing, and executing code."

	hits := l.retrieveMemory(queryText)
	if len(hits) == 0 {
		return provider.WithAlignment(base)
	}

	memoryContext := "\n\nRelevant context from earlier in this project:\n"
	for _, h := range hits {
		memoryContext += fmt.Sprintf("- %s\n", h.Text)
	}
	return provider.WithAlignment(base + memoryContext)
}

func (l *Loop) retrieveMemory(queryText string) []memtree.RetrievalHit {
	if l.tree == nil || l.embedder == nil {
		return nil
	}
	emb := l.embedder.Embed(queryText)
	return l.tree.Retrieve(emb, l.memoryK)
}

// callProvider runs one fallback-chain call and collects its streamed
// events, forwarding text deltas as StreamingDelta.
func (l *Loop) callProvider(ctx context.Context, qid QueryID, history []provider.Message, providerTools []provider.Tool) (*provider.ChatResponse, string, error) {
	ch, providerName, err := l.chain.ChatStream(ctx, history, providerTools)
	if err != nil {
		return nil, providerName, err
	}

	var resp provider.ChatResponse
	tca := newToolCallAccumulator()

	for evt := range ch {
		switch evt.Type {
		case provider.EventContentDelta:
			resp.Content += evt.Content
			l.emit(StreamingDelta{QID: qid, Delta: evt.Content})
		case provider.EventReasoningDelta:
			resp.Reasoning += evt.Content
		case provider.EventToolCallBegin:
			tca.begin(evt)
		case provider.EventToolCallDelta:
			tca.delta(evt)
		case provider.EventUsage:
			if evt.InputTokens > resp.InputTokens {
				resp.InputTokens = evt.InputTokens
			}
			if evt.OutputTokens > resp.OutputTokens {
				resp.OutputTokens = evt.OutputTokens
			}
		case provider.EventError:
			return nil, providerName, evt.Err
		}
	}
	resp.ToolCalls = tca.finalize()
	return &resp, providerName, nil
}

// runToolRound executes every tool call from one assistant message in
// order, intercepting AskUserQuestion and suspending on approval as
// required, and returns the corresponding tool-result messages. ok is
// false if the query was cancelled mid-round.
func (l *Loop) runToolRound(ctx context.Context, qid QueryID, calls []provider.ToolCall) ([]provider.Message, bool) {
	results := make([]provider.Message, 0, len(calls))

	for _, tc := range calls {
		if ctx.Err() != nil {
			return results, false
		}

		if tc.Name == tools.AskUserQuestionName {
			content, ok := l.askUserQuestion(ctx, qid, tc)
			if !ok {
				return results, false
			}
			results = append(results, provider.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: tc.ID,
			})
			continue
		}

		result, err := l.executeWithApproval(ctx, qid, tc)
		if err != nil {
			return results, false
		}

		l.emit(ToolResult{QID: qid, ToolID: tc.ID, Result: *result})
		results = append(results, provider.Message{
			Role:       "tool",
			Content:    result.Content,
			ToolCallID: result.ToolUseID,
		})
	}

	return results, true
}

// executeWithApproval runs a tool use, suspending on ApprovalRequiredError
// until the user's reply arrives, then retrying exactly once.
func (l *Loop) executeWithApproval(ctx context.Context, qid QueryID, tc provider.ToolCall) (*tools.ToolResult, error) {
	result, err := l.executor.Execute(ctx, tc)
	if err == nil {
		return result, nil
	}

	var approvalErr *tools.ApprovalRequiredError
	if !errors.As(err, &approvalErr) {
		return nil, err
	}

	replyCh := make(chan ApprovalReply, 1)
	l.emit(ToolApprovalNeeded{
		QID:       qid,
		ToolUse:   approvalErr.ToolUse,
		Signature: approvalErr.Signature,
		Reason:    approvalErr.Reason,
		ReplyCh:   replyCh,
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case reply := <-replyCh:
		if !reply.Approved {
			return &tools.ToolResult{
				ToolUseID: tc.ID,
				Content:   fmt.Sprintf("Permission denied: %s", approvalErr.Reason),
				IsError:   true,
			}, nil
		}
		if l.patterns != nil {
			l.patterns.ApproveExact(approvalErr.Signature, reply.Persistent)
		}
		return l.executor.Execute(ctx, tc)
	}
}

// askUserQuestion renders the embedded questions via the loop's own
// channel rather than dispatching to the executor, per spec.md §4.J.
func (l *Loop) askUserQuestion(ctx context.Context, qid QueryID, tc provider.ToolCall) (string, bool) {
	var args struct {
		Questions []Question `json:"questions"`
	}
	if err := json.Unmarshal(tc.Arguments, &args); err != nil {
		return fmt.Sprintf("Could not parse questions: %v", err), true
	}

	replyCh := make(chan []string, 1)
	l.emit(QuestionAsked{QID: qid, ToolUseID: tc.ID, Questions: args.Questions, ReplyCh: replyCh})

	select {
	case <-ctx.Done():
		return "", false
	case answers := <-replyCh:
		out, _ := json.Marshal(answers)
		return string(out), true
	}
}

// finalizeQuery classifies and stores the user/assistant turn, writes the
// conversation log entry, and emits QueryComplete.
func (l *Loop) finalizeQuery(ctx context.Context, qid QueryID, userText, assistantText, model string, toolsUsed []string, inputTokens, outputTokens int) {
	l.classifyAndStore("user", userText)
	l.classifyAndStore("assistant", assistantText)

	if l.convLog != nil {
		if _, err := l.convLog.LogInteraction(userText, assistantText, model, toolsUsed, convlog.TokenUsage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
		}); err != nil {
			log.Warn().Err(err).Msg("replloop: failed to write conversation log entry")
		}
	}
	if l.actLog != nil {
		if err := l.actLog.Log(activitylog.TaskDone{ID: fmt.Sprintf("q%d", qid)}); err != nil {
			log.Warn().Err(err).Msg("replloop: failed to write activity log entry")
		}
	}

	l.emit(QueryComplete{QID: qid, Response: assistantText})
}

func (l *Loop) classifyAndStore(role, content string) {
	if l.tree == nil || l.embedder == nil {
		return
	}
	stored, importance, ok := memclassify.Classify(role, content)
	if !ok || importance == memclassify.Discard {
		return
	}
	emb := l.embedder.Embed(stored)
	if _, err := l.tree.Insert(stored, emb, memtree.Importance(importance)); err != nil {
		log.Warn().Err(err).Msg("replloop: failed to insert memory node")
	}
}

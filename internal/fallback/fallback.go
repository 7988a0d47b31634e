// Package fallback implements the provider fallback chain: an ordered list
// of providers tried in turn, each given its own retry budget for transient
// failures before the chain moves on to the next provider.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/symb/internal/provider"
)

// Chain holds an ordered list of providers. The order is fixed for the
// process lifetime; there is no cross-request health tracking (spec.md
// §4.E) — a provider that failed on the previous call is still tried first
// on the next one.
type Chain struct {
	providers []provider.Provider
}

// New builds a fallback chain from an ordered provider list. The first
// provider is tried first; later providers are only reached on fallthrough.
func New(providers ...provider.Provider) *Chain {
	return &Chain{providers: providers}
}

// ErrChainExhausted wraps the last error seen when every provider in the
// chain failed.
var ErrChainExhausted = errors.New("fallback chain: all providers failed")

// charsPerToken is a rough heuristic for bounding history to a provider's
// context window without a tokenizer dependency per provider.
const charsPerToken = 4

// ChatStream tries each provider in order. For each provider it truncates
// the message history to that provider's advertised context window, then
// retries transient failures up to retry.MaxRetries times before falling
// through to the next provider. A non-retryable (ProviderReject) error
// falls through immediately without consuming the rest of the retry budget.
func (c *Chain) ChatStream(ctx context.Context, messages []provider.Message, tools []provider.Tool) (<-chan provider.StreamEvent, string, error) {
	if len(c.providers) == 0 {
		return nil, "", errors.New("fallback chain: no providers configured")
	}

	var lastErr error
	for _, p := range c.providers {
		truncated := truncateHistory(messages, p.ContextLimitTokens())

		ch, err := c.attemptWithRetry(ctx, p, truncated, tools)
		if err == nil {
			return ch, p.Name(), nil
		}

		lastErr = err
		log.Warn().Str("provider", p.Name()).Err(err).Msg("fallback: provider exhausted, trying next")
	}

	return nil, "", fmt.Errorf("%w: %v", ErrChainExhausted, lastErr)
}

// attemptWithRetry calls ChatStream against a single provider, retrying
// transient errors with exponential backoff up to maxRetries attempts.
// A non-retryable error returns immediately on the first attempt. A
// provider can fail either synchronously (ChatStream returns an error) or
// by sending EventError as its first event once streaming begins; both are
// classified and retried the same way.
func (c *Chain) attemptWithRetry(ctx context.Context, p provider.Provider, messages []provider.Message, tools []provider.Tool) (<-chan provider.StreamEvent, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		ch, err := p.ChatStream(ctx, messages, tools)
		if err == nil {
			ch, err = peekStreamError(ch)
		}

		if err == nil {
			return ch, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return nil, err
		}

		if attempt < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<uint(attempt))
			log.Warn().Str("provider", p.Name()).Err(err).Int("attempt", attempt+1).
				Dur("delay", delay).Msg("fallback: transient error, retrying")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return nil, lastErr
}

// peekStreamError reads the first event off a provider's stream to detect
// an immediate EventError (how async providers surface connect/auth
// failures that occur after the channel is already handed back). If the
// first event is not an error, it is replayed ahead of the rest of the
// stream on a relay channel so no event is lost to the caller.
func peekStreamError(ch <-chan provider.StreamEvent) (<-chan provider.StreamEvent, error) {
	first, ok := <-ch
	if !ok {
		return ch, nil
	}
	if first.Type == provider.EventError {
		return nil, first.Err
	}

	relay := make(chan provider.StreamEvent, 1)
	relay <- first
	go func() {
		defer close(relay)
		for ev := range ch {
			relay <- ev
		}
	}()
	return relay, nil
}

// maxRetries and baseDelay mirror internal/retry's constants; fallback
// needs its own attempt loop (rather than internal/retry.Do) because it
// must exit early on a non-retryable error instead of exhausting the full
// retry budget on every failure.
const (
	maxRetries = 3
	baseDelay  = 1 * time.Second
)

// IsTransient classifies an error per spec.md §7: network timeouts, 5xx,
// 429, and connection resets are retried by the same provider; anything
// else (400 schema mismatch, 401/403, unsupported model) is a
// ProviderReject and falls through to the next provider immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout", "timed out",
		"connection reset", "connection refused", "broken pipe", "eof",
		"429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// truncateHistory bounds messages to fit contextLimitTokens, preserving the
// leading system message (if any) and the trailing user message, dropping
// the oldest messages in between first. Uses a character-count heuristic
// rather than a real tokenizer, consistent across all adapters.
func truncateHistory(messages []provider.Message, contextLimitTokens int) []provider.Message {
	if contextLimitTokens <= 0 || len(messages) == 0 {
		return messages
	}

	budget := contextLimitTokens * charsPerToken
	if totalChars(messages) <= budget {
		return messages
	}

	var lead *provider.Message
	start := 0
	if len(messages) > 0 && messages[0].Role == "system" {
		lead = &messages[0]
		start = 1
	}

	var trail *provider.Message
	end := len(messages)
	if end > start {
		trail = &messages[end-1]
		end--
	}

	middle := messages[start:end]

	fixedChars := 0
	if lead != nil {
		fixedChars += len(lead.Content)
	}
	if trail != nil {
		fixedChars += len(trail.Content)
	}

	kept := make([]provider.Message, 0, len(middle))
	usedChars := fixedChars
	for i := len(middle) - 1; i >= 0; i-- {
		m := middle[i]
		usedChars += len(m.Content)
		if usedChars > budget && len(kept) > 0 {
			break
		}
		kept = append(kept, m)
	}
	// kept was built newest-first; restore chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	result := make([]provider.Message, 0, len(kept)+2)
	if lead != nil {
		result = append(result, *lead)
	}
	result = append(result, kept...)
	if trail != nil && (lead == nil || trail != lead) {
		result = append(result, *trail)
	}
	return result
}

func totalChars(messages []provider.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total
}

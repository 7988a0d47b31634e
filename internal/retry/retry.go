// Package retry provides a generic exponential-backoff retry wrapper.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// MaxRetries is the total number of attempts made before giving up.
const MaxRetries = 3

// BaseDelay is the delay before the first retry; it doubles each
// subsequent attempt.
const BaseDelay = 1 * time.Second

// stopError marks an error as non-retryable; Do returns it immediately
// instead of consuming the rest of the retry budget.
type stopError struct{ err error }

func (s *stopError) Error() string { return s.err.Error() }
func (s *stopError) Unwrap() error { return s.err }

// Stop wraps err so Do returns it on the first attempt rather than retrying.
// Use it for errors a retry can never fix, such as a 4xx HTTP response.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// Do calls fn up to MaxRetries times, waiting BaseDelay*2^attempt between
// attempts, and returns the first success or the last error once attempts
// are exhausted. An error wrapped with Stop is returned immediately. Respects
// ctx cancellation during the backoff sleep.
func Do[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		var stop *stopError
		if errors.As(err, &stop) {
			return zero, stop.err
		}
		lastErr = err

		if attempt < MaxRetries-1 {
			delay := BaseDelay * time.Duration(1<<uint(attempt))
			log.Warn().Err(err).Int("attempt", attempt+1).Int("max_retries", MaxRetries).
				Dur("delay", delay).Msg("request failed, retrying")

			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return zero, lastErr
}

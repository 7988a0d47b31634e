package retry

import (
	"context"
	"errors"
	"testing"
)

func TestSucceedsOnFirstTryNoRetries(t *testing.T) {
	result, err := Do(context.Background(), func() (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Fatalf("expected 42, got %d", result)
	}
}

func TestRetriesTwiceThenSucceeds(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 99, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 99 {
		t.Fatalf("expected 99, got %d", result)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestExhaustsAllRetriesReturnsLastError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), func() (int, error) {
		calls++
		return 0, errors.New("persistent error")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "persistent error" {
		t.Fatalf("expected last error to surface, got %v", err)
	}
	if calls != MaxRetries {
		t.Fatalf("expected exactly %d calls, got %d", MaxRetries, calls)
	}
}

func TestContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, func() (int, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		return 0, errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStopReturnsImmediatelyWithoutRetrying(t *testing.T) {
	calls := 0
	sentinel := errors.New("not found")
	_, err := Do(context.Background(), func() (int, error) {
		calls++
		return 0, Stop(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}
}

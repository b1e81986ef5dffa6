package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/lawgraph/pkg/graph"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("made %d calls, want 3", calls)
	}
}

func TestRetryExhaustionWrapsExternalUnavailable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		return errors.New("still down")
	})
	if !errors.Is(err, graph.ErrExternalUnavailable) {
		t.Fatalf("error = %v, want ErrExternalUnavailable", err)
	}
	if calls != 3 {
		t.Errorf("made %d calls, want 3", calls)
	}
}

func TestRetryStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, fastRetry(10), func(context.Context) error {
		calls++
		cancel()
		return errors.New("fail then cancel")
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if errors.Is(err, graph.ErrExternalUnavailable) {
		t.Error("cancellation must not be classified as exhaustion")
	}
	if calls != 1 {
		t.Errorf("made %d calls after cancellation, want 1", calls)
	}
}

func TestRetryDoesNotRetryDeadlineErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(5), func(context.Context) error {
		calls++
		return context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded", err)
	}
	if calls != 1 {
		t.Errorf("deadline errors were retried %d times", calls)
	}
}

func TestRetryValueReturnsResult(t *testing.T) {
	calls := 0
	got, err := RetryValue(context.Background(), fastRetry(3), func(context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("RetryValue: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

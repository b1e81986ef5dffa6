package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerLifecycle(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Name: "test", MaxFailures: 2, ResetTimeout: 10 * time.Millisecond, HalfOpenProbes: 1})

	boom := errors.New("boom")
	for range 2 {
		if err := cb.Execute(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("expected underlying error, got %v", err)
		}
	}
	if cb.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open breaker must reject, got %v", err)
	}

	time.Sleep(15 * time.Millisecond)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state = %v, want half-open after reset timeout", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if cb.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed after successful probe", cb.State())
	}
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Name: "test", MaxFailures: 3})

	boom := errors.New("boom")
	_ = cb.Execute(func() error { return boom })
	_ = cb.Execute(func() error { return boom })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return boom })
	_ = cb.Execute(func() error { return boom })

	if cb.State() != BreakerClosed {
		t.Fatalf("interleaved success must reset the failure count, state = %v", cb.State())
	}
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Name: "test", MaxFailures: 1, ResetTimeout: 5 * time.Millisecond, HalfOpenProbes: 1})

	boom := errors.New("boom")
	_ = cb.Execute(func() error { return boom })
	time.Sleep(10 * time.Millisecond)

	if err := cb.Execute(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("probe call error = %v", err)
	}
	if cb.State() != BreakerOpen {
		t.Fatalf("failed probe must re-open, state = %v", cb.State())
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Name: "test", MaxFailures: 1, ResetTimeout: time.Hour})

	_ = cb.Execute(func() error { return errors.New("boom") })
	if cb.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	cb.Reset()
	if cb.State() != BreakerClosed {
		t.Fatalf("state after Reset = %v, want closed", cb.State())
	}
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/lawgraph/pkg/graph"
)

// RetryConfig bounds the backoff applied to transient store and provider
// failures at the adapter boundary. Zero values are replaced with the
// documented defaults.
type RetryConfig struct {
	// Attempts is the total number of tries including the first. Default 3.
	Attempts int

	// BaseDelay is the wait before the second attempt; each further attempt
	// doubles it. Default 200ms.
	BaseDelay time.Duration

	// MaxDelay caps the per-attempt wait. Default 5s.
	MaxDelay time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 200 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	return c
}

// Retry runs fn with bounded exponential backoff. Context cancellation stops
// the loop immediately with the context error. When every attempt fails the
// last error is returned wrapped in [graph.ErrExternalUnavailable] so callers
// can classify it without inspecting the provider-specific cause.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	delay := cfg.BaseDelay
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if attempt == cfg.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return fmt.Errorf("%w: after %d attempts: %v", graph.ErrExternalUnavailable, cfg.Attempts, lastErr)
}

// RetryValue is the value-returning form of [Retry]. A package-level function
// because Go does not support method-level type parameters.
func RetryValue[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := Retry(ctx, cfg, func(ctx context.Context) error {
		var innerErr error
		out, innerErr = fn(ctx)
		return innerErr
	})
	return out, err
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/lawgraph/pkg/provider/embeddings"
)

// ErrAllProvidersFailed is returned when every provider in an
// [EmbeddingChain] fails or has an open circuit breaker.
var ErrAllProvidersFailed = errors.New("all embedding providers failed")

// Compile-time check that the chain is itself a provider.
var _ embeddings.Provider = (*EmbeddingChain)(nil)

// chainEntry pairs an embedding provider with its dedicated breaker.
type chainEntry struct {
	name     string
	provider embeddings.Provider
	breaker  *CircuitBreaker
}

// EmbeddingChain is an [embeddings.Provider] that wraps a primary and zero
// or more fallback providers, each behind its own circuit breaker. When the
// primary fails (or its breaker is open) the next healthy fallback is tried
// in registration order.
//
// All providers in a chain must produce vectors of the same dimension in the
// same embedding space; mixing models across a chain silently corrupts the
// similarity geometry. [EmbeddingChain.AddFallback] enforces the dimension
// part of that contract.
//
// EmbeddingChain is safe for concurrent use.
type EmbeddingChain struct {
	entries []chainEntry
	breaker BreakerConfig
}

// NewEmbeddingChain creates a chain with primary as the first entry.
func NewEmbeddingChain(primaryName string, primary embeddings.Provider, breaker BreakerConfig) *EmbeddingChain {
	cfg := breaker
	cfg.Name = primaryName
	return &EmbeddingChain{
		entries: []chainEntry{{
			name:     primaryName,
			provider: primary,
			breaker:  NewCircuitBreaker(cfg),
		}},
		breaker: breaker,
	}
}

// AddFallback appends a fallback provider, tried after all earlier entries.
// Returns an error when the fallback's dimension differs from the primary's.
func (c *EmbeddingChain) AddFallback(name string, p embeddings.Provider) error {
	if want, got := c.entries[0].provider.Dimensions(), p.Dimensions(); want != got {
		return fmt.Errorf("resilience: fallback %q dimension %d does not match primary dimension %d", name, got, want)
	}
	cfg := c.breaker
	cfg.Name = name
	c.entries = append(c.entries, chainEntry{
		name:     name,
		provider: p,
		breaker:  NewCircuitBreaker(cfg),
	})
	return nil
}

// Embed implements embeddings.Provider, trying each entry until one succeeds.
func (c *EmbeddingChain) Embed(ctx context.Context, text string) ([]float32, error) {
	return execute(c, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch implements embeddings.Provider, trying each entry until one
// succeeds.
func (c *EmbeddingChain) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return execute(c, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions implements embeddings.Provider, delegating to the primary.
func (c *EmbeddingChain) Dimensions() int {
	return c.entries[0].provider.Dimensions()
}

// ModelID implements embeddings.Provider, delegating to the primary.
func (c *EmbeddingChain) ModelID() string {
	return c.entries[0].provider.ModelID()
}

// execute walks the chain in order, skipping open breakers. Returns
// [ErrAllProvidersFailed] wrapped with the last error when nothing succeeds.
func execute[R any](c *EmbeddingChain, fn func(embeddings.Provider) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range c.entries {
		entry := &c.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.provider)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping embedding provider (circuit open)", "provider", entry.name)
		} else {
			slog.Warn("embedding provider failed, trying next",
				"provider", entry.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

// Package naming provides the advisory domain-naming collaborator: given a
// few sample paragraph contents from a freshly formed domain, it asks an LLM
// for a short human-readable label.
//
// The result is never load-bearing. Callers (the domain clusterer) fall back
// to an id-derived name when the collaborator errors, times out, or returns
// an empty string.
package naming

import (
	"context"
	"fmt"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
)

// maxSampleRunes bounds each sample passed into the prompt so a handful of
// statutory paragraphs cannot blow the context window.
const maxSampleRunes = 300

// requestTimeout caps a single naming call. Naming happens during ingestion
// and rebalancing, never on the query path, but a hung LLM must not stall a
// rebalance indefinitely.
const requestTimeout = 15 * time.Second

const systemPrompt = "You label clusters of Korean statutory paragraphs. " +
	"Given sample paragraphs from one cluster, answer with a short topical name " +
	"(2-6 words, Korean or English, no quotes, no explanation)."

// Namer asks an LLM backend for cluster names. Safe for concurrent use.
type Namer struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Namer for the given provider name and model.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama". Options
// carry credentials (e.g. anyllmlib.WithAPIKey); without an API key option
// the backend falls back to its environment variable.
func New(providerName, model string, opts ...anyllmlib.Option) (*Namer, error) {
	if model == "" {
		return nil, fmt.Errorf("naming: model must not be empty")
	}

	var (
		backend anyllmlib.Provider
		err     error
	)
	switch strings.ToLower(providerName) {
	case "openai":
		backend, err = anyllmoai.New(opts...)
	case "anthropic":
		backend, err = anthropic.New(opts...)
	case "gemini":
		backend, err = gemini.New(opts...)
	case "ollama":
		backend, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("naming: unsupported provider %q; supported: openai, anthropic, gemini, ollama", providerName)
	}
	if err != nil {
		return nil, fmt.Errorf("naming: create %q backend: %w", providerName, err)
	}

	return &Namer{backend: backend, model: model}, nil
}

// NameDomain asks the backend for a label. Returns the trimmed first line of
// the completion; an empty completion is surfaced as an error so callers
// take their fallback path.
func (n *Namer) NameDomain(ctx context.Context, samples []string) (string, error) {
	if len(samples) == 0 {
		return "", fmt.Errorf("naming: no samples")
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var sb strings.Builder
	for i, s := range samples {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&sb, "- %s\n", truncateRunes(s, maxSampleRunes))
	}

	resp, err := n.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model: n.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: anyllmlib.RoleUser, Content: sb.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("naming: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("naming: empty choices in response")
	}

	name := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	if i := strings.IndexByte(name, '\n'); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	if name == "" {
		return "", fmt.Errorf("naming: empty name in response")
	}
	return name, nil
}

// truncateRunes shortens s to at most n runes.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

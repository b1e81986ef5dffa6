// Package ollama provides an embeddings provider backed by a local Ollama server.
//
// Ollama (https://ollama.com) hosts local embedding models. This package uses
// the native /api/embed endpoint and is the usual fallback behind the OpenAI
// provider when statute corpora must be embedded without leaving the machine.
//
// Unlike the OpenAI API, Ollama has no server-side dimension parameter, but
// the retrieval engine pins each vector space to a fixed width (768 for the
// node space, 3072 for the relation space) and the fallback chain rejects
// providers whose width differs from the primary's. [WithDimensions] closes
// that gap client-side: when the model's native output is wider than the
// configured space, vectors are truncated to the leading components and
// re-normalized (Matryoshka-style, as supported by nomic-embed-text and
// mxbai-embed-large); a model narrower than the space is a configuration
// error surfaced on first use.
//
// Example usage:
//
//	p, err := ollama.New("", "nomic-embed-text", ollama.WithDimensions(768))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	vec, err := p.Embed(ctx, "건축물의 용도변경 절차")
//
// Only standard library packages are used — no additional dependencies are
// required beyond Go's net/http and encoding/json.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/lawgraph/pkg/provider/embeddings"
)

// DefaultBaseURL is the default base URL for a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

// Ensure Provider implements the embeddings.Provider interface at compile time.
var _ embeddings.Provider = (*Provider)(nil)

// nativeDimensions maps recognised Ollama embedding models (tag stripped) to
// their native output width. Models absent from the table are probed against
// the live server on first use.
var nativeDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,
	"bge-m3":                 1024,
}

// Provider implements embeddings.Provider using a local Ollama server.
//
// space is the vector-space width the provider must emit (zero means "the
// model's native width"). native is the model's own output width, resolved
// from [nativeDimensions] or by a one-time probe. When space < native every
// vector is truncated and re-normalized before it leaves the provider.
//
// Provider is safe for concurrent use.
type Provider struct {
	baseURL    string
	model      string
	httpClient *http.Client
	space      int

	native     int
	detectOnce sync.Once
}

// config holds optional configuration collected from functional options.
type config struct {
	timeout time.Duration
	space   int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout on the underlying HTTP client.
// A zero or negative value means no timeout (the default).
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDimensions pins the provider to a vector-space width. Vectors from a
// model with a wider native output are truncated to the leading components
// and re-normalized; a narrower model fails on first embed. Without this
// option the model's native width is used as-is.
func WithDimensions(dims int) Option {
	return func(c *config) {
		c.space = dims
	}
}

// New constructs a new Ollama Provider.
//
// baseURL is the base URL of the Ollama server; if empty, DefaultBaseURL is
// used. A trailing slash is stripped automatically. model is the Ollama model
// name to use for embeddings and must not be empty.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := &http.Client{}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	name := model
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[:i] // "nomic-embed-text:latest" → "nomic-embed-text"
	}

	return &Provider{
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		space:      cfg.space,
		native:     nativeDimensions[strings.ToLower(name)],
	}, nil
}

// embedRequest is the JSON request body sent to Ollama's /api/embed endpoint.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the JSON response body returned by Ollama's /api/embed endpoint.
type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed implements embeddings.Provider by computing the embedding vector for
// a single text string, fitted to the configured vector-space width.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.callEmbed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("ollama embeddings: embed: empty response")
	}
	out, err := p.fitSpace(vecs[0])
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	return out, nil
}

// EmbedBatch implements embeddings.Provider by computing embedding vectors
// for a slice of texts in a single Ollama /api/embed request, each fitted to
// the configured vector-space width.
//
// The returned slice has the same length as texts and is ordered identically.
// On any error, nil is returned — partial results are not exposed. Passing a
// nil or empty texts slice returns (nil, nil) without issuing any request.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.callEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: embed batch: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		if out[i], err = p.fitSpace(v); err != nil {
			return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
		}
	}
	return out, nil
}

// Dimensions implements embeddings.Provider. A pinned vector-space width
// wins; otherwise the model's native width is reported, probing the live
// server once for models outside the built-in table. A failed probe reports 0.
func (p *Provider) Dimensions() int {
	if p.space != 0 {
		return p.space
	}
	if p.native == 0 {
		p.detectOnce.Do(func() {
			vecs, err := p.callEmbed(context.Background(), []string{"probe"})
			if err == nil && len(vecs) > 0 {
				p.native = len(vecs[0])
			}
		})
	}
	return p.native
}

// ModelID implements embeddings.Provider by returning the Ollama model name
// supplied at construction time.
func (p *Provider) ModelID() string {
	return p.model
}

// fitSpace adapts one raw model vector to the pinned vector-space width:
// wider native output is cut to the leading components and re-normalized,
// narrower output cannot serve the space and errors.
func (p *Provider) fitSpace(vec []float32) ([]float32, error) {
	if p.space == 0 || len(vec) == p.space {
		return vec, nil
	}
	if len(vec) < p.space {
		return nil, fmt.Errorf("model %q emits %d dimensions, cannot serve a %d-dimensional space", p.model, len(vec), p.space)
	}

	cut := make([]float32, p.space)
	copy(cut, vec[:p.space])

	var sum float64
	for _, x := range cut {
		sum += float64(x) * float64(x)
	}
	if norm := math.Sqrt(sum); norm > 0 {
		for i := range cut {
			cut[i] = float32(float64(cut[i]) / norm)
		}
	}
	return cut, nil
}

// callEmbed sends a POST /api/embed request to the Ollama server and returns
// the raw embedding vectors. It respects context cancellation via
// http.NewRequestWithContext.
func (p *Provider) callEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{
		Model: p.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return result.Embeddings, nil
}

package ollama

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newTestServer serves /api/embed with a fixed per-input vector and records
// the requests it saw.
func newTestServer(t *testing.T, dims int) (*httptest.Server, *[]embedRequest) {
	t.Helper()
	var seen []embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		seen = append(seen, req)

		resp := embedResponse{Model: req.Model}
		for i := range req.Input {
			vec := make([]float32, dims)
			vec[0] = float32(i + 1)
			resp.Embeddings = append(resp.Embeddings, vec)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestNewRequiresModel(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("empty model must be rejected")
	}
}

func TestEmbedSingle(t *testing.T) {
	srv, seen := newTestServer(t, 4)
	p, err := New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	vec, err := p.Embed(context.Background(), "용도변경 절차")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 4 {
		t.Errorf("got %d dimensions, want 4", len(vec))
	}
	if len(*seen) != 1 || (*seen)[0].Input[0] != "용도변경 절차" {
		t.Errorf("server saw %+v", *seen)
	}
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	srv, _ := newTestServer(t, 4)
	p, err := New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	for i, v := range vecs {
		if v[0] != float32(i+1) {
			t.Errorf("vector %d out of order", i)
		}
	}
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	srv, seen := newTestServer(t, 4)
	p, err := New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	vecs, err := p.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("empty input: vecs=%v err=%v, want nil/nil", vecs, err)
	}
	if len(*seen) != 0 {
		t.Error("empty batch must not hit the server")
	}
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	p, err := New(srv.URL, "missing-model")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Embed(context.Background(), "text"); err == nil {
		t.Fatal("non-200 status must surface as an error")
	}
}

func TestDimensionsResolution(t *testing.T) {
	srv, _ := newTestServer(t, 4)

	// Known model: table lookup, no probe.
	known, err := New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := known.Dimensions(); got != 768 {
		t.Errorf("known model dimensions = %d, want 768", got)
	}

	// Tagged model names resolve through the same table.
	tagged, err := New(srv.URL, "mxbai-embed-large:latest")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := tagged.Dimensions(); got != 1024 {
		t.Errorf("tagged model dimensions = %d, want 1024", got)
	}

	// A pinned space wins over the table.
	forced, err := New(srv.URL, "nomic-embed-text", WithDimensions(512))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := forced.Dimensions(); got != 512 {
		t.Errorf("pinned dimensions = %d, want 512", got)
	}

	// Unknown model probes the live server once.
	unknown, err := New(srv.URL, "mystery-model")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := unknown.Dimensions(); got != 4 {
		t.Errorf("probed dimensions = %d, want 4", got)
	}
}

func TestEmbedTruncatesToPinnedSpace(t *testing.T) {
	srv, _ := newTestServer(t, 8)
	p, err := New(srv.URL, "mxbai-embed-large", WithDimensions(4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	vec, err := p.Embed(context.Background(), "용도변경")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 4 {
		t.Fatalf("got %d dimensions, want the pinned 4", len(vec))
	}
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Errorf("truncated vector norm² = %v, want 1", sum)
	}
}

func TestEmbedBatchTruncatesToPinnedSpace(t *testing.T) {
	srv, _ := newTestServer(t, 8)
	p, err := New(srv.URL, "mxbai-embed-large", WithDimensions(4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i, v := range vecs {
		if len(v) != 4 {
			t.Errorf("vector %d has %d dimensions, want 4", i, len(v))
		}
	}
}

func TestEmbedRejectsTooNarrowModel(t *testing.T) {
	srv, _ := newTestServer(t, 4)
	p, err := New(srv.URL, "all-minilm", WithDimensions(768))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.Embed(context.Background(), "text"); err == nil {
		t.Fatal("a model narrower than the pinned space must fail")
	}
}

// Package health provides the liveness and readiness surface of the
// retrieval server, together with the lawgraph-specific checkers it
// evaluates:
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when the graph store is
//     reachable ([Database]), the in-process domain partition agrees with
//     the store mirror ([Partition]), and every embedding provider still
//     reports its configured vector-space width ([EmbeddingSpace]).
//
// Responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check. The Check function returns nil when the
// dependency is healthy and a non-nil error describing the failure
// otherwise; it must respect context cancellation.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "database",
	// "node_embeddings"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency.
	Check func(ctx context.Context) error
}

// Pinger is the slice of the graph store the [Database] check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database builds the checker that probes graph store connectivity.
func Database(p Pinger) Checker {
	return Checker{Name: "database", Check: p.Ping}
}

// Partition builds the checker that compares the number of domains mirrored
// in the store against the clusterer's in-process partition. A disagreement
// is the signature of a crashed rebalance: the mirror was written but the
// swap never published (or vice versa), and retrieval would route against a
// partition the store does not describe.
//
// mirrored reads the store-side count; live reads the in-process count from
// the current snapshot.
func Partition(mirrored func(ctx context.Context) (int, error), live func() int) Checker {
	return Checker{
		Name: "partition",
		Check: func(ctx context.Context) error {
			stored, err := mirrored(ctx)
			if err != nil {
				return err
			}
			if inProcess := live(); stored != inProcess {
				return fmt.Errorf("store mirrors %d domains, process holds %d", stored, inProcess)
			}
			return nil
		},
	}
}

// Dimensioned is the slice of an embedding provider the [EmbeddingSpace]
// check needs.
type Dimensioned interface {
	Dimensions() int
	ModelID() string
}

// EmbeddingSpace builds the checker that verifies an embedding provider
// still reports the vector-space width its index was created with. The
// width is validated at startup, but a provider whose dimension resolution
// is lazy (an Ollama model probed on first use) can drift afterwards — and a
// drifted space silently corrupts every similarity the engine computes.
func EmbeddingSpace(name string, p Dimensioned, want int) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if got := p.Dimensions(); got != want {
				return fmt.Errorf("model %q reports %d dimensions, index built for %d", p.ModelID(), got, want)
			}
			return nil
		},
	}
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz endpoints. It is safe for concurrent
// use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. The checkers are evaluated sequentially in the order provided.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	status := http.StatusOK
	body := result{Status: "ok", Checks: checks}
	if !allOK {
		status = http.StatusServiceUnavailable
		body.Status = "fail"
	}
	writeJSON(w, status, body)
}

// writeJSON serialises body as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, body result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

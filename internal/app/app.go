// Package app wires the lawgraph components together: graph store, embedding
// providers with fallback chains, the domain clusterer, per-domain agents
// behind the query coordinator, the ingestion orchestrator, and the admin
// HTTP surface (health, readiness, metrics, partition stats).
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/lawgraph/internal/agent"
	"github.com/MrWong99/lawgraph/internal/cluster"
	"github.com/MrWong99/lawgraph/internal/config"
	"github.com/MrWong99/lawgraph/internal/health"
	"github.com/MrWong99/lawgraph/internal/ingest"
	"github.com/MrWong99/lawgraph/internal/naming"
	"github.com/MrWong99/lawgraph/internal/observe"
	"github.com/MrWong99/lawgraph/internal/resilience"
	"github.com/MrWong99/lawgraph/internal/retrieval"
	"github.com/MrWong99/lawgraph/pkg/graph"
	"github.com/MrWong99/lawgraph/pkg/graph/postgres"
	"github.com/MrWong99/lawgraph/pkg/provider/embeddings"
	embollama "github.com/MrWong99/lawgraph/pkg/provider/embeddings/ollama"
	embopenai "github.com/MrWong99/lawgraph/pkg/provider/embeddings/openai"
)

// App owns the wired component graph and the admin HTTP server.
type App struct {
	cfg     *config.Config
	store   *postgres.Store
	metrics *observe.Metrics

	nodes        embeddings.Provider
	relations    embeddings.Provider
	clusterer    *cluster.Clusterer
	coordinator  *agent.Coordinator
	orchestrator *ingest.Orchestrator

	httpSrv      *http.Server
	shutdownOTel func(context.Context) error
}

// New builds the full application from cfg. It fails fast on unreachable
// dependencies and on embedding dimension mismatches ([graph.ErrConfigInvalid]).
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "lawgraph"})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	metrics := observe.DefaultMetrics()

	store, err := postgres.NewStore(ctx, cfg.Store.PostgresDSN,
		cfg.Providers.NodeEmbeddings.Dimensions,
		cfg.Providers.RelationEmbeddings.Dimensions,
	)
	if err != nil {
		return nil, fmt.Errorf("app: connect store: %w", err)
	}

	nodes, err := buildEmbeddingChain("node_embeddings", cfg.Providers.NodeEmbeddings)
	if err != nil {
		store.Close()
		return nil, err
	}
	relations, err := buildEmbeddingChain("relation_embeddings", cfg.Providers.RelationEmbeddings)
	if err != nil {
		store.Close()
		return nil, err
	}

	var namer cluster.Namer
	if cfg.Providers.Naming.Name != "" {
		var opts []anyllmlib.Option
		if cfg.Providers.Naming.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.Providers.Naming.APIKey))
		}
		n, err := naming.New(cfg.Providers.Naming.Name, cfg.Providers.Naming.Model, opts...)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("app: naming provider: %w", err)
		}
		namer = n
	}

	clusterer := cluster.New(store, cluster.Config{
		SimilarityThreshold: cfg.Cluster.DomainSimilarityThreshold,
		MinSize:             cfg.Cluster.MinAgentSize,
		MaxSize:             cfg.Cluster.MaxAgentSize,
		NeighborThreshold:   cfg.Cluster.NeighborThreshold,
		BootstrapKMin:       cfg.Cluster.BootstrapKMin,
		BootstrapKMax:       cfg.Cluster.BootstrapKMax,
	}, namer, metrics)

	// Warm-start from the mirror; bootstrap from the corpus when the mirror
	// is empty but embedded paragraphs already exist.
	if err := clusterer.Load(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("app: load partition: %w", err)
	}
	if err := clusterer.Bootstrap(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("app: bootstrap partition: %w", err)
	}

	engine := retrieval.NewEngine(store, nodes, relations, metrics)

	coordinator := agent.NewCoordinator(clusterer, engine, nodes, agent.CoordinatorConfig{
		RouteDomains:  cfg.Retrieval.RouteDomains,
		Unconditional: cfg.Retrieval.UnconditionalRoute,
		ResultLimit:   cfg.Retrieval.ResultLimit,
		Agent: agent.Config{
			Algorithm:        cfg.Retrieval.Algorithm,
			LocalTopN:        cfg.Retrieval.ResultLimit,
			RNEThreshold:     cfg.Retrieval.RNEThreshold,
			InitialK:         cfg.Retrieval.InitialK,
			QualityThreshold: cfg.Retrieval.CollabQualityThreshold,
			MaxNeighbors:     cfg.Retrieval.MaxNeighborsConsulted,
			CollabTimeout:    cfg.Retrieval.CollabTimeout,
		},
	}, metrics)

	orchestrator := ingest.New(store, nodes, relations, clusterer, resilience.RetryConfig{
		Attempts:  cfg.Retry.Attempts,
		BaseDelay: cfg.Retry.BaseDelay,
		MaxDelay:  cfg.Retry.MaxDelay,
	}, metrics)

	a := &App{
		cfg:          cfg,
		store:        store,
		metrics:      metrics,
		nodes:        nodes,
		relations:    relations,
		clusterer:    clusterer,
		coordinator:  coordinator,
		orchestrator: orchestrator,
		shutdownOTel: shutdownOTel,
	}
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

// Coordinator exposes the query surface for embedding callers.
func (a *App) Coordinator() *agent.Coordinator { return a.coordinator }

// Orchestrator exposes the ingestion surface for embedding callers.
func (a *App) Orchestrator() *ingest.Orchestrator { return a.orchestrator }

// Run serves the admin HTTP endpoints until ctx is cancelled or the server
// fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("admin server listening", "addr", a.cfg.Server.ListenAddr)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: admin server: %w", err)
	}
}

// Shutdown stops the HTTP server, flushes telemetry, and closes the store.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.httpSrv.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.shutdownOTel(ctx); err != nil {
		errs = append(errs, err)
	}
	a.store.Close()
	return errors.Join(errs...)
}

// routes assembles the admin mux: liveness, readiness, Prometheus metrics,
// and the partition stats view.
func (a *App) routes() http.Handler {
	checker := health.New(
		health.Database(a.store),
		health.Partition(a.mirroredDomains, func() int {
			return len(a.clusterer.Snapshot().Domains)
		}),
		health.EmbeddingSpace("node_embeddings", a.nodes, a.cfg.Providers.NodeEmbeddings.Dimensions),
		health.EmbeddingSpace("relation_embeddings", a.relations, a.cfg.Providers.RelationEmbeddings.Dimensions),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", checker.Healthz)
	mux.HandleFunc("GET /readyz", checker.Readyz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /stats", a.handleStats)
	mux.HandleFunc("POST /rebalance", a.handleRebalance)
	return mux
}

// mirroredDomains reads the store-side domain count for the partition check.
func (a *App) mirroredDomains(ctx context.Context) (int, error) {
	st, err := a.store.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return st.Domains, nil
}

// statsResponse is the JSON body of GET /stats.
type statsResponse struct {
	Store   graph.Stats        `json:"store"`
	Domains []domainStatsEntry `json:"domains"`
}

type domainStatsEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Size      int    `json:"size"`
	Neighbors int    `json:"neighbors"`
	State     string `json:"state"`
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.store.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	snap := a.clusterer.Snapshot()
	resp := statsResponse{Store: st, Domains: make([]domainStatsEntry, 0, len(snap.Domains))}
	for _, d := range snap.Domains {
		resp.Domains = append(resp.Domains, domainStatsEntry{
			ID:        d.ID,
			Name:      d.Name,
			Size:      d.Size,
			Neighbors: len(d.NeighborIDs),
			State:     string(d.State),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *App) handleRebalance(w http.ResponseWriter, r *http.Request) {
	if err := a.coordinator.Rebalance(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// buildEmbeddingChain instantiates the configured provider (plus optional
// fallback) and verifies its dimension against the entry.
func buildEmbeddingChain(label string, entry config.EmbeddingEntry) (embeddings.Provider, error) {
	primary, err := buildEmbedding(label, entry)
	if err != nil {
		return nil, err
	}
	chain := resilience.NewEmbeddingChain(label+"/"+entry.Name, primary, resilience.BreakerConfig{})
	if entry.Fallback != nil {
		fb := *entry.Fallback
		if fb.Dimensions == 0 {
			fb.Dimensions = entry.Dimensions
		}
		fallback, err := buildEmbedding(label+".fallback", fb)
		if err != nil {
			return nil, err
		}
		if err := chain.AddFallback(label+"/"+fb.Name, fallback); err != nil {
			return nil, fmt.Errorf("%w: %v", graph.ErrConfigInvalid, err)
		}
	}
	return chain, nil
}

// buildEmbedding instantiates one embedding provider and enforces the
// configured dimension. A mismatch is a configuration error and fails
// startup, never a per-query failure.
func buildEmbedding(label string, entry config.EmbeddingEntry) (embeddings.Provider, error) {
	var (
		p   embeddings.Provider
		err error
	)
	switch entry.Name {
	case "openai":
		p, err = embopenai.New(entry.APIKey, entry.Model,
			embopenai.WithBaseURL(entry.BaseURL),
			embopenai.WithDimensions(entry.Dimensions),
		)
	case "ollama":
		p, err = embollama.New(entry.BaseURL, entry.Model,
			embollama.WithDimensions(entry.Dimensions),
		)
	default:
		err = fmt.Errorf("unknown provider %q", entry.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("app: %s: %w", label, err)
	}
	if got := p.Dimensions(); got != entry.Dimensions {
		return nil, fmt.Errorf("%w: %s: provider %q produces %d dimensions, config requires %d",
			graph.ErrConfigInvalid, label, entry.Name, got, entry.Dimensions)
	}
	return p, nil
}

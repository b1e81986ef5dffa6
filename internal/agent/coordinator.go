package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lawgraph/internal/cluster"
	"github.com/MrWong99/lawgraph/internal/observe"
	"github.com/MrWong99/lawgraph/internal/retrieval"
	"github.com/MrWong99/lawgraph/pkg/provider/embeddings"
)

// CoordinatorConfig holds the query-routing parameters. Zero values are
// replaced by the documented defaults.
type CoordinatorConfig struct {
	// RouteDomains is the number of centroid-nearest domains a query is
	// routed to. Default 3.
	RouteDomains int

	// Unconditional routes every query to every domain. Feasible while the
	// domain count is small; overrides RouteDomains.
	Unconditional bool

	// ResultLimit caps the merged result set. Default 10.
	ResultLimit int

	// Agent configures the per-domain agents the coordinator builds.
	Agent Config
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.RouteDomains == 0 {
		c.RouteDomains = 3
	}
	if c.ResultLimit == 0 {
		c.ResultLimit = 10
	}
	c.Agent = c.Agent.withDefaults()
	return c
}

// Coordinator maps queries to domain agents, runs them in parallel, and
// merges their results. It rebuilds its agent set from the clusterer's
// snapshot via [Coordinator.Refresh]; in the bootstrap regime before any
// domain exists, queries fall through to an unscoped engine search.
//
// All exported methods are safe for concurrent use.
type Coordinator struct {
	clusterer *cluster.Clusterer
	engine    *retrieval.Engine
	nodes     embeddings.Provider
	cfg       CoordinatorConfig
	metrics   *observe.Metrics

	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewCoordinator creates a Coordinator and builds the initial agent set from
// the clusterer's current partition.
func NewCoordinator(clusterer *cluster.Clusterer, engine *retrieval.Engine, nodes embeddings.Provider, cfg CoordinatorConfig, metrics *observe.Metrics) *Coordinator {
	c := &Coordinator{
		clusterer: clusterer,
		engine:    engine,
		nodes:     nodes,
		cfg:       cfg.withDefaults(),
		metrics:   metrics,
	}
	c.Refresh()
	return c
}

// Refresh rebuilds the agent set from the clusterer's current snapshot.
// Call it after every rebalance or bulk ingestion.
func (c *Coordinator) Refresh() {
	snap := c.clusterer.Snapshot()
	agents := make(map[string]*Agent, len(snap.Domains))
	for _, d := range snap.Domains {
		agents[d.ID] = NewAgent(d, c.engine, c.cfg.Agent, c.metrics)
	}
	lookup := func(id string) *Agent { return agents[id] }
	for _, a := range agents {
		a.lookup = lookup
	}

	c.mu.Lock()
	c.agents = agents
	c.mu.Unlock()
}

// Search routes the query, fans the selected agents out in parallel, and
// returns the merged, deduplicated result.
func (c *Coordinator) Search(ctx context.Context, query string) (retrieval.Result, []Provenance, error) {
	agents, err := c.route(ctx, query)
	if err != nil {
		return retrieval.Result{}, nil, err
	}

	// Bootstrap regime: no domains yet, search the whole corpus directly.
	if len(agents) == 0 {
		res, err := c.engine.SearchRNE(ctx, query, retrieval.RNEParams{
			Threshold:  c.cfg.Agent.RNEThreshold,
			InitialK:   c.cfg.Agent.InitialK,
			MaxResults: c.cfg.ResultLimit,
		})
		return res, nil, err
	}

	traceID := uuid.NewString()
	var (
		mu           sync.Mutex
		hits         []retrieval.Hit
		provenance   []Provenance
		anyTruncated bool
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range agents {
		g.Go(func() error {
			resp, err := a.Search(gctx, query, CallMeta{TraceID: traceID})
			if err != nil {
				return fmt.Errorf("coordinator: domain %q: %w", a.DomainID(), err)
			}
			mu.Lock()
			hits = append(hits, resp.Hits...)
			provenance = append(provenance, resp.Provenance)
			anyTruncated = anyTruncated || resp.Provenance.Truncated
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return retrieval.Result{}, nil, err
	}

	sort.Slice(provenance, func(i, j int) bool { return provenance[i].DomainID < provenance[j].DomainID })
	merged := mergeHits(hits, nil, c.cfg.ResultLimit)
	return retrieval.Result{Hits: merged, Truncated: anyTruncated}, provenance, nil
}

// SearchRelations forwards a relation query to the engine; relations are not
// domain-scoped.
func (c *Coordinator) SearchRelations(ctx context.Context, query string, topK int) ([]retrieval.RelationHit, error) {
	return c.engine.SearchRelations(ctx, query, topK)
}

// Rebalance runs a full partition rebalance and rebuilds the agent set.
func (c *Coordinator) Rebalance(ctx context.Context) error {
	if err := c.clusterer.RebalanceAll(ctx); err != nil {
		return err
	}
	c.Refresh()
	return nil
}

// route selects the agents for a query: all of them in unconditional mode or
// while the partition is small, otherwise the RouteDomains centroid-nearest.
func (c *Coordinator) route(ctx context.Context, query string) ([]*Agent, error) {
	c.mu.RLock()
	agents := make([]*Agent, 0, len(c.agents))
	for _, a := range c.agents {
		agents = append(agents, a)
	}
	c.mu.RUnlock()

	sort.Slice(agents, func(i, j int) bool { return agents[i].DomainID() < agents[j].DomainID() })

	if c.cfg.Unconditional || len(agents) <= c.cfg.RouteDomains {
		return agents, nil
	}

	vec, err := c.nodes.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("coordinator: embed query for routing: %w", err)
	}
	q := retrieval.Normalize(vec)

	type scored struct {
		agent *Agent
		sim   float64
	}
	ranked := make([]scored, 0, len(agents))
	for _, a := range agents {
		ranked = append(ranked, scored{agent: a, sim: retrieval.Cosine(q, a.domain.Centroid)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })

	picked := make([]*Agent, 0, c.cfg.RouteDomains)
	for i := 0; i < c.cfg.RouteDomains && i < len(ranked); i++ {
		picked = append(picked, ranked[i].agent)
	}
	observe.Logger(ctx).Debug("routed query",
		"domains", len(picked), "partition_size", len(agents))
	return picked, nil
}

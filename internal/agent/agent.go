// Package agent runs retrieval workers over the domain partition: one
// [Agent] per domain executes the three-stage scoped search (in-scope
// retrieval, quality evaluation, conditional neighbor collaboration) and the
// [Coordinator] routes queries to one or more agents and merges their
// results.
//
// Agents never mutate the graph; they are pure readers over an immutable
// partition snapshot. The coordinator rebuilds the agent set whenever the
// clusterer publishes a new partition.
package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lawgraph/internal/cluster"
	"github.com/MrWong99/lawgraph/internal/observe"
	"github.com/MrWong99/lawgraph/internal/retrieval"
)

// Config holds the per-agent retrieval parameters. Zero values are replaced
// by the documented defaults.
type Config struct {
	// Algorithm selects the in-scope retrieval strategy: "rne" (default) or
	// "ine".
	Algorithm string

	// LocalTopN caps the hits an agent keeps from its own scope. Default 10.
	LocalTopN int

	// RNEThreshold is the semantic radius for the rne algorithm. Default 0.75.
	RNEThreshold float64

	// InitialK is the seed breadth. Default 10.
	InitialK int

	// QualityThreshold triggers neighbor collaboration when the local result
	// quality falls below it. Default 0.6.
	QualityThreshold float64

	// MaxNeighbors bounds the collaboration fan-out per query. Default 3.
	MaxNeighbors int

	// CollabTimeout caps each neighbor call. The remaining query deadline
	// still applies when shorter. Default 2s.
	CollabTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Algorithm == "" {
		c.Algorithm = "rne"
	}
	if c.LocalTopN == 0 {
		c.LocalTopN = 10
	}
	if c.RNEThreshold == 0 {
		c.RNEThreshold = 0.75
	}
	if c.InitialK == 0 {
		c.InitialK = 10
	}
	if c.QualityThreshold == 0 {
		c.QualityThreshold = 0.6
	}
	if c.MaxNeighbors == 0 {
		c.MaxNeighbors = 3
	}
	if c.CollabTimeout == 0 {
		c.CollabTimeout = 2 * time.Second
	}
	return c
}

// CallMeta travels with every agent-to-agent call. VisitedDomains guarantees
// termination: an agent that finds its own id in the set answers from its
// own scope without further collaboration.
type CallMeta struct {
	// TraceID correlates all calls belonging to one user query.
	TraceID string

	// VisitedDomains lists the domains already consulted along this call
	// path.
	VisitedDomains []string
}

// visited reports whether id is in the meta's visited set.
func (m CallMeta) visited(id string) bool {
	for _, v := range m.VisitedDomains {
		if v == id {
			return true
		}
	}
	return false
}

// Provenance records how an agent produced its response.
type Provenance struct {
	// DomainID is the answering domain.
	DomainID string `json:"domain_id"`

	// TraceID echoes the call's trace id.
	TraceID string `json:"trace_id"`

	// Quality is the agent's local result quality in [0, 1].
	Quality float64 `json:"quality"`

	// NeighborContribution is true when at least one neighbor answered and
	// its hits were merged in. Collaboration errors and timeouts leave it
	// false.
	NeighborContribution bool `json:"neighbor_contribution"`

	// ConsultedDomains lists the neighbors that were asked, successful or not.
	ConsultedDomains []string `json:"consulted_domains,omitempty"`

	// Truncated is set when a deadline expired and the hits are partial.
	Truncated bool `json:"truncated,omitempty"`
}

// Response is the result of one [Agent.Search] call.
type Response struct {
	Hits       []retrieval.Hit `json:"hits"`
	Provenance Provenance      `json:"provenance"`
}

// Agent is the retrieval worker for one domain. It holds the domain's
// identity, member scope, and neighbor list from an immutable partition
// snapshot, and is safe for concurrent use.
type Agent struct {
	domain  cluster.DomainView
	engine  *retrieval.Engine
	cfg     Config
	metrics *observe.Metrics

	// lookup resolves neighbor domain ids to their agents. Set by the
	// coordinator when the agent set is rebuilt.
	lookup func(id string) *Agent
}

// NewAgent creates an agent for the given domain view.
func NewAgent(domain cluster.DomainView, engine *retrieval.Engine, cfg Config, metrics *observe.Metrics) *Agent {
	return &Agent{
		domain:  domain,
		engine:  engine,
		cfg:     cfg.withDefaults(),
		metrics: metrics,
	}
}

// DomainID returns the id of the domain this agent serves.
func (a *Agent) DomainID() string { return a.domain.ID }

// Search runs the three-stage retrieval for this domain.
//
// Stage 1 retrieves from the agent's own scope. Stage 2 scores the local
// result: 0.7 × mean hit relevance + 0.3 × min(1, hits/5). Stage 3, entered
// only when the quality misses the threshold and this agent is not already
// on the call path, consults up to MaxNeighbors neighbor agents in parallel
// and merges their hits (dedupe by paragraph id keeping max relevance).
func (a *Agent) Search(ctx context.Context, query string, meta CallMeta) (Response, error) {
	if meta.TraceID == "" {
		meta.TraceID = uuid.NewString()
	}

	local, err := a.searchLocal(ctx, query)
	if err != nil {
		return Response{}, err
	}

	quality := resultQuality(local.Hits)
	resp := Response{
		Hits: local.Hits,
		Provenance: Provenance{
			DomainID:  a.domain.ID,
			TraceID:   meta.TraceID,
			Quality:   quality,
			Truncated: local.Truncated,
		},
	}

	// A revisited agent answers locally: this bounds the collaboration depth
	// and guarantees termination.
	if meta.visited(a.domain.ID) || quality >= a.cfg.QualityThreshold {
		return resp, nil
	}

	neighbors := a.neighborAgents()
	if len(neighbors) == 0 {
		return resp, nil
	}

	merged := a.collaborate(ctx, query, meta, neighbors, &resp.Provenance)
	resp.Hits = mergeHits(resp.Hits, merged, a.cfg.LocalTopN)
	return resp, nil
}

// searchLocal runs the configured algorithm scoped to the domain members.
func (a *Agent) searchLocal(ctx context.Context, query string) (retrieval.Result, error) {
	if a.cfg.Algorithm == "ine" {
		return a.engine.SearchINE(ctx, query, retrieval.INEParams{
			K:     a.cfg.LocalTopN,
			Scope: a.domain.MemberIDs,
		})
	}
	return a.engine.SearchRNE(ctx, query, retrieval.RNEParams{
		Threshold:  a.cfg.RNEThreshold,
		InitialK:   a.cfg.InitialK,
		MaxResults: a.cfg.LocalTopN,
		Scope:      a.domain.MemberIDs,
	})
}

// neighborAgents resolves up to MaxNeighbors adjacent agents, in stable
// order.
func (a *Agent) neighborAgents() []*Agent {
	if a.lookup == nil {
		return nil
	}
	ids := make([]string, len(a.domain.NeighborIDs))
	copy(ids, a.domain.NeighborIDs)
	sort.Strings(ids)

	agents := make([]*Agent, 0, a.cfg.MaxNeighbors)
	for _, id := range ids {
		if nb := a.lookup(id); nb != nil {
			agents = append(agents, nb)
			if len(agents) >= a.cfg.MaxNeighbors {
				break
			}
		}
	}
	return agents
}

// collaborate fans out to the neighbor agents in parallel. Failures and
// timeouts degrade to an empty contribution from that neighbor; the local
// hits always survive.
func (a *Agent) collaborate(ctx context.Context, query string, meta CallMeta, neighbors []*Agent, prov *Provenance) []retrieval.Hit {
	childMeta := CallMeta{
		TraceID:        meta.TraceID,
		VisitedDomains: append(append([]string{}, meta.VisitedDomains...), a.domain.ID),
	}

	var (
		mu     sync.Mutex
		merged []retrieval.Hit
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, nb := range neighbors {
		prov.ConsultedDomains = append(prov.ConsultedDomains, nb.domain.ID)
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, a.cfg.CollabTimeout)
			defer cancel()

			nbResp, err := nb.Search(callCtx, query, childMeta)
			if err != nil {
				a.metrics.RecordCollab(ctx, "error")
				observe.Logger(ctx).Warn("neighbor collaboration failed",
					"domain_id", a.domain.ID,
					"neighbor_id", nb.domain.ID,
					"trace_id", meta.TraceID,
					"err", err,
				)
				return nil // collaboration errors never fail the query
			}
			a.metrics.RecordCollab(ctx, "ok")
			mu.Lock()
			merged = append(merged, nbResp.Hits...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // goroutines only return nil

	if len(merged) > 0 {
		prov.NeighborContribution = true
	}
	return merged
}

// resultQuality computes the agent confidence score:
// 0.7 × mean(relevance) + 0.3 × min(1, hits/5).
func resultQuality(hits []retrieval.Hit) float64 {
	if len(hits) == 0 {
		return 0
	}
	var sum float64
	for _, h := range hits {
		sum += h.Relevance
	}
	mean := sum / float64(len(hits))
	countScore := float64(len(hits)) / 5
	if countScore > 1 {
		countScore = 1
	}
	return 0.7*mean + 0.3*countScore
}

// mergeHits deduplicates by paragraph id keeping the maximum relevance,
// sorts by descending relevance (ties on id), and truncates to limit.
func mergeHits(local, remote []retrieval.Hit, limit int) []retrieval.Hit {
	best := make(map[string]retrieval.Hit, len(local)+len(remote))
	for _, h := range append(append([]retrieval.Hit{}, local...), remote...) {
		if prev, ok := best[h.ParagraphID]; !ok || h.Relevance > prev.Relevance {
			best[h.ParagraphID] = h
		}
	}
	out := make([]retrieval.Hit, 0, len(best))
	for _, h := range best {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Relevance != out[j].Relevance {
			return out[i].Relevance > out[j].Relevance
		}
		return out[i].ParagraphID < out[j].ParagraphID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

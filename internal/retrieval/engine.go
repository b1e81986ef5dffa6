package retrieval

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/MrWong99/lawgraph/internal/observe"
	"github.com/MrWong99/lawgraph/pkg/graph"
	"github.com/MrWong99/lawgraph/pkg/provider/embeddings"
)

// Engine runs graph-expanded retrieval against a [graph.Store] using two
// embedding providers: the node provider for paragraph/query vectors and the
// relation provider for containment-context vectors.
//
// Engine is stateless between calls and safe for concurrent use.
type Engine struct {
	store     graph.Store
	nodes     embeddings.Provider
	relations embeddings.Provider
	metrics   *observe.Metrics
}

// NewEngine creates an Engine. metrics may be nil, in which case nothing is
// recorded.
func NewEngine(store graph.Store, nodes, relations embeddings.Provider, metrics *observe.Metrics) *Engine {
	return &Engine{
		store:     store,
		nodes:     nodes,
		relations: relations,
		metrics:   metrics,
	}
}

// expandConfig parameterises the shared expansion loop.
type expandConfig struct {
	// threshold is the minimum admissible relevance. Negative disables
	// threshold accounting (INE mode).
	threshold float64

	// maxFinal caps the number of finalized nodes. Zero means unbounded.
	maxFinal int

	// scope restricts expansion to these ids. Nil means global.
	scope map[string]struct{}

	// mode labels metrics ("rne" or "ine").
	mode string
}

// finalNode is a finalized expansion result prior to materialisation.
type finalNode struct {
	id     string
	cost   float64
	source Source
}

// SearchRNE returns every paragraph whose relevance (1 minus accumulated
// cost) is at least p.Threshold, within the optional scope, ordered by
// descending relevance.
//
// On deadline expiry the partial result is returned with Truncated set and
// an error wrapping [graph.ErrCancelled].
func (e *Engine) SearchRNE(ctx context.Context, query string, p RNEParams) (Result, error) {
	if p.InitialK <= 0 {
		p.InitialK = 10
	}
	start := time.Now()
	defer func() { e.metrics.RecordSearch(ctx, "rne", time.Since(start).Seconds()) }()

	q, seeds, err := e.seed(ctx, query, p.InitialK, p.Scope)
	if err != nil {
		return Result{}, err
	}

	final, truncated, err := e.expand(ctx, q, seeds, expandConfig{
		threshold: p.Threshold,
		maxFinal:  p.MaxResults,
		scope:     scopeSet(p.Scope),
		mode:      "rne",
	})
	if err != nil && !truncated {
		return Result{}, err
	}

	hits, merr := e.materialize(ctx, final, false)
	if merr != nil {
		return Result{}, merr
	}
	return Result{Hits: hits, Truncated: truncated}, err
}

// SearchINE returns exactly min(p.K, reachable) paragraphs ranked 1..k by
// ascending cost. No threshold is applied.
func (e *Engine) SearchINE(ctx context.Context, query string, p INEParams) (Result, error) {
	if p.K <= 0 {
		p.K = 5
	}
	if p.InitialK <= 0 {
		p.InitialK = 2 * p.K
	}
	start := time.Now()
	defer func() { e.metrics.RecordSearch(ctx, "ine", time.Since(start).Seconds()) }()

	q, seeds, err := e.seed(ctx, query, p.InitialK, p.Scope)
	if err != nil {
		return Result{}, err
	}

	final, truncated, err := e.expand(ctx, q, seeds, expandConfig{
		threshold: -1,
		maxFinal:  p.K,
		scope:     scopeSet(p.Scope),
		mode:      "ine",
	})
	if err != nil && !truncated {
		return Result{}, err
	}

	hits, merr := e.materialize(ctx, final, true)
	if merr != nil {
		return Result{}, merr
	}
	return Result{Hits: hits, Truncated: truncated}, err
}

// SearchRelations embeds the query in the relation space and returns the
// topK most similar containment contexts. Ranking is similarity-only.
func (e *Engine) SearchRelations(ctx context.Context, query string, topK int) ([]RelationHit, error) {
	if topK <= 0 {
		topK = 10
	}
	start := time.Now()
	defer func() { e.metrics.RecordSearch(ctx, "relations", time.Since(start).Seconds()) }()

	vec, err := e.relations.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed relation query: %w", err)
	}
	hits, err := e.store.VectorSearchRelations(ctx, Normalize(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval: relation search: %w", err)
	}
	return hits, nil
}

// seed embeds the query with the node provider and runs the scoped initial
// vector search.
func (e *Engine) seed(ctx context.Context, query string, initialK int, scope []string) ([]float32, []graph.ParagraphHit, error) {
	vec, err := e.nodes.Embed(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	q := Normalize(vec)

	seeds, err := e.store.VectorSearchParagraphs(ctx, q, initialK, scope)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieval: seed search: %w", err)
	}
	if e.metrics != nil && e.metrics.SeedHits != nil {
		e.metrics.SeedHits.Add(ctx, int64(len(seeds)))
	}
	return q, seeds, nil
}

// expand runs the Dijkstra-style expansion loop shared by RNE and INE.
//
// Edge pricing: parent and child hops inherit the source cost unchanged; a
// cross-law hop carries no penalty of its own, but the neighbor's cost is
// floored at its own semantic distance to the query, max(source cost,
// 1 − cos(q, v)) (so a paragraph reached through an IMPLEMENTS chain from a
// closer source scores as its own similarity); a sibling hop
// adds the sibling's full semantic distance on top of the source cost; every
// other edge kind is blocked. NaN similarities (zero-norm vectors) skip the
// edge.
//
// The dist map closes visited nodes: the same paragraph reachable by both a
// structural and a cross-law path is finalized once, at its cheapest cost.
func (e *Engine) expand(ctx context.Context, q []float32, seeds []graph.ParagraphHit, cfg expandConfig) ([]finalNode, bool, error) {
	dist := make(map[string]float64, len(seeds))
	seedSet := make(map[string]struct{}, len(seeds))
	finalized := make(map[string]struct{})
	var final []finalNode

	pq := &frontier{}
	heap.Init(pq)
	for _, s := range seeds {
		cost := 1 - s.Similarity
		if prev, ok := dist[s.FullID]; ok && prev <= cost {
			continue
		}
		dist[s.FullID] = cost
		seedSet[s.FullID] = struct{}{}
		heap.Push(pq, frontierEntry{id: s.FullID, cost: cost})
	}

	var pops int64
	defer func() { e.metrics.RecordPops(ctx, cfg.mode, pops) }()

	for pq.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return final, true, fmt.Errorf("retrieval: expansion interrupted: %w", graph.ErrCancelled)
		}

		entry := heap.Pop(pq).(frontierEntry)
		pops++
		if _, done := finalized[entry.id]; done {
			continue
		}
		if entry.cost > dist[entry.id] {
			continue // superseded by a cheaper path
		}

		// Threshold stop: the heap is ordered, so once the cheapest pending
		// entry falls below the radius everything remaining does too.
		if cfg.threshold >= 0 && 1-entry.cost < cfg.threshold {
			break
		}

		finalized[entry.id] = struct{}{}
		src := SourceExpansion
		if _, isSeed := seedSet[entry.id]; isSeed {
			src = SourceSeed
		}
		final = append(final, finalNode{id: entry.id, cost: entry.cost, source: src})
		if cfg.maxFinal > 0 && len(final) >= cfg.maxFinal {
			break
		}

		neighbors, err := e.store.Neighbors(ctx, entry.id)
		if err != nil {
			return final, false, fmt.Errorf("retrieval: neighbors of %q: %w", entry.id, err)
		}

		for _, n := range neighbors {
			if _, done := finalized[n.FullID]; done {
				continue
			}
			if cfg.scope != nil {
				if _, in := cfg.scope[n.FullID]; !in {
					continue
				}
			}

			var alt float64
			switch n.Kind {
			case graph.EdgeParent, graph.EdgeChild:
				alt = entry.cost
			case graph.EdgeCrossLaw:
				own := 1 - Cosine(q, n.Embedding)
				if math.IsNaN(own) {
					continue
				}
				alt = math.Max(entry.cost, own)
			case graph.EdgeSibling:
				c := 1 - Cosine(q, n.Embedding)
				if math.IsNaN(c) {
					continue
				}
				alt = entry.cost + c
			default:
				continue
			}

			if cfg.threshold >= 0 && 1-alt < cfg.threshold {
				continue
			}
			if prev, seen := dist[n.FullID]; seen && prev <= alt {
				continue
			}
			dist[n.FullID] = alt
			heap.Push(pq, frontierEntry{id: n.FullID, cost: alt})
		}
	}

	return final, false, nil
}

// materialize resolves finalized nodes through ParagraphInfo and produces the
// sorted hit list. Dangling ids (finalized but no longer resolvable) are a
// data-integrity anomaly: logged and skipped, never fatal.
func (e *Engine) materialize(ctx context.Context, final []finalNode, ranked bool) ([]Hit, error) {
	hits := make([]Hit, 0, len(final))
	for _, f := range final {
		info, err := e.store.ParagraphInfo(ctx, f.id)
		if err != nil {
			return nil, fmt.Errorf("retrieval: paragraph info %q: %w", f.id, err)
		}
		if info == nil {
			observe.Logger(ctx).Warn("data integrity: finalized paragraph has no info row, skipping",
				"paragraph_id", f.id,
			)
			continue
		}
		hits = append(hits, Hit{
			ParagraphID: f.id,
			FullID:      info.FullID,
			Law:         info.Law,
			Article:     info.Article,
			Content:     info.Content,
			Relevance:   1 - f.cost,
			Source:      f.source,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Relevance != hits[j].Relevance {
			return hits[i].Relevance > hits[j].Relevance
		}
		return hits[i].ParagraphID < hits[j].ParagraphID
	})

	if ranked {
		for i := range hits {
			hits[i].Rank = i + 1
		}
	}
	return hits, nil
}

// scopeSet converts a scope slice into a lookup set. Nil stays nil (global).
func scopeSet(scope []string) map[string]struct{} {
	if scope == nil {
		return nil
	}
	set := make(map[string]struct{}, len(scope))
	for _, id := range scope {
		set[id] = struct{}{}
	}
	return set
}

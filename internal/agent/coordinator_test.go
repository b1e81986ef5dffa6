package agent

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/MrWong99/lawgraph/internal/cluster"
	"github.com/MrWong99/lawgraph/internal/retrieval"
	graphmock "github.com/MrWong99/lawgraph/pkg/graph/mock"
	embmock "github.com/MrWong99/lawgraph/pkg/provider/embeddings/mock"
)

// coordinatorFixture builds a clusterer with two well-separated domains and
// a coordinator on top: group A paragraphs sit near direction (1, 0), group
// B near (0, 1).
func coordinatorFixture(t *testing.T, cfg CoordinatorConfig) (*Coordinator, *graphmock.Store) {
	t.Helper()
	s := graphmock.NewStore()
	clusterer := cluster.New(s, cluster.Config{SimilarityThreshold: 0.8, MinSize: 1, MaxSize: 100}, nil, nil)

	for i := range 3 {
		id := fmt.Sprintf("L::1::a%d", i)
		emb := vecFor(1 - float64(i)*0.01)
		s.AddParagraph("L", "L::1", id, "group a "+id, emb)
		if _, _, err := clusterer.Assign(context.Background(), id, "a", emb); err != nil {
			t.Fatalf("Assign: %v", err)
		}
	}
	for i := range 3 {
		id := fmt.Sprintf("M::1::b%d", i)
		emb := []float32{float32(float64(i) * 0.01), 1}
		s.AddParagraph("M", "M::1", id, "group b "+id, emb)
		if _, _, err := clusterer.Assign(context.Background(), id, "b", emb); err != nil {
			t.Fatalf("Assign: %v", err)
		}
	}

	nodes := &embmock.Provider{
		EmbedFunc: func(text string) []float32 {
			if text == "group b query" {
				return []float32{0, 1}
			}
			return []float32{1, 0}
		},
		DimensionsValue: 2,
	}
	engine := retrieval.NewEngine(s, nodes, &embmock.Provider{DimensionsValue: 2}, nil)
	return NewCoordinator(clusterer, engine, nodes, cfg, nil), s
}

func TestCoordinatorUnconditionalRouteMergesAllDomains(t *testing.T) {
	c, _ := coordinatorFixture(t, CoordinatorConfig{
		Unconditional: true,
		ResultLimit:   10,
		Agent:         Config{RNEThreshold: 0.5},
	})

	res, provenance, err := c.Search(context.Background(), "group a query")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(provenance) != 2 {
		t.Fatalf("consulted %d domains, want 2", len(provenance))
	}
	if len(res.Hits) == 0 {
		t.Fatal("expected merged hits")
	}
	// Group A dominates the ranking for a group A query.
	if res.Hits[0].ParagraphID[0] != 'L' {
		t.Errorf("top hit %q, want a group A paragraph", res.Hits[0].ParagraphID)
	}
	for i := 1; i < len(res.Hits); i++ {
		if res.Hits[i].Relevance > res.Hits[i-1].Relevance {
			t.Fatal("merged hits not sorted by relevance")
		}
	}
}

func TestCoordinatorCentroidRouteSelectsNearestDomain(t *testing.T) {
	c, _ := coordinatorFixture(t, CoordinatorConfig{
		RouteDomains: 1,
		ResultLimit:  10,
		Agent:        Config{RNEThreshold: 0.5},
	})

	res, provenance, err := c.Search(context.Background(), "group b query")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(provenance) != 1 {
		t.Fatalf("centroid route consulted %d domains, want 1", len(provenance))
	}
	for _, h := range res.Hits {
		if h.ParagraphID[0] != 'M' {
			t.Errorf("hit %q leaked from an unrouted domain", h.ParagraphID)
		}
	}
}

func TestCoordinatorDeduplicatesAcrossDomains(t *testing.T) {
	// With collaboration in play the same paragraph can reach the
	// coordinator twice; the merged result keeps one entry at max relevance.
	c, _ := coordinatorFixture(t, CoordinatorConfig{
		Unconditional: true,
		ResultLimit:   10,
		Agent:         Config{RNEThreshold: 0.1, QualityThreshold: 0.99, MaxNeighbors: 1},
	})

	res, _, err := c.Search(context.Background(), "group a query")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	seen := make(map[string]bool)
	for _, h := range res.Hits {
		if seen[h.ParagraphID] {
			t.Fatalf("paragraph %q appears twice in merged result", h.ParagraphID)
		}
		seen[h.ParagraphID] = true
	}
}

func TestCoordinatorBootstrapRegimeFallsBackToGlobalSearch(t *testing.T) {
	s := graphmock.NewStore()
	s.AddParagraph("L", "L::1", "L::1::①", "only paragraph", vecFor(0.9))
	clusterer := cluster.New(s, cluster.Config{}, nil, nil)

	nodes := &embmock.Provider{
		EmbedFunc:       func(string) []float32 { return []float32{1, 0} },
		DimensionsValue: 2,
	}
	engine := retrieval.NewEngine(s, nodes, &embmock.Provider{DimensionsValue: 2}, nil)
	c := NewCoordinator(clusterer, engine, nodes, CoordinatorConfig{Agent: Config{RNEThreshold: 0.5}}, nil)

	res, provenance, err := c.Search(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(provenance) != 0 {
		t.Fatalf("no domains exist, yet %d agents answered", len(provenance))
	}
	if len(res.Hits) != 1 || res.Hits[0].ParagraphID != "L::1::①" {
		t.Fatalf("global fallback missed the paragraph: %v", hitIDsOf(res.Hits))
	}
}

func TestCoordinatorRebalanceRefreshesAgents(t *testing.T) {
	c, _ := coordinatorFixture(t, CoordinatorConfig{
		Unconditional: true,
		ResultLimit:   10,
		Agent:         Config{RNEThreshold: 0.5},
	})

	if err := c.Rebalance(context.Background()); err != nil {
		t.Fatalf("Rebalance: %v", err)
	}

	// The partition merges the two three-member domains only if MinSize
	// demands it; with the fixture's MinSize of 1 nothing changes, but the
	// agent set must still answer coherently after the refresh.
	res, _, err := c.Search(context.Background(), "group a query")
	if err != nil {
		t.Fatalf("Search after rebalance: %v", err)
	}
	if len(res.Hits) == 0 {
		t.Fatal("no hits after rebalance refresh")
	}
}

func TestCoordinatorRouteDeterministic(t *testing.T) {
	c, _ := coordinatorFixture(t, CoordinatorConfig{
		RouteDomains: 1,
		ResultLimit:  10,
		Agent:        Config{RNEThreshold: 0.5},
	})

	first, _, err := c.Search(context.Background(), "group a query")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for range 3 {
		again, _, err := c.Search(context.Background(), "group a query")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(first.Hits) != len(again.Hits) {
			t.Fatal("routing changed result cardinality between identical queries")
		}
		for i := range first.Hits {
			if first.Hits[i].ParagraphID != again.Hits[i].ParagraphID {
				t.Fatal("routing changed result order between identical queries")
			}
		}
	}
}

func TestCoordinatorRelevanceBound(t *testing.T) {
	c, _ := coordinatorFixture(t, CoordinatorConfig{
		Unconditional: true,
		ResultLimit:   10,
		Agent:         Config{RNEThreshold: 0.5},
	})

	res, _, err := c.Search(context.Background(), "group a query")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, h := range res.Hits {
		if h.Relevance < 0 || h.Relevance > 1+1e-9 {
			t.Errorf("hit %q relevance %v outside [0, 1]", h.ParagraphID, h.Relevance)
		}
		if math.IsNaN(h.Relevance) {
			t.Errorf("hit %q has NaN relevance", h.ParagraphID)
		}
	}
}

package agent

import (
	"context"
	"math"
	"testing"

	"github.com/MrWong99/lawgraph/internal/cluster"
	"github.com/MrWong99/lawgraph/internal/retrieval"
	graphmock "github.com/MrWong99/lawgraph/pkg/graph/mock"
	embmock "github.com/MrWong99/lawgraph/pkg/provider/embeddings/mock"
)

// vecFor builds a 2-dimensional unit vector with the given cosine similarity
// to the reference direction (1, 0).
func vecFor(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

// twoDomainFixture builds the S4/S5 corpus: domain 1 holds the statute and
// decree paragraphs, domain 2 the rule paragraph and the low-relevance
// sibling, with a neighbor link between them.
//
// queryVecs maps query text to its embedding so different queries can favor
// different domains.
func twoDomainFixture(queryVecs map[string][]float32, simD1a, simD1b, simD2a, simD2b float64) (*Agent, *Agent) {
	s := graphmock.NewStore()
	s.AddParagraph("L", "L::12", "L::12::①", "statute paragraph", vecFor(simD1a))
	s.AddParagraph("L'", "L'::15", "L'::15::①", "decree paragraph", vecFor(simD1b))
	s.AddParagraph("L''", "L''::8", "L''::8::①", "rule paragraph", vecFor(simD2a))
	s.AddParagraph("L'", "L'::15", "L'::15::②", "decree sibling", vecFor(simD2b))
	s.AddImplements("L'", "L")
	s.AddImplements("L''", "L'")

	nodes := &embmock.Provider{
		EmbedFunc: func(text string) []float32 {
			if v, ok := queryVecs[text]; ok {
				return v
			}
			return []float32{1, 0}
		},
		DimensionsValue: 2,
	}
	engine := retrieval.NewEngine(s, nodes, &embmock.Provider{DimensionsValue: 2}, nil)

	d1 := cluster.DomainView{
		ID:          "d1",
		MemberIDs:   []string{"L'::15::①", "L::12::①"},
		NeighborIDs: []string{"d2"},
	}
	d2 := cluster.DomainView{
		ID:          "d2",
		MemberIDs:   []string{"L''::8::①", "L'::15::②"},
		NeighborIDs: []string{"d1"},
	}

	a1 := NewAgent(d1, engine, Config{}, nil)
	a2 := NewAgent(d2, engine, Config{}, nil)
	agents := map[string]*Agent{"d1": a1, "d2": a2}
	lookup := func(id string) *Agent { return agents[id] }
	a1.lookup = lookup
	a2.lookup = lookup
	return a1, a2
}

func TestAgentHighQualitySkipsCollaboration(t *testing.T) {
	// Both local hits score well: quality clears the threshold and no
	// neighbor is consulted.
	a1, _ := twoDomainFixture(nil, 0.80, 0.88, 0.72, 0.55)

	resp, err := a1.Search(context.Background(), "procedure for changing building use", CallMeta{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(resp.Hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(resp.Hits))
	}
	if resp.Hits[0].ParagraphID != "L'::15::①" || resp.Hits[1].ParagraphID != "L::12::①" {
		t.Fatalf("unexpected hit order: %v", []string{resp.Hits[0].ParagraphID, resp.Hits[1].ParagraphID})
	}

	wantQuality := 0.7*((0.88+0.80)/2) + 0.3*(2.0/5)
	if math.Abs(resp.Provenance.Quality-wantQuality) > 1e-3 {
		t.Errorf("quality = %.4f, want ≈ %.4f", resp.Provenance.Quality, wantQuality)
	}
	if resp.Provenance.NeighborContribution {
		t.Error("high-quality local result must not trigger collaboration")
	}
	if len(resp.Provenance.ConsultedDomains) != 0 {
		t.Errorf("consulted %v, want none", resp.Provenance.ConsultedDomains)
	}
}

func TestAgentLowQualityConsultsNeighbor(t *testing.T) {
	// The query matches the rule paragraph in domain 2; domain 1's local
	// result is empty, so it asks its neighbor and surfaces the rule
	// paragraph at the top of the merged result.
	queryVecs := map[string][]float32{"required forms": {1, 0}}
	a1, _ := twoDomainFixture(queryVecs, 0.30, 0.40, 0.90, 0.20)

	resp, err := a1.Search(context.Background(), "required forms", CallMeta{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if !resp.Provenance.NeighborContribution {
		t.Fatal("low-quality local result must merge a neighbor contribution")
	}
	if len(resp.Hits) == 0 || resp.Hits[0].ParagraphID != "L''::8::①" {
		t.Fatalf("merged result must surface the rule paragraph first, got %v", hitIDsOf(resp.Hits))
	}
	if len(resp.Provenance.ConsultedDomains) != 1 || resp.Provenance.ConsultedDomains[0] != "d2" {
		t.Errorf("consulted %v, want [d2]", resp.Provenance.ConsultedDomains)
	}
}

func TestAgentRevisitedAnswersLocally(t *testing.T) {
	// An agent that sees itself in the visited set must not fan out again,
	// even with an empty local result.
	a1, _ := twoDomainFixture(nil, 0.30, 0.40, 0.90, 0.20)

	resp, err := a1.Search(context.Background(), "required forms", CallMeta{
		TraceID:        "t-1",
		VisitedDomains: []string{"d1"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Provenance.NeighborContribution {
		t.Error("revisited agent must not collaborate")
	}
	if len(resp.Provenance.ConsultedDomains) != 0 {
		t.Errorf("revisited agent consulted %v", resp.Provenance.ConsultedDomains)
	}
}

func TestAgentCollaborationDepthIsBounded(t *testing.T) {
	// d1 and d2 are mutual neighbors with uniformly poor results. The
	// visited set must stop the recursion at depth one instead of ping-
	// ponging between them.
	a1, _ := twoDomainFixture(nil, 0.30, 0.40, 0.35, 0.20)

	resp, err := a1.Search(context.Background(), "nothing matches", CallMeta{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	// Termination itself is the assertion; the merged result may be empty.
	if resp.Provenance.DomainID != "d1" {
		t.Errorf("provenance domain = %q, want d1", resp.Provenance.DomainID)
	}
}

func TestResultQuality(t *testing.T) {
	tests := []struct {
		name string
		hits []retrieval.Hit
		want float64
	}{
		{name: "empty", hits: nil, want: 0},
		{
			name: "single strong hit",
			hits: []retrieval.Hit{{Relevance: 1.0}},
			want: 0.7*1.0 + 0.3*0.2,
		},
		{
			name: "five hits saturate the count score",
			hits: []retrieval.Hit{
				{Relevance: 0.8}, {Relevance: 0.8}, {Relevance: 0.8},
				{Relevance: 0.8}, {Relevance: 0.8},
			},
			want: 0.7*0.8 + 0.3*1.0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resultQuality(tt.hits); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("resultQuality = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeHitsDedupesKeepingMaxRelevance(t *testing.T) {
	local := []retrieval.Hit{
		{ParagraphID: "a", Relevance: 0.7},
		{ParagraphID: "b", Relevance: 0.6},
	}
	remote := []retrieval.Hit{
		{ParagraphID: "a", Relevance: 0.9},
		{ParagraphID: "c", Relevance: 0.5},
	}

	merged := mergeHits(local, remote, 0)
	if len(merged) != 3 {
		t.Fatalf("got %d merged hits, want 3", len(merged))
	}
	if merged[0].ParagraphID != "a" || merged[0].Relevance != 0.9 {
		t.Errorf("duplicate must keep max relevance, got %+v", merged[0])
	}
	if merged[1].ParagraphID != "b" || merged[2].ParagraphID != "c" {
		t.Errorf("unexpected order: %v", hitIDsOf(merged))
	}

	truncated := mergeHits(local, remote, 2)
	if len(truncated) != 2 {
		t.Errorf("limit 2 returned %d hits", len(truncated))
	}
}

func hitIDsOf(hits []retrieval.Hit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ParagraphID
	}
	return ids
}

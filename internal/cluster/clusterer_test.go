package cluster

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	graphmock "github.com/MrWong99/lawgraph/pkg/graph/mock"
)

// unit2 builds a 2-dimensional unit vector at the given angle in radians.
func unit2(angle float64) []float32 {
	return []float32{float32(math.Cos(angle)), float32(math.Sin(angle))}
}

// registerParagraph stores an embedded paragraph so ParagraphInfo and the
// domain mirror resolve during clustering.
func registerParagraph(s *graphmock.Store, law, id string, emb []float32) {
	s.AddParagraph(law, law+"::art", id, "content of "+id, emb)
}

func newTestClusterer(s *graphmock.Store, cfg Config) *Clusterer {
	return New(s, cfg, nil, nil)
}

// ---------------------------------------------------------------------------
// Assignment
// ---------------------------------------------------------------------------

func TestAssignCreatesDomainBelowThreshold(t *testing.T) {
	s := graphmock.NewStore()
	c := newTestClusterer(s, Config{SimilarityThreshold: 0.85, MinSize: 1, MaxSize: 10})

	emb := unit2(0)
	registerParagraph(s, "L", "L::1::①", emb)
	id, created, err := c.Assign(context.Background(), "L::1::①", "first", emb)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if !created {
		t.Fatal("first paragraph must open a new domain")
	}
	if got := s.MemberDomain("L::1::①"); got != id {
		t.Errorf("mirror records domain %q, want %q", got, id)
	}

	// A dissimilar paragraph (cosine ≈ 0) opens a second domain.
	far := unit2(math.Pi / 2)
	registerParagraph(s, "L", "L::1::②", far)
	id2, created, err := c.Assign(context.Background(), "L::1::②", "second", far)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if !created || id2 == id {
		t.Fatal("dissimilar paragraph must open its own domain")
	}
}

func TestAssignJoinsSimilarDomain(t *testing.T) {
	s := graphmock.NewStore()
	c := newTestClusterer(s, Config{SimilarityThreshold: 0.85, MinSize: 1, MaxSize: 10})

	base := unit2(0)
	registerParagraph(s, "L", "L::1::①", base)
	first, _, err := c.Assign(context.Background(), "L::1::①", "first", base)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}

	near := unit2(0.1) // cosine ≈ 0.995
	registerParagraph(s, "L", "L::1::②", near)
	second, created, err := c.Assign(context.Background(), "L::1::②", "second", near)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if created || second != first {
		t.Fatalf("similar paragraph joined %q (created=%v), want existing %q", second, created, first)
	}
}

func TestAssignExactlyOneDomainPerParagraph(t *testing.T) {
	s := graphmock.NewStore()
	c := newTestClusterer(s, Config{SimilarityThreshold: 0.5, MinSize: 1, MaxSize: 100})

	for i := range 12 {
		emb := unit2(float64(i) / 10)
		id := fmt.Sprintf("L::1::%d", i)
		registerParagraph(s, "L", id, emb)
		if _, _, err := c.Assign(context.Background(), id, "c", emb); err != nil {
			t.Fatalf("Assign: %v", err)
		}
	}

	seen := make(map[string]int)
	for _, d := range c.Snapshot().Domains {
		for _, m := range d.MemberIDs {
			seen[m]++
		}
	}
	if len(seen) != 12 {
		t.Fatalf("partition covers %d paragraphs, want 12", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("paragraph %q belongs to %d domains, want exactly 1", id, n)
		}
	}
}

func TestCentroidIsMemberMean(t *testing.T) {
	s := graphmock.NewStore()
	c := newTestClusterer(s, Config{SimilarityThreshold: 0.5, MinSize: 1, MaxSize: 100})

	angles := []float64{0, 0.05, 0.1, 0.15}
	var sum [2]float64
	for i, a := range angles {
		emb := unit2(a)
		id := fmt.Sprintf("L::1::%d", i)
		registerParagraph(s, "L", id, emb)
		if _, _, err := c.Assign(context.Background(), id, "c", emb); err != nil {
			t.Fatalf("Assign: %v", err)
		}
		sum[0] += float64(emb[0])
		sum[1] += float64(emb[1])
	}

	snap := c.Snapshot()
	if len(snap.Domains) != 1 {
		t.Fatalf("got %d domains, want 1", len(snap.Domains))
	}
	centroid := snap.Domains[0].Centroid
	want := [2]float64{sum[0] / 4, sum[1] / 4}
	for i := range 2 {
		if math.Abs(float64(centroid[i])-want[i]) > 1e-6 {
			t.Errorf("centroid[%d] = %v, want %v (±1e-6)", i, centroid[i], want[i])
		}
	}
}

// ---------------------------------------------------------------------------
// Bootstrap
// ---------------------------------------------------------------------------

func TestBootstrapPartitionsCorpus(t *testing.T) {
	s := graphmock.NewStore()
	// Two tight angular clusters, far apart.
	n := 0
	for i := range 10 {
		registerParagraph(s, "L", fmt.Sprintf("L::1::a%d", i), unit2(float64(i)*0.01))
		n++
	}
	for i := range 10 {
		registerParagraph(s, "L", fmt.Sprintf("L::1::b%d", i), unit2(math.Pi/2+float64(i)*0.01))
		n++
	}

	c := newTestClusterer(s, Config{SimilarityThreshold: 0.85, MinSize: 1, MaxSize: 100, BootstrapKMin: 2, BootstrapKMax: 4})
	if err := c.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	snap := c.Snapshot()
	if len(snap.Domains) < 2 || len(snap.Domains) > 4 {
		t.Fatalf("bootstrap produced %d domains, want within sweep range [2, 4]", len(snap.Domains))
	}
	total := 0
	for _, d := range snap.Domains {
		total += d.Size
	}
	if total != n {
		t.Fatalf("partition covers %d paragraphs, want %d", total, n)
	}
}

func TestBootstrapNoopWhenPopulated(t *testing.T) {
	s := graphmock.NewStore()
	c := newTestClusterer(s, Config{SimilarityThreshold: 0.85, MinSize: 1, MaxSize: 10})

	emb := unit2(0)
	registerParagraph(s, "L", "L::1::①", emb)
	if _, _, err := c.Assign(context.Background(), "L::1::①", "c", emb); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	before := len(c.Snapshot().Domains)

	if err := c.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if got := len(c.Snapshot().Domains); got != before {
		t.Fatalf("bootstrap on populated partition changed domain count %d → %d", before, got)
	}
}

// ---------------------------------------------------------------------------
// Rebalance
// ---------------------------------------------------------------------------

// loadedClusterer builds a clusterer whose single domain holds n members
// spread over a narrow angular band, so every paragraph passes the
// similarity gate into the same domain.
func loadedClusterer(t *testing.T, s *graphmock.Store, cfg Config, n int) *Clusterer {
	t.Helper()
	c := newTestClusterer(s, cfg)
	for i := range n {
		emb := unit2(float64(i) * 0.01)
		id := fmt.Sprintf("L::1::%d", i)
		registerParagraph(s, "L", id, emb)
		if _, _, err := c.Assign(context.Background(), id, "c", emb); err != nil {
			t.Fatalf("Assign: %v", err)
		}
	}
	return c
}

func TestRebalanceSplitsOversizedDomain(t *testing.T) {
	s := graphmock.NewStore()
	// A narrow angular band keeps every paragraph in one domain.
	c := loadedClusterer(t, s, Config{SimilarityThreshold: 0.5, MinSize: 2, MaxSize: 8}, 12)

	if got := len(c.Snapshot().Domains); got != 1 {
		t.Fatalf("precondition: got %d domains, want 1", got)
	}
	if !c.NeedsRebalance() {
		t.Fatal("12 members over MaxSize 8 must need rebalance")
	}

	if err := c.RebalanceAll(context.Background()); err != nil {
		t.Fatalf("RebalanceAll: %v", err)
	}

	snap := c.Snapshot()
	if len(snap.Domains) != 2 {
		t.Fatalf("split produced %d domains, want 2", len(snap.Domains))
	}
	total := 0
	for _, d := range snap.Domains {
		if d.Size > 8 {
			t.Errorf("domain %q still oversized: %d members", d.ID, d.Size)
		}
		if d.Size < 2 {
			t.Errorf("domain %q undersized after split: %d members", d.ID, d.Size)
		}
		total += d.Size
	}
	if total != 12 {
		t.Fatalf("membership leaked: %d paragraphs after split, want 12", total)
	}
}

func TestRebalanceIdempotent(t *testing.T) {
	s := graphmock.NewStore()
	c := loadedClusterer(t, s, Config{SimilarityThreshold: 0.5, MinSize: 2, MaxSize: 8}, 12)

	if err := c.RebalanceAll(context.Background()); err != nil {
		t.Fatalf("first RebalanceAll: %v", err)
	}
	first := c.Snapshot()

	if err := c.RebalanceAll(context.Background()); err != nil {
		t.Fatalf("second RebalanceAll: %v", err)
	}
	second := c.Snapshot()

	if len(first.Domains) != len(second.Domains) {
		t.Fatalf("second rebalance changed domain count %d → %d", len(first.Domains), len(second.Domains))
	}
	for i := range first.Domains {
		if first.Domains[i].ID != second.Domains[i].ID {
			t.Fatalf("second rebalance replaced domain %q with %q", first.Domains[i].ID, second.Domains[i].ID)
		}
		if first.Domains[i].Size != second.Domains[i].Size {
			t.Fatalf("second rebalance resized domain %q: %d → %d",
				first.Domains[i].ID, first.Domains[i].Size, second.Domains[i].Size)
		}
	}
}

func TestRebalanceMergesUndersizedDomain(t *testing.T) {
	s := graphmock.NewStore()
	c := newTestClusterer(s, Config{SimilarityThreshold: 0.9, MinSize: 3, MaxSize: 10})

	// Three similar paragraphs form the stable domain.
	for i := range 3 {
		emb := unit2(float64(i) * 0.01)
		id := fmt.Sprintf("L::1::a%d", i)
		registerParagraph(s, "L", id, emb)
		if _, _, err := c.Assign(context.Background(), id, "c", emb); err != nil {
			t.Fatalf("Assign: %v", err)
		}
	}
	// One moderately rotated paragraph misses the 0.9 gate and lands alone.
	lone := unit2(0.7)
	registerParagraph(s, "L", "L::1::lone", lone)
	if _, _, err := c.Assign(context.Background(), "L::1::lone", "c", lone); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got := len(c.Snapshot().Domains); got != 2 {
		t.Fatalf("precondition: got %d domains, want 2", got)
	}

	if err := c.RebalanceAll(context.Background()); err != nil {
		t.Fatalf("RebalanceAll: %v", err)
	}

	snap := c.Snapshot()
	if len(snap.Domains) != 1 {
		t.Fatalf("merge produced %d domains, want 1", len(snap.Domains))
	}
	if snap.Domains[0].Size != 4 {
		t.Fatalf("merged domain holds %d members, want 4", snap.Domains[0].Size)
	}
}

func TestRebalanceLeavesUnmergeableDomainAlone(t *testing.T) {
	s := graphmock.NewStore()
	c := newTestClusterer(s, Config{SimilarityThreshold: 0.9, MinSize: 3, MaxSize: 4})

	// A full domain (4 members) and a lone paragraph: merging would exceed
	// MaxSize, so the nascent domain must survive.
	for i := range 4 {
		emb := unit2(float64(i) * 0.01)
		id := fmt.Sprintf("L::1::a%d", i)
		registerParagraph(s, "L", id, emb)
		if _, _, err := c.Assign(context.Background(), id, "c", emb); err != nil {
			t.Fatalf("Assign: %v", err)
		}
	}
	lone := unit2(0.7)
	registerParagraph(s, "L", "L::1::lone", lone)
	if _, _, err := c.Assign(context.Background(), "L::1::lone", "c", lone); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	if err := c.RebalanceAll(context.Background()); err != nil {
		t.Fatalf("RebalanceAll: %v", err)
	}
	if got := len(c.Snapshot().Domains); got != 2 {
		t.Fatalf("got %d domains, want 2 (no merge target fits)", got)
	}
}

func TestRebalanceBuildsAdjacency(t *testing.T) {
	s := graphmock.NewStore()
	s.AddImplements("L'", "L")

	c := newTestClusterer(s, Config{SimilarityThreshold: 0.9, MinSize: 1, MaxSize: 10, NeighborThreshold: 1})

	// Statute paragraphs in one domain, decree paragraphs in another.
	a := unit2(0)
	registerParagraph(s, "L", "L::1::①", a)
	if _, _, err := c.Assign(context.Background(), "L::1::①", "c", a); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	b := unit2(math.Pi / 2)
	registerParagraph(s, "L'", "L'::1::①", b)
	if _, _, err := c.Assign(context.Background(), "L'::1::①", "c", b); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	if err := c.RebalanceAll(context.Background()); err != nil {
		t.Fatalf("RebalanceAll: %v", err)
	}

	snap := c.Snapshot()
	if len(snap.Domains) != 2 {
		t.Fatalf("got %d domains, want 2", len(snap.Domains))
	}
	for _, d := range snap.Domains {
		if len(d.NeighborIDs) != 1 {
			t.Errorf("domain %q has %d neighbors, want 1", d.ID, len(d.NeighborIDs))
		}
	}
}

func TestRebalanceNeighborThresholdFiltersWeakLinks(t *testing.T) {
	s := graphmock.NewStore()
	s.AddImplements("L'", "L")

	// One cross-law link only; a threshold of 5 must suppress adjacency.
	c := newTestClusterer(s, Config{SimilarityThreshold: 0.9, MinSize: 1, MaxSize: 10, NeighborThreshold: 5})

	a := unit2(0)
	registerParagraph(s, "L", "L::1::①", a)
	if _, _, err := c.Assign(context.Background(), "L::1::①", "c", a); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	b := unit2(math.Pi / 2)
	registerParagraph(s, "L'", "L'::1::①", b)
	if _, _, err := c.Assign(context.Background(), "L'::1::①", "c", b); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	if err := c.RebalanceAll(context.Background()); err != nil {
		t.Fatalf("RebalanceAll: %v", err)
	}
	for _, d := range c.Snapshot().Domains {
		if len(d.NeighborIDs) != 0 {
			t.Errorf("domain %q gained neighbors below the link threshold", d.ID)
		}
	}
}

// ---------------------------------------------------------------------------
// k-means
// ---------------------------------------------------------------------------

func TestKMeansDeterministic(t *testing.T) {
	vectors := make([][]float32, 0, 20)
	for i := range 10 {
		vectors = append(vectors, unit2(float64(i)*0.01))
	}
	for i := range 10 {
		vectors = append(vectors, unit2(math.Pi/2+float64(i)*0.01))
	}

	_, first := kmeans(vectors, 2, rand.New(rand.NewSource(7)))
	_, second := kmeans(vectors, 2, rand.New(rand.NewSource(7)))
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("same seed produced different assignments at %d", i)
		}
	}
}

func TestKMeansSeparatesClusters(t *testing.T) {
	vectors := make([][]float32, 0, 20)
	for i := range 10 {
		vectors = append(vectors, unit2(float64(i)*0.01))
	}
	for i := range 10 {
		vectors = append(vectors, unit2(math.Pi/2+float64(i)*0.01))
	}

	_, assignment := kmeans(vectors, 2, rand.New(rand.NewSource(1)))
	for i := 1; i < 10; i++ {
		if assignment[i] != assignment[0] {
			t.Fatalf("first group split across clusters at %d", i)
		}
	}
	for i := 11; i < 20; i++ {
		if assignment[i] != assignment[10] {
			t.Fatalf("second group split across clusters at %d", i)
		}
	}
	if assignment[0] == assignment[10] {
		t.Fatal("distinct groups collapsed into one cluster")
	}
}

func TestSilhouetteSweepPrefersTrueK(t *testing.T) {
	vectors := make([][]float32, 0, 30)
	for _, base := range []float64{0, 1.2, 2.4} {
		for i := range 10 {
			vectors = append(vectors, unit2(base+float64(i)*0.005))
		}
	}
	if k := silhouetteSweep(vectors, 2, 6, rand.New(rand.NewSource(3))); k != 3 {
		t.Fatalf("sweep chose k=%d, want 3", k)
	}
}

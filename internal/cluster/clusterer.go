// Package cluster implements the self-organising domain layer: it partitions
// embedded statutory paragraphs into domains, maintains each domain's
// centroid and adjacency, and keeps the partition inside configured size
// bounds through split and merge rebalancing.
//
// The Clusterer owns the authoritative in-process partition behind a
// reader-preferred lock. Readers (domain agents, the query coordinator) work
// from immutable [Snapshot] views; writers hold the write lock only for the
// in-memory change (assignment: the membership and centroid update;
// rebalance: the map swap and the neighbor rewrite) and mirror every change
// into the graph store outside the lock, for observability and warm
// restarts.
package cluster

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/lawgraph/internal/observe"
	"github.com/MrWong99/lawgraph/pkg/graph"
)

// Config holds the clustering parameters. Zero values are replaced by the
// documented defaults.
type Config struct {
	// SimilarityThreshold is the minimum centroid cosine similarity for
	// adding a paragraph to an existing domain; below it a new domain is
	// created. Default 0.85.
	SimilarityThreshold float64

	// MinSize and MaxSize bound domain membership outside active
	// rebalancing. Defaults 50 and 500.
	MinSize int
	MaxSize int

	// NeighborThreshold is the minimum cross-law link count between two
	// domains' members for them to become neighbors. Default 10.
	NeighborThreshold int

	// BootstrapKMin and BootstrapKMax bound the silhouette sweep during bulk
	// initialisation. Defaults 3 and 10.
	BootstrapKMin int
	BootstrapKMax int

	// Seed fixes the random source used by k-means. Zero selects 1.
	Seed int64
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.85
	}
	if c.MinSize == 0 {
		c.MinSize = 50
	}
	if c.MaxSize == 0 {
		c.MaxSize = 500
	}
	if c.NeighborThreshold == 0 {
		c.NeighborThreshold = 10
	}
	if c.BootstrapKMin == 0 {
		c.BootstrapKMin = 3
	}
	if c.BootstrapKMax == 0 {
		c.BootstrapKMax = 10
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	return c
}

// Namer generates a short human-readable domain name from sample member
// contents. The result is advisory: errors and empty names fall back to an
// id-derived name.
type Namer interface {
	NameDomain(ctx context.Context, samples []string) (string, error)
}

// State classifies a domain's position in its lifecycle.
type State string

// Domain lifecycle states.
const (
	// StateNascent marks a domain below MinSize, awaiting merge.
	StateNascent State = "nascent"

	// StateStable marks a domain inside the size bounds.
	StateStable State = "stable"

	// StateOversized marks a domain above MaxSize, awaiting split.
	StateOversized State = "oversized"
)

// domainState is the mutable in-process record of one domain. Member
// embeddings are kept so centroids can be recomputed without a store round
// trip during rebalance.
type domainState struct {
	id       string
	name     string
	centroid []float32
	members  map[string][]float32
	neighbors map[string]struct{}
}

func (d *domainState) state(cfg Config) State {
	switch {
	case len(d.members) < cfg.MinSize:
		return StateNascent
	case len(d.members) > cfg.MaxSize:
		return StateOversized
	default:
		return StateStable
	}
}

// DomainView is an immutable projection of one domain for readers.
type DomainView struct {
	ID          string
	Name        string
	Centroid    []float32
	MemberIDs   []string
	NeighborIDs []string
	Size        int
	State       State
}

// Snapshot is a point-in-time view of the whole partition. It never mutates
// after construction, so readers may hold it across suspension points.
type Snapshot struct {
	Domains []DomainView
}

// Domain returns the view with the given id, or nil.
func (s *Snapshot) Domain(id string) *DomainView {
	for i := range s.Domains {
		if s.Domains[i].ID == id {
			return &s.Domains[i]
		}
	}
	return nil
}

// Clusterer owns the domain partition. All exported methods are safe for
// concurrent use.
type Clusterer struct {
	mu      sync.RWMutex
	cfg     Config
	store   graph.Store
	namer   Namer
	metrics *observe.Metrics
	rng     *rand.Rand
	domains map[string]*domainState
}

// New creates a Clusterer with an empty partition. namer and metrics may be
// nil.
func New(store graph.Store, cfg Config, namer Namer, metrics *observe.Metrics) *Clusterer {
	cfg = cfg.withDefaults()
	return &Clusterer{
		cfg:     cfg,
		store:   store,
		namer:   namer,
		metrics: metrics,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		domains: make(map[string]*domainState),
	}
}

// Load warm-starts the partition from the store mirror. Member embeddings
// are re-read from the corpus; mirrored members without an embedding are
// dropped with a warning.
func (c *Clusterer) Load(ctx context.Context) error {
	mirrored, err := c.store.LoadDomains(ctx)
	if err != nil {
		return fmt.Errorf("cluster: load domains: %w", err)
	}
	embeddings, err := c.store.ParagraphEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("cluster: load embeddings: %w", err)
	}

	domains := make(map[string]*domainState, len(mirrored))
	for _, d := range mirrored {
		ds := &domainState{
			id:        d.ID,
			name:      d.Name,
			centroid:  d.Centroid,
			members:   make(map[string][]float32, len(d.MemberIDs)),
			neighbors: make(map[string]struct{}, len(d.NeighborIDs)),
		}
		for _, id := range d.MemberIDs {
			emb, ok := embeddings[id]
			if !ok {
				observe.Logger(ctx).Warn("data integrity: mirrored member has no embedding, dropping",
					"paragraph_id", id, "domain_id", d.ID)
				continue
			}
			ds.members[id] = emb
		}
		for _, nb := range d.NeighborIDs {
			ds.neighbors[nb] = struct{}{}
		}
		domains[d.ID] = ds
	}

	c.mu.Lock()
	c.domains = domains
	c.mu.Unlock()
	return nil
}

// Assign places one newly embedded paragraph into the partition: into the
// most similar existing domain when that similarity reaches the threshold,
// otherwise into a fresh single-member domain. The affected domain's
// centroid is updated incrementally and mirrored into the store.
//
// Returns the id of the receiving domain and whether it was newly created.
func (c *Clusterer) Assign(ctx context.Context, paragraphID, content string, embedding []float32) (string, bool, error) {
	c.mu.Lock()

	// Re-ingestion: drop any existing membership first so the paragraph
	// never ends up in two domains.
	var emptied string
	for id, d := range c.domains {
		if _, ok := d.members[paragraphID]; !ok {
			continue
		}
		delete(d.members, paragraphID)
		if len(d.members) == 0 {
			delete(c.domains, id)
			emptied = id
		} else {
			d.centroid = centroidOf(d)
		}
		break
	}

	bestID, bestSim := "", -1.0
	for id, d := range c.domains {
		sim := 1 - cosineDistance(embedding, d.centroid)
		if sim > bestSim || (sim == bestSim && id < bestID) {
			bestID, bestSim = id, sim
		}
	}

	if bestID != "" && bestSim >= c.cfg.SimilarityThreshold {
		d := c.domains[bestID]
		n := float64(len(d.members))
		for i := range d.centroid {
			d.centroid[i] = float32((float64(d.centroid[i])*n + float64(embedding[i])) / (n + 1))
		}
		d.members[paragraphID] = embedding
		centroid := cloneVec(d.centroid)
		name := d.name
		c.mu.Unlock()

		if err := c.dropEmptiedMirror(ctx, emptied); err != nil {
			return "", false, err
		}
		if err := c.mirrorAssignment(ctx, bestID, name, centroid, paragraphID, bestSim); err != nil {
			return "", false, err
		}
		return bestID, false, nil
	}
	c.mu.Unlock()

	if err := c.dropEmptiedMirror(ctx, emptied); err != nil {
		return "", false, err
	}

	// No domain is similar enough: open a new one. Naming is advisory and
	// happens outside the lock.
	id := uuid.NewString()
	name := c.nameDomain(ctx, id, []string{content})

	c.mu.Lock()
	c.domains[id] = &domainState{
		id:        id,
		name:      name,
		centroid:  cloneVec(embedding),
		members:   map[string][]float32{paragraphID: embedding},
		neighbors: make(map[string]struct{}),
	}
	c.mu.Unlock()

	if c.metrics != nil && c.metrics.ActiveDomains != nil {
		c.metrics.ActiveDomains.Add(ctx, 1)
	}
	if err := c.mirrorAssignment(ctx, id, name, embedding, paragraphID, 1); err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Bootstrap builds an initial partition with k-means when paragraphs exist
// but no domains do. k is chosen by a silhouette sweep over the configured
// range. A non-empty partition makes Bootstrap a no-op.
func (c *Clusterer) Bootstrap(ctx context.Context) error {
	c.mu.RLock()
	populated := len(c.domains) > 0
	c.mu.RUnlock()
	if populated {
		return nil
	}

	embeddings, err := c.store.ParagraphEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("cluster: bootstrap: %w", err)
	}
	if len(embeddings) == 0 {
		return nil
	}

	ids := make([]string, 0, len(embeddings))
	for id := range embeddings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	vectors := make([][]float32, len(ids))
	for i, id := range ids {
		vectors[i] = embeddings[id]
	}

	k := silhouetteSweep(vectors, c.cfg.BootstrapKMin, c.cfg.BootstrapKMax, c.rng)
	centroids, assignment := kmeans(vectors, k, c.rng)

	domains := make(map[string]*domainState, k)
	order := make([]string, 0, k)
	byCluster := make(map[int]*domainState, k)
	for ci, centroid := range centroids {
		id := uuid.NewString()
		ds := &domainState{
			id:        id,
			centroid:  centroid,
			members:   make(map[string][]float32),
			neighbors: make(map[string]struct{}),
		}
		domains[id] = ds
		byCluster[ci] = ds
		order = append(order, id)
	}
	for i, id := range ids {
		byCluster[assignment[i]].members[id] = vectors[i]
	}

	// Name each cluster from its centroid-nearest members, then publish and
	// mirror.
	for _, ds := range domains {
		ds.name = c.nameDomain(ctx, ds.id, c.sampleContents(ctx, ds, 5))
	}

	c.mu.Lock()
	c.domains = domains
	c.mu.Unlock()

	if c.metrics != nil && c.metrics.ActiveDomains != nil {
		c.metrics.ActiveDomains.Add(ctx, int64(len(order)))
	}
	return c.mirrorAll(ctx, nil)
}

// Snapshot returns an immutable view of the current partition. Member id
// slices are copied; readers may retain the snapshot indefinitely.
func (c *Clusterer) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	views := make([]DomainView, 0, len(c.domains))
	for _, d := range c.domains {
		memberIDs := make([]string, 0, len(d.members))
		for id := range d.members {
			memberIDs = append(memberIDs, id)
		}
		sort.Strings(memberIDs)
		neighborIDs := make([]string, 0, len(d.neighbors))
		for id := range d.neighbors {
			neighborIDs = append(neighborIDs, id)
		}
		sort.Strings(neighborIDs)
		views = append(views, DomainView{
			ID:          d.id,
			Name:        d.name,
			Centroid:    cloneVec(d.centroid),
			MemberIDs:   memberIDs,
			NeighborIDs: neighborIDs,
			Size:        len(d.members),
			State:       d.state(c.cfg),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return Snapshot{Domains: views}
}

// NeedsRebalance reports whether any domain is outside the size bounds.
func (c *Clusterer) NeedsRebalance() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.domains {
		if s := d.state(c.cfg); s != StateStable {
			return true
		}
	}
	return false
}

// DomainOf returns the id of the domain containing the paragraph, or "".
func (c *Clusterer) DomainOf(paragraphID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, d := range c.domains {
		if _, ok := d.members[paragraphID]; ok {
			return id
		}
	}
	return ""
}

// nameDomain asks the advisory namer, falling back to an id-derived name.
func (c *Clusterer) nameDomain(ctx context.Context, id string, samples []string) string {
	fallback := "domain-" + id[:8]
	if c.namer == nil || len(samples) == 0 {
		return fallback
	}
	name, err := c.namer.NameDomain(ctx, samples)
	if err != nil || name == "" {
		if err != nil {
			observe.Logger(ctx).Warn("domain naming failed, using fallback", "domain_id", id, "err", err)
		}
		return fallback
	}
	return name
}

// sampleContents fetches up to n member contents nearest the centroid for
// the naming collaborator. Store failures degrade to fewer samples.
func (c *Clusterer) sampleContents(ctx context.Context, d *domainState, n int) []string {
	type scored struct {
		id   string
		dist float64
	}
	members := make([]scored, 0, len(d.members))
	for id, emb := range d.members {
		members = append(members, scored{id: id, dist: cosineDistance(emb, d.centroid)})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].dist != members[j].dist {
			return members[i].dist < members[j].dist
		}
		return members[i].id < members[j].id
	})
	if len(members) > n {
		members = members[:n]
	}

	samples := make([]string, 0, len(members))
	for _, m := range members {
		info, err := c.store.ParagraphInfo(ctx, m.id)
		if err != nil || info == nil {
			continue
		}
		samples = append(samples, info.Content)
	}
	return samples
}

// dropEmptiedMirror deletes the store mirror of a domain that lost its last
// member during re-assignment.
func (c *Clusterer) dropEmptiedMirror(ctx context.Context, domainID string) error {
	if domainID == "" {
		return nil
	}
	if err := c.store.DeleteDomain(ctx, domainID); err != nil {
		return fmt.Errorf("cluster: drop emptied domain %q: %w", domainID, err)
	}
	if c.metrics != nil && c.metrics.ActiveDomains != nil {
		c.metrics.ActiveDomains.Add(ctx, -1)
	}
	return nil
}

// mirrorAssignment writes one assignment and the receiving domain's updated
// centroid into the store.
func (c *Clusterer) mirrorAssignment(ctx context.Context, domainID, name string, centroid []float32, paragraphID string, similarity float64) error {
	if err := c.store.UpsertDomain(ctx, graph.Domain{ID: domainID, Name: name, Centroid: centroid}); err != nil {
		return fmt.Errorf("cluster: mirror domain %q: %w", domainID, err)
	}
	if err := c.store.AssignParagraphToDomain(ctx, paragraphID, domainID, similarity); err != nil {
		return fmt.Errorf("cluster: mirror assignment %q: %w", paragraphID, err)
	}
	return nil
}

package cluster

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/lawgraph/internal/observe"
	"github.com/MrWong99/lawgraph/pkg/graph"
)

// RebalanceAll restores the partition invariants in three phases:
//
//  1. Split: while any domain exceeds MaxSize, split it with k-means (k=2)
//     into two new domains and delete the original. Both centroids are
//     recomputed from the resulting memberships.
//  2. Merge: while any domain is below MinSize, take the smallest and merge
//     it into the most centroid-similar domain whose combined size stays
//     within MaxSize. When no such target exists the domain is left alone
//     and the merge phase ends.
//  3. Adjacency: recount derived cross-law links between all domain pairs
//     and record bidirectional neighbors where the count reaches
//     NeighborThreshold.
//
// The new memberships are computed on a private copy and published
// atomically under the write lock, so concurrent readers observe either the
// old or the new memberships, never a half-split or half-merged one. The
// neighbor sets are rebuilt in a second write-locked step after the mirror
// is written; a reader between the two steps sees the new domains with empty
// neighbor sets. A converged partition makes
// RebalanceAll a no-op: running it twice without intervening ingestion
// performs no splits and no merges the second time.
func (c *Clusterer) RebalanceAll(ctx context.Context) error {
	start := time.Now()
	defer func() {
		if c.metrics != nil && c.metrics.RebalanceDuration != nil {
			c.metrics.RebalanceDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	work := c.copyPartition()
	var removed []string
	splits, merges := 0, 0

	// Phase 1 — splits. Worklist until no domain is oversized, so a single
	// rebalance always converges and the next one is a no-op.
	for {
		target := oversized(work, c.cfg.MaxSize)
		if target == nil {
			break
		}
		a, b := c.split(target)
		delete(work, target.id)
		work[a.id] = a
		work[b.id] = b
		removed = append(removed, target.id)
		splits++
	}

	// Phase 2 — merges.
	for {
		smallest := undersized(work, c.cfg.MinSize)
		if smallest == nil {
			break
		}
		target := c.mergeTarget(work, smallest)
		if target == nil {
			break
		}
		for id, emb := range smallest.members {
			target.members[id] = emb
		}
		target.centroid = centroidOf(target)
		delete(work, smallest.id)
		removed = append(removed, smallest.id)
		merges++
	}

	// Phase 3 — adjacency. The store computes link counts from the freshly
	// mirrored memberships, so publish and mirror first.
	c.publish(ctx, work, splits, merges)
	if err := c.mirrorAll(ctx, removed); err != nil {
		return err
	}
	if err := c.rebuildAdjacency(ctx); err != nil {
		return err
	}

	observe.Logger(ctx).Info("rebalance complete",
		"splits", splits, "merges", merges, "domains", len(work),
		"took", time.Since(start),
	)
	return nil
}

// copyPartition deep-copies the current partition for offline rebalancing.
func (c *Clusterer) copyPartition() map[string]*domainState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	work := make(map[string]*domainState, len(c.domains))
	for id, d := range c.domains {
		members := make(map[string][]float32, len(d.members))
		for mid, emb := range d.members {
			members[mid] = emb
		}
		work[id] = &domainState{
			id:        d.id,
			name:      d.name,
			centroid:  cloneVec(d.centroid),
			members:   members,
			neighbors: make(map[string]struct{}),
		}
	}
	return work
}

// publish swaps the rebalanced partition in under the write lock.
func (c *Clusterer) publish(ctx context.Context, work map[string]*domainState, splits, merges int) {
	c.mu.Lock()
	delta := int64(len(work) - len(c.domains))
	c.domains = work
	c.mu.Unlock()

	if c.metrics != nil {
		if c.metrics.ActiveDomains != nil && delta != 0 {
			c.metrics.ActiveDomains.Add(ctx, delta)
		}
		if c.metrics.DomainSplits != nil && splits > 0 {
			c.metrics.DomainSplits.Add(ctx, int64(splits))
		}
		if c.metrics.DomainMerges != nil && merges > 0 {
			c.metrics.DomainMerges.Add(ctx, int64(merges))
		}
	}
}

// split partitions one oversized domain into two with k-means (k=2). Both
// successors get fresh ids and names derived from the parent.
func (c *Clusterer) split(d *domainState) (*domainState, *domainState) {
	ids := make([]string, 0, len(d.members))
	for id := range d.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	vectors := make([][]float32, len(ids))
	for i, id := range ids {
		vectors[i] = d.members[id]
	}

	_, assignment := kmeans(vectors, 2, c.rng)

	a := &domainState{
		id:        uuid.NewString(),
		name:      d.name + "/a",
		members:   make(map[string][]float32),
		neighbors: make(map[string]struct{}),
	}
	b := &domainState{
		id:        uuid.NewString(),
		name:      d.name + "/b",
		members:   make(map[string][]float32),
		neighbors: make(map[string]struct{}),
	}
	for i, id := range ids {
		if assignment[i] == 0 {
			a.members[id] = vectors[i]
		} else {
			b.members[id] = vectors[i]
		}
	}
	a.centroid = centroidOf(a)
	b.centroid = centroidOf(b)
	return a, b
}

// mergeTarget finds the domain most centroid-similar to s whose combined
// size stays within MaxSize. Returns nil when none qualifies.
func (c *Clusterer) mergeTarget(work map[string]*domainState, s *domainState) *domainState {
	var best *domainState
	bestSim := -1.0
	for _, d := range work {
		if d.id == s.id {
			continue
		}
		if len(s.members)+len(d.members) > c.cfg.MaxSize {
			continue
		}
		sim := 1 - cosineDistance(s.centroid, d.centroid)
		if sim > bestSim || (sim == bestSim && best != nil && d.id < best.id) {
			best, bestSim = d, sim
		}
	}
	return best
}

// rebuildAdjacency recounts cross-law links between domain memberships and
// rewrites the neighbor sets, in process and in the mirror.
func (c *Clusterer) rebuildAdjacency(ctx context.Context) error {
	counts, err := c.store.CrossLawLinkCounts(ctx)
	if err != nil {
		return fmt.Errorf("cluster: link counts: %w", err)
	}

	c.mu.Lock()
	for _, d := range c.domains {
		d.neighbors = make(map[string]struct{})
	}
	for pair, n := range counts {
		if n < c.cfg.NeighborThreshold {
			continue
		}
		a, okA := c.domains[pair.From]
		b, okB := c.domains[pair.To]
		if !okA || !okB {
			continue
		}
		a.neighbors[pair.To] = struct{}{}
		b.neighbors[pair.From] = struct{}{}
	}
	c.mu.Unlock()

	return c.mirrorAll(ctx, nil)
}

// mirrorAll writes the whole current partition into the store and deletes
// removed domain mirrors. Memberships move in per-domain batches.
func (c *Clusterer) mirrorAll(ctx context.Context, removed []string) error {
	snap := c.Snapshot()
	for _, v := range snap.Domains {
		if err := c.store.UpsertDomain(ctx, graph.Domain{
			ID:          v.ID,
			Name:        v.Name,
			Centroid:    v.Centroid,
			NeighborIDs: v.NeighborIDs,
		}); err != nil {
			return fmt.Errorf("cluster: mirror domain %q: %w", v.ID, err)
		}
		if err := c.store.MoveParagraphsToDomain(ctx, v.MemberIDs, v.ID); err != nil {
			return fmt.Errorf("cluster: mirror members of %q: %w", v.ID, err)
		}
	}
	for _, id := range removed {
		if err := c.store.DeleteDomain(ctx, id); err != nil {
			return fmt.Errorf("cluster: delete domain mirror %q: %w", id, err)
		}
	}
	return nil
}

// oversized returns a deterministic oversized domain (smallest id) or nil.
func oversized(work map[string]*domainState, maxSize int) *domainState {
	var pick *domainState
	for _, d := range work {
		if len(d.members) <= maxSize {
			continue
		}
		if pick == nil || d.id < pick.id {
			pick = d
		}
	}
	return pick
}

// undersized returns the smallest domain below minSize (ties on id) or nil.
func undersized(work map[string]*domainState, minSize int) *domainState {
	var pick *domainState
	for _, d := range work {
		if len(d.members) >= minSize {
			continue
		}
		if pick == nil || len(d.members) < len(pick.members) ||
			(len(d.members) == len(pick.members) && d.id < pick.id) {
			pick = d
		}
	}
	return pick
}

// centroidOf recomputes a domain's centroid as the mean of its members.
func centroidOf(d *domainState) []float32 {
	vectors := make([][]float32, 0, len(d.members))
	for _, emb := range d.members {
		vectors = append(vectors, emb)
	}
	return meanVec(vectors)
}

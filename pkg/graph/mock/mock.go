// Package mock provides an in-memory test double for the [graph.Store]
// interface. It reproduces the Postgres adapter's observable behavior —
// cosine-ranked vector search, the four neighbor classes including derived
// cross-law adjacency, idempotent upserts, and the domain mirror — without a
// database.
//
// Error injection fields let tests exercise failure paths; call counters let
// them assert interaction patterns.
package mock

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/MrWong99/lawgraph/pkg/graph"
)

// Ensure Store implements graph.Store at compile time.
var _ graph.Store = (*Store)(nil)

// containsEdge is one stored CONTAINS row.
type containsEdge struct {
	Parent       string
	Child        string
	Order        int
	ContextEmb   []float32
	ContextText  string
	SemanticType string
}

// membership is one domain_members row.
type membership struct {
	DomainID   string
	Similarity float64
}

// Store is the in-memory [graph.Store] implementation.
type Store struct {
	mu sync.Mutex

	units      map[string]graph.Unit
	contains   []containsEdge
	next       map[string]string
	implements map[string][]string
	domains    map[string]graph.Domain
	members    map[string]membership

	// --- Error injection ---

	// Err, if non-nil, is returned by every operation. Use for blanket
	// unavailability.
	Err error

	// NeighborsErr, if non-nil, is returned by Neighbors only.
	NeighborsErr error

	// --- Call counters ---

	VectorSearchCalls int
	NeighborsCalls    int
	UpsertUnitCalls   int
	RebalanceWrites   int
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		units:      make(map[string]graph.Unit),
		next:       make(map[string]string),
		implements: make(map[string][]string),
		domains:    make(map[string]graph.Domain),
		members:    make(map[string]membership),
	}
}

// AddParagraph is a test helper that registers an embedded paragraph under
// the given law and article with one call.
func (s *Store) AddParagraph(law, articleID, fullID, content string, embedding []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.units[articleID]; !ok {
		s.units[articleID] = graph.Unit{
			FullID: articleID, Kind: graph.KindArticle, LawName: law,
		}
	}
	s.units[fullID] = graph.Unit{
		FullID:       fullID,
		Kind:         graph.KindParagraph,
		LawName:      law,
		ParentFullID: articleID,
		Content:      content,
		Embedding:    embedding,
	}
	s.contains = append(s.contains, containsEdge{Parent: articleID, Child: fullID})
}

// AddImplements is a test helper recording law → target.
func (s *Store) AddImplements(law, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.implements[law] = append(s.implements[law], target)
}

// Units returns a copy of the stored units, for assertions.
func (s *Store) Units() map[string]graph.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]graph.Unit, len(s.units))
	for k, v := range s.units {
		out[k] = v
	}
	return out
}

// MemberDomain returns the mirrored domain id of a paragraph, or "".
func (s *Store) MemberDomain(paragraphID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[paragraphID].DomainID
}

// VectorSearchParagraphs implements [graph.Store].
func (s *Store) VectorSearchParagraphs(_ context.Context, q []float32, topK int, scope []string) ([]graph.ParagraphHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.VectorSearchCalls++
	if s.Err != nil {
		return nil, s.Err
	}
	if scope != nil && len(scope) == 0 {
		return []graph.ParagraphHit{}, nil
	}

	var scopeSet map[string]struct{}
	if scope != nil {
		scopeSet = make(map[string]struct{}, len(scope))
		for _, id := range scope {
			scopeSet[id] = struct{}{}
		}
	}

	hits := []graph.ParagraphHit{}
	for id, u := range s.units {
		if u.Kind != graph.KindParagraph || u.Embedding == nil {
			continue
		}
		if scopeSet != nil {
			if _, ok := scopeSet[id]; !ok {
				continue
			}
		}
		sim := cosine(q, u.Embedding)
		if math.IsNaN(sim) {
			continue
		}
		hits = append(hits, graph.ParagraphHit{FullID: id, Similarity: sim})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].FullID < hits[j].FullID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Neighbors implements [graph.Store]: parent, child, sibling, and derived
// cross-law entries, embedded units only.
func (s *Store) Neighbors(_ context.Context, paragraphID string) ([]graph.Neighbor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NeighborsCalls++
	if s.Err != nil {
		return nil, s.Err
	}
	if s.NeighborsErr != nil {
		return nil, s.NeighborsErr
	}

	me, ok := s.units[paragraphID]
	if !ok {
		return []graph.Neighbor{}, nil
	}

	var out []graph.Neighbor

	for _, e := range s.contains {
		switch {
		case e.Child == paragraphID:
			if p, ok := s.units[e.Parent]; ok && p.Embedding != nil {
				out = append(out, graph.Neighbor{FullID: p.FullID, Kind: graph.EdgeParent})
			}
		case e.Parent == paragraphID:
			if c, ok := s.units[e.Child]; ok && c.Embedding != nil {
				out = append(out, graph.Neighbor{FullID: c.FullID, Kind: graph.EdgeChild})
			}
		}
	}

	for id, u := range s.units {
		if id == paragraphID || u.Kind != graph.KindParagraph || u.Embedding == nil {
			continue
		}
		if u.ParentFullID != "" && u.ParentFullID == me.ParentFullID {
			out = append(out, graph.Neighbor{FullID: id, Kind: graph.EdgeSibling, Embedding: u.Embedding})
		}
	}

	related := s.relatedLaws(me.LawName)
	for id, u := range s.units {
		if u.Kind != graph.KindParagraph || u.Embedding == nil {
			continue
		}
		if _, ok := related[u.LawName]; ok {
			out = append(out, graph.Neighbor{FullID: id, Kind: graph.EdgeCrossLaw, Embedding: u.Embedding})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].FullID < out[j].FullID
	})
	return out, nil
}

// relatedLaws collects laws reachable from law via IMPLEMENTS chains of
// length one or two, followed upward (law → target) or downward (target →
// law) throughout, as the Postgres adapter does. Must be called with s.mu
// held.
func (s *Store) relatedLaws(law string) map[string]struct{} {
	step := func(from map[string]struct{}, up bool) map[string]struct{} {
		out := make(map[string]struct{})
		for l := range from {
			for _, t := range s.implements[l] {
				if up {
					out[t] = struct{}{}
				}
			}
			for src, targets := range s.implements {
				for _, t := range targets {
					if !up && t == l {
						out[src] = struct{}{}
					}
				}
			}
		}
		return out
	}

	self := map[string]struct{}{law: {}}
	one := step(self, true)
	two := step(one, true)
	down := step(self, false)
	for l := range down {
		one[l] = struct{}{}
	}
	for l := range step(down, false) {
		two[l] = struct{}{}
	}

	related := make(map[string]struct{})
	for l := range one {
		related[l] = struct{}{}
	}
	for l := range two {
		related[l] = struct{}{}
	}
	delete(related, law)
	return related
}

// ParagraphInfo implements [graph.Store].
func (s *Store) ParagraphInfo(_ context.Context, paragraphID string) (*graph.ParagraphInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	u, ok := s.units[paragraphID]
	if !ok || (u.Kind != graph.KindParagraph && u.Kind != graph.KindItem && u.Kind != graph.KindSubItem) {
		return nil, nil
	}
	info := &graph.ParagraphInfo{
		FullID:  u.FullID,
		Law:     u.LawName,
		Article: u.ParentFullID,
		Content: u.Content,
	}
	if i := strings.LastIndex(u.FullID, "::"); i >= 0 {
		info.Marker = u.FullID[i+2:]
	}
	return info, nil
}

// VectorSearchRelations implements [graph.Store].
func (s *Store) VectorSearchRelations(_ context.Context, q []float32, topK int) ([]graph.RelationHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	hits := []graph.RelationHit{}
	for _, e := range s.contains {
		if e.ContextEmb == nil {
			continue
		}
		sim := cosine(q, e.ContextEmb)
		if math.IsNaN(sim) {
			continue
		}
		hits = append(hits, graph.RelationHit{
			FromID:     e.Parent,
			ToID:       e.Child,
			Context:    e.ContextText,
			Similarity: sim,
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		if hits[i].FromID != hits[j].FromID {
			return hits[i].FromID < hits[j].FromID
		}
		return hits[i].ToID < hits[j].ToID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// ParagraphEmbeddings implements [graph.Store].
func (s *Store) ParagraphEmbeddings(_ context.Context) (map[string][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make(map[string][]float32)
	for id, u := range s.units {
		if u.Kind == graph.KindParagraph && u.Embedding != nil {
			out[id] = u.Embedding
		}
	}
	return out, nil
}

// CrossLawLinkCounts implements [graph.Store].
func (s *Store) CrossLawLinkCounts(_ context.Context) (map[graph.DomainPair]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make(map[graph.DomainPair]int)
	for id1, m1 := range s.members {
		u1, ok := s.units[id1]
		if !ok {
			continue
		}
		related := s.relatedLaws(u1.LawName)
		for id2, m2 := range s.members {
			if m1.DomainID == m2.DomainID {
				continue
			}
			u2, ok := s.units[id2]
			if !ok || u2.Kind != graph.KindParagraph {
				continue
			}
			if _, ok := related[u2.LawName]; ok {
				out[graph.DomainPair{From: m1.DomainID, To: m2.DomainID}]++
			}
		}
	}
	return out, nil
}

// UpsertUnit implements [graph.Store].
func (s *Store) UpsertUnit(_ context.Context, unit graph.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpsertUnitCalls++
	if s.Err != nil {
		return s.Err
	}
	if unit.Embedding == nil {
		if prev, ok := s.units[unit.FullID]; ok {
			unit.Embedding = prev.Embedding
		}
	}
	s.units[unit.FullID] = unit
	return nil
}

// UpsertContains implements [graph.Store].
func (s *Store) UpsertContains(_ context.Context, parentID, childID string, order int, contextEmbedding []float32, contextText, semanticType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for i, e := range s.contains {
		if e.Parent == parentID && e.Child == childID {
			if contextEmbedding == nil {
				contextEmbedding = e.ContextEmb
			}
			s.contains[i] = containsEdge{
				Parent: parentID, Child: childID, Order: order,
				ContextEmb: contextEmbedding, ContextText: contextText, SemanticType: semanticType,
			}
			return nil
		}
	}
	s.contains = append(s.contains, containsEdge{
		Parent: parentID, Child: childID, Order: order,
		ContextEmb: contextEmbedding, ContextText: contextText, SemanticType: semanticType,
	})
	return nil
}

// UpsertNext implements [graph.Store].
func (s *Store) UpsertNext(_ context.Context, fromID, toID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.next[fromID] = toID
	return nil
}

// NextOf returns the recorded NEXT successor, for assertions.
func (s *Store) NextOf(fromID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next[fromID]
}

// UpsertImplements implements [graph.Store].
func (s *Store) UpsertImplements(_ context.Context, lawName, targetLawName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, t := range s.implements[lawName] {
		if t == targetLawName {
			return nil
		}
	}
	s.implements[lawName] = append(s.implements[lawName], targetLawName)
	return nil
}

// UpsertDomain implements [graph.Store].
func (s *Store) UpsertDomain(_ context.Context, d graph.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RebalanceWrites++
	if s.Err != nil {
		return s.Err
	}
	stored := d
	stored.MemberIDs = nil // memberships live in s.members
	s.domains[d.ID] = stored
	return nil
}

// AssignParagraphToDomain implements [graph.Store].
func (s *Store) AssignParagraphToDomain(_ context.Context, paragraphID, domainID string, similarity float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.members[paragraphID] = membership{DomainID: domainID, Similarity: similarity}
	return nil
}

// MoveParagraphsToDomain implements [graph.Store].
func (s *Store) MoveParagraphsToDomain(_ context.Context, paragraphIDs []string, domainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, id := range paragraphIDs {
		prev := s.members[id]
		s.members[id] = membership{DomainID: domainID, Similarity: prev.Similarity}
	}
	return nil
}

// DeleteDomain implements [graph.Store].
func (s *Store) DeleteDomain(_ context.Context, domainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.domains, domainID)
	for id, m := range s.members {
		if m.DomainID == domainID {
			delete(s.members, id)
		}
	}
	return nil
}

// LoadDomains implements [graph.Store].
func (s *Store) LoadDomains(_ context.Context) ([]graph.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]graph.Domain, 0, len(s.domains))
	for _, d := range s.domains {
		dd := d
		for id, m := range s.members {
			if m.DomainID == d.ID {
				dd.MemberIDs = append(dd.MemberIDs, id)
			}
		}
		sort.Strings(dd.MemberIDs)
		out = append(out, dd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Stats implements [graph.Store].
func (s *Store) Stats(_ context.Context) (graph.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return graph.Stats{}, s.Err
	}
	st := graph.Stats{Domains: len(s.domains)}
	laws := make(map[string]struct{})
	for _, u := range s.units {
		laws[u.LawName] = struct{}{}
		if u.Kind == graph.KindParagraph {
			st.Paragraphs++
			if u.Embedding != nil {
				st.EmbeddedParagraphs++
			}
		}
	}
	st.Laws = len(laws)
	return st, nil
}

// cosine mirrors the engine's similarity so ranked orders line up in tests.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return math.NaN()
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

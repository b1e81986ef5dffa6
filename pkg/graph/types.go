package graph

import "time"

// UnitKind classifies a node in the statutory containment hierarchy.
// Kinds are ordered strictly by containment: a Law contains Chapters,
// Chapters contain Sections, and so on down to SubItems.
type UnitKind string

// The hierarchical legal unit kinds, from coarsest to finest.
const (
	KindLaw       UnitKind = "law"
	KindChapter   UnitKind = "chapter"
	KindSection   UnitKind = "section"
	KindArticle   UnitKind = "article"
	KindParagraph UnitKind = "paragraph"
	KindItem      UnitKind = "item"
	KindSubItem   UnitKind = "sub_item"
)

// IsValid reports whether k is a recognised unit kind.
func (k UnitKind) IsValid() bool {
	switch k {
	case KindLaw, KindChapter, KindSection, KindArticle, KindParagraph, KindItem, KindSubItem:
		return true
	}
	return false
}

// Unit is a single node of the statutory hierarchy as persisted in the store.
// Only paragraphs carry free text and an embedding; articles carry a title
// but typically no content.
type Unit struct {
	// FullID is the stable, globally unique identifier of this unit.
	// For paragraphs it has the form "<law>::<article>::<paragraph-marker>".
	FullID string

	// Kind classifies the unit within the containment hierarchy.
	Kind UnitKind

	// LawName is the statute, decree, or rule this unit belongs to.
	LawName string

	// ParentFullID identifies the containing unit. Empty for Law nodes.
	ParentFullID string

	// Order is the position of this unit among its siblings.
	Order int

	// Title is the heading of the unit (e.g. an article title). May be empty.
	Title string

	// Content is the statutory text. Required for paragraphs, empty otherwise.
	Content string

	// Embedding is the node vector for paragraphs. Paragraphs without an
	// embedding are inert: retrieval silently skips them.
	Embedding []float32
}

// ParagraphInfo is the materialised form of a retrievable paragraph,
// returned to callers alongside relevance scores.
type ParagraphInfo struct {
	// FullID is the paragraph's stable identifier.
	FullID string

	// Law is the name of the containing statute, decree, or rule.
	Law string

	// Article is the full id of the containing article.
	Article string

	// Marker is the paragraph marker within the article (e.g. "①").
	Marker string

	// Content is the statutory text of the paragraph.
	Content string
}

// EdgeKind classifies an entry returned by [Store.Neighbors].
type EdgeKind string

// Neighbor edge kinds observed during graph expansion.
const (
	// EdgeParent points to the containing unit.
	EdgeParent EdgeKind = "parent"

	// EdgeChild points to a contained unit.
	EdgeChild EdgeKind = "child"

	// EdgeSibling points to another paragraph under the same article.
	EdgeSibling EdgeKind = "sibling"

	// EdgeCrossLaw points to a paragraph of an implementing (or implemented)
	// law, derived from IMPLEMENTS chains of length one or two. Cross-law
	// edges are never materialised in the store; they are computed at
	// Neighbors time.
	EdgeCrossLaw EdgeKind = "cross_law"
)

// Neighbor is one adjacency entry of a paragraph. Sibling and cross-law
// entries include the neighbor's node embedding so the expansion can price
// the edge without a second round trip.
type Neighbor struct {
	// FullID identifies the neighboring paragraph.
	FullID string

	// Kind is the edge classification relative to the queried paragraph.
	Kind EdgeKind

	// Embedding is the neighbor's node vector. Populated for sibling and
	// cross-law entries; nil for parent/child entries, whose traversal cost
	// does not depend on it.
	Embedding []float32
}

// ParagraphHit pairs a paragraph id with its cosine similarity to a query
// vector, as returned by [Store.VectorSearchParagraphs].
type ParagraphHit struct {
	FullID     string
	Similarity float64
}

// RelationHit is one result of a vector search over embedded relation
// contexts. Ranking is similarity-only; any semantic type label persisted on
// the underlying edge is advisory metadata and takes no part in scoring.
type RelationHit struct {
	// FromID and ToID identify the endpoints of the containment edge.
	FromID string
	ToID   string

	// Context is the bounded context string that was embedded for this edge.
	Context string

	// Similarity is the cosine similarity between the query vector and the
	// edge's context embedding.
	Similarity float64
}

// Domain is a self-organised cluster of paragraphs with coherent semantics.
// The clusterer owns the authoritative in-process copy; the store mirrors it
// for observability and warm restarts.
type Domain struct {
	// ID is the unique domain identifier (a UUID).
	ID string

	// Name is a short human-readable label. Advisory: when the naming
	// collaborator fails, the name falls back to an id-derived string.
	Name string

	// Centroid is the component-wise mean of the member paragraph embeddings.
	Centroid []float32

	// MemberIDs are the full ids of the member paragraphs.
	MemberIDs []string

	// NeighborIDs are the ids of adjacent domains, derived from cross-law
	// link counts between memberships.
	NeighborIDs []string

	// UpdatedAt is when this domain was last modified.
	UpdatedAt time.Time
}

// Stats summarises the persisted corpus and partition for the admin surface.
type Stats struct {
	// Laws is the number of Law nodes.
	Laws int

	// Paragraphs is the total number of paragraph units.
	Paragraphs int

	// EmbeddedParagraphs is the number of paragraphs carrying an embedding
	// and therefore eligible for retrieval.
	EmbeddedParagraphs int

	// Domains is the number of domains currently mirrored in the store.
	Domains int
}

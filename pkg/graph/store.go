// Package graph defines the data model and store contract for the lawgraph
// retrieval engine: a hierarchically structured corpus of Korean statutory
// documents (statute, enforcement decree, enforcement rule) whose paragraphs
// are vector-embedded and connected by containment, order, and
// implementation edges.
//
// The [Store] interface is the only boundary through which the retrieval
// core, the domain clusterer, and the ingestion orchestrator touch
// persistence. Implementations (Postgres/pgvector, in-memory test doubles)
// own the underlying query language; nothing above the interface knows SQL.
//
// Every implementation must be safe for concurrent use.
package graph

import "context"

// Store is the graph store adapter. All operations are pure reads except the
// Upsert/Assign/Move/Delete family used by ingestion and the clusterer;
// those must be idempotent.
type Store interface {
	// ── Retrieval reads ────────────────────────────────────────────────────

	// VectorSearchParagraphs returns up to topK paragraphs ordered by
	// descending cosine similarity to the query vector q. A non-nil scope
	// restricts the search to the given paragraph full ids; an empty non-nil
	// scope yields no results. Paragraphs without an embedding never appear.
	VectorSearchParagraphs(ctx context.Context, q []float32, topK int, scope []string) ([]ParagraphHit, error)

	// Neighbors returns the adjacency of the given paragraph: its parent
	// unit, contained units, sibling paragraphs under the same article, and
	// cross-law paragraphs derived from IMPLEMENTS chains of length one or
	// two in either direction. Sibling and cross-law entries carry the
	// neighbor's embedding. An unknown id is not an error; it yields an
	// empty slice.
	Neighbors(ctx context.Context, paragraphID string) ([]Neighbor, error)

	// ParagraphInfo materialises a paragraph by full id.
	// Returns (nil, nil) when the paragraph does not exist.
	ParagraphInfo(ctx context.Context, paragraphID string) (*ParagraphInfo, error)

	// VectorSearchRelations returns up to topK containment edges ordered by
	// descending cosine similarity of their context embeddings to q.
	VectorSearchRelations(ctx context.Context, q []float32, topK int) ([]RelationHit, error)

	// ── Corpus reads used by the clusterer ─────────────────────────────────

	// ParagraphEmbeddings returns the full id and embedding of every
	// paragraph that carries one.
	ParagraphEmbeddings(ctx context.Context) (map[string][]float32, error)

	// CrossLawLinkCounts counts, for each ordered pair of domains, the
	// derived cross-law links between their member paragraphs. Keys are
	// [DomainPair] values. Used to rebuild domain adjacency.
	CrossLawLinkCounts(ctx context.Context) (map[DomainPair]int, error)

	// ── Ingestion writes ───────────────────────────────────────────────────

	// UpsertUnit persists a node of the hierarchy. Replaces an existing unit
	// with the same FullID.
	UpsertUnit(ctx context.Context, unit Unit) error

	// UpsertContains persists a CONTAINS edge from parent to child with the
	// given sibling order. contextEmbedding and semanticType may be nil and
	// empty; the semantic type is advisory metadata only and is never
	// consulted by retrieval.
	UpsertContains(ctx context.Context, parentID, childID string, order int, contextEmbedding []float32, contextText, semanticType string) error

	// UpsertNext persists a NEXT edge between adjacent siblings. The
	// retrieval core does not traverse NEXT edges; they serve sequential
	// browsing surfaces.
	UpsertNext(ctx context.Context, fromID, toID string) error

	// UpsertImplements records that law implements target (decree → statute,
	// rule → decree).
	UpsertImplements(ctx context.Context, lawName, targetLawName string) error

	// ── Domain mirror writes ───────────────────────────────────────────────

	// UpsertDomain mirrors a domain (centroid, name, neighbors) into the
	// store.
	UpsertDomain(ctx context.Context, d Domain) error

	// AssignParagraphToDomain records a paragraph's membership together with
	// the centroid similarity observed at assignment time. A paragraph
	// belongs to exactly one domain; re-assignment replaces the previous
	// membership.
	AssignParagraphToDomain(ctx context.Context, paragraphID, domainID string, similarity float64) error

	// MoveParagraphsToDomain re-assigns a batch of paragraphs in one
	// statement. Used by merge and split, which move whole memberships.
	MoveParagraphsToDomain(ctx context.Context, paragraphIDs []string, domainID string) error

	// DeleteDomain removes a domain mirror and its membership rows.
	// Deleting a non-existent domain is not an error.
	DeleteDomain(ctx context.Context, domainID string) error

	// LoadDomains reads back all mirrored domains, including memberships and
	// neighbor sets, for warm restarts of the clusterer.
	LoadDomains(ctx context.Context) ([]Domain, error)

	// ── Admin ──────────────────────────────────────────────────────────────

	// Stats summarises the persisted corpus.
	Stats(ctx context.Context) (Stats, error)
}

// DomainPair is an ordered pair of domain ids used as a map key by
// [Store.CrossLawLinkCounts].
type DomainPair struct {
	From string
	To   string
}

// Package retrieval implements the hybrid node retrieval core: priority-queue
// graph expansion over a semantic cost function derived from vector
// similarity and legal edge semantics.
//
// Two expansion strategies share one engine:
//
//   - SemanticRNE (range network expansion) returns every paragraph within a
//     semantic radius — all hits whose relevance stays at or above a
//     threshold.
//   - SemanticINE (incremental network expansion) returns exactly k
//     paragraphs, terminating as soon as k are finalized.
//
// Both seed the expansion with a scoped vector search and then walk the
// statutory graph: containment hops inherit the source cost, a derived
// cross-law hop costs the larger of the source cost and the neighbor's own
// semantic distance to the query, sibling hops add the sibling's own
// semantic distance to the source cost, and every other edge kind is
// blocked. Relation retrieval
// ([Engine.SearchRelations]) is a pure vector search over embedded
// containment contexts with similarity-only ranking.
package retrieval

import "github.com/MrWong99/lawgraph/pkg/graph"

// Source records how a hit entered the result set.
type Source string

// Hit provenance values.
const (
	// SourceSeed marks hits surfaced directly by the initial vector search.
	SourceSeed Source = "seed"

	// SourceExpansion marks hits reached through graph expansion.
	SourceExpansion Source = "expansion"
)

// Hit is one ranked paragraph result. ParagraphID and FullID coincide in the
// Postgres store, where the full id is the primary key; both are kept so
// stores with surrogate keys can fill them independently.
type Hit struct {
	ParagraphID string `json:"paragraph_id"`
	FullID      string `json:"full_id"`
	Law         string `json:"law"`
	Article     string `json:"article"`
	Content     string `json:"content"`

	// Relevance is 1 minus the accumulated expansion cost, at most 1. RNE
	// hits are at or above the threshold; INE applies no threshold, so an
	// INE hit whose accumulated cost exceeds 1 has a negative relevance.
	Relevance float64 `json:"relevance"`

	// Source tells whether the paragraph was a seed or was reached by
	// expansion.
	Source Source `json:"source"`

	// Rank is the 1-based position for INE results; zero for RNE results.
	Rank int `json:"rank,omitempty"`
}

// Result is a completed retrieval. Truncated is set when a deadline expired
// mid-expansion and the hits are the partial set finalized so far.
type Result struct {
	Hits      []Hit `json:"hits"`
	Truncated bool  `json:"truncated"`
}

// RNEParams configures a SemanticRNE search.
type RNEParams struct {
	// Threshold is the semantic radius: no hit is returned with relevance
	// below it. Typical 0.75.
	Threshold float64

	// InitialK is the seed breadth of the initial vector search. Typical 10.
	InitialK int

	// MaxResults caps the number of finalized hits. Zero means unbounded.
	MaxResults int

	// Scope restricts both seeding and expansion to the given paragraph ids.
	// Nil means the whole corpus.
	Scope []string
}

// DefaultRNEParams returns the standard RNE configuration.
func DefaultRNEParams() RNEParams {
	return RNEParams{Threshold: 0.75, InitialK: 10}
}

// INEParams configures a SemanticINE search.
type INEParams struct {
	// K is the exact number of hits to return (fewer only when the reachable
	// set is smaller).
	K int

	// InitialK is the seed breadth. Zero means 2·K: seed diversity matters
	// more for INE than for RNE.
	InitialK int

	// Scope restricts both seeding and expansion to the given paragraph ids.
	// Nil means the whole corpus.
	Scope []string
}

// DefaultINEParams returns the standard INE configuration.
func DefaultINEParams() INEParams {
	return INEParams{K: 5}
}

// RelationHit re-exports the store-level relation result for API consumers.
type RelationHit = graph.RelationHit

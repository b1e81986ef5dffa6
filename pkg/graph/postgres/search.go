package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/lawgraph/pkg/graph"
)

// VectorSearchParagraphs implements [graph.Store]. It finds the topK
// paragraphs whose embeddings are closest (cosine distance) to q, optionally
// restricted to the given scope of full ids.
//
// Results are ordered by descending similarity; ties break on full_id so the
// ordering is stable. An empty non-nil scope yields no results.
func (s *Store) VectorSearchParagraphs(ctx context.Context, q []float32, topK int, scope []string) ([]graph.ParagraphHit, error) {
	if scope != nil && len(scope) == 0 {
		return []graph.ParagraphHit{}, nil
	}

	queryVec := pgvector.NewVector(q)
	args := []any{queryVec}

	scopeClause := ""
	if scope != nil {
		args = append(args, scope)
		scopeClause = fmt.Sprintf("AND full_id = ANY($%d)", len(args))
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	query := fmt.Sprintf(`
		SELECT full_id, 1 - (embedding <=> $1) AS similarity
		FROM   units
		WHERE  kind = 'paragraph'
		  AND  embedding IS NOT NULL
		  %s
		ORDER  BY embedding <=> $1, full_id
		LIMIT  %s`, scopeClause, limitArg)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: vector search paragraphs: %w", err)
	}

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (graph.ParagraphHit, error) {
		var h graph.ParagraphHit
		err := row.Scan(&h.FullID, &h.Similarity)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan paragraph hits: %w", err)
	}
	if hits == nil {
		hits = []graph.ParagraphHit{}
	}
	return hits, nil
}

// neighborQuery assembles the four adjacency classes of a paragraph in one
// statement. Only units that carry an embedding are returned: paragraphs
// without one are inert and must stay invisible to the expansion.
//
// The cross_law branch realises the derived relation
// Paragraph ←CONTAINS*← Law →IMPLEMENTS{1,2}→ Law →CONTAINS*→ Paragraph
// as a self-join over implements_edges bounded at chain length two, in both
// directions. It is computed lazily here and never materialised as rows.
const neighborQuery = `
WITH me AS (
    SELECT full_id, law_name FROM units WHERE full_id = $1
),
related_laws AS (
    SELECT e.target_name AS name
    FROM   implements_edges e JOIN me ON e.law_name = me.law_name
    UNION
    SELECT e.law_name
    FROM   implements_edges e JOIN me ON e.target_name = me.law_name
    UNION
    SELECT e2.target_name
    FROM   implements_edges e1
    JOIN   implements_edges e2 ON e2.law_name = e1.target_name
    JOIN   me ON e1.law_name = me.law_name
    UNION
    SELECT e2.law_name
    FROM   implements_edges e1
    JOIN   implements_edges e2 ON e2.target_name = e1.law_name
    JOIN   me ON e1.target_name = me.law_name
)
SELECT p.full_id, 'parent' AS kind, NULL::vector AS embedding
FROM   contains_edges ce
JOIN   units p ON p.full_id = ce.parent_full_id
WHERE  ce.child_full_id = $1
  AND  p.embedding IS NOT NULL

UNION ALL

SELECT c.full_id, 'child', NULL::vector
FROM   contains_edges ce
JOIN   units c ON c.full_id = ce.child_full_id
WHERE  ce.parent_full_id = $1
  AND  c.embedding IS NOT NULL

UNION ALL

SELECT sib.full_id, 'sibling', sib.embedding
FROM   contains_edges mine
JOIN   contains_edges other ON other.parent_full_id = mine.parent_full_id
                           AND other.child_full_id <> mine.child_full_id
JOIN   units sib ON sib.full_id = other.child_full_id
WHERE  mine.child_full_id = $1
  AND  sib.kind = 'paragraph'
  AND  sib.embedding IS NOT NULL

UNION ALL

SELECT u.full_id, 'cross_law', u.embedding
FROM   units u
JOIN   related_laws r ON u.law_name = r.name
WHERE  u.kind = 'paragraph'
  AND  u.embedding IS NOT NULL`

// Neighbors implements [graph.Store]. An unknown paragraph id is not an
// error; it yields an empty slice.
func (s *Store) Neighbors(ctx context.Context, paragraphID string) ([]graph.Neighbor, error) {
	rows, err := s.pool.Query(ctx, neighborQuery, paragraphID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: neighbors: %w", err)
	}

	neighbors, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (graph.Neighbor, error) {
		var (
			n   graph.Neighbor
			vec *pgvector.Vector
		)
		if err := row.Scan(&n.FullID, &n.Kind, &vec); err != nil {
			return graph.Neighbor{}, err
		}
		if vec != nil {
			n.Embedding = vec.Slice()
		}
		return n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan neighbors: %w", err)
	}
	if neighbors == nil {
		neighbors = []graph.Neighbor{}
	}
	return neighbors, nil
}

// ParagraphInfo implements [graph.Store]. Returns (nil, nil) when the
// paragraph does not exist.
func (s *Store) ParagraphInfo(ctx context.Context, paragraphID string) (*graph.ParagraphInfo, error) {
	const q = `
		SELECT u.full_id, u.law_name, u.parent_full_id, u.content
		FROM   units u
		WHERE  u.full_id = $1
		  AND  u.kind IN ('paragraph', 'item', 'sub_item')`

	var info graph.ParagraphInfo
	err := s.pool.QueryRow(ctx, q, paragraphID).Scan(
		&info.FullID,
		&info.Law,
		&info.Article,
		&info.Content,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: paragraph info: %w", err)
	}

	// full_id has the form "<law>::<article>::<marker>"; the marker is the
	// final segment.
	if i := strings.LastIndex(info.FullID, "::"); i >= 0 {
		info.Marker = info.FullID[i+2:]
	}
	return &info, nil
}

// VectorSearchRelations implements [graph.Store]. It ranks containment edges
// by cosine similarity of their context embeddings to q. Ranking is
// similarity-only; the advisory semantic_type column is deliberately absent
// from both the predicate and the ordering.
func (s *Store) VectorSearchRelations(ctx context.Context, q []float32, topK int) ([]graph.RelationHit, error) {
	queryVec := pgvector.NewVector(q)

	const query = `
		SELECT parent_full_id, child_full_id, context_text,
		       1 - (context_embedding <=> $1) AS similarity
		FROM   contains_edges
		WHERE  context_embedding IS NOT NULL
		ORDER  BY context_embedding <=> $1, parent_full_id, child_full_id
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, query, queryVec, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres store: vector search relations: %w", err)
	}

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (graph.RelationHit, error) {
		var h graph.RelationHit
		err := row.Scan(&h.FromID, &h.ToID, &h.Context, &h.Similarity)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan relation hits: %w", err)
	}
	if hits == nil {
		hits = []graph.RelationHit{}
	}
	return hits, nil
}

// ParagraphEmbeddings implements [graph.Store].
func (s *Store) ParagraphEmbeddings(ctx context.Context) (map[string][]float32, error) {
	const q = `
		SELECT full_id, embedding
		FROM   units
		WHERE  kind = 'paragraph'
		  AND  embedding IS NOT NULL`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: paragraph embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var (
			id  string
			vec pgvector.Vector
		)
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("postgres store: scan paragraph embedding: %w", err)
		}
		out[id] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: paragraph embeddings: %w", err)
	}
	return out, nil
}

// CrossLawLinkCounts implements [graph.Store]. For every ordered pair of
// distinct domains it counts the derived cross-law links between their
// members, i.e. member pairs whose containing laws are connected by an
// IMPLEMENTS chain of length one or two.
func (s *Store) CrossLawLinkCounts(ctx context.Context) (map[graph.DomainPair]int, error) {
	const q = `
		WITH law_pairs AS (
		    SELECT law_name AS a, target_name AS b FROM implements_edges
		    UNION
		    SELECT target_name, law_name FROM implements_edges
		    UNION
		    SELECT e1.law_name, e2.target_name
		    FROM   implements_edges e1
		    JOIN   implements_edges e2 ON e2.law_name = e1.target_name
		    UNION
		    SELECT e2.target_name, e1.law_name
		    FROM   implements_edges e1
		    JOIN   implements_edges e2 ON e2.law_name = e1.target_name
		)
		SELECT m1.domain_id, m2.domain_id, count(*)
		FROM   domain_members m1
		JOIN   units u1 ON u1.full_id = m1.paragraph_full_id
		JOIN   law_pairs lp ON lp.a = u1.law_name
		JOIN   units u2 ON u2.law_name = lp.b AND u2.kind = 'paragraph'
		JOIN   domain_members m2 ON m2.paragraph_full_id = u2.full_id
		WHERE  m1.domain_id <> m2.domain_id
		GROUP  BY m1.domain_id, m2.domain_id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: cross-law link counts: %w", err)
	}
	defer rows.Close()

	out := make(map[graph.DomainPair]int)
	for rows.Next() {
		var (
			pair graph.DomainPair
			n    int
		)
		if err := rows.Scan(&pair.From, &pair.To, &n); err != nil {
			return nil, fmt.Errorf("postgres store: scan link count: %w", err)
		}
		out[pair] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: cross-law link counts: %w", err)
	}
	return out, nil
}

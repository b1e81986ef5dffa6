// Package postgres provides the PostgreSQL/pgvector-backed implementation of
// the lawgraph [graph.Store] contract.
//
// All tables share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it automatically via
// CREATE EXTENSION IF NOT EXISTS and creates two HNSW cosine indexes — one on
// paragraph embeddings, one on containment-edge context embeddings.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 768, 3072)
//	if err != nil { … }
//
//	hits, _ := store.VectorSearchParagraphs(ctx, queryVec, 10, nil)
//	adj, _ := store.Neighbors(ctx, "건축법::제12조::①")
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL — statutory hierarchy
// ─────────────────────────────────────────────────────────────────────────────

const ddlUnits = `
CREATE TABLE IF NOT EXISTS laws (
    name        TEXT         PRIMARY KEY,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS units (
    full_id         TEXT         PRIMARY KEY,
    kind            TEXT         NOT NULL,
    law_name        TEXT         NOT NULL REFERENCES laws (name),
    parent_full_id  TEXT         NOT NULL DEFAULT '',
    sibling_order   INT          NOT NULL DEFAULT 0,
    title           TEXT         NOT NULL DEFAULT '',
    content         TEXT         NOT NULL DEFAULT '',
    embedding       vector(%d),
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_units_kind       ON units (kind);
CREATE INDEX IF NOT EXISTS idx_units_law_name   ON units (law_name);
CREATE INDEX IF NOT EXISTS idx_units_parent     ON units (parent_full_id);

CREATE INDEX IF NOT EXISTS idx_units_embedding_hnsw
    ON units USING hnsw (embedding vector_cosine_ops);
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL — edges
// ─────────────────────────────────────────────────────────────────────────────

const ddlEdges = `
CREATE TABLE IF NOT EXISTS contains_edges (
    parent_full_id    TEXT         NOT NULL,
    child_full_id     TEXT         NOT NULL,
    sibling_order     INT          NOT NULL DEFAULT 0,
    context_text      TEXT         NOT NULL DEFAULT '',
    context_embedding vector(%d),
    semantic_type     TEXT         NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (parent_full_id, child_full_id)
);

CREATE INDEX IF NOT EXISTS idx_contains_child ON contains_edges (child_full_id);

CREATE INDEX IF NOT EXISTS idx_contains_context_hnsw
    ON contains_edges USING hnsw (context_embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS next_edges (
    from_full_id TEXT NOT NULL,
    to_full_id   TEXT NOT NULL,
    PRIMARY KEY (from_full_id, to_full_id)
);

CREATE TABLE IF NOT EXISTS implements_edges (
    law_name    TEXT NOT NULL,
    target_name TEXT NOT NULL,
    PRIMARY KEY (law_name, target_name)
);

CREATE INDEX IF NOT EXISTS idx_implements_target ON implements_edges (target_name);
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL — domain mirror
// ─────────────────────────────────────────────────────────────────────────────

const ddlDomains = `
CREATE TABLE IF NOT EXISTS domains (
    id          TEXT         PRIMARY KEY,
    name        TEXT         NOT NULL DEFAULT '',
    centroid    vector(%d),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS domain_members (
    paragraph_full_id TEXT             PRIMARY KEY,
    domain_id         TEXT             NOT NULL REFERENCES domains (id) ON DELETE CASCADE,
    similarity        DOUBLE PRECISION NOT NULL DEFAULT 0,
    assigned_at       TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_domain_members_domain ON domain_members (domain_id);

CREATE TABLE IF NOT EXISTS domain_neighbors (
    domain_id   TEXT NOT NULL REFERENCES domains (id) ON DELETE CASCADE,
    neighbor_id TEXT NOT NULL REFERENCES domains (id) ON DELETE CASCADE,
    PRIMARY KEY (domain_id, neighbor_id)
);
`

// Migrate creates the pgvector extension and all lawgraph tables and indexes
// if they do not already exist. nodeDims and relationDims are the vector
// column widths for paragraph embeddings and containment-edge context
// embeddings respectively; changing either after the first migration requires
// a manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, nodeDims, relationDims int) error {
	if nodeDims <= 0 || relationDims <= 0 {
		return fmt.Errorf("postgres migrate: vector dimensions must be positive (node=%d, relation=%d)", nodeDims, relationDims)
	}

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(ddlUnits, nodeDims),
		fmt.Sprintf(ddlEdges, relationDims),
		fmt.Sprintf(ddlDomains, nodeDims),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

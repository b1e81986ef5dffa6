package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/lawgraph/pkg/graph"
)

// Compile-time interface check.
var _ graph.Store = (*Store)(nil)

// Store is the PostgreSQL-backed graph store. It holds a single
// [pgxpool.Pool] and implements the complete [graph.Store] contract:
// vector and structural reads for the retrieval core, idempotent writes for
// ingestion, and the domain mirror used by the clusterer.
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and runs
// [Migrate] to ensure all required tables, indexes, and the vector extension
// exist.
//
// nodeDims and relationDims must match the output dimensions of the node and
// relation embedding providers (e.g. 768 and 3072).
func NewStore(ctx context.Context, dsn string, nodeDims, relationDims int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so vector columns can
	// be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, nodeDims, relationDims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping probes the database connection. Used by the readiness handler.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Stats implements [graph.Store].
func (s *Store) Stats(ctx context.Context) (graph.Stats, error) {
	const q = `
		SELECT
		    (SELECT count(*) FROM laws),
		    (SELECT count(*) FROM units WHERE kind = 'paragraph'),
		    (SELECT count(*) FROM units WHERE kind = 'paragraph' AND embedding IS NOT NULL),
		    (SELECT count(*) FROM domains)`

	var st graph.Stats
	if err := s.pool.QueryRow(ctx, q).Scan(&st.Laws, &st.Paragraphs, &st.EmbeddedParagraphs, &st.Domains); err != nil {
		return graph.Stats{}, fmt.Errorf("postgres store: stats: %w", err)
	}
	return st, nil
}

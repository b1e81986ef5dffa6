package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/lawgraph/pkg/graph"
)

// UpsertDomain implements [graph.Store]. It mirrors the domain row and
// replaces its neighbor set in one transaction. Memberships are managed
// separately via [Store.AssignParagraphToDomain] and
// [Store.MoveParagraphsToDomain].
func (s *Store) UpsertDomain(ctx context.Context, d graph.Domain) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: upsert domain: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsert = `
		INSERT INTO domains (id, name, centroid, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET
		    name       = EXCLUDED.name,
		    centroid   = EXCLUDED.centroid,
		    updated_at = now()`

	var vec *pgvector.Vector
	if d.Centroid != nil {
		v := pgvector.NewVector(d.Centroid)
		vec = &v
	}
	if _, err := tx.Exec(ctx, upsert, d.ID, d.Name, vec); err != nil {
		return fmt.Errorf("postgres store: upsert domain %q: %w", d.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM domain_neighbors WHERE domain_id = $1`, d.ID); err != nil {
		return fmt.Errorf("postgres store: clear domain neighbors %q: %w", d.ID, err)
	}
	for _, nb := range d.NeighborIDs {
		const ins = `
			INSERT INTO domain_neighbors (domain_id, neighbor_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`
		if _, err := tx.Exec(ctx, ins, d.ID, nb); err != nil {
			return fmt.Errorf("postgres store: insert domain neighbor %q → %q: %w", d.ID, nb, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: upsert domain: commit: %w", err)
	}
	return nil
}

// AssignParagraphToDomain implements [graph.Store]. The primary key on
// paragraph_full_id enforces the exactly-one-domain invariant: re-assignment
// replaces the previous membership.
func (s *Store) AssignParagraphToDomain(ctx context.Context, paragraphID, domainID string, similarity float64) error {
	const q = `
		INSERT INTO domain_members (paragraph_full_id, domain_id, similarity, assigned_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (paragraph_full_id) DO UPDATE SET
		    domain_id   = EXCLUDED.domain_id,
		    similarity  = EXCLUDED.similarity,
		    assigned_at = now()`

	if _, err := s.pool.Exec(ctx, q, paragraphID, domainID, similarity); err != nil {
		return fmt.Errorf("postgres store: assign paragraph %q to domain %q: %w", paragraphID, domainID, err)
	}
	return nil
}

// MoveParagraphsToDomain implements [graph.Store]. Split and merge move whole
// memberships; batching them into one statement keeps the mirror write short.
func (s *Store) MoveParagraphsToDomain(ctx context.Context, paragraphIDs []string, domainID string) error {
	if len(paragraphIDs) == 0 {
		return nil
	}

	const q = `
		INSERT INTO domain_members (paragraph_full_id, domain_id, similarity, assigned_at)
		SELECT unnest($1::text[]), $2, 0, now()
		ON CONFLICT (paragraph_full_id) DO UPDATE SET
		    domain_id   = EXCLUDED.domain_id,
		    assigned_at = now()`

	if _, err := s.pool.Exec(ctx, q, paragraphIDs, domainID); err != nil {
		return fmt.Errorf("postgres store: move %d paragraphs to domain %q: %w", len(paragraphIDs), domainID, err)
	}
	return nil
}

// DeleteDomain implements [graph.Store]. Memberships and neighbor rows go
// with the domain via ON DELETE CASCADE. Deleting a non-existent domain is
// not an error.
func (s *Store) DeleteDomain(ctx context.Context, domainID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM domains WHERE id = $1`, domainID); err != nil {
		return fmt.Errorf("postgres store: delete domain %q: %w", domainID, err)
	}
	return nil
}

// LoadDomains implements [graph.Store]. It reads back the full domain mirror
// for a warm clusterer restart.
func (s *Store) LoadDomains(ctx context.Context) ([]graph.Domain, error) {
	const q = `SELECT id, name, centroid, updated_at FROM domains ORDER BY id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load domains: %w", err)
	}

	domains, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (graph.Domain, error) {
		var (
			d   graph.Domain
			vec *pgvector.Vector
		)
		if err := row.Scan(&d.ID, &d.Name, &vec, &d.UpdatedAt); err != nil {
			return graph.Domain{}, err
		}
		if vec != nil {
			d.Centroid = vec.Slice()
		}
		return d, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan domains: %w", err)
	}

	for i := range domains {
		members, err := s.domainMembers(ctx, domains[i].ID)
		if err != nil {
			return nil, err
		}
		domains[i].MemberIDs = members

		neighbors, err := s.domainNeighbors(ctx, domains[i].ID)
		if err != nil {
			return nil, err
		}
		domains[i].NeighborIDs = neighbors
	}
	if domains == nil {
		domains = []graph.Domain{}
	}
	return domains, nil
}

func (s *Store) domainMembers(ctx context.Context, domainID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT paragraph_full_id FROM domain_members WHERE domain_id = $1 ORDER BY paragraph_full_id`, domainID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: domain members %q: %w", domainID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan domain members %q: %w", domainID, err)
	}
	return ids, nil
}

func (s *Store) domainNeighbors(ctx context.Context, domainID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT neighbor_id FROM domain_neighbors WHERE domain_id = $1 ORDER BY neighbor_id`, domainID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: domain neighbors %q: %w", domainID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan domain neighbors %q: %w", domainID, err)
	}
	return ids, nil
}

package postgres

import (
	"context"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/lawgraph/pkg/graph"
)

// UpsertUnit implements [graph.Store]. It inserts the law row on first sight
// of a law name, then upserts the unit itself. Re-ingesting the same unit
// replaces all mutable columns, so the operation is idempotent.
func (s *Store) UpsertUnit(ctx context.Context, unit graph.Unit) error {
	const insertLaw = `
		INSERT INTO laws (name) VALUES ($1)
		ON CONFLICT (name) DO NOTHING`

	if _, err := s.pool.Exec(ctx, insertLaw, unit.LawName); err != nil {
		return fmt.Errorf("postgres store: upsert law %q: %w", unit.LawName, err)
	}

	const q = `
		INSERT INTO units
		    (full_id, kind, law_name, parent_full_id, sibling_order, title, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (full_id) DO UPDATE SET
		    kind           = EXCLUDED.kind,
		    law_name       = EXCLUDED.law_name,
		    parent_full_id = EXCLUDED.parent_full_id,
		    sibling_order  = EXCLUDED.sibling_order,
		    title          = EXCLUDED.title,
		    content        = EXCLUDED.content,
		    embedding      = COALESCE(EXCLUDED.embedding, units.embedding)`

	var vec *pgvector.Vector
	if unit.Embedding != nil {
		v := pgvector.NewVector(unit.Embedding)
		vec = &v
	}

	_, err := s.pool.Exec(ctx, q,
		unit.FullID,
		string(unit.Kind),
		unit.LawName,
		unit.ParentFullID,
		unit.Order,
		unit.Title,
		unit.Content,
		vec,
	)
	if err != nil {
		return fmt.Errorf("postgres store: upsert unit %q: %w", unit.FullID, err)
	}
	return nil
}

// UpsertContains implements [graph.Store]. The semantic_type column is
// persisted when the parser supplies a label but takes no part in retrieval.
func (s *Store) UpsertContains(ctx context.Context, parentID, childID string, order int, contextEmbedding []float32, contextText, semanticType string) error {
	const q = `
		INSERT INTO contains_edges
		    (parent_full_id, child_full_id, sibling_order, context_text, context_embedding, semantic_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (parent_full_id, child_full_id) DO UPDATE SET
		    sibling_order     = EXCLUDED.sibling_order,
		    context_text      = EXCLUDED.context_text,
		    context_embedding = COALESCE(EXCLUDED.context_embedding, contains_edges.context_embedding),
		    semantic_type     = EXCLUDED.semantic_type`

	var vec *pgvector.Vector
	if contextEmbedding != nil {
		v := pgvector.NewVector(contextEmbedding)
		vec = &v
	}

	_, err := s.pool.Exec(ctx, q, parentID, childID, order, contextText, vec, semanticType)
	if err != nil {
		return fmt.Errorf("postgres store: upsert contains %q → %q: %w", parentID, childID, err)
	}
	return nil
}

// UpsertNext implements [graph.Store].
func (s *Store) UpsertNext(ctx context.Context, fromID, toID string) error {
	const q = `
		INSERT INTO next_edges (from_full_id, to_full_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	if _, err := s.pool.Exec(ctx, q, fromID, toID); err != nil {
		return fmt.Errorf("postgres store: upsert next %q → %q: %w", fromID, toID, err)
	}
	return nil
}

// UpsertImplements implements [graph.Store].
func (s *Store) UpsertImplements(ctx context.Context, lawName, targetLawName string) error {
	const q = `
		INSERT INTO implements_edges (law_name, target_name)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	if _, err := s.pool.Exec(ctx, q, lawName, targetLawName); err != nil {
		return fmt.Errorf("postgres store: upsert implements %q → %q: %w", lawName, targetLawName, err)
	}
	return nil
}

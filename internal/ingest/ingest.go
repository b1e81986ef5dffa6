// Package ingest implements the ingestion orchestrator: it receives parsed
// statutory documents from the external parser collaborator, persists the
// hierarchy and its edges, generates node and relation embeddings, assigns
// new paragraphs to domains, and triggers a partition rebalance when a batch
// leaves any domain outside its size bounds.
//
// Ingestion is not latency-critical. Concurrent ProcessDocument calls are
// serialized through a single owner mutex so the clusterer's partition never
// mutates under two writers.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/lawgraph/internal/cluster"
	"github.com/MrWong99/lawgraph/internal/observe"
	"github.com/MrWong99/lawgraph/internal/resilience"
	"github.com/MrWong99/lawgraph/internal/retrieval"
	"github.com/MrWong99/lawgraph/pkg/graph"
	"github.com/MrWong99/lawgraph/pkg/provider/embeddings"
)

// contextWindow is how many characters of each side feed a containment
// edge's relation-context string: the tail of the parent plus the head of
// the child around the connector.
const contextWindow = 100

// connector joins the two halves of a relation-context string.
const connector = " → "

// Unit is one parsed node of the statutory hierarchy, as delivered by the
// parser collaborator. This struct is the sole input contract.
type Unit struct {
	Kind         graph.UnitKind `json:"kind"`
	FullID       string         `json:"full_id"`
	ParentFullID string         `json:"parent_full_id"`
	Order        int            `json:"order"`
	Title        string         `json:"title"`
	Content      string         `json:"content"`

	// SemanticType is an optional advisory label on the containment edge to
	// this unit. Persisted as metadata, never used for retrieval ranking.
	SemanticType string `json:"semantic_type,omitempty"`
}

// Document is one parsed statutory document.
type Document struct {
	LawName string `json:"law_name"`
	Units   []Unit `json:"units"`

	// Implements names the law this document implements (a decree names its
	// statute, a rule names its decree). Empty for a top-level statute.
	Implements string `json:"implements,omitempty"`
}

// Report summarises a completed ingestion.
type Report struct {
	Units          int  `json:"units"`
	Paragraphs     int  `json:"paragraphs"`
	DomainsCreated int  `json:"domains_created"`
	Rebalanced     bool `json:"rebalanced"`
}

// Orchestrator drives document ingestion. All exported methods are safe for
// concurrent use; ProcessDocument calls are serialized.
type Orchestrator struct {
	mu        sync.Mutex
	store     graph.Store
	nodes     embeddings.Provider
	relations embeddings.Provider
	clusterer *cluster.Clusterer
	retryCfg  resilience.RetryConfig
	metrics   *observe.Metrics
}

// New creates an Orchestrator. metrics may be nil.
func New(store graph.Store, nodes, relations embeddings.Provider, clusterer *cluster.Clusterer, retryCfg resilience.RetryConfig, metrics *observe.Metrics) *Orchestrator {
	return &Orchestrator{
		store:     store,
		nodes:     nodes,
		relations: relations,
		clusterer: clusterer,
		retryCfg:  retryCfg,
		metrics:   metrics,
	}
}

// ProcessDocument ingests one parsed document:
//
//  1. Validate the units; malformed input aborts with
//     [graph.ErrIngestionRejected] naming the offending unit, before any
//     write happens.
//  2. Embed all paragraph texts (node space) and all paragraph containment
//     contexts (relation space). Embedding failures abort with no partial
//     state persisted.
//  3. Persist units, CONTAINS/NEXT edges, and the IMPLEMENTS edge through
//     the store adapter with bounded-backoff retries.
//  4. Assign every embedded paragraph to a domain.
//  5. Rebalance once, at batch completion, iff any domain left its bounds.
func (o *Orchestrator) ProcessDocument(ctx context.Context, doc Document) (Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()
	defer func() {
		if o.metrics != nil && o.metrics.IngestDuration != nil {
			o.metrics.IngestDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	byID, err := validate(doc)
	if err != nil {
		return Report{}, err
	}

	paragraphs := paragraphUnits(doc.Units)
	nodeVecs, err := o.embedParagraphs(ctx, paragraphs)
	if err != nil {
		return Report{}, err
	}
	relVecs, relTexts, err := o.embedRelationContexts(ctx, doc.Units, byID)
	if err != nil {
		return Report{}, err
	}

	if err := o.persist(ctx, doc, byID, nodeVecs, relVecs, relTexts); err != nil {
		return Report{}, err
	}

	report := Report{Units: len(doc.Units), Paragraphs: len(paragraphs)}
	for _, u := range paragraphs {
		vec, ok := nodeVecs[u.FullID]
		if !ok {
			continue
		}
		_, created, err := o.clusterer.Assign(ctx, u.FullID, u.Content, vec)
		if err != nil {
			return report, fmt.Errorf("ingest: assign %q: %w", u.FullID, err)
		}
		if created {
			report.DomainsCreated++
		}
	}

	// Rebalance check happens once per ingestion batch, not per paragraph.
	if o.clusterer.NeedsRebalance() {
		if err := o.clusterer.RebalanceAll(ctx); err != nil {
			return report, fmt.Errorf("ingest: rebalance: %w", err)
		}
		report.Rebalanced = true
	}

	observe.Logger(ctx).Info("document ingested",
		"law", doc.LawName,
		"units", report.Units,
		"paragraphs", report.Paragraphs,
		"domains_created", report.DomainsCreated,
		"rebalanced", report.Rebalanced,
		"took", time.Since(start),
	)
	return report, nil
}

// validate checks the parsed units and indexes them by full id. The first
// violation aborts the whole document.
func validate(doc Document) (map[string]Unit, error) {
	if doc.LawName == "" {
		return nil, fmt.Errorf("%w: document has no law_name", graph.ErrIngestionRejected)
	}
	if len(doc.Units) == 0 {
		return nil, fmt.Errorf("%w: document %q has no units", graph.ErrIngestionRejected, doc.LawName)
	}

	byID := make(map[string]Unit, len(doc.Units))
	for i, u := range doc.Units {
		switch {
		case u.FullID == "":
			return nil, fmt.Errorf("%w: units[%d] has no full_id", graph.ErrIngestionRejected, i)
		case !u.Kind.IsValid():
			return nil, fmt.Errorf("%w: unit %q has invalid kind %q", graph.ErrIngestionRejected, u.FullID, u.Kind)
		case u.Kind == graph.KindParagraph && u.Content == "":
			return nil, fmt.Errorf("%w: paragraph %q has no content", graph.ErrIngestionRejected, u.FullID)
		}
		if _, dup := byID[u.FullID]; dup {
			return nil, fmt.Errorf("%w: duplicate full_id %q", graph.ErrIngestionRejected, u.FullID)
		}
		byID[u.FullID] = u
	}
	return byID, nil
}

// paragraphUnits filters the units down to the retrievable kind.
func paragraphUnits(units []Unit) []Unit {
	out := make([]Unit, 0, len(units))
	for _, u := range units {
		if u.Kind == graph.KindParagraph {
			out = append(out, u)
		}
	}
	return out
}

// embedParagraphs batch-embeds paragraph contents in the node space and
// returns normalized vectors keyed by full id.
func (o *Orchestrator) embedParagraphs(ctx context.Context, paragraphs []Unit) (map[string][]float32, error) {
	if len(paragraphs) == 0 {
		return map[string][]float32{}, nil
	}
	texts := make([]string, len(paragraphs))
	for i, u := range paragraphs {
		texts[i] = u.Content
	}

	start := time.Now()
	vecs, err := o.nodes.EmbedBatch(ctx, texts)
	if o.metrics != nil && o.metrics.EmbedDuration != nil {
		o.metrics.EmbedDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: embed paragraphs: %w", err)
	}

	out := make(map[string][]float32, len(paragraphs))
	for i, u := range paragraphs {
		out[u.FullID] = retrieval.Normalize(vecs[i])
	}
	return out, nil
}

// embedRelationContexts builds and embeds the bounded context string of every
// containment edge whose child is a paragraph.
func (o *Orchestrator) embedRelationContexts(ctx context.Context, units []Unit, byID map[string]Unit) (map[string][]float32, map[string]string, error) {
	var (
		ids   []string
		texts []string
	)
	for _, u := range units {
		if u.Kind != graph.KindParagraph || u.ParentFullID == "" {
			continue
		}
		parent, ok := byID[u.ParentFullID]
		if !ok {
			continue // dangling parent handled at persist time
		}
		ids = append(ids, u.FullID)
		texts = append(texts, RelationContext(parent, u))
	}
	if len(ids) == 0 {
		return map[string][]float32{}, map[string]string{}, nil
	}

	start := time.Now()
	vecs, err := o.relations.EmbedBatch(ctx, texts)
	if o.metrics != nil && o.metrics.EmbedDuration != nil {
		o.metrics.EmbedDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: embed relation contexts: %w", err)
	}

	outVecs := make(map[string][]float32, len(ids))
	outTexts := make(map[string]string, len(ids))
	for i, id := range ids {
		outVecs[id] = retrieval.Normalize(vecs[i])
		outTexts[id] = texts[i]
	}
	return outVecs, outTexts, nil
}

// persist writes all units and edges through the store adapter. Dangling
// parent references are a data-integrity anomaly: logged and skipped, never
// fatal.
func (o *Orchestrator) persist(ctx context.Context, doc Document, byID map[string]Unit, nodeVecs map[string][]float32, relVecs map[string][]float32, relTexts map[string]string) error {
	for _, u := range doc.Units {
		unit := graph.Unit{
			FullID:       u.FullID,
			Kind:         u.Kind,
			LawName:      doc.LawName,
			ParentFullID: u.ParentFullID,
			Order:        u.Order,
			Title:        u.Title,
			Content:      u.Content,
			Embedding:    nodeVecs[u.FullID],
		}
		err := resilience.Retry(ctx, o.retryCfg, func(ctx context.Context) error {
			return o.store.UpsertUnit(ctx, unit)
		})
		if err != nil {
			return fmt.Errorf("ingest: persist unit %q: %w", u.FullID, err)
		}
	}

	// CONTAINS edges, plus NEXT edges between order-adjacent siblings.
	siblings := make(map[string][]Unit)
	for _, u := range doc.Units {
		if u.ParentFullID == "" {
			continue
		}
		if _, ok := byID[u.ParentFullID]; !ok {
			observe.Logger(ctx).Warn("data integrity: unit references unknown parent, skipping edge",
				"unit", u.FullID, "parent", u.ParentFullID)
			continue
		}
		err := resilience.Retry(ctx, o.retryCfg, func(ctx context.Context) error {
			return o.store.UpsertContains(ctx, u.ParentFullID, u.FullID, u.Order,
				relVecs[u.FullID], relTexts[u.FullID], u.SemanticType)
		})
		if err != nil {
			return fmt.Errorf("ingest: persist contains %q: %w", u.FullID, err)
		}
		siblings[u.ParentFullID] = append(siblings[u.ParentFullID], u)
	}

	for _, group := range siblings {
		ordered := make([]Unit, len(group))
		copy(ordered, group)
		sortByOrder(ordered)
		for i := 0; i+1 < len(ordered); i++ {
			err := resilience.Retry(ctx, o.retryCfg, func(ctx context.Context) error {
				return o.store.UpsertNext(ctx, ordered[i].FullID, ordered[i+1].FullID)
			})
			if err != nil {
				return fmt.Errorf("ingest: persist next %q: %w", ordered[i].FullID, err)
			}
		}
	}

	if doc.Implements != "" {
		err := resilience.Retry(ctx, o.retryCfg, func(ctx context.Context) error {
			return o.store.UpsertImplements(ctx, doc.LawName, doc.Implements)
		})
		if err != nil {
			return fmt.Errorf("ingest: persist implements %q → %q: %w", doc.LawName, doc.Implements, err)
		}
	}
	return nil
}

// RelationContext builds the bounded context string for a containment edge:
// the last hundred characters of the parent content, the connector, and the
// first hundred characters of the child content. A side without content
// contributes its title instead.
func RelationContext(parent, child Unit) string {
	left := parent.Content
	if left == "" {
		left = parent.Title
	}
	right := child.Content
	if right == "" {
		right = child.Title
	}
	return tailRunes(left, contextWindow) + connector + headRunes(right, contextWindow)
}

// headRunes returns the first n runes of s.
func headRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// tailRunes returns the last n runes of s.
func tailRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

// sortByOrder sorts units by their sibling order, ties on full id.
func sortByOrder(units []Unit) {
	sort.Slice(units, func(i, j int) bool {
		if units[i].Order != units[j].Order {
			return units[i].Order < units[j].Order
		}
		return units[i].FullID < units[j].FullID
	})
}

// Package observe provides application-wide observability primitives for
// lawgraph: OpenTelemetry metrics, distributed tracing, structured logging,
// and the Prometheus exporter bridge that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all lawgraph metrics.
const meterName = "github.com/MrWong99/lawgraph"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per stage ---

	// SearchDuration tracks end-to-end retrieval latency. Use with attribute:
	//   attribute.String("mode", "rne"|"ine"|"relations")
	SearchDuration metric.Float64Histogram

	// EmbedDuration tracks embedding provider latency. Use with attribute:
	//   attribute.String("space", "node"|"relation")
	EmbedDuration metric.Float64Histogram

	// IngestDuration tracks per-document ingestion latency.
	IngestDuration metric.Float64Histogram

	// RebalanceDuration tracks full partition rebalance latency.
	RebalanceDuration metric.Float64Histogram

	// --- Counters ---

	// ExpansionPops counts priority-queue pops during graph expansion.
	// Use with attribute: attribute.String("mode", "rne"|"ine")
	ExpansionPops metric.Int64Counter

	// SeedHits counts seed paragraphs returned by initial vector search.
	SeedHits metric.Int64Counter

	// CollabRequests counts neighbor-domain collaboration calls.
	// Use with attribute: attribute.String("status", "ok"|"error"|"skipped")
	CollabRequests metric.Int64Counter

	// DomainSplits counts domain split operations during rebalance.
	DomainSplits metric.Int64Counter

	// DomainMerges counts domain merge operations during rebalance.
	DomainMerges metric.Int64Counter

	// StoreErrors counts graph store failures after retry exhaustion.
	StoreErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveDomains tracks the number of domains in the current partition.
	ActiveDomains metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin endpoint processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both sub-second vector queries and multi-second rebalances.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SearchDuration, err = m.Float64Histogram("lawgraph.search.duration",
		metric.WithDescription("End-to-end retrieval latency by mode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbedDuration, err = m.Float64Histogram("lawgraph.embed.duration",
		metric.WithDescription("Embedding provider latency by vector space."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IngestDuration, err = m.Float64Histogram("lawgraph.ingest.duration",
		metric.WithDescription("Per-document ingestion latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RebalanceDuration, err = m.Float64Histogram("lawgraph.rebalance.duration",
		metric.WithDescription("Full domain partition rebalance latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ExpansionPops, err = m.Int64Counter("lawgraph.expansion.pops",
		metric.WithDescription("Priority-queue pops during graph expansion by mode."),
	); err != nil {
		return nil, err
	}
	if met.SeedHits, err = m.Int64Counter("lawgraph.expansion.seeds",
		metric.WithDescription("Seed paragraphs returned by initial vector search."),
	); err != nil {
		return nil, err
	}
	if met.CollabRequests, err = m.Int64Counter("lawgraph.collab.requests",
		metric.WithDescription("Neighbor-domain collaboration calls by status."),
	); err != nil {
		return nil, err
	}
	if met.DomainSplits, err = m.Int64Counter("lawgraph.domain.splits",
		metric.WithDescription("Domain split operations during rebalance."),
	); err != nil {
		return nil, err
	}
	if met.DomainMerges, err = m.Int64Counter("lawgraph.domain.merges",
		metric.WithDescription("Domain merge operations during rebalance."),
	); err != nil {
		return nil, err
	}
	if met.StoreErrors, err = m.Int64Counter("lawgraph.store.errors",
		metric.WithDescription("Graph store failures after retry exhaustion."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveDomains, err = m.Int64UpDownCounter("lawgraph.domains.active",
		metric.WithDescription("Number of domains in the current partition."),
	); err != nil {
		return nil, err
	}

	// HTTP.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lawgraph.http.duration",
		metric.WithDescription("Admin endpoint request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultOnce guards lazy initialisation of the package-level instance.
var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// DefaultMetrics returns the package-level [Metrics] instance built from the
// globally registered meter provider. Initialisation errors are impossible
// with the global provider (instruments fall back to no-ops), so the result
// is always non-nil.
func DefaultMetrics() *Metrics {
	defaultOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			// The global provider never fails instrument creation; fall back
			// to an empty struct whose nil instruments are guarded by Record*.
			m = &Metrics{}
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordSearch records one retrieval of the given mode.
func (m *Metrics) RecordSearch(ctx context.Context, mode string, seconds float64) {
	if m == nil || m.SearchDuration == nil {
		return
	}
	m.SearchDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordPops adds n expansion pops for the given mode.
func (m *Metrics) RecordPops(ctx context.Context, mode string, n int64) {
	if m == nil || m.ExpansionPops == nil {
		return
	}
	m.ExpansionPops.Add(ctx, n, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordCollab counts one collaboration call with the given status.
func (m *Metrics) RecordCollab(ctx context.Context, status string) {
	if m == nil || m.CollabRequests == nil {
		return
	}
	m.CollabRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

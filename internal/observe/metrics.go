// Package observe provides application-wide observability primitives for
// the speaker quality service: OpenTelemetry metrics, distributed tracing,
// structured logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/tan-res-space/rag-interface"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ScoreDuration tracks edit-distance scoring latency.
	ScoreDuration metric.Float64Histogram

	// ProcessNoteDuration tracks end-to-end note processing latency
	// (score → aggregate → classify → propose → persist).
	ProcessNoteDuration metric.Float64Histogram

	// --- Distribution of SER scores ---

	// SERScore records the SER of every scored note. Use with attribute:
	//   attribute.String("quality_level", ...)
	SERScore metric.Float64Histogram

	// --- Counters ---

	// NotesProcessed counts processed notes. Use with attributes:
	//   attribute.String("bucket", ...), attribute.String("status", ...)
	NotesProcessed metric.Int64Counter

	// TransitionsProposed counts opened transition requests. Use with
	// attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	TransitionsProposed metric.Int64Counter

	// TransitionsDecided counts decided transition requests. Use with
	// attributes:
	//   attribute.String("decision", ...), attribute.String("decided_by", ...)
	TransitionsDecided metric.Int64Counter

	// ConcurrencyConflicts counts optimistic-lock failures on profile
	// updates.
	ConcurrencyConflicts metric.Int64Counter

	// --- Gauges ---

	// PendingTransitions tracks currently open transition requests.
	PendingTransitions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// short, CPU-bound operations of the engine plus its repository calls.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// serBuckets defines histogram bucket boundaries for SER percentages. The
// fine-grained low end matches the classifier thresholds.
var serBuckets = []float64{
	1, 2.5, 5, 10, 15, 20, 30, 50, 75, 100,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ScoreDuration, err = m.Float64Histogram("speakerqa.score.duration",
		metric.WithDescription("Latency of edit-distance scoring."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProcessNoteDuration, err = m.Float64Histogram("speakerqa.process_note.duration",
		metric.WithDescription("End-to-end note processing latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SERScore, err = m.Float64Histogram("speakerqa.ser.score",
		metric.WithDescription("SER score distribution by quality level."),
		metric.WithExplicitBucketBoundaries(serBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.NotesProcessed, err = m.Int64Counter("speakerqa.notes.processed",
		metric.WithDescription("Total processed notes by bucket and status."),
	); err != nil {
		return nil, err
	}
	if met.TransitionsProposed, err = m.Int64Counter("speakerqa.transitions.proposed",
		metric.WithDescription("Total bucket transition requests opened, by from/to bucket."),
	); err != nil {
		return nil, err
	}
	if met.TransitionsDecided, err = m.Int64Counter("speakerqa.transitions.decided",
		metric.WithDescription("Total bucket transition decisions by outcome and decider."),
	); err != nil {
		return nil, err
	}
	if met.ConcurrencyConflicts, err = m.Int64Counter("speakerqa.profile.conflicts",
		metric.WithDescription("Total optimistic-lock conflicts on profile updates."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.PendingTransitions, err = m.Int64UpDownCounter("speakerqa.transitions.pending",
		metric.WithDescription("Number of currently pending transition requests."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("speakerqa.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordNote is a convenience method that records one processed note with
// the standard attribute set.
func (m *Metrics) RecordNote(ctx context.Context, serScore float64, qualityLevel, bucket, status string) {
	m.SERScore.Record(ctx, serScore,
		metric.WithAttributes(attribute.String("quality_level", qualityLevel)),
	)
	m.NotesProcessed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("status", status),
		),
	)
}

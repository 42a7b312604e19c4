// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, tracing, structured logging, and HTTP middleware
// that ties them together.
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

// meterName is the instrumentation scope name used for all metrics.
const meterName = "talkwise"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SummarizeDuration tracks end-to-end summary generation latency.
	SummarizeDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// RecognitionRestarts counts speech recognition session restarts. Use
	// with attribute:
	//   attribute.String("reason", ...)
	RecognitionRestarts metric.Int64Counter

	// CommittedFragments counts final transcript fragments committed to the
	// live transcript.
	CommittedFragments metric.Int64Counter

	// DroppedFrames counts audio frames dropped because the consumer could
	// not keep up.
	DroppedFrames metric.Int64Counter

	// --- Gauges ---

	// ActiveRecordings tracks the number of recording sessions in progress.
	ActiveRecordings metric.Int64UpDownCounter

	// LiveSubscribers tracks the number of connected live-feed websocket
	// clients.
	LiveSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// model-call latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SummarizeDuration, err = m.Float64Histogram("talkwise.summarize.duration",
		metric.WithDescription("Latency of summary generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("talkwise.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("talkwise.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.RecognitionRestarts, err = m.Int64Counter("talkwise.recognition.restarts",
		metric.WithDescription("Total speech recognition session restarts by reason."),
	); err != nil {
		return nil, err
	}
	if met.CommittedFragments, err = m.Int64Counter("talkwise.transcript.fragments",
		metric.WithDescription("Total final transcript fragments committed."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("talkwise.audio.dropped_frames",
		metric.WithDescription("Total audio frames dropped due to slow consumers."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRecordings, err = m.Int64UpDownCounter("talkwise.active_recordings",
		metric.WithDescription("Number of recording sessions in progress."),
	); err != nil {
		return nil, err
	}
	if met.LiveSubscribers, err = m.Int64UpDownCounter("talkwise.live_subscribers",
		metric.WithDescription("Number of connected live-feed websocket clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("talkwise.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordRecognitionRestart records a recognition restart with the given
// reason ("network", "no_speech", "aborted", "unknown").
func (m *Metrics) RecordRecognitionRestart(ctx context.Context, reason string) {
	m.RecognitionRestarts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordCommittedFragment records one committed final transcript fragment.
func (m *Metrics) RecordCommittedFragment(ctx context.Context) {
	m.CommittedFragments.Add(ctx, 1)
}

// RecordDroppedFrame records one audio frame dropped by a slow consumer.
func (m *Metrics) RecordDroppedFrame(ctx context.Context) {
	m.DroppedFrames.Add(ctx, 1)
}

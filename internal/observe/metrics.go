// Package observe provides application-wide observability primitives for
// Soulink: OpenTelemetry metrics and a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping via the standard /metrics endpoint after calling [InitProvider].
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Soulink metrics.
const meterName = "github.com/soulink-ai/soulink"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ExchangeDuration tracks end-to-end exchange latency from dispatch to
	// completion. Use with attributes:
	//   attribute.String("kind", "text"|"voice"), attribute.String("status", "ok"|"error")
	ExchangeDuration metric.Float64Histogram

	// StreamChunks counts streamed reply chunks appended to the transcript.
	StreamChunks metric.Int64Counter

	// PresenceTransitions counts presence state transitions. Use with
	// attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	PresenceTransitions metric.Int64Counter

	// VoiceCaptures counts push-to-talk capture sessions. Use with attribute:
	//   attribute.String("status", "ok"|"denied"|"error")
	VoiceCaptures metric.Int64Counter

	// StaleDrops counts results discarded because their generation no longer
	// matched the live conversation.
	StaleDrops metric.Int64Counter

	// TransportFailures counts exchanges that ended in the fallback notice.
	// Use with attribute:
	//   attribute.String("kind", "text"|"voice")
	TransportFailures metric.Int64Counter

	// HTTPRequestDuration tracks local UI request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// conversational round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ExchangeDuration, err = m.Float64Histogram("soulink.exchange.duration",
		metric.WithDescription("End-to-end exchange latency by kind and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StreamChunks, err = m.Int64Counter("soulink.stream.chunks",
		metric.WithDescription("Total streamed reply chunks appended to the transcript."),
	); err != nil {
		return nil, err
	}
	if met.PresenceTransitions, err = m.Int64Counter("soulink.presence.transitions",
		metric.WithDescription("Total presence state transitions by source and target state."),
	); err != nil {
		return nil, err
	}
	if met.VoiceCaptures, err = m.Int64Counter("soulink.voice.captures",
		metric.WithDescription("Total push-to-talk capture sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.StaleDrops, err = m.Int64Counter("soulink.stale.drops",
		metric.WithDescription("Total results discarded as stale after a reset or newer exchange."),
	); err != nil {
		return nil, err
	}
	if met.TransportFailures, err = m.Int64Counter("soulink.transport.failures",
		metric.WithDescription("Total exchanges that ended in the fallback notice, by kind."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("soulink.http.request.duration",
		metric.WithDescription("Local UI request latency by method and path."),
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

// RecordExchange records one completed exchange with the standard attribute
// set.
func (m *Metrics) RecordExchange(ctx context.Context, kind, status string, seconds float64) {
	m.ExchangeDuration.Record(ctx, seconds,
		metric.WithAttributes(
			Attr("kind", kind),
			Attr("status", status),
		),
	)
}

// RecordPresenceTransition records one presence state transition.
func (m *Metrics) RecordPresenceTransition(ctx context.Context, from, to string) {
	m.PresenceTransitions.Add(ctx, 1,
		metric.WithAttributes(
			Attr("from", from),
			Attr("to", to),
		),
	)
}

// RecordVoiceCapture records one capture session outcome.
func (m *Metrics) RecordVoiceCapture(ctx context.Context, status string) {
	m.VoiceCaptures.Add(ctx, 1,
		metric.WithAttributes(Attr("status", status)),
	)
}

// RecordTransportFailure records one exchange that fell back to the notice.
func (m *Metrics) RecordTransportFailure(ctx context.Context, kind string) {
	m.TransportFailures.Add(ctx, 1,
		metric.WithAttributes(Attr("kind", kind)),
	)
}

// Package observe provides application-wide observability primitives for the
// transcript relay: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all relay metrics.
const meterName = "github.com/scribear/transcript-relay"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// AudioBytes counts bytes of audio forwarded to the backend. Use with
	// attribute: attribute.String("session", ...)
	AudioBytes metric.Int64Counter

	// TranscriptMessages counts transcript messages broadcast to subscribers.
	// Use with attributes:
	//   attribute.String("session", ...), attribute.String("kind", ...)
	TranscriptMessages metric.Int64Counter

	// BroadcastDrops counts transcript messages dropped because a
	// subscriber's outbound queue overflowed. Use with attribute:
	//   attribute.String("session", ...)
	BroadcastDrops metric.Int64Counter

	// --- Error counters ---

	// BackendErrors counts transcription backend failures. Use with attribute:
	//   attribute.String("kind", ...)
	BackendErrors metric.Int64Counter

	// AuthFailures counts rejected tokens. Use with attribute:
	//   attribute.String("reason", ...)
	AuthFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveRooms tracks the number of rooms in the room map.
	ActiveRooms metric.Int64UpDownCounter

	// ActiveSources tracks the number of attached audio sources.
	ActiveSources metric.Int64UpDownCounter

	// ActiveSubscribers tracks the number of connected transcript
	// subscribers across all rooms.
	ActiveSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// HTTP surface, which serves only small control-plane requests.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.AudioBytes, err = m.Int64Counter("relay.audio.bytes",
		metric.WithDescription("Total bytes of audio forwarded to the transcription backend."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.TranscriptMessages, err = m.Int64Counter("relay.transcript.messages",
		metric.WithDescription("Total transcript messages broadcast to subscribers by session and kind."),
	); err != nil {
		return nil, err
	}
	if met.BroadcastDrops, err = m.Int64Counter("relay.broadcast.drops",
		metric.WithDescription("Total transcript messages dropped due to slow subscribers."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.BackendErrors, err = m.Int64Counter("relay.backend.errors",
		metric.WithDescription("Total transcription backend failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.AuthFailures, err = m.Int64Counter("relay.auth.failures",
		metric.WithDescription("Total rejected tokens by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRooms, err = m.Int64UpDownCounter("relay.active_rooms",
		metric.WithDescription("Number of rooms currently in the room map."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSources, err = m.Int64UpDownCounter("relay.active_sources",
		metric.WithDescription("Number of currently attached audio sources."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSubscribers, err = m.Int64UpDownCounter("relay.active_subscribers",
		metric.WithDescription("Number of connected transcript subscribers across all rooms."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("relay.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
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

// RecordTranscriptMessage records one broadcast transcript message with the
// standard attribute set.
func (m *Metrics) RecordTranscriptMessage(ctx context.Context, session, kind string) {
	m.TranscriptMessages.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("session", session),
			attribute.String("kind", kind),
		),
	)
}

// RecordBackendError records one transcription backend failure.
func (m *Metrics) RecordBackendError(ctx context.Context, kind string) {
	m.BackendErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordAuthFailure records one rejected token.
func (m *Metrics) RecordAuthFailure(ctx context.Context, reason string) {
	m.AuthFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

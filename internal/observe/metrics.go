// Package observe provides application-wide observability primitives for
// voxduplex: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]; [MetricsHandler] serves them on /metrics. The
// audio engines register their own instruments on the same provider. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for application metrics.
const meterName = "github.com/MrWong99/voxduplex"

// Metrics holds the session-level and HTTP instruments. All fields are safe
// for concurrent use.
type Metrics struct {
	// --- Session counters ---

	// FramesForwarded counts captured frames handed to the peer.
	FramesForwarded metric.Int64Counter

	// ChunksReceived counts audio chunks received from the peer.
	ChunksReceived metric.Int64Counter

	// MuteToggles counts capture pauses and resumes caused by playback. Use
	// with attribute.String("state", "muted"|"unmuted").
	MuteToggles metric.Int64Counter

	// Interruptions counts peer-initiated interruptions of playback.
	Interruptions metric.Int64Counter

	// PeerErrors counts failed peer operations. Use with
	// attribute.String("op", "send"|"truncate").
	PeerErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of running sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Latency ---

	// TruncateDuration tracks how long the peer takes to acknowledge an
	// interruption.
	TruncateDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesForwarded, err = m.Int64Counter("voxduplex.session.frames_forwarded",
		metric.WithDescription("Captured frames forwarded to the peer."),
	); err != nil {
		return nil, err
	}
	if met.ChunksReceived, err = m.Int64Counter("voxduplex.session.chunks_received",
		metric.WithDescription("Audio chunks received from the peer."),
	); err != nil {
		return nil, err
	}
	if met.MuteToggles, err = m.Int64Counter("voxduplex.session.mute_toggles",
		metric.WithDescription("Capture pauses and resumes driven by playback."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("voxduplex.session.interruptions",
		metric.WithDescription("Playback interruptions requested by the peer."),
	); err != nil {
		return nil, err
	}
	if met.PeerErrors, err = m.Int64Counter("voxduplex.session.peer_errors",
		metric.WithDescription("Failed peer operations."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxduplex.session.active",
		metric.WithDescription("Number of running sessions."),
	); err != nil {
		return nil, err
	}
	if met.TruncateDuration, err = m.Float64Histogram("voxduplex.session.truncate.duration",
		metric.WithDescription("Latency of forwarding an interruption to the peer."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxduplex.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails.
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

// RecordMute records a capture pause (muted=true) or resume.
func (m *Metrics) RecordMute(ctx context.Context, muted bool) {
	state := "unmuted"
	if muted {
		state = "muted"
	}
	m.MuteToggles.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordPeerError records a failed peer operation.
func (m *Metrics) RecordPeerError(ctx context.Context, op string) {
	m.PeerErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

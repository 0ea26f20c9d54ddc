// Package observe provides application-wide observability primitives for
// Cadence: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Cadence metrics.
const meterName = "github.com/aevum-labs/cadence"

// Metrics holds all OpenTelemetry metric instruments for the timing core.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Packetizer ---

	// PacketsEmitted counts audio packets yielded by the packetizer.
	// Use with attribute.String("session_id", ...).
	PacketsEmitted metric.Int64Counter

	// --- Backpressure / degradation ---

	// YieldStarts counts yield episodes beginning.
	YieldStarts metric.Int64Counter

	// FreezeStarts counts yield episodes entering the freeze phase.
	FreezeStarts metric.Int64Counter

	// YieldDuration tracks yield episode length in seconds.
	YieldDuration metric.Float64Histogram

	// FramesSkipped counts frames skipped while yielding.
	FramesSkipped metric.Int64Counter

	// --- Heartbeat ---

	// HeartbeatsEmitted counts synthesized filler frames.
	HeartbeatsEmitted metric.Int64Counter

	// MissingFrameEvents counts consumer-side missing-frame detections.
	MissingFrameEvents metric.Int64Counter

	// --- Cancellation ---

	// CancelDuration tracks the cancel fan-out wait in seconds, including
	// timed-out fan-outs at the full budget. Use with
	// attribute.String("reason", ...).
	CancelDuration metric.Float64Histogram

	// CancelTimeouts counts fan-outs in which at least one handler missed
	// the budget.
	CancelTimeouts metric.Int64Counter

	// --- Sessions ---

	// ActiveSessions tracks the number of live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SessionDuration tracks completed session length in seconds.
	SessionDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for sub-second timing-core latencies.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.15, 0.25, 0.5, 1, 2.5,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for
// session lifetimes.
var sessionBuckets = []float64{
	1, 5, 15, 60, 300, 900, 1800, 3600, 7200,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.PacketsEmitted, err = m.Int64Counter("cadence.packets.emitted",
		metric.WithDescription("Total audio packets yielded by the packetizer."),
	); err != nil {
		return nil, err
	}
	if met.YieldStarts, err = m.Int64Counter("cadence.yield.starts",
		metric.WithDescription("Total yield episodes started."),
	); err != nil {
		return nil, err
	}
	if met.FreezeStarts, err = m.Int64Counter("cadence.freeze.starts",
		metric.WithDescription("Total yield episodes that entered the freeze phase."),
	); err != nil {
		return nil, err
	}
	if met.FramesSkipped, err = m.Int64Counter("cadence.frames.skipped",
		metric.WithDescription("Total frames skipped while yielding."),
	); err != nil {
		return nil, err
	}
	if met.HeartbeatsEmitted, err = m.Int64Counter("cadence.heartbeats.emitted",
		metric.WithDescription("Total synthesized heartbeat filler frames."),
	); err != nil {
		return nil, err
	}
	if met.MissingFrameEvents, err = m.Int64Counter("cadence.heartbeats.missing_events",
		metric.WithDescription("Total missing-frame detections on the consumer side."),
	); err != nil {
		return nil, err
	}
	if met.CancelTimeouts, err = m.Int64Counter("cadence.cancel.timeouts",
		metric.WithDescription("Total cancel fan-outs with at least one handler past budget."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.YieldDuration, err = m.Float64Histogram("cadence.yield.duration",
		metric.WithDescription("Length of completed yield episodes."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CancelDuration, err = m.Float64Histogram("cadence.cancel.duration",
		metric.WithDescription("Cancel fan-out wait by reason."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("cadence.session.duration",
		metric.WithDescription("Completed session length."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("cadence.active_sessions",
		metric.WithDescription("Number of live sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("cadence.http.request.duration",
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

// RecordYieldEnd records one completed yield episode: its duration histogram
// sample and the frames skipped during it.
func (m *Metrics) RecordYieldEnd(ctx context.Context, sessionID string, durationSeconds float64, skipped int) {
	attrs := metric.WithAttributes(attribute.String("session_id", sessionID))
	m.YieldDuration.Record(ctx, durationSeconds, attrs)
	m.FramesSkipped.Add(ctx, int64(skipped), attrs)
}

// RecordCancel records one cancel fan-out: its wait duration and, when
// complete is false, a timeout increment.
func (m *Metrics) RecordCancel(ctx context.Context, reason string, durationSeconds float64, complete bool) {
	attrs := metric.WithAttributes(attribute.String("reason", reason))
	m.CancelDuration.Record(ctx, durationSeconds, attrs)
	if !complete {
		m.CancelTimeouts.Add(ctx, 1, attrs)
	}
}

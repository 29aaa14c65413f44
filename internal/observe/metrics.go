// Package observe provides the relay's observability primitives:
// OpenTelemetry metric instruments for the recognition and translation
// pipeline, and the Prometheus exporter bridge that serves them on /metrics.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all voxlink metrics.
const meterName = "github.com/voxlink-ai/voxlink"

// Metrics holds all OpenTelemetry metric instruments for the relay. All
// fields are safe for concurrent use; the underlying OTel types handle their
// own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text latency, batch and streaming finals.
	STTDuration metric.Float64Histogram

	// TranslateDuration tracks vendor translation latency.
	TranslateDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// FanOutDuration tracks a full per-final fan-out, all languages included.
	FanOutDuration metric.Float64Histogram

	// --- Counters ---

	// EventsPublished counts session bus events. Use with attribute:
	//   attribute.String("type", ...)
	EventsPublished metric.Int64Counter

	// DedupDrops counts transcripts suppressed as duplicates.
	DedupDrops metric.Int64Counter

	// SegmentsCut counts chunker segments. Use with attribute:
	//   attribute.String("reason", ...)
	SegmentsCut metric.Int64Counter

	// --- Error counters ---

	// VendorErrors counts speech vendor failures. Use with attributes:
	//   attribute.String("vendor", ...), attribute.String("kind", ...)
	VendorErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks live call sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveParticipants tracks connected participants across all sessions.
	ActiveParticipants metric.Int64UpDownCounter

	// ActiveStreams tracks open streaming recognition sessions.
	ActiveStreams metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("voxlink.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslateDuration, err = m.Float64Histogram("voxlink.translate.duration",
		metric.WithDescription("Latency of vendor translation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("voxlink.tts.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FanOutDuration, err = m.Float64Histogram("voxlink.fanout.duration",
		metric.WithDescription("End-to-end latency of one final's language fan-out."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.EventsPublished, err = m.Int64Counter("voxlink.bus.events",
		metric.WithDescription("Total session bus events published by type."),
	); err != nil {
		return nil, err
	}
	if met.DedupDrops, err = m.Int64Counter("voxlink.dedup.drops",
		metric.WithDescription("Total transcripts suppressed as duplicates."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsCut, err = m.Int64Counter("voxlink.chunker.segments",
		metric.WithDescription("Total chunker segments by cut reason."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.VendorErrors, err = m.Int64Counter("voxlink.vendor.errors",
		metric.WithDescription("Total speech vendor failures by vendor and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxlink.active_sessions",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveParticipants, err = m.Int64UpDownCounter("voxlink.active_participants",
		metric.WithDescription("Number of connected participants across all sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("voxlink.active_streams",
		metric.WithDescription("Number of open streaming recognition sessions."),
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

// RecordVendorCall records one vendor call on the stage histogram and, when
// the call failed, the vendor error counter.
func (m *Metrics) RecordVendorCall(ctx context.Context, hist metric.Float64Histogram, vendor, kind string, start time.Time, err error) {
	hist.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("vendor", vendor)))
	if err != nil {
		m.VendorErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("vendor", vendor),
				attribute.String("kind", kind),
			),
		)
	}
}

// RecordEvent records one published session bus event.
func (m *Metrics) RecordEvent(ctx context.Context, eventType string) {
	m.EventsPublished.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", eventType)))
}

// RecordSegment records one chunker cut.
func (m *Metrics) RecordSegment(ctx context.Context, reason string) {
	m.SegmentsCut.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

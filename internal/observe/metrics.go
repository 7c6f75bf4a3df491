// Package observe provides application-wide observability primitives for
// soundsentry: OpenTelemetry metrics and the Prometheus exporter bridge.
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

// meterName is the instrumentation scope name used for all soundsentry metrics.
const meterName = "github.com/soundsentry/soundsentry"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ClassifyDuration tracks classifier invocation latency.
	ClassifyDuration metric.Float64Histogram

	// WindowsProcessed counts analysis windows classified. Use with
	// attribute: attribute.String("source", ...)
	WindowsProcessed metric.Int64Counter

	// SamplesProcessed counts completed sample cycles per source.
	SamplesProcessed metric.Int64Counter

	// Events counts emitted event boundaries. Use with attributes:
	//   attribute.String("source", ...), attribute.String("group", ...), attribute.String("type", ...)
	Events metric.Int64Counter

	// ClassifyErrors counts failed classifier invocations by source.
	ClassifyErrors metric.Int64Counter

	// PublishErrors counts dropped event notifications by source.
	PublishErrors metric.Int64Counter

	// SourceState reports each worker's lifecycle state as a numeric code
	// (0 stopped, 1 connecting, 2 streaming, 3 degraded). Use with
	// attribute: attribute.String("source", ...)
	SourceState metric.Int64Gauge

	// StreamRestarts counts capture stream reconnects by source.
	StreamRestarts metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// on-CPU model inference and LAN round-trips.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ClassifyDuration, err = m.Float64Histogram("soundsentry.classify.duration",
		metric.WithDescription("Latency of one classifier invocation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WindowsProcessed, err = m.Int64Counter("soundsentry.windows.processed",
		metric.WithDescription("Total analysis windows classified by source."),
	); err != nil {
		return nil, err
	}
	if met.SamplesProcessed, err = m.Int64Counter("soundsentry.samples.processed",
		metric.WithDescription("Total completed sample cycles by source."),
	); err != nil {
		return nil, err
	}
	if met.Events, err = m.Int64Counter("soundsentry.events",
		metric.WithDescription("Total event boundaries emitted by source, group, and type."),
	); err != nil {
		return nil, err
	}
	if met.ClassifyErrors, err = m.Int64Counter("soundsentry.classify.errors",
		metric.WithDescription("Total failed classifier invocations by source."),
	); err != nil {
		return nil, err
	}
	if met.PublishErrors, err = m.Int64Counter("soundsentry.publish.errors",
		metric.WithDescription("Total dropped event notifications by source."),
	); err != nil {
		return nil, err
	}
	if met.SourceState, err = m.Int64Gauge("soundsentry.source.state",
		metric.WithDescription("Worker lifecycle state by source (0 stopped, 1 connecting, 2 streaming, 3 degraded)."),
	); err != nil {
		return nil, err
	}
	if met.StreamRestarts, err = m.Int64Counter("soundsentry.stream.restarts",
		metric.WithDescription("Total capture stream reconnects by source."),
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

// RecordClassification records one classifier invocation: its latency, the
// per-source window counter, and the error counter when err is non-nil.
func (m *Metrics) RecordClassification(ctx context.Context, source string, seconds float64, err error) {
	src := metric.WithAttributes(attribute.String("source", source))
	m.ClassifyDuration.Record(ctx, seconds, src)
	if err != nil {
		m.ClassifyErrors.Add(ctx, 1, src)
		return
	}
	m.WindowsProcessed.Add(ctx, 1, src)
}

// RecordSample records one completed sample cycle.
func (m *Metrics) RecordSample(ctx context.Context, source string) {
	m.SamplesProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordEvent records one emitted event boundary.
func (m *Metrics) RecordEvent(ctx context.Context, source, group, eventType string) {
	m.Events.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("group", group),
			attribute.String("type", eventType),
		),
	)
}

// RecordPublishError records one dropped event notification.
func (m *Metrics) RecordPublishError(ctx context.Context, source string) {
	m.PublishErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordSourceState records a worker lifecycle state change.
func (m *Metrics) RecordSourceState(ctx context.Context, source string, state int64) {
	m.SourceState.Record(ctx, state,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordStreamRestart records one capture stream reconnect.
func (m *Metrics) RecordStreamRestart(ctx context.Context, source string) {
	m.StreamRestarts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

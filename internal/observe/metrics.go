// Package observe provides the recorder's observability primitives:
// OpenTelemetry metrics, tracing, trace-aware logging and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. Tests should build their own [Metrics] with
// [NewMetrics] and a ManualReader-backed provider to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all recorder metrics.
const meterName = "github.com/audiolibrelab/fxrecorder"

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// Transitions counts recorder state transitions. Use with attributes:
	//   attribute.String("action", ...), attribute.String("from", ...), attribute.String("to", ...)
	Transitions metric.Int64Counter

	// IllegalTransitions counts rejected actions by action and status.
	IllegalTransitions metric.Int64Counter

	// StopDuration tracks how long finalizing a recording takes.
	StopDuration metric.Float64Histogram

	// EffectApplies counts effect configuration applications.
	EffectApplies metric.Int64Counter

	// EffectErrors counts failed applications by stage.
	EffectErrors metric.Int64Counter

	// MeterLevel is the most recent input level reading.
	MeterLevel metric.Float64Gauge

	// HTTPRequestDuration is control request latency by route and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// WAV finalization of clips up to a few minutes.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Transitions, err = m.Int64Counter("fxrecorder.transitions",
		metric.WithDescription("Recorder state transitions by action and status."),
	); err != nil {
		return nil, err
	}
	if met.IllegalTransitions, err = m.Int64Counter("fxrecorder.transitions.illegal",
		metric.WithDescription("Actions rejected in the current status."),
	); err != nil {
		return nil, err
	}
	if met.StopDuration, err = m.Float64Histogram("fxrecorder.stop.duration",
		metric.WithDescription("Latency of finalizing a recording."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EffectApplies, err = m.Int64Counter("fxrecorder.effect.applies",
		metric.WithDescription("Effect configurations applied to the playable."),
	); err != nil {
		return nil, err
	}
	if met.EffectErrors, err = m.Int64Counter("fxrecorder.effect.errors",
		metric.WithDescription("Effect applications that failed, by stage."),
	); err != nil {
		return nil, err
	}
	if met.MeterLevel, err = m.Float64Gauge("fxrecorder.meter.level",
		metric.WithDescription("Latest absolute input level."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("fxrecorder.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
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

// RecordTransition records one state transition.
func (m *Metrics) RecordTransition(ctx context.Context, action, from, to string) {
	m.Transitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordIllegalTransition records an action rejected in status.
func (m *Metrics) RecordIllegalTransition(ctx context.Context, action, status string) {
	m.IllegalTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		),
	)
}

// RecordEffectError records a failed application of stage.
func (m *Metrics) RecordEffectError(ctx context.Context, stage string) {
	m.EffectErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

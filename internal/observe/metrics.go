// Package observe provides application-wide observability primitives for
// siggen: OpenTelemetry metrics, tracing, structured logging helpers and the
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported in
// Prometheus format by [InitProvider]. Render-side counters are never
// recorded from the audio goroutine; the engine keeps lock-free counters and
// [RegisterEngineStats] reads them from the SDK's collection callback.
// Tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/siggen/pkg/synth"
)

// meterName is the instrumentation scope name used for all siggen metrics.
const meterName = "github.com/MrWong99/siggen"

// Command outcome labels for [Metrics.RecordCommand].
const (
	StatusOK        = "ok"
	StatusUsage     = "usage"
	StatusInvalid   = "invalid"
	StatusNotFound  = "not_found"
	StatusQueueFull = "queue_full"
)

// Metrics holds the synchronous metric instruments of the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// ControlCommands counts control commands. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	ControlCommands metric.Int64Counter

	// UsageWarnings counts commands rejected as invalid for the voice's
	// current state. Use with attribute.String("op", ...).
	UsageWarnings metric.Int64Counter

	// ControlDuration tracks how long a control command held the engine.
	ControlDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// MonitorListeners tracks connected monitor streams.
	MonitorListeners metric.Int64UpDownCounter

	// MonitorPackets counts Opus packets sent to monitor listeners.
	MonitorPackets metric.Int64Counter
}

// controlBuckets are histogram boundaries (in seconds) for control commands,
// which only take a mutex and stage a few events.
var controlBuckets = []float64{
	0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ControlCommands, err = m.Int64Counter("siggen.control.commands",
		metric.WithDescription("Control commands by operation and outcome."),
	); err != nil {
		return nil, err
	}
	if met.UsageWarnings, err = m.Int64Counter("siggen.control.usage_warnings",
		metric.WithDescription("Control commands rejected as invalid for the voice's sync state."),
	); err != nil {
		return nil, err
	}
	if met.ControlDuration, err = m.Float64Histogram("siggen.control.duration",
		metric.WithDescription("Latency of control commands."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(controlBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("siggen.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.MonitorListeners, err = m.Int64UpDownCounter("siggen.monitor.listeners",
		metric.WithDescription("Number of connected monitor streams."),
	); err != nil {
		return nil, err
	}
	if met.MonitorPackets, err = m.Int64Counter("siggen.monitor.packets",
		metric.WithDescription("Opus packets sent to monitor listeners."),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// RecordCommand records one control command outcome and its duration. A
// usage outcome also increments [Metrics.UsageWarnings].
func (m *Metrics) RecordCommand(ctx context.Context, op, status string, d time.Duration) {
	m.ControlCommands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
	m.ControlDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("op", op)))
	if status == StatusUsage {
		m.UsageWarnings.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}

// StatsSource exposes lock-free render counters. [synth.Engine] implements it.
type StatsSource interface {
	Stats() synth.Stats
}

// RegisterEngineStats registers observable instruments that read src on
// every collection. Unregister the returned registration on shutdown.
func RegisterEngineStats(mp metric.MeterProvider, src StatsSource) (metric.Registration, error) {
	m := mp.Meter(meterName)

	blocks, err := m.Int64ObservableCounter("siggen.engine.blocks",
		metric.WithDescription("Audio blocks rendered."))
	if err != nil {
		return nil, err
	}
	frames, err := m.Int64ObservableCounter("siggen.engine.frames",
		metric.WithDescription("Sample frames rendered."))
	if err != nil {
		return nil, err
	}
	applied, err := m.Int64ObservableCounter("siggen.engine.events_applied",
		metric.WithDescription("Control events applied at block boundaries."))
	if err != nil {
		return nil, err
	}
	rejected, err := m.Int64ObservableCounter("siggen.engine.queue_rejections",
		metric.WithDescription("Control commands rejected because the event queue was full."))
	if err != nil {
		return nil, err
	}
	overruns, err := m.Int64ObservableCounter("siggen.engine.render_overrun",
		metric.WithDescription("Blocks whose render time exceeded the block period."))
	if err != nil {
		return nil, err
	}
	voices, err := m.Int64ObservableGauge("siggen.engine.voices",
		metric.WithDescription("Number of voices in the engine."))
	if err != nil {
		return nil, err
	}
	pending, err := m.Int64ObservableGauge("siggen.engine.pending_events",
		metric.WithDescription("Control events waiting for the next block."))
	if err != nil {
		return nil, err
	}

	return m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := src.Stats()
		o.ObserveInt64(blocks, int64(st.Blocks))
		o.ObserveInt64(frames, int64(st.Frames))
		o.ObserveInt64(applied, int64(st.EventsApplied))
		o.ObserveInt64(rejected, int64(st.QueueRejections))
		o.ObserveInt64(overruns, int64(st.Overruns))
		o.ObserveInt64(voices, int64(st.Voices))
		o.ObserveInt64(pending, int64(st.Pending))
		return nil
	}, blocks, frames, applied, rejected, overruns, voices, pending)
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

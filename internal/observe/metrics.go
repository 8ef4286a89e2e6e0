// Package observe provides application-wide observability primitives for
// autovolume: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [InitProvider] so the observe server can expose
// them on /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all autovolume metrics.
const meterName = "github.com/MrWong99/autovolume"

// Stage names a startup step of the capture pipeline.
type Stage string

const (
	StageConnect Stage = "connect"
	StageResolve Stage = "resolve"
	StageOpen    Stage = "open"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture pipeline ---

	// FramesRead counts PCM frames read from the capture stream.
	FramesRead metric.Int64Counter

	// ReadErrors counts failed frame reads.
	ReadErrors metric.Int64Counter

	// FrameReadDuration tracks how long a blocking frame read waited.
	FrameReadDuration metric.Float64Histogram

	// Level is the RMS level of the most recent frame.
	Level metric.Float64Gauge

	// StartupStageDuration tracks connect/resolve/open latency. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("status", ...)
	StartupStageDuration metric.Float64Histogram

	// --- Volume control ---

	// VolumeCommands counts volume utility invocations. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	VolumeCommands metric.Int64Counter

	// VolumeCommandDuration tracks volume utility run time.
	VolumeCommandDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...),
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram

	// LevelSubscribers tracks connected live level feed clients.
	LevelSubscribers metric.Int64UpDownCounter
}

// frameBuckets covers reads from well under one fragment (≈2.7 ms at the
// default policy) up to a stalled source.
var frameBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1,
}

// latencyBuckets defines bucket boundaries (in seconds) for startup stages and
// subprocess calls.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesRead, err = m.Int64Counter("autovolume.capture.frames",
		metric.WithDescription("Total PCM frames read from the monitor source."),
	); err != nil {
		return nil, err
	}
	if met.ReadErrors, err = m.Int64Counter("autovolume.capture.read_errors",
		metric.WithDescription("Total failed frame reads."),
	); err != nil {
		return nil, err
	}
	if met.FrameReadDuration, err = m.Float64Histogram("autovolume.capture.read.duration",
		metric.WithDescription("Time spent blocked reading one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(frameBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Level, err = m.Float64Gauge("autovolume.meter.level",
		metric.WithDescription("RMS level of the most recent frame, nominally 0..1."),
	); err != nil {
		return nil, err
	}
	if met.StartupStageDuration, err = m.Float64Histogram("autovolume.startup.duration",
		metric.WithDescription("Latency of pipeline startup stages by stage and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.VolumeCommands, err = m.Int64Counter("autovolume.volume.commands",
		metric.WithDescription("Total volume utility invocations by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.VolumeCommandDuration, err = m.Float64Histogram("autovolume.volume.command.duration",
		metric.WithDescription("Run time of volume utility invocations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("autovolume.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.LevelSubscribers, err = m.Int64UpDownCounter("autovolume.feed.subscribers",
		metric.WithDescription("Number of connected live level feed clients."),
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

// status maps a success flag to the "status" attribute value.
func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// RecordFrame records one successful frame read and the resulting level.
func (m *Metrics) RecordFrame(ctx context.Context, wait time.Duration, level float64) {
	m.FramesRead.Add(ctx, 1)
	m.FrameReadDuration.Record(ctx, wait.Seconds())
	m.Level.Record(ctx, level)
}

// RecordReadError records one failed frame read.
func (m *Metrics) RecordReadError(ctx context.Context) {
	m.ReadErrors.Add(ctx, 1)
}

// RecordStartupStage records the duration and outcome of a startup stage.
func (m *Metrics) RecordStartupStage(ctx context.Context, stage Stage, d time.Duration, ok bool) {
	m.StartupStageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("stage", string(stage)),
			attribute.String("status", status(ok)),
		),
	)
}

// RecordVolumeCommand records one volume utility invocation.
func (m *Metrics) RecordVolumeCommand(ctx context.Context, op string, d time.Duration, ok bool) {
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status(ok)),
	)
	m.VolumeCommands.Add(ctx, 1, attrs)
	m.VolumeCommandDuration.Record(ctx, d.Seconds(), attrs)
}

package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// hasAttr reports whether set contains key=value.
func hasAttr(set attribute.Set, key, value string) bool {
	v, ok := set.Value(attribute.Key(key))
	return ok && v.AsString() == value
}

func TestRecordFrame(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, 2*time.Millisecond, 0.25)
	m.RecordFrame(ctx, 3*time.Millisecond, 0.5)

	rm := collect(t, reader)

	frames := findMetric(rm, "autovolume.capture.frames")
	if frames == nil {
		t.Fatal("frames metric not found")
	}
	sum, ok := frames.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("frames metric is not a populated sum")
	}
	if got := sum.DataPoints[0].Value; got != 2 {
		t.Errorf("frames = %d, want 2", got)
	}

	wait := findMetric(rm, "autovolume.capture.read.duration")
	if wait == nil {
		t.Fatal("read duration metric not found")
	}
	hist, ok := wait.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("read duration metric is not a populated histogram")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}

	level := findMetric(rm, "autovolume.meter.level")
	if level == nil {
		t.Fatal("level metric not found")
	}
	gauge, ok := level.Data.(metricdata.Gauge[float64])
	if !ok || len(gauge.DataPoints) == 0 {
		t.Fatal("level metric is not a populated gauge")
	}
	if got := gauge.DataPoints[0].Value; got != 0.5 {
		t.Errorf("level = %v, want last recorded 0.5", got)
	}
}

func TestRecordReadError(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordReadError(context.Background())

	met := findMetric(collect(t, reader), "autovolume.capture.read_errors")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("metric is not a populated sum")
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("counter value = %d, want 1", sum.DataPoints[0].Value)
	}
}

func TestRecordStartupStage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStartupStage(ctx, StageConnect, 5*time.Millisecond, true)
	m.RecordStartupStage(ctx, StageResolve, time.Millisecond, true)
	m.RecordStartupStage(ctx, StageOpen, 10*time.Millisecond, false)

	met := findMetric(collect(t, reader), "autovolume.startup.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) != 3 {
		t.Fatalf("data points = %d, want 3 (one per stage/status)", len(hist.DataPoints))
	}
	for _, dp := range hist.DataPoints {
		if hasAttr(dp.Attributes, "stage", "open") && !hasAttr(dp.Attributes, "status", "error") {
			t.Error("open stage recorded with wrong status")
		}
	}
}

func TestRecordVolumeCommand(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordVolumeCommand(ctx, "get", time.Millisecond, true)
	m.RecordVolumeCommand(ctx, "get", time.Millisecond, true)
	m.RecordVolumeCommand(ctx, "set", time.Millisecond, false)

	met := findMetric(collect(t, reader), "autovolume.volume.commands")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}

	for _, dp := range sum.DataPoints {
		if hasAttr(dp.Attributes, "op", "get") && hasAttr(dp.Attributes, "status", "ok") {
			if dp.Value != 2 {
				t.Errorf("get/ok = %d, want 2", dp.Value)
			}
			return
		}
	}
	t.Error("data point with op=get status=ok not found")
}

func TestLevelSubscribers(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.LevelSubscribers.Add(ctx, 1)
	m.LevelSubscribers.Add(ctx, 1)
	m.LevelSubscribers.Add(ctx, -1)

	met := findMetric(collect(t, reader), "autovolume.feed.subscribers")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("metric is not a populated sum")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("subscribers = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}

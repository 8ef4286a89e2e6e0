package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer as the global provider for the
// duration of the test. Tests calling it must not run in parallel.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs routes the default logger into a JSON buffer at debug level.
// Tests calling it must not run in parallel.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

// logLines decodes one JSON object per line.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var l map[string]any
		if err := dec.Decode(&l); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		lines = append(lines, l)
	}
	return lines
}

func spanAttr(s tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, kv := range s.Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestStartStage(t *testing.T) {
	tests := []struct {
		name       string
		stage      Stage
		err        error
		wantStatus string
		wantCode   codes.Code
	}{
		{"connect ok", StageConnect, nil, "ok", codes.Unset},
		{"resolve ok", StageResolve, nil, "ok", codes.Unset},
		{"open failed", StageOpen, errors.New("no such entity"), "error", codes.Error},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exp := useTracer(t)
			m, reader := newTestMetrics(t)

			_, finish := StartStage(context.Background(), m, tc.stage)
			finish(tc.err)

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			s := spans[0]
			if want := "startup." + string(tc.stage); s.Name != want {
				t.Errorf("span name = %q, want %q", s.Name, want)
			}
			if v, ok := spanAttr(s, "stage"); !ok || v.AsString() != string(tc.stage) {
				t.Errorf("stage attribute = %v, want %q", v.Emit(), tc.stage)
			}
			if s.Status.Code != tc.wantCode {
				t.Errorf("span status = %v, want %v", s.Status.Code, tc.wantCode)
			}
			if tc.err != nil && len(s.Events) != 1 {
				t.Errorf("span events = %d, want the recorded error", len(s.Events))
			}

			met := findMetric(collect(t, reader), "autovolume.startup.duration")
			if met == nil {
				t.Fatal("startup duration not recorded")
			}
			hist := met.Data.(metricdata.Histogram[float64])
			if len(hist.DataPoints) != 1 {
				t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
			}
			dp := hist.DataPoints[0]
			if !hasAttr(dp.Attributes, "stage", string(tc.stage)) || !hasAttr(dp.Attributes, "status", tc.wantStatus) {
				t.Errorf("attributes = %v, want stage=%s status=%s", dp.Attributes.ToSlice(), tc.stage, tc.wantStatus)
			}
		})
	}
}

func TestStartStage_ChildOfCaller(t *testing.T) {
	exp := useTracer(t)
	m, _ := newTestMetrics(t)

	ctx, parent := StartSpan(context.Background(), "app.new")
	_, finish := StartStage(ctx, m, StageConnect)
	finish(nil)
	parent.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	stage, app := spans[0], spans[1]
	if stage.Parent.SpanID() != app.SpanContext.SpanID() {
		t.Errorf("stage parent = %s, want %s", stage.Parent.SpanID(), app.SpanContext.SpanID())
	}
}

func TestSpanError(t *testing.T) {
	exp := useTracer(t)

	_, clean := StartSpan(context.Background(), "volume.get")
	SpanError(clean, nil)
	clean.End()

	_, failed := StartSpan(context.Background(), "volume.set")
	SpanError(failed, errors.New("wpctl exited with status 1"))
	failed.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Status.Code != codes.Unset || len(spans[0].Events) != 0 {
		t.Errorf("nil error touched the span: status %v, %d events", spans[0].Status.Code, len(spans[0].Events))
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "wpctl exited with status 1" {
		t.Errorf("failed span status = %+v", spans[1].Status)
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)
	buf := captureLogs(t)

	Logger(context.Background()).Info("no span")
	ctx, span := StartSpan(context.Background(), "capture.read")
	Logger(ctx).Info("with span")
	span.End()

	lines := logLines(t, buf)
	if len(lines) != 2 {
		t.Fatalf("log lines = %d, want 2", len(lines))
	}
	if _, ok := lines[0]["trace_id"]; ok {
		t.Errorf("line without span has trace_id: %v", lines[0])
	}
	sc := span.SpanContext()
	if lines[1]["trace_id"] != sc.TraceID().String() || lines[1]["span_id"] != sc.SpanID().String() {
		t.Errorf("line = %v, want trace_id %s span_id %s", lines[1], sc.TraceID(), sc.SpanID())
	}
}

package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for all autovolume spans.
const tracerName = "github.com/MrWong99/autovolume"

// Tracer returns the autovolume tracer from the global provider, so spans go
// wherever [InitProvider] (or a test) pointed it.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// SpanError marks span as failed with err. A nil err leaves the span alone.
func SpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// StartStage opens the span for one startup stage of the capture pipeline
// ("startup.connect", "startup.resolve", "startup.open"). The returned finish
// func must be called exactly once with the stage's outcome: it records the
// stage duration on m, marks the span failed for a non-nil err and ends it.
//
//	ctx, finish := observe.StartStage(ctx, m, observe.StageOpen)
//	defer func() { finish(err) }()
func StartStage(ctx context.Context, m *Metrics, stage Stage) (context.Context, func(error)) {
	ctx, span := StartSpan(ctx, "startup."+string(stage),
		trace.WithAttributes(attribute.String("stage", string(stage))),
	)
	start := time.Now()
	return ctx, func(err error) {
		m.RecordStartupStage(ctx, stage, time.Since(start), err == nil)
		SpanError(span, err)
		span.End()
	}
}

// Logger returns the default logger, tagged with trace_id and span_id when ctx
// carries a recording span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

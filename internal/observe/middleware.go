package observe

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// statusRecorder wraps [http.ResponseWriter] to capture the status code
// written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code and delegates to the wrapped writer.
func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades on /levels pass through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.statusCode = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

// Flush delegates to the wrapped writer when it supports flushing.
func (r *statusRecorder) Flush() {
	_ = http.NewResponseController(r.ResponseWriter).Flush()
}

// Unwrap exposes the wrapped writer to [http.ResponseController].
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// quietPaths are polled by scrapers and probes every few seconds; their
// completion is logged at debug level.
var quietPaths = map[string]bool{
	"/metrics": true,
	"/healthz": true,
	"/readyz":  true,
}

// requestLevel is the log level for a completed request to path.
func requestLevel(path string) slog.Level {
	if quietPaths[path] {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Middleware wraps the observe server's routes. Each request joins the
// caller's W3C trace (or starts one), runs under a server span, gets its trace
// ID echoed in X-Trace-ID and is timed into [Metrics.HTTPRequestDuration] by
// method, path and status. Websocket upgrades pass through and are recorded
// with status 101 when the handler hijacks the connection.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := r.URL.Path

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, r.Method+" "+path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(path),
				),
			)
			defer span.End()

			var traceID string
			if sc := span.SpanContext(); sc.HasTraceID() {
				traceID = sc.TraceID().String()
				w.Header().Set("X-Trace-ID", traceID)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))
			elapsed := time.Since(start)

			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", path),
					attribute.Int("status", rec.statusCode),
				),
			)
			slog.LogAttrs(ctx, requestLevel(path), "request completed",
				slog.String("trace_id", traceID),
				slog.String("method", r.Method),
				slog.String("path", path),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", elapsed),
			)
		})
	}
}

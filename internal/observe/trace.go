package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Voxgate tracer.
const tracerName = "github.com/MrWong99/voxgate"

// Gateway-specific span attributes. The middleware tags every request with
// its transport; the stream handler adds the session id once one is
// assigned, so traces can be joined with the session-scoped logs.
const (
	attrClientID  = attribute.Key("voxgate.client_id")
	attrTransport = attribute.Key("voxgate.transport")
)

// Transport values recorded on spans, metrics and request logs.
const (
	TransportWebSocket = "websocket"
	TransportREST      = "rest"
)

// Tracer returns the package-level [trace.Tracer] for Voxgate. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// TagSession annotates the active span with the streaming session's client
// id. A no-op when ctx carries no recording span.
func TagSession(ctx context.Context, clientID string) {
	trace.SpanFromContext(ctx).SetAttributes(attrClientID.String(clientID))
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID
// exists. The trace ID doubles as the X-Correlation-ID clients see.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

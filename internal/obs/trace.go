package obs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TraceContext is the W3C-flavored trace identity carried across every
// component and the HTTP boundary.
type TraceContext struct {
	TraceID      string
	SpanID       string
	RequestID    string
	RequestStart time.Time
}

type traceContextKey struct{}

// WithTrace stores a TraceContext on ctx for downstream loggers and handlers.
func WithTrace(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, tc)
}

// TraceFromContext retrieves the TraceContext stashed by WithTrace, if any.
func TraceFromContext(ctx context.Context) (TraceContext, bool) {
	tc, ok := ctx.Value(traceContextKey{}).(TraceContext)
	return tc, ok
}

var traceparentRE = regexp.MustCompile(`^([0-9a-f]{2})-([0-9a-f]{32})-([0-9a-f]{16})-([0-9a-f]{2})$`)

// ParseTraceparent parses a W3C traceparent header, returning the trace id
// it carries; the incoming span id is not returned. A generated span id always replaces the incoming one:
// this hop creates its own span as a child of the remote one.
func ParseTraceparent(header string) (traceID string, ok bool) {
	m := traceparentRE.FindStringSubmatch(header)
	if m == nil {
		return "", false
	}
	return m[2], true
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failures are effectively unrecoverable on any real
		// platform; fall back to a time-derived value rather than panic.
		return fmt.Sprintf("%032x", time.Now().UnixNano())[:n*2]
	}
	return hex.EncodeToString(b)
}

// NewTraceID generates a fresh 128-bit trace id (32 hex chars).
func NewTraceID() string { return randomHex(16) }

// NewSpanID generates a fresh 64-bit span id (16 hex chars).
func NewSpanID() string { return randomHex(8) }

// Traceparent renders the W3C traceparent header for propagation.
func Traceparent(traceID, spanID string) string {
	return fmt.Sprintf("00-%s-%s-01", traceID, spanID)
}

// Tracer wraps an OpenTelemetry tracer so components can open spans without
// depending on the OTel SDK directly; wiring the real exporter (OTLP or
// stdout) is a pure construction-time concern handled by NewTracerProvider.
type Tracer struct {
	tracer oteltrace.Tracer
}

// NewTracer returns a Tracer bound to the given service name using the
// globally configured TracerProvider (set by NewTracerProvider).
func NewTracer(serviceName string) *Tracer {
	return &Tracer{tracer: otel.Tracer(serviceName)}
}

// Span is the minimal surface components need: attributes, errors, end.
type Span struct {
	span oteltrace.Span
}

// StartSpan opens a span named `name`, returning the derived context and the
// span handle. Callers must call End().
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	ctx, sp := t.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
	return ctx, &Span{span: sp}
}

func (s *Span) SetAttribute(key string, value interface{}) {
	s.span.SetAttributes(toAttribute(key, value))
}

func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
}

func (s *Span) End() { s.span.End() }

func toAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

// NewNoopTracerProvider installs a no-exporter tracer provider, used in
// tests. Unlike otel.Tracer's global no-op default, this still generates
// real span contexts so downstream attribute/error calls are safe.
func NewNoopTracerProvider() *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return tp
}

// NewTracerProvider wires a real exporter: OTLP/gRPC when otlpEndpoint is
// set, stdout otherwise (local/dev runs still get readable spans rather
// than silently discarding them).
func NewTracerProvider(ctx context.Context, serviceName, otlpEndpoint string) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("obs: build resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if otlpEndpoint != "" {
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(otlpEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("obs: create otlp exporter: %w", err)
		}
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("obs: create stdout exporter: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

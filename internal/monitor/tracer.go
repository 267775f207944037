package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "functionctl"

// Tracer wraps OpenTelemetry tracing for the controller.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("dispatch.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// Common attribute keys for dispatch tracing.
var (
	AttrRequestID   = attribute.Key("dispatch.request_id")
	AttrLanguage    = attribute.Key("dispatch.language_title")
	AttrScriptHash  = attribute.Key("dispatch.script_hash")
	AttrCacheResult = attribute.Key("dispatch.cache_result")
	AttrDurationMS  = attribute.Key("dispatch.duration_ms")
)

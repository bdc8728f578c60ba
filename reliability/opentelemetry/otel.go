// Package opentelemetry holds span helpers and trace propagation across
// stream messages.
package opentelemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// HandleSpanError sets the status of the span to error and records the error.
func HandleSpanError(span trace.Span, message string, err error) {
	if span != nil && err != nil {
		span.SetStatus(codes.Error, message+": "+err.Error())
		span.RecordError(err)
	}
}

// HandleSpanBusinessErrorEvent records an expected domain outcome, such as a
// rejected transition, as an event without failing the span.
func HandleSpanBusinessErrorEvent(span trace.Span, eventName string, err error) {
	if span != nil && err != nil {
		span.AddEvent(eventName, trace.WithAttributes(attribute.String("error", err.Error())))
	}
}

// HandleSpanEvent adds an event to the span.
func HandleSpanEvent(span trace.Span, eventName string, attributes ...attribute.KeyValue) {
	if span != nil {
		span.AddEvent(eventName, trace.WithAttributes(attributes...))
	}
}

// InjectStreamTraceContext returns the propagation fields (traceparent,
// tracestate, baggage) for the span in ctx, ready to be stored next to a
// stream message.
func InjectStreamTraceContext(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	return carrier
}

// ExtractStreamTraceContext restores a remote span context from fields
// previously produced by InjectStreamTraceContext.
func ExtractStreamTraceContext(ctx context.Context, fields map[string]string) context.Context {
	if len(fields) == 0 {
		return ctx
	}

	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(fields))
}

// GetTraceIDFromContext returns the trace id of the active span, or "".
func GetTraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}

	return sc.TraceID().String()
}

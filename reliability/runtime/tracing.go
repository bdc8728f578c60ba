package runtime

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrPanic is recorded on spans whose goroutine panicked.
var ErrPanic = errors.New("panic")

// PanicSpanEventName is the span event name for a recovered panic.
const PanicSpanEventName = "panic.recovered"

const maxStackAttributeLength = 4096

// RecordPanicToSpanWithComponent adds a panic event to the active span and
// marks it as failed. It is a no-op when no recording span is present.
func RecordPanicToSpanWithComponent(ctx context.Context, panicValue any, stack []byte, component, name string) {
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	stackText := string(stack)
	if len(stackText) > maxStackAttributeLength {
		stackText = stackText[:maxStackAttributeLength]
	}

	attrs := []attribute.KeyValue{
		attribute.String("panic.value", fmt.Sprintf("%v", panicValue)),
		attribute.String("panic.goroutine_name", name),
		attribute.String("panic.stack", stackText),
	}
	if component != "" {
		attrs = append(attrs, attribute.String("panic.component", component))
	}

	span.AddEvent(PanicSpanEventName, trace.WithAttributes(attrs...))
	span.RecordError(fmt.Errorf("%w: %v", ErrPanic, panicValue))
	span.SetStatus(codes.Error, "panic recovered")
}

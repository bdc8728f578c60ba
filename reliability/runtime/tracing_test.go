//go:build unit

package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRecordPanicToSpanWithComponent(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "consumer.process")
	RecordPanicToSpanWithComponent(ctx, "boom", []byte("stack"), "consumer", "process")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)

	var found bool
	for _, event := range ended[0].Events() {
		if event.Name == PanicSpanEventName {
			found = true
		}
	}

	assert.True(t, found)
}

func TestRecordPanicToSpan_NoActiveSpan(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordPanicToSpanWithComponent(context.Background(), "boom", nil, "c", "n")
	})
}

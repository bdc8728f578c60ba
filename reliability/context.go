package reliability

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
)

const defaultTracerName = "reliability.default"

type customContextKey string

// CustomContextKey is the context key used to store CustomContextKeyValue.
var CustomContextKey = customContextKey("custom_context")

// CustomContextKeyValue holds the request-scoped facilities attached to a context.
type CustomContextKeyValue struct {
	HeaderID string
	Tracer   trace.Tracer
	Logger   log.Logger
}

func valuesFrom(ctx context.Context) *CustomContextKeyValue {
	current, _ := ctx.Value(CustomContextKey).(*CustomContextKeyValue)
	if current == nil {
		return &CustomContextKeyValue{}
	}

	clone := *current

	return &clone
}

// ContextWithLogger returns a context carrying logger.
func ContextWithLogger(ctx context.Context, logger log.Logger) context.Context {
	values := valuesFrom(ctx)
	values.Logger = logger

	return context.WithValue(ctx, CustomContextKey, values)
}

// ContextWithTracer returns a context carrying tracer.
func ContextWithTracer(ctx context.Context, tracer trace.Tracer) context.Context {
	values := valuesFrom(ctx)
	values.Tracer = tracer

	return context.WithValue(ctx, CustomContextKey, values)
}

// ContextWithHeaderID returns a context carrying the request correlation id.
func ContextWithHeaderID(ctx context.Context, headerID string) context.Context {
	values := valuesFrom(ctx)
	values.HeaderID = headerID

	return context.WithValue(ctx, CustomContextKey, values)
}

// HeaderIDFromContext returns the correlation id stored in ctx, or "".
func HeaderIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	values, _ := ctx.Value(CustomContextKey).(*CustomContextKeyValue)
	if values == nil {
		return ""
	}

	return strings.TrimSpace(values.HeaderID)
}

// NewTrackingFromContext returns the logger, tracer and correlation id held
// by ctx. Missing components fall back to a nop logger, the global tracer
// and a fresh uuid.
//
//nolint:ireturn
func NewTrackingFromContext(ctx context.Context) (log.Logger, trace.Tracer, string) {
	var values *CustomContextKeyValue
	if ctx != nil {
		values, _ = ctx.Value(CustomContextKey).(*CustomContextKeyValue)
	}

	if values == nil {
		values = &CustomContextKeyValue{}
	}

	logger := values.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	tracer := values.Tracer
	if tracer == nil {
		tracer = otel.Tracer(defaultTracerName)
	}

	headerID := strings.TrimSpace(values.HeaderID)
	if headerID == "" {
		headerID = uuid.NewString()
	}

	return logger, tracer, headerID
}

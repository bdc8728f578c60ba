package opentelemetry

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

// ErrServiceNameRequired is returned when TracerConfig.ServiceName is empty.
var ErrServiceNameRequired = errors.New("telemetry service name is required")

// TracerConfig describes the process owning the tracer provider.
type TracerConfig struct {
	ServiceName    string
	ServiceVersion string
	DeploymentEnv  string
	// Processors receive finished spans. Without any, spans still carry
	// real ids so logs can be correlated.
	Processors []sdktrace.SpanProcessor
	// Global installs the provider and the W3C propagator process-wide.
	Global bool
}

func (cfg TracerConfig) newResource() *sdkresource.Resource {
	return sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.DeploymentEnv),
		semconv.TelemetrySDKLanguageGo,
	)
}

// NewTracerProvider builds an SDK tracer provider. Callers own Shutdown.
func NewTracerProvider(cfg TracerConfig) (*sdktrace.TracerProvider, error) {
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return nil, ErrServiceNameRequired
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(cfg.newResource())}
	for _, processor := range cfg.Processors {
		if processor != nil {
			opts = append(opts, sdktrace.WithSpanProcessor(processor))
		}
	}

	tp := sdktrace.NewTracerProvider(opts...)

	if cfg.Global {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	}

	return tp, nil
}

// ShutdownTracerProvider flushes and stops tp. A nil provider is a no-op.
func ShutdownTracerProvider(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}

	return tp.Shutdown(ctx)
}

package stream

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type brokerMetrics struct {
	published metric.Int64Counter
	failed    metric.Int64Counter
}

func newBrokerMetrics(provider metric.MeterProvider) (brokerMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter("reliability.stream")

	var (
		metrics brokerMetrics
		err     error
	)

	metrics.published, err = meter.Int64Counter(
		"stream.messages.published",
		metric.WithDescription("Number of messages appended to a stream"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return brokerMetrics{}, fmt.Errorf("create stream.messages.published counter: %w", err)
	}

	metrics.failed, err = meter.Int64Counter(
		"stream.publish.failures",
		metric.WithDescription("Number of publishes that exhausted every attempt"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return brokerMetrics{}, fmt.Errorf("create stream.publish.failures counter: %w", err)
	}

	return metrics, nil
}

func (brokerMetrics) add(ctx context.Context, counter metric.Int64Counter, stream string) {
	if counter == nil {
		return
	}

	counter.Add(ctx, 1, metric.WithAttributes(attribute.String(attrDestination, stream)))
}

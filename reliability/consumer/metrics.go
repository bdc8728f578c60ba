package consumer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type consumerMetrics struct {
	processed     metric.Int64Counter
	handleLatency metric.Float64Histogram
}

func newConsumerMetrics(provider metric.MeterProvider) (consumerMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter("reliability.consumer")

	var (
		metrics consumerMetrics
		err     error
	)

	metrics.processed, err = meter.Int64Counter(
		"consumer.messages.processed",
		metric.WithDescription("Number of deliveries by outcome"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return consumerMetrics{}, fmt.Errorf("create consumer.messages.processed counter: %w", err)
	}

	metrics.handleLatency, err = meter.Float64Histogram(
		"consumer.handle.latency",
		metric.WithDescription("Time spent in the event handler"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return consumerMetrics{}, fmt.Errorf("create consumer.handle.latency histogram: %w", err)
	}

	return metrics, nil
}

func (m consumerMetrics) addOutcome(ctx context.Context, outcome Outcome) {
	if m.processed == nil {
		return
	}

	m.processed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

func (m consumerMetrics) recordLatency(ctx context.Context, seconds float64) {
	if m.handleLatency == nil {
		return
	}

	m.handleLatency.Record(ctx, seconds)
}

package outbox

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type publisherMetrics struct {
	eventsPublished   metric.Int64Counter
	eventsRetried     metric.Int64Counter
	eventsStateFailed metric.Int64Counter
	publishLatency    metric.Float64Histogram
	claimSize         metric.Int64Gauge
}

func newPublisherMetrics(provider metric.MeterProvider) (publisherMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter("reliability.outbox.publisher")

	var (
		metrics publisherMetrics
		err     error
	)

	metrics.eventsPublished, err = meter.Int64Counter(
		"outbox.events.published",
		metric.WithDescription("Number of outbox rows published to the stream"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return publisherMetrics{}, fmt.Errorf("create outbox.events.published counter: %w", err)
	}

	metrics.eventsRetried, err = meter.Int64Counter(
		"outbox.events.retried",
		metric.WithDescription("Number of outbox rows rescheduled after a failed publish"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return publisherMetrics{}, fmt.Errorf("create outbox.events.retried counter: %w", err)
	}

	metrics.eventsStateFailed, err = meter.Int64Counter(
		"outbox.events.state_update_failed",
		metric.WithDescription("Number of outbox rows published but not persisted as published"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return publisherMetrics{}, fmt.Errorf("create outbox.events.state_update_failed counter: %w", err)
	}

	metrics.publishLatency, err = meter.Float64Histogram(
		"outbox.publish.latency",
		metric.WithDescription("Time taken per publish cycle"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return publisherMetrics{}, fmt.Errorf("create outbox.publish.latency histogram: %w", err)
	}

	metrics.claimSize, err = meter.Int64Gauge(
		"outbox.claim.size",
		metric.WithDescription("Number of outbox rows claimed in a publish cycle"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return publisherMetrics{}, fmt.Errorf("create outbox.claim.size gauge: %w", err)
	}

	return metrics, nil
}

func (publisher *Publisher) addCount(ctx context.Context, counter metric.Int64Counter, count int64) {
	if counter == nil || count <= 0 {
		return
	}

	counter.Add(ctx, count)
}

func (publisher *Publisher) recordClaimSize(ctx context.Context, size int64) {
	if publisher.metrics.claimSize == nil {
		return
	}

	publisher.metrics.claimSize.Record(ctx, size)
}

func (publisher *Publisher) recordLatency(ctx context.Context, seconds float64) {
	if publisher.metrics.publishLatency == nil {
		return
	}

	publisher.metrics.publishLatency.Record(ctx, seconds)
}

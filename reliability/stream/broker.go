package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/backoff"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/circuitbreaker"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/event"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	libOpentelemetry "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/opentelemetry"
)

const (
	// DefaultBreakerName is the circuit breaker service name for XADD.
	DefaultBreakerName     = "redis-streams"
	defaultPublishAttempts = 3
	defaultRetryBase       = 100 * time.Millisecond

	attrDestination = "messaging.destination.name"
)

// RedisBroker implements the broker on Redis Streams.
type RedisBroker struct {
	clients  ClientProvider
	breakers *circuitbreaker.Registry
	logger   libLog.Logger
	tracer   trace.Tracer
	cfg      brokerConfig
	metrics  brokerMetrics
}

var _ Publisher = (*RedisBroker)(nil)

type brokerConfig struct {
	breakerName     string
	publishAttempts int
	retryBase       time.Duration
	defaultMaxLen   int64
	maxLen          map[string]int64
	meterProvider   metric.MeterProvider
}

// Option customizes a RedisBroker.
type Option func(*RedisBroker)

// WithLogger sets the broker logger.
func WithLogger(logger libLog.Logger) Option {
	return func(b *RedisBroker) {
		if !nilcheck.Interface(logger) {
			b.logger = logger
		}
	}
}

// WithTracer sets the tracer used for broker spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(b *RedisBroker) {
		if !nilcheck.Interface(tracer) {
			b.tracer = tracer
		}
	}
}

// WithCircuitBreaker routes every XADD through the named breaker of
// registry, registered with circuitbreaker.BrokerConfig.
func WithCircuitBreaker(registry *circuitbreaker.Registry, name string) Option {
	return func(b *RedisBroker) {
		if registry == nil {
			return
		}

		b.breakers = registry

		if strings.TrimSpace(name) != "" {
			b.cfg.breakerName = name
		}
	}
}

// WithPublishAttempts sets how many XADD attempts a publish makes.
func WithPublishAttempts(attempts int) Option {
	return func(b *RedisBroker) {
		if attempts > 0 {
			b.cfg.publishAttempts = attempts
		}
	}
}

// WithRetryBase sets the base of the jittered backoff between XADD attempts.
func WithRetryBase(base time.Duration) Option {
	return func(b *RedisBroker) {
		if base >= 0 {
			b.cfg.retryBase = base
		}
	}
}

// WithMaxLen caps stream at roughly maxLen entries on every append.
func WithMaxLen(stream string, maxLen int64) Option {
	return func(b *RedisBroker) {
		if maxLen > 0 && strings.TrimSpace(stream) != "" {
			b.cfg.maxLen[stream] = maxLen
		}
	}
}

// WithDefaultMaxLen caps streams that have no WithMaxLen entry.
func WithDefaultMaxLen(maxLen int64) Option {
	return func(b *RedisBroker) {
		if maxLen >= 0 {
			b.cfg.defaultMaxLen = maxLen
		}
	}
}

// WithMeterProvider sets the provider for broker metrics.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(b *RedisBroker) {
		if !nilcheck.Interface(provider) {
			b.cfg.meterProvider = provider
		}
	}
}

// NewRedisBroker creates a broker over clients.
func NewRedisBroker(clients ClientProvider, opts ...Option) (*RedisBroker, error) {
	if nilcheck.Interface(clients) {
		return nil, ErrClientRequired
	}

	b := &RedisBroker{
		clients: clients,
		logger:  libLog.NewNop(),
		tracer:  otel.Tracer("stream"),
		cfg: brokerConfig{
			breakerName:     DefaultBreakerName,
			publishAttempts: defaultPublishAttempts,
			retryBase:       defaultRetryBase,
			maxLen:          map[string]int64{},
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	if b.breakers != nil {
		b.breakers.Register(b.cfg.breakerName, circuitbreaker.BrokerConfig())
	}

	metrics, err := newBrokerMetrics(b.cfg.meterProvider)
	if err != nil {
		return nil, err
	}

	b.metrics = metrics

	return b, nil
}

// MaxLen returns the configured cap of stream, 0 when uncapped.
func (b *RedisBroker) MaxLen(stream string) int64 {
	if b == nil {
		return 0
	}

	if maxLen, ok := b.cfg.maxLen[stream]; ok {
		return maxLen
	}

	return b.cfg.defaultMaxLen
}

// Publish appends e to stream with the current trace context attached.
func (b *RedisBroker) Publish(ctx context.Context, stream string, e event.Envelope) (string, error) {
	return b.PublishDelivery(ctx, stream, e, event.Delivery{})
}

// PublishDelivery appends e together with its transport state. When d carries
// no trace fields the span in ctx is injected.
func (b *RedisBroker) PublishDelivery(
	ctx context.Context,
	stream string,
	e event.Envelope,
	d event.Delivery,
) (string, error) {
	if b == nil {
		return "", ErrNilBroker
	}

	if err := e.Validate(); err != nil {
		return "", err
	}

	if len(d.Trace) == 0 {
		d.Trace = libOpentelemetry.InjectStreamTraceContext(ctx)
	}

	fields, err := event.Encode(e, d)
	if err != nil {
		return "", fmt.Errorf("encode event %s: %w", e.EventID, err)
	}

	return b.PublishFields(ctx, stream, fields)
}

// PublishFields appends raw field/value pairs, as used for dead-letter
// records.
func (b *RedisBroker) PublishFields(ctx context.Context, stream string, fields map[string]any) (string, error) {
	if b == nil {
		return "", ErrNilBroker
	}

	if strings.TrimSpace(stream) == "" {
		return "", ErrStreamRequired
	}

	ctx, span := b.tracer.Start(ctx, "stream.publish")
	defer span.End()

	span.SetAttributes(attribute.String(attrDestination, stream))

	var lastErr error

	for attempt := 0; attempt < b.cfg.publishAttempts; attempt++ {
		if attempt > 0 {
			if err := backoff.SleepWithContext(ctx, backoff.ExponentialWithJitter(b.cfg.retryBase, attempt-1)); err != nil {
				lastErr = err

				break
			}
		}

		id, err := b.xadd(ctx, stream, fields)
		if err == nil {
			b.metrics.add(ctx, b.metrics.published, stream)

			return id, nil
		}

		lastErr = err

		if errors.Is(err, circuitbreaker.ErrOpen) {
			break
		}

		b.logger.Log(ctx, libLog.LevelWarn, "stream publish attempt failed",
			libLog.Stream(stream),
			libLog.Int("attempt", attempt+1),
			libLog.Err(err),
		)
	}

	b.metrics.add(ctx, b.metrics.failed, stream)

	err := fmt.Errorf("%w: publish to %s: %w", ErrBrokerUnavailable, stream, lastErr)
	libOpentelemetry.HandleSpanError(span, "Failed to publish stream message", err)

	return "", err
}

func (b *RedisBroker) xadd(ctx context.Context, stream string, fields map[string]any) (string, error) {
	call := func(ctx context.Context) (string, error) {
		client, err := b.clients.GetClient(ctx)
		if err != nil {
			return "", err
		}

		args := &redis.XAddArgs{Stream: stream, Values: fields}
		if maxLen := b.MaxLen(stream); maxLen > 0 {
			args.MaxLen = maxLen
			args.Approx = true
		}

		return client.XAdd(ctx, args).Result()
	}

	if b.breakers == nil {
		return call(ctx)
	}

	return circuitbreaker.Call(ctx, b.breakers, b.cfg.breakerName, call)
}

// Ping checks the Redis connection.
func (b *RedisBroker) Ping(ctx context.Context) error {
	client, err := b.client(ctx)
	if err != nil {
		return err
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	return nil
}

func (b *RedisBroker) client(ctx context.Context) (redis.UniversalClient, error) {
	if b == nil {
		return nil, ErrNilBroker
	}

	client, err := b.clients.GetClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("get redis client: %w", err)
	}

	return client, nil
}

package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/backoff"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/event"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	libOpentelemetry "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/opentelemetry"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/outbox"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/runtime"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/stream"
)

// Broker is the stream surface a Consumer needs. *stream.RedisBroker
// satisfies it.
type Broker interface {
	DeadLetterPublisher
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, req stream.ReadRequest) ([]stream.Message, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	PublishDelivery(ctx context.Context, stream string, e event.Envelope, d event.Delivery) (string, error)
}

// Handler processes one event. Handlers must be idempotent per event_id:
// a message may be delivered more than once.
type Handler interface {
	Handle(ctx context.Context, e event.Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e event.Envelope) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, e event.Envelope) error {
	return f(ctx, e)
}

// Outcome is what happened to one delivery.
type Outcome string

const (
	OutcomeAcked        Outcome = "acked"
	OutcomeRequeued     Outcome = "requeued"
	OutcomeDeadLettered Outcome = "dead_lettered"
	// OutcomeLeftPending means nothing could be published and the message
	// was not acknowledged.
	OutcomeLeftPending Outcome = "left_pending"
)

// Consumer reads a consumer group and dispatches each message to a Handler.
type Consumer struct {
	loop

	broker  Broker
	handler Handler
	logger  libLog.Logger
	tracer  trace.Tracer
	cfg     Config
	metrics consumerMetrics
	now     func() time.Time
}

var _ reliability.App = (*Consumer)(nil)

// NewConsumer creates a consumer. Zero config fields take the defaults.
func NewConsumer(broker Broker, handler Handler, cfg Config, logger libLog.Logger, tracer trace.Tracer) (*Consumer, error) {
	if nilcheck.Interface(broker) {
		return nil, ErrBrokerRequired
	}

	if nilcheck.Interface(handler) {
		return nil, ErrHandlerRequired
	}

	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger = libLog.OrNop(logger)

	if nilcheck.Interface(tracer) {
		tracer = noop.NewTracerProvider().Tracer("reliability.noop")
	}

	metrics, err := newConsumerMetrics(cfg.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("init consumer metrics: %w", err)
	}

	return &Consumer{
		broker:  broker,
		handler: handler,
		logger:  logger.With(libLog.Stream(cfg.Stream), libLog.String("group", cfg.Group)),
		tracer:  tracer,
		cfg:     cfg,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// Config returns the normalized configuration.
func (c *Consumer) Config() Config {
	return c.cfg
}

// Run implements reliability.App.
func (c *Consumer) Run(launcher *reliability.Launcher) error {
	return c.RunContext(context.Background(), launcher)
}

// RunContext ensures the group exists and reads until Stop or ctx ends.
func (c *Consumer) RunContext(parent context.Context, launcher *reliability.Launcher) error {
	if c == nil || c.broker == nil {
		return ErrNotConfigured
	}

	ctx, ok := c.begin(parent)
	if !ok {
		return ErrAlreadyRunning
	}

	defer c.end()

	if launcher != nil && launcher.Logger != nil {
		launcher.Logger.Log(context.Background(), libLog.LevelInfo, "stream consumer started",
			libLog.Stream(c.cfg.Stream), libLog.String("consumer", c.cfg.Consumer))
		defer launcher.Logger.Log(context.Background(), libLog.LevelInfo, "stream consumer stopped")
	}

	defer runtime.RecoverAndLogWithContext(ctx, c.logger, "consumer", "consumer_run")

	if !c.ensureGroup(ctx) {
		return nil
	}

	c.DrainBacklog(ctx)

	for !c.done(ctx) {
		c.PollOnce(ctx)
	}

	return nil
}

// ensureGroup retries group creation until it succeeds or the loop stops.
func (c *Consumer) ensureGroup(ctx context.Context) bool {
	for !c.done(ctx) {
		err := c.broker.EnsureGroup(ctx, c.cfg.Stream, c.cfg.Group)
		if err == nil {
			return true
		}

		libLog.SafeError(c.logger, ctx, "failed to ensure consumer group", err, false)

		if sleepErr := backoff.SleepWithContext(ctx, c.cfg.ReadErrorBackoff); sleepErr != nil {
			return false
		}
	}

	return false
}

// DrainBacklog handles the entries delivered to this consumer name before a
// restart but never acknowledged. It stops at the first empty batch, or at
// a batch in which some message stayed pending again.
func (c *Consumer) DrainBacklog(ctx context.Context) {
	for !c.done(ctx) {
		outcomes, err := c.poll(ctx, true)
		if err != nil || len(outcomes) == 0 {
			return
		}

		for _, outcome := range outcomes {
			if outcome == OutcomeLeftPending {
				return
			}
		}
	}
}

// PollOnce reads one batch of new messages and handles every message in it.
// It returns the number of messages read.
func (c *Consumer) PollOnce(ctx context.Context) int {
	outcomes, _ := c.poll(ctx, false)

	return len(outcomes)
}

func (c *Consumer) poll(ctx context.Context, backlog bool) ([]Outcome, error) {
	c.inflight.Add(1)
	defer c.inflight.Done()

	msgs, err := c.broker.ReadGroup(ctx, stream.ReadRequest{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Count:    c.cfg.Count,
		Block:    c.cfg.Block,
		Backlog:  backlog,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}

		libLog.SafeError(c.logger, ctx, "failed to read consumer group", err, false)
		_ = backoff.SleepWithContext(ctx, c.cfg.ReadErrorBackoff)

		return nil, err
	}

	outcomes := make([]Outcome, 0, len(msgs))
	for _, msg := range msgs {
		outcomes = append(outcomes, c.HandleMessage(ctx, msg))
	}

	return outcomes, nil
}

// HandleMessage runs one delivery through decode, handler, retry and
// dead-letter routing.
func (c *Consumer) HandleMessage(ctx context.Context, msg stream.Message) Outcome {
	e, d, err := event.Decode(msg.Values)
	if err == nil {
		err = e.Validate()
	}

	if err != nil {
		c.logger.Log(ctx, libLog.LevelWarn, "invalid event routed to dead-letter stream",
			libLog.String("message_id", msg.ID), libLog.Err(err))

		return c.record(ctx, c.deadLetter(context.WithoutCancel(ctx), msg, messagePayload(msg.Values), err))
	}

	ctx = libOpentelemetry.ExtractStreamTraceContext(ctx, d.Trace)

	ctx, span := c.tracer.Start(ctx, "consumer.handle")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.message.id", msg.ID),
		attribute.String("event.id", e.EventID),
		attribute.String("event.type", e.EventType),
		attribute.Int("consumer.retry", d.Retry),
	)

	start := c.now()
	handleErr := c.invoke(ctx, e)
	c.metrics.recordLatency(ctx, c.now().Sub(start).Seconds())

	if handleErr == nil {
		c.ack(ctx, msg.ID)

		return c.record(ctx, OutcomeAcked)
	}

	libOpentelemetry.HandleSpanError(span, "event handler failed", handleErr)

	// Routing finishes even when shutdown starts: the handler already ran.
	routeCtx := context.WithoutCancel(ctx)

	if errors.Is(handleErr, event.ErrInvalidEvent) || d.Retry >= c.cfg.RetryLimit {
		c.logger.Log(ctx, libLog.LevelWarn, "event routed to dead-letter stream",
			libLog.EventID(e.EventID),
			libLog.Int("retry", d.Retry),
			libLog.Err(handleErr),
		)

		return c.record(ctx, c.deadLetter(routeCtx, msg, e.Map(), handleErr))
	}

	return c.record(ctx, c.requeue(ctx, routeCtx, msg, e, d, handleErr))
}

func (c *Consumer) invoke(ctx context.Context, e event.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanicked, r)
		}
	}()

	return c.handler.Handle(ctx, e)
}

// RetryDelay is the wait before the delivery with the given retry count is
// handled again.
func (c *Consumer) RetryDelay(retry int) time.Duration {
	return backoff.Capped(c.cfg.BackoffBase, retry, c.cfg.BackoffCap)
}

// requeue publishes and acks on routeCtx. Only the backoff wait follows ctx.
func (c *Consumer) requeue(
	ctx, routeCtx context.Context,
	msg stream.Message,
	e event.Envelope,
	d event.Delivery,
	cause error,
) Outcome {
	delay := c.RetryDelay(d.Retry)

	next := event.Delivery{
		Retry:             d.Retry + 1,
		LastError:         errorText(cause),
		RetryDelaySeconds: delaySeconds(delay),
		Trace:             d.Trace,
	}

	if _, err := c.broker.PublishDelivery(routeCtx, c.cfg.RetryStream, e, next); err != nil {
		libLog.SafeError(c.logger, ctx, "requeue failed; routing to dead-letter stream", err, false)

		return c.deadLetter(routeCtx, msg, e.Map(), cause)
	}

	c.logger.Log(ctx, libLog.LevelInfo, "event requeued",
		libLog.EventID(e.EventID),
		libLog.Int("retry", next.Retry),
		libLog.String("retry_in", delay.String()),
	)

	if !c.cfg.usesRetryStream() {
		_ = backoff.SleepWithContext(ctx, delay)
	}

	c.ack(routeCtx, msg.ID)

	return OutcomeRequeued
}

func (c *Consumer) deadLetter(ctx context.Context, msg stream.Message, payload map[string]any, cause error) Outcome {
	fields := deadLetterFields(payload, cause, c.now())

	if _, err := c.broker.PublishFields(ctx, c.cfg.DLQStream, fields); err != nil {
		c.logger.Log(ctx, libLog.LevelError, "dead-letter publish failed; message left pending for redelivery",
			libLog.String("message_id", msg.ID),
			libLog.Err(err),
		)

		return OutcomeLeftPending
	}

	c.ack(ctx, msg.ID)

	return OutcomeDeadLettered
}

// ack survives cancellation: a handled or forwarded message must not be
// redelivered because shutdown began.
func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.broker.Ack(context.WithoutCancel(ctx), c.cfg.Stream, c.cfg.Group, id); err != nil {
		libLog.SafeError(c.logger, ctx, "failed to ack message", err, false)
	}
}

func (c *Consumer) record(ctx context.Context, outcome Outcome) Outcome {
	c.metrics.addOutcome(ctx, outcome)

	return outcome
}

// Shutdown stops the loop and waits for the in-flight batch.
func (c *Consumer) Shutdown(ctx context.Context) error {
	if c == nil {
		return nil
	}

	return c.shutdown(ctx, c.logger, "consumer")
}

func errorText(err error) string {
	if err == nil {
		return ""
	}

	return outbox.SanitizeErrorMessageForStorage(err.Error())
}

func delaySeconds(delay time.Duration) int {
	if delay <= 0 {
		return 0
	}

	seconds := int(delay / time.Second)
	if delay%time.Second != 0 {
		seconds++
	}

	return seconds
}

package outbox

import (
	"context"
	"fmt"
	"sync"
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
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/runtime"
)

// Sink appends an envelope to a stream and returns the broker message id.
type Sink interface {
	Publish(ctx context.Context, stream string, e event.Envelope) (string, error)
}

// Publisher drains the outbox into the stream broker.
type Publisher struct {
	repo   Repository
	sink   Sink
	logger libLog.Logger
	tracer trace.Tracer
	cfg    PublisherConfig

	stop       chan struct{}
	stopOnce   sync.Once
	runStateMu sync.Mutex
	running    bool
	cancelFunc context.CancelFunc
	cycleWg    sync.WaitGroup

	metrics publisherMetrics
	now     func() time.Time
}

var _ reliability.App = (*Publisher)(nil)

// CycleResult captures one publish cycle outcome.
type CycleResult struct {
	Claimed           int
	Published         int
	Retried           int
	StateUpdateFailed int
}

// NewPublisher creates an outbox publisher.
func NewPublisher(
	repo Repository,
	sink Sink,
	logger libLog.Logger,
	tracer trace.Tracer,
	opts ...PublisherOption,
) (*Publisher, error) {
	if nilcheck.Interface(repo) {
		return nil, ErrRepositoryRequired
	}

	if nilcheck.Interface(sink) {
		return nil, ErrSinkRequired
	}

	if nilcheck.Interface(tracer) {
		tracer = noop.NewTracerProvider().Tracer("reliability.noop")
	}

	logger = libLog.OrNop(logger)

	publisher := &Publisher{
		repo:   repo,
		sink:   sink,
		logger: logger,
		tracer: tracer,
		cfg:    DefaultPublisherConfig(),
		stop:   make(chan struct{}),
		now:    time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(publisher)
		}
	}

	publisher.cfg.normalize()

	metrics, err := newPublisherMetrics(publisher.cfg.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("init outbox metrics: %w", err)
	}

	publisher.metrics = metrics

	return publisher, nil
}

// Run starts the publish loop until Stop is called.
func (publisher *Publisher) Run(launcher *reliability.Launcher) error {
	return publisher.RunContext(context.Background(), launcher)
}

// RunContext starts the publish loop until Stop is called or ctx is cancelled.
// A failing cycle is logged and never ends the loop.
func (publisher *Publisher) RunContext(parentCtx context.Context, launcher *reliability.Launcher) error {
	if publisher == nil || publisher.repo == nil || publisher.sink == nil {
		return ErrPublisherRequired
	}

	if parentCtx == nil {
		parentCtx = context.Background()
	}

	ctx, cancel := context.WithCancel(parentCtx)
	if !publisher.registerRun(cancel) {
		cancel()

		return ErrPublisherRunning
	}

	defer publisher.clearRun()

	if launcher != nil && launcher.Logger != nil {
		launcher.Logger.Log(context.Background(), libLog.LevelInfo, "outbox publisher started")
		defer launcher.Logger.Log(context.Background(), libLog.LevelInfo, "outbox publisher stopped")
	}

	defer runtime.RecoverAndLogWithContext(ctx, publisher.logger, "outbox", "publisher_run")

	ticker := time.NewTicker(publisher.cfg.PublishInterval)
	defer ticker.Stop()

	publisher.runCycle(ctx, "outbox.publisher.initial_cycle")

	for {
		select {
		case <-publisher.stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			select {
			case <-publisher.stop:
				return nil
			case <-ctx.Done():
				return nil
			default:
			}

			publisher.runCycle(ctx, "outbox.publisher.cycle")
		}
	}
}

func (publisher *Publisher) runCycle(ctx context.Context, spanName string) {
	publisher.cycleWg.Add(1)
	defer publisher.cycleWg.Done()

	cycleCtx, span := publisher.tracer.Start(ctx, spanName)
	defer span.End()
	defer runtime.RecoverAndLogWithContext(cycleCtx, publisher.logger, "outbox", "publisher_cycle")

	result := publisher.PublishOnce(cycleCtx)
	span.SetAttributes(
		attribute.Int("outbox.cycle.claimed", result.Claimed),
		attribute.Int("outbox.cycle.published", result.Published),
		attribute.Int("outbox.cycle.retried", result.Retried),
		attribute.Int("outbox.cycle.state_update_failed", result.StateUpdateFailed),
	)
}

// Stop signals the publish loop to stop. The in-flight cycle finishes first.
func (publisher *Publisher) Stop() {
	if publisher == nil {
		return
	}

	publisher.stopOnce.Do(func() {
		publisher.runStateMu.Lock()
		cancel := publisher.cancelFunc
		stop := publisher.stop
		if stop == nil {
			stop = make(chan struct{})
			publisher.stop = stop
		}
		publisher.runStateMu.Unlock()

		close(stop)

		if cancel != nil {
			cancel()
		}
	})
}

// Shutdown stops the loop and waits for the in-flight cycle to complete.
func (publisher *Publisher) Shutdown(ctx context.Context) error {
	if publisher == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	publisher.Stop()

	done := make(chan struct{})

	runtime.SafeGo(publisher.logger, "outbox.publisher_shutdown_wait", runtime.KeepRunning, func() {
		publisher.cycleWg.Wait()
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publisher shutdown: %w", ctx.Err())
	}
}

// PublishOnce claims one batch and publishes every row in it.
func (publisher *Publisher) PublishOnce(ctx context.Context) CycleResult {
	if publisher == nil || publisher.repo == nil || publisher.sink == nil {
		return CycleResult{}
	}

	if ctx == nil {
		ctx = context.Background()
	}

	start := publisher.now()

	ctx, span := publisher.tracer.Start(ctx, "outbox.publish")
	defer span.End()

	rows, err := publisher.repo.Claim(ctx, publisher.cfg.BatchSize, publisher.cfg.LockTimeout)
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to claim outbox rows", err)
		libLog.SafeError(publisher.logger, ctx, "failed to claim outbox rows", err, false)

		return CycleResult{}
	}

	result := CycleResult{Claimed: len(rows)}
	publisher.recordClaimSize(ctx, int64(len(rows)))

	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}

		if row == nil {
			continue
		}

		messageID, publishErr := publisher.publishRow(ctx, row)
		if publishErr != nil {
			publisher.scheduleRetry(ctx, row, publishErr)

			result.Retried++

			continue
		}

		result.Published++

		if err := publisher.repo.MarkPublished(ctx, row.ID, messageID); err != nil {
			publisher.logger.Log(
				ctx,
				libLog.LevelError,
				"outbox row published to stream but failed to persist published state; row may be republished",
				libLog.Int64("outbox_id", row.ID),
				libLog.EventID(row.EventID),
				libLog.String("error", sanitizeErrorForStorage(err)),
			)

			result.StateUpdateFailed++
		}
	}

	publisher.addCount(ctx, publisher.metrics.eventsPublished, int64(result.Published))
	publisher.addCount(ctx, publisher.metrics.eventsRetried, int64(result.Retried))
	publisher.addCount(ctx, publisher.metrics.eventsStateFailed, int64(result.StateUpdateFailed))
	publisher.recordLatency(ctx, publisher.now().Sub(start).Seconds())

	return result
}

func (publisher *Publisher) publishRow(ctx context.Context, row *Row) (string, error) {
	e, err := row.Envelope()
	if err != nil {
		return "", err
	}

	return publisher.sink.Publish(ctx, row.Stream, e)
}

// RetryDelay returns the backoff applied after a row's attempts-th failure.
func (publisher *Publisher) RetryDelay(attempts int) time.Duration {
	return backoff.Capped(publisher.cfg.BackoffBase, attempts, publisher.cfg.BackoffCap)
}

func (publisher *Publisher) scheduleRetry(ctx context.Context, row *Row, publishErr error) {
	delay := publisher.RetryDelay(row.Attempts)
	errMsg := sanitizeErrorForStorage(publishErr)

	publisher.logger.Log(
		ctx,
		libLog.LevelWarn,
		"outbox publish failed; row rescheduled",
		libLog.Int64("outbox_id", row.ID),
		libLog.EventID(row.EventID),
		libLog.Stream(row.Stream),
		libLog.Int("attempts", row.Attempts+1),
		libLog.String("retry_in", delay.String()),
		libLog.String("error", errMsg),
	)

	if err := publisher.repo.MarkRetry(ctx, row.ID, errMsg, delay); err != nil {
		publisher.logger.Log(ctx, libLog.LevelError, "failed to reschedule outbox row",
			libLog.Int64("outbox_id", row.ID),
			libLog.String("error", sanitizeErrorForStorage(err)),
		)
	}
}

func (publisher *Publisher) registerRun(cancel context.CancelFunc) bool {
	publisher.runStateMu.Lock()
	defer publisher.runStateMu.Unlock()

	if publisher.running {
		return false
	}

	if publisher.stop == nil || isClosedSignal(publisher.stop) {
		publisher.stop = make(chan struct{})
		publisher.stopOnce = sync.Once{}
	}

	publisher.running = true
	publisher.cancelFunc = cancel

	return true
}

func (publisher *Publisher) clearRun() {
	publisher.runStateMu.Lock()
	defer publisher.runStateMu.Unlock()

	publisher.running = false
	publisher.cancelFunc = nil
}

func isClosedSignal(signal <-chan struct{}) bool {
	if signal == nil {
		return false
	}

	select {
	case <-signal:
		return true
	default:
		return false
	}
}

package consumer

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/backoff"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/event"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/runtime"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/stream"
)

// RelayBroker is the stream surface a RetryRelay needs.
type RelayBroker interface {
	DeadLetterPublisher
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, req stream.ReadRequest) ([]stream.Message, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
}

// RelayConfig configures a RetryRelay.
type RelayConfig struct {
	RetryStream   string
	PrimaryStream string
	// Group is the relay's own group on RetryStream, conventionally
	// "<consumer group>-retry".
	Group            string
	Consumer         string
	DLQStream        string
	DelayCap         time.Duration
	Block            time.Duration
	Count            int64
	ReadErrorBackoff time.Duration
}

func (cfg *RelayConfig) normalize() {
	cfg.RetryStream = strings.TrimSpace(cfg.RetryStream)
	cfg.PrimaryStream = strings.TrimSpace(cfg.PrimaryStream)
	cfg.Group = strings.TrimSpace(cfg.Group)
	cfg.DLQStream = strings.TrimSpace(cfg.DLQStream)

	if strings.TrimSpace(cfg.Consumer) == "" {
		cfg.Consumer = defaultConsumerName()
	}

	if cfg.DelayCap <= 0 {
		cfg.DelayCap = DefaultBackoffCap
	}

	if cfg.Block <= 0 {
		cfg.Block = DefaultBlock
	}

	if cfg.Count <= 0 {
		cfg.Count = DefaultCount
	}

	if cfg.ReadErrorBackoff <= 0 {
		cfg.ReadErrorBackoff = DefaultReadErrorBackoff
	}
}

func (cfg RelayConfig) validate() error {
	switch {
	case cfg.RetryStream == "", cfg.PrimaryStream == "":
		return ErrStreamRequired
	case cfg.Group == "":
		return ErrGroupRequired
	case cfg.DLQStream == "":
		return ErrDLQRequired
	}

	return nil
}

// RetryRelay waits out each retry message's delay and moves it back onto
// the primary stream.
type RetryRelay struct {
	loop

	broker RelayBroker
	logger libLog.Logger
	cfg    RelayConfig
	now    func() time.Time
}

var _ reliability.App = (*RetryRelay)(nil)

// NewRetryRelay creates a relay.
func NewRetryRelay(broker RelayBroker, cfg RelayConfig, logger libLog.Logger) (*RetryRelay, error) {
	if nilcheck.Interface(broker) {
		return nil, ErrBrokerRequired
	}

	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger = libLog.OrNop(logger)

	return &RetryRelay{
		broker: broker,
		logger: logger.With(libLog.Stream(cfg.RetryStream), libLog.String("group", cfg.Group)),
		cfg:    cfg,
		now:    time.Now,
	}, nil
}

// Run implements reliability.App.
func (r *RetryRelay) Run(launcher *reliability.Launcher) error {
	return r.RunContext(context.Background(), launcher)
}

// RunContext relays until Stop or ctx ends.
func (r *RetryRelay) RunContext(parent context.Context, launcher *reliability.Launcher) error {
	if r == nil || r.broker == nil {
		return ErrNotConfigured
	}

	ctx, ok := r.begin(parent)
	if !ok {
		return ErrAlreadyRunning
	}

	defer r.end()

	if launcher != nil && launcher.Logger != nil {
		launcher.Logger.Log(context.Background(), libLog.LevelInfo, "retry relay started")
		defer launcher.Logger.Log(context.Background(), libLog.LevelInfo, "retry relay stopped")
	}

	defer runtime.RecoverAndLogWithContext(ctx, r.logger, "consumer", "retry_relay_run")

	for !r.done(ctx) {
		err := r.broker.EnsureGroup(ctx, r.cfg.RetryStream, r.cfg.Group)
		if err == nil {
			break
		}

		libLog.SafeError(r.logger, ctx, "failed to ensure retry group", err, false)

		if sleepErr := backoff.SleepWithContext(ctx, r.cfg.ReadErrorBackoff); sleepErr != nil {
			return nil
		}
	}

	for !r.done(ctx) {
		r.PollOnce(ctx)
	}

	return nil
}

// PollOnce reads one batch from the retry stream and relays it.
func (r *RetryRelay) PollOnce(ctx context.Context) int {
	r.inflight.Add(1)
	defer r.inflight.Done()

	msgs, err := r.broker.ReadGroup(ctx, stream.ReadRequest{
		Stream:   r.cfg.RetryStream,
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		Count:    r.cfg.Count,
		Block:    r.cfg.Block,
	})
	if err != nil {
		if ctx.Err() == nil {
			libLog.SafeError(r.logger, ctx, "failed to read retry stream", err, false)
			_ = backoff.SleepWithContext(ctx, r.cfg.ReadErrorBackoff)
		}

		return 0
	}

	for _, msg := range msgs {
		r.HandleMessage(ctx, msg)
	}

	return len(msgs)
}

// Delay returns the wait for msg: its retry_delay_seconds, capped.
func (r *RetryRelay) Delay(msg stream.Message) time.Duration {
	raw := fmt.Sprint(msg.Values[event.FieldRetryDelaySeconds])

	seconds, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || seconds <= 0 {
		return 0
	}

	return min(time.Duration(seconds)*time.Second, r.cfg.DelayCap)
}

// Wait returns what is left of msg's delay. The delay counts from when the
// entry was appended, so time spent queued or behind earlier batch entries
// is not waited twice.
func (r *RetryRelay) Wait(msg stream.Message) time.Duration {
	delay := r.Delay(msg)
	if delay <= 0 {
		return 0
	}

	appended, ok := msg.Time()
	if !ok {
		return delay
	}

	return max(delay-r.now().Sub(appended), 0)
}

// HandleMessage waits out the rest of the delay and forwards msg. On
// shutdown the wait is cut short and the message is forwarded at once.
func (r *RetryRelay) HandleMessage(ctx context.Context, msg stream.Message) Outcome {
	_ = backoff.SleepWithContext(ctx, r.Wait(msg))

	routeCtx := context.WithoutCancel(ctx)

	fields := maps.Clone(msg.Values)
	delete(fields, event.FieldRetryDelaySeconds)

	if _, err := r.broker.PublishFields(routeCtx, r.cfg.PrimaryStream, fields); err != nil {
		libLog.SafeError(r.logger, ctx, "relay publish failed; routing to dead-letter stream", err, false)

		dlq := deadLetterFields(messagePayload(msg.Values), err, r.now())
		if _, dlqErr := r.broker.PublishFields(routeCtx, r.cfg.DLQStream, dlq); dlqErr != nil {
			r.logger.Log(ctx, libLog.LevelError, "dead-letter publish failed; retry message left pending",
				libLog.String("message_id", msg.ID), libLog.Err(dlqErr))

			return OutcomeLeftPending
		}

		r.ack(routeCtx, msg.ID)

		return OutcomeDeadLettered
	}

	r.ack(routeCtx, msg.ID)

	return OutcomeRequeued
}

func (r *RetryRelay) ack(ctx context.Context, id string) {
	if err := r.broker.Ack(ctx, r.cfg.RetryStream, r.cfg.Group, id); err != nil {
		libLog.SafeError(r.logger, ctx, "failed to ack retry message", err, false)
	}
}

// Shutdown stops the relay and waits for the in-flight batch.
func (r *RetryRelay) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}

	return r.shutdown(ctx, r.logger, "retry_relay")
}

package consumer

import (
	"context"
	"strings"
	"time"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	libRedis "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/redis"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/runtime"
)

const (
	// TrimLockKey serializes trimming across instances.
	TrimLockKey = "lock:stream:trim"

	DefaultTrimInterval = 300 * time.Second
	MinTrimInterval     = 10 * time.Second
)

// StreamTrimmer approximately trims a stream.
type StreamTrimmer interface {
	Trim(ctx context.Context, stream string, maxLen int64) (int64, error)
}

// TrimTarget is one stream and its cap.
type TrimTarget struct {
	Stream string
	MaxLen int64
}

// TrimResult reports one tick.
type TrimResult struct {
	// Skipped is true when another instance held the trim lock.
	Skipped bool
	Removed map[string]int64
}

// Trimmer periodically trims the primary, retry and dead-letter streams.
type Trimmer struct {
	loop

	broker   StreamTrimmer
	locks    libRedis.LockManager
	targets  []TrimTarget
	interval time.Duration
	logger   libLog.Logger
}

var _ reliability.App = (*Trimmer)(nil)

// NewTrimmer creates a trimmer. A nil lock manager trims without
// coordination, which is only safe for a single instance. The interval is
// clamped to MinTrimInterval.
func NewTrimmer(
	broker StreamTrimmer,
	locks libRedis.LockManager,
	targets []TrimTarget,
	interval time.Duration,
	logger libLog.Logger,
) (*Trimmer, error) {
	if nilcheck.Interface(broker) {
		return nil, ErrBrokerRequired
	}

	kept := make([]TrimTarget, 0, len(targets))

	for _, target := range targets {
		target.Stream = strings.TrimSpace(target.Stream)
		if target.Stream != "" && target.MaxLen > 0 {
			kept = append(kept, target)
		}
	}

	if len(kept) == 0 {
		return nil, ErrTrimTargetsEmpty
	}

	if interval <= 0 {
		interval = DefaultTrimInterval
	}

	interval = max(interval, MinTrimInterval)

	logger = libLog.OrNop(logger)

	if nilcheck.Interface(locks) {
		locks = nil
	}

	return &Trimmer{
		broker:   broker,
		locks:    locks,
		targets:  kept,
		interval: interval,
		logger:   logger,
	}, nil
}

// Interval returns the effective tick interval.
func (t *Trimmer) Interval() time.Duration {
	return t.interval
}

// Run implements reliability.App.
func (t *Trimmer) Run(launcher *reliability.Launcher) error {
	return t.RunContext(context.Background(), launcher)
}

// RunContext trims once per interval until Stop or ctx ends.
func (t *Trimmer) RunContext(parent context.Context, launcher *reliability.Launcher) error {
	if t == nil || t.broker == nil {
		return ErrNotConfigured
	}

	ctx, ok := t.begin(parent)
	if !ok {
		return ErrAlreadyRunning
	}

	defer t.end()

	if launcher != nil && launcher.Logger != nil {
		launcher.Logger.Log(context.Background(), libLog.LevelInfo, "stream trimmer started",
			libLog.String("interval", t.interval.String()))
		defer launcher.Logger.Log(context.Background(), libLog.LevelInfo, "stream trimmer stopped")
	}

	defer runtime.RecoverAndLogWithContext(ctx, t.logger, "consumer", "trimmer_run")

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	stop := t.stopSignal()

	for {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Trimmer) tick(ctx context.Context) {
	t.inflight.Add(1)
	defer t.inflight.Done()

	result, err := t.TrimOnce(ctx)
	if err != nil {
		libLog.SafeError(t.logger, ctx, "stream trim failed", err, false)

		return
	}

	if result.Skipped {
		t.logger.Log(ctx, libLog.LevelDebug, "stream trim skipped; lock held elsewhere")
	}
}

// TrimOnce trims every target once. The trim lock is never released; it
// expires shortly before the next tick so at most one instance trims per
// interval.
func (t *Trimmer) TrimOnce(ctx context.Context) (TrimResult, error) {
	if t.locks != nil {
		_, acquired, err := t.locks.TryLock(ctx, TrimLockKey, t.interval-t.interval/10)
		if err != nil {
			return TrimResult{}, err
		}

		if !acquired {
			return TrimResult{Skipped: true}, nil
		}
	}

	result := TrimResult{Removed: make(map[string]int64, len(t.targets))}

	for _, target := range t.targets {
		removed, err := t.broker.Trim(ctx, target.Stream, target.MaxLen)
		if err != nil {
			libLog.SafeError(t.logger, ctx, "failed to trim stream", err, false)

			continue
		}

		result.Removed[target.Stream] = removed

		if removed > 0 {
			t.logger.Log(ctx, libLog.LevelInfo, "stream trimmed",
				libLog.Stream(target.Stream),
				libLog.Int64("removed", removed),
				libLog.Int64("max_len", target.MaxLen),
			)
		}
	}

	return result, nil
}

// Shutdown stops the trimmer and waits for an in-flight tick.
func (t *Trimmer) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	return t.shutdown(ctx, t.logger, "trimmer")
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/opentelemetry"
)

const (
	defaultLockTTL        = 10 * time.Second
	defaultLockRetryDelay = 100 * time.Millisecond
	maxLockKeyLogLength   = 128
)

var (
	// ErrNilLockHandle is returned when a nil lock handle is released.
	ErrNilLockHandle = errors.New("lock handle is nil or not initialized")
	// ErrLockNotHeld is returned when a released lock had already expired.
	ErrLockNotHeld = errors.New("lock was not held or already expired")
	// ErrNilLockManager is returned when a method is called on a nil RedisLockManager.
	ErrNilLockManager = errors.New("lock manager is nil")
	// ErrNilLockFn is returned when WithLock gets no function.
	ErrNilLockFn = errors.New("lock function is nil")
	// ErrEmptyLockKey is returned when an empty lock key is provided.
	ErrEmptyLockKey = errors.New("lock key cannot be empty")
	// ErrLockBusy is returned when WithLock gave up waiting.
	ErrLockBusy = errors.New("lock held by another instance")
)

// LockHandle is an acquired lease.
type LockHandle interface {
	Unlock(ctx context.Context) error
}

// LockManager coordinates singleton jobs, like stream trimming, across
// pipeline instances.
type LockManager interface {
	// TryLock makes one attempt. A lease held elsewhere is (nil, false, nil).
	TryLock(ctx context.Context, key string, ttl time.Duration) (LockHandle, bool, error)
	// WithLock waits up to opts.Wait for key, runs fn, then releases it.
	WithLock(ctx context.Context, key string, opts LockOptions, fn func(context.Context) error) error
}

var _ LockManager = (*RedisLockManager)(nil)

// LockOptions configures WithLock.
type LockOptions struct {
	// TTL bounds how long a crashed holder keeps the lease.
	TTL time.Duration
	// Wait is the total time spent retrying acquisition. Zero tries once.
	Wait       time.Duration
	RetryDelay time.Duration
}

func (o LockOptions) normalize() LockOptions {
	if o.TTL <= 0 {
		o.TTL = defaultLockTTL
	}

	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultLockRetryDelay
	}

	if o.Wait < 0 {
		o.Wait = 0
	}

	return o
}

func (o LockOptions) tries() int {
	return int(o.Wait/o.RetryDelay) + 1
}

// RedisLockManager implements LockManager with redsync.
type RedisLockManager struct {
	redsync *redsync.Redsync
}

// clientPool resolves the current go-redis client on every Get so leases
// keep working across reconnects.
type clientPool struct {
	conn *Client
}

func (p *clientPool) Get(ctx context.Context) (redsyncredis.Conn, error) {
	rdb, err := p.conn.GetClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock pool: %w", err)
	}

	return goredis.NewPool(rdb).Get(ctx)
}

type lockHandle struct {
	mutex  *redsync.Mutex
	logger log.Logger
}

// Unlock releases the lease.
func (h *lockHandle) Unlock(ctx context.Context) error {
	if h == nil || h.mutex == nil {
		return ErrNilLockHandle
	}

	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil {
		return fmt.Errorf("unlock %s: %w", logKey(h.mutex.Name()), err)
	}

	if !ok {
		h.logger.Log(ctx, log.LevelWarn, "lock expired before release", log.String("lock_key", logKey(h.mutex.Name())))
		return ErrLockNotHeld
	}

	return nil
}

// NewRedisLockManager creates a lock manager over conn.
func NewRedisLockManager(ctx context.Context, conn *Client) (*RedisLockManager, error) {
	if conn == nil {
		return nil, ErrNilClient
	}

	if _, err := conn.GetClient(ctx); err != nil {
		return nil, fmt.Errorf("lock manager: %w", err)
	}

	return &RedisLockManager{redsync: redsync.New(&clientPool{conn: conn})}, nil
}

// TryLock attempts key once. Contention is not an error.
func (dl *RedisLockManager) TryLock(ctx context.Context, key string, ttl time.Duration) (LockHandle, bool, error) {
	if dl == nil || dl.redsync == nil {
		return nil, false, ErrNilLockManager
	}

	if strings.TrimSpace(key) == "" {
		return nil, false, ErrEmptyLockKey
	}

	logger, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "redis.lock.try")
	defer span.End()

	mutex := dl.redsync.NewMutex(key, redsync.WithExpiry(LockOptions{TTL: ttl}.normalize().TTL), redsync.WithTries(1))

	if err := mutex.LockContext(ctx); err != nil {
		if isTaken(err) {
			logger.Log(ctx, log.LevelDebug, "lock held elsewhere", log.String("lock_key", logKey(key)))
			return nil, false, nil
		}

		opentelemetry.HandleSpanError(span, "Failed to attempt lock", err)

		return nil, false, fmt.Errorf("try lock %s: %w", logKey(key), err)
	}

	return &lockHandle{mutex: mutex, logger: logger}, true, nil
}

// WithLock runs fn while holding key.
func (dl *RedisLockManager) WithLock(ctx context.Context, key string, opts LockOptions, fn func(context.Context) error) error {
	if dl == nil || dl.redsync == nil {
		return ErrNilLockManager
	}

	if fn == nil {
		return ErrNilLockFn
	}

	if strings.TrimSpace(key) == "" {
		return ErrEmptyLockKey
	}

	opts = opts.normalize()
	logger, tracer, _ := reliability.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "redis.lock.with_lock")
	defer span.End()

	mutex := dl.redsync.NewMutex(key,
		redsync.WithExpiry(opts.TTL),
		redsync.WithTries(opts.tries()),
		redsync.WithRetryDelay(opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if isTaken(err) {
			return fmt.Errorf("%w: %s", ErrLockBusy, logKey(key))
		}

		opentelemetry.HandleSpanError(span, "Failed to acquire lock", err)

		return fmt.Errorf("lock %s: %w", logKey(key), err)
	}

	handle := &lockHandle{mutex: mutex, logger: logger}

	defer func() {
		if err := handle.Unlock(ctx); err != nil && !errors.Is(err, ErrLockNotHeld) {
			logger.Log(ctx, log.LevelError, "failed to release lock", log.String("lock_key", logKey(key)), log.Err(err))
		}
	}()

	if err := fn(ctx); err != nil {
		opentelemetry.HandleSpanError(span, "Locked function failed", err)

		return err
	}

	return nil
}

func isTaken(err error) bool {
	var taken *redsync.ErrTaken

	return errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken)
}

func logKey(key string) string {
	quoted := strconv.QuoteToASCII(key)
	if len(quoted) <= maxLockKeyLogLength {
		return quoted
	}

	return quoted[:maxLockKeyLogLength] + "...(truncated)"
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/backoff"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	libOpentelemetry "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/opentelemetry"
)

const (
	defaultPoolSize     = 10
	maxPoolSize         = 1000
	defaultDialTimeout  = 5 * time.Second
	defaultIOTimeout    = 3 * time.Second
	reconnectBase       = 500 * time.Millisecond
	reconnectBackoffCap = 30 * time.Second
)

var (
	// ErrNilClient is returned when a redis client receiver is nil.
	ErrNilClient = errors.New("redis client is nil")
	// ErrInvalidConfig indicates the provided redis configuration is invalid.
	ErrInvalidConfig = errors.New("invalid redis config")
	// ErrReconnectRateLimited is returned while a failed reconnect is backing off.
	ErrReconnectRateLimited = errors.New("redis reconnect rate-limited")
)

// Config describes the broker connection. One address is a standalone node.
// Several addresses form a cluster, or a sentinel set when MasterName is set.
type Config struct {
	Addresses  []string
	MasterName string
	Password   Secret
	DB         int
	PoolSize   int
	// ReadTimeout applies to regular commands. Blocking XREADGROUP calls
	// extend it by their own BLOCK duration.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration
	Logger       log.Logger
}

// Secret is a credential that never prints.
type Secret string

// String redacts the secret.
func (Secret) String() string { return "REDACTED" }

// GoString redacts the secret for %#v.
func (s Secret) GoString() string { return s.String() }

// ParseAddresses splits a comma-separated REDIS_ADDRESS value.
func ParseAddresses(raw string) []string {
	var out []string

	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

func (cfg Config) normalize() (Config, error) {
	if nilcheck.Interface(cfg.Logger) {
		cfg.Logger = log.NewNop()
	}

	cfg.Addresses = ParseAddresses(strings.Join(cfg.Addresses, ","))
	if len(cfg.Addresses) == 0 {
		return Config{}, fmt.Errorf("%w: at least one address is required", ErrInvalidConfig)
	}

	if cfg.DB != 0 && len(cfg.Addresses) > 1 && cfg.MasterName == "" {
		return Config{}, fmt.Errorf("%w: cluster mode supports only DB 0", ErrInvalidConfig)
	}

	switch {
	case cfg.PoolSize <= 0:
		cfg.PoolSize = defaultPoolSize
	case cfg.PoolSize > maxPoolSize:
		cfg.PoolSize = maxPoolSize
	}

	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultIOTimeout
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultIOTimeout
	}

	return cfg, nil
}

func (cfg Config) mode() string {
	switch {
	case cfg.MasterName != "":
		return "sentinel"
	case len(cfg.Addresses) > 1:
		return "cluster"
	default:
		return "standalone"
	}
}

func (cfg Config) universalOptions() *redis.UniversalOptions {
	return &redis.UniversalOptions{
		Addrs:        cfg.Addresses,
		MasterName:   cfg.MasterName,
		Password:     string(cfg.Password),
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// Client hands out a go-redis client and rebuilds it after Close or a
// failed connect. Rebuilds back off exponentially so a dead broker is not
// hammered by every caller.
type Client struct {
	mu     sync.RWMutex
	cfg    Config
	logger log.Logger
	client redis.UniversalClient

	lastAttempt time.Time
	failures    int
}

// New connects to Redis and returns a ready client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	normalized, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	c := &Client{cfg: normalized, logger: normalized.Logger}

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// Connect replaces the current client with a freshly pinged one.
func (c *Client) Connect(ctx context.Context) error {
	if c == nil {
		return ErrNilClient
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectLocked(ctx, "redis.connect")
}

// GetClient returns the live client, reconnecting when there is none.
func (c *Client) GetClient(ctx context.Context) (redis.UniversalClient, error) {
	if c == nil {
		return nil, ErrNilClient
	}

	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client != nil {
		return client, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	if wait := c.reconnectWaitLocked(); wait > 0 {
		return nil, fmt.Errorf("%w (next attempt in %s)", ErrReconnectRateLimited, wait)
	}

	if err := c.connectLocked(ctx, "redis.reconnect"); err != nil {
		return nil, err
	}

	return c.client, nil
}

// Ping checks the broker round trip.
func (c *Client) Ping(ctx context.Context) error {
	client, err := c.GetClient(ctx)
	if err != nil {
		return err
	}

	return client.Ping(ctx).Err()
}

// Close drops the current client. GetClient reconnects afterwards.
func (c *Client) Close() error {
	if c == nil {
		return ErrNilClient
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.dropLocked()
}

// IsConnected reports whether a client is currently held.
func (c *Client) IsConnected() (bool, error) {
	if c == nil {
		return false, ErrNilClient
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.client != nil, nil
}

func (c *Client) reconnectWaitLocked() time.Duration {
	if c.failures == 0 {
		return 0
	}

	delay := min(backoff.ExponentialWithJitter(reconnectBase, c.failures), reconnectBackoffCap)

	return delay - time.Since(c.lastAttempt)
}

func (c *Client) connectLocked(ctx context.Context, spanName string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer("redis").Start(ctx, spanName)
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("redis.mode", c.cfg.mode()),
	)

	c.lastAttempt = time.Now()

	rdb := redis.NewUniversalClient(c.cfg.universalOptions())
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		c.failures++

		libOpentelemetry.HandleSpanError(span, "Failed to connect to redis", err)
		c.logger.Log(ctx, log.LevelError, "redis ping failed",
			log.String("mode", c.cfg.mode()),
			log.Int("failures", c.failures),
			log.Err(err),
		)

		return fmt.Errorf("redis connect: ping: %w", err)
	}

	if err := c.dropLocked(); err != nil {
		c.logger.Log(ctx, log.LevelWarn, "failed to close previous redis client", log.Err(err))
	}

	c.client = rdb
	c.failures = 0

	c.logger.Log(ctx, log.LevelInfo, "connected to redis", log.String("mode", c.cfg.mode()))

	return nil
}

func (c *Client) dropLocked() error {
	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil

	return err
}

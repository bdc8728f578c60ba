package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bxcodec/dbresolver/v2"
	_ "github.com/jackc/pgx/v5/stdlib"

	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

var (
	dbOpenFn = sql.Open

	createResolverFn = func(primaryDB, replicaDB *sql.DB, logger libLog.Logger) (_ dbresolver.DB, err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.Log(context.Background(), libLog.LevelError, "dbresolver panicked while building connection",
					libLog.Any("panic_value", recovered))

				err = fmt.Errorf("failed to create resolver: %v", recovered)
			}
		}()

		connectionDB := dbresolver.New(
			dbresolver.WithPrimaryDBs(primaryDB),
			dbresolver.WithReplicaDBs(replicaDB),
			dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
		)

		if connectionDB == nil {
			return nil, errors.New("resolver returned nil connection")
		}

		return connectionDB, nil
	}

	connectionStringCredentialsPattern = regexp.MustCompile(`://[^@\s]+@`)
	connectionStringPasswordPattern    = regexp.MustCompile(`(?i)(password=)([^\s&]+)`)
	dbNamePattern                      = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)
)

// Config holds connection settings. ReplicaDSN falls back to PrimaryDSN.
type Config struct {
	PrimaryDSN         string
	ReplicaDSN         string
	Logger             libLog.Logger
	MaxOpenConnections int
	MaxIdleConnections int
}

func (cfg Config) withDefaults() Config {
	cfg.Logger = libLog.OrNop(cfg.Logger)

	if cfg.MaxOpenConnections <= 0 {
		cfg.MaxOpenConnections = defaultMaxOpenConns
	}

	if cfg.MaxIdleConnections <= 0 {
		cfg.MaxIdleConnections = defaultMaxIdleConns
	}

	if strings.TrimSpace(cfg.ReplicaDSN) == "" {
		cfg.ReplicaDSN = cfg.PrimaryDSN
	}

	return cfg
}

func (cfg Config) validate() error {
	if strings.TrimSpace(cfg.PrimaryDSN) == "" {
		return fmt.Errorf("%w: primary dsn is required", ErrInvalidConfig)
	}

	return nil
}

// Client owns the primary/replica pool pair.
type Client struct {
	cfg      Config
	mu       sync.RWMutex
	resolver dbresolver.DB
	primary  *sql.DB
}

// New validates cfg and returns an unconnected client.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Client{cfg: cfg}, nil
}

// Connect opens both pools and pings them. A previous resolver is replaced only
// when the new one is healthy.
func (c *Client) Connect(ctx context.Context) error {
	if c == nil {
		return ErrNilClient
	}

	if ctx == nil {
		return ErrNilContext
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled before database connection: %w", err)
	}

	logger := c.cfg.Logger
	logger.Log(ctx, libLog.LevelInfo, "connecting to primary and replica databases")

	primary, err := c.open(c.cfg.PrimaryDSN)
	if err != nil {
		return newSanitizedError("failed to open primary database", err)
	}

	replica, err := c.open(c.cfg.ReplicaDSN)
	if err != nil {
		_ = primary.Close()

		return newSanitizedError("failed to open replica database", err)
	}

	resolver, err := createResolverFn(primary, replica, logger)
	if err != nil {
		_ = primary.Close()
		_ = replica.Close()

		return err
	}

	if err := resolver.PingContext(ctx); err != nil {
		_ = resolver.Close()

		return newSanitizedError("failed to ping database", err)
	}

	if c.resolver != nil {
		if closeErr := c.resolver.Close(); closeErr != nil {
			logger.Log(ctx, libLog.LevelWarn, "failed to close previous postgres resolver",
				libLog.String("error", sanitizeSensitiveString(closeErr.Error())))
		}
	}

	c.resolver = resolver
	c.primary = primary

	logger.Log(ctx, libLog.LevelInfo, "connected to postgres")

	return nil
}

func (c *Client) open(dsn string) (*sql.DB, error) {
	db, err := dbOpenFn("pgx", dsn)
	if err != nil {
		return nil, err
	}

	if db == nil {
		return nil, errors.New("driver returned nil database")
	}

	db.SetMaxOpenConns(c.cfg.MaxOpenConnections)
	db.SetMaxIdleConns(c.cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	return db, nil
}

// Resolver returns the primary/replica handle, connecting lazily.
func (c *Client) Resolver(ctx context.Context) (dbresolver.DB, error) {
	if c == nil {
		return nil, ErrNilClient
	}

	if ctx == nil {
		return nil, ErrNilContext
	}

	c.mu.RLock()
	resolver := c.resolver
	c.mu.RUnlock()

	if resolver != nil {
		return resolver, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolver != nil {
		return c.resolver, nil
	}

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	return c.resolver, nil
}

// Primary returns the primary *sql.DB used to open write transactions.
func (c *Client) Primary(ctx context.Context) (*sql.DB, error) {
	resolver, err := c.Resolver(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	primary := c.primary
	c.mu.RUnlock()

	if primary != nil {
		return primary, nil
	}

	primaries := resolver.PrimaryDBs()
	if len(primaries) == 0 || primaries[0] == nil {
		return nil, ErrNoPrimaryDB
	}

	return primaries[0], nil
}

// Ping checks the connection health.
func (c *Client) Ping(ctx context.Context) error {
	resolver, err := c.Resolver(ctx)
	if err != nil {
		return err
	}

	return resolver.PingContext(ctx)
}

// IsConnected reports whether a resolver is held.
func (c *Client) IsConnected() (bool, error) {
	if c == nil {
		return false, ErrNilClient
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.resolver != nil, nil
}

// Close releases both pools. Calling it twice is safe.
func (c *Client) Close() error {
	if c == nil {
		return ErrNilClient
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolver == nil {
		return nil
	}

	err := c.resolver.Close()
	c.resolver = nil
	c.primary = nil

	return err
}

func sanitizeSensitiveString(value string) string {
	sanitized := connectionStringCredentialsPattern.ReplaceAllString(value, "://***@")

	return connectionStringPasswordPattern.ReplaceAllString(sanitized, "${1}***")
}

func validateDBName(name string) error {
	if !dbNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidDatabaseName, name)
	}

	return nil
}

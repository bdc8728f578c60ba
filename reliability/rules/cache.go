package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
)

const (
	DefaultTTL = 30 * time.Second
	MinTTL     = 5 * time.Second
)

// Cache is a read-through cache over a Source. Reloads are serialized, so
// concurrent readers of an expired cache trigger a single Load.
type Cache struct {
	source Source
	ttl    time.Duration
	logger libLog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	set       Set
	loaded    bool
	expiresAt time.Time

	reload sync.Mutex
}

// NewCache builds a cache. A zero ttl means DefaultTTL; anything shorter
// than MinTTL is raised to it.
func NewCache(source Source, ttl time.Duration, logger libLog.Logger) (*Cache, error) {
	if nilcheck.Interface(source) {
		return nil, ErrSourceRequired
	}

	logger = libLog.OrNop(logger)

	if ttl == 0 {
		ttl = DefaultTTL
	}

	if ttl < MinTTL {
		ttl = MinTTL
	}

	return &Cache{
		source: source,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}, nil
}

// TTL returns the effective ttl.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached set, loading it when expired. When a reload fails
// and a previous set exists, the stale set is returned.
func (c *Cache) Get(ctx context.Context) (Set, error) {
	if set, ok := c.fresh(); ok {
		return set, nil
	}

	c.reload.Lock()
	defer c.reload.Unlock()

	if set, ok := c.fresh(); ok {
		return set, nil
	}

	set, err := c.source.Load(ctx)
	if err != nil {
		c.mu.RLock()
		stale, loaded := c.set, c.loaded
		c.mu.RUnlock()

		if loaded {
			c.logger.Log(ctx, libLog.LevelWarn, "rule reload failed, serving stale rules", libLog.Err(err))

			return stale, nil
		}

		return Set{}, fmt.Errorf("load rules: %w", err)
	}

	now := c.now()
	if set.LoadedAt.IsZero() {
		set.LoadedAt = now
	}

	c.mu.Lock()
	c.set = set
	c.loaded = true
	c.expiresAt = now.Add(c.ttl)
	c.mu.Unlock()

	return set, nil
}

// Invalidate forces the next Get to reload.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expiresAt = time.Time{}
}

func (c *Cache) fresh() (Set, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.loaded || !c.now().Before(c.expiresAt) {
		return Set{}, false
	}

	return c.set, true
}

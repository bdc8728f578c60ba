//go:build unit

package rules

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	loads atomic.Int32
	delay time.Duration
	err   atomic.Pointer[error]
}

func (s *countingSource) Load(_ context.Context) (Set, error) {
	n := s.loads.Add(1)

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	if errPtr := s.err.Load(); errPtr != nil {
		return Set{}, *errPtr
	}

	return Set{Points: map[string]int{"aas_created": int(n)}}, nil
}

func (s *countingSource) fail(err error) {
	s.err.Store(&err)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, src Source, ttl time.Duration) (*Cache, *clock) {
	t.Helper()

	cache, err := NewCache(src, ttl, nil)
	require.NoError(t, err)

	clk := &clock{now: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}
	cache.now = clk.Now

	return cache, clk
}

func TestNewCache(t *testing.T) {
	_, err := NewCache(nil, 0, nil)
	require.ErrorIs(t, err, ErrSourceRequired)

	cache, err := NewCache(&countingSource{}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, cache.TTL())

	cache, err = NewCache(&countingSource{}, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, MinTTL, cache.TTL())
}

func TestCache_ServesUntilExpiry(t *testing.T) {
	src := &countingSource{}
	cache, clk := newTestCache(t, src, 10*time.Second)

	set, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, set.Points["aas_created"])

	clk.Advance(9 * time.Second)

	set, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, set.Points["aas_created"])
	assert.EqualValues(t, 1, src.loads.Load())

	clk.Advance(time.Second)

	set, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, set.Points["aas_created"])
}

func TestCache_Invalidate(t *testing.T) {
	src := &countingSource{}
	cache, _ := newTestCache(t, src, time.Minute)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	cache.Invalidate()

	set, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, set.Points["aas_created"])
}

func TestCache_ConcurrentReloadsAreSerialized(t *testing.T) {
	src := &countingSource{delay: 20 * time.Millisecond}
	cache, _ := newTestCache(t, src, time.Minute)

	var wg sync.WaitGroup

	for range 16 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := cache.Get(context.Background())
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.EqualValues(t, 1, src.loads.Load())
}

func TestCache_StaleOnReloadFailure(t *testing.T) {
	src := &countingSource{}
	cache, _ := newTestCache(t, src, time.Minute)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	src.fail(errors.New("db down"))
	cache.Invalidate()

	set, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, set.Points["aas_created"])
}

func TestCache_FirstLoadFailure(t *testing.T) {
	src := &countingSource{}
	src.fail(errors.New("db down"))

	cache, _ := newTestCache(t, src, time.Minute)

	_, err := cache.Get(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

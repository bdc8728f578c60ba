package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/runtime"
)

type breaker struct {
	cb  *gobreaker.CircuitBreaker
	cfg Config
}

// Registry owns named breakers. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	breakers  map[string]*breaker
	listeners []Listener
	logger    libLog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger libLog.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*breaker),
		logger:   libLog.OrNop(logger),
	}
}

// Register creates the breaker for name. Registering a name twice keeps the
// first breaker and its counts.
func (r *Registry) Register(name string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.breakers[name]; ok {
		return
	}

	r.breakers[name] = r.build(name, cfg)

	r.logger.Log(context.Background(), libLog.LevelInfo, "circuit breaker registered", libLog.String("breaker", name))
}

func (r *Registry) build(name string, cfg Config) *breaker {
	return &breaker{
		cb: gobreaker.NewCircuitBreaker(cfg.settings(name, func(_ string, from, to gobreaker.State) {
			r.changed(name, stateOf(from), stateOf(to))
		})),
		cfg: cfg,
	}
}

func (r *Registry) get(name string) (*breaker, bool) {
	if r == nil {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.breakers[name]

	return b, ok
}

// Do runs fn through the named breaker. While the breaker rejects calls Do
// returns an error wrapping ErrOpen and fn is not invoked.
func (r *Registry) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	_, err := Call(ctx, r, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})

	return err
}

// Call is Do for functions with a result.
func Call[T any](ctx context.Context, r *Registry, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	b, ok := r.get(name)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrBreakerNotFound, name)
	}

	out, err := b.cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		r.logger.Log(ctx, libLog.LevelWarn, "circuit breaker rejected call", libLog.String("breaker", name))

		return zero, fmt.Errorf("%w: %s: %w", ErrOpen, name, err)
	}

	if err != nil {
		return zero, err
	}

	result, _ := out.(T)

	return result, nil
}

// State reports the named breaker's position, StateUnknown if unregistered.
func (r *Registry) State(name string) State {
	b, ok := r.get(name)
	if !ok {
		return StateUnknown
	}

	return stateOf(b.cb.State())
}

// Counts reports the current window for name.
func (r *Registry) Counts(name string) Counts {
	b, ok := r.get(name)
	if !ok {
		return Counts{}
	}

	return countsOf(b.cb.Counts())
}

// Snapshot returns the state of every registered breaker.
func (r *Registry) Snapshot() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = stateOf(b.cb.State())
	}

	return out
}

// Check returns a health probe that fails while name is open.
func (r *Registry) Check(name string) func(context.Context) error {
	return func(context.Context) error {
		if r.State(name) == StateOpen {
			return fmt.Errorf("%w: %s", ErrOpen, name)
		}

		return nil
	}
}

// Reset replaces the named breaker with a closed one.
func (r *Registry) Reset(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		return
	}

	r.breakers[name] = r.build(name, b.cfg)
}

// OnStateChange adds a listener. Listeners run on their own goroutine.
func (r *Registry) OnStateChange(l Listener) {
	if nilcheck.Interface(l) {
		return
	}

	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

func (r *Registry) changed(name string, from, to State) {
	level := libLog.LevelInfo
	if to == StateOpen {
		level = libLog.LevelError
	}

	r.logger.Log(context.Background(), level, "circuit breaker state changed",
		libLog.String("breaker", name),
		libLog.String("from", string(from)),
		libLog.String("to", string(to)),
	)

	r.mu.RLock()
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.RUnlock()

	for _, l := range listeners {
		runtime.SafeGo(r.logger, "circuitbreaker.listener", runtime.KeepRunning, func() {
			l(name, from, to)
		})
	}
}

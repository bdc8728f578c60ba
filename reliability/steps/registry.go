package steps

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
)

// Registry maps action names to handlers. It is populated at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func normalize(action string) string {
	return strings.ToLower(strings.TrimSpace(action))
}

// Register adds handler under action.
func (r *Registry) Register(action string, handler Handler) error {
	key := normalize(action)
	if key == "" {
		return ErrActionRequired
	}

	if nilcheck.Interface(handler) {
		return ErrHandlerRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAction, key)
	}

	r.handlers[key] = handler

	return nil
}

// Resolve returns the handler for action.
func (r *Registry) Resolve(action string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[normalize(action)]

	return h, ok
}

// Actions lists registered actions, sorted.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

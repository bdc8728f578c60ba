package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// Action is a named transition request.
type Action struct {
	Name   string
	Target State
	// CheckPolicy evaluates the entity's usage policy before the move.
	CheckPolicy bool
}

// ActionRegistry resolves action verbs. It is immutable after construction.
type ActionRegistry struct {
	machine Machine
	actions map[string]Action
}

// NewActionRegistry registers actions against m. Names are case-insensitive.
func NewActionRegistry(m Machine, actions ...Action) (*ActionRegistry, error) {
	r := &ActionRegistry{machine: m, actions: make(map[string]Action, len(actions))}

	for _, a := range actions {
		key := strings.ToLower(strings.TrimSpace(a.Name))
		if key == "" {
			return nil, fmt.Errorf("%w: empty action name", ErrInvalidInput)
		}

		if _, exists := r.actions[key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAction, key)
		}

		if !m.Has(a.Target) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrUnknownState, key, a.Target)
		}

		a.Name = key
		r.actions[key] = a
	}

	return r, nil
}

func mustRegistry(m Machine, actions ...Action) *ActionRegistry {
	r, err := NewActionRegistry(m, actions...)
	if err != nil {
		panic(err)
	}

	return r
}

// Resolve returns the action registered under name.
func (r *ActionRegistry) Resolve(name string) (Action, bool) {
	if r == nil {
		return Action{}, false
	}

	a, ok := r.actions[strings.ToLower(strings.TrimSpace(name))]

	return a, ok
}

// Names lists the registered verbs, sorted.
func (r *ActionRegistry) Names() []string {
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Machine returns the table the actions move through.
func (r *ActionRegistry) Machine() Machine { return r.machine }

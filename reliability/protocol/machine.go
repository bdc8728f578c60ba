package protocol

import (
	"fmt"
	"slices"
	"time"
)

// State is a protocol state name.
type State string

// HistoryEntry records one state reached by an entity.
type HistoryEntry struct {
	State     State     `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// Lifecycle is the state-tracking part of a protocol entity. CurrentState
// always equals the last history entry.
type Lifecycle struct {
	CurrentState State          `json:"current_state"`
	StateHistory []HistoryEntry `json:"state_history"`
}

// Machine is an immutable transition table.
type Machine struct {
	name     string
	initial  State
	states   []State
	edges    map[State][]State
	terminal map[State]struct{}
}

// NewMachine builds a machine. Every state named in edges or terminal is
// part of the machine. Terminal states must have no outgoing edges.
func NewMachine(name string, initial State, edges map[State][]State, terminal ...State) (Machine, error) {
	m := Machine{
		name:     name,
		initial:  initial,
		edges:    make(map[State][]State, len(edges)),
		terminal: make(map[State]struct{}, len(terminal)),
	}

	seen := map[State]struct{}{}
	add := func(s State) {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			m.states = append(m.states, s)
		}
	}

	add(initial)

	for from, targets := range edges {
		add(from)

		m.edges[from] = slices.Clone(targets)
		for _, to := range targets {
			add(to)
		}
	}

	for _, s := range terminal {
		if len(edges[s]) > 0 {
			return Machine{}, fmt.Errorf("%s: terminal state %s has outgoing edges", name, s)
		}

		add(s)
		m.terminal[s] = struct{}{}
	}

	if len(m.terminal) == 0 {
		return Machine{}, fmt.Errorf("%s: at least one terminal state is required", name)
	}

	slices.Sort(m.states)

	return m, nil
}

func mustMachine(name string, initial State, edges map[State][]State, terminal ...State) Machine {
	m, err := NewMachine(name, initial, edges, terminal...)
	if err != nil {
		panic(err)
	}

	return m
}

// Name identifies the protocol.
func (m Machine) Name() string { return m.name }

// Initial returns the state new entities start in.
func (m Machine) Initial() State { return m.initial }

// States lists every state, sorted.
func (m Machine) States() []State { return slices.Clone(m.states) }

// Targets lists the states reachable from s in one step.
func (m Machine) Targets(s State) []State { return slices.Clone(m.edges[s]) }

// IsTerminal reports whether s has no way out.
func (m Machine) IsTerminal(s State) bool {
	_, ok := m.terminal[s]

	return ok
}

// Has reports whether s belongs to the machine.
func (m Machine) Has(s State) bool {
	_, found := slices.BinarySearch(m.states, s)

	return found
}

// CanTransition reports whether current -> target is an edge of the table.
func (m Machine) CanTransition(current, target State) bool {
	return slices.Contains(m.edges[current], target)
}

// Start returns the lifecycle of a new entity.
func (m Machine) Start(now time.Time) Lifecycle {
	return Lifecycle{
		CurrentState: m.initial,
		StateHistory: []HistoryEntry{{State: m.initial, Timestamp: now.UTC()}},
	}
}

// Apply moves l to target and appends the history entry.
func (m Machine) Apply(l *Lifecycle, target State, now time.Time) error {
	if !m.CanTransition(l.CurrentState, target) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, m.name, l.CurrentState, target)
	}

	l.StateHistory = append(slices.Clip(l.StateHistory), HistoryEntry{State: target, Timestamp: now.UTC()})
	l.CurrentState = target

	return nil
}

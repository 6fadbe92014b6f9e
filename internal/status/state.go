package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/dmsync/internal/bus"
)

// State represents a relay connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Error        State = "ERROR"
	Closed       State = "CLOSED"
	Reconnecting State = "RECONNECTING"
)

// validTransitions defines allowed state transitions. Every state may fall
// back to Disconnected because an explicit disconnect is always reachable.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Error, Disconnected},
	Connected:    {Error, Closed, Disconnected},
	Error:        {Reconnecting, Disconnected},
	Closed:       {Reconnecting, Disconnected},
	Reconnecting: {Connecting, Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is in any of the given states.
func (m *Machine) Is(states ...State) bool {
	return slices.Contains(states, m.Current())
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindConnStatus, StatusChange{From: from, To: to})
	return nil
}

// TransitionFrom moves to a new state only if the current state is from.
// It reports whether the transition happened.
func (m *Machine) TransitionFrom(from, to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != from || !slices.Contains(validTransitions[from], to) {
		return false
	}
	m.current = to
	m.bus.Emit(bus.KindConnStatus, StatusChange{From: from, To: to})
	return true
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}

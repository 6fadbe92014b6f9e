package status

import (
	"testing"

	"github.com/matheus3301/dmsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connecting},
		{Connecting, Connected},
		{Connecting, Error},
		{Connected, Error},
		{Connected, Closed},
		{Error, Reconnecting},
		{Closed, Reconnecting},
		{Reconnecting, Connecting},
		{Reconnecting, Disconnected},
		{Connected, Disconnected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Connected); err == nil {
		t.Error("Transition(DISCONNECTED -> CONNECTED) should fail")
	}
	if m.Current() != Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.NamespaceConn, 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindConnStatus {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindConnStatus)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Disconnected || change.To != Connecting {
		t.Errorf("change = %v -> %v, want DISCONNECTED -> CONNECTING", change.From, change.To)
	}
}

// A lost socket walks the full failure ladder back to CONNECTED.
func TestReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connected)

	steps := []State{Closed, Reconnecting, Connecting, Error, Reconnecting, Connecting, Connected}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

func TestTransitionFrom(t *testing.T) {
	m := NewMachine(nil)
	if m.TransitionFrom(Connected, Error) {
		t.Error("TransitionFrom(CONNECTED, ERROR) succeeded while DISCONNECTED")
	}
	if !m.TransitionFrom(Disconnected, Connecting) {
		t.Error("TransitionFrom(DISCONNECTED, CONNECTING) failed")
	}
	if !m.Is(Connecting, Connected) {
		t.Errorf("Is(CONNECTING, CONNECTED) = false, state %s", m.Current())
	}
}

func TestDisconnectReachableFromActiveStates(t *testing.T) {
	for _, from := range []State{Connecting, Connected, Error, Closed, Reconnecting} {
		t.Run(string(from), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, from)
			if err := m.Transition(Disconnected); err != nil {
				t.Errorf("%s -> DISCONNECTED: %v", from, err)
			}
		})
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Disconnected: {},
		Connecting:   {Connecting},
		Connected:    {Connecting, Connected},
		Error:        {Connecting, Error},
		Closed:       {Connecting, Connected, Closed},
		Reconnecting: {Connecting, Error, Reconnecting},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}

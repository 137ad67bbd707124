package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bus"
)

// State represents the sync layer's runtime state.
type State string

const (
	Booting  State = "BOOTING"
	Loading  State = "LOADING"
	Ready    State = "READY"
	Degraded State = "DEGRADED"
	Stopping State = "STOPPING"
	Stopped  State = "STOPPED"
	Error    State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:  {Loading, Stopping, Error},
	Loading:  {Ready, Degraded, Stopping, Error},
	Ready:    {Loading, Degraded, Stopping, Error},
	Degraded: {Loading, Ready, Stopping, Error},
	Stopping: {Stopped, Error},
	Stopped:  {Booting},
	Error:    {Booting, Stopping},
}

// Machine tracks and enforces runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	m.bus.Notify(bus.KindBridgeStatus, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}

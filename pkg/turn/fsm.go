package turn

import (
	"sync"
	"time"

	"github.com/harunnryd/arturo/pkg/metrics"
)

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// ListenerFunc adapts a function to StateListener.
type ListenerFunc func(StateChange)

func (f ListenerFunc) OnStateChange(event StateChange) { f(event) }

var validTransitions = map[State][]State{
	StateIdle:      {StateListening, StateThinking, StateSpeaking},
	StateListening: {StateThinking, StateIdle},
	StateThinking:  {StateSpeaking, StateListening, StateIdle},
	StateSpeaking:  {StateListening, StateThinking, StateIdle},
}

// Machine tracks the turn phase so that at most one question and one
// playback are in flight. Every transition is validated against the table
// above.
type Machine struct {
	mu        sync.RWMutex
	state     State
	entered   time.Time
	listeners []StateListener
	now       func() time.Time
}

func NewMachine() *Machine {
	return &Machine{state: StateIdle, entered: time.Now(), now: time.Now}
}

// WithClock swaps the time source.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	if now != nil {
		m.now = now
		m.entered = now()
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// TimeInState returns how long the machine has been in its current state.
func (m *Machine) TimeInState() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now().Sub(m.entered)
}

// Transition moves to a new state with validation. Moving to the current
// state is a no-op.
func (m *Machine) Transition(to State, reason string) error {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !allowed(from, to) {
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	m.state = to
	m.entered = m.now()
	event := StateChange{FromState: from, ToState: to, Timestamp: m.entered, Reason: reason}
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnStateChange(event)
	}
	return nil
}

// AddListener registers a listener for state change events.
func (m *Machine) AddListener(listener StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

func allowed(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

// MetricsListener records every transition as a turn_state event.
type MetricsListener struct {
	Observer metrics.Observer
}

func (l MetricsListener) OnStateChange(event StateChange) {
	metrics.Record(l.Observer, metrics.EventTurnState, 1, map[string]string{
		"from":   event.FromState.String(),
		"to":     event.ToState.String(),
		"reason": event.Reason,
	})
}

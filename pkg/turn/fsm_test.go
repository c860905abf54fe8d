package turn

import (
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/arturo/pkg/metrics"
)

func TestMachineVoiceCycle(t *testing.T) {
	m := NewMachine()
	var seen []StateChange
	m.AddListener(ListenerFunc(func(ev StateChange) { seen = append(seen, ev) }))

	steps := []State{StateListening, StateThinking, StateSpeaking, StateListening}
	for _, s := range steps {
		if err := m.Transition(s, "test"); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if m.State() != StateListening {
		t.Fatalf("expected LISTENING, got %s", m.State())
	}
	if len(seen) != len(steps) {
		t.Fatalf("expected %d events, got %d", len(steps), len(seen))
	}
	if seen[2].FromState != StateThinking || seen[2].ToState != StateSpeaking {
		t.Fatalf("unexpected event %+v", seen[2])
	}
}

func TestMachineSilentCycle(t *testing.T) {
	m := NewMachine()
	if err := m.Transition(StateThinking, "console"); err != nil {
		t.Fatalf("idle -> thinking: %v", err)
	}
	if err := m.Transition(StateIdle, "printed"); err != nil {
		t.Fatalf("thinking -> idle: %v", err)
	}
}

func TestMachineRejectsInvalidTransition(t *testing.T) {
	m := NewMachine()
	if err := m.Transition(StateListening, "start"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := m.Transition(StateSpeaking, "skip")
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.Error() != "invalid state transition from LISTENING to SPEAKING" {
		t.Fatalf("unexpected message %q", invalid.Error())
	}
	if m.State() != StateListening {
		t.Fatalf("state must not change on invalid transition")
	}
}

func TestMachineSameStateIsNoop(t *testing.T) {
	m := NewMachine()
	calls := 0
	m.AddListener(ListenerFunc(func(StateChange) { calls++ }))
	if err := m.Transition(StateIdle, "again"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no events")
	}
}

func TestMachineTimeInStateAndMetrics(t *testing.T) {
	now := time.Unix(100, 0)
	m := NewMachine().WithClock(func() time.Time { return now })
	mem := metrics.NewMemoryObserver()
	m.AddListener(MetricsListener{Observer: mem})

	_ = m.Transition(StateListening, "start")
	now = now.Add(3 * time.Second)
	if got := m.TimeInState(); got != 3*time.Second {
		t.Fatalf("expected 3s, got %s", got)
	}
	if mem.Count(metrics.EventTurnState) != 1 {
		t.Fatalf("expected one turn_state event")
	}
	if mem.Events[0].Tags["to"] != "LISTENING" {
		t.Fatalf("unexpected tags %v", mem.Events[0].Tags)
	}
}

package listener

import (
	"sync"
	"time"
)

// EchoWindow remembers when the assistant last finished speaking. Anything
// recognized before that moment plus the suppression interval is treated as
// the assistant hearing itself.
type EchoWindow struct {
	window time.Duration

	mu      sync.Mutex
	lastEnd time.Time
}

func NewEchoWindow(window time.Duration) *EchoWindow {
	if window < 0 {
		window = 0
	}
	return &EchoWindow{window: window}
}

// MarkSpeechEnd records the end of a playback.
func (e *EchoWindow) MarkSpeechEnd(at time.Time) {
	e.mu.Lock()
	e.lastEnd = at
	e.mu.Unlock()
}

func (e *EchoWindow) LastSpeechEnd() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastEnd
}

// IsEcho reports whether an utterance arriving at the given time falls
// inside the suppression window.
func (e *EchoWindow) IsEcho(arrival time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastEnd.IsZero() {
		return false
	}
	return arrival.Before(e.lastEnd.Add(e.window))
}

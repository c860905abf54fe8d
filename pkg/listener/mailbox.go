package listener

import (
	"strings"
	"sync"
	"time"
)

// Utterance is one finalized recognition and the time it arrived.
type Utterance struct {
	Text string
	At   time.Time
}

// Mailbox is a single-slot, overwrite-on-push, clear-on-poll hand-off
// between the recognizer feed and the turn loop. Only the newest unread
// utterance is kept.
type Mailbox struct {
	clock      Clock
	normalizer *Normalizer

	mu   sync.Mutex
	slot *Utterance
}

func NewMailbox(clock Clock) *Mailbox {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Mailbox{clock: clock}
}

// WithNormalizer rewrites every pushed utterance through n.
func (m *Mailbox) WithNormalizer(n *Normalizer) *Mailbox {
	m.normalizer = n
	return m
}

// Push stores text stamped with the current time, replacing any unread
// utterance. Blank text is ignored.
func (m *Mailbox) Push(text string) {
	m.PushAt(text, m.clock.Now())
}

func (m *Mailbox) PushAt(text string, at time.Time) {
	if strings.TrimSpace(text) == "" {
		return
	}
	text = m.normalizer.Apply(text)
	m.mu.Lock()
	m.slot = &Utterance{Text: text, At: at}
	m.mu.Unlock()
}

// Poll takes the pending utterance, if any, and empties the slot.
func (m *Mailbox) Poll() (Utterance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slot == nil {
		return Utterance{}, false
	}
	u := *m.slot
	m.slot = nil
	return u, true
}

// Clear drops any pending utterance.
func (m *Mailbox) Clear() {
	m.mu.Lock()
	m.slot = nil
	m.mu.Unlock()
}

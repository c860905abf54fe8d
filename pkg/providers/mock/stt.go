package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/arturo/pkg/adapters/stt"
)

// Recognizer is a scripted recognizer. Utterances pushed with Say are
// returned by NextUtterance in order, regardless of recording state.
type Recognizer struct {
	mu        sync.Mutex
	recording bool
	starts    int
	stops     int
	closed    bool
	queue     chan string
	done      chan struct{}
	startErr  error
}

func NewRecognizer() *Recognizer {
	return &Recognizer{queue: make(chan string, 64), done: make(chan struct{})}
}

func (r *Recognizer) Name() string { return "mock_stt" }

// FailStart makes the next Start calls return err.
func (r *Recognizer) FailStart(err error) {
	r.mu.Lock()
	r.startErr = err
	r.mu.Unlock()
}

func (r *Recognizer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.recording = true
	r.starts++
	return nil
}

func (r *Recognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		r.stops++
	}
	r.recording = false
	return nil
}

func (r *Recognizer) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Say queues a finalized utterance.
func (r *Recognizer) Say(text string) {
	r.queue <- text
}

func (r *Recognizer) NextUtterance(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.done:
		return "", stt.ErrClosed
	case text := <-r.queue:
		return text, nil
	}
}

func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		r.recording = false
		close(r.done)
	}
	return nil
}

// Counts returns how many times recording was started and stopped.
func (r *Recognizer) Counts() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

var _ stt.Recognizer = (*Recognizer)(nil)

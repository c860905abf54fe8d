package stt

import (
	"context"
	"errors"
)

// ErrClosed is returned by NextUtterance once the recognizer is closed.
var ErrClosed = errors.New("recognizer closed")

// Recognizer turns microphone audio into finalized utterances. Start and
// Stop may be called repeatedly; NextUtterance keeps blocking across them.
type Recognizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start begins capturing and transcribing audio.
	Start(ctx context.Context) error
	// Stop pauses capture. Buffered partial speech is discarded.
	Stop() error
	// IsRecording reports whether audio is currently being captured.
	IsRecording() bool
	// NextUtterance blocks until a finalized utterance is available.
	NextUtterance(ctx context.Context) (string, error)
	// Close releases the recognizer for good.
	Close() error
}

// Config contains vendor-agnostic recognition settings.
type Config struct {
	SampleRate int
	Language   string
}

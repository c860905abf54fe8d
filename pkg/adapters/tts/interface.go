package tts

import (
	"context"
	"os"
)

// Synthesizer renders text to a playable audio file.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize blocks until the whole utterance is rendered.
	Synthesize(ctx context.Context, text string) (Speech, error)
}

// Speech is a rendered utterance on disk.
type Speech struct {
	Path   string
	Format string
	Bytes  int
}

// Cleanup removes the audio file.
func (s Speech) Cleanup() error {
	if s.Path == "" {
		return nil
	}
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Config contains vendor-agnostic synthesis settings.
type Config struct {
	Voice  string
	Format string
}

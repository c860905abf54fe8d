package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/arturo/pkg/adapters/tts"
)

// Synthesizer records texts and returns a fake file path for each.
type Synthesizer struct {
	mu    sync.Mutex
	texts []string
	Err   error
}

func NewSynthesizer() *Synthesizer { return &Synthesizer{} }

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string) (tts.Speech, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return tts.Speech{}, s.Err
	}
	s.texts = append(s.texts, text)
	return tts.Speech{Format: "mp3", Bytes: len(text)}, nil
}

func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// Player records plays. A play stays busy until Finish or Stop is called,
// unless AutoFinish is set.
type Player struct {
	mu         sync.Mutex
	busy       bool
	plays      int
	stops      int
	AutoFinish bool
	// OnPlay runs after a play starts, outside the lock.
	OnPlay func()
}

func NewPlayer() *Player { return &Player{AutoFinish: true} }

func (p *Player) Play(ctx context.Context, path string) error {
	p.mu.Lock()
	p.plays++
	p.busy = !p.AutoFinish
	hook := p.OnPlay
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (p *Player) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy {
		p.stops++
	}
	p.busy = false
	return nil
}

// Finish ends the current play as if the audio ran out.
func (p *Player) Finish() {
	p.mu.Lock()
	p.busy = false
	p.mu.Unlock()
}

func (p *Player) Counts() (plays, stops int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays, p.stops
}

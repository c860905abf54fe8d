package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Player plays one audio file at a time.
type Player interface {
	// Play starts playback and returns without waiting for it to finish.
	Play(ctx context.Context, path string) error
	// Busy reports whether audio is still playing.
	Busy() bool
	// Stop interrupts playback.
	Stop() error
}

// FilePlaceholder is replaced with the audio path in player arguments.
const FilePlaceholder = "{file}"

var defaultPlayerArgs = []string{"-nodisp", "-autoexit", "-loglevel", "error", FilePlaceholder}

// CommandPlayer plays files through an external player, ffplay by default.
// Starting a new play stops the previous one.
type CommandPlayer struct {
	command string
	args    []string

	mu      sync.Mutex
	process *os.Process
	done    chan error
}

// NewCommandPlayer builds a player from a command line such as
// "ffplay -nodisp -autoexit {file}". An empty line uses ffplay.
func NewCommandPlayer(commandLine string) *CommandPlayer {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return &CommandPlayer{command: "ffplay", args: defaultPlayerArgs}
	}
	args := fields[1:]
	if len(args) == 0 && fields[0] == "ffplay" {
		args = defaultPlayerArgs
	}
	hasFile := false
	for _, a := range args {
		if strings.Contains(a, FilePlaceholder) {
			hasFile = true
		}
	}
	if !hasFile {
		args = append(append([]string(nil), args...), FilePlaceholder)
	}
	return &CommandPlayer{command: fields[0], args: args}
}

func (p *CommandPlayer) Play(ctx context.Context, path string) error {
	if err := p.Stop(); err != nil {
		return err
	}
	args := make([]string, len(p.args))
	for i, a := range p.args {
		args[i] = strings.ReplaceAll(a, FilePlaceholder, path)
	}
	cmd := exec.CommandContext(ctx, p.command, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player: %w", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
		close(done)
	}()
	p.mu.Lock()
	p.process = cmd.Process
	p.done = done
	p.mu.Unlock()
	return nil
}

func (p *CommandPlayer) Busy() bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		p.mu.Lock()
		if p.done == done {
			p.process = nil
			p.done = nil
		}
		p.mu.Unlock()
		return false
	default:
		return true
	}
}

func (p *CommandPlayer) Stop() error {
	p.mu.Lock()
	proc, done := p.process, p.done
	p.process, p.done = nil, nil
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}
	err := stopProcess(proc, done, 300*time.Millisecond)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Wait blocks until playback ends or ctx is done, polling Busy every
// interval.
func Wait(ctx context.Context, p Player, interval time.Duration) error {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for p.Busy() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

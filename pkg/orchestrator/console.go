package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// Console is the text surface: typed input in silent mode and the printed
// transcript in both modes. Input lines are read on a background goroutine
// so a pending read never blocks shutdown.
type Console struct {
	out   io.Writer
	lines chan string

	user   *color.Color
	answer *color.Color
	info   *color.Color

	mu sync.Mutex
}

func NewConsole(in io.Reader, out io.Writer) *Console {
	c := &Console{
		out:    out,
		lines:  make(chan string),
		user:   color.New(color.FgCyan, color.Bold),
		answer: color.New(color.FgYellow),
		info:   color.New(color.Faint),
	}
	go c.scan(in)
	return c
}

func (c *Console) scan(in io.Reader) {
	defer close(c.lines)
	if in == nil {
		return
	}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
}

// ReadLine prints prompt and waits for one line. It returns io.EOF once the
// input is exhausted.
func (c *Console) ReadLine(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	_, _ = c.user.Fprint(c.out, prompt)
	c.mu.Unlock()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

// User echoes a recognized utterance.
func (c *Console) User(label, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.user.Fprintf(c.out, "%s: ", label)
	_, _ = fmt.Fprintln(c.out, text)
}

// Answer prints an assistant reply.
func (c *Console) Answer(name, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.answer.Fprintf(c.out, "%s: %s\n", name, text)
}

func (c *Console) Info(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.info.Fprintln(c.out, text)
}

package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/arturo/pkg/errorsx"
	"github.com/harunnryd/arturo/pkg/llm"
	"github.com/harunnryd/arturo/pkg/logging"
	"github.com/harunnryd/arturo/pkg/metrics"
)

var (
	ErrToolNotFound = errors.New("tool not found")
	ErrToolTimeout  = errors.New("tool timeout")
)

// Handler executes one tool call and returns its textual result.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Definition pairs the schema shown to the model with its handler.
type Definition struct {
	Tool    llm.Tool
	Handler Handler
}

type Options struct {
	// Timeout bounds one invocation. Zero disables it.
	Timeout  time.Duration
	Logger   *slog.Logger
	Observer metrics.Observer
}

// Registry is a static name -> handler table built at startup. It is not
// safe to Register concurrently with Invoke.
type Registry struct {
	order   []string
	entries map[string]Definition
	opts    Options
	log     *slog.Logger
}

func NewRegistry(opts Options) *Registry {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Registry{
		entries: make(map[string]Definition),
		opts:    opts,
		log:     logging.NewComponentLogger(log, "tools"),
	}
}

func (r *Registry) Register(def Definition) error {
	name := strings.TrimSpace(def.Tool.Name)
	if name == "" {
		return errors.New("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", name)
	}
	if _, dup := r.entries[name]; dup {
		return fmt.Errorf("tool %s: already registered", name)
	}
	def.Tool.Name = name
	r.entries[name] = def
	r.order = append(r.order, name)
	return nil
}

// MustRegister panics on registration errors. Intended for startup tables.
func (r *Registry) MustRegister(defs ...Definition) {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
}

// Validate fails when any of the named tools has no handler.
func (r *Registry) Validate(names ...string) error {
	var missing []string
	for _, name := range names {
		if _, ok := r.entries[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("tools without handler: %s", strings.Join(missing, ", "))
}

// Tools returns schemas in registration order.
func (r *Registry) Tools() []llm.Tool {
	out := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].Tool)
	}
	return out
}

func (r *Registry) HandleTool(ctx context.Context, name string, args map[string]any) (string, error) {
	return r.Invoke(ctx, name, args)
}

// Invoke runs the named tool. Handler panics are converted to errors.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	def, ok := r.entries[name]
	if !ok {
		r.record(metrics.EventToolFailed, name, errorsx.ReasonToolNotFound)
		return "", errorsx.Errorf(errorsx.ReasonToolNotFound, "%w: %s", ErrToolNotFound, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	start := time.Now()
	result, err := r.callWithTimeout(ctx, def.Handler, args)
	metrics.Since(r.opts.Observer, metrics.EventToolLatency, start, map[string]string{"tool": name})
	if err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonToolExec)
		r.log.Warn("tool_failed", "tool_name", name, "reason", errorsx.Reason(err), "error", err)
		r.record(metrics.EventToolFailed, name, errorsx.Reason(err))
		return "", err
	}
	r.log.Info("tool_invoked", "tool_name", name, "duration_ms", time.Since(start).Milliseconds())
	r.record(metrics.EventToolInvoked, name, "")
	return result, nil
}

func (r *Registry) callWithTimeout(ctx context.Context, h Handler, args map[string]any) (string, error) {
	if r.opts.Timeout <= 0 {
		return safeCall(ctx, h, args)
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		text, err := safeCall(ctx, h, args)
		ch <- result{text: text, err: err}
	}()
	select {
	case out := <-ch:
		return out.text, out.err
	case <-ctx.Done():
		return "", ErrToolTimeout
	}
}

func safeCall(ctx context.Context, h Handler, args map[string]any) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()
	return h(ctx, args)
}

func (r *Registry) record(name, tool string, reason errorsx.ReasonCode) {
	tags := map[string]string{"tool": tool}
	if reason != "" {
		tags["reason"] = string(reason)
	}
	metrics.Record(r.opts.Observer, name, 1, tags)
}

var _ llm.ToolRegistry = (*Registry)(nil)

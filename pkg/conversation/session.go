package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/arturo/pkg/errorsx"
	"github.com/harunnryd/arturo/pkg/llm"
	"github.com/harunnryd/arturo/pkg/logging"
	"github.com/harunnryd/arturo/pkg/redact"
)

var ErrTooManyToolCalls = errors.New("too many tool calls this turn")

const (
	DefaultMaxToolCalls = 8
	DefaultApology      = "Sorry, I couldn't reach my language model just now. Please try again."
)

type Config struct {
	SystemPrompt string
	// MaxToolCalls bounds the tool round trips of a single Ask.
	MaxToolCalls int
	// ApologyText is returned when the backend call fails.
	ApologyText string
}

type Options struct {
	Logger *slog.Logger
	// NewCallID generates correlation ids for tool calls the backend left
	// unnamed. Defaults to random UUIDs.
	NewCallID func() string
}

// Session owns the append-only message history of one assistant process and
// runs the ask / call tool / ask again loop.
type Session struct {
	id      string
	adapter llm.LLMAdapter
	tools   llm.ToolRegistry
	cfg     Config
	log     *slog.Logger
	newID   func() string

	mu      sync.Mutex
	history []llm.Message
}

func NewSession(adapter llm.LLMAdapter, tools llm.ToolRegistry, cfg Config, opts Options) *Session {
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = DefaultMaxToolCalls
	}
	if strings.TrimSpace(cfg.ApologyText) == "" {
		cfg.ApologyText = DefaultApology
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	newID := opts.NewCallID
	if newID == nil {
		newID = uuid.NewString
	}
	id := uuid.NewString()
	return &Session{
		id:      id,
		adapter: adapter,
		tools:   tools,
		cfg:     cfg,
		log:     logging.NewComponentLogger(log, "conversation").With("session_id", id),
		newID:   newID,
	}
}

func (s *Session) ID() string { return s.id }

// History returns a copy of the messages recorded so far.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Ask records question, drives the backend until it produces a text answer
// and returns that answer. Backend failures become the apology text; tool
// failures are fed back to the backend as results. Ask never returns an
// error.
func (s *Session) Ask(ctx context.Context, question string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	s.history = append(s.history, llm.Message{Role: llm.RoleUser, Text: question})
	s.log.Info("ask_started", "question", redact.Text(question))

	var tools []llm.Tool
	if s.tools != nil {
		tools = s.tools.Tools()
	}
	calls := 0
	for {
		resp, err := s.adapter.Generate(ctx, llm.Context{
			System:   s.cfg.SystemPrompt,
			Messages: s.snapshot(),
			Tools:    tools,
		})
		if err != nil {
			err = errorsx.Wrap(err, errorsx.ReasonLLMGenerate)
			s.log.Error("ask_failed", "provider", s.adapter.Name(), "reason", errorsx.Reason(err), "error", err)
			return s.answer(s.cfg.ApologyText)
		}
		if !resp.WantsTool() {
			s.log.Info("ask_completed", "tool_calls", calls, "duration_ms", time.Since(start).Milliseconds())
			return s.answer(resp.Text)
		}
		if calls >= s.cfg.MaxToolCalls {
			err := errorsx.Wrap(ErrTooManyToolCalls, errorsx.ReasonLLMToolLoop)
			s.log.Warn("ask_tool_loop", "tool_calls", calls, "error", err)
			return s.answer(fmt.Sprintf("Sorry, I stopped: %v.", err))
		}
		calls++

		if len(resp.ToolCalls) > 1 {
			s.log.Debug("ask_extra_tool_calls_ignored", "count", len(resp.ToolCalls)-1)
		}
		call := resp.ToolCalls[0]
		if call.ID == "" {
			call.ID = s.newID()
		}
		if call.Arguments == nil {
			call.Arguments = map[string]any{}
		}
		s.history = append(s.history, llm.Message{Role: llm.RoleAssistant, ToolCall: &call})
		result := s.invoke(ctx, call)
		s.history = append(s.history, llm.Message{
			Role:       llm.RoleTool,
			ToolResult: &llm.ToolResult{CallID: call.ID, Name: call.Name, Content: result},
		})
	}
}

func (s *Session) invoke(ctx context.Context, call llm.ToolCall) string {
	if s.tools == nil {
		return fmt.Sprintf("Error: function %s not found.", call.Name)
	}
	s.log.Info("tool_requested", "tool_name", call.Name, "call_id", call.ID)
	result, err := s.tools.HandleTool(ctx, call.Name, call.Arguments)
	if err != nil {
		if errorsx.HasReason(err, errorsx.ReasonToolNotFound) {
			return fmt.Sprintf("Error: function %s not found.", call.Name)
		}
		return fmt.Sprintf("Error executing function %s: %v", call.Name, err)
	}
	return result
}

func (s *Session) answer(text string) string {
	s.history = append(s.history, llm.Message{Role: llm.RoleAssistant, Text: text})
	return text
}

func (s *Session) snapshot() []llm.Message {
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

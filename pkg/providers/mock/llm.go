package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/harunnryd/arturo/pkg/llm"
)

// Step is one scripted backend reply.
type Step struct {
	Response llm.Response
	Err      error
}

// LLMAdapter replays scripted steps and records every request. When the
// script runs out it answers with ResponseText.
type LLMAdapter struct {
	cfg LLMConfig

	mu     sync.Mutex
	steps  []Step
	inputs []llm.Context
}

type LLMConfig struct {
	ResponseText string
	Steps        []Step
}

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	if cfg.ResponseText == "" {
		cfg.ResponseText = "mock response"
	}
	return &LLMAdapter{cfg: cfg, steps: append([]Step(nil), cfg.Steps...)}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	msgs := make([]llm.Message, len(input.Messages))
	copy(msgs, input.Messages)
	input.Messages = msgs
	a.inputs = append(a.inputs, input)
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	if len(a.steps) == 0 {
		return llm.Response{Text: a.cfg.ResponseText}, nil
	}
	step := a.steps[0]
	a.steps = a.steps[1:]
	return step.Response, step.Err
}

// Push appends steps to the script.
func (a *LLMAdapter) Push(steps ...Step) {
	a.mu.Lock()
	a.steps = append(a.steps, steps...)
	a.mu.Unlock()
}

// Inputs returns the requests seen so far.
func (a *LLMAdapter) Inputs() []llm.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Context(nil), a.inputs...)
}

func (a *LLMAdapter) MapTools(tools []llm.Tool) (any, error) {
	return tools, nil
}

func (a *LLMAdapter) ToProviderFormat(ctx llm.Context) (any, error) {
	return ctx, nil
}

func (a *LLMAdapter) FromProviderFormat(raw any) (llm.Response, error) {
	resp, ok := raw.(llm.Response)
	if !ok {
		return llm.Response{}, errors.New("mock: unexpected provider payload")
	}
	return resp, nil
}

// Text scripts a terminal answer.
func Text(s string) Step { return Step{Response: llm.Response{Text: s}} }

// Call scripts a tool request.
func Call(name string, args map[string]any) Step {
	return Step{Response: llm.Response{ToolCalls: []llm.ToolCall{{Name: name, Arguments: args}}}}
}

// Fail scripts a backend error.
func Fail(err error) Step { return Step{Err: err} }

var _ llm.LLMAdapter = (*LLMAdapter)(nil)

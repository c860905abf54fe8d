package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/arturo/pkg/httpc"
	"github.com/harunnryd/arturo/pkg/llm"
	"github.com/harunnryd/arturo/pkg/resilience"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

type Settings struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type Adapter struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	Client      *http.Client
}

func NewAdapter(s Settings) *Adapter {
	a := &Adapter{
		APIKey:      s.APIKey,
		Model:       s.Model,
		BaseURL:     strings.TrimRight(s.BaseURL, "/"),
		Temperature: s.Temperature,
		Client:      httpc.NewClient(s.Timeout),
	}
	if a.Model == "" {
		a.Model = DefaultModel
	}
	if a.BaseURL == "" {
		a.BaseURL = DefaultBaseURL
	}
	return a
}

func (a *Adapter) Name() string { return "openai" }

func (a *Adapter) MapTools(tools []llm.Tool) (any, error) {
	var out []map[string]any
	for _, t := range tools {
		if t.Name == "" {
			return nil, errors.New("openai: tool without name")
		}
		params := t.Schema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		})
	}
	return out, nil
}

// ToProviderFormat renders the chat-completions message list.
func (a *Adapter) ToProviderFormat(ctx llm.Context) (any, error) {
	out := make([]map[string]any, 0, len(ctx.Messages)+1)
	if ctx.System != "" {
		out = append(out, map[string]any{"role": "system", "content": ctx.System})
	}
	for _, m := range ctx.Messages {
		switch m.Role {
		case llm.RoleSystem, llm.RoleUser:
			out = append(out, map[string]any{"role": string(m.Role), "content": m.Text})
		case llm.RoleAssistant:
			if m.ToolCall == nil {
				out = append(out, map[string]any{"role": "assistant", "content": m.Text})
				continue
			}
			args, err := json.Marshal(nonNilArgs(m.ToolCall.Arguments))
			if err != nil {
				return nil, fmt.Errorf("openai: encode arguments for %s: %w", m.ToolCall.Name, err)
			}
			out = append(out, map[string]any{
				"role":    "assistant",
				"content": nil,
				"tool_calls": []map[string]any{{
					"id":   m.ToolCall.ID,
					"type": "function",
					"function": map[string]any{
						"name":      m.ToolCall.Name,
						"arguments": string(args),
					},
				}},
			})
		case llm.RoleTool:
			if m.ToolResult == nil {
				return nil, errors.New("openai: tool message without result")
			}
			out = append(out, map[string]any{
				"role":         "tool",
				"tool_call_id": m.ToolResult.CallID,
				"content":      m.ToolResult.Content,
			})
		default:
			return nil, fmt.Errorf("openai: unknown role %q", m.Role)
		}
	}
	return out, nil
}

func (a *Adapter) FromProviderFormat(raw any) (llm.Response, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return llm.Response{}, errors.New("invalid response")
	}
	choices, _ := m["choices"].([]any)
	if len(choices) == 0 {
		return llm.Response{}, errors.New("no choices")
	}
	first, _ := choices[0].(map[string]any)
	msg, _ := first["message"].(map[string]any)
	content, _ := msg["content"].(string)
	resp := llm.Response{Text: strings.TrimSpace(content)}
	if reason, _ := first["finish_reason"].(string); reason != "" {
		resp.FinishReason = reason
	}
	if usage, ok := m["usage"].(map[string]any); ok {
		resp.Usage = llm.Usage{
			PromptTokens:     intValue(usage["prompt_tokens"]),
			CompletionTokens: intValue(usage["completion_tokens"]),
			TotalTokens:      intValue(usage["total_tokens"]),
		}
	}
	if tc, ok := msg["tool_calls"].([]any); ok {
		for _, item := range tc {
			call, _ := item.(map[string]any)
			fn, _ := call["function"].(map[string]any)
			argsRaw, _ := fn["arguments"].(string)
			args := map[string]any{}
			if strings.TrimSpace(argsRaw) != "" {
				if err := json.Unmarshal([]byte(argsRaw), &args); err != nil {
					return llm.Response{}, fmt.Errorf("openai: decode arguments: %w", err)
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:        stringValue(call["id"]),
				Name:      stringValue(fn["name"]),
				Arguments: args,
			})
		}
	}
	return resp, nil
}

func (a *Adapter) Generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	body, err := a.buildRequest(input)
	if err != nil {
		return llm.Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", body)
	if err != nil {
		return llm.Response{}, err
	}
	a.applyHeaders(req)
	resp, err := a.client().Do(req)
	if err != nil {
		return llm.Response{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(resp.Body)
		return llm.Response{}, resilience.RateLimitError{Provider: "openai", Message: string(body)}
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		body, _ := io.ReadAll(resp.Body)
		return llm.Response{}, llm.PermanentError{Provider: "openai", Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return llm.Response{}, fmt.Errorf("openai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return llm.Response{}, err
	}
	return a.FromProviderFormat(payload)
}

func (a *Adapter) buildRequest(input llm.Context) (*bytes.Buffer, error) {
	messages, err := a.ToProviderFormat(input)
	if err != nil {
		return nil, err
	}
	req := map[string]any{
		"model":    a.Model,
		"messages": messages,
	}
	if a.Temperature > 0 {
		req["temperature"] = a.Temperature
	}
	if len(input.Tools) > 0 {
		tools, err := a.MapTools(input.Tools)
		if err != nil {
			return nil, err
		}
		req["tools"] = tools
		req["tool_choice"] = "auto"
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func (a *Adapter) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.APIKey)
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

func nonNilArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func intValue(v any) int {
	f, _ := v.(float64)
	return int(f)
}

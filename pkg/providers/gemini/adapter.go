package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/harunnryd/arturo/pkg/llm"
	"github.com/harunnryd/arturo/pkg/resilience"
)

const DefaultModel = "gemini-2.0-flash"

// Generator is the subset of *genai.Models the adapter calls.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Settings struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
}

type Adapter struct {
	models      Generator
	model       string
	temperature float64
}

// NewAdapter connects to the Gemini API with an API key.
func NewAdapter(ctx context.Context, s Settings) (*Adapter, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, errors.New("gemini: api_key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return NewWithGenerator(client.Models, s), nil
}

// NewWithGenerator builds an adapter on top of an existing generator.
func NewWithGenerator(g Generator, s Settings) *Adapter {
	model := strings.TrimSpace(s.Model)
	if model == "" {
		model = DefaultModel
	}
	return &Adapter{models: g, model: model, temperature: s.Temperature}
}

func (a *Adapter) Name() string { return "gemini" }

func (a *Adapter) MapTools(tools []llm.Tool) (any, error) {
	if len(tools) == 0 {
		return []*genai.Tool(nil), nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		if t.Name == "" {
			return nil, errors.New("gemini: tool without name")
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.Schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

// ToProviderFormat maps history onto alternating user/model contents. Tool
// results travel as user function responses; consecutive parts with the same
// role are merged into one content.
func (a *Adapter) ToProviderFormat(ctx llm.Context) (any, error) {
	var out []*genai.Content
	appendPart := func(role genai.Role, part *genai.Part) {
		if n := len(out); n > 0 && out[n-1].Role == string(role) {
			out[n-1].Parts = append(out[n-1].Parts, part)
			return
		}
		out = append(out, genai.NewContentFromParts([]*genai.Part{part}, role))
	}
	for _, m := range ctx.Messages {
		switch m.Role {
		case llm.RoleSystem:
			// carried by SystemInstruction
		case llm.RoleUser:
			appendPart(genai.RoleUser, genai.NewPartFromText(m.Text))
		case llm.RoleAssistant:
			if m.ToolCall != nil {
				appendPart(genai.RoleModel, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   m.ToolCall.ID,
					Name: m.ToolCall.Name,
					Args: m.ToolCall.Arguments,
				}})
				continue
			}
			appendPart(genai.RoleModel, genai.NewPartFromText(m.Text))
		case llm.RoleTool:
			if m.ToolResult == nil {
				return nil, fmt.Errorf("gemini: tool message without result")
			}
			appendPart(genai.RoleUser, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolResult.CallID,
				Name:     m.ToolResult.Name,
				Response: map[string]any{"result": m.ToolResult.Content},
			}})
		default:
			return nil, fmt.Errorf("gemini: unknown role %q", m.Role)
		}
	}
	return out, nil
}

func (a *Adapter) FromProviderFormat(raw any) (llm.Response, error) {
	resp, ok := raw.(*genai.GenerateContentResponse)
	if !ok || resp == nil {
		return llm.Response{}, errors.New("gemini: invalid response")
	}
	if len(resp.Candidates) == 0 {
		return llm.Response{}, errors.New("gemini: no candidates")
	}
	out := llm.Response{}
	if reason := resp.Candidates[0].FinishReason; reason != "" {
		out.FinishReason = string(reason)
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	for _, fc := range resp.FunctionCalls() {
		if fc == nil {
			continue
		}
		args := fc.Args
		if args == nil {
			args = map[string]any{}
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: fc.ID, Name: fc.Name, Arguments: args})
	}
	if !out.WantsTool() {
		out.Text = strings.TrimSpace(resp.Text())
	}
	return out, nil
}

func (a *Adapter) Generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	rawContents, err := a.ToProviderFormat(input)
	if err != nil {
		return llm.Response{}, err
	}
	contents := rawContents.([]*genai.Content)
	cfg := &genai.GenerateContentConfig{}
	if input.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(input.System, genai.RoleUser)
	}
	if a.temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(a.temperature))
	}
	if len(input.Tools) > 0 {
		tools, err := a.MapTools(input.Tools)
		if err != nil {
			return llm.Response{}, err
		}
		cfg.Tools = tools.([]*genai.Tool)
	}
	resp, err := a.models.GenerateContent(ctx, a.model, contents, cfg)
	if err != nil {
		return llm.Response{}, classify(err)
	}
	return a.FromProviderFormat(resp)
}

func classify(err error) error {
	code, msg, ok := apiError(err)
	if !ok {
		return err
	}
	switch {
	case code == http.StatusTooManyRequests:
		return resilience.RateLimitError{Provider: "gemini", Message: msg}
	case code >= 400 && code < 500:
		return llm.PermanentError{Provider: "gemini", Status: code, Message: msg}
	}
	return err
}

func apiError(err error) (int, string, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v.Code, v.Message, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return p.Code, p.Message, true
	}
	return 0, "", false
}

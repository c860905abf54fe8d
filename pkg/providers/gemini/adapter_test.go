package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/harunnryd/arturo/pkg/llm"
	"github.com/harunnryd/arturo/pkg/resilience"
)

type fakeGenerator struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	resp     *genai.GenerateContentResponse
	err      error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Role: string(genai.RoleModel), Parts: []*genai.Part{{Text: text}}},
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 4, TotalTokenCount: 14},
	}
}

func TestToProviderFormatAlternatesRoles(t *testing.T) {
	a := NewWithGenerator(&fakeGenerator{}, Settings{})
	raw, err := a.ToProviderFormat(llm.Context{Messages: []llm.Message{
		{Role: llm.RoleSystem, Text: "ignored"},
		{Role: llm.RoleUser, Text: "slice 1"},
		{Role: llm.RoleAssistant, ToolCall: &llm.ToolCall{ID: "c1", Name: "slice_model", Arguments: map[string]any{"stl_file_path": "1"}}},
		{Role: llm.RoleTool, ToolResult: &llm.ToolResult{CallID: "c1", Name: "slice_model", Content: `{"status":"success"}`}},
		{Role: llm.RoleUser, Text: "thanks"},
		{Role: llm.RoleAssistant, Text: "done"},
	}})
	require.NoError(t, err)
	contents := raw.([]*genai.Content)
	require.Len(t, contents, 4)

	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, "slice 1", contents[0].Parts[0].Text)

	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	assert.Equal(t, "slice_model", contents[1].Parts[0].FunctionCall.Name)

	// function response and the follow-up question share one user content
	assert.Equal(t, string(genai.RoleUser), contents[2].Role)
	require.Len(t, contents[2].Parts, 2)
	require.NotNil(t, contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, map[string]any{"result": `{"status":"success"}`}, contents[2].Parts[0].FunctionResponse.Response)
	assert.Equal(t, "thanks", contents[2].Parts[1].Text)

	assert.Equal(t, string(genai.RoleModel), contents[3].Role)
}

func TestToProviderFormatRejectsToolWithoutResult(t *testing.T) {
	a := NewWithGenerator(&fakeGenerator{}, Settings{})
	_, err := a.ToProviderFormat(llm.Context{Messages: []llm.Message{{Role: llm.RoleTool}}})
	require.Error(t, err)
}

func TestGenerateReturnsText(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse(" Sliced. ")}
	a := NewWithGenerator(gen, Settings{Temperature: 0.2})
	resp, err := a.Generate(context.Background(), llm.Context{
		System:   "You are Arturo.",
		Messages: []llm.Message{{Role: llm.RoleUser, Text: "hi"}},
		Tools:    []llm.Tool{{Name: "list_stl_files", Schema: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Sliced.", resp.Text)
	assert.False(t, resp.WantsTool())
	assert.Equal(t, 14, resp.Usage.TotalTokens)

	assert.Equal(t, DefaultModel, gen.model)
	require.NotNil(t, gen.config.SystemInstruction)
	assert.Equal(t, "You are Arturo.", gen.config.SystemInstruction.Parts[0].Text)
	require.Len(t, gen.config.Tools, 1)
	assert.Equal(t, "list_stl_files", gen.config.Tools[0].FunctionDeclarations[0].Name)
	require.NotNil(t, gen.config.Temperature)
}

func TestGenerateReturnsFunctionCall(t *testing.T) {
	gen := &fakeGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{
			Role: string(genai.RoleModel),
			Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{
				Name: "toggle_silent_mode",
			}}},
		}}},
	}}
	a := NewWithGenerator(gen, Settings{Model: "gemini-test"})
	resp, err := a.Generate(context.Background(), llm.Context{Messages: []llm.Message{{Role: llm.RoleUser, Text: "be quiet"}}})
	require.NoError(t, err)
	require.True(t, resp.WantsTool())
	assert.Equal(t, "toggle_silent_mode", resp.ToolCalls[0].Name)
	assert.NotNil(t, resp.ToolCalls[0].Arguments)
	assert.Equal(t, "gemini-test", gen.model)
}

func TestGenerateClassifiesAPIErrors(t *testing.T) {
	gen := &fakeGenerator{err: genai.APIError{Code: 429, Message: "quota"}}
	a := NewWithGenerator(gen, Settings{})
	_, err := a.Generate(context.Background(), llm.Context{})
	assert.True(t, resilience.IsRateLimit(err))

	gen.err = genai.APIError{Code: 400, Message: "bad key"}
	_, err = a.Generate(context.Background(), llm.Context{})
	var perm llm.PermanentError
	require.True(t, errors.As(err, &perm))
	assert.Equal(t, 400, perm.Status)
	assert.False(t, llm.DefaultIsRetryable(err))

	gen.err = errors.New("network")
	_, err = a.Generate(context.Background(), llm.Context{})
	assert.EqualError(t, err, "network")
}

func TestFromProviderFormatRejectsEmpty(t *testing.T) {
	a := NewWithGenerator(&fakeGenerator{}, Settings{})
	_, err := a.FromProviderFormat(&genai.GenerateContentResponse{})
	require.Error(t, err)
	_, err = a.FromProviderFormat("nope")
	require.Error(t, err)
}

package llm

import "context"

// Role tags a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Tool describes one callable operation exposed to the model. Schema is a
// JSON-Schema object describing the arguments.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Message is one entry of the conversation history. Exactly one of Text,
// ToolCall or ToolResult is meaningful, depending on Role:
//
//	user, assistant text   -> Text
//	assistant tool request -> ToolCall
//	tool                   -> ToolResult
type Message struct {
	Role       Role
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// IsToolRequest reports whether m is an assistant tool request.
func (m Message) IsToolRequest() bool {
	return m.Role == RoleAssistant && m.ToolCall != nil
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

type ToolResult struct {
	CallID  string
	Name    string
	Content string
}

// Context is everything sent to the backend for one generation.
type Context struct {
	System   string
	Messages []Message
	Tools    []Tool
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Response struct {
	Text         string
	Usage        Usage
	FinishReason string
	ToolCalls    []ToolCall
}

// WantsTool reports whether the response asks for a tool instead of
// terminating the turn.
func (r Response) WantsTool() bool {
	return len(r.ToolCalls) > 0
}

// LLMAdapter is the model backend boundary. Adapters never execute tools
// themselves; tool requests are returned to the caller.
type LLMAdapter interface {
	Generate(ctx context.Context, input Context) (Response, error)
	MapTools(tools []Tool) (providerTools any, err error)
	ToProviderFormat(ctx Context) (any, error)
	FromProviderFormat(raw any) (Response, error)
	Name() string
}

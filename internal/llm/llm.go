// Package llm abstracts the model providers behind one completion client.
// Providers translate the generic request into their SDK's wire types and
// map tool calls and usage back.
package llm

import "context"

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Stop reasons normalized across providers.
const (
	StopEndTurn = "end_turn"
	StopToolUse = "tool_use"
)

// SystemBlock is one block of system prompt. Cache marks it as a prompt
// cache boundary on providers that support explicit caching.
type SystemBlock struct {
	Text  string
	Cache bool
}

// ToolSpec advertises a callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult feeds a tool outcome back to the model.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Message is one conversation turn. Assistant turns may carry ToolCalls;
// tool turns carry ToolResults.
type Message struct {
	Role        Role
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// Request is a provider-independent completion request.
type Request struct {
	System      []SystemBlock
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float64
}

// Usage is the token consumption of one completion.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// TotalTokens returns input plus output tokens.
func (u Usage) TotalTokens() int64 { return u.InputTokens + u.OutputTokens }

// Response is a provider-independent completion response.
type Response struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
}

// Client completes conversations against one concrete model.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Model() string
}

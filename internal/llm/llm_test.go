package llm

import (
	"encoding/json"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractary/faber/internal/errors"
)

func TestParseModelSpec(t *testing.T) {
	tests := []struct {
		spec     string
		provider string
		model    string
	}{
		{"anthropic:claude-sonnet-4-20250514", "anthropic", "claude-sonnet-4-20250514"},
		{"openai:gpt-4o", "openai", "gpt-4o"},
		{"OpenAI:gpt-4o-mini", "openai", "gpt-4o-mini"},
		{"claude-3-5-haiku-20241022", "anthropic", "claude-3-5-haiku-20241022"},
	}
	for _, tt := range tests {
		provider, model := ParseModelSpec(tt.spec)
		assert.Equal(t, tt.provider, provider, tt.spec)
		assert.Equal(t, tt.model, model, tt.spec)
	}
}

func TestNewUnsupportedProvider(t *testing.T) {
	_, err := New("google:gemini-2.0-flash")
	var fe *errors.FaberError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, errors.CodeProviderUnsupported, fe.Code)
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := New("anthropic:claude-sonnet-4-20250514")
	assert.Error(t, err)

	t.Setenv("OPENAI_API_KEY", "")
	_, err = New("openai:gpt-4o")
	assert.Error(t, err)
}

func TestEncodeOpenAIMessages(t *testing.T) {
	req := &Request{
		System: []SystemBlock{
			{Text: "You are the build agent.", Cache: false},
			{Text: "## Repository context", Cache: true},
		},
		Messages: []Message{
			{Role: RoleUser, Content: "fix the bug"},
			{Role: RoleAssistant, Content: "checking", ToolCalls: []ToolCall{
				{ID: "call_1", Name: "run_tests", Input: map[string]any{"path": "./..."}},
			}},
			{Role: RoleTool, ToolResults: []ToolResult{
				{ToolCallID: "call_1", Content: `{"status":"success"}`},
			}},
		},
	}
	messages, err := encodeOpenAIMessages(req)
	require.NoError(t, err)
	require.Len(t, messages, 4)

	assert.Equal(t, openai.ChatMessageRoleSystem, messages[0].Role)
	assert.Contains(t, messages[0].Content, "build agent")
	assert.Contains(t, messages[0].Content, "Repository context")

	assert.Equal(t, openai.ChatMessageRoleUser, messages[1].Role)

	require.Len(t, messages[2].ToolCalls, 1)
	assert.Equal(t, "run_tests", messages[2].ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"path":"./..."}`, messages[2].ToolCalls[0].Function.Arguments)

	assert.Equal(t, openai.ChatMessageRoleTool, messages[3].Role)
	assert.Equal(t, "call_1", messages[3].ToolCallID)
}

func TestEncodeOpenAITools(t *testing.T) {
	tools, err := encodeOpenAITools([]ToolSpec{{
		Name:        "create_branch",
		Description: "Create a working branch",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"name": map[string]any{"type": "string"}},
		},
	}})
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, openai.ToolTypeFunction, tools[0].Type)
	assert.Equal(t, "create_branch", tools[0].Function.Name)

	raw, ok := tools[0].Function.Parameters.(json.RawMessage)
	require.True(t, ok)
	assert.Contains(t, string(raw), `"type":"object"`)
}

func TestTranslateOpenAIResponse(t *testing.T) {
	resp := openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: "GO",
				ToolCalls: []openai.ToolCall{{
					ID:   "call_9",
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      "comment_on_issue",
						Arguments: `{"body":"done"}`,
					},
				}},
			},
			FinishReason: openai.FinishReasonToolCalls,
		}},
		Usage: openai.Usage{PromptTokens: 120, CompletionTokens: 30},
	}
	out, err := translateOpenAIResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, "GO", out.Content)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "comment_on_issue", out.ToolCalls[0].Name)
	assert.Equal(t, "done", out.ToolCalls[0].Input["body"])
	assert.Equal(t, int64(150), out.Usage.TotalTokens())
}

func TestTranslateOpenAIResponseBadArguments(t *testing.T) {
	resp := openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				ToolCalls: []openai.ToolCall{{
					Function: openai.FunctionCall{Name: "x", Arguments: "{broken"},
				}},
			},
		}},
	}
	_, err := translateOpenAIResponse(resp)
	assert.Error(t, err)
}

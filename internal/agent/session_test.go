package agent

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractary/faber/internal/definition"
	"github.com/fractary/faber/internal/errors"
	"github.com/fractary/faber/internal/llm"
	"github.com/fractary/faber/internal/tool"
)

// fakeClient replays scripted responses.
type fakeClient struct {
	mu        sync.Mutex
	responses []*llm.Response
	requests  []*llm.Request
}

func (f *fakeClient) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *req
	cp.Messages = append([]llm.Message(nil), req.Messages...)
	f.requests = append(f.requests, &cp)
	if len(f.responses) == 0 {
		return &llm.Response{Content: "done", StopReason: llm.StopEndTurn}, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeClient) Model() string { return "claude-sonnet-4-20250514" }

func testAgent() *definition.Agent {
	return &definition.Agent{
		Name:        "build-agent",
		Description: "implements solutions",
		LLM: definition.LLMConfig{
			Provider:  definition.ProviderAnthropic,
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 4096,
		},
		Prompt: "You are the build agent.",
		CustomTools: []definition.Tool{{
			Name:        "record_note",
			Description: "Record a note",
			Parameters: map[string]definition.Parameter{
				"text": {Type: "string", Required: true},
			},
			Implementation: definition.Implementation{
				Type:     definition.ImplementationFunction,
				Module:   "faber.tools.test",
				Function: "record_note",
			},
		}},
	}
}

func testSession(t *testing.T, client llm.Client, opts ...SessionOption) (*Session, *[]string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var notes []string
	var mu sync.Mutex
	executor := tool.NewExecutor(tool.WithLogger(logger))
	executor.RegisterModule("faber.tools.test", map[string]tool.Function{
		"record_note": func(_ context.Context, params map[string]any) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			notes = append(notes, params["text"].(string))
			return map[string]any{"recorded": true}, nil
		},
	})

	registry, err := definition.NewRegistry(t.TempDir(), logger)
	require.NoError(t, err)

	opts = append([]SessionOption{WithSessionLogger(logger)}, opts...)
	return NewSession(testAgent(), client, registry, executor, opts...), &notes
}

func TestRunToolLoop(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{
		{
			ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "record_note", Input: map[string]any{"text": "first"}},
				{ID: "c2", Name: "record_note", Input: map[string]any{"text": "second"}},
			},
			StopReason: llm.StopToolUse,
		},
		{Content: "All notes recorded.", StopReason: llm.StopEndTurn},
	}}

	var usages []llm.Usage
	session, notes := testSession(t, client, WithUsageFunc(func(_ string, u llm.Usage) {
		usages = append(usages, u)
	}))

	result, err := session.Run(context.Background(), t.TempDir(), "record two notes")
	require.NoError(t, err)

	assert.Equal(t, "All notes recorded.", result.Text)
	assert.Equal(t, 2, result.Iterations)
	assert.ElementsMatch(t, []string{"first", "second"}, *notes)
	assert.Len(t, usages, 2)

	// Second request must carry the assistant turn and both tool results.
	require.Len(t, client.requests, 2)
	msgs := client.requests[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
	require.Len(t, msgs[2].ToolResults, 2)
	assert.Equal(t, "c1", msgs[2].ToolResults[0].ToolCallID)
	assert.Contains(t, msgs[2].ToolResults[0].Content, "recorded")
}

func TestRunUnknownToolReturnsErrorResult(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "launch_rockets"}}},
		{Content: "could not do that"},
	}}
	session, _ := testSession(t, client)

	result, err := session.Run(context.Background(), t.TempDir(), "do something")
	require.NoError(t, err)
	assert.Equal(t, "could not do that", result.Text)

	msgs := client.requests[1].Messages
	require.Len(t, msgs[2].ToolResults, 1)
	assert.True(t, msgs[2].ToolResults[0].IsError)
	assert.Contains(t, msgs[2].ToolResults[0].Content, "launch_rockets")
}

func TestRunIterationCap(t *testing.T) {
	// The model keeps calling tools forever.
	endless := make([]*llm.Response, 5)
	for i := range endless {
		endless[i] = &llm.Response{ToolCalls: []llm.ToolCall{
			{ID: "c", Name: "record_note", Input: map[string]any{"text": "again"}},
		}}
	}
	client := &fakeClient{responses: endless}
	session, _ := testSession(t, client, WithMaxIterations(3))

	_, err := session.Run(context.Background(), t.TempDir(), "loop")
	var fe *errors.FaberError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, errors.CodeAgentLoopExceeded, fe.Code)
	assert.Len(t, client.requests, 3)
}

func TestRunSystemPromptFirst(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{{Content: "ok"}}}
	session, _ := testSession(t, client)

	_, err := session.Run(context.Background(), t.TempDir(), "task")
	require.NoError(t, err)

	system := client.requests[0].System
	require.NotEmpty(t, system)
	assert.Equal(t, "You are the build agent.", system[0].Text)
	assert.False(t, system[0].Cache)
}

func TestExtractDecision(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"structured go", `{"decision": "GO", "reason": "all criteria met"}`, "GO"},
		{"structured no-go", `{"decision": "NO-GO"}`, "NO_GO"},
		{"structured wins over prose", `{"decision": "NO_GO", "notes": "looks GOod"}`, "NO_GO"},
		{"plain go", "Evaluation complete: GO", "GO"},
		{"no-go hyphen", "Result: NO-GO, tests failing", "NO_GO"},
		{"no-go underscore", "verdict NO_GO", "NO_GO"},
		{"go inside word only", "Verdict: GOOD tests are in cateGOry order", "GO"},
		{"nothing", "still working on it", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractDecision(tt.text))
		})
	}
}

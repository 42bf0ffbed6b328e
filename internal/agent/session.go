package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/fractary/faber/internal/definition"
	"github.com/fractary/faber/internal/errors"
	"github.com/fractary/faber/internal/llm"
	"github.com/fractary/faber/internal/tool"
)

// DefaultMaxIterations bounds the tool-use loop when the caller sets none.
const DefaultMaxIterations = 50

// UsageFunc receives the token usage of every completion, attributed to the
// session's model.
type UsageFunc func(model string, usage llm.Usage)

// Result is the final outcome of one agent session.
type Result struct {
	Text       string
	Decision   string // GO | NO_GO | "" when the output carries no decision
	Iterations int
	Output     map[string]any // structured output when the final text is JSON
}

// Session drives one agent through the tool-use loop until the model stops
// calling tools or the iteration cap is hit.
type Session struct {
	agent    *definition.Agent
	client   llm.Client
	registry *definition.Registry
	executor *tool.Executor
	logger   *slog.Logger

	maxIterations int
	onUsage       UsageFunc
	onToolCall    func(name string, input map[string]any, result map[string]any, callErr error)
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithMaxIterations overrides the loop cap.
func WithMaxIterations(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

// WithUsageFunc registers a per-completion usage callback.
func WithUsageFunc(fn UsageFunc) SessionOption {
	return func(s *Session) { s.onUsage = fn }
}

// WithToolCallFunc registers a per-tool-call observer.
func WithToolCallFunc(fn func(name string, input map[string]any, result map[string]any, callErr error)) SessionOption {
	return func(s *Session) { s.onToolCall = fn }
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// NewSession wires an agent definition to a model client, the registry its
// tool names resolve against, and the executor that runs them.
func NewSession(agent *definition.Agent, client llm.Client, registry *definition.Registry, executor *tool.Executor, opts ...SessionOption) *Session {
	s := &Session{
		agent:         agent,
		client:        client,
		registry:      registry,
		executor:      executor,
		logger:        slog.Default(),
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolveTools collects the agent's registry tools and inline custom tools.
func (s *Session) resolveTools() ([]*definition.Tool, error) {
	tools := make([]*definition.Tool, 0, len(s.agent.Tools)+len(s.agent.CustomTools))
	for _, name := range s.agent.Tools {
		t, err := s.registry.GetToolOrError(name)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	for i := range s.agent.CustomTools {
		tools = append(tools, &s.agent.CustomTools[i])
	}
	return tools, nil
}

// toolSpecs converts tool definitions into the model-facing schema.
func toolSpecs(tools []*definition.Tool) []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: parameterSchema(t.Parameters),
		})
	}
	return specs
}

// parameterSchema renders tool parameters as a JSON Schema object.
func parameterSchema(params map[string]definition.Parameter) map[string]any {
	properties := make(map[string]any, len(params))
	var required []string
	for name, p := range params {
		properties[name] = parameterProperty(p)
		if p.Required {
			required = append(required, name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func parameterProperty(p definition.Parameter) map[string]any {
	prop := map[string]any{"type": p.Type}
	if p.Description != "" {
		prop["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		prop["enum"] = p.Enum
	}
	if len(p.Properties) > 0 {
		nested := make(map[string]any, len(p.Properties))
		for name, np := range p.Properties {
			nested[name] = parameterProperty(np)
		}
		prop["properties"] = nested
	}
	return prop
}

// Run executes the session: system prompt with cached context, the task as
// the first user message, then completions and tool rounds until the model
// answers without tool calls.
func (s *Session) Run(ctx context.Context, projectRoot, task string) (*Result, error) {
	tools, err := s.resolveTools()
	if err != nil {
		return nil, err
	}
	toolsByName := make(map[string]*definition.Tool, len(tools))
	for _, t := range tools {
		toolsByName[t.Name] = t
	}

	cached := NewContext(projectRoot, s.logger)
	if s.agent.Caching != nil && s.agent.Caching.Enabled {
		cached.LoadSources(s.agent.Caching.Sources)
	}

	req := &llm.Request{
		System:      cached.SystemBlocks(s.agent.Prompt),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: task}},
		Tools:       toolSpecs(tools),
		MaxTokens:   s.agent.LLM.MaxTokens,
		Temperature: s.agent.LLM.Temperature,
	}

	for iteration := 1; iteration <= s.maxIterations; iteration++ {
		resp, err := s.client.Complete(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("agent %s completion: %w", s.agent.Name, err)
		}
		if s.onUsage != nil {
			s.onUsage(s.client.Model(), resp.Usage)
		}

		if len(resp.ToolCalls) == 0 {
			return s.finish(resp.Content, iteration), nil
		}

		req.Messages = append(req.Messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		results := s.executeCalls(ctx, toolsByName, resp.ToolCalls)
		req.Messages = append(req.Messages, llm.Message{
			Role:        llm.RoleTool,
			ToolResults: results,
		})
	}

	return nil, errors.ErrAgentLoopExceeded(s.agent.Name, s.maxIterations)
}

// executeCalls runs one assistant turn's tool calls. Multiple calls in the
// same turn run concurrently; results keep the call order.
func (s *Session) executeCalls(ctx context.Context, toolsByName map[string]*definition.Tool, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, len(calls))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			result := s.executeCall(gctx, toolsByName, call)
			mu.Lock()
			results[i] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Session) executeCall(ctx context.Context, toolsByName map[string]*definition.Tool, call llm.ToolCall) llm.ToolResult {
	def, ok := toolsByName[call.Name]
	if !ok {
		// The model named a tool that was never advertised.
		s.logger.Warn("model requested unknown tool", "agent", s.agent.Name, "tool", call.Name)
		return llm.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("unknown tool %q", call.Name),
			IsError:    true,
		}
	}

	output, err := s.executor.Execute(ctx, def, call.Input)
	if s.onToolCall != nil {
		s.onToolCall(call.Name, call.Input, output, err)
	}
	if err != nil {
		return llm.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}
	content, merr := json.Marshal(output)
	if merr != nil {
		return llm.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("encode result: %v", merr), IsError: true}
	}
	return llm.ToolResult{ToolCallID: call.ID, Content: string(content)}
}

func (s *Session) finish(text string, iterations int) *Result {
	result := &Result{Text: text, Iterations: iterations}
	if output, ok := structuredOutput(text); ok {
		result.Output = output
	}
	result.Decision = ExtractDecision(text)
	return result
}

// structuredOutput parses the final text as a JSON object when it is one.
func structuredOutput(text string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil, false
	}
	return out, true
}

// ExtractDecision pulls a GO / NO_GO verdict out of agent output. A JSON
// "decision" field wins; otherwise the uppercased text decides: NO-GO (or
// NO_GO) anywhere means NO_GO, a GO without it means GO.
func ExtractDecision(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		if d := gjson.Get(trimmed, "decision"); d.Exists() {
			switch strings.ToUpper(strings.ReplaceAll(d.String(), "-", "_")) {
			case "GO":
				return "GO"
			case "NO_GO":
				return "NO_GO"
			}
		}
	}
	upper := strings.ToUpper(text)
	hasNoGo := strings.Contains(upper, "NO-GO") || strings.Contains(upper, "NO_GO")
	hasGo := strings.Contains(upper, "GO")
	switch {
	case hasNoGo:
		return "NO_GO"
	case hasGo:
		return "GO"
	default:
		return ""
	}
}

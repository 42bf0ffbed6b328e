package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractary/faber/internal/approval"
	"github.com/fractary/faber/internal/checkpoint"
	"github.com/fractary/faber/internal/config"
	"github.com/fractary/faber/internal/definition"
	"github.com/fractary/faber/internal/errors"
	"github.com/fractary/faber/internal/llm"
	"github.com/fractary/faber/internal/state"
	"github.com/fractary/faber/internal/tool"
	"github.com/fractary/faber/internal/worklog"
)

// fakeTurn is one scripted completion.
type fakeTurn struct {
	text string
	err  error
}

// fakeClient replays scripted completions and reports fixed token usage.
type fakeClient struct {
	mu         sync.Mutex
	turns      []fakeTurn
	calls      int
	usage      llm.Usage
	onComplete func(call int)
}

func (c *fakeClient) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	var turn fakeTurn
	if len(c.turns) > 0 {
		turn = c.turns[0]
		c.turns = c.turns[1:]
	} else {
		turn = fakeTurn{err: fmt.Errorf("script exhausted at call %d", call)}
	}
	hook := c.onComplete
	c.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if turn.err != nil {
		return nil, turn.err
	}
	return &llm.Response{Content: turn.text, StopReason: llm.StopEndTurn, Usage: c.usage}, nil
}

func (c *fakeClient) Model() string { return "fake-model" }

// autoAdapter answers every approval request immediately.
type autoAdapter struct {
	decision string
}

func (a *autoAdapter) Name() string { return "cli" }

func (a *autoAdapter) SendNotification(ctx context.Context, req *approval.Request) error { return nil }

func (a *autoAdapter) PollResponse(ctx context.Context, req *approval.Request) (*approval.Response, error) {
	return &approval.Response{RequestID: req.ID, Decision: a.decision, Responder: "tester"}, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Autonomy = config.AutonomyAutonomous
	for _, pc := range cfg.Phases {
		pc.HumanApproval = false
	}
	cfg.Checkpointing.Backend = "memory"
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, client *fakeClient, decision string) (*Engine, checkpoint.Store) {
	t.Helper()

	registry, err := definition.NewRegistry(t.TempDir(), nil)
	require.NoError(t, err)
	logs, err := worklog.NewManager(worklog.WithLogsDir(t.TempDir()))
	require.NoError(t, err)
	store := checkpoint.NewMemoryStore()
	queue := approval.NewQueue(
		approval.WithNotifyChannels(&autoAdapter{decision: decision}),
		approval.WithResponseChannels(&autoAdapter{decision: decision}),
	)

	e := New(cfg, registry, tool.NewExecutor(), queue, store, logs,
		WithClientFactory(func(spec string) (llm.Client, error) { return client, nil }),
	)
	return e, store
}

// script builds turns: frame, architect, build produce JSON outputs, the
// evaluate turns carry the given decisions, release produces a PR.
func happyScript(decisions ...string) []fakeTurn {
	turns := []fakeTurn{
		{text: `{"work_type": "feature", "work_type_confidence": 0.95, "requirements": ["do the thing"]}`},
		{text: `{"spec_id": "SPEC-00001", "spec_path": "specs/SPEC-00001.md", "spec_validated": true}`},
	}
	for i, d := range decisions {
		turns = append(turns, fakeTurn{text: fmt.Sprintf(`{"branch_name": "feature/42-thing", "commits": ["commit-%d"]}`, i+1)})
		turns = append(turns, fakeTurn{text: "Decision: " + d})
	}
	turns = append(turns, fakeTurn{text: `{"pr_number": 7, "pr_url": "https://example.com/pr/7", "pr_state": "open"}`})
	return turns
}

func TestRunHappyPath(t *testing.T) {
	client := &fakeClient{turns: happyScript("GO"), usage: llm.Usage{InputTokens: 1000, OutputTokens: 500}}
	e, store := newTestEngine(t, testConfig(), client, approval.DecisionApprove)

	result, err := e.Run(context.Background(), "42", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, []string{"frame", "architect", "build", "evaluate", "release"}, result.CompletedPhases)
	assert.Equal(t, 0, result.RetryCount)
	assert.Equal(t, "https://example.com/pr/7", result.PRURL)
	assert.Equal(t, "feature/42-thing", result.BranchName)
	assert.Equal(t, state.DecisionGo, result.EvaluationResult)
	assert.Contains(t, result.WorkflowID, "WF-42-")

	raw, err := store.Get(context.Background(), result.WorkflowID)
	require.NoError(t, err)
	require.NotNil(t, raw)
}

func TestRunRetryThenSucceed(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 3
	client := &fakeClient{turns: happyScript("NO-GO", "GO"), usage: llm.Usage{InputTokens: 100, OutputTokens: 50}}
	e, _ := newTestEngine(t, cfg, client, approval.DecisionApprove)

	result, err := e.Run(context.Background(), "42", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1, result.RetryCount)
	assert.Equal(t, state.DecisionGo, result.EvaluationResult)
	// Commits accumulate across the retried build.
	assert.Equal(t, 7, client.calls)
}

func TestRunRetryExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	client := &fakeClient{turns: happyScript("NO-GO", "NO-GO", "NO-GO"), usage: llm.Usage{InputTokens: 100, OutputTokens: 50}}
	e, _ := newTestEngine(t, cfg, client, approval.DecisionApprove)

	result, err := e.Run(context.Background(), "42", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 2, result.RetryCount)
	assert.Equal(t, state.DecisionNoGo, result.EvaluationResult)
	assert.NotEmpty(t, result.PRURL, "release must still run after exhausted retries")
}

func TestRunNoRetriesGoesStraightToRelease(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	client := &fakeClient{turns: happyScript("NO-GO"), usage: llm.Usage{InputTokens: 100, OutputTokens: 50}}
	e, _ := newTestEngine(t, cfg, client, approval.DecisionApprove)

	result, err := e.Run(context.Background(), "42", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 0, result.RetryCount)
	assert.Equal(t, 5, client.calls, "build must not re-run with max_retries = 0")
}

func TestRunFatalFrameError(t *testing.T) {
	client := &fakeClient{
		turns: []fakeTurn{{err: fmt.Errorf("provider unavailable")}},
		usage: llm.Usage{InputTokens: 100, OutputTokens: 50},
	}
	e, _ := newTestEngine(t, testConfig(), client, approval.DecisionApprove)

	result, err := e.Run(context.Background(), "42", RunOptions{})
	require.Error(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, "frame", result.ErrorPhase)
	assert.Empty(t, result.CompletedPhases)
}

func TestRunBuildErrorEntersRetryLoop(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	turns := []fakeTurn{
		{text: `{"work_type": "bug"}`},
		{text: `{"spec_id": "SPEC-00002"}`},
		{err: fmt.Errorf("build blew up")}, // first build fails
		{text: `{"branch_name": "fix/42"}`},
		{text: "Decision: GO"},
		{text: `{"pr_url": "https://example.com/pr/8"}`},
	}
	client := &fakeClient{turns: turns, usage: llm.Usage{InputTokens: 100, OutputTokens: 50}}
	e, _ := newTestEngine(t, cfg, client, approval.DecisionApprove)

	result, err := e.Run(context.Background(), "42", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1, result.RetryCount)
	assert.Equal(t, state.DecisionGo, result.EvaluationResult)
}

func TestRunApprovalGateRejection(t *testing.T) {
	cfg := testConfig()
	cfg.Phases["architect"].HumanApproval = true
	client := &fakeClient{turns: happyScript("GO"), usage: llm.Usage{InputTokens: 100, OutputTokens: 50}}
	e, store := newTestEngine(t, cfg, client, approval.DecisionReject)

	result, err := e.Run(context.Background(), "42", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, result.Status)
	assert.Equal(t, []string{"frame"}, result.CompletedPhases)
	assert.Equal(t, 1, client.calls, "architect must not run after rejection")

	raw, err := store.Get(context.Background(), result.WorkflowID)
	require.NoError(t, err)
	require.NotNil(t, raw, "terminal checkpoint must exist")
}

func TestRunBudgetHardStop(t *testing.T) {
	cfg := testConfig()
	cfg.Cost.BudgetLimitUSD = 1.00
	// fake-model has no pricing entry: fallback $5 per 1M combined tokens.
	// 120k tokens per call = $0.60; the second call crosses the hard limit.
	client := &fakeClient{turns: happyScript("GO"), usage: llm.Usage{InputTokens: 100_000, OutputTokens: 20_000}}
	e, _ := newTestEngine(t, cfg, client, approval.DecisionApprove)

	result, err := e.Run(context.Background(), "42", RunOptions{})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, result.Status)

	fe := errors.AsFaberError(err)
	require.NotNil(t, fe)
	assert.Equal(t, errors.CodeBudgetExceeded, fe.Code)
}

func TestRunBudgetApprovalApproved(t *testing.T) {
	cfg := testConfig()
	cfg.Cost.BudgetLimitUSD = 1.00
	// $0.19 per call: the fifth call reaches $0.95 >= 0.9 and prompts for
	// approval; approving lets release finish under the hard limit.
	client := &fakeClient{turns: happyScript("GO"), usage: llm.Usage{InputTokens: 30_000, OutputTokens: 8_000}}
	e, _ := newTestEngine(t, cfg, client, approval.DecisionApprove)

	result, err := e.Run(context.Background(), "42", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.InDelta(t, 0.95, result.TotalCostUSD, 1e-9)
}

func TestRunBudgetApprovalRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Cost.BudgetLimitUSD = 1.00
	client := &fakeClient{turns: happyScript("GO"), usage: llm.Usage{InputTokens: 30_000, OutputTokens: 8_000}}
	e, _ := newTestEngine(t, cfg, client, approval.DecisionReject)

	result, err := e.Run(context.Background(), "42", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, result.Status)
}

func TestRunUnlimitedBudget(t *testing.T) {
	cfg := testConfig()
	cfg.Cost.BudgetLimitUSD = 0
	client := &fakeClient{turns: happyScript("GO"), usage: llm.Usage{InputTokens: 10_000_000, OutputTokens: 10_000_000}}
	e, _ := newTestEngine(t, cfg, client, approval.DecisionApprove)

	result, err := e.Run(context.Background(), "42", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
}

func TestCancelStopsAtNextCooperativePoint(t *testing.T) {
	client := &fakeClient{turns: happyScript("GO"), usage: llm.Usage{InputTokens: 100, OutputTokens: 50}}
	e, _ := newTestEngine(t, testConfig(), client, approval.DecisionApprove)

	workflowID := NewWorkflowID("42")
	client.onComplete = func(call int) {
		if call == 3 { // during build
			require.True(t, e.Cancel(workflowID))
		}
	}

	result, err := e.Run(context.Background(), "42", RunOptions{WorkflowID: workflowID})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, result.Status)
}

func TestCancelUnknownWorkflow(t *testing.T) {
	client := &fakeClient{}
	e, _ := newTestEngine(t, testConfig(), client, approval.DecisionApprove)
	assert.False(t, e.Cancel("WF-42-deadbeef"))
}

func TestResumeContinuesFromFailedPhase(t *testing.T) {
	cfg := testConfig()
	client := &fakeClient{
		turns: []fakeTurn{
			{text: `{"work_type": "feature"}`},
			{err: fmt.Errorf("architect crashed")},
		},
		usage: llm.Usage{InputTokens: 100, OutputTokens: 50},
	}
	e, store := newTestEngine(t, cfg, client, approval.DecisionApprove)

	workflowID := NewWorkflowID("42")
	result, err := e.Run(context.Background(), "42", RunOptions{WorkflowID: workflowID})
	require.Error(t, err)
	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, "architect", result.ErrorPhase)

	// A fresh engine sharing the store resumes at architect.
	resumed := &fakeClient{
		turns: []fakeTurn{
			{text: `{"spec_id": "SPEC-00003"}`},
			{text: `{"branch_name": "feature/42"}`},
			{text: "Decision: GO"},
			{text: `{"pr_url": "https://example.com/pr/9"}`},
		},
		usage: llm.Usage{InputTokens: 100, OutputTokens: 50},
	}
	logs, err := worklog.NewManager(worklog.WithLogsDir(t.TempDir()))
	require.NoError(t, err)
	registry, err := definition.NewRegistry(t.TempDir(), nil)
	require.NoError(t, err)
	queue := approval.NewQueue(approval.WithResponseChannels(&autoAdapter{decision: approval.DecisionApprove}))
	e2 := New(cfg, registry, tool.NewExecutor(), queue, store, logs,
		WithClientFactory(func(spec string) (llm.Client, error) { return resumed, nil }),
	)

	final, err := e2.Resume(context.Background(), workflowID, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, workflowID, final.WorkflowID)
	assert.Equal(t, []string{"frame", "architect", "build", "evaluate", "release"}, final.CompletedPhases)
	assert.Equal(t, 4, resumed.calls, "frame must not re-run on resume")
}

func TestResumeUnknownWorkflow(t *testing.T) {
	client := &fakeClient{}
	e, _ := newTestEngine(t, testConfig(), client, approval.DecisionApprove)

	_, err := e.Resume(context.Background(), "WF-42-missing", RunOptions{})
	require.Error(t, err)
	fe := errors.AsFaberError(err)
	require.NotNil(t, fe)
	assert.Equal(t, errors.CodeWorkflowNotFound, fe.Code)
}

package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractary/faber/internal/config"
	"github.com/fractary/faber/internal/engine"
	"github.com/fractary/faber/internal/errors"
	"github.com/fractary/faber/internal/llm"
	"github.com/fractary/faber/internal/worklog"
)

// scriptedClient replays canned completions in order.
type scriptedClient struct {
	mu    sync.Mutex
	texts []string
}

func (c *scriptedClient) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.texts) == 0 {
		return nil, fmt.Errorf("script exhausted")
	}
	text := c.texts[0]
	c.texts = c.texts[1:]
	return &llm.Response{
		Content:    text,
		StopReason: llm.StopEndTurn,
		Usage:      llm.Usage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

func (c *scriptedClient) Model() string { return "scripted" }

func testService(t *testing.T, client llm.Client) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.Autonomy = config.AutonomyAutonomous
	for _, pc := range cfg.Phases {
		pc.HumanApproval = false
	}
	cfg.Checkpointing.Backend = "memory"
	cfg.Observability.LogsDir = t.TempDir()
	cfg.Approval.NotifyChannels = nil
	cfg.Approval.ResponseChannels = nil

	opts := []ServiceOption{WithProjectRoot(t.TempDir())}
	if client != nil {
		opts = append(opts, WithEngineOptions(engine.WithClientFactory(
			func(spec string) (llm.Client, error) { return client, nil },
		)))
	}
	svc, err := NewService(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestRunWorkflowEndToEnd(t *testing.T) {
	client := &scriptedClient{texts: []string{
		`{"work_type": "feature", "requirements": ["parse config"]}`,
		`{"spec_id": "SPEC-00001", "spec_path": "specs/SPEC-00001.md"}`,
		`{"branch_name": "feature/7-parse", "commits": ["add parser"]}`,
		"Decision: GO",
		`{"pr_number": 12, "pr_url": "https://example.com/pr/12"}`,
	}}
	svc := testService(t, client)

	result, err := svc.RunWorkflow(context.Background(), "7", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCompleted, result.Status)
	assert.Equal(t, "https://example.com/pr/12", result.PRURL)

	// The run leaves a log and a checkpoint behind.
	view, err := svc.ViewWorkflow(context.Background(), result.WorkflowID)
	require.NoError(t, err)
	require.NotNil(t, view.Log)
	assert.Equal(t, worklog.StatusCompleted, view.Log.Status)
	require.NotNil(t, view.State)
	assert.Equal(t, "7", view.State.WorkID)
	assert.Len(t, view.State.CompletedPhases, 5)

	logs, err := svc.ListWorkflows(worklog.ListFilter{WorkID: "7"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, result.WorkflowID, logs[0].WorkflowID)

	summary, err := svc.CostSummary(result.WorkflowID)
	require.NoError(t, err)
	assert.Contains(t, summary, "total_cost_usd")
}

func TestRunWorkflowCustomDocument(t *testing.T) {
	svc := testService(t, &scriptedClient{})

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	content := `
name: bad
phases:
  - name: one
    agent: missing
    model: $models.undefined
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	_, err := svc.RunWorkflow(context.Background(), "7", RunOptions{WorkflowPath: path})
	require.Error(t, err)
	fe := errors.AsFaberError(err)
	require.NotNil(t, fe)
	assert.Equal(t, errors.CodeWorkflowCompile, fe.Code)

	_, err = svc.RunWorkflow(context.Background(), "7", RunOptions{WorkflowPath: filepath.Join(dir, "absent.yaml")})
	require.Error(t, err)
}

func TestViewWorkflowNotFound(t *testing.T) {
	svc := testService(t, nil)
	_, err := svc.ViewWorkflow(context.Background(), "WF-0-missing")
	require.Error(t, err)
	fe := errors.AsFaberError(err)
	require.NotNil(t, fe)
	assert.Equal(t, errors.CodeWorkflowNotFound, fe.Code)

	_, err = svc.CostSummary("WF-0-missing")
	require.Error(t, err)
}

func TestCancelWorkflowUnknown(t *testing.T) {
	svc := testService(t, nil)
	assert.False(t, svc.CancelWorkflow("WF-0-missing"))
}

func TestBuiltinToolsRegistered(t *testing.T) {
	svc := testService(t, nil)
	tools := svc.Tools([]string{"builtin"})
	require.NotEmpty(t, tools)
	names := make(map[string]bool, len(tools))
	for _, tl := range tools {
		names[tl.Name] = true
	}
	// Spec and log tools need no provider credentials, so they always load.
	assert.True(t, names["create_specification"])
	assert.True(t, names["log_info"])
	assert.True(t, names["parse_source"])
}

func TestSubmitApprovalIdempotent(t *testing.T) {
	svc := testService(t, nil)
	assert.True(t, svc.SubmitApproval("APR-test", "approve", "", "tester"))
	assert.False(t, svc.SubmitApproval("APR-test", "reject", "", "tester"))
}

func TestOpenStoreMapping(t *testing.T) {
	st, err := openStore(config.CheckpointConfig{Backend: "memory"})
	require.NoError(t, err)
	st.Close()

	st, err = openStore(config.CheckpointConfig{Backend: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "cp.db")})
	require.NoError(t, err)
	st.Close()

	_, err = openStore(config.CheckpointConfig{Backend: "etcd"})
	require.Error(t, err)
}

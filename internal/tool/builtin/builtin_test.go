package builtin

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractary/faber/internal/definition"
	"github.com/fractary/faber/internal/spec"
	"github.com/fractary/faber/internal/tool"
	"github.com/fractary/faber/internal/work"
	"github.com/fractary/faber/internal/worklog"
)

// fakeWork is an in-memory tracker.
type fakeWork struct {
	issues   map[string]*work.Issue
	comments []string
	closed   []string
}

func newFakeWork() *fakeWork {
	return &fakeWork{issues: map[string]*work.Issue{
		"7": {ID: "7", Title: "Crash when saving", Body: "stack trace", State: "open", Labels: []string{"bug"}},
	}}
}

func (f *fakeWork) FetchIssue(_ context.Context, id string) (*work.Issue, error) {
	issue, ok := f.issues[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return issue, nil
}

func (f *fakeWork) CreateIssue(_ context.Context, title, body string, labels []string) (*work.Issue, error) {
	issue := &work.Issue{ID: "8", Title: title, Body: body, State: "open", Labels: labels}
	f.issues[issue.ID] = issue
	return issue, nil
}

func (f *fakeWork) CreateComment(_ context.Context, id, body string) (*work.Comment, error) {
	f.comments = append(f.comments, body)
	return &work.Comment{ID: "c1", Body: body}, nil
}

func (f *fakeWork) CloseIssue(_ context.Context, id, reason string) error {
	f.closed = append(f.closed, id)
	return nil
}

func (f *fakeWork) SearchIssues(_ context.Context, opts work.SearchOptions) ([]*work.Issue, error) {
	return []*work.Issue{f.issues["7"]}, nil
}

func (f *fakeWork) Name() string { return "fake" }

func testSetup(t *testing.T, deps Deps) (*tool.Executor, *definition.Registry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if deps.Logger == nil {
		deps.Logger = logger
	}
	executor := tool.NewExecutor(tool.WithLogger(logger))
	registry, err := definition.NewRegistry(t.TempDir(), logger)
	require.NoError(t, err)
	require.NoError(t, Register(executor, registry, deps))
	return executor, registry
}

func execute(t *testing.T, executor *tool.Executor, registry *definition.Registry, name string, params map[string]any) map[string]any {
	t.Helper()
	def, err := registry.GetToolOrError(name)
	require.NoError(t, err)
	out, err := executor.Execute(context.Background(), def, params)
	require.NoError(t, err)
	return out
}

func TestRegisterSkipsModulesWithoutBackends(t *testing.T) {
	_, registry := testSetup(t, Deps{})

	// Analysis has no backend dependency and is always present.
	assert.NotNil(t, registry.GetTool("parse_source"))
	assert.Nil(t, registry.GetTool("fetch_issue"))
	assert.Nil(t, registry.GetTool("create_specification"))
	assert.Nil(t, registry.GetTool("log_info"))
}

func TestWorkTools(t *testing.T) {
	fake := newFakeWork()
	executor, registry := testSetup(t, Deps{Work: fake})

	out := execute(t, executor, registry, "fetch_issue", map[string]any{"issue_id": "7"})
	assert.Equal(t, "Crash when saving", out["title"])

	out = execute(t, executor, registry, "classify_work_type", map[string]any{"issue_id": "7"})
	assert.Equal(t, "bug", out["type"])
	assert.Equal(t, 0.95, out["confidence"])

	out = execute(t, executor, registry, "create_issue_comment", map[string]any{
		"issue_id": "7",
		"body":     "done",
		"context":  "build",
	})
	assert.Equal(t, "success", out["status"])
	require.Len(t, fake.comments, 1)
	assert.Equal(t, "**[FABER:BUILD]**\n\ndone", fake.comments[0])

	execute(t, executor, registry, "close_issue", map[string]any{"issue_id": "7"})
	assert.Equal(t, []string{"7"}, fake.closed)

	out = execute(t, executor, registry, "search_issues", map[string]any{"query": "crash"})
	assert.Equal(t, 1, out["count"])
}

func TestWorkToolRejectsUnknownPhase(t *testing.T) {
	executor, registry := testSetup(t, Deps{Work: newFakeWork()})
	def, err := registry.GetToolOrError("create_issue_comment")
	require.NoError(t, err)

	_, err = executor.Execute(context.Background(), def, map[string]any{
		"issue_id": "7",
		"body":     "x",
		"context":  "deploy",
	})
	assert.Error(t, err)
}

func TestSpecTools(t *testing.T) {
	root := t.TempDir()
	executor, registry := testSetup(t, Deps{Specs: spec.NewManager(root)})

	out := execute(t, executor, registry, "create_specification", map[string]any{
		"title":   "Add login",
		"work_id": "42",
	})
	assert.Equal(t, "SPEC-00001", out["id"])

	out = execute(t, executor, registry, "get_specification", map[string]any{"spec_id": "42"})
	assert.Equal(t, "Add login", out["title"])
	assert.Contains(t, out["content"], "## Work ID: 42")

	out = execute(t, executor, registry, "validate_specification", map[string]any{"spec_id": "42"})
	assert.Equal(t, "partial", out["status"])

	out = execute(t, executor, registry, "update_specification", map[string]any{
		"spec_id": "42",
		"status":  "complete",
	})
	assert.Equal(t, "complete", out["status"])

	out = execute(t, executor, registry, "list_specifications", map[string]any{})
	assert.Equal(t, 1, out["count"])
}

func TestLogTools(t *testing.T) {
	logs, err := worklog.NewManager(worklog.WithLogsDir(t.TempDir()),
		worklog.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	run := logs.StartWorkflow("WF-1", "1")

	executor, registry := testSetup(t, Deps{Logs: logs})
	def, err := registry.GetToolOrError("log_info")
	require.NoError(t, err)

	// Entries go to the run carried by the context.
	ctx := worklog.NewContext(context.Background(), run)
	out, err := executor.Execute(ctx, def, map[string]any{
		"message": "starting build",
		"phase":   "build",
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["logged"])

	// Without a run in the context the tool refuses to log.
	_, err = executor.Execute(context.Background(), def, map[string]any{"message": "orphan"})
	assert.Error(t, err)

	wf, err := run.End(worklog.StatusCompleted, nil)
	require.NoError(t, err)
	var messages []string
	for _, e := range wf.Entries {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "starting build")
	assert.NotContains(t, messages, "orphan")
}

func TestParseSourceGo(t *testing.T) {
	dir := t.TempDir()
	src := `package demo

import "fmt"

type Server struct{}

func (s *Server) Start() { fmt.Println("up") }

func helper() {}
`
	path := filepath.Join(dir, "demo.go")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	executor, registry := testSetup(t, Deps{})
	out := execute(t, executor, registry, "parse_source", map[string]any{"path": path})

	assert.Equal(t, "go", out["language"])
	assert.Equal(t, "demo", out["package"])
	assert.ElementsMatch(t, []string{"Server.Start", "helper"}, out["functions"])
	assert.ElementsMatch(t, []string{"Server"}, out["types"])
	assert.ElementsMatch(t, []string{"fmt"}, out["imports"])
}

func TestParseSourcePython(t *testing.T) {
	dir := t.TempDir()
	src := `import os

class Runner:
    def start(self):
        pass

def helper():
    pass
`
	path := filepath.Join(dir, "runner.py")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	executor, registry := testSetup(t, Deps{})
	out := execute(t, executor, registry, "parse_source", map[string]any{"path": path})

	assert.Equal(t, "python", out["language"])
	assert.ElementsMatch(t, []string{"start", "helper"}, out["functions"])
	assert.ElementsMatch(t, []string{"Runner"}, out["types"])
}

func TestParseSourceUnknownLanguage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n"), 0o644))

	executor, registry := testSetup(t, Deps{})
	def, err := registry.GetToolOrError("parse_source")
	require.NoError(t, err)
	_, err = executor.Execute(context.Background(), def, map[string]any{"path": path})
	assert.Error(t, err)
}

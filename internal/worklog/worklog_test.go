package worklog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithLogsDir(t.TempDir()), WithLogger(quietLogger())}, opts...)
	m, err := NewManager(opts...)
	require.NoError(t, err)
	return m
}

func TestWorkflowLifecycle(t *testing.T) {
	m := newTestManager(t)

	run := m.StartWorkflow("WF-1-abc", "42")
	run.StartPhase("frame")
	run.Log(LevelInfo, "frame", "classified work item", map[string]any{"work_type": "bug"})
	d := run.EndPhase("frame", "completed", nil)
	assert.GreaterOrEqual(t, d, int64(0))

	wf, err := run.End(StatusCompleted, map[string]any{"total_cost_usd": 0.42})
	require.NoError(t, err)
	require.NotNil(t, wf)
	assert.Equal(t, StatusCompleted, wf.Status)
	assert.NotNil(t, wf.EndedAt)

	// Persisted and loadable by id.
	loaded, err := m.Get("WF-1-abc")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "42", loaded.WorkID)
	assert.Equal(t, 0.42, loaded.Summary["total_cost_usd"])

	var messages []string
	for _, e := range loaded.Entries {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "Phase started: frame")
	assert.Contains(t, messages, "classified work item")
	assert.Contains(t, messages, "Phase completed: frame")
}

func TestConcurrentRunsAreIsolated(t *testing.T) {
	m := newTestManager(t)

	runA := m.StartWorkflow("WF-A", "1")
	runA.Log(LevelInfo, "frame", "only in A", nil)

	// Starting a second workflow must not disturb the first run's log.
	runB := m.StartWorkflow("WF-B", "2")
	runB.Log(LevelInfo, "build", "only in B", nil)

	wfA, err := runA.End(StatusCompleted, nil)
	require.NoError(t, err)
	assert.Equal(t, "WF-A", wfA.WorkflowID)
	assert.Equal(t, StatusCompleted, wfA.Status)

	// A's log is persisted under its own id; B is still running.
	loaded, err := m.Get("WF-A")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, StatusCompleted, loaded.Status)
	for _, e := range loaded.Entries {
		assert.Equal(t, "WF-A", e.WorkflowID)
		assert.NotEqual(t, "only in B", e.Message)
	}

	stillRunning, err := m.Get("WF-B")
	require.NoError(t, err)
	assert.Nil(t, stillRunning)

	wfB, err := runB.End(StatusFailed, nil)
	require.NoError(t, err)
	assert.Equal(t, "WF-B", wfB.WorkflowID)
	assert.Equal(t, StatusFailed, wfB.Status)

	loaded, err = m.Get("WF-B")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	for _, e := range loaded.Entries {
		assert.Equal(t, "WF-B", e.WorkflowID)
		assert.NotEqual(t, "only in A", e.Message)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	run := m.StartWorkflow("WF-1-abc", "1")

	first, err := run.End(StatusCompleted, nil)
	require.NoError(t, err)
	entries := len(first.Entries)

	again, err := run.End(StatusFailed, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, again.Status)
	assert.Len(t, again.Entries, entries)

	// Entries after End are dropped.
	run.Log(LevelError, "release", "late entry", nil)
	assert.Len(t, first.Entries, entries)
}

func TestEndPhaseWithoutStart(t *testing.T) {
	m := newTestManager(t)
	run := m.StartWorkflow("WF-1-abc", "1")
	assert.Equal(t, int64(-1), run.EndPhase("build", "completed", nil))
}

func TestLevelFilter(t *testing.T) {
	m := newTestManager(t, WithMinLevel(LevelWarning))

	run := m.StartWorkflow("WF-2-def", "2")
	run.Log(LevelDebug, "build", "noise", nil)
	run.Log(LevelInfo, "build", "more noise", nil)
	run.Log(LevelError, "build", "compile failed", nil)
	wf, err := run.End(StatusFailed, nil)
	require.NoError(t, err)

	require.Len(t, wf.Entries, 1)
	assert.Equal(t, "compile failed", wf.Entries[0].Message)
}

func TestInvalidLevelRejected(t *testing.T) {
	_, err := NewManager(WithLogsDir(t.TempDir()), WithMinLevel("verbose"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FABER_LOGS_DIR", filepath.Join(dir, "env-logs"))
	t.Setenv("FABER_LOG_LEVEL", "debug")

	m, err := NewManager(WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "env-logs"), m.logsDir)
	assert.Equal(t, LevelDebug, m.minLevel)

	_, err = os.Stat(filepath.Join(dir, "env-logs"))
	assert.NoError(t, err)
}

func TestToolCallLevels(t *testing.T) {
	m := newTestManager(t, WithMinLevel(LevelDebug))
	run := m.StartWorkflow("WF-3-ghi", "3")

	run.LogToolCall("build", "run_tests", map[string]any{"path": "./..."}, map[string]any{"status": "success"}, 1500, nil)
	run.LogToolCall("build", "run_tests", nil, nil, 90, os.ErrDeadlineExceeded)

	wf, err := run.End(StatusCompleted, nil)
	require.NoError(t, err)

	var tool []Entry
	for _, e := range wf.Entries {
		if e.Tool == "run_tests" {
			tool = append(tool, e)
		}
	}
	require.Len(t, tool, 2)
	assert.Equal(t, LevelDebug, tool[0].Level)
	assert.Equal(t, LevelError, tool[1].Level)
	assert.Contains(t, tool[1].Metadata["error"], "deadline")
}

func TestRunLogContext(t *testing.T) {
	m := newTestManager(t)
	run := m.StartWorkflow("WF-ctx", "1")

	assert.Nil(t, FromContext(context.Background()))
	ctx := NewContext(context.Background(), run)
	assert.Same(t, run, FromContext(ctx))
}

func TestListFilters(t *testing.T) {
	m := newTestManager(t)

	_, err := m.StartWorkflow("WF-a", "1").End(StatusCompleted, nil)
	require.NoError(t, err)
	_, err = m.StartWorkflow("WF-b", "2").End(StatusFailed, nil)
	require.NoError(t, err)
	_, err = m.StartWorkflow("WF-c", "1").End(StatusCompleted, nil)
	require.NoError(t, err)

	all, err := m.List(ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	// Most recently started first.
	assert.Equal(t, "WF-c", all[0].WorkflowID)

	failed, err := m.List(ListFilter{Status: StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "WF-b", failed[0].WorkflowID)

	work1, err := m.List(ListFilter{WorkID: "1"})
	require.NoError(t, err)
	assert.Len(t, work1, 2)

	limited, err := m.List(ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestListOrdersByStartTime(t *testing.T) {
	m := newTestManager(t)
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	// Lexicographic file-name order disagrees with start order here.
	require.NoError(t, m.save(&WorkflowLog{WorkflowID: "WF-zzz", StartedAt: base, Status: StatusCompleted}))
	require.NoError(t, m.save(&WorkflowLog{WorkflowID: "WF-aaa", StartedAt: base.Add(time.Hour), Status: StatusCompleted}))
	require.NoError(t, m.save(&WorkflowLog{WorkflowID: "WF-mmm", StartedAt: base.Add(30 * time.Minute), Status: StatusCompleted}))

	logs, err := m.List(ListFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "WF-aaa", logs[0].WorkflowID)
	assert.Equal(t, "WF-mmm", logs[1].WorkflowID)
	assert.Equal(t, "WF-zzz", logs[2].WorkflowID)
}

func TestListSkipsCorruptFiles(t *testing.T) {
	m := newTestManager(t)
	_, err := m.StartWorkflow("WF-good", "1").End(StatusCompleted, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(m.logsDir, "WF-bad.json"), []byte("{nope"), 0o644))

	logs, err := m.List(ListFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "WF-good", logs[0].WorkflowID)
}

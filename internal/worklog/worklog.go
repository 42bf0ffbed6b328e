// Package worklog records structured per-workflow execution logs under a
// logs directory, one JSON document per workflow run. This is the durable
// audit trail; live operator output goes through slog separately.
package worklog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level names in ascending severity.
const (
	LevelDebug    = "debug"
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelError    = "error"
	LevelCritical = "critical"
)

var levelRank = map[string]int{
	LevelDebug:    0,
	LevelInfo:     1,
	LevelWarning:  2,
	LevelError:    3,
	LevelCritical: 4,
}

// Workflow statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// DefaultLogsDir is used when neither config nor FABER_LOGS_DIR override it.
const DefaultLogsDir = ".faber/logs"

// Entry is a single log record inside a workflow log.
type Entry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Phase      string         `json:"phase"`
	Message    string         `json:"message"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	WorkID     string         `json:"work_id,omitempty"`
	Agent      string         `json:"agent,omitempty"`
	Tool       string         `json:"tool,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// WorkflowLog is the complete record of one workflow execution.
type WorkflowLog struct {
	WorkflowID   string         `json:"workflow_id"`
	WorkID       string         `json:"work_id,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	Status       string         `json:"status"`
	CurrentPhase string         `json:"current_phase"`
	Entries      []Entry        `json:"entries"`
	Summary      map[string]any `json:"summary,omitempty"`
}

// Manager owns the logs directory and hands out per-run logs. Many workflow
// runs may be in flight at once; each one writes only through its own RunLog.
type Manager struct {
	logsDir  string
	minLevel string
	logger   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogsDir overrides the logs directory.
func WithLogsDir(dir string) Option {
	return func(m *Manager) { m.logsDir = dir }
}

// WithMinLevel sets the minimum level recorded.
func WithMinLevel(level string) Option {
	return func(m *Manager) { m.minLevel = level }
}

// WithLogger sets the slog logger mirrored to.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager builds a Manager. Environment variables FABER_LOGS_DIR and
// FABER_LOG_LEVEL supply defaults; options win over both.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		logsDir:  DefaultLogsDir,
		minLevel: LevelInfo,
		logger:   slog.Default(),
	}
	if dir := os.Getenv("FABER_LOGS_DIR"); dir != "" {
		m.logsDir = dir
	}
	if level := os.Getenv("FABER_LOG_LEVEL"); level != "" {
		m.minLevel = strings.ToLower(level)
	}
	for _, opt := range opts {
		opt(m)
	}
	if _, ok := levelRank[m.minLevel]; !ok {
		return nil, fmt.Errorf("unknown log level %q", m.minLevel)
	}
	if err := os.MkdirAll(m.logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	return m, nil
}

func (m *Manager) shouldLog(level string) bool {
	rank, ok := levelRank[level]
	if !ok {
		return true
	}
	return rank >= levelRank[m.minLevel]
}

// RunLog accumulates the log of a single workflow run. It is owned by that
// run: concurrent workflows each hold their own RunLog and never observe
// one another's entries.
type RunLog struct {
	m *Manager

	mu          sync.Mutex
	wf          *WorkflowLog
	ended       bool
	phaseStarts map[string]time.Time
}

// StartWorkflow opens a new per-run log for a workflow.
func (m *Manager) StartWorkflow(workflowID, workID string) *RunLog {
	r := &RunLog{
		m: m,
		wf: &WorkflowLog{
			WorkflowID:   workflowID,
			WorkID:       workID,
			StartedAt:    time.Now().UTC(),
			Status:       StatusRunning,
			CurrentPhase: "unknown",
			Entries:      []Entry{},
		},
		phaseStarts: make(map[string]time.Time),
	}
	r.Log(LevelInfo, "unknown", fmt.Sprintf("Workflow started: %s", workflowID), nil)
	return r
}

// WorkflowID returns the id of the run this log belongs to.
func (r *RunLog) WorkflowID() string {
	return r.wf.WorkflowID
}

// End closes the run's log with a final status and persists it. Calling End
// again returns the already-closed log without rewriting it.
func (r *RunLog) End(status string, summary map[string]any) (*WorkflowLog, error) {
	r.mu.Lock()
	if r.ended {
		wf := r.wf
		r.mu.Unlock()
		return wf, nil
	}
	r.mu.Unlock()

	r.Log(LevelInfo, "unknown", fmt.Sprintf("Workflow %s: %s", status, r.wf.WorkflowID), summary)

	r.mu.Lock()
	now := time.Now().UTC()
	r.wf.EndedAt = &now
	r.wf.Status = status
	r.wf.Summary = summary
	r.ended = true
	wf := r.wf
	r.mu.Unlock()

	if err := r.m.save(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

func (m *Manager) save(wf *WorkflowLog) error {
	raw, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode workflow log: %w", err)
	}
	path := filepath.Join(m.logsDir, wf.WorkflowID+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write workflow log: %w", err)
	}
	return nil
}

// StartPhase marks a phase start for duration tracking.
func (r *RunLog) StartPhase(phase string) {
	r.mu.Lock()
	r.phaseStarts[phase] = time.Now()
	r.wf.CurrentPhase = phase
	r.mu.Unlock()

	r.Log(LevelInfo, phase, fmt.Sprintf("Phase started: %s", phase), nil)
}

// EndPhase records a phase end and returns its duration in milliseconds,
// or -1 when the phase was never started.
func (r *RunLog) EndPhase(phase, status string, result map[string]any) int64 {
	r.mu.Lock()
	durationMS := int64(-1)
	if start, ok := r.phaseStarts[phase]; ok {
		delete(r.phaseStarts, phase)
		durationMS = time.Since(start).Milliseconds()
	}
	r.mu.Unlock()

	r.logEntry(Entry{
		Level:      LevelInfo,
		Phase:      phase,
		Message:    fmt.Sprintf("Phase %s: %s", status, phase),
		DurationMS: durationMS,
		Metadata:   result,
	})
	return durationMS
}

// Log records a message against the run.
func (r *RunLog) Log(level, phase, message string, metadata map[string]any) {
	r.logEntry(Entry{Level: level, Phase: phase, Message: message, Metadata: metadata})
}

// LogToolCall records a tool invocation at debug level, or error level when
// the call failed.
func (r *RunLog) LogToolCall(phase, tool string, input map[string]any, output map[string]any, durationMS int64, callErr error) {
	level := LevelDebug
	message := fmt.Sprintf("Tool called: %s", tool)
	metadata := map[string]any{"input": input}
	if output != nil {
		metadata["output"] = output
	}
	if callErr != nil {
		level = LevelError
		message = fmt.Sprintf("Tool failed: %s", tool)
		metadata["error"] = callErr.Error()
	}
	r.logEntry(Entry{Level: level, Phase: phase, Message: message, Tool: tool, DurationMS: durationMS, Metadata: metadata})
}

// LogAgentAction records an agent-level action at info level.
func (r *RunLog) LogAgentAction(phase, agent, action string, details map[string]any) {
	r.logEntry(Entry{
		Level:    LevelInfo,
		Phase:    phase,
		Message:  fmt.Sprintf("Agent action: %s", action),
		Agent:    agent,
		Metadata: details,
	})
}

func (r *RunLog) logEntry(entry Entry) {
	if !r.m.shouldLog(entry.Level) {
		return
	}
	entry.Timestamp = time.Now().UTC()

	r.mu.Lock()
	entry.WorkflowID = r.wf.WorkflowID
	entry.WorkID = r.wf.WorkID
	if !r.ended {
		r.wf.Entries = append(r.wf.Entries, entry)
	}
	r.mu.Unlock()

	attrs := []any{"phase", entry.Phase}
	if entry.WorkflowID != "" {
		attrs = append(attrs, "workflow_id", entry.WorkflowID)
	}
	if entry.Tool != "" {
		attrs = append(attrs, "tool", entry.Tool)
	}
	if entry.Agent != "" {
		attrs = append(attrs, "agent", entry.Agent)
	}
	if entry.DurationMS > 0 {
		attrs = append(attrs, "duration_ms", entry.DurationMS)
	}
	switch entry.Level {
	case LevelDebug:
		r.m.logger.Debug(entry.Message, attrs...)
	case LevelWarning:
		r.m.logger.Warn(entry.Message, attrs...)
	case LevelError, LevelCritical:
		r.m.logger.Error(entry.Message, attrs...)
	default:
		r.m.logger.Info(entry.Message, attrs...)
	}
}

type runLogKey struct{}

// NewContext returns a context carrying the run's log, so that code executed
// on behalf of the run (tool functions in particular) can record against it.
func NewContext(ctx context.Context, run *RunLog) context.Context {
	return context.WithValue(ctx, runLogKey{}, run)
}

// FromContext returns the run log carried by the context, or nil.
func FromContext(ctx context.Context) *RunLog {
	run, _ := ctx.Value(runLogKey{}).(*RunLog)
	return run
}

// Get loads a persisted workflow log, or nil if absent.
func (m *Manager) Get(workflowID string) (*WorkflowLog, error) {
	path := filepath.Join(m.logsDir, workflowID+".json")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workflow log: %w", err)
	}
	var wf WorkflowLog
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("decode workflow log %s: %w", workflowID, err)
	}
	return &wf, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Status string
	WorkID string
	Limit  int // 0 means 50
}

// List returns persisted workflow logs, most recently started first.
// Unreadable files are skipped.
func (m *Manager) List(filter ListFilter) ([]*WorkflowLog, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	entries, err := os.ReadDir(m.logsDir)
	if err != nil {
		return nil, fmt.Errorf("read logs dir: %w", err)
	}

	var all []*WorkflowLog
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		wf, err := m.Get(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil || wf == nil {
			continue
		}
		all = append(all, wf)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].StartedAt.Equal(all[j].StartedAt) {
			return all[i].StartedAt.After(all[j].StartedAt)
		}
		return all[i].WorkflowID > all[j].WorkflowID
	})

	var logs []*WorkflowLog
	for _, wf := range all {
		if len(logs) >= limit {
			break
		}
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		if filter.WorkID != "" && wf.WorkID != filter.WorkID {
			continue
		}
		logs = append(logs, wf)
	}
	return logs, nil
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fractary/faber/internal/approval"
	"github.com/fractary/faber/internal/checkpoint"
	"github.com/fractary/faber/internal/config"
	"github.com/fractary/faber/internal/cost"
	"github.com/fractary/faber/internal/definition"
	"github.com/fractary/faber/internal/errors"
	"github.com/fractary/faber/internal/llm"
	"github.com/fractary/faber/internal/state"
	"github.com/fractary/faber/internal/tool"
	"github.com/fractary/faber/internal/worklog"
)

// Workflow statuses reported in results.
const (
	StatusCompleted = worklog.StatusCompleted
	StatusFailed    = worklog.StatusFailed
	StatusCancelled = worklog.StatusCancelled
)

// ClientFactory builds an LLM client for a provider:model specifier.
// Injected by tests; defaults to llm.New.
type ClientFactory func(modelSpec string) (llm.Client, error)

// Result is the terminal outcome of a workflow run.
type Result struct {
	WorkflowID       string   `json:"workflow_id"`
	WorkID           string   `json:"work_id"`
	Status           string   `json:"status"`
	CompletedPhases  []string `json:"completed_phases"`
	PRURL            string   `json:"pr_url,omitempty"`
	SpecPath         string   `json:"spec_path,omitempty"`
	BranchName       string   `json:"branch_name,omitempty"`
	Error            string   `json:"error,omitempty"`
	ErrorPhase       string   `json:"error_phase,omitempty"`
	RetryCount       int      `json:"retry_count"`
	EvaluationResult string   `json:"evaluation_result,omitempty"`
	TotalCostUSD     float64  `json:"total_cost_usd"`
	TotalTokens      int64    `json:"total_tokens"`
}

// Engine runs workflows. One engine serves many concurrent workflows; each
// run gets its own state, tracker and cancellation handle.
type Engine struct {
	cfg         *config.Config
	registry    *definition.Registry
	executor    *tool.Executor
	queue       *approval.Queue
	store       checkpoint.Store
	logs        *worklog.Manager
	clients     ClientFactory
	logger      *slog.Logger
	projectRoot string

	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithClientFactory overrides how model clients are constructed.
func WithClientFactory(f ClientFactory) Option {
	return func(e *Engine) { e.clients = f }
}

// WithEngineLogger sets the structured logger.
func WithEngineLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithProjectRoot sets the directory agent cache sources resolve under.
func WithProjectRoot(dir string) Option {
	return func(e *Engine) { e.projectRoot = dir }
}

// New wires an engine from its collaborators.
func New(cfg *config.Config, registry *definition.Registry, executor *tool.Executor, queue *approval.Queue, store checkpoint.Store, logs *worklog.Manager, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		registry: registry,
		executor: executor,
		queue:    queue,
		store:    store,
		logs:     logs,
		clients:  llm.New,
		logger:   slog.Default(),
		cancels:  make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunOptions adjust a single run.
type RunOptions struct {
	// Graph overrides the default FABER pipeline (compiled custom workflow).
	Graph *Graph
	// WorkflowID pins the logical thread id; empty generates WF-<work>-<hex8>.
	WorkflowID string
	// BudgetLimitUSD overrides the configured budget when non-nil.
	BudgetLimitUSD *float64
}

// NewWorkflowID derives a collision-free thread id for a work item.
func NewWorkflowID(workID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("WF-%s-%s", workID, suffix)
}

// Run executes a workflow for one work item from the beginning.
func (e *Engine) Run(ctx context.Context, workID string, opts RunOptions) (*Result, error) {
	graph := opts.Graph
	if graph == nil {
		graph = DefaultPipeline(e.cfg)
	}
	workflowID := opts.WorkflowID
	if workflowID == "" {
		workflowID = NewWorkflowID(workID)
	}
	budget := e.cfg.Cost.BudgetLimitUSD
	if opts.BudgetLimitUSD != nil {
		budget = *opts.BudgetLimitUSD
	}

	st := state.NewInitialState(workflowID, workID, budget)
	tracker := cost.NewTracker(budget,
		cost.WithThresholds(e.cfg.Cost.WarningThreshold, e.cfg.Cost.RequireApprovalAt),
		cost.WithTrackerLogger(e.logger),
	)

	run := e.logs.StartWorkflow(workflowID, workID)
	return e.runFrom(ctx, graph, st, tracker, run, 0)
}

// Resume continues a workflow from its last checkpoint. Execution restarts
// at the first phase without a completed result.
func (e *Engine) Resume(ctx context.Context, workflowID string, opts RunOptions) (*Result, error) {
	raw, err := e.store.Get(ctx, workflowID)
	if err != nil {
		return nil, errors.ErrCheckpointIO(workflowID, err)
	}
	if raw == nil {
		return nil, errors.ErrWorkflowNotFound(workflowID)
	}
	st := &state.WorkflowState{}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, errors.ErrCheckpointIO(workflowID, err)
	}

	graph := opts.Graph
	if graph == nil {
		graph = DefaultPipeline(e.cfg)
	}
	start := len(graph.Nodes)
	for i, node := range graph.Nodes {
		result := st.PhaseResults[node.Name]
		if result == nil || result.Status != state.PhaseCompleted {
			start = i
			break
		}
	}
	st.AwaitingApproval = false
	st.Error = ""
	st.ErrorPhase = ""

	tracker := cost.NewTracker(st.BudgetLimitUSD,
		cost.WithThresholds(e.cfg.Cost.WarningThreshold, e.cfg.Cost.RequireApprovalAt),
		cost.WithTrackerLogger(e.logger),
		cost.WithInitialUsage(st.TotalTokens, st.TotalCostUSD),
	)
	if st.BudgetApproved {
		tracker.ApproveBudget()
	}

	run := e.logs.StartWorkflow(st.WorkflowID, st.WorkID)
	run.Log(worklog.LevelInfo, "unknown", fmt.Sprintf("Resuming at phase %d of %d", start+1, len(graph.Nodes)), nil)
	return e.runFrom(ctx, graph, st, tracker, run, start)
}

// Cancel signals a running workflow to stop at its next cooperative point.
func (e *Engine) Cancel(workflowID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[workflowID]
	e.mu.Unlock()
	if ok {
		cancel(errors.ErrWorkflowCancelled(workflowID))
	}
	return ok
}

// runFrom is the state machine loop: gate, checkpoint, run phase,
// checkpoint, pick the next edge.
func (e *Engine) runFrom(ctx context.Context, graph *Graph, st *state.WorkflowState, tracker *cost.Tracker, run *worklog.RunLog, start int) (*Result, error) {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	// Tool functions record against this run's log via the context.
	runCtx = worklog.NewContext(runCtx, run)
	e.mu.Lock()
	e.cancels[st.WorkflowID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, st.WorkflowID)
		e.mu.Unlock()
	}()

	retries := st.RetryCount // carried across resume

	for i := start; i < len(graph.Nodes); {
		node := graph.Nodes[i]

		if err := context.Cause(runCtx); err != nil {
			return e.finish(runCtx, st, tracker, run, statusForCause(err), err)
		}

		if node.HumanApproval {
			proceed, err := e.gate(runCtx, node, st, tracker, run)
			if err != nil {
				return e.finish(runCtx, st, tracker, run, StatusFailed, err)
			}
			if !proceed {
				return e.finish(runCtx, st, tracker, run, StatusCancelled, nil)
			}
		}

		if err := e.saveCheckpoint(runCtx, st); err != nil {
			return e.finish(runCtx, st, tracker, run, StatusFailed, err)
		}

		next, phaseErr := e.runPhase(runCtx, node, st, run, e.usageFunc(runCtx, cancel, node.Name, st, tracker, run))
		next.TotalTokens = int64(tracker.TotalTokens())
		next.TotalCostUSD = tracker.TotalCostUSD()
		next.BudgetApproved = tracker.BudgetApproved()
		st = next

		if err := e.saveCheckpoint(runCtx, st); err != nil {
			return e.finish(runCtx, st, tracker, run, StatusFailed, err)
		}

		if phaseErr != nil {
			// A cancelled phase context means the run was interrupted, by
			// the caller, a budget stop, or a rejected budget approval.
			if cause := context.Cause(runCtx); cause != nil {
				return e.finish(runCtx, st, tracker, run, statusForCause(cause), cause)
			}
			if node.Fatal || node.OnFailure == nil {
				return e.finish(runCtx, st, tracker, run, StatusFailed, phaseErr)
			}
			target, ok := e.takeRetry(graph, node, st, run, &retries)
			if !ok {
				// Retries exhausted: release with known issues.
				st.ReleasedWithKnownIssues = true
				st.EvaluationResult = state.DecisionNoGo
				i = graph.Index(PhaseRelease)
				if i < 0 {
					return e.finish(runCtx, st, tracker, run, StatusFailed, phaseErr)
				}
				continue
			}
			st.Error = ""
			st.ErrorPhase = ""
			i = target
			continue
		}

		if node.Name == PhaseEvaluate && st.EvaluationResult == state.DecisionNoGo && node.OnFailure != nil {
			target, ok := e.takeRetry(graph, node, st, run, &retries)
			if ok {
				i = target
				continue
			}
			st.ReleasedWithKnownIssues = true
			run.Log(worklog.LevelWarning, node.Name, "Retries exhausted; proceeding to release with known issues", map[string]any{
				"retry_count": st.RetryCount,
			})
		}

		i++
	}

	// An interrupt during the final phase must not report success.
	if err := context.Cause(runCtx); err != nil {
		return e.finish(runCtx, st, tracker, run, statusForCause(err), err)
	}
	return e.finish(runCtx, st, tracker, run, StatusCompleted, nil)
}

// takeRetry consumes one retry of the node's failure policy and returns the
// target phase index. ok is false when the budget is exhausted.
func (e *Engine) takeRetry(graph *Graph, node *Node, st *state.WorkflowState, run *worklog.RunLog, retries *int) (int, bool) {
	policy := node.OnFailure
	if *retries >= policy.MaxRetries {
		return 0, false
	}
	target := graph.Index(policy.RetryPhase)
	if target < 0 {
		return 0, false
	}
	*retries++
	st.RetryCount = *retries
	st.EvaluationResult = state.DecisionNoGo
	st.ShouldRetry = true
	run.Log(worklog.LevelInfo, node.Name, fmt.Sprintf("Retrying from phase %s", policy.RetryPhase), map[string]any{
		"retry_count": st.RetryCount,
		"max_retries": policy.MaxRetries,
	})
	return target, true
}

// gate runs a pre-phase approval. Returns false when the workflow must end
// as cancelled (rejection, timeout or cancellation).
func (e *Engine) gate(ctx context.Context, node *Node, st *state.WorkflowState, tracker *cost.Tracker, run *worklog.RunLog) (bool, error) {
	question := fmt.Sprintf("Approve running phase %q for work item %s?", node.Name, st.WorkID)
	reqContext := map[string]any{
		"work_id":          st.WorkID,
		"completed_phases": st.CompletedPhases,
		"total_cost_usd":   tracker.TotalCostUSD(),
	}

	st.AwaitingApproval = true
	st.ApprovalRequest = map[string]any{"phase": node.Name, "question": question}
	// The one mid-phase suspension point: persist before blocking on a human.
	if err := e.saveCheckpoint(ctx, st); err != nil {
		return false, err
	}

	resp, err := e.queue.Request(ctx, st.WorkflowID, node.Name, question, nil, reqContext, e.cfg.Approval.TimeoutMinutes)
	st.AwaitingApproval = false
	if err != nil {
		return false, err
	}
	st.ApprovalResponse = map[string]any{
		"request_id": resp.RequestID,
		"decision":   resp.Decision,
		"responder":  resp.Responder,
		"channel":    resp.Channel,
	}

	switch resp.Decision {
	case approval.DecisionApprove:
		run.Log(worklog.LevelInfo, node.Name, "Phase approved", map[string]any{"responder": resp.Responder, "channel": resp.Channel})
		return true, nil
	case approval.DecisionTimeout:
		run.Log(worklog.LevelError, node.Name, "Approval timed out", nil)
		return false, nil
	default:
		run.Log(worklog.LevelError, node.Name, "Approval rejected", map[string]any{"responder": resp.Responder, "comment": resp.Comment})
		return false, nil
	}
}

// usageFunc builds the per-phase usage callback. It records usage and acts
// on budget classification inline: approval-required blocks on the queue,
// a hard stop or a rejected budget cancels the phase context.
func (e *Engine) usageFunc(ctx context.Context, cancel context.CancelCauseFunc, phase string, st *state.WorkflowState, tracker *cost.Tracker, run *worklog.RunLog) func(model string, usage llm.Usage) {
	return func(model string, usage llm.Usage) {
		_, err := tracker.AddUsage(model, int(usage.InputTokens), int(usage.OutputTokens), phase, nil)
		if err == nil {
			return
		}
		fe := errors.AsFaberError(err)
		if fe == nil {
			cancel(err)
			return
		}
		switch fe.Code {
		case errors.CodeBudgetExceeded:
			run.Log(worklog.LevelCritical, phase, "Budget exceeded; stopping workflow", map[string]any{
				"total_cost_usd": tracker.TotalCostUSD(),
			})
			cancel(err)
		case errors.CodeBudgetApprovalRequired:
			resp, reqErr := e.queue.Request(ctx, st.WorkflowID, "budget",
				fmt.Sprintf("Budget approval required: $%.4f of $%.2f used. Continue?", tracker.TotalCostUSD(), st.BudgetLimitUSD),
				nil,
				map[string]any{"total_cost_usd": tracker.TotalCostUSD(), "budget_limit_usd": st.BudgetLimitUSD, "phase": phase},
				e.cfg.Approval.TimeoutMinutes)
			if reqErr == nil && resp.Decision == approval.DecisionApprove {
				tracker.ApproveBudget()
				run.Log(worklog.LevelInfo, phase, "Budget approved; continuing", map[string]any{"responder": resp.Responder})
				return
			}
			cancel(errors.ErrApprovalRejected("budget", responderOf(resp)))
		}
	}
}

func responderOf(resp *approval.Response) string {
	if resp == nil {
		return ""
	}
	return resp.Responder
}

// saveCheckpoint serializes and durably persists the state. Checkpoint
// failures are fatal: the engine cannot guarantee resumption without them.
func (e *Engine) saveCheckpoint(ctx context.Context, st *state.WorkflowState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return errors.ErrCheckpointIO(st.WorkflowID, err)
	}
	if err := e.store.Put(ctx, st.WorkflowID, raw); err != nil {
		return errors.ErrCheckpointIO(st.WorkflowID, err)
	}
	return nil
}

// finish writes the terminal checkpoint and log, and builds the result.
func (e *Engine) finish(ctx context.Context, st *state.WorkflowState, tracker *cost.Tracker, run *worklog.RunLog, status string, cause error) (*Result, error) {
	st.TotalTokens = int64(tracker.TotalTokens())
	st.TotalCostUSD = tracker.TotalCostUSD()
	st.BudgetApproved = tracker.BudgetApproved()
	if cause != nil && st.Error == "" {
		st.Error = cause.Error()
	}

	// Best-effort: the terminal state must land even when the run context
	// is already cancelled.
	if err := e.saveCheckpoint(context.WithoutCancel(ctx), st); err != nil {
		e.logger.Error("terminal checkpoint failed", "workflow_id", st.WorkflowID, "error", err)
		if status == StatusCompleted {
			status = StatusFailed
		}
	}

	summary := tracker.GetSummary()
	if _, err := run.End(status, map[string]any{
		"completed_phases": st.CompletedPhases,
		"retry_count":      st.RetryCount,
		"total_cost_usd":   summary.TotalCostUSD,
		"total_tokens":     summary.TotalTokens,
		"by_phase":         summary.ByPhase,
		"by_model":         summary.ByModel,
	}); err != nil {
		e.logger.Error("workflow log persist failed", "workflow_id", st.WorkflowID, "error", err)
	}

	result := &Result{
		WorkflowID:       st.WorkflowID,
		WorkID:           st.WorkID,
		Status:           status,
		CompletedPhases:  append([]string(nil), st.CompletedPhases...),
		PRURL:            st.PRURL,
		SpecPath:         st.SpecPath,
		BranchName:       st.BranchName,
		Error:            st.Error,
		ErrorPhase:       st.ErrorPhase,
		RetryCount:       st.RetryCount,
		EvaluationResult: st.EvaluationResult,
		TotalCostUSD:     st.TotalCostUSD,
		TotalTokens:      st.TotalTokens,
	}
	if status == StatusFailed && cause != nil {
		return result, cause
	}
	return result, nil
}

// statusForCause maps a run-context cancellation cause to a terminal status.
func statusForCause(err error) string {
	if fe := errors.AsFaberError(err); fe != nil {
		switch fe.Code {
		case errors.CodeBudgetExceeded:
			return StatusFailed
		case errors.CodeApprovalRejected, errors.CodeApprovalTimeout, errors.CodeWorkflowCancelled:
			return StatusCancelled
		}
	}
	return StatusCancelled
}

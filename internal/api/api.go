// Package api is the programmatic surface the CLI drives: it wires the
// configuration into a registry, tool executor, approval queue, checkpoint
// store, worklog and engine, and exposes the workflow operations.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/fractary/faber/internal/approval"
	"github.com/fractary/faber/internal/checkpoint"
	"github.com/fractary/faber/internal/config"
	"github.com/fractary/faber/internal/definition"
	"github.com/fractary/faber/internal/engine"
	"github.com/fractary/faber/internal/errors"
	"github.com/fractary/faber/internal/spec"
	"github.com/fractary/faber/internal/state"
	"github.com/fractary/faber/internal/tool"
	"github.com/fractary/faber/internal/tool/builtin"
	"github.com/fractary/faber/internal/work"
	"github.com/fractary/faber/internal/worklog"
)

// Service owns the wired subsystems for one project. Construct once per
// process; operations are safe for concurrent use.
type Service struct {
	cfg         *config.Config
	projectRoot string
	logger      *slog.Logger

	registry   *definition.Registry
	executor   *tool.Executor
	queue      *approval.Queue
	store      checkpoint.Store
	logs       *worklog.Manager
	engine     *engine.Engine
	engineOpts []engine.Option
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithProjectRoot sets the directory definitions and specs resolve under.
func WithProjectRoot(dir string) ServiceOption {
	return func(s *Service) { s.projectRoot = dir }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithEngineOptions passes extra options through to the engine, such as a
// client factory override.
func WithEngineOptions(opts ...engine.Option) ServiceOption {
	return func(s *Service) { s.engineOpts = append(s.engineOpts, opts...) }
}

// NewService wires a service from configuration. Providers that cannot be
// constructed (no token, unsupported combination) disable their builtin
// tool modules rather than failing startup.
func NewService(cfg *config.Config, opts ...ServiceOption) (*Service, error) {
	s := &Service{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.projectRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve project root: %w", err)
		}
		s.projectRoot = wd
	}

	registry, err := definition.NewRegistry(s.projectRoot, s.logger)
	if err != nil {
		return nil, err
	}
	s.registry = registry
	s.executor = tool.NewExecutor(tool.WithLogger(s.logger))

	logs, err := worklog.NewManager(
		worklog.WithLogsDir(cfg.Observability.LogsDir),
		worklog.WithMinLevel(cfg.Observability.LogLevel),
		worklog.WithLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}
	s.logs = logs

	store, err := openStore(cfg.Checkpointing)
	if err != nil {
		return nil, err
	}
	s.store = store

	if err := s.registerBuiltins(); err != nil {
		store.Close()
		return nil, err
	}

	s.queue = approval.NewQueue(
		approval.WithNotifyChannels(s.adapters(cfg.Approval.NotifyChannels)...),
		approval.WithResponseChannels(s.adapters(cfg.Approval.ResponseChannels)...),
		approval.WithQueueLogger(s.logger),
	)

	engineOpts := append([]engine.Option{
		engine.WithEngineLogger(s.logger),
		engine.WithProjectRoot(s.projectRoot),
	}, s.engineOpts...)
	s.engine = engine.New(cfg, s.registry, s.executor, s.queue, s.store, s.logs, engineOpts...)
	return s, nil
}

// Close releases the checkpoint backend.
func (s *Service) Close() error {
	return s.store.Close()
}

// openStore maps the configuration's backend names onto checkpoint ones.
func openStore(cfg config.CheckpointConfig) (checkpoint.Store, error) {
	switch cfg.Backend {
	case "", checkpoint.BackendMemory:
		return checkpoint.Open(checkpoint.Config{Backend: checkpoint.BackendMemory})
	case "sqlite":
		return checkpoint.Open(checkpoint.Config{Backend: checkpoint.BackendFile, Path: cfg.SQLitePath})
	case "postgres":
		return checkpoint.Open(checkpoint.Config{Backend: checkpoint.BackendNetwork, Kind: "postgres", URL: cfg.PostgresURL})
	case "redis":
		return checkpoint.Open(checkpoint.Config{Backend: checkpoint.BackendNetwork, Kind: "redis", URL: cfg.RedisURL})
	default:
		return nil, errors.ErrConfigInvalid(fmt.Sprintf("checkpointing backend %q is not supported", cfg.Backend))
	}
}

// registerBuiltins wires the function-tool modules the default pipeline
// agents call. Missing provider credentials disable the affected modules.
func (s *Service) registerBuiltins() error {
	deps := builtin.Deps{
		Git:    work.NewGit(s.projectRoot, s.logger),
		Specs:  spec.NewManager(s.projectRoot, spec.WithLogger(s.logger)),
		Logs:   s.logs,
		Logger: s.logger,
	}

	wcfg := work.Config{
		Provider: s.cfg.Work.Provider,
		Owner:    s.cfg.Work.Owner,
		Repo:     s.cfg.Work.Repo,
		BaseURL:  s.cfg.Work.BaseURL,
		Project:  s.cfg.Work.Project,
	}
	if provider, err := work.NewWorkProvider(wcfg); err == nil {
		deps.Work = provider
	} else {
		s.logger.Warn("work provider unavailable; work tools disabled", "provider", wcfg.Provider, "error", err)
	}
	if host, err := work.NewRepoHost(wcfg); err == nil {
		deps.Repo = host
	} else {
		s.logger.Warn("repo host unavailable; repo tools disabled", "provider", wcfg.Provider, "error", err)
	}

	return builtin.Register(s.executor, s.registry, deps)
}

// adapters builds the approval adapters named by configuration. Unknown
// names are logged and skipped.
func (s *Service) adapters(names []string) []approval.Adapter {
	var out []approval.Adapter
	for _, name := range names {
		switch name {
		case "cli":
			out = append(out, approval.NewCLIAdapter())
		case "github":
			out = append(out, approval.NewGitHubAdapter(
				os.Getenv("GITHUB_TOKEN"), s.cfg.Work.Owner, s.cfg.Work.Repo))
		case "web":
			out = append(out, approval.NewWebAdapter(s.logger))
		case "slack":
			out = append(out, approval.NewSlackAdapter(
				os.Getenv("SLACK_BOT_TOKEN"), os.Getenv("FABER_SLACK_CHANNEL")))
		default:
			s.logger.Warn("unknown approval channel", "channel", name)
		}
	}
	return out
}

// RunOptions adjust one RunWorkflow call.
type RunOptions struct {
	// WorkflowPath compiles and runs a custom workflow document instead of
	// the default pipeline.
	WorkflowPath string
	// BudgetLimitUSD overrides the configured budget when non-nil.
	BudgetLimitUSD *float64
	// WorkflowID pins the thread id; empty generates one.
	WorkflowID string
}

// RunWorkflow executes a workflow for a work item and blocks until it
// reaches a terminal status.
func (s *Service) RunWorkflow(ctx context.Context, workID string, opts RunOptions) (*engine.Result, error) {
	runOpts := engine.RunOptions{
		WorkflowID:     opts.WorkflowID,
		BudgetLimitUSD: opts.BudgetLimitUSD,
	}
	if opts.WorkflowPath != "" {
		doc, err := engine.LoadDocument(opts.WorkflowPath)
		if err != nil {
			return nil, err
		}
		graph, err := engine.Compile(doc, s.cfg)
		if err != nil {
			return nil, err
		}
		runOpts.Graph = graph
	}
	return s.engine.Run(ctx, workID, runOpts)
}

// ResumeWorkflow continues a checkpointed workflow from its last completed
// phase boundary.
func (s *Service) ResumeWorkflow(ctx context.Context, workflowID string, opts RunOptions) (*engine.Result, error) {
	runOpts := engine.RunOptions{BudgetLimitUSD: opts.BudgetLimitUSD}
	if opts.WorkflowPath != "" {
		doc, err := engine.LoadDocument(opts.WorkflowPath)
		if err != nil {
			return nil, err
		}
		graph, err := engine.Compile(doc, s.cfg)
		if err != nil {
			return nil, err
		}
		runOpts.Graph = graph
	}
	return s.engine.Resume(ctx, workflowID, runOpts)
}

// CancelWorkflow stops a workflow running in this process. It reports
// whether a run with that id was active.
func (s *Service) CancelWorkflow(workflowID string) bool {
	return s.engine.Cancel(workflowID)
}

// ListWorkflows returns persisted workflow logs, newest first.
func (s *Service) ListWorkflows(filter worklog.ListFilter) ([]*worklog.WorkflowLog, error) {
	return s.logs.List(filter)
}

// WorkflowView combines a workflow's log with its checkpointed state.
// Either part may be nil when only the other exists.
type WorkflowView struct {
	Log   *worklog.WorkflowLog `json:"log,omitempty"`
	State *state.WorkflowState `json:"state,omitempty"`
}

// ViewWorkflow loads the log and checkpoint for one workflow id.
func (s *Service) ViewWorkflow(ctx context.Context, workflowID string) (*WorkflowView, error) {
	view := &WorkflowView{}

	log, err := s.logs.Get(workflowID)
	if err != nil {
		return nil, err
	}
	view.Log = log

	raw, err := s.store.Get(ctx, workflowID)
	if err != nil {
		return nil, errors.ErrCheckpointIO(workflowID, err)
	}
	if raw != nil {
		st := &state.WorkflowState{}
		if err := json.Unmarshal(raw, st); err != nil {
			return nil, errors.ErrCheckpointIO(workflowID, err)
		}
		view.State = st
	}

	if view.Log == nil && view.State == nil {
		return nil, errors.ErrWorkflowNotFound(workflowID)
	}
	return view, nil
}

// CostSummary returns the persisted cost breakdown of a finished workflow.
func (s *Service) CostSummary(workflowID string) (map[string]any, error) {
	log, err := s.logs.Get(workflowID)
	if err != nil {
		return nil, err
	}
	if log == nil {
		return nil, errors.ErrWorkflowNotFound(workflowID)
	}
	return log.Summary, nil
}

// PendingApprovals lists approval requests awaiting a response.
func (s *Service) PendingApprovals() []*approval.Request {
	return s.queue.Pending()
}

// SubmitApproval records a decision for a pending request. It reports
// whether this response was the first.
func (s *Service) SubmitApproval(requestID, decision, comment, responder string) bool {
	return s.queue.SubmitResponse(&approval.Response{
		RequestID: requestID,
		Decision:  decision,
		Comment:   comment,
		Responder: responder,
		Channel:   "api",
	})
}

// Agents lists the discovered agent definitions, optionally tag-filtered.
func (s *Service) Agents(tags []string) []*definition.Agent {
	return s.registry.ListAgents(tags)
}

// Tools lists the discovered tool definitions, optionally tag-filtered.
func (s *Service) Tools(tags []string) []*definition.Tool {
	return s.registry.ListTools(tags)
}

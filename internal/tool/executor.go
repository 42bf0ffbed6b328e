// Package tool executes declarative tool definitions under sandbox policy.
//
// Three implementation variants are supported: shell (direct process spawn,
// no shell interpreter), function (in-process registered callables) and
// http (outbound requests behind SSRF validation). All failures surface as
// tool-execution errors; none terminate the calling workflow.
package tool

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fractary/faber/internal/definition"
	"github.com/fractary/faber/internal/errors"
)

// DefaultHTTPTimeout bounds a single http-variant request.
const DefaultHTTPTimeout = 30 * time.Second

// Executor runs tool definitions. Construct once per process with the
// trusted function modules registered, then share across workflows.
type Executor struct {
	logger  *slog.Logger
	client  *http.Client
	modules *moduleRegistry
	workers *semaphore.Weighted
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithHTTPClient overrides the HTTP client used by http-variant tools.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) { e.client = client }
}

// WithWorkerLimit caps concurrent synchronous function executions.
func WithWorkerLimit(n int64) Option {
	return func(e *Executor) { e.workers = semaphore.NewWeighted(n) }
}

// NewExecutor builds an Executor with defaults: 30 s HTTP timeout and a
// worker pool of 8 slots for synchronous functions.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		logger:  slog.Default(),
		client:  &http.Client{Timeout: DefaultHTTPTimeout},
		modules: newModuleRegistry(),
		workers: semaphore.NewWeighted(8),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterModule installs a function module under an exact name. Only
// trusted initialization code may call this; tool definitions can never
// introduce new modules.
func (e *Executor) RegisterModule(module string, funcs map[string]Function) {
	e.modules.register(module, funcs)
}

// Execute validates params against the tool's declared schema and runs the
// implementation variant. The returned map always carries a "status" key.
func (e *Executor) Execute(ctx context.Context, tool *definition.Tool, params map[string]any) (map[string]any, error) {
	resolved, err := resolveParams(tool, params)
	if err != nil {
		return nil, errors.ErrToolExecution(tool.Name, err.Error())
	}

	start := time.Now()
	var result map[string]any
	switch tool.Implementation.Type {
	case definition.ImplementationShell:
		result, err = e.executeShell(ctx, tool, resolved)
	case definition.ImplementationFunction:
		result, err = e.executeFunction(ctx, tool, resolved)
	case definition.ImplementationHTTP:
		result, err = e.executeHTTP(ctx, tool, resolved)
	default:
		err = fmt.Errorf("unknown implementation type %q", tool.Implementation.Type)
	}
	if err != nil {
		e.logger.Warn("tool execution failed",
			"tool", tool.Name,
			"type", tool.Implementation.Type,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		if fe := errors.AsFaberError(err); fe != nil {
			return nil, fe
		}
		return nil, errors.ErrToolExecution(tool.Name, err.Error())
	}
	e.logger.Debug("tool executed",
		"tool", tool.Name,
		"type", tool.Implementation.Type,
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

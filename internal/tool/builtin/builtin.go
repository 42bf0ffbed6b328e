// Package builtin registers the in-process tool modules workflow agents
// call: work tracking, repository operations, specifications, logging and
// source analysis. Each module pairs executor functions with registry tool
// definitions so agents can reference the tools by name.
package builtin

import (
	"fmt"
	"log/slog"

	"github.com/fractary/faber/internal/definition"
	"github.com/fractary/faber/internal/spec"
	"github.com/fractary/faber/internal/tool"
	"github.com/fractary/faber/internal/work"
	"github.com/fractary/faber/internal/worklog"
)

// Module names, mirrored by tool definitions' implementation.module.
const (
	ModuleWork     = "faber.tools.work"
	ModuleRepo     = "faber.tools.repo"
	ModuleSpecs    = "faber.tools.specs"
	ModuleLogs     = "faber.tools.logs"
	ModuleAnalysis = "faber.tools.analysis"
)

// Deps carries the backends the tool modules delegate to. Nil fields
// disable the corresponding module.
type Deps struct {
	Work   work.WorkProvider
	Repo   work.RepoHost
	Git    *work.Git
	Specs  *spec.Manager
	Logs   *worklog.Manager
	Logger *slog.Logger
}

// Register wires every available module into the executor and its tool
// definitions into the registry.
func Register(executor *tool.Executor, registry *definition.Registry, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	modules := []struct {
		name  string
		funcs map[string]tool.Function
		defs  []*definition.Tool
	}{
		{ModuleWork, workFunctions(deps), workDefinitions()},
		{ModuleRepo, repoFunctions(deps), repoDefinitions()},
		{ModuleSpecs, specFunctions(deps), specDefinitions()},
		{ModuleLogs, logFunctions(deps), logDefinitions()},
		{ModuleAnalysis, analysisFunctions(deps), analysisDefinitions()},
	}

	for _, m := range modules {
		if m.funcs == nil {
			deps.Logger.Debug("builtin module disabled", "module", m.name)
			continue
		}
		executor.RegisterModule(m.name, m.funcs)
		for _, def := range m.defs {
			if err := registry.RegisterBuiltinTool(def); err != nil {
				return fmt.Errorf("register builtin %s: %w", def.Name, err)
			}
		}
		deps.Logger.Debug("builtin module registered", "module", m.name, "tools", len(m.defs))
	}
	return nil
}

// def builds one function-tool definition.
func def(module, name, description string, params map[string]definition.Parameter) *definition.Tool {
	return &definition.Tool{
		Name:        name,
		Description: description,
		Version:     "1.0",
		Tags:        []string{"builtin"},
		Parameters:  params,
		Implementation: definition.Implementation{
			Type:     definition.ImplementationFunction,
			Module:   module,
			Function: name,
		},
	}
}

// --- argument helpers ---

func stringArg(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func requiredStringArg(params map[string]any, key string) (string, error) {
	v := stringArg(params, key)
	if v == "" {
		return "", fmt.Errorf("parameter %q is required", key)
	}
	return v, nil
}

func boolArg(params map[string]any, key string, fallback bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return fallback
}

func intArg(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func stringsArg(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func mapArg(params map[string]any, key string) map[string]any {
	if v, ok := params[key].(map[string]any); ok {
		return v
	}
	return nil
}

package builtin

import (
	"context"
	"fmt"

	"github.com/fractary/faber/internal/definition"
	"github.com/fractary/faber/internal/tool"
	"github.com/fractary/faber/internal/worklog"
)

var workflowPhases = map[string]bool{
	"frame":     true,
	"architect": true,
	"build":     true,
	"evaluate":  true,
	"release":   true,
}

func logFunctions(deps Deps) map[string]tool.Function {
	if deps.Logs == nil {
		return nil
	}

	record := func(level string) tool.Function {
		return func(ctx context.Context, params map[string]any) (any, error) {
			message, err := requiredStringArg(params, "message")
			if err != nil {
				return nil, err
			}
			phase := stringArg(params, "phase")
			if phase != "" && !workflowPhases[phase] {
				return nil, fmt.Errorf("unknown phase %q", phase)
			}
			// Entries land in the log of the run that invoked the tool.
			run := worklog.FromContext(ctx)
			if run == nil {
				return nil, fmt.Errorf("no active workflow log")
			}
			run.Log(level, phase, message, mapArg(params, "metadata"))
			return map[string]any{"logged": true, "level": level}, nil
		}
	}

	return map[string]tool.Function{
		"log_info":    record(worklog.LevelInfo),
		"log_warning": record(worklog.LevelWarning),
		"log_error":   record(worklog.LevelError),
	}
}

func logDefinitions() []*definition.Tool {
	params := func(desc string) map[string]definition.Parameter {
		return map[string]definition.Parameter{
			"message":  {Type: "string", Description: desc, Required: true},
			"phase":    {Type: "string", Description: "Workflow phase the entry belongs to", Enum: []any{"frame", "architect", "build", "evaluate", "release"}},
			"metadata": {Type: "object", Description: "Structured context for the entry"},
		}
	}
	return []*definition.Tool{
		def(ModuleLogs, "log_info", "Record an informational entry in the workflow log.", params("Message to record")),
		def(ModuleLogs, "log_warning", "Record a warning in the workflow log.", params("Warning to record")),
		def(ModuleLogs, "log_error", "Record an error in the workflow log.", params("Error to record")),
	}
}

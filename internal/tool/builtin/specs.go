package builtin

import (
	"context"

	"github.com/fractary/faber/internal/definition"
	"github.com/fractary/faber/internal/spec"
	"github.com/fractary/faber/internal/tool"
)

func specMap(s *spec.Specification, withContent bool) map[string]any {
	m := map[string]any{
		"id":      s.ID,
		"path":    s.Path,
		"title":   s.Title,
		"status":  s.Status,
		"version": s.Version,
	}
	if s.WorkID != "" {
		m["work_id"] = s.WorkID
	}
	if withContent {
		m["content"] = s.Content
	}
	return m
}

func specFunctions(deps Deps) map[string]tool.Function {
	if deps.Specs == nil {
		return nil
	}
	specs := deps.Specs

	return map[string]tool.Function{
		"create_specification": func(ctx context.Context, params map[string]any) (any, error) {
			title, err := requiredStringArg(params, "title")
			if err != nil {
				return nil, err
			}
			template := stringArg(params, "template")
			if template == "" {
				template = "feature"
			}
			s, err := specs.Create(title, template, stringArg(params, "work_id"), stringArg(params, "context"))
			if err != nil {
				return nil, err
			}
			return specMap(s, false), nil
		},

		"get_specification": func(ctx context.Context, params map[string]any) (any, error) {
			id, err := requiredStringArg(params, "spec_id")
			if err != nil {
				return nil, err
			}
			s, err := specs.Get(id)
			if err != nil {
				return nil, err
			}
			return specMap(s, true), nil
		},

		"validate_specification": func(ctx context.Context, params map[string]any) (any, error) {
			id, err := requiredStringArg(params, "spec_id")
			if err != nil {
				return nil, err
			}
			result, err := specs.Validate(id)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"status":           result.Status,
				"completeness":     result.Completeness,
				"missing_sections": result.MissingSections,
				"suggestions":      result.Suggestions,
			}, nil
		},

		"get_refinement_questions": func(ctx context.Context, params map[string]any) (any, error) {
			id, err := requiredStringArg(params, "spec_id")
			if err != nil {
				return nil, err
			}
			questions, err := specs.RefinementQuestions(id)
			if err != nil {
				return nil, err
			}
			return map[string]any{"questions": questions}, nil
		},

		"update_specification": func(ctx context.Context, params map[string]any) (any, error) {
			id, err := requiredStringArg(params, "spec_id")
			if err != nil {
				return nil, err
			}
			s, err := specs.Update(id,
				stringArg(params, "content"),
				stringArg(params, "status"),
				stringArg(params, "version"))
			if err != nil {
				return nil, err
			}
			return specMap(s, false), nil
		},

		"list_specifications": func(ctx context.Context, params map[string]any) (any, error) {
			all := specs.List(stringArg(params, "status"), stringArg(params, "work_id"))
			out := make([]map[string]any, 0, len(all))
			for _, s := range all {
				out = append(out, specMap(s, false))
			}
			return map[string]any{"specifications": out, "count": len(out)}, nil
		},

		"archive_specification": func(ctx context.Context, params map[string]any) (any, error) {
			id, err := requiredStringArg(params, "spec_id")
			if err != nil {
				return nil, err
			}
			s, err := specs.Archive(id)
			if err != nil {
				return nil, err
			}
			return specMap(s, false), nil
		},
	}
}

func specDefinitions() []*definition.Tool {
	specIDParam := map[string]definition.Parameter{
		"spec_id": {Type: "string", Description: "Specification id (SPEC-00001) or work id", Required: true},
	}
	return []*definition.Tool{
		def(ModuleSpecs, "create_specification",
			"Create a structured specification document from a template.",
			map[string]definition.Parameter{
				"title":    {Type: "string", Description: "Specification title", Required: true},
				"template": {Type: "string", Description: "Template to render", Enum: []any{"feature", "bug", "infrastructure", "api"}},
				"work_id":  {Type: "string", Description: "Work item id to link"},
				"context":  {Type: "string", Description: "Additional context for the summary"},
			}),
		def(ModuleSpecs, "get_specification",
			"Retrieve a specification by id or work id, including its content.",
			specIDParam),
		def(ModuleSpecs, "validate_specification",
			"Check a specification for completeness: required sections and checked items.",
			specIDParam),
		def(ModuleSpecs, "get_refinement_questions",
			"Generate clarifying questions that would improve a specification.",
			specIDParam),
		def(ModuleSpecs, "update_specification",
			"Update a specification's content, status or version.",
			map[string]definition.Parameter{
				"spec_id": {Type: "string", Description: "Specification id", Required: true},
				"content": {Type: "string", Description: "Replacement content"},
				"status":  {Type: "string", Description: "New status", Enum: []any{"draft", "in_progress", "complete", "archived"}},
				"version": {Type: "string", Description: "New version, e.g. 1.1.0"},
			}),
		def(ModuleSpecs, "list_specifications",
			"List specifications, optionally filtered by status or work id.",
			map[string]definition.Parameter{
				"status":  {Type: "string", Description: "Status filter"},
				"work_id": {Type: "string", Description: "Work item filter"},
			}),
		def(ModuleSpecs, "archive_specification",
			"Archive a specification that is no longer active.",
			specIDParam),
	}
}

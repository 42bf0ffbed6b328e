package builtin

import (
	"context"

	"github.com/fractary/faber/internal/definition"
	"github.com/fractary/faber/internal/tool"
	"github.com/fractary/faber/internal/work"
)

func issueMap(issue *work.Issue) map[string]any {
	m := map[string]any{
		"id":     issue.ID,
		"title":  issue.Title,
		"body":   issue.Body,
		"state":  issue.State,
		"labels": issue.Labels,
		"url":    issue.URL,
	}
	if issue.Assignee != "" {
		m["assignee"] = issue.Assignee
	}
	return m
}

func workFunctions(deps Deps) map[string]tool.Function {
	if deps.Work == nil {
		return nil
	}
	provider := deps.Work

	return map[string]tool.Function{
		"fetch_issue": func(ctx context.Context, params map[string]any) (any, error) {
			id, err := requiredStringArg(params, "issue_id")
			if err != nil {
				return nil, err
			}
			issue, err := provider.FetchIssue(ctx, id)
			if err != nil {
				return nil, err
			}
			return issueMap(issue), nil
		},

		"create_issue": func(ctx context.Context, params map[string]any) (any, error) {
			title, err := requiredStringArg(params, "title")
			if err != nil {
				return nil, err
			}
			issue, err := provider.CreateIssue(ctx, title, stringArg(params, "body"), stringsArg(params, "labels"))
			if err != nil {
				return nil, err
			}
			return issueMap(issue), nil
		},

		"classify_work_type": func(ctx context.Context, params map[string]any) (any, error) {
			id, err := requiredStringArg(params, "issue_id")
			if err != nil {
				return nil, err
			}
			issue, err := provider.FetchIssue(ctx, id)
			if err != nil {
				return nil, err
			}
			c := work.Classify(issue)
			return map[string]any{
				"type":       c.Type,
				"confidence": c.Confidence,
				"reasoning":  c.Reasoning,
			}, nil
		},

		"create_issue_comment": func(ctx context.Context, params map[string]any) (any, error) {
			id, err := requiredStringArg(params, "issue_id")
			if err != nil {
				return nil, err
			}
			body, err := requiredStringArg(params, "body")
			if err != nil {
				return nil, err
			}
			body = work.PhaseComment(stringArg(params, "context"), body)
			comment, err := provider.CreateComment(ctx, id, body)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"id":   comment.ID,
				"body": comment.Body,
				"url":  comment.URL,
			}, nil
		},

		"close_issue": func(ctx context.Context, params map[string]any) (any, error) {
			id, err := requiredStringArg(params, "issue_id")
			if err != nil {
				return nil, err
			}
			if err := provider.CloseIssue(ctx, id, stringArg(params, "reason")); err != nil {
				return nil, err
			}
			return map[string]any{"issue_id": id, "closed": true}, nil
		},

		"search_issues": func(ctx context.Context, params map[string]any) (any, error) {
			issues, err := provider.SearchIssues(ctx, work.SearchOptions{
				Query:  stringArg(params, "query"),
				State:  stringArg(params, "state"),
				Labels: stringsArg(params, "labels"),
				Limit:  intArg(params, "limit", 0),
			})
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, 0, len(issues))
			for _, issue := range issues {
				out = append(out, issueMap(issue))
			}
			return map[string]any{"issues": out, "count": len(out)}, nil
		},
	}
}

func workDefinitions() []*definition.Tool {
	return []*definition.Tool{
		def(ModuleWork, "fetch_issue",
			"Fetch a work item from the issue tracker by its identifier.",
			map[string]definition.Parameter{
				"issue_id": {Type: "string", Description: "Issue number or key", Required: true},
			}),
		def(ModuleWork, "create_issue",
			"Create a new work item in the issue tracker.",
			map[string]definition.Parameter{
				"title":  {Type: "string", Description: "Issue title", Required: true},
				"body":   {Type: "string", Description: "Issue body"},
				"labels": {Type: "array", Description: "Labels to apply"},
			}),
		def(ModuleWork, "classify_work_type",
			"Classify an issue's work type (feature, bug, chore, patch) from its labels and title.",
			map[string]definition.Parameter{
				"issue_id": {Type: "string", Description: "Issue number or key", Required: true},
			}),
		def(ModuleWork, "create_issue_comment",
			"Post a comment on a work item, optionally tagged with the workflow phase.",
			map[string]definition.Parameter{
				"issue_id": {Type: "string", Description: "Issue number or key", Required: true},
				"body":     {Type: "string", Description: "Comment body", Required: true},
				"context":  {Type: "string", Description: "Workflow phase producing the comment", Enum: []any{"frame", "architect", "build", "evaluate", "release"}},
			}),
		def(ModuleWork, "close_issue",
			"Close a work item, optionally posting a closing reason.",
			map[string]definition.Parameter{
				"issue_id": {Type: "string", Description: "Issue number or key", Required: true},
				"reason":   {Type: "string", Description: "Closing reason comment"},
			}),
		def(ModuleWork, "search_issues",
			"Search work items by text, state and labels.",
			map[string]definition.Parameter{
				"query":  {Type: "string", Description: "Free-text search"},
				"state":  {Type: "string", Description: "Issue state filter", Enum: []any{"open", "closed", "all"}},
				"labels": {Type: "array", Description: "Labels that must all be present"},
				"limit":  {Type: "integer", Description: "Maximum results (capped at 100)"},
			}),
	}
}

package builtin

import (
	"context"
	"fmt"

	"github.com/fractary/faber/internal/definition"
	"github.com/fractary/faber/internal/tool"
	"github.com/fractary/faber/internal/work"
)

func repoFunctions(deps Deps) map[string]tool.Function {
	if deps.Git == nil {
		return nil
	}
	git := deps.Git
	host := deps.Repo

	return map[string]tool.Function{
		"get_current_branch": func(ctx context.Context, params map[string]any) (any, error) {
			branch, err := git.CurrentBranch(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"branch": branch}, nil
		},

		"create_branch": func(ctx context.Context, params map[string]any) (any, error) {
			name, err := requiredStringArg(params, "name")
			if err != nil {
				return nil, err
			}
			branch, err := git.CreateBranch(ctx, name, stringArg(params, "base"), boolArg(params, "checkout", true))
			if err != nil {
				return nil, err
			}
			return map[string]any{"branch": branch.Name, "sha": branch.SHA, "checked_out": branch.Current}, nil
		},

		"generate_branch_name": func(ctx context.Context, params map[string]any) (any, error) {
			description, err := requiredStringArg(params, "description")
			if err != nil {
				return nil, err
			}
			name := work.GenerateBranchName(description, stringArg(params, "work_type"), stringArg(params, "work_id"))
			return map[string]any{"branch_name": name}, nil
		},

		"git_commit": func(ctx context.Context, params map[string]any) (any, error) {
			message, err := requiredStringArg(params, "message")
			if err != nil {
				return nil, err
			}
			commit, err := git.Commit(ctx, work.CommitOptions{
				Message:  message,
				Type:     stringArg(params, "commit_type"),
				Scope:    stringArg(params, "scope"),
				WorkID:   stringArg(params, "work_id"),
				Breaking: boolArg(params, "breaking", false),
				Body:     stringArg(params, "body"),
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{"sha": commit.SHA, "subject": commit.Subject}, nil
		},

		"git_push": func(ctx context.Context, params map[string]any) (any, error) {
			branch := stringArg(params, "branch")
			err := git.Push(ctx, branch,
				stringArg(params, "remote"),
				boolArg(params, "set_upstream", true),
				boolArg(params, "force", false))
			if err != nil {
				return nil, err
			}
			return map[string]any{"pushed": true, "branch": branch}, nil
		},

		"create_pull_request": func(ctx context.Context, params map[string]any) (any, error) {
			if host == nil {
				return nil, fmt.Errorf("no repository host configured")
			}
			title, err := requiredStringArg(params, "title")
			if err != nil {
				return nil, err
			}
			head, err := requiredStringArg(params, "head")
			if err != nil {
				return nil, err
			}
			base := stringArg(params, "base")
			if base == "" {
				base = git.DefaultBranch(ctx)
			}
			pr, err := host.CreatePullRequest(ctx, work.PullRequestOptions{
				Title: title,
				Body:  stringArg(params, "body"),
				Head:  head,
				Base:  base,
				Draft: boolArg(params, "draft", false),
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"number": pr.Number,
				"title":  pr.Title,
				"url":    pr.URL,
				"state":  pr.State,
				"draft":  pr.Draft,
			}, nil
		},

		"list_branches": func(ctx context.Context, params map[string]any) (any, error) {
			branches, err := git.ListBranches(ctx, stringArg(params, "pattern"))
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, 0, len(branches))
			for _, b := range branches {
				out = append(out, map[string]any{
					"name":     b.Name,
					"sha":      b.SHA,
					"upstream": b.Upstream,
					"current":  b.Current,
				})
			}
			return map[string]any{"branches": out, "count": len(out)}, nil
		},

		"get_commits": func(ctx context.Context, params map[string]any) (any, error) {
			commits, err := git.Commits(ctx, work.LogOptions{
				Since: stringArg(params, "since"),
				Until: stringArg(params, "until"),
				Limit: intArg(params, "limit", 0),
			})
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, 0, len(commits))
			for _, c := range commits {
				out = append(out, map[string]any{
					"sha":     c.SHA,
					"subject": c.Subject,
					"author":  c.Author,
					"date":    c.Date,
				})
			}
			return map[string]any{"commits": out, "count": len(out)}, nil
		},
	}
}

func repoDefinitions() []*definition.Tool {
	return []*definition.Tool{
		def(ModuleRepo, "get_current_branch",
			"Get the currently checked-out git branch.",
			nil),
		def(ModuleRepo, "create_branch",
			"Create a git branch off a base branch.",
			map[string]definition.Parameter{
				"name":     {Type: "string", Description: "Branch name", Required: true},
				"base":     {Type: "string", Description: "Base branch (default branch when omitted)"},
				"checkout": {Type: "boolean", Description: "Check out the new branch (default true)"},
			}),
		def(ModuleRepo, "generate_branch_name",
			"Generate a semantic branch name like feat/123-add-login from a description.",
			map[string]definition.Parameter{
				"description": {Type: "string", Description: "Short description of the work", Required: true},
				"work_type":   {Type: "string", Description: "Work type", Enum: []any{"feature", "bug", "chore", "patch", "docs", "refactor"}},
				"work_id":     {Type: "string", Description: "Work item id to embed"},
			}),
		def(ModuleRepo, "git_commit",
			"Stage all changes and create a conventional commit.",
			map[string]definition.Parameter{
				"message":     {Type: "string", Description: "Commit subject without the type prefix", Required: true},
				"commit_type": {Type: "string", Description: "Conventional commit type (default feat)"},
				"scope":       {Type: "string", Description: "Commit scope"},
				"work_id":     {Type: "string", Description: "Work item id for the Refs footer"},
				"breaking":    {Type: "boolean", Description: "Mark as a breaking change"},
				"body":        {Type: "string", Description: "Extended commit body"},
			}),
		def(ModuleRepo, "git_push",
			"Push a branch to the remote.",
			map[string]definition.Parameter{
				"branch":       {Type: "string", Description: "Branch to push (current when omitted)"},
				"remote":       {Type: "string", Description: "Remote name (default origin)"},
				"set_upstream": {Type: "boolean", Description: "Set the upstream ref (default true)"},
				"force":        {Type: "boolean", Description: "Force push with lease"},
			}),
		def(ModuleRepo, "create_pull_request",
			"Open a pull request from a branch.",
			map[string]definition.Parameter{
				"title": {Type: "string", Description: "Pull request title", Required: true},
				"body":  {Type: "string", Description: "Pull request description"},
				"head":  {Type: "string", Description: "Source branch", Required: true},
				"base":  {Type: "string", Description: "Target branch (default branch when omitted)"},
				"draft": {Type: "boolean", Description: "Open as draft"},
			}),
		def(ModuleRepo, "list_branches",
			"List local git branches, optionally filtered by a glob pattern.",
			map[string]definition.Parameter{
				"pattern": {Type: "string", Description: "Glob pattern, e.g. feat/*"},
			}),
		def(ModuleRepo, "get_commits",
			"Get commit history, newest first.",
			map[string]definition.Parameter{
				"since": {Type: "string", Description: "Start commit or branch"},
				"until": {Type: "string", Description: "End commit or branch"},
				"limit": {Type: "integer", Description: "Maximum commits (default 50)"},
			}),
	}
}

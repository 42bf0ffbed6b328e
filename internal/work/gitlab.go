package work

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	gogitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/fractary/faber/internal/errors"
)

var (
	_ WorkProvider = (*GitLabClient)(nil)
	_ RepoHost     = (*GitLabClient)(nil)
)

// GitLabClient serves issues and merge requests for one project, addressed
// as "owner/repo".
type GitLabClient struct {
	client    *gogitlab.Client
	projectID string
}

// NewGitLabClient builds a client for one project. The token comes from
// GITLAB_TOKEN unless the config names another variable.
func NewGitLabClient(cfg Config) (*GitLabClient, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.ErrConfigMissing("work.owner / work.repo")
	}
	tokenVar := cfg.TokenEnvVar
	if tokenVar == "" {
		tokenVar = "GITLAB_TOKEN"
	}
	token := os.Getenv(tokenVar)
	if token == "" {
		return nil, errors.ErrConfigMissing(tokenVar)
	}

	var client *gogitlab.Client
	var err error
	if cfg.BaseURL != "" {
		baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
		client, err = gogitlab.NewClient(token, gogitlab.WithBaseURL(baseURL+"/api/v4"))
	} else {
		client, err = gogitlab.NewClient(token)
	}
	if err != nil {
		return nil, fmt.Errorf("create gitlab client: %w", err)
	}

	return &GitLabClient{client: client, projectID: cfg.Owner + "/" + cfg.Repo}, nil
}

// Name returns the provider name.
func (g *GitLabClient) Name() string { return ProviderGitLab }

func gitlabIID(id string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(id, "#"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("issue id %q is not a number", id)
	}
	return n, nil
}

// gitlabState maps the uniform open/closed vocabulary onto GitLab's
// opened/closed.
func gitlabState(state string) string {
	if state == "open" {
		return "opened"
	}
	return state
}

func convertGitLabIssue(issue *gogitlab.Issue) *Issue {
	out := &Issue{
		ID:     strconv.FormatInt(int64(issue.IID), 10),
		Title:  issue.Title,
		Body:   issue.Description,
		State:  issue.State,
		Labels: issue.Labels,
		URL:    issue.WebURL,
	}
	if out.State == "opened" {
		out.State = "open"
	}
	if issue.Assignee != nil {
		out.Assignee = issue.Assignee.Username
	}
	if issue.CreatedAt != nil {
		out.CreatedAt = *issue.CreatedAt
	}
	if issue.UpdatedAt != nil {
		out.UpdatedAt = *issue.UpdatedAt
	}
	return out
}

// FetchIssue loads one issue by IID.
func (g *GitLabClient) FetchIssue(ctx context.Context, id string) (*Issue, error) {
	iid, err := gitlabIID(id)
	if err != nil {
		return nil, err
	}
	issue, _, err := g.client.Issues.GetIssue(g.projectID, iid, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch issue #%d: %w", iid, err)
	}
	return convertGitLabIssue(issue), nil
}

// CreateIssue opens a new issue.
func (g *GitLabClient) CreateIssue(ctx context.Context, title, body string, labels []string) (*Issue, error) {
	opts := &gogitlab.CreateIssueOptions{
		Title:       gogitlab.Ptr(title),
		Description: gogitlab.Ptr(body),
	}
	if len(labels) > 0 {
		labelOpts := gogitlab.LabelOptions(labels)
		opts.Labels = &labelOpts
	}
	issue, _, err := g.client.Issues.CreateIssue(g.projectID, opts, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	return convertGitLabIssue(issue), nil
}

// CreateComment posts a note on an issue.
func (g *GitLabClient) CreateComment(ctx context.Context, id, body string) (*Comment, error) {
	iid, err := gitlabIID(id)
	if err != nil {
		return nil, err
	}
	note, _, err := g.client.Notes.CreateIssueNote(g.projectID, iid, &gogitlab.CreateIssueNoteOptions{
		Body: gogitlab.Ptr(body),
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("comment on issue #%d: %w", iid, err)
	}
	return &Comment{
		ID:     fmt.Sprintf("%d", note.ID),
		Body:   note.Body,
		Author: note.Author.Username,
	}, nil
}

// CloseIssue closes an issue, posting reason as a note first when set.
func (g *GitLabClient) CloseIssue(ctx context.Context, id, reason string) error {
	iid, err := gitlabIID(id)
	if err != nil {
		return err
	}
	if reason != "" {
		if _, err := g.CreateComment(ctx, id, reason); err != nil {
			return err
		}
	}
	_, _, err = g.client.Issues.UpdateIssue(g.projectID, iid, &gogitlab.UpdateIssueOptions{
		StateEvent: gogitlab.Ptr("close"),
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("close issue #%d: %w", iid, err)
	}
	return nil
}

// SearchIssues lists project issues matching the options.
func (g *GitLabClient) SearchIssues(ctx context.Context, opts SearchOptions) ([]*Issue, error) {
	listOpts := &gogitlab.ListProjectIssuesOptions{
		ListOptions: gogitlab.ListOptions{PerPage: int64(opts.limit())},
	}
	state := opts.State
	if state == "" {
		state = "open"
	}
	if state != "all" {
		listOpts.State = gogitlab.Ptr(gitlabState(state))
	}
	if opts.Query != "" {
		listOpts.Search = gogitlab.Ptr(opts.Query)
	}
	if len(opts.Labels) > 0 {
		labelOpts := gogitlab.LabelOptions(opts.Labels)
		listOpts.Labels = &labelOpts
	}

	issues, _, err := g.client.Issues.ListProjectIssues(g.projectID, listOpts, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("search issues: %w", err)
	}
	out := make([]*Issue, 0, len(issues))
	for _, issue := range issues {
		out = append(out, convertGitLabIssue(issue))
	}
	return out, nil
}

// CreatePullRequest opens a merge request.
func (g *GitLabClient) CreatePullRequest(ctx context.Context, opts PullRequestOptions) (*PullRequest, error) {
	title := opts.Title
	// GitLab marks drafts through the title.
	if opts.Draft && !strings.HasPrefix(title, "Draft:") {
		title = "Draft: " + title
	}
	createOpts := &gogitlab.CreateMergeRequestOptions{
		Title:              gogitlab.Ptr(title),
		Description:        gogitlab.Ptr(opts.Body),
		SourceBranch:       gogitlab.Ptr(opts.Head),
		TargetBranch:       gogitlab.Ptr(opts.Base),
		RemoveSourceBranch: gogitlab.Ptr(true),
	}
	mr, _, err := g.client.MergeRequests.CreateMergeRequest(g.projectID, createOpts, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create merge request: %w", err)
	}
	state := mr.State
	if state == "opened" {
		state = "open"
	}
	return &PullRequest{
		Number: int(mr.IID),
		Title:  mr.Title,
		URL:    mr.WebURL,
		State:  state,
		Draft:  opts.Draft,
	}, nil
}

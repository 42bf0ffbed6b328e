package work

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	gogithub "github.com/google/go-github/v82/github"

	"github.com/fractary/faber/internal/errors"
)

var (
	_ WorkProvider = (*GitHubClient)(nil)
	_ RepoHost     = (*GitHubClient)(nil)
)

// GitHubClient serves both sides of the work surface: issues as work items
// and pull requests against the same repository.
type GitHubClient struct {
	client *gogithub.Client
	owner  string
	repo   string
}

// NewGitHubClient builds a client for one repository. The token comes from
// GITHUB_TOKEN unless the config names another variable.
func NewGitHubClient(cfg Config) (*GitHubClient, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.ErrConfigMissing("work.owner / work.repo")
	}
	tokenVar := cfg.TokenEnvVar
	if tokenVar == "" {
		tokenVar = "GITHUB_TOKEN"
	}
	token := os.Getenv(tokenVar)
	if token == "" {
		return nil, errors.ErrConfigMissing(tokenVar)
	}

	httpClient := &http.Client{Transport: &bearerTransport{token: token}}
	client := gogithub.NewClient(httpClient)

	// GitHub Enterprise: override base URL.
	if cfg.BaseURL != "" {
		baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
		var err error
		client.BaseURL, err = client.BaseURL.Parse(baseURL + "/api/v3/")
		if err != nil {
			return nil, fmt.Errorf("parse base URL %q: %w", cfg.BaseURL, err)
		}
	}

	return &GitHubClient{client: client, owner: cfg.Owner, repo: cfg.Repo}, nil
}

// bearerTransport adds an Authorization header to every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req2)
}

// Name returns the provider name.
func (g *GitHubClient) Name() string { return ProviderGitHub }

func issueID(id string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(id, "#"))
	if err != nil {
		return 0, fmt.Errorf("issue id %q is not a number", id)
	}
	return n, nil
}

func convertGitHubIssue(issue *gogithub.Issue) *Issue {
	out := &Issue{
		ID:        strconv.Itoa(issue.GetNumber()),
		Title:     issue.GetTitle(),
		Body:      issue.GetBody(),
		State:     issue.GetState(),
		Assignee:  issue.GetAssignee().GetLogin(),
		URL:       issue.GetHTMLURL(),
		CreatedAt: issue.GetCreatedAt().Time,
		UpdatedAt: issue.GetUpdatedAt().Time,
	}
	for _, l := range issue.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	return out
}

// FetchIssue loads one issue by number.
func (g *GitHubClient) FetchIssue(ctx context.Context, id string) (*Issue, error) {
	number, err := issueID(id)
	if err != nil {
		return nil, err
	}
	issue, _, err := g.client.Issues.Get(ctx, g.owner, g.repo, number)
	if err != nil {
		return nil, fmt.Errorf("fetch issue #%d: %w", number, err)
	}
	return convertGitHubIssue(issue), nil
}

// CreateIssue opens a new issue.
func (g *GitHubClient) CreateIssue(ctx context.Context, title, body string, labels []string) (*Issue, error) {
	req := &gogithub.IssueRequest{
		Title: gogithub.Ptr(title),
		Body:  gogithub.Ptr(body),
	}
	if len(labels) > 0 {
		req.Labels = &labels
	}
	issue, _, err := g.client.Issues.Create(ctx, g.owner, g.repo, req)
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	return convertGitHubIssue(issue), nil
}

// CreateComment posts a comment on an issue.
func (g *GitHubClient) CreateComment(ctx context.Context, id, body string) (*Comment, error) {
	number, err := issueID(id)
	if err != nil {
		return nil, err
	}
	comment := &gogithub.IssueComment{Body: gogithub.Ptr(body)}
	created, _, err := g.client.Issues.CreateComment(ctx, g.owner, g.repo, number, comment)
	if err != nil {
		return nil, fmt.Errorf("comment on issue #%d: %w", number, err)
	}
	return &Comment{
		ID:     strconv.FormatInt(created.GetID(), 10),
		Body:   created.GetBody(),
		Author: created.GetUser().GetLogin(),
		URL:    created.GetHTMLURL(),
	}, nil
}

// CloseIssue closes an issue, posting reason as a comment first when set.
func (g *GitHubClient) CloseIssue(ctx context.Context, id, reason string) error {
	number, err := issueID(id)
	if err != nil {
		return err
	}
	if reason != "" {
		if _, err := g.CreateComment(ctx, id, reason); err != nil {
			return err
		}
	}
	req := &gogithub.IssueRequest{State: gogithub.Ptr("closed")}
	if _, _, err := g.client.Issues.Edit(ctx, g.owner, g.repo, number, req); err != nil {
		return fmt.Errorf("close issue #%d: %w", number, err)
	}
	return nil
}

// SearchIssues lists repository issues matching the options. The query
// matches against title and body client-side; state and labels filter
// server-side.
func (g *GitHubClient) SearchIssues(ctx context.Context, opts SearchOptions) ([]*Issue, error) {
	state := opts.State
	if state == "" {
		state = "open"
	}
	listOpts := &gogithub.IssueListByRepoOptions{
		State:       state,
		Labels:      opts.Labels,
		ListOptions: gogithub.ListOptions{PerPage: opts.limit()},
	}
	issues, _, err := g.client.Issues.ListByRepo(ctx, g.owner, g.repo, listOpts)
	if err != nil {
		return nil, fmt.Errorf("search issues: %w", err)
	}

	query := strings.ToLower(opts.Query)
	var out []*Issue
	for _, issue := range issues {
		// Pull requests ride the issues API; work items exclude them.
		if issue.IsPullRequest() {
			continue
		}
		converted := convertGitHubIssue(issue)
		if query != "" &&
			!strings.Contains(strings.ToLower(converted.Title), query) &&
			!strings.Contains(strings.ToLower(converted.Body), query) {
			continue
		}
		out = append(out, converted)
		if len(out) >= opts.limit() {
			break
		}
	}
	return out, nil
}

// CreatePullRequest opens a pull request.
func (g *GitHubClient) CreatePullRequest(ctx context.Context, opts PullRequestOptions) (*PullRequest, error) {
	newPR := &gogithub.NewPullRequest{
		Title: gogithub.Ptr(opts.Title),
		Body:  gogithub.Ptr(opts.Body),
		Head:  gogithub.Ptr(opts.Head),
		Base:  gogithub.Ptr(opts.Base),
		Draft: gogithub.Ptr(opts.Draft),
	}
	created, _, err := g.client.PullRequests.Create(ctx, g.owner, g.repo, newPR)
	if err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}
	return &PullRequest{
		Number: created.GetNumber(),
		Title:  created.GetTitle(),
		URL:    created.GetHTMLURL(),
		State:  created.GetState(),
		Draft:  created.GetDraft(),
	}, nil
}

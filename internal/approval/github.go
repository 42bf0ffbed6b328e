package approval

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/v82/github"
)

// GitHubAdapter posts approval questions as issue comments and polls the
// issue for "/approve" or "/reject" replies. The target issue number comes
// from the request context's "issue_number" entry (the work item).
type GitHubAdapter struct {
	client *gogithub.Client
	owner  string
	repo   string
}

// NewGitHubAdapter builds an adapter against one repository.
func NewGitHubAdapter(token, owner, repo string) *GitHubAdapter {
	httpClient := &http.Client{Transport: &tokenTransport{token: token}}
	return &GitHubAdapter{
		client: gogithub.NewClient(httpClient),
		owner:  owner,
		repo:   repo,
	}
}

// tokenTransport adds an Authorization header to every request.
type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req2)
}

// Name returns the channel name.
func (a *GitHubAdapter) Name() string { return "github" }

func issueNumber(req *Request) (int, bool) {
	switch n := req.Context["issue_number"].(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// SendNotification comments the question on the work item's issue.
func (a *GitHubAdapter) SendNotification(ctx context.Context, req *Request) error {
	number, ok := issueNumber(req)
	if !ok {
		return fmt.Errorf("request %s has no issue_number in context", req.ID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**FABER approval required** (`%s`)\n\n", req.ID)
	fmt.Fprintf(&b, "Workflow `%s`, phase `%s`:\n\n> %s\n\n", req.WorkflowID, req.Phase, req.Question)
	fmt.Fprintf(&b, "Reply with `/approve %s` or `/reject %s`.\n", req.ID, req.ID)

	comment := &gogithub.IssueComment{Body: gogithub.Ptr(b.String())}
	_, _, err := a.client.Issues.CreateComment(ctx, a.owner, a.repo, number, comment)
	if err != nil {
		return fmt.Errorf("create issue comment: %w", err)
	}
	return nil
}

// PollResponse scans issue comments created after the request for a
// matching /approve or /reject command.
func (a *GitHubAdapter) PollResponse(ctx context.Context, req *Request) (*Response, error) {
	number, ok := issueNumber(req)
	if !ok {
		return nil, nil
	}
	opts := &gogithub.IssueListCommentsOptions{
		Since:       gogithub.Ptr(req.CreatedAt),
		ListOptions: gogithub.ListOptions{PerPage: 50},
	}
	comments, _, err := a.client.Issues.ListComments(ctx, a.owner, a.repo, number, opts)
	if err != nil {
		return nil, fmt.Errorf("list issue comments: %w", err)
	}
	for _, c := range comments {
		body := strings.TrimSpace(c.GetBody())
		switch {
		case strings.HasPrefix(body, "/approve "+req.ID), body == "/approve":
			return &Response{
				RequestID: req.ID,
				Decision:  DecisionApprove,
				Responder: c.GetUser().GetLogin(),
				Channel:   "github",
			}, nil
		case strings.HasPrefix(body, "/reject "+req.ID), body == "/reject":
			return &Response{
				RequestID: req.ID,
				Decision:  DecisionReject,
				Responder: c.GetUser().GetLogin(),
				Channel:   "github",
			}, nil
		}
	}
	return nil, nil
}

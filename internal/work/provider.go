// Package work connects workflows to external work trackers (GitHub issues,
// Jira, GitLab) and to the local git repository. Providers expose a uniform
// surface so phase tools never see platform-specific types.
package work

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fractary/faber/internal/errors"
)

// Supported provider names.
const (
	ProviderGitHub = "github"
	ProviderJira   = "jira"
	ProviderGitLab = "gitlab"
)

// Issue is a work item on any tracker. ID is the tracker's identifier: an
// issue number for GitHub/GitLab, an issue key (PROJ-123) for Jira.
type Issue struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	Labels    []string  `json:"labels,omitempty"`
	Assignee  string    `json:"assignee,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Comment is a posted issue comment.
type Comment struct {
	ID     string `json:"id"`
	Body   string `json:"body"`
	Author string `json:"author,omitempty"`
	URL    string `json:"url,omitempty"`
}

// PullRequest is a created pull or merge request.
type PullRequest struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	State  string `json:"state"`
	Draft  bool   `json:"draft,omitempty"`
}

// PullRequestOptions describes a pull request to open.
type PullRequestOptions struct {
	Title string
	Body  string
	Head  string
	Base  string
	Draft bool
}

// SearchOptions filters an issue search. Limit is capped at 100; zero means
// 30.
type SearchOptions struct {
	Query  string
	State  string
	Labels []string
	Limit  int
}

const (
	defaultSearchLimit = 30
	maxSearchLimit     = 100
)

func (o SearchOptions) limit() int {
	switch {
	case o.Limit <= 0:
		return defaultSearchLimit
	case o.Limit > maxSearchLimit:
		return maxSearchLimit
	default:
		return o.Limit
	}
}

// WorkProvider is the tracker side: fetch, create, comment, close, search.
type WorkProvider interface {
	// FetchIssue loads one work item by identifier.
	FetchIssue(ctx context.Context, id string) (*Issue, error)

	// CreateIssue opens a new work item.
	CreateIssue(ctx context.Context, title, body string, labels []string) (*Issue, error)

	// CreateComment posts a comment on a work item.
	CreateComment(ctx context.Context, id, body string) (*Comment, error)

	// CloseIssue closes a work item, posting reason as a comment when set.
	CloseIssue(ctx context.Context, id, reason string) error

	// SearchIssues lists work items matching the options.
	SearchIssues(ctx context.Context, opts SearchOptions) ([]*Issue, error)

	// Name returns the provider name.
	Name() string
}

// RepoHost is the hosting side: the one remote operation local git cannot
// do.
type RepoHost interface {
	// CreatePullRequest opens a pull (or merge) request.
	CreatePullRequest(ctx context.Context, opts PullRequestOptions) (*PullRequest, error)

	// Name returns the provider name.
	Name() string
}

// Classification is a rule-based work type verdict.
type Classification struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Classify determines the work type from labels first, title keywords
// second. No model call involved.
func Classify(issue *Issue) Classification {
	labels := make(map[string]bool, len(issue.Labels))
	for _, l := range issue.Labels {
		labels[strings.ToLower(l)] = true
	}
	anyLabel := func(names ...string) bool {
		for _, n := range names {
			if labels[n] {
				return true
			}
		}
		return false
	}

	switch {
	case anyLabel("bug", "fix", "defect", "type: bug"):
		return Classification{Type: "bug", Confidence: 0.95, Reasoning: "Label indicates bug"}
	case anyLabel("feature", "enhancement", "type: feature"):
		return Classification{Type: "feature", Confidence: 0.95, Reasoning: "Label indicates feature"}
	case anyLabel("chore", "maintenance", "type: chore"):
		return Classification{Type: "chore", Confidence: 0.95, Reasoning: "Label indicates chore"}
	case anyLabel("hotfix", "patch", "urgent", "type: patch"):
		return Classification{Type: "patch", Confidence: 0.95, Reasoning: "Label indicates patch"}
	case anyLabel("infrastructure", "infra", "devops"):
		return Classification{Type: "infrastructure", Confidence: 0.90, Reasoning: "Label indicates infrastructure"}
	case anyLabel("api", "endpoint"):
		return Classification{Type: "api", Confidence: 0.90, Reasoning: "Label indicates API work"}
	}

	title := strings.ToLower(issue.Title)
	anyWord := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(title, w) {
				return true
			}
		}
		return false
	}

	switch {
	case anyWord("fix", "bug", "error", "crash", "broken"):
		return Classification{Type: "bug", Confidence: 0.70, Reasoning: "Title suggests bug fix"}
	case anyWord("add", "new", "feature", "implement"):
		return Classification{Type: "feature", Confidence: 0.70, Reasoning: "Title suggests new feature"}
	case anyWord("update", "upgrade", "refactor", "clean"):
		return Classification{Type: "chore", Confidence: 0.60, Reasoning: "Title suggests maintenance"}
	}

	return Classification{Type: "feature", Confidence: 0.50, Reasoning: "Default classification"}
}

// PhaseComment prefixes a comment body with the workflow phase that produced
// it.
func PhaseComment(phase, body string) string {
	if phase == "" {
		return body
	}
	return fmt.Sprintf("**[FABER:%s]**\n\n%s", strings.ToUpper(phase), body)
}

// Config selects and parameterizes a provider. Owner/Repo address GitHub and
// GitLab projects; BaseURL and Project address Jira sites and self-hosted
// instances. TokenEnvVar overrides the provider's default token variable.
type Config struct {
	Provider    string
	Owner       string
	Repo        string
	BaseURL     string
	Project     string
	TokenEnvVar string
}

// NewWorkProvider builds the tracker client named by the config.
func NewWorkProvider(cfg Config) (WorkProvider, error) {
	switch cfg.Provider {
	case ProviderGitHub:
		return NewGitHubClient(cfg)
	case ProviderJira:
		return NewJiraClient(cfg)
	case ProviderGitLab:
		return NewGitLabClient(cfg)
	default:
		return nil, errors.ErrProviderUnsupported(cfg.Provider)
	}
}

// NewRepoHost builds the hosting client named by the config. Jira tracks
// work items only, so it cannot serve as a repository host.
func NewRepoHost(cfg Config) (RepoHost, error) {
	switch cfg.Provider {
	case ProviderGitHub:
		return NewGitHubClient(cfg)
	case ProviderGitLab:
		return NewGitLabClient(cfg)
	default:
		return nil, errors.ErrProviderUnsupported(cfg.Provider)
	}
}

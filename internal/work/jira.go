package work

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	v3 "github.com/ctreminiom/go-atlassian/v2/jira/v3"
	"github.com/ctreminiom/go-atlassian/v2/pkg/infra/models"

	"github.com/fractary/faber/internal/errors"
)

var _ WorkProvider = (*JiraClient)(nil)

// jiraFields are the issue fields requested from search results.
var jiraFields = []string{
	"summary",
	"description",
	"status",
	"labels",
	"assignee",
	"created",
	"updated",
}

var jiraKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*-\d+$`)

// JiraClient is a work-item provider for Jira Cloud. Jira has no repository
// side, so it never serves as a RepoHost.
type JiraClient struct {
	jira    *v3.Client
	baseURL string
	project string
}

// NewJiraClient builds a client against one Jira site. Auth comes from
// JIRA_EMAIL plus the token variable (JIRA_API_TOKEN by default).
func NewJiraClient(cfg Config) (*JiraClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.ErrConfigMissing("work.base_url")
	}
	if cfg.Project == "" {
		return nil, errors.ErrConfigMissing("work.project")
	}
	email := os.Getenv("JIRA_EMAIL")
	if email == "" {
		return nil, errors.ErrConfigMissing("JIRA_EMAIL")
	}
	tokenVar := cfg.TokenEnvVar
	if tokenVar == "" {
		tokenVar = "JIRA_API_TOKEN"
	}
	token := os.Getenv(tokenVar)
	if token == "" {
		return nil, errors.ErrConfigMissing(tokenVar)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	client, err := v3.New(&http.Client{Timeout: 30 * time.Second}, baseURL)
	if err != nil {
		return nil, fmt.Errorf("create jira client: %w", err)
	}
	client.Auth.SetBasicAuth(email, token)
	client.Auth.SetUserAgent("faber/1.0")

	return &JiraClient{jira: client, baseURL: baseURL, project: cfg.Project}, nil
}

// Name returns the provider name.
func (c *JiraClient) Name() string { return ProviderJira }

func (c *JiraClient) issueKey(id string) (string, error) {
	key := strings.ToUpper(strings.TrimSpace(id))
	if !strings.Contains(key, "-") {
		key = c.project + "-" + key
	}
	if !jiraKeyPattern.MatchString(key) {
		return "", fmt.Errorf("invalid jira issue key %q", id)
	}
	return key, nil
}

func (c *JiraClient) browseURL(key string) string {
	return c.baseURL + "/browse/" + key
}

func (c *JiraClient) convertIssue(issue *models.IssueScheme) *Issue {
	if issue == nil {
		return nil
	}
	out := &Issue{ID: issue.Key, URL: c.browseURL(issue.Key), State: "open"}
	f := issue.Fields
	if f == nil {
		return out
	}
	out.Title = f.Summary
	out.Body = adfToText(f.Description)
	out.Labels = f.Labels
	if f.Status != nil && f.Status.StatusCategory != nil && f.Status.StatusCategory.Key == "done" {
		out.State = "closed"
	}
	if f.Assignee != nil {
		out.Assignee = f.Assignee.DisplayName
	}
	if f.Created != nil {
		out.CreatedAt = time.Time(*f.Created)
	}
	if f.Updated != nil {
		out.UpdatedAt = time.Time(*f.Updated)
	}
	return out
}

// searchJQL runs one JQL query and converts the page of results.
func (c *JiraClient) searchJQL(ctx context.Context, jql string, limit int) ([]*Issue, error) {
	result, resp, err := c.jira.Issue.Search.SearchJQL(ctx, jql, jiraFields, nil, limit, "")
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("jira search (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("jira search: %w", err)
	}
	issues := make([]*Issue, 0, len(result.Issues))
	for _, issue := range result.Issues {
		issues = append(issues, c.convertIssue(issue))
	}
	return issues, nil
}

// FetchIssue loads one issue by key. A bare number resolves against the
// configured project.
func (c *JiraClient) FetchIssue(ctx context.Context, id string) (*Issue, error) {
	key, err := c.issueKey(id)
	if err != nil {
		return nil, err
	}
	issues, err := c.searchJQL(ctx, fmt.Sprintf("key = %s", key), 1)
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		return nil, fmt.Errorf("jira issue %s not found", key)
	}
	return issues[0], nil
}

// CreateIssue opens a new Task in the configured project.
func (c *JiraClient) CreateIssue(ctx context.Context, title, body string, labels []string) (*Issue, error) {
	payload := &models.IssueScheme{
		Fields: &models.IssueFieldsScheme{
			Summary:     title,
			Description: adfDocument(body),
			Project:     &models.ProjectScheme{Key: c.project},
			IssueType:   &models.IssueTypeScheme{Name: "Task"},
			Labels:      labels,
		},
	}
	created, resp, err := c.jira.Issue.Create(ctx, payload, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("jira create issue (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("jira create issue: %w", err)
	}
	return &Issue{
		ID:     created.Key,
		Title:  title,
		Body:   body,
		State:  "open",
		Labels: labels,
		URL:    c.browseURL(created.Key),
	}, nil
}

// CreateComment posts a comment on an issue.
func (c *JiraClient) CreateComment(ctx context.Context, id, body string) (*Comment, error) {
	key, err := c.issueKey(id)
	if err != nil {
		return nil, err
	}
	payload := &models.CommentPayloadScheme{Body: adfDocument(body)}
	created, resp, err := c.jira.Issue.Comment.Add(ctx, key, payload, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("jira comment on %s (status %d): %w", key, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("jira comment on %s: %w", key, err)
	}
	return &Comment{ID: created.ID, Body: body, URL: c.browseURL(key)}, nil
}

// closeTransitions are transition names that move an issue to done, in
// preference order.
var closeTransitions = []string{"done", "close", "closed", "resolve", "resolved"}

// CloseIssue transitions an issue to its done state, commenting reason first
// when set.
func (c *JiraClient) CloseIssue(ctx context.Context, id, reason string) error {
	key, err := c.issueKey(id)
	if err != nil {
		return err
	}
	if reason != "" {
		if _, err := c.CreateComment(ctx, key, reason); err != nil {
			return err
		}
	}

	transitions, resp, err := c.jira.Issue.Transitions(ctx, key)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("jira transitions for %s (status %d): %w", key, resp.StatusCode, err)
		}
		return fmt.Errorf("jira transitions for %s: %w", key, err)
	}

	var transitionID string
	for _, want := range closeTransitions {
		for _, t := range transitions.Transitions {
			if strings.EqualFold(t.Name, want) {
				transitionID = t.ID
				break
			}
		}
		if transitionID != "" {
			break
		}
	}
	if transitionID == "" {
		return fmt.Errorf("jira issue %s has no close transition", key)
	}

	if _, err := c.jira.Issue.Move(ctx, key, transitionID, nil); err != nil {
		return fmt.Errorf("jira close %s: %w", key, err)
	}
	return nil
}

// SearchIssues lists project issues matching the options, newest first.
func (c *JiraClient) SearchIssues(ctx context.Context, opts SearchOptions) ([]*Issue, error) {
	clauses := []string{fmt.Sprintf("project = %s", c.project)}
	switch opts.State {
	case "", "open":
		clauses = append(clauses, "statusCategory != Done")
	case "closed":
		clauses = append(clauses, "statusCategory = Done")
	case "all":
	default:
		return nil, fmt.Errorf("unknown issue state %q", opts.State)
	}
	if opts.Query != "" {
		clauses = append(clauses, fmt.Sprintf("text ~ %q", strings.ReplaceAll(opts.Query, `"`, "")))
	}
	for _, label := range opts.Labels {
		clauses = append(clauses, fmt.Sprintf("labels = %q", strings.ReplaceAll(label, `"`, "")))
	}
	jql := strings.Join(clauses, " AND ") + " ORDER BY updated DESC"
	return c.searchJQL(ctx, jql, opts.limit())
}

// adfDocument wraps plain text into a minimal Atlassian Document Format
// tree: one paragraph per line.
func adfDocument(text string) *models.CommentNodeScheme {
	doc := &models.CommentNodeScheme{Version: 1, Type: "doc"}
	for _, line := range strings.Split(text, "\n") {
		para := &models.CommentNodeScheme{Type: "paragraph"}
		if line != "" {
			para.Content = append(para.Content, &models.CommentNodeScheme{Type: "text", Text: line})
		}
		doc.Content = append(doc.Content, para)
	}
	return doc
}

// adfToText flattens an Atlassian Document Format tree to plain text with
// paragraph breaks. Formatting marks are dropped.
func adfToText(node *models.CommentNodeScheme) string {
	if node == nil {
		return ""
	}
	var b strings.Builder
	flattenADF(&b, node)
	return strings.TrimSpace(b.String())
}

func flattenADF(b *strings.Builder, node *models.CommentNodeScheme) {
	if node == nil {
		return
	}
	switch node.Type {
	case "text":
		b.WriteString(node.Text)
	case "hardBreak":
		b.WriteString("\n")
	case "paragraph", "heading", "codeBlock", "blockquote", "listItem":
		for _, child := range node.Content {
			flattenADF(b, child)
		}
		b.WriteString("\n")
	default:
		for _, child := range node.Content {
			flattenADF(b, child)
		}
	}
}

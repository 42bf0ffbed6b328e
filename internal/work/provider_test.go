package work

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractary/faber/internal/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		issue      Issue
		wantType   string
		confidence float64
	}{
		{"bug label", Issue{Title: "something", Labels: []string{"Bug"}}, "bug", 0.95},
		{"feature label", Issue{Title: "x", Labels: []string{"enhancement"}}, "feature", 0.95},
		{"patch label", Issue{Labels: []string{"urgent"}}, "patch", 0.95},
		{"infra label", Issue{Labels: []string{"devops"}}, "infrastructure", 0.90},
		{"label beats title", Issue{Title: "fix the crash", Labels: []string{"feature"}}, "feature", 0.95},
		{"bug title", Issue{Title: "Crash when saving"}, "bug", 0.70},
		{"feature title", Issue{Title: "Implement dark mode"}, "feature", 0.70},
		{"chore title", Issue{Title: "Upgrade dependencies"}, "chore", 0.60},
		{"default", Issue{Title: "misc"}, "feature", 0.50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(&tt.issue)
			assert.Equal(t, tt.wantType, got.Type)
			assert.InDelta(t, tt.confidence, got.Confidence, 0.001)
			assert.NotEmpty(t, got.Reasoning)
		})
	}
}

func TestPhaseComment(t *testing.T) {
	assert.Equal(t, "**[FABER:BUILD]**\n\ntests passing", PhaseComment("build", "tests passing"))
	assert.Equal(t, "plain", PhaseComment("", "plain"))
}

func TestSearchOptionsLimit(t *testing.T) {
	assert.Equal(t, 30, SearchOptions{}.limit())
	assert.Equal(t, 10, SearchOptions{Limit: 10}.limit())
	assert.Equal(t, 100, SearchOptions{Limit: 5000}.limit())
}

func TestNewWorkProviderUnsupported(t *testing.T) {
	_, err := NewWorkProvider(Config{Provider: "bitbucket"})
	var fe *errors.FaberError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, errors.CodeProviderUnsupported, fe.Code)
}

func TestNewRepoHostRejectsJira(t *testing.T) {
	_, err := NewRepoHost(Config{Provider: ProviderJira})
	var fe *errors.FaberError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, errors.CodeProviderUnsupported, fe.Code)
}

func TestNewGitHubClientRequiresToken(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	_, err := NewGitHubClient(Config{Provider: ProviderGitHub, Owner: "fractary", Repo: "faber"})
	assert.Error(t, err)
}

func TestNewGitHubClientRequiresRepo(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "tok")
	_, err := NewGitHubClient(Config{Provider: ProviderGitHub})
	assert.Error(t, err)
}

func TestNewGitHubClientCustomTokenVar(t *testing.T) {
	t.Setenv("GH_ENTERPRISE_TOKEN", "tok")
	client, err := NewGitHubClient(Config{
		Provider:    ProviderGitHub,
		Owner:       "fractary",
		Repo:        "faber",
		BaseURL:     "https://github.example.com",
		TokenEnvVar: "GH_ENTERPRISE_TOKEN",
	})
	require.NoError(t, err)
	assert.Equal(t, ProviderGitHub, client.Name())
}

func TestIssueID(t *testing.T) {
	n, err := issueID("#42")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = issueID("PROJ-42")
	assert.Error(t, err)
}

func TestJiraIssueKey(t *testing.T) {
	c := &JiraClient{project: "FAB"}

	key, err := c.issueKey("fab-12")
	require.NoError(t, err)
	assert.Equal(t, "FAB-12", key)

	key, err = c.issueKey("12")
	require.NoError(t, err)
	assert.Equal(t, "FAB-12", key)

	_, err = c.issueKey("12; DELETE")
	assert.Error(t, err)
}

func TestADFRoundTrip(t *testing.T) {
	doc := adfDocument("first line\n\nsecond line")
	require.Equal(t, "doc", doc.Type)
	assert.Equal(t, "first line\n\nsecond line", adfToText(doc))
}

func TestGitlabState(t *testing.T) {
	assert.Equal(t, "opened", gitlabState("open"))
	assert.Equal(t, "closed", gitlabState("closed"))
}

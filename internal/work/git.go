package work

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Branch is a local git branch.
type Branch struct {
	Name     string `json:"name"`
	SHA      string `json:"sha"`
	Upstream string `json:"upstream,omitempty"`
	Current  bool   `json:"current"`
}

// Commit is one entry of the local history.
type Commit struct {
	SHA     string    `json:"sha"`
	Subject string    `json:"subject"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date,omitzero"`
}

// CommitOptions builds a conventional commit.
type CommitOptions struct {
	Message  string // subject without the type prefix
	Type     string // feat, fix, chore, docs, ... (default feat)
	Scope    string
	WorkID   string
	Breaking bool
	Body     string
}

// LogOptions bounds a history query. Since/Until are commits or branches;
// Limit caps the result (default 50).
type LogOptions struct {
	Since string
	Until string
	Limit int
}

// Git runs repository operations in one working directory.
type Git struct {
	dir    string
	logger *slog.Logger
}

// NewGit builds a runner rooted at dir.
func NewGit(dir string, logger *slog.Logger) *Git {
	if logger == nil {
		logger = slog.Default()
	}
	return &Git{dir: dir, logger: logger}
}

// run executes one git command and returns its trimmed stdout.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], detail)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	return g.run(ctx, "branch", "--show-current")
}

// DefaultBranch resolves the default branch from the origin HEAD, falling
// back to main, then master.
func (g *Git) DefaultBranch(ctx context.Context) string {
	if ref, err := g.run(ctx, "symbolic-ref", "refs/remotes/origin/HEAD", "--short"); err == nil && ref != "" {
		return strings.TrimPrefix(ref, "origin/")
	}
	for _, name := range []string{"main", "master"} {
		if out, err := g.run(ctx, "branch", "--list", name); err == nil && out != "" {
			return name
		}
	}
	return "main"
}

// CreateBranch creates a branch off base (the default branch when empty),
// checking it out when asked.
func (g *Git) CreateBranch(ctx context.Context, name, base string, checkout bool) (*Branch, error) {
	if base == "" {
		base = g.DefaultBranch(ctx)
	}
	var err error
	if checkout {
		_, err = g.run(ctx, "checkout", "-b", name, base)
	} else {
		_, err = g.run(ctx, "branch", name, base)
	}
	if err != nil {
		return nil, err
	}
	g.logger.Info("branch created", "branch", name, "base", base, "checkout", checkout)

	sha, err := g.run(ctx, "rev-parse", name)
	if err != nil {
		return nil, err
	}
	return &Branch{Name: name, SHA: sha, Current: checkout}, nil
}

// Commit stages everything and creates a conventional commit, returning the
// new head.
func (g *Git) Commit(ctx context.Context, opts CommitOptions) (*Commit, error) {
	if strings.TrimSpace(opts.Message) == "" {
		return nil, fmt.Errorf("commit message is required")
	}

	status, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	if status != "" {
		if _, err := g.run(ctx, "add", "-A"); err != nil {
			return nil, err
		}
	}

	message := BuildCommitMessage(opts)
	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return nil, err
	}

	sha, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	g.logger.Info("commit created", "sha", sha)
	return &Commit{SHA: sha, Subject: strings.SplitN(message, "\n", 2)[0]}, nil
}

// Push pushes a branch (the current one when empty) to the remote.
func (g *Git) Push(ctx context.Context, branch, remote string, setUpstream, force bool) error {
	if remote == "" {
		remote = "origin"
	}
	if branch == "" {
		current, err := g.CurrentBranch(ctx)
		if err != nil {
			return err
		}
		branch = current
	}
	args := []string{"push"}
	if setUpstream {
		args = append(args, "-u")
	}
	if force {
		args = append(args, "--force-with-lease")
	}
	args = append(args, remote, branch)
	if _, err := g.run(ctx, args...); err != nil {
		return err
	}
	g.logger.Info("branch pushed", "branch", branch, "remote", remote)
	return nil
}

// ListBranches lists local branches, optionally filtered by a glob pattern.
func (g *Git) ListBranches(ctx context.Context, pattern string) ([]*Branch, error) {
	args := []string{"branch", "--format=%(refname:short)|%(objectname:short)|%(upstream:short)|%(HEAD)"}
	if pattern != "" {
		args = append(args, "--list", pattern)
	}
	out, err := g.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	var branches []*Branch
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		b := &Branch{Name: parts[0]}
		if len(parts) > 1 {
			b.SHA = parts[1]
		}
		if len(parts) > 2 {
			b.Upstream = parts[2]
		}
		if len(parts) > 3 {
			b.Current = parts[3] == "*"
		}
		branches = append(branches, b)
	}
	return branches, nil
}

// Commits returns history, newest first.
func (g *Git) Commits(ctx context.Context, opts LogOptions) ([]*Commit, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	args := []string{"log", "-" + strconv.Itoa(limit), "--format=%H|%s|%an|%aI"}
	switch {
	case opts.Since != "" && opts.Until != "":
		args = append(args, opts.Since+".."+opts.Until)
	case opts.Since != "":
		args = append(args, opts.Since)
	}

	out, err := g.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	var commits []*Commit
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 4)
		c := &Commit{SHA: parts[0]}
		if len(parts) > 1 {
			c.Subject = parts[1]
		}
		if len(parts) > 2 {
			c.Author = parts[2]
		}
		if len(parts) > 3 {
			if ts, perr := time.Parse(time.RFC3339, parts[3]); perr == nil {
				c.Date = ts
			}
		}
		commits = append(commits, c)
	}
	return commits, nil
}

// BuildCommitMessage assembles a conventional commit message:
// type(scope)!: subject, optional body, optional "Refs: #id" footer.
func BuildCommitMessage(opts CommitOptions) string {
	commitType := opts.Type
	if commitType == "" {
		commitType = "feat"
	}
	prefix := commitType
	if opts.Scope != "" {
		prefix = fmt.Sprintf("%s(%s)", commitType, opts.Scope)
	}
	if opts.Breaking {
		prefix += "!"
	}

	message := fmt.Sprintf("%s: %s", prefix, opts.Message)
	if opts.Body != "" {
		message += "\n\n" + opts.Body
	}
	if opts.WorkID != "" {
		message += fmt.Sprintf("\n\nRefs: #%s", opts.WorkID)
	}
	return message
}

// branchPrefixes maps work types to branch name prefixes.
var branchPrefixes = map[string]string{
	"feature":  "feat",
	"bug":      "fix",
	"patch":    "fix",
	"chore":    "chore",
	"docs":     "docs",
	"refactor": "refactor",
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// GenerateBranchName derives a semantic branch name from a description:
// "feat/123-add-login-page".
func GenerateBranchName(description, workType, workID string) string {
	slug := strings.ToLower(description)
	slug = slugStrip.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 50 {
		slug = strings.Trim(slug[:50], "-")
	}

	prefix, ok := branchPrefixes[workType]
	if !ok {
		prefix = "feat"
	}
	if workID != "" {
		return fmt.Sprintf("%s/%s-%s", prefix, workID, slug)
	}
	return fmt.Sprintf("%s/%s", prefix, slug)
}

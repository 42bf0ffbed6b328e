// Package spec manages specification documents: markdown files under the
// project's specs/ directory with status, version and work-item headers.
package spec

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Specification statuses.
const (
	StatusDraft      = "draft"
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
	StatusArchived   = "archived"
)

// Specification is one spec document.
type Specification struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	Title    string `json:"title"`
	WorkID   string `json:"work_id,omitempty"`
	Template string `json:"template,omitempty"`
	Status   string `json:"status"`
	Version  string `json:"version"`
	Content  string `json:"content,omitempty"`
}

// ValidationResult grades a spec's completeness.
type ValidationResult struct {
	Status          string   `json:"status"` // complete | partial | incomplete
	Completeness    float64  `json:"completeness"`
	MissingSections []string `json:"missing_sections"`
	Suggestions     []string `json:"suggestions"`
}

// Manager creates, validates and updates specs in one directory.
type Manager struct {
	specsDir     string
	templatesDir string
	idPrefix     string
	logger       *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithSpecsDir overrides the specs directory (default specs/).
func WithSpecsDir(dir string) Option {
	return func(m *Manager) { m.specsDir = dir }
}

// WithTemplatesDir overrides the custom template directory.
func WithTemplatesDir(dir string) Option {
	return func(m *Manager) { m.templatesDir = dir }
}

// WithIDPrefix overrides the spec id prefix (default SPEC).
func WithIDPrefix(prefix string) Option {
	return func(m *Manager) { m.idPrefix = prefix }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager builds a manager rooted at the project directory.
func NewManager(projectRoot string, opts ...Option) *Manager {
	m := &Manager{
		specsDir:     filepath.Join(projectRoot, "specs"),
		templatesDir: filepath.Join(projectRoot, ".faber", "spec-templates"),
		idPrefix:     "SPEC",
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var specNumPattern = regexp.MustCompile(`-(\d+)`)

// nextID scans existing spec files for the highest number and increments.
func (m *Manager) nextID() string {
	entries, err := os.ReadDir(m.specsDir)
	if err != nil {
		return fmt.Sprintf("%s-00001", m.idPrefix)
	}
	next := 1
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, m.idPrefix+"-") || !strings.HasSuffix(name, ".md") {
			continue
		}
		match := specNumPattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		if n, err := strconv.Atoi(match[1]); err == nil && n >= next {
			next = n + 1
		}
	}
	return fmt.Sprintf("%s-%05d", m.idPrefix, next)
}

// template loads a custom template when present, a built-in one otherwise.
func (m *Manager) template(name string) string {
	custom := filepath.Join(m.templatesDir, name+".md")
	if data, err := os.ReadFile(custom); err == nil {
		return string(data)
	}
	if t, ok := templates[name]; ok {
		return t
	}
	return templates["feature"]
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(title string) string {
	slug := slugStrip.ReplaceAllString(strings.ToLower(title), "-")
	if len(slug) > 50 {
		slug = slug[:50]
	}
	return strings.Trim(slug, "-")
}

func padWorkID(workID string) string {
	if n, err := strconv.Atoi(workID); err == nil {
		return fmt.Sprintf("%05d", n)
	}
	return workID
}

// Create renders a template into a new spec file. Specs linked to a work
// item are named WORK-<id>-<slug>.md, the rest <spec id>-<slug>.md.
func (m *Manager) Create(title, template, workID, context string) (*Specification, error) {
	id := m.nextID()
	createdDate := time.Now().Format("2006-01-02")

	workField := workID
	if workField == "" {
		workField = "N/A"
	}
	if context == "" {
		context = "No additional context provided."
	}
	content := strings.NewReplacer(
		"{title}", title,
		"{work_id}", workField,
		"{context}", context,
		"{created_date}", createdDate,
	).Replace(m.template(template))

	slug := slugify(title)
	var filename string
	if workID != "" {
		filename = fmt.Sprintf("WORK-%s-%s.md", padWorkID(workID), slug)
	} else {
		filename = fmt.Sprintf("%s-%s.md", id, slug)
	}

	path := filepath.Join(m.specsDir, filename)
	if err := os.MkdirAll(m.specsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create specs directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write spec %s: %w", path, err)
	}
	m.logger.Info("specification created", "id", id, "path", path)

	return &Specification{
		ID:       id,
		Path:     path,
		Title:    title,
		WorkID:   workID,
		Template: template,
		Status:   StatusDraft,
		Version:  "1.0.0",
		Content:  content,
	}, nil
}

var (
	titleLine   = regexp.MustCompile(`(?m)^# (.+)$`)
	versionLine = regexp.MustCompile(`(?m)^## Version: (.+)$`)
	statusLine  = regexp.MustCompile(`(?m)^## Status: (.+)$`)
	workIDLine  = regexp.MustCompile(`(?m)^## Work ID: (.+)$`)
)

// Get finds a spec by spec id, work id, or any filename fragment.
func (m *Manager) Get(specID string) (*Specification, error) {
	entries, err := os.ReadDir(m.specsDir)
	if err != nil {
		return nil, fmt.Errorf("specification not found: %s", specID)
	}

	var name string
	prefixes := []string{specID}
	if _, nerr := strconv.Atoi(specID); nerr == nil {
		prefixes = append(prefixes, "WORK-"+padWorkID(specID))
	}
	for _, prefix := range prefixes {
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".md") {
				name = e.Name()
				break
			}
		}
		if name != "" {
			break
		}
	}
	if name == "" {
		for _, e := range entries {
			if strings.Contains(e.Name(), specID) && strings.HasSuffix(e.Name(), ".md") {
				name = e.Name()
				break
			}
		}
	}
	if name == "" {
		return nil, fmt.Errorf("specification not found: %s", specID)
	}

	path := filepath.Join(m.specsDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec %s: %w", path, err)
	}
	content := string(data)

	s := &Specification{
		ID:      specID,
		Path:    path,
		Title:   strings.TrimSuffix(name, ".md"),
		Status:  StatusDraft,
		Version: "1.0.0",
		Content: content,
	}
	if match := titleLine.FindStringSubmatch(content); match != nil {
		s.Title = match[1]
	}
	if match := versionLine.FindStringSubmatch(content); match != nil {
		s.Version = match[1]
	}
	if match := statusLine.FindStringSubmatch(content); match != nil {
		s.Status = strings.ToLower(match[1])
	}
	if match := workIDLine.FindStringSubmatch(content); match != nil && match[1] != "N/A" {
		s.WorkID = match[1]
	}
	return s, nil
}

// Update rewrites a spec's content, status or version. Empty fields keep
// their current values.
func (m *Manager) Update(specID, content, status, version string) (*Specification, error) {
	current, err := m.Get(specID)
	if err != nil {
		return nil, err
	}
	updated := current.Content
	if content != "" {
		updated = content
	}
	if status != "" {
		label := strings.ToUpper(status[:1]) + strings.ToLower(status[1:])
		updated = statusLine.ReplaceAllString(updated, "## Status: "+label)
	}
	if version != "" {
		updated = versionLine.ReplaceAllString(updated, "## Version: "+version)
	}
	if err := os.WriteFile(current.Path, []byte(updated), 0o644); err != nil {
		return nil, fmt.Errorf("write spec %s: %w", current.Path, err)
	}
	return m.Get(specID)
}

// Archive marks a spec archived.
func (m *Manager) Archive(specID string) (*Specification, error) {
	return m.Update(specID, "", StatusArchived, "")
}

// List returns all specs, optionally filtered by status and work id.
func (m *Manager) List(status, workID string) []*Specification {
	entries, err := os.ReadDir(m.specsDir)
	if err != nil {
		return nil
	}
	var specs []*Specification
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		s, err := m.Get(strings.TrimSuffix(e.Name(), ".md"))
		if err != nil {
			continue
		}
		if status != "" && !strings.EqualFold(s.Status, status) {
			continue
		}
		if workID != "" && s.WorkID != workID {
			continue
		}
		specs = append(specs, s)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Path < specs[j].Path })
	return specs
}

// requiredSections lists the section headers a complete spec needs; each
// entry accepts alternates.
var requiredSections = [][]string{
	{"## 1. Summary", "## 1. Overview", "## 1. Problem Description"},
	{"## 2. Requirements", "## 2. Root Cause Analysis", "## 2. API Design"},
	{"## 3. ", "## 4. "},
	{"## Acceptance Criteria", "## 4. Acceptance Criteria", "## 3. Acceptance Criteria"},
}

var (
	uncheckedBox = regexp.MustCompile(`- \[ \]`)
	checkedBox   = regexp.MustCompile(`(?i)- \[x\]`)
)

// Validate grades sections (70%) and checked boxes (30%).
func (m *Manager) Validate(specID string) (*ValidationResult, error) {
	s, err := m.Get(specID)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, alternates := range requiredSections {
		found := false
		for _, section := range alternates {
			if strings.Contains(s.Content, section) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, alternates[0])
		}
	}

	unchecked := len(uncheckedBox.FindAllString(s.Content, -1))
	checked := len(checkedBox.FindAllString(s.Content, -1))

	sectionScore := 1.0 - float64(len(missing))/float64(len(requiredSections))
	boxScore := 1.0
	if unchecked+checked > 0 {
		boxScore = float64(checked) / float64(unchecked+checked)
	}
	completeness := sectionScore*0.7 + boxScore*0.3

	status := "incomplete"
	switch {
	case completeness >= 0.9 && len(missing) == 0:
		status = "complete"
	case completeness >= 0.5:
		status = "partial"
	}

	var suggestions []string
	for _, section := range missing {
		suggestions = append(suggestions, "Add section: "+section)
	}
	if unchecked > 0 {
		suggestions = append(suggestions, fmt.Sprintf("Complete %d unchecked items", unchecked))
	}

	return &ValidationResult{
		Status:          status,
		Completeness:    completeness,
		MissingSections: missing,
		Suggestions:     suggestions,
	}, nil
}

// vaguePatterns flag content that still needs filling in.
var vaguePatterns = []struct {
	pattern *regexp.Regexp
	message string
}{
	{regexp.MustCompile(`\[.+\]`), "There are placeholder texts that need to be filled in"},
	{regexp.MustCompile(`(?i)TODO`), "There are TODO items that need to be addressed"},
	{regexp.MustCompile(`(?i)TBD`), "There are TBD items that need to be determined"},
}

// standardQuestions are asked unless the spec already covers the keyword.
var standardQuestions = []struct {
	question string
	keyword  string
}{
	{"Are there any edge cases we should consider?", "edge"},
	{"What are the security implications?", "security"},
	{"Are there any performance requirements or constraints?", "performance"},
	{"What dependencies does this work have?", "dependencies"},
	{"What is the rollback strategy if something goes wrong?", "rollback"},
}

// RefinementQuestions derives up to 10 clarifying questions from the spec's
// gaps.
func (m *Manager) RefinementQuestions(specID string) ([]string, error) {
	s, err := m.Get(specID)
	if err != nil {
		return nil, err
	}
	validation, err := m.Validate(specID)
	if err != nil {
		return nil, err
	}

	var questions []string
	for _, section := range validation.MissingSections {
		questions = append(questions, fmt.Sprintf("Can you provide details for %s?", section))
	}
	for _, v := range vaguePatterns {
		if v.pattern.MatchString(s.Content) {
			questions = append(questions, v.message)
		}
	}
	lower := strings.ToLower(s.Content)
	for _, q := range standardQuestions {
		if !strings.Contains(lower, q.keyword) {
			questions = append(questions, q.question)
		}
	}

	if len(questions) > 10 {
		questions = questions[:10]
	}
	return questions, nil
}

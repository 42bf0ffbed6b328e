// Package state defines the document that flows through a workflow run.
// The state is what gets checkpointed between phases, so everything here
// must survive a JSON round trip.
package state

import "time"

// Phase statuses recorded per phase.
const (
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
	PhaseSkipped   = "skipped"
)

// Evaluation decisions.
const (
	DecisionGo   = "GO"
	DecisionNoGo = "NO_GO"
)

// PhaseResult records the outcome of one phase execution. Retried phases
// overwrite their previous result.
type PhaseResult struct {
	Phase      string         `json:"phase"`
	Status     string         `json:"status"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Message is one turn of LLM conversation carried in state for context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// WorkflowState is the full state of one workflow run. Phases read the
// fields of earlier phases and write their own.
type WorkflowState struct {
	// Identification
	WorkflowID string `json:"workflow_id"`
	WorkID     string `json:"work_id"`

	// Phase tracking
	CurrentPhase    string                  `json:"current_phase"`
	CompletedPhases []string                `json:"completed_phases"`
	PhaseResults    map[string]*PhaseResult `json:"phase_results"`

	// Frame outputs
	Issue              map[string]any `json:"issue,omitempty"`
	WorkType           string         `json:"work_type,omitempty"`
	WorkTypeConfidence float64        `json:"work_type_confidence,omitempty"`
	Requirements       []string       `json:"requirements,omitempty"`
	Dependencies       []string       `json:"dependencies,omitempty"`
	Blockers           []string       `json:"blockers,omitempty"`

	// Architect outputs
	SpecID              string   `json:"spec_id,omitempty"`
	SpecPath            string   `json:"spec_path,omitempty"`
	SpecValidated       bool     `json:"spec_validated"`
	SpecCompleteness    float64  `json:"spec_completeness,omitempty"`
	RefinementQuestions []string `json:"refinement_questions,omitempty"`

	// Build outputs. Commits accumulate across retries.
	BranchName    string   `json:"branch_name,omitempty"`
	Commits       []string `json:"commits"`
	FilesModified []string `json:"files_modified,omitempty"`
	TestsAdded    []string `json:"tests_added,omitempty"`

	// Evaluate outputs
	EvaluationResult        string         `json:"evaluation_result,omitempty"`
	EvaluationDetails       map[string]any `json:"evaluation_details,omitempty"`
	AcceptanceCriteriaMet   []string       `json:"acceptance_criteria_met,omitempty"`
	AcceptanceCriteriaUnmet []string       `json:"acceptance_criteria_unmet,omitempty"`
	IssuesFound             []string       `json:"issues_found,omitempty"`
	RetryCount              int            `json:"retry_count"`
	ReleasedWithKnownIssues bool           `json:"released_with_known_issues,omitempty"`

	// Release outputs
	PRNumber int    `json:"pr_number,omitempty"`
	PRURL    string `json:"pr_url,omitempty"`
	PRState  string `json:"pr_state,omitempty"`

	// Human-in-the-loop
	AwaitingApproval bool           `json:"awaiting_approval"`
	ApprovalRequest  map[string]any `json:"approval_request,omitempty"`
	ApprovalResponse map[string]any `json:"approval_response,omitempty"`

	// Cost tracking
	TotalTokens    int64   `json:"total_tokens"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
	BudgetLimitUSD float64 `json:"budget_limit_usd,omitempty"`
	BudgetApproved bool    `json:"budget_approved"`

	// Error handling
	Error       string `json:"error,omitempty"`
	ErrorPhase  string `json:"error_phase,omitempty"`
	ShouldRetry bool   `json:"should_retry"`

	// LLM conversation carried across phases
	Messages []Message `json:"messages"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewInitialState builds the state a fresh run starts from.
func NewInitialState(workflowID, workID string, budgetLimitUSD float64) *WorkflowState {
	now := time.Now().UTC()
	return &WorkflowState{
		WorkflowID:      workflowID,
		WorkID:          workID,
		CompletedPhases: []string{},
		PhaseResults:    make(map[string]*PhaseResult),
		Commits:         []string{},
		BudgetLimitUSD:  budgetLimitUSD,
		Messages:        []Message{},
		StartedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a structurally independent copy. Map values inside Output
// and Issue are shared, callers must not mutate them after recording.
func (s *WorkflowState) Clone() *WorkflowState {
	cp := *s
	cp.CompletedPhases = append([]string(nil), s.CompletedPhases...)
	cp.Requirements = append([]string(nil), s.Requirements...)
	cp.Dependencies = append([]string(nil), s.Dependencies...)
	cp.Blockers = append([]string(nil), s.Blockers...)
	cp.RefinementQuestions = append([]string(nil), s.RefinementQuestions...)
	cp.Commits = append([]string(nil), s.Commits...)
	cp.FilesModified = append([]string(nil), s.FilesModified...)
	cp.TestsAdded = append([]string(nil), s.TestsAdded...)
	cp.AcceptanceCriteriaMet = append([]string(nil), s.AcceptanceCriteriaMet...)
	cp.AcceptanceCriteriaUnmet = append([]string(nil), s.AcceptanceCriteriaUnmet...)
	cp.IssuesFound = append([]string(nil), s.IssuesFound...)
	cp.Messages = append([]Message(nil), s.Messages...)

	cp.PhaseResults = make(map[string]*PhaseResult, len(s.PhaseResults))
	for phase, result := range s.PhaseResults {
		r := *result
		cp.PhaseResults[phase] = &r
	}
	copyMap := func(m map[string]any) map[string]any {
		if m == nil {
			return nil
		}
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	cp.Issue = copyMap(s.Issue)
	cp.EvaluationDetails = copyMap(s.EvaluationDetails)
	cp.ApprovalRequest = copyMap(s.ApprovalRequest)
	cp.ApprovalResponse = copyMap(s.ApprovalResponse)
	return &cp
}

// RecordPhase stores a phase result and keeps CompletedPhases consistent:
// a phase is listed iff its latest result is completed. A retried phase
// that fails drops off the list until it completes again.
func (s *WorkflowState) RecordPhase(result *PhaseResult) {
	if s.PhaseResults == nil {
		s.PhaseResults = make(map[string]*PhaseResult)
	}
	s.PhaseResults[result.Phase] = result
	switch {
	case result.Status == PhaseCompleted && !s.HasCompleted(result.Phase):
		s.CompletedPhases = append(s.CompletedPhases, result.Phase)
	case result.Status != PhaseCompleted:
		for i, p := range s.CompletedPhases {
			if p == result.Phase {
				s.CompletedPhases = append(s.CompletedPhases[:i], s.CompletedPhases[i+1:]...)
				break
			}
		}
	}
	s.UpdatedAt = time.Now().UTC()
}

// HasCompleted reports whether a phase already completed in this run.
func (s *WorkflowState) HasCompleted(phase string) bool {
	for _, p := range s.CompletedPhases {
		if p == phase {
			return true
		}
	}
	return false
}

// AddUsage accumulates token and cost totals.
func (s *WorkflowState) AddUsage(tokens int64, costUSD float64) {
	s.TotalTokens += tokens
	s.TotalCostUSD += costUSD
	s.UpdatedAt = time.Now().UTC()
}

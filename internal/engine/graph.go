// Package engine sequences workflow phases: it runs the fixed FABER
// pipeline or a compiled custom workflow, gates phases on human approval,
// checkpoints state between phases, and drives the retry conditional at
// evaluate.
package engine

import (
	"fmt"
	"strings"

	"github.com/fractary/faber/internal/config"
	"github.com/fractary/faber/internal/state"
)

// Pipeline phase names in order.
const (
	PhaseFrame     = "frame"
	PhaseArchitect = "architect"
	PhaseBuild     = "build"
	PhaseEvaluate  = "evaluate"
	PhaseRelease   = "release"
)

// RetryPolicy is the edge taken when a phase fails or concludes NO_GO.
type RetryPolicy struct {
	RetryPhase string
	MaxRetries int
}

// Node is one phase of a workflow graph.
type Node struct {
	Name          string
	Agent         string
	Model         string // provider:model; overrides the agent's selector
	Tools         []string
	Steps         []string          // tool names run in order instead of an agent
	Inputs        map[string]string // input name -> resolved value or $phase.output ref
	Outputs       []string
	HumanApproval bool
	MaxIterations int
	OnFailure     *RetryPolicy
	// Fatal marks phases whose errors terminate the workflow rather than
	// entering a retry loop.
	Fatal bool
}

// Graph is an ordered workflow. Execution is sequential; OnFailure edges
// jump backward, bounded by their MaxRetries.
type Graph struct {
	Name  string
	Nodes []*Node
}

// Index returns the position of a phase, or -1.
func (g *Graph) Index(phase string) int {
	for i, n := range g.Nodes {
		if n.Name == phase {
			return i
		}
	}
	return -1
}

// Node returns the named phase node, or nil.
func (g *Graph) Node(phase string) *Node {
	if i := g.Index(phase); i >= 0 {
		return g.Nodes[i]
	}
	return nil
}

// DefaultPipeline builds the FABER graph from configuration. Frame and
// architect failures are fatal; build and evaluate failures re-enter build,
// bounded by the configured max_retries.
func DefaultPipeline(cfg *config.Config) *Graph {
	node := func(phase string, fatal bool, retry *RetryPolicy) *Node {
		pc := cfg.Phase(phase)
		return &Node{
			Name:          phase,
			Agent:         "faber-" + phase,
			Model:         pc.Model,
			HumanApproval: pc.HumanApproval,
			MaxIterations: pc.MaxIterations,
			Fatal:         fatal,
			OnFailure:     retry,
		}
	}
	retry := &RetryPolicy{RetryPhase: PhaseBuild, MaxRetries: cfg.MaxRetries}
	return &Graph{
		Name: "faber",
		Nodes: []*Node{
			node(PhaseFrame, true, nil),
			node(PhaseArchitect, true, nil),
			node(PhaseBuild, false, retry),
			node(PhaseEvaluate, false, retry),
			node(PhaseRelease, true, nil),
		},
	}
}

// defaultPrompts are the system prompts of the built-in phase agents, used
// when the registry has no definition under the faber-<phase> name.
var defaultPrompts = map[string]string{
	PhaseFrame: "You are the Frame agent of an engineering workflow. " +
		"Fetch and analyze the work item, classify the work type (bug, feature, chore, patch, infrastructure, api), " +
		"and extract requirements, dependencies and blockers. " +
		"Reply with a JSON object carrying work_type, work_type_confidence, requirements, dependencies and blockers.",
	PhaseArchitect: "You are the Architect agent of an engineering workflow. " +
		"Design the solution for the framed work item and write a specification document. " +
		"Reply with a JSON object carrying spec_id, spec_path, spec_validated and spec_completeness.",
	PhaseBuild: "You are the Build agent of an engineering workflow. " +
		"Implement the specification on a dedicated branch with focused commits. " +
		"Reply with a JSON object carrying branch_name, commits, files_modified and tests_added.",
	PhaseEvaluate: "You are the Evaluate agent of an engineering workflow. " +
		"Review the implementation against the requirements and acceptance criteria. " +
		"Conclude with 'Decision: GO' when the work is releasable or 'Decision: NO-GO' with the issues found.",
	PhaseRelease: "You are the Release agent of an engineering workflow. " +
		"Push the branch, open a pull request and post a summary comment on the work item. " +
		"Reply with a JSON object carrying pr_number, pr_url and pr_state.",
}

// taskPrompt composes the user message the engine hands a phase agent:
// the canned phase task plus a context hint built from earlier phases.
func taskPrompt(node *Node, st *state.WorkflowState) string {
	var b strings.Builder
	switch node.Name {
	case PhaseFrame:
		fmt.Fprintf(&b, "Frame work item %s: fetch the issue, classify the work type, and extract requirements.", st.WorkID)
	case PhaseArchitect:
		fmt.Fprintf(&b, "Architect a solution for work item %s", st.WorkID)
		if st.WorkType != "" {
			fmt.Fprintf(&b, " (%s)", st.WorkType)
		}
		b.WriteString(": write and validate a specification document.")
	case PhaseBuild:
		fmt.Fprintf(&b, "Build the implementation for work item %s on a dedicated branch.", st.WorkID)
		if st.RetryCount > 0 {
			fmt.Fprintf(&b, " This is retry %d; address the issues found by the last evaluation.", st.RetryCount)
		}
	case PhaseEvaluate:
		fmt.Fprintf(&b, "Evaluate the implementation for work item %s against its requirements. Conclude with 'Decision: GO' or 'Decision: NO-GO'.", st.WorkID)
	case PhaseRelease:
		fmt.Fprintf(&b, "Release work item %s: push the branch, open a pull request, and summarize on the issue.", st.WorkID)
		if st.ReleasedWithKnownIssues {
			b.WriteString(" The evaluation did not reach GO within the retry budget; flag the known issues in the pull request.")
		}
	default:
		fmt.Fprintf(&b, "Execute phase %s for work item %s.", node.Name, st.WorkID)
	}

	if hint := contextHint(node, st); hint != "" {
		b.WriteString("\n\nContext from earlier phases:\n")
		b.WriteString(hint)
	}
	return b.String()
}

// contextHint summarizes the typed outputs a phase depends on.
func contextHint(node *Node, st *state.WorkflowState) string {
	var lines []string
	add := func(key, value string) {
		if value != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", key, value))
		}
	}
	switch node.Name {
	case PhaseArchitect:
		add("work_type", st.WorkType)
		add("requirements", strings.Join(st.Requirements, "; "))
		add("blockers", strings.Join(st.Blockers, "; "))
	case PhaseBuild:
		add("work_type", st.WorkType)
		add("spec_id", st.SpecID)
		add("spec_path", st.SpecPath)
		add("issues_found", strings.Join(st.IssuesFound, "; "))
	case PhaseEvaluate:
		add("requirements", strings.Join(st.Requirements, "; "))
		add("branch_name", st.BranchName)
		add("commits", strings.Join(st.Commits, ", "))
		add("files_modified", strings.Join(st.FilesModified, ", "))
	case PhaseRelease:
		add("branch_name", st.BranchName)
		add("spec_path", st.SpecPath)
		add("evaluation_result", st.EvaluationResult)
		add("unmet_criteria", strings.Join(st.AcceptanceCriteriaUnmet, "; "))
	}

	// Custom-workflow nodes declare inputs explicitly; resolved values join
	// the hint under their declared names.
	for name, ref := range node.Inputs {
		if value := resolveStateRef(ref, st); value != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", name, value))
		}
	}
	return strings.Join(lines, "\n")
}

package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fractary/faber/internal/agent"
	"github.com/fractary/faber/internal/definition"
	"github.com/fractary/faber/internal/llm"
	"github.com/fractary/faber/internal/state"
	"github.com/fractary/faber/internal/worklog"
)

// summaryLimit bounds the phase output summary recorded in state.
const summaryLimit = 500

// runPhase executes one phase and returns the updated state. The returned
// state always carries a phase result for the node, completed or failed.
func (e *Engine) runPhase(ctx context.Context, node *Node, st *state.WorkflowState, run *worklog.RunLog, onUsage agent.UsageFunc) (*state.WorkflowState, error) {
	next := st.Clone()
	next.CurrentPhase = node.Name

	run.StartPhase(node.Name)
	start := time.Now()

	var (
		output   map[string]any
		decision string
		err      error
	)
	if len(node.Steps) > 0 {
		output, err = e.runSteps(ctx, node, next, run)
	} else {
		output, decision, err = e.runAgent(ctx, node, next, run, onUsage)
	}

	if err != nil {
		durationMS := run.EndPhase(node.Name, state.PhaseFailed, map[string]any{"error": err.Error()})
		if durationMS < 0 {
			durationMS = time.Since(start).Milliseconds()
		}
		next.RecordPhase(&state.PhaseResult{
			Phase:      node.Name,
			Status:     state.PhaseFailed,
			DurationMS: durationMS,
			Error:      err.Error(),
		})
		next.Error = err.Error()
		next.ErrorPhase = node.Name
		return next, err
	}

	durationMS := run.EndPhase(node.Name, state.PhaseCompleted, nil)
	if durationMS < 0 {
		durationMS = time.Since(start).Milliseconds()
	}
	next.RecordPhase(&state.PhaseResult{
		Phase:      node.Name,
		Status:     state.PhaseCompleted,
		DurationMS: durationMS,
		Output:     output,
	})
	applyTypedOutputs(node.Name, output, decision, next)
	return next, nil
}

// runAgent drives the phase's agent session to completion.
func (e *Engine) runAgent(ctx context.Context, node *Node, st *state.WorkflowState, run *worklog.RunLog, onUsage agent.UsageFunc) (map[string]any, string, error) {
	def, err := e.resolveAgent(node)
	if err != nil {
		return nil, "", err
	}
	spec := node.Model
	if spec == "" {
		spec = fmt.Sprintf("%s:%s", def.LLM.Provider, def.LLM.Model)
	}
	client, err := e.clients(spec)
	if err != nil {
		return nil, "", err
	}

	session := agent.NewSession(def, client, e.registry, e.executor,
		agent.WithMaxIterations(node.MaxIterations),
		agent.WithUsageFunc(onUsage),
		agent.WithSessionLogger(e.logger),
		agent.WithToolCallFunc(func(name string, input, result map[string]any, callErr error) {
			run.LogToolCall(node.Name, name, input, result, 0, callErr)
		}),
	)

	res, err := session.Run(ctx, e.projectRoot, taskPrompt(node, st))
	if err != nil {
		return nil, "", err
	}

	output := map[string]any{"summary": truncate(res.Text, summaryLimit)}
	for k, v := range res.Output {
		output[k] = v
	}
	if res.Decision != "" {
		output["decision"] = res.Decision
	}
	run.LogAgentAction(node.Name, def.Name, "phase completed", map[string]any{"iterations": res.Iterations})
	return output, res.Decision, nil
}

// runSteps executes an agentless phase: each named tool in order, fed the
// node's resolved inputs. Outputs nest under the tool names.
func (e *Engine) runSteps(ctx context.Context, node *Node, st *state.WorkflowState, run *worklog.RunLog) (map[string]any, error) {
	params := resolveInputs(node, st)
	output := make(map[string]any, len(node.Steps))
	for _, name := range node.Steps {
		def, err := e.registry.GetToolOrError(name)
		if err != nil {
			return nil, err
		}
		result, err := e.executor.Execute(ctx, def, params)
		run.LogToolCall(node.Name, name, params, result, 0, err)
		if err != nil {
			return nil, err
		}
		output[name] = result
	}
	return output, nil
}

// resolveAgent returns the node's agent from the registry, falling back to
// the built-in phase agent for default-pipeline nodes.
func (e *Engine) resolveAgent(node *Node) (*definition.Agent, error) {
	if a := e.registry.GetAgent(node.Agent); a != nil {
		return a, nil
	}
	prompt, ok := defaultPrompts[node.Name]
	if !ok || node.Agent != "faber-"+node.Name {
		// Custom workflows must name a real agent definition.
		_, err := e.registry.GetAgentOrError(node.Agent)
		return nil, err
	}
	provider, model := llm.ParseModelSpec(node.Model)
	return &definition.Agent{
		Name:        node.Agent,
		Description: fmt.Sprintf("Built-in %s phase agent", node.Name),
		Version:     "1.0",
		LLM: definition.LLMConfig{
			Provider:  definition.Provider(provider),
			Model:     model,
			MaxTokens: 8192,
		},
		Prompt: prompt,
		Tools:  node.Tools,
	}, nil
}

// applyTypedOutputs copies well-known output keys onto the state's typed
// fields. Unknown keys stay available in the phase result output.
func applyTypedOutputs(phase string, output map[string]any, decision string, st *state.WorkflowState) {
	str := func(key string) string {
		if v, ok := output[key].(string); ok {
			return v
		}
		return ""
	}
	strs := func(key string) []string {
		switch v := output[key].(type) {
		case []string:
			return v
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			return out
		}
		return nil
	}
	num := func(key string) float64 {
		switch v := output[key].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		}
		return 0
	}

	switch phase {
	case PhaseFrame:
		if v := str("work_type"); v != "" {
			st.WorkType = v
		}
		if v := num("work_type_confidence"); v > 0 {
			st.WorkTypeConfidence = v
		}
		if v, ok := output["issue"].(map[string]any); ok {
			st.Issue = v
		}
		if v := strs("requirements"); v != nil {
			st.Requirements = v
		}
		if v := strs("dependencies"); v != nil {
			st.Dependencies = v
		}
		if v := strs("blockers"); v != nil {
			st.Blockers = v
		}
	case PhaseArchitect:
		if v := str("spec_id"); v != "" {
			st.SpecID = v
		}
		if v := str("spec_path"); v != "" {
			st.SpecPath = v
		}
		if v, ok := output["spec_validated"].(bool); ok {
			st.SpecValidated = v
		}
		if v := num("spec_completeness"); v > 0 {
			st.SpecCompleteness = v
		}
		if v := strs("refinement_questions"); v != nil {
			st.RefinementQuestions = v
		}
	case PhaseBuild:
		if v := str("branch_name"); v != "" {
			st.BranchName = v
		}
		if v := strs("commits"); v != nil {
			st.Commits = append(st.Commits, v...)
		}
		if v := strs("files_modified"); v != nil {
			st.FilesModified = v
		}
		if v := strs("tests_added"); v != nil {
			st.TestsAdded = v
		}
	case PhaseEvaluate:
		// Absent decision counts as NO_GO: the evaluator did not say GO.
		if decision == "" {
			decision = state.DecisionNoGo
		}
		st.EvaluationResult = decision
		if v, ok := output["details"].(map[string]any); ok {
			st.EvaluationDetails = v
		}
		if v := strs("acceptance_criteria_met"); v != nil {
			st.AcceptanceCriteriaMet = v
		}
		if v := strs("acceptance_criteria_unmet"); v != nil {
			st.AcceptanceCriteriaUnmet = v
		}
		if v := strs("issues_found"); v != nil {
			st.IssuesFound = v
		}
	case PhaseRelease:
		if v := num("pr_number"); v > 0 {
			st.PRNumber = int(v)
		}
		if v := str("pr_url"); v != "" {
			st.PRURL = v
		}
		if v := str("pr_state"); v != "" {
			st.PRState = v
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n])
}

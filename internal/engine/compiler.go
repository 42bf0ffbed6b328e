package engine

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fractary/faber/internal/config"
	"github.com/fractary/faber/internal/errors"
)

// Document is a user-supplied custom workflow. References of the form
// $models.<name> and $config.<key> resolve at compile time; $<phase>.<output>
// references resolve at runtime but are validated at compile time against
// the producing phase's declared outputs.
type Document struct {
	Name     string            `yaml:"name"`
	Version  string            `yaml:"version,omitempty"`
	Models   map[string]string `yaml:"models,omitempty"`
	Config   map[string]any    `yaml:"config,omitempty"`
	Phases   []DocumentPhase   `yaml:"phases"`
	Triggers []Trigger         `yaml:"triggers,omitempty"`
}

// DocumentPhase declares one phase. Agent and Steps are mutually exclusive.
type DocumentPhase struct {
	Name          string            `yaml:"name"`
	Agent         string            `yaml:"agent,omitempty"`
	Steps         []string          `yaml:"steps,omitempty"`
	Model         string            `yaml:"model,omitempty"`
	Tools         []string          `yaml:"tools,omitempty"`
	Inputs        map[string]string `yaml:"inputs,omitempty"`
	Outputs       []string          `yaml:"outputs,omitempty"`
	HumanApproval bool              `yaml:"human_approval,omitempty"`
	MaxIterations int               `yaml:"max_iterations,omitempty"`
	OnFailure     *DocumentRetry    `yaml:"on_failure,omitempty"`
}

// DocumentRetry is a phase's failure edge. MaxRetries may be an integer or
// a $config reference.
type DocumentRetry struct {
	RetryPhase string `yaml:"retry_phase"`
	MaxRetries any    `yaml:"max_retries,omitempty"`
}

// Trigger is accepted by the schema for forward compatibility; the engine
// itself runs workflows only on demand.
type Trigger struct {
	Event  string `yaml:"event"`
	Filter string `yaml:"filter,omitempty"`
}

// LoadDocument reads and parses a custom workflow file.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ErrWorkflowCompile(path, err.Error())
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.ErrWorkflowCompile(path, err.Error())
	}
	return &doc, nil
}

// Compile turns a document into an executable graph. Every reference must
// resolve; unresolved references are compile errors.
func Compile(doc *Document, cfg *config.Config) (*Graph, error) {
	if doc.Name == "" {
		return nil, errors.ErrWorkflowCompile("workflow", "name is required")
	}
	if len(doc.Phases) == 0 {
		return nil, errors.ErrWorkflowCompile(doc.Name, "at least one phase is required")
	}

	graph := &Graph{Name: doc.Name}
	outputs := make(map[string]map[string]bool, len(doc.Phases))

	for i := range doc.Phases {
		dp := &doc.Phases[i]
		ref := fmt.Sprintf("phases[%d]", i)
		if dp.Name == "" {
			return nil, errors.ErrWorkflowCompile(ref, "phase name is required")
		}
		ref = fmt.Sprintf("phase %q", dp.Name)
		if _, dup := outputs[dp.Name]; dup {
			return nil, errors.ErrWorkflowCompile(ref, "duplicate phase name")
		}
		if dp.Agent == "" && len(dp.Steps) == 0 {
			return nil, errors.ErrWorkflowCompile(ref, "phase requires an agent or steps")
		}
		if dp.Agent != "" && len(dp.Steps) > 0 {
			return nil, errors.ErrWorkflowCompile(ref, "agent and steps are mutually exclusive")
		}

		model, err := resolveModel(dp.Model, doc)
		if err != nil {
			return nil, errors.ErrWorkflowCompile(ref, err.Error())
		}

		inputs := make(map[string]string, len(dp.Inputs))
		for name, input := range dp.Inputs {
			resolved, err := resolveInput(input, doc, outputs)
			if err != nil {
				return nil, errors.ErrWorkflowCompile(fmt.Sprintf("%s input %q", ref, name), err.Error())
			}
			inputs[name] = resolved
		}

		node := &Node{
			Name:          dp.Name,
			Agent:         dp.Agent,
			Model:         model,
			Tools:         append([]string(nil), dp.Tools...),
			Steps:         append([]string(nil), dp.Steps...),
			Inputs:        inputs,
			Outputs:       append([]string(nil), dp.Outputs...),
			HumanApproval: dp.HumanApproval,
			MaxIterations: dp.MaxIterations,
		}
		if node.MaxIterations <= 0 {
			node.MaxIterations = 50
		}

		if dp.OnFailure != nil {
			policy, err := compileRetry(dp.Name, dp.OnFailure, doc, cfg, outputs)
			if err != nil {
				return nil, errors.ErrWorkflowCompile(fmt.Sprintf("%s on_failure", ref), err.Error())
			}
			node.OnFailure = policy
		}

		graph.Nodes = append(graph.Nodes, node)
		declared := make(map[string]bool, len(dp.Outputs))
		for _, out := range dp.Outputs {
			declared[out] = true
		}
		outputs[dp.Name] = declared
	}

	return graph, nil
}

// resolveModel resolves a phase's model selector, which may be a literal
// provider:model, a $models reference, or empty (the configured default).
func resolveModel(model string, doc *Document) (string, error) {
	switch {
	case model == "":
		return "", nil
	case strings.HasPrefix(model, refModels):
		name := strings.TrimPrefix(model, refModels)
		resolved, ok := doc.Models[name]
		if !ok {
			return "", fmt.Errorf("reference %s does not resolve: no model named %q", model, name)
		}
		return resolved, nil
	case isRef(model):
		return "", fmt.Errorf("reference %s does not resolve: model references must use $models.<name>", model)
	default:
		return model, nil
	}
}

// resolveInput resolves one input value at compile time. $config and
// $models references become literals; $<phase>.<output> references are
// validated against an earlier phase's declared outputs and kept for
// runtime resolution.
func resolveInput(input string, doc *Document, outputs map[string]map[string]bool) (string, error) {
	switch {
	case !isRef(input):
		return input, nil
	case strings.HasPrefix(input, refConfig):
		path := strings.TrimPrefix(input, refConfig)
		value, err := dotPath(doc.Config, path)
		if err != nil {
			return "", fmt.Errorf("reference %s does not resolve: %v", input, err)
		}
		return fmt.Sprintf("%v", value), nil
	case strings.HasPrefix(input, refModels):
		return resolveModel(input, doc)
	default:
		phase, path, ok := splitPhaseRef(input)
		if !ok {
			return "", fmt.Errorf("reference %s is malformed", input)
		}
		declared, known := outputs[phase]
		if !known {
			return "", fmt.Errorf("reference %s does not resolve: phase %q is not defined earlier in the workflow", input, phase)
		}
		root := path
		if i := strings.Index(path, "."); i > 0 {
			root = path[:i]
		}
		if !declared[root] {
			return "", fmt.Errorf("reference %s does not resolve: phase %q does not declare output %q", input, phase, root)
		}
		return input, nil
	}
}

// compileRetry resolves a failure edge. The retry target must be the phase
// itself or an earlier phase.
func compileRetry(phase string, dr *DocumentRetry, doc *Document, cfg *config.Config, outputs map[string]map[string]bool) (*RetryPolicy, error) {
	if dr.RetryPhase == "" {
		return nil, fmt.Errorf("retry_phase is required")
	}
	if _, known := outputs[dr.RetryPhase]; !known && dr.RetryPhase != phase {
		return nil, fmt.Errorf("retry_phase %q is not defined earlier in the workflow", dr.RetryPhase)
	}

	maxRetries := cfg.MaxRetries
	switch v := dr.MaxRetries.(type) {
	case nil:
	case int:
		maxRetries = v
	case string:
		if !strings.HasPrefix(v, refConfig) {
			return nil, fmt.Errorf("max_retries must be an integer or a $config reference (got %q)", v)
		}
		value, err := dotPath(doc.Config, strings.TrimPrefix(v, refConfig))
		if err != nil {
			return nil, fmt.Errorf("reference %s does not resolve: %v", v, err)
		}
		n, ok := value.(float64)
		if !ok {
			return nil, fmt.Errorf("reference %s does not resolve to an integer", v)
		}
		maxRetries = int(n)
	default:
		return nil, fmt.Errorf("max_retries must be an integer or a $config reference")
	}
	if maxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", maxRetries)
	}
	return &RetryPolicy{RetryPhase: dr.RetryPhase, MaxRetries: maxRetries}, nil
}

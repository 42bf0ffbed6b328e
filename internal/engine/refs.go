package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/fractary/faber/internal/state"
)

// Reference prefixes accepted in custom workflow documents. $models.* and
// $config.* resolve at compile time; $<phase>.<output> resolves at runtime
// against the producing phase's recorded output.
const (
	refModels = "$models."
	refConfig = "$config."
)

// isRef reports whether a value is a $-reference rather than a literal.
func isRef(value string) bool {
	return strings.HasPrefix(value, "$")
}

// splitPhaseRef parses "$phase.output.path" into its phase and dot path.
func splitPhaseRef(ref string) (phase, path string, ok bool) {
	if !isRef(ref) {
		return "", "", false
	}
	rest := strings.TrimPrefix(ref, "$")
	i := strings.Index(rest, ".")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// outputsDoc renders the per-phase outputs as one JSON document keyed by
// phase name, so dot-path references resolve with gjson.
func outputsDoc(st *state.WorkflowState) string {
	doc := make(map[string]map[string]any, len(st.PhaseResults))
	for phase, result := range st.PhaseResults {
		if result.Output != nil {
			doc[phase] = result.Output
		}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// resolveStateRef resolves a runtime reference against the state's phase
// outputs. Literals pass through; unresolved references yield "".
func resolveStateRef(ref string, st *state.WorkflowState) string {
	if !isRef(ref) {
		return ref
	}
	phase, path, ok := splitPhaseRef(ref)
	if !ok {
		return ""
	}
	value := gjson.Get(outputsDoc(st), phase+"."+path)
	if !value.Exists() {
		return ""
	}
	return value.String()
}

// resolveInputs materializes a node's declared inputs as tool parameters.
func resolveInputs(node *Node, st *state.WorkflowState) map[string]any {
	if len(node.Inputs) == 0 {
		return map[string]any{}
	}
	params := make(map[string]any, len(node.Inputs))
	for name, ref := range node.Inputs {
		params[name] = resolveStateRef(ref, st)
	}
	return params
}

// dotPath looks a dot-separated key path up in a nested map.
func dotPath(doc map[string]any, path string) (any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	value := gjson.GetBytes(raw, path)
	if !value.Exists() {
		return nil, fmt.Errorf("path %q not found", path)
	}
	return value.Value(), nil
}

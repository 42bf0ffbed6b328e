// Package errors provides structured error types for faber.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for faber.
const (
	// Configuration errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
	CodeConfigMissing Code = "CONFIG_MISSING"

	// Definition errors
	CodeDefinitionNotFound Code = "DEFINITION_NOT_FOUND"
	CodeDefinitionInvalid  Code = "DEFINITION_INVALID"

	// Tool errors
	CodeToolExecution Code = "TOOL_EXECUTION"

	// Budget errors
	CodeBudgetApprovalRequired Code = "BUDGET_APPROVAL_REQUIRED"
	CodeBudgetExceeded         Code = "BUDGET_EXCEEDED"

	// Approval errors
	CodeApprovalRejected Code = "APPROVAL_REJECTED"
	CodeApprovalTimeout  Code = "APPROVAL_TIMEOUT"

	// Workflow errors
	CodeWorkflowNotFound  Code = "WORKFLOW_NOT_FOUND"
	CodeWorkflowCompile   Code = "WORKFLOW_COMPILE"
	CodeWorkflowCancelled Code = "WORKFLOW_CANCELLED"
	CodeAgentLoopExceeded Code = "AGENT_LOOP_EXCEEDED"
	CodePhaseFailed       Code = "PHASE_FAILED"

	// Infrastructure errors
	CodeCheckpointIO        Code = "CHECKPOINT_IO"
	CodeProviderUnsupported Code = "PROVIDER_UNSUPPORTED"
)

// FaberError is the structured error type for faber.
type FaberError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *FaberError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *FaberError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *FaberError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// MarshalJSON implements json.Marshaler.
func (e *FaberError) MarshalJSON() ([]byte, error) {
	type alias FaberError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a FaberError with the same code.
func (e *FaberError) Is(target error) bool {
	t, ok := target.(*FaberError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *FaberError) WithCause(err error) *FaberError {
	return &FaberError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(reason string) *FaberError {
	return &FaberError{
		Code: CodeConfigInvalid,
		What: "invalid configuration",
		Why:  reason,
		Fix:  "Check .faber/config.yaml and fix the invalid field",
	}
}

// ErrConfigMissing returns an error for missing configuration.
func ErrConfigMissing(field string) *FaberError {
	return &FaberError{
		Code: CodeConfigMissing,
		What: fmt.Sprintf("missing required configuration: %s", field),
		Why:  "This field is required but not set in configuration",
		Fix:  fmt.Sprintf("Add '%s' to .faber/config.yaml", field),
	}
}

// ErrAgentNotFound returns an error when an agent definition doesn't exist.
func ErrAgentNotFound(name, available string) *FaberError {
	return &FaberError{
		Code: CodeDefinitionNotFound,
		What: fmt.Sprintf("Agent '%s' not found. Available agents: %s", name, available),
		Why:  "No agent definition with this name was discovered",
		Fix:  "Add a definition under .fractary/agents/ or check the name spelling",
	}
}

// ErrToolNotFound returns an error when a tool definition doesn't exist.
func ErrToolNotFound(name, available string) *FaberError {
	return &FaberError{
		Code: CodeDefinitionNotFound,
		What: fmt.Sprintf("Tool '%s' not found. Available tools: %s", name, available),
		Why:  "No tool definition with this name was discovered",
		Fix:  "Add a definition under .fractary/tools/ or check the name spelling",
	}
}

// ErrDefinitionInvalid returns an error for a malformed definition file.
func ErrDefinitionInvalid(path, reason string) *FaberError {
	return &FaberError{
		Code: CodeDefinitionInvalid,
		What: fmt.Sprintf("invalid definition in %s", path),
		Why:  reason,
		Fix:  "Fix the YAML file so it matches the agent/tool schema",
	}
}

// ErrToolExecution returns an error for a failed tool call.
func ErrToolExecution(tool, reason string) *FaberError {
	return &FaberError{
		Code: CodeToolExecution,
		What: fmt.Sprintf("tool '%s' execution failed", tool),
		Why:  reason,
	}
}

// ErrBudgetApprovalRequired signals the soft budget threshold was crossed.
func ErrBudgetApprovalRequired(totalUSD, limitUSD float64) *FaberError {
	return &FaberError{
		Code: CodeBudgetApprovalRequired,
		What: fmt.Sprintf("budget approval required: $%.4f of $%.2f used", totalUSD, limitUSD),
		Why:  "Accumulated cost crossed the approval threshold",
		Fix:  "Approve continued spending or cancel the workflow",
	}
}

// ErrBudgetExceeded signals the hard budget limit was crossed.
func ErrBudgetExceeded(totalUSD, limitUSD float64) *FaberError {
	return &FaberError{
		Code: CodeBudgetExceeded,
		What: fmt.Sprintf("budget exceeded: $%.4f of $%.2f used", totalUSD, limitUSD),
		Why:  "Accumulated cost reached the hard budget limit",
		Fix:  "Raise workflow.cost.budget_limit_usd or start a new workflow",
	}
}

// ErrApprovalRejected returns an error for a rejected phase gate.
func ErrApprovalRejected(phase, responder string) *FaberError {
	e := &FaberError{
		Code: CodeApprovalRejected,
		What: fmt.Sprintf("approval rejected for phase %s", phase),
		Why:  "A human responder declined the approval request",
	}
	if responder != "" {
		e.Why = fmt.Sprintf("Rejected by %s", responder)
	}
	return e
}

// ErrApprovalTimeout returns an error for an expired phase gate.
func ErrApprovalTimeout(phase string, minutes int) *FaberError {
	return &FaberError{
		Code: CodeApprovalTimeout,
		What: fmt.Sprintf("approval timed out for phase %s", phase),
		Why:  fmt.Sprintf("No response received within %d minutes", minutes),
		Fix:  "Increase workflow.approval.timeout_minutes or respond sooner",
	}
}

// ErrWorkflowNotFound returns an error when a workflow id is unknown.
func ErrWorkflowNotFound(id string) *FaberError {
	return &FaberError{
		Code: CodeWorkflowNotFound,
		What: fmt.Sprintf("workflow %s not found", id),
		Why:  "No checkpoint or log exists for this workflow id",
		Fix:  "Run 'faber list' to see known workflows",
	}
}

// ErrWorkflowCancelled marks a run stopped by an external cancellation.
func ErrWorkflowCancelled(id string) *FaberError {
	return &FaberError{
		Code: CodeWorkflowCancelled,
		What: fmt.Sprintf("workflow %s cancelled", id),
		Why:  "An external cancellation signal stopped the run",
	}
}

// ErrWorkflowCompile returns an error for an invalid custom workflow document.
func ErrWorkflowCompile(ref, reason string) *FaberError {
	return &FaberError{
		Code: CodeWorkflowCompile,
		What: fmt.Sprintf("workflow compilation failed at %s", ref),
		Why:  reason,
		Fix:  "Fix the reference in the workflow YAML; only $models.*, $config.* and prior-phase outputs resolve",
	}
}

// ErrAgentLoopExceeded returns an error when the tool-use loop hits its cap.
func ErrAgentLoopExceeded(agent string, iterations int) *FaberError {
	return &FaberError{
		Code: CodeAgentLoopExceeded,
		What: fmt.Sprintf("agent %s exceeded %d iterations without a final reply", agent, iterations),
		Why:  "The tool-use loop did not converge",
		Fix:  "Raise max_iterations for the phase or simplify the agent's tools",
	}
}

// ErrCheckpointIO returns a fatal checkpoint persistence error.
func ErrCheckpointIO(threadID string, cause error) *FaberError {
	return &FaberError{
		Code:  CodeCheckpointIO,
		What:  fmt.Sprintf("checkpoint write failed for %s", threadID),
		Why:   "Resumption cannot be guaranteed without a durable checkpoint",
		Fix:   "Check the checkpoint backend configuration and storage health",
		Cause: cause,
	}
}

// ErrProviderUnsupported returns an error for an unknown LLM provider.
func ErrProviderUnsupported(provider string) *FaberError {
	return &FaberError{
		Code: CodeProviderUnsupported,
		What: fmt.Sprintf("unsupported LLM provider: %s", provider),
		Why:  "Only 'anthropic' and 'openai' clients are wired",
		Fix:  "Use a provider:model selector with a supported provider",
	}
}

// AsFaberError attempts to convert an error to a FaberError.
// Returns nil if the error is not a FaberError.
func AsFaberError(err error) *FaberError {
	var fe *FaberError
	if As(err, &fe) {
		return fe
	}
	return nil
}

// As is a convenience wrapper for errors.As.
func As(err error, target any) bool {
	return asError(err, target)
}

// asError implements errors.As behavior.
func asError(err error, target any) bool {
	if err == nil {
		return false
	}
	if fe, ok := err.(*FaberError); ok {
		if t, ok := target.(**FaberError); ok {
			*t = fe
			return true
		}
	}
	// Check unwrapped error
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return asError(unwrapper.Unwrap(), target)
	}
	return false
}

// Wrap wraps a generic error into a FaberError with unknown code.
func Wrap(err error, what string) *FaberError {
	return &FaberError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}

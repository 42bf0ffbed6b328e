package state

import (
	"encoding/json"
	"testing"
)

func TestNewInitialState(t *testing.T) {
	s := NewInitialState("WF-42-deadbeef", "42", 10.0)

	if s.WorkflowID != "WF-42-deadbeef" {
		t.Errorf("WorkflowID = %q", s.WorkflowID)
	}
	if s.WorkID != "42" {
		t.Errorf("WorkID = %q", s.WorkID)
	}
	if s.BudgetLimitUSD != 10.0 {
		t.Errorf("BudgetLimitUSD = %v", s.BudgetLimitUSD)
	}
	if s.RetryCount != 0 || s.CurrentPhase != "" {
		t.Errorf("fresh state has progress: phase=%q retries=%d", s.CurrentPhase, s.RetryCount)
	}
	if s.CompletedPhases == nil || s.PhaseResults == nil || s.Commits == nil || s.Messages == nil {
		t.Error("collections must be initialized, not nil")
	}
}

func TestRecordPhase(t *testing.T) {
	s := NewInitialState("WF-1-a", "1", 0)

	s.RecordPhase(&PhaseResult{Phase: "frame", Status: PhaseCompleted, DurationMS: 120})
	if !s.HasCompleted("frame") {
		t.Error("frame should be completed")
	}

	// A failed phase is recorded but not marked completed.
	s.RecordPhase(&PhaseResult{Phase: "build", Status: PhaseFailed, Error: "boom"})
	if s.HasCompleted("build") {
		t.Error("failed build must not count as completed")
	}
	if s.PhaseResults["build"].Error != "boom" {
		t.Error("failure detail lost")
	}

	// Retry succeeds; completed_phases gains build exactly once.
	s.RecordPhase(&PhaseResult{Phase: "build", Status: PhaseCompleted})
	s.RecordPhase(&PhaseResult{Phase: "build", Status: PhaseCompleted})
	count := 0
	for _, p := range s.CompletedPhases {
		if p == "build" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("build recorded %d times in completed_phases", count)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewInitialState("WF-1-a", "1", 0)
	s.Commits = []string{"abc123"}
	s.RecordPhase(&PhaseResult{Phase: "frame", Status: PhaseCompleted})
	s.Issue = map[string]any{"title": "fix crash"}

	cp := s.Clone()
	cp.Commits = append(cp.Commits, "def456")
	cp.CompletedPhases = append(cp.CompletedPhases, "build")
	cp.PhaseResults["frame"].Status = PhaseFailed
	cp.Issue["title"] = "changed"

	if len(s.Commits) != 1 {
		t.Errorf("clone mutated original commits: %v", s.Commits)
	}
	if len(s.CompletedPhases) != 1 {
		t.Errorf("clone mutated original completed phases: %v", s.CompletedPhases)
	}
	if s.PhaseResults["frame"].Status != PhaseCompleted {
		t.Error("clone mutated original phase result")
	}
	if s.Issue["title"] != "fix crash" {
		t.Error("clone mutated original issue map")
	}
}

func TestAddUsage(t *testing.T) {
	s := NewInitialState("WF-1-a", "1", 0)
	s.AddUsage(1000, 0.05)
	s.AddUsage(500, 0.02)

	if s.TotalTokens != 1500 {
		t.Errorf("TotalTokens = %d", s.TotalTokens)
	}
	if s.TotalCostUSD < 0.069 || s.TotalCostUSD > 0.071 {
		t.Errorf("TotalCostUSD = %v", s.TotalCostUSD)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	s := NewInitialState("WF-9-cafe0001", "9", 25.0)
	s.CurrentPhase = "evaluate"
	s.EvaluationResult = DecisionNoGo
	s.RetryCount = 2
	s.RecordPhase(&PhaseResult{Phase: "build", Status: PhaseCompleted, Output: map[string]any{"summary": "done"}})
	s.Messages = append(s.Messages, Message{Role: "user", Content: "implement the fix"})

	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back WorkflowState
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.EvaluationResult != DecisionNoGo || back.RetryCount != 2 {
		t.Errorf("evaluate fields lost: %q %d", back.EvaluationResult, back.RetryCount)
	}
	if back.PhaseResults["build"].Output["summary"] != "done" {
		t.Error("phase output lost")
	}
	if len(back.Messages) != 1 || back.Messages[0].Content != "implement the fix" {
		t.Errorf("messages lost: %+v", back.Messages)
	}
}

package cost

import (
	"errors"
	"testing"

	faberrors "github.com/fractary/faber/internal/errors"
)

func TestComputeCostKnownModel(t *testing.T) {
	tr := NewTracker(10.0)

	// sonnet: $3/1M input, $15/1M output
	event, err := tr.AddUsage("claude-sonnet-4-20250514", 1_000_000, 100_000, "build", nil)
	if err != nil {
		t.Fatalf("AddUsage failed: %v", err)
	}

	want := 3.00 + 1.50
	if event.CostUSD != want {
		t.Errorf("CostUSD = %v, want %v", event.CostUSD, want)
	}
}

func TestComputeCostFallback(t *testing.T) {
	tr := NewTracker(100.0)

	event, err := tr.AddUsage("some-unknown-model", 500_000, 500_000, "", nil)
	if err != nil {
		t.Fatalf("AddUsage failed: %v", err)
	}

	// Fallback: $5 per 1M combined tokens.
	if event.CostUSD != 5.00 {
		t.Errorf("CostUSD = %v, want 5.00", event.CostUSD)
	}
}

func TestBudgetExceeded(t *testing.T) {
	tr := NewTracker(1.0)

	// opus output at $75/1M: 20k tokens = $1.50 > limit
	_, err := tr.AddUsage("claude-opus-4-20250514", 0, 20_000, "build", nil)
	if err == nil {
		t.Fatal("expected budget exceeded error")
	}
	var fe *faberrors.FaberError
	if !errors.As(err, &fe) || fe.Code != faberrors.CodeBudgetExceeded {
		t.Errorf("error = %v, want BUDGET_EXCEEDED", err)
	}
}

func TestBudgetApprovalRequired(t *testing.T) {
	tr := NewTracker(1.0)

	// 0.95 of budget crosses the 0.9 default approval threshold.
	_, err := tr.AddUsage("some-unknown-model", 190_000, 0, "build", nil)
	if err == nil {
		t.Fatal("expected approval-required error")
	}
	var fe *faberrors.FaberError
	if !errors.As(err, &fe) || fe.Code != faberrors.CodeBudgetApprovalRequired {
		t.Errorf("error = %v, want BUDGET_APPROVAL_REQUIRED", err)
	}

	// After approval the same band no longer errors.
	tr.ApproveBudget()
	if _, err := tr.AddUsage("some-unknown-model", 1000, 0, "build", nil); err != nil {
		t.Errorf("post-approval usage below hard limit should pass: %v", err)
	}

	// The hard limit still applies.
	if _, err := tr.AddUsage("some-unknown-model", 100_000, 0, "build", nil); err == nil {
		t.Error("hard limit must hold even after approval")
	}
}

func TestWarningThresholdNoError(t *testing.T) {
	tr := NewTracker(1.0)

	// 0.85 of budget: warn band, no error.
	if _, err := tr.AddUsage("some-unknown-model", 170_000, 0, "frame", nil); err != nil {
		t.Errorf("warning band should not error: %v", err)
	}
}

func TestUnlimitedBudget(t *testing.T) {
	for _, limit := range []float64{0, -1} {
		tr := NewTracker(limit)
		if _, err := tr.AddUsage("claude-opus-4-20250514", 10_000_000, 10_000_000, "", nil); err != nil {
			t.Errorf("limit %v should disable checks: %v", limit, err)
		}
	}
}

func TestTotalMonotonicallyNonDecreasing(t *testing.T) {
	tr := NewTracker(0)

	prev := 0.0
	for i := 0; i < 20; i++ {
		tr.AddUsage("gpt-4o-mini", 1000, 1000, "build", nil)
		total := tr.TotalCostUSD()
		if total < prev {
			t.Fatalf("total decreased: %v -> %v", prev, total)
		}
		prev = total
	}

	// Running sum of events equals the reported total.
	var sum float64
	for _, e := range tr.Events() {
		sum += e.CostUSD
	}
	if sum != tr.TotalCostUSD() {
		t.Errorf("event sum %v != total %v", sum, tr.TotalCostUSD())
	}
}

func TestSummaryBreakdowns(t *testing.T) {
	tr := NewTracker(10.0)
	tr.AddUsage("claude-sonnet-4-20250514", 100_000, 10_000, "build", nil)
	tr.AddUsage("claude-sonnet-4-20250514", 50_000, 5_000, "evaluate", nil)
	tr.AddUsage("claude-3-5-haiku-20241022", 10_000, 1_000, "frame", nil)

	s := tr.GetSummary()
	if s.EventsCount != 3 {
		t.Errorf("EventsCount = %d, want 3", s.EventsCount)
	}
	if s.TotalTokens != 176_000 {
		t.Errorf("TotalTokens = %d, want 176000", s.TotalTokens)
	}
	if len(s.ByModel) != 2 {
		t.Errorf("ByModel has %d entries, want 2", len(s.ByModel))
	}
	if len(s.ByPhase) != 3 {
		t.Errorf("ByPhase has %d entries, want 3", len(s.ByPhase))
	}
	if s.BudgetRemaining <= 0 || s.BudgetRemaining >= 10 {
		t.Errorf("BudgetRemaining = %v, want in (0, 10)", s.BudgetRemaining)
	}

	buildCost := s.ByPhase["build"]
	want := 100_000/1e6*3.0 + 10_000/1e6*15.0
	if buildCost != want {
		t.Errorf("build phase cost = %v, want %v", buildCost, want)
	}
}

func TestCustomThresholds(t *testing.T) {
	tr := NewTracker(1.0, WithThresholds(0.5, 0.6))

	if _, err := tr.AddUsage("some-unknown-model", 110_000, 0, "", nil); err != nil {
		// 0.55: warning only
		t.Errorf("warning band should not error: %v", err)
	}
	if _, err := tr.AddUsage("some-unknown-model", 20_000, 0, "", nil); err == nil {
		// 0.65: approval required
		t.Error("expected approval-required at custom threshold")
	}
}

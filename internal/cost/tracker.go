// Package cost tracks per-workflow token usage against a USD budget with
// warning, approval-required and hard-stop thresholds.
package cost

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fractary/faber/internal/errors"
)

// ModelPricing is USD per million tokens, separate input/output rates.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing covers the models the default pipeline uses. Models with
// no entry fall back to FallbackRate applied to combined tokens.
var DefaultPricing = map[string]ModelPricing{
	"claude-opus-4-20250514":    {InputPerMillion: 15.00, OutputPerMillion: 75.00},
	"claude-sonnet-4-20250514":  {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-3-5-haiku-20241022": {InputPerMillion: 0.25, OutputPerMillion: 1.25},
	"gpt-4o":                    {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":               {InputPerMillion: 0.15, OutputPerMillion: 0.60},
}

// FallbackRate approximates unknown models: USD per million combined tokens.
const FallbackRate = 5.00

// Threshold defaults as ratios of the budget limit.
const (
	DefaultWarningThreshold  = 0.8
	DefaultApprovalThreshold = 0.9
	DefaultBudgetLimitUSD    = 10.0
)

// UsageEvent records one LLM call's tokens and cost.
type UsageEvent struct {
	Timestamp    time.Time      `json:"timestamp"`
	Model        string         `json:"model"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	CostUSD      float64        `json:"cost_usd"`
	Phase        string         `json:"phase,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Summary aggregates the tracker's event log.
type Summary struct {
	TotalInputTokens  int                `json:"total_input_tokens"`
	TotalOutputTokens int                `json:"total_output_tokens"`
	TotalTokens       int                `json:"total_tokens"`
	TotalCostUSD      float64            `json:"total_cost_usd"`
	ByModel           map[string]float64 `json:"by_model"`
	ByPhase           map[string]float64 `json:"by_phase"`
	EventsCount       int                `json:"events_count"`
	BudgetLimitUSD    float64            `json:"budget_limit_usd"`
	BudgetRemaining   float64            `json:"budget_remaining"`
	BudgetPercentUsed float64            `json:"budget_percent_used"`
}

// Tracker accumulates usage for one workflow. Append and summary reads may
// interleave; all access is guarded.
type Tracker struct {
	mu sync.Mutex

	pricing           map[string]ModelPricing
	budgetLimitUSD    float64
	warningThreshold  float64
	approvalThreshold float64
	budgetApproved    bool
	warned            bool

	events        []UsageEvent
	totalCostUSD  float64
	carriedTokens int64 // usage carried forward from a resumed run
	logger        *slog.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithPricing overrides the pricing table.
func WithPricing(p map[string]ModelPricing) TrackerOption {
	return func(t *Tracker) { t.pricing = p }
}

// WithThresholds overrides warning and approval ratios.
func WithThresholds(warning, approval float64) TrackerOption {
	return func(t *Tracker) {
		t.warningThreshold = warning
		t.approvalThreshold = approval
	}
}

// WithInitialUsage seeds the tracker with usage carried forward from a
// resumed run, so budget thresholds account for spend before the restart.
func WithInitialUsage(tokens int64, costUSD float64) TrackerOption {
	return func(t *Tracker) {
		t.carriedTokens = tokens
		t.totalCostUSD = costUSD
	}
}

// WithTrackerLogger sets the structured logger.
func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = logger }
}

// NewTracker builds a tracker with the given budget. A limit <= 0 disables
// all budget checks.
func NewTracker(budgetLimitUSD float64, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		pricing:           DefaultPricing,
		budgetLimitUSD:    budgetLimitUSD,
		warningThreshold:  DefaultWarningThreshold,
		approvalThreshold: DefaultApprovalThreshold,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AddUsage records one LLM call and classifies the running total against
// the budget. The returned event is always appended, even when a budget
// error is returned alongside it:
//   - total >= limit: BUDGET_EXCEEDED (the engine must stop)
//   - total >= approval threshold and not yet approved: BUDGET_APPROVAL_REQUIRED
//   - total >= warning threshold: logged warning, no error
func (t *Tracker) AddUsage(model string, inputTokens, outputTokens int, phase string, metadata map[string]any) (UsageEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cost := t.computeCost(model, inputTokens, outputTokens)
	event := UsageEvent{
		Timestamp:    time.Now().UTC(),
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Phase:        phase,
		Metadata:     metadata,
	}
	t.events = append(t.events, event)
	t.totalCostUSD += cost

	if t.budgetLimitUSD <= 0 {
		return event, nil
	}

	ratio := t.totalCostUSD / t.budgetLimitUSD
	switch {
	case ratio >= 1.0:
		return event, errors.ErrBudgetExceeded(t.totalCostUSD, t.budgetLimitUSD)
	case ratio >= t.approvalThreshold && !t.budgetApproved:
		return event, errors.ErrBudgetApprovalRequired(t.totalCostUSD, t.budgetLimitUSD)
	case ratio >= t.warningThreshold:
		if !t.warned {
			t.warned = true
			t.logger.Warn("budget warning threshold crossed",
				"total_cost_usd", t.totalCostUSD,
				"budget_limit_usd", t.budgetLimitUSD,
				"percent_used", ratio*100)
		}
	}
	return event, nil
}

func (t *Tracker) computeCost(model string, inputTokens, outputTokens int) float64 {
	if p, ok := t.pricing[model]; ok {
		return float64(inputTokens)/1e6*p.InputPerMillion + float64(outputTokens)/1e6*p.OutputPerMillion
	}
	return float64(inputTokens+outputTokens) / 1e6 * FallbackRate
}

// ApproveBudget marks continued spending as approved; usage between the
// approval and hard-stop thresholds no longer re-prompts.
func (t *Tracker) ApproveBudget() {
	t.mu.Lock()
	t.budgetApproved = true
	t.mu.Unlock()
}

// BudgetApproved reports whether the soft threshold was approved.
func (t *Tracker) BudgetApproved() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.budgetApproved
}

// TotalCostUSD returns the running total.
func (t *Tracker) TotalCostUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalCostUSD
}

// TotalTokens returns combined input+output tokens across all events.
func (t *Tracker) TotalTokens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := int(t.carriedTokens)
	for _, e := range t.events {
		total += e.InputTokens + e.OutputTokens
	}
	return total
}

// Events returns a copy of the ordered event log.
func (t *Tracker) Events() []UsageEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]UsageEvent, len(t.events))
	copy(out, t.events)
	return out
}

// GetSummary returns totals plus by-model and by-phase breakdowns.
func (t *Tracker) GetSummary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{
		ByModel:        make(map[string]float64),
		ByPhase:        make(map[string]float64),
		EventsCount:    len(t.events),
		BudgetLimitUSD: t.budgetLimitUSD,
	}
	for _, e := range t.events {
		s.TotalInputTokens += e.InputTokens
		s.TotalOutputTokens += e.OutputTokens
		s.TotalCostUSD += e.CostUSD
		s.ByModel[e.Model] += e.CostUSD
		phase := e.Phase
		if phase == "" {
			phase = "unattributed"
		}
		s.ByPhase[phase] += e.CostUSD
	}
	s.TotalTokens = s.TotalInputTokens + s.TotalOutputTokens
	if carried := t.totalCostUSD - s.TotalCostUSD; carried > 0 {
		s.ByPhase["carried_forward"] += carried
		s.TotalCostUSD += carried
		s.TotalTokens += int(t.carriedTokens)
	}
	if t.budgetLimitUSD > 0 {
		s.BudgetRemaining = t.budgetLimitUSD - s.TotalCostUSD
		s.BudgetPercentUsed = s.TotalCostUSD / t.budgetLimitUSD * 100
	}
	return s
}

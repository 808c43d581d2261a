package audit

import (
	"time"

	"beacon/internal/executor"
)

// ExecutionLog is the append-only audit record. One entry per execution
// attempt, never mutated after creation.
type ExecutionLog struct {
	ID            string                   `json:"id" bson:"_id"`
	ExecutionID   string                   `json:"execution_id" bson:"execution_id"`
	RuleID        string                   `json:"rule_id" bson:"rule_id"`
	TenantID      string                   `json:"tenant_id" bson:"tenant_id"`
	StimulusID    string                   `json:"stimulus_id" bson:"stimulus_id"`
	Attempt       int                      `json:"attempt" bson:"attempt"`
	Status        string                   `json:"status" bson:"status"`
	ResultSummary string                   `json:"result_summary" bson:"result_summary"`
	Actions       []executor.ActionOutcome `json:"actions,omitempty" bson:"actions,omitempty"`
	StartedAt     time.Time                `json:"started_at" bson:"started_at"`
	FinishedAt    time.Time                `json:"finished_at" bson:"finished_at"`
	DurationMs    int64                    `json:"duration_ms" bson:"duration_ms"`
}

type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// MetricsSnapshot is a pure aggregation over the log window. It is a cache,
// not a source of truth: recomputing it from the log for the same window
// always yields an identical snapshot.
type MetricsSnapshot struct {
	TenantID        string    `json:"tenant_id" bson:"tenant_id"`
	PeriodStart     time.Time `json:"period_start" bson:"window_start"`
	PeriodEnd       time.Time `json:"period_end" bson:"window_end"`
	ExecutionsTotal int64     `json:"executions_total" bson:"executions_total"`
	SuccessCount    int64     `json:"success_count" bson:"success_count"`
	FailureCount    int64     `json:"failure_count" bson:"failure_count"`
	DeadLetterCount int64     `json:"dead_letter_count" bson:"dead_letter_count"`
}

// MetricDelta reports a before/after comparison for one metric. Available is
// false when baseline data is missing; the delta is then unavailable, not
// zero.
type MetricDelta struct {
	Before    float64 `json:"before"`
	After     float64 `json:"after"`
	Delta     float64 `json:"delta"`
	Available bool    `json:"available"`
}

type ImpactAnalysis struct {
	RuleID          string                 `json:"rule_id"`
	TenantID        string                 `json:"tenant_id"`
	BaselineWindow  Window                 `json:"baseline_window"`
	TreatmentWindow Window                 `json:"treatment_window"`
	MetricDeltas    map[string]MetricDelta `json:"metric_deltas"`
}

type ListLogsFilter struct {
	RuleID string
	Window *Window
	Limit  int
}

package executor

import (
	"time"

	"beacon/internal/rules"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

type ActionOutcome struct {
	Index      int              `json:"index" bson:"index"`
	Kind       rules.ActionKind `json:"kind" bson:"kind"`
	Status     string           `json:"status" bson:"status"`
	Error      string           `json:"error,omitempty" bson:"error,omitempty"`
	DurationMs int64            `json:"duration_ms" bson:"duration_ms"`
}

// ExecutionResult records a single rule execution attempt: one entry per
// declared action, aborted at the first failure with the remainder skipped.
type ExecutionResult struct {
	ExecutionID string          `json:"execution_id" bson:"execution_id"`
	RuleID      string          `json:"rule_id" bson:"rule_id"`
	TenantID    string          `json:"tenant_id" bson:"tenant_id"`
	StimulusID  string          `json:"stimulus_id" bson:"stimulus_id"`
	Attempt     int             `json:"attempt" bson:"attempt"`
	Status      string          `json:"status" bson:"status"`
	Error       string          `json:"error,omitempty" bson:"error,omitempty"`
	Actions     []ActionOutcome `json:"actions" bson:"actions"`
	StartedAt   time.Time       `json:"started_at" bson:"started_at"`
	FinishedAt  time.Time       `json:"finished_at" bson:"finished_at"`
	DurationMs  int64           `json:"duration_ms" bson:"duration_ms"`
}

func (r *ExecutionResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

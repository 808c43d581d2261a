package models

import "time"

// Notification is published after a rule execution settles, successfully
// or not, so downstream consumers can react to automation outcomes.
type Notification struct {
	ExecutionID string    `json:"execution_id"`
	TenantID    string    `json:"tenant_id"`
	RuleID      string    `json:"rule_id"`
	StimulusID  string    `json:"stimulus_id"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

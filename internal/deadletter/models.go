package deadletter

import (
	"time"

	"beacon/pkg/models"
)

type State string

const (
	// StatePending items have failed and wait for their backoff to elapse.
	StatePending State = "pending"
	// StateRetrying items have been handed back to the executor.
	StateRetrying State = "retrying"
	// StateResolved items succeeded on a late retry or were closed by an
	// operator.
	StateResolved State = "resolved"
	// StateDeadLettered items exhausted their retry budget and are permanent
	// until an operator intervenes.
	StateDeadLettered State = "dead_lettered"
	// StateDiscarded items were explicitly dropped by an operator. The
	// record is retained.
	StateDiscarded State = "discarded"
)

const (
	ResolutionRetrySucceeded = "retry_succeeded"
	ResolutionManual         = "manual"
	ResolutionDiscarded      = "discarded"
)

type DeadLetterItem struct {
	ID                  string          `json:"id" bson:"_id"`
	RuleID              string          `json:"rule_id" bson:"rule_id"`
	TenantID            string          `json:"tenant_id" bson:"tenant_id"`
	Stimulus            models.Stimulus `json:"stimulus" bson:"stimulus"`
	FailureReason       string          `json:"failure_reason" bson:"failure_reason"`
	AttemptCount        int             `json:"attempt_count" bson:"attempt_count"`
	State               State           `json:"state" bson:"state"`
	Resolution          string          `json:"resolution,omitempty" bson:"resolution,omitempty"`
	FirstFailedAt       time.Time       `json:"first_failed_at" bson:"first_failed_at"`
	LastFailedAt        time.Time       `json:"last_failed_at" bson:"last_failed_at"`
	// The bson tags deliberately lack omitempty: clearing these on close or
	// dead-letter must overwrite the stored value with null.
	NextEligibleRetryAt *time.Time `json:"next_eligible_retry_at,omitempty" bson:"next_eligible_retry_at"`
	// RetryingSince is set while an item is handed to the executor and
	// cleared on every other transition. Items stuck here past the staleness
	// threshold are reclaimed by the sweeper.
	RetryingSince *time.Time `json:"retrying_since,omitempty" bson:"retrying_since"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty" bson:"resolved_at"`
}

type ListFilter struct {
	State  State
	RuleID string
	Limit  int
}

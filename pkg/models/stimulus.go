package models

import "time"

type StimulusKind string

const (
	StimulusKindEvent    StimulusKind = "event"
	StimulusKindSchedule StimulusKind = "schedule"
)

// Stimulus is the unit of work flowing into the engine: either an inbound
// domain event or a scheduler tick.
type Stimulus struct {
	ID         string                 `json:"id"`
	TenantID   string                 `json:"tenant_id"`
	Kind       StimulusKind           `json:"kind"`
	EventType  string                 `json:"event_type,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Metadata   Metadata               `json:"metadata"`
}

type Metadata struct {
	TraceID string `json:"trace_id,omitempty"`
	Source  string `json:"source,omitempty"`
	// Attempt is zero for first deliveries and carries the attempt count when
	// the stimulus is re-submitted from the retry queue.
	Attempt int `json:"attempt,omitempty"`
}

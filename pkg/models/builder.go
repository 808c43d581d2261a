package models

import (
	"time"

	"github.com/google/uuid"
)

func NewEventStimulus(tenantID, eventType string, payload map[string]interface{}, occurredAt time.Time) Stimulus {
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	return Stimulus{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		Kind:       StimulusKindEvent,
		EventType:  eventType,
		Payload:    payload,
		OccurredAt: occurredAt,
		Metadata:   Metadata{Source: "event"},
	}
}

func NewScheduleTick(tenantID string, firedAt time.Time) Stimulus {
	if firedAt.IsZero() {
		firedAt = time.Now()
	}
	return Stimulus{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		Kind:       StimulusKindSchedule,
		OccurredAt: firedAt,
		Metadata:   Metadata{Source: "scheduler"},
	}
}

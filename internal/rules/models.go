package rules

import (
	"time"

	"beacon/pkg/models"
)

type ActionKind string

const (
	ActionKindWebhook     ActionKind = "webhook"
	ActionKindEmail       ActionKind = "email"
	ActionKindTag         ActionKind = "tag"
	ActionKindScoreAdjust ActionKind = "score_adjust"
	ActionKindFieldUpdate ActionKind = "field_update"
)

// TriggerSpec decides which stimuli a rule is eligible for. Event triggers
// match on event type; schedule triggers match scheduler ticks, optionally
// constrained to a time-of-day window.
type TriggerSpec struct {
	Kind      models.StimulusKind `json:"kind"`
	EventType string              `json:"event_type,omitempty"`
	Window    *ActiveWindow       `json:"window,omitempty"`
}

// ActiveWindow constrains schedule triggers to fire only between From and
// Until (inclusive), expressed as "HH:MM" in UTC.
type ActiveWindow struct {
	From  string `json:"from"`
	Until string `json:"until"`
}

// ActionSpec is a tagged variant: Kind selects which config field is set.
type ActionSpec struct {
	Kind        ActionKind         `json:"kind"`
	Webhook     *WebhookConfig     `json:"webhook,omitempty"`
	Email       *EmailConfig       `json:"email,omitempty"`
	Tag         *TagConfig         `json:"tag,omitempty"`
	ScoreAdjust *ScoreAdjustConfig `json:"score_adjust,omitempty"`
	FieldUpdate *FieldUpdateConfig `json:"field_update,omitempty"`
}

type WebhookConfig struct {
	URL       string            `json:"url"`
	Method    string            `json:"method,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	TimeoutMs int               `json:"timeout_ms,omitempty"`
}

type EmailConfig struct {
	Template  string `json:"template"`
	Recipient string `json:"recipient,omitempty"`
	Subject   string `json:"subject,omitempty"`
}

type TagConfig struct {
	Tag    string `json:"tag"`
	Remove bool   `json:"remove,omitempty"`
}

type ScoreAdjustConfig struct {
	Metric string  `json:"metric"`
	Delta  float64 `json:"delta"`
}

type FieldUpdateConfig struct {
	Field string      `json:"field"`
	Value interface{} `json:"value"`
}

type AutomationRule struct {
	ID        string       `json:"id" db:"id"`
	TenantID  string       `json:"tenant_id" db:"tenant_id"`
	Name      string       `json:"name" db:"name"`
	Enabled   bool         `json:"enabled" db:"enabled"`
	Trigger   TriggerSpec  `json:"trigger" db:"trigger"`
	Condition string       `json:"condition,omitempty" db:"condition"`
	Actions   []ActionSpec `json:"actions" db:"actions"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

type CreateRuleRequest struct {
	Name      string       `json:"name" binding:"required"`
	Trigger   TriggerSpec  `json:"trigger" binding:"required"`
	Condition string       `json:"condition"`
	Actions   []ActionSpec `json:"actions"`
	Enabled   *bool        `json:"enabled"`
}

type UpdateRuleRequest struct {
	Name      *string       `json:"name"`
	Trigger   *TriggerSpec  `json:"trigger"`
	Condition *string       `json:"condition"`
	Actions   *[]ActionSpec `json:"actions"`
	Enabled   *bool         `json:"enabled"`
}

type Pagination struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

package rules

import (
	"fmt"
	"time"

	"beacon/pkg/cel"
	"beacon/pkg/models"
)

func ValidateCreateRule(req CreateRuleRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}

	if err := validateTrigger(req.Trigger); err != nil {
		return err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	if enabled && len(req.Actions) == 0 {
		return fmt.Errorf("an enabled rule must have at least one action")
	}

	if err := validateActions(req.Actions); err != nil {
		return err
	}

	return validateCondition(req.Condition)
}

func ValidateUpdateRule(req UpdateRuleRequest, current *AutomationRule) error {
	if req.Name != nil && *req.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	if req.Trigger != nil {
		if err := validateTrigger(*req.Trigger); err != nil {
			return err
		}
	}

	if req.Actions != nil {
		if err := validateActions(*req.Actions); err != nil {
			return err
		}
	}

	// The non-empty-actions invariant must hold for the rule as it would
	// look after the patch is applied.
	enabled := current.Enabled
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	actions := current.Actions
	if req.Actions != nil {
		actions = *req.Actions
	}
	if enabled && len(actions) == 0 {
		return fmt.Errorf("an enabled rule must have at least one action")
	}

	if req.Condition != nil {
		return validateCondition(*req.Condition)
	}
	return nil
}

func validateTrigger(trigger TriggerSpec) error {
	switch trigger.Kind {
	case models.StimulusKindEvent:
		if trigger.EventType == "" {
			return fmt.Errorf("trigger.event_type is required for event triggers")
		}
	case models.StimulusKindSchedule:
		if trigger.Window != nil {
			if err := validateWindow(*trigger.Window); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("invalid trigger.kind: %s. Allowed: event, schedule", trigger.Kind)
	}
	return nil
}

func validateWindow(w ActiveWindow) error {
	if _, err := time.Parse("15:04", w.From); err != nil {
		return fmt.Errorf("invalid trigger.window.from: %s (expected HH:MM)", w.From)
	}
	if _, err := time.Parse("15:04", w.Until); err != nil {
		return fmt.Errorf("invalid trigger.window.until: %s (expected HH:MM)", w.Until)
	}
	return nil
}

func validateActions(actions []ActionSpec) error {
	for i, action := range actions {
		if err := validateAction(action); err != nil {
			return fmt.Errorf("invalid action[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAction(action ActionSpec) error {
	switch action.Kind {
	case ActionKindWebhook:
		if action.Webhook == nil || action.Webhook.URL == "" {
			return fmt.Errorf("webhook.url is required")
		}
		if action.Webhook.TimeoutMs < 0 {
			return fmt.Errorf("webhook.timeout_ms must be non-negative")
		}
	case ActionKindEmail:
		if action.Email == nil || action.Email.Template == "" {
			return fmt.Errorf("email.template is required")
		}
	case ActionKindTag:
		if action.Tag == nil || action.Tag.Tag == "" {
			return fmt.Errorf("tag.tag is required")
		}
	case ActionKindScoreAdjust:
		if action.ScoreAdjust == nil || action.ScoreAdjust.Metric == "" {
			return fmt.Errorf("score_adjust.metric is required")
		}
	case ActionKindFieldUpdate:
		if action.FieldUpdate == nil || action.FieldUpdate.Field == "" {
			return fmt.Errorf("field_update.field is required")
		}
	default:
		return fmt.Errorf("invalid kind: %s. Allowed: webhook, email, tag, score_adjust, field_update", action.Kind)
	}
	return nil
}

func validateCondition(expression string) error {
	if expression == "" {
		return nil
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	if err := evaluator.ValidateCondition(expression); err != nil {
		return fmt.Errorf("invalid condition expression: %w", err)
	}

	return nil
}

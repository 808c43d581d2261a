package trigger

import (
	"context"
	"fmt"
	"time"

	"beacon/internal/logger"
	"beacon/internal/rules"
	"beacon/pkg/cel"
	"beacon/pkg/metrics"
	"beacon/pkg/models"
)

// Evaluator selects the enabled rules of a tenant that are eligible for a
// stimulus: the trigger spec must match the stimulus and the condition
// predicate (if any) must hold against the tenant's current state. Rules
// are returned in creation order so execution sequences are reproducible.
type Evaluator struct {
	repo   rules.Repository
	states TenantStateProvider
	cel    *cel.Evaluator
	logger logger.Logger
}

func NewEvaluator(repo rules.Repository, states TenantStateProvider, log logger.Logger) (*Evaluator, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	return &Evaluator{
		repo:   repo,
		states: states,
		cel:    evaluator,
		logger: log,
	}, nil
}

func (e *Evaluator) EligibleRules(ctx context.Context, stim models.Stimulus) ([]rules.AutomationRule, error) {
	enabled, err := e.repo.ListEnabled(ctx, stim.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}

	metrics.SetActiveRules(stim.TenantID, len(enabled))

	var tenantState map[string]interface{}

	var eligible []rules.AutomationRule
	for _, rule := range enabled {
		if !matchesTrigger(rule.Trigger, stim) {
			continue
		}

		if rule.Condition != "" {
			if tenantState == nil {
				tenantState, err = e.states.GetTenantState(ctx, stim.TenantID)
				if err != nil {
					return nil, fmt.Errorf("failed to load tenant state: %w", err)
				}
			}

			ok, evalErr := e.cel.EvaluateCondition(ctx, rule.Condition, stim, tenantState)
			if evalErr != nil {
				// A failing predicate makes the rule ineligible, it is not
				// an engine error.
				metrics.ConditionEvaluationsTotal.WithLabelValues("error").Inc()
				e.logger.DebugwCtx(ctx, "Condition evaluation failed, rule not eligible",
					"rule_id", rule.ID,
					"error", evalErr,
				)
				continue
			}
			if ok {
				metrics.ConditionEvaluationsTotal.WithLabelValues("true").Inc()
			} else {
				metrics.ConditionEvaluationsTotal.WithLabelValues("false").Inc()
				continue
			}
		}

		metrics.RulesMatchedTotal.WithLabelValues(string(rule.Trigger.Kind)).Inc()
		eligible = append(eligible, rule)
	}

	return eligible, nil
}

func matchesTrigger(trigger rules.TriggerSpec, stim models.Stimulus) bool {
	if trigger.Kind != stim.Kind {
		return false
	}

	switch stim.Kind {
	case models.StimulusKindEvent:
		return trigger.EventType == stim.EventType
	case models.StimulusKindSchedule:
		if trigger.Window == nil {
			return true
		}
		return inWindow(*trigger.Window, stim.OccurredAt)
	default:
		return false
	}
}

func inWindow(w rules.ActiveWindow, at time.Time) bool {
	current := at.UTC().Format("15:04")
	if w.From <= w.Until {
		return current >= w.From && current <= w.Until
	}
	// Window crosses midnight.
	return current >= w.From || current <= w.Until
}

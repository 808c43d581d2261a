package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/logger"
	"beacon/internal/rules"
	"beacon/pkg/models"
)

type fakeRuleRepo struct {
	rules []rules.AutomationRule
}

func (r *fakeRuleRepo) Create(ctx context.Context, rule *rules.AutomationRule) error { return nil }
func (r *fakeRuleRepo) Get(ctx context.Context, tenantID, id string) (*rules.AutomationRule, error) {
	return nil, nil
}
func (r *fakeRuleRepo) List(ctx context.Context, tenantID string, page rules.Pagination) ([]rules.AutomationRule, error) {
	return nil, nil
}
func (r *fakeRuleRepo) Update(ctx context.Context, rule *rules.AutomationRule) error { return nil }
func (r *fakeRuleRepo) Delete(ctx context.Context, tenantID, id string) error        { return nil }

func (r *fakeRuleRepo) ListEnabled(ctx context.Context, tenantID string) ([]rules.AutomationRule, error) {
	var enabled []rules.AutomationRule
	for _, rule := range r.rules {
		if rule.TenantID == tenantID && rule.Enabled {
			enabled = append(enabled, rule)
		}
	}
	return enabled, nil
}

func eventRule(id, tenantID, eventType, condition string) rules.AutomationRule {
	return rules.AutomationRule{
		ID:        id,
		TenantID:  tenantID,
		Name:      id,
		Enabled:   true,
		Trigger:   rules.TriggerSpec{Kind: models.StimulusKindEvent, EventType: eventType},
		Condition: condition,
		Actions:   []rules.ActionSpec{{Kind: rules.ActionKindTag, Tag: &rules.TagConfig{Tag: "t"}}},
	}
}

func eventStimulus(tenantID, eventType string, payload map[string]interface{}) models.Stimulus {
	return models.Stimulus{
		ID:         "stim-1",
		TenantID:   tenantID,
		Kind:       models.StimulusKindEvent,
		EventType:  eventType,
		Payload:    payload,
		OccurredAt: time.Now(),
	}
}

func newTestEvaluator(t *testing.T, repo rules.Repository, states TenantStateProvider) *Evaluator {
	t.Helper()
	if states == nil {
		states = &StaticStateProvider{}
	}
	evaluator, err := NewEvaluator(repo, states, logger.NopLogger())
	require.NoError(t, err)
	return evaluator
}

func TestEligibleRulesMatchesEventType(t *testing.T) {
	repo := &fakeRuleRepo{rules: []rules.AutomationRule{
		eventRule("rule-signup", "tenant-1", "user.signup", ""),
		eventRule("rule-order", "tenant-1", "order.created", ""),
	}}

	evaluator := newTestEvaluator(t, repo, nil)

	eligible, err := evaluator.EligibleRules(context.Background(), eventStimulus("tenant-1", "user.signup", nil))
	require.NoError(t, err)

	require.Len(t, eligible, 1)
	assert.Equal(t, "rule-signup", eligible[0].ID)
}

func TestEligibleRulesSkipsDisabled(t *testing.T) {
	disabled := eventRule("rule-disabled", "tenant-1", "user.signup", "")
	disabled.Enabled = false

	repo := &fakeRuleRepo{rules: []rules.AutomationRule{
		disabled,
		eventRule("rule-enabled", "tenant-1", "user.signup", ""),
	}}

	evaluator := newTestEvaluator(t, repo, nil)

	eligible, err := evaluator.EligibleRules(context.Background(), eventStimulus("tenant-1", "user.signup", nil))
	require.NoError(t, err)

	require.Len(t, eligible, 1)
	assert.Equal(t, "rule-enabled", eligible[0].ID)
}

func TestEligibleRulesTenantIsolation(t *testing.T) {
	repo := &fakeRuleRepo{rules: []rules.AutomationRule{
		eventRule("rule-other", "tenant-2", "user.signup", ""),
	}}

	evaluator := newTestEvaluator(t, repo, nil)

	eligible, err := evaluator.EligibleRules(context.Background(), eventStimulus("tenant-1", "user.signup", nil))
	require.NoError(t, err)
	assert.Empty(t, eligible, "rules of another tenant must never match")
}

func TestEligibleRulesPreservesCreationOrder(t *testing.T) {
	repo := &fakeRuleRepo{rules: []rules.AutomationRule{
		eventRule("rule-a", "tenant-1", "user.signup", ""),
		eventRule("rule-b", "tenant-1", "user.signup", ""),
		eventRule("rule-c", "tenant-1", "user.signup", ""),
	}}

	evaluator := newTestEvaluator(t, repo, nil)

	eligible, err := evaluator.EligibleRules(context.Background(), eventStimulus("tenant-1", "user.signup", nil))
	require.NoError(t, err)

	require.Len(t, eligible, 3)
	assert.Equal(t, "rule-a", eligible[0].ID)
	assert.Equal(t, "rule-b", eligible[1].ID)
	assert.Equal(t, "rule-c", eligible[2].ID)
}

func TestEligibleRulesConditionFiltering(t *testing.T) {
	repo := &fakeRuleRepo{rules: []rules.AutomationRule{
		eventRule("rule-high", "tenant-1", "order.created", `payload.amount > 100.0`),
		eventRule("rule-low", "tenant-1", "order.created", `payload.amount <= 100.0`),
	}}

	evaluator := newTestEvaluator(t, repo, nil)

	eligible, err := evaluator.EligibleRules(context.Background(),
		eventStimulus("tenant-1", "order.created", map[string]interface{}{"amount": 250.0}))
	require.NoError(t, err)

	require.Len(t, eligible, 1)
	assert.Equal(t, "rule-high", eligible[0].ID)
}

func TestEligibleRulesConditionUsesTenantState(t *testing.T) {
	repo := &fakeRuleRepo{rules: []rules.AutomationRule{
		eventRule("rule-premium", "tenant-1", "user.signup", `tenant.plan == "premium"`),
	}}

	states := &StaticStateProvider{States: map[string]map[string]interface{}{
		"tenant-1": {"plan": "premium"},
	}}

	evaluator := newTestEvaluator(t, repo, states)

	eligible, err := evaluator.EligibleRules(context.Background(), eventStimulus("tenant-1", "user.signup", nil))
	require.NoError(t, err)
	assert.Len(t, eligible, 1)
}

func TestEligibleRulesConditionErrorMakesRuleIneligible(t *testing.T) {
	repo := &fakeRuleRepo{rules: []rules.AutomationRule{
		eventRule("rule-broken", "tenant-1", "user.signup", `payload.missing_field == "x"`),
		eventRule("rule-ok", "tenant-1", "user.signup", ""),
	}}

	evaluator := newTestEvaluator(t, repo, nil)

	eligible, err := evaluator.EligibleRules(context.Background(), eventStimulus("tenant-1", "user.signup", nil))
	require.NoError(t, err, "a failing predicate is not an engine error")

	require.Len(t, eligible, 1)
	assert.Equal(t, "rule-ok", eligible[0].ID)
}

func TestMatchesTriggerSchedule(t *testing.T) {
	tick := models.Stimulus{
		Kind:       models.StimulusKindSchedule,
		TenantID:   "tenant-1",
		OccurredAt: time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC),
	}

	tests := []struct {
		name    string
		trigger rules.TriggerSpec
		want    bool
	}{
		{
			name:    "schedule without window always matches",
			trigger: rules.TriggerSpec{Kind: models.StimulusKindSchedule},
			want:    true,
		},
		{
			name: "inside window",
			trigger: rules.TriggerSpec{
				Kind:   models.StimulusKindSchedule,
				Window: &rules.ActiveWindow{From: "09:00", Until: "17:00"},
			},
			want: true,
		},
		{
			name: "outside window",
			trigger: rules.TriggerSpec{
				Kind:   models.StimulusKindSchedule,
				Window: &rules.ActiveWindow{From: "18:00", Until: "22:00"},
			},
			want: false,
		},
		{
			name: "window crossing midnight matches evening side",
			trigger: rules.TriggerSpec{
				Kind:   models.StimulusKindSchedule,
				Window: &rules.ActiveWindow{From: "14:00", Until: "02:00"},
			},
			want: true,
		},
		{
			name: "window crossing midnight excludes midday",
			trigger: rules.TriggerSpec{
				Kind:   models.StimulusKindSchedule,
				Window: &rules.ActiveWindow{From: "22:00", Until: "02:00"},
			},
			want: false,
		},
		{
			name:    "event trigger never matches schedule tick",
			trigger: rules.TriggerSpec{Kind: models.StimulusKindEvent, EventType: "user.signup"},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesTrigger(tt.trigger, tick))
		})
	}
}

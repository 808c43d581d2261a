package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/audit"
	"beacon/internal/config"
	"beacon/internal/deadletter"
	"beacon/internal/executor"
	"beacon/internal/logger"
	"beacon/internal/rules"
	"beacon/internal/trigger"
	pkgerrors "beacon/pkg/errors"
	"beacon/pkg/models"
)

type stubRuleRepo struct {
	rules []rules.AutomationRule
}

func (r *stubRuleRepo) Create(ctx context.Context, rule *rules.AutomationRule) error { return nil }
func (r *stubRuleRepo) List(ctx context.Context, tenantID string, page rules.Pagination) ([]rules.AutomationRule, error) {
	return nil, nil
}
func (r *stubRuleRepo) Update(ctx context.Context, rule *rules.AutomationRule) error { return nil }
func (r *stubRuleRepo) Delete(ctx context.Context, tenantID, id string) error        { return nil }

func (r *stubRuleRepo) Get(ctx context.Context, tenantID, id string) (*rules.AutomationRule, error) {
	for i := range r.rules {
		if r.rules[i].ID == id {
			rule := r.rules[i]
			return &rule, nil
		}
	}
	return nil, pkgerrors.ErrNotFound.WithDetail("id", id)
}

func (r *stubRuleRepo) ListEnabled(ctx context.Context, tenantID string) ([]rules.AutomationRule, error) {
	var enabled []rules.AutomationRule
	for _, rule := range r.rules {
		if rule.TenantID == tenantID && rule.Enabled {
			enabled = append(enabled, rule)
		}
	}
	return enabled, nil
}

type recordingAudit struct {
	recorded chan *executor.ExecutionResult
}

func (a *recordingAudit) RecordExecution(ctx context.Context, result *executor.ExecutionResult) error {
	a.recorded <- result
	return nil
}

func (a *recordingAudit) ListLogs(ctx context.Context, tenantID string, filter audit.ListLogsFilter) ([]audit.ExecutionLog, error) {
	return nil, nil
}

func (a *recordingAudit) GetSnapshot(ctx context.Context, tenantID string, window audit.Window) (*audit.MetricsSnapshot, error) {
	return nil, nil
}

func (a *recordingAudit) GetImpact(ctx context.Context, tenantID, ruleID string, baseline, treatment audit.Window) (*audit.ImpactAnalysis, error) {
	return nil, nil
}

type recordingDLQ struct {
	failures  chan string
	resolved  chan string
	discarded chan string
}

func (d *recordingDLQ) RecordFailure(ctx context.Context, tenantID, ruleID string, stim models.Stimulus, reason string) (*deadletter.DeadLetterItem, error) {
	d.failures <- reason
	return &deadletter.DeadLetterItem{RuleID: ruleID, TenantID: tenantID, AttemptCount: 1}, nil
}

func (d *recordingDLQ) Reschedule(ctx context.Context, item *deadletter.DeadLetterItem) error {
	return nil
}

func (d *recordingDLQ) Resolve(ctx context.Context, tenantID, ruleID, stimulusID string) error {
	d.resolved <- stimulusID
	return nil
}

func (d *recordingDLQ) List(ctx context.Context, tenantID string, filter deadletter.ListFilter) ([]deadletter.DeadLetterItem, error) {
	return nil, nil
}

func (d *recordingDLQ) ResolveManually(ctx context.Context, tenantID, itemID string) (*deadletter.DeadLetterItem, error) {
	return nil, nil
}

func (d *recordingDLQ) Discard(ctx context.Context, tenantID, itemID string) (*deadletter.DeadLetterItem, error) {
	d.discarded <- itemID
	return &deadletter.DeadLetterItem{ID: itemID, State: deadletter.StateDiscarded}, nil
}

func (d *recordingDLQ) MarkRetrying(ctx context.Context, item *deadletter.DeadLetterItem) error {
	return nil
}

type recordingNotifier struct {
	notifications chan models.Notification
}

func (n *recordingNotifier) NotifyExecution(ctx context.Context, notification models.Notification) error {
	n.notifications <- notification
	return nil
}

type runnerFunc func(ctx context.Context, action rules.ActionSpec, stim models.Stimulus) error

func (f runnerFunc) Run(ctx context.Context, action rules.ActionSpec, stim models.Stimulus) error {
	return f(ctx, action, stim)
}

type engineFixture struct {
	engine   *Engine
	audit    *recordingAudit
	dlq      *recordingDLQ
	notifier *recordingNotifier
}

func newEngineFixture(t *testing.T, repo *stubRuleRepo, registry executor.RunnerRegistry) *engineFixture {
	t.Helper()

	evaluator, err := trigger.NewEvaluator(repo, &trigger.StaticStateProvider{}, logger.NopLogger())
	require.NoError(t, err)

	auditSvc := &recordingAudit{recorded: make(chan *executor.ExecutionResult, 8)}
	dlq := &recordingDLQ{
		failures:  make(chan string, 8),
		resolved:  make(chan string, 8),
		discarded: make(chan string, 8),
	}
	notifier := &recordingNotifier{notifications: make(chan models.Notification, 8)}

	eng := New(
		&memoryDeduper{seen: map[string]bool{}},
		evaluator,
		executor.New(registry, time.Second, logger.NopLogger()),
		repo,
		auditSvc,
		dlq,
		notifier,
		config.EngineConfig{MaxConcurrentExecutions: 4},
		logger.NopLogger(),
	)

	return &engineFixture{engine: eng, audit: auditSvc, dlq: dlq, notifier: notifier}
}

func enabledRule(id string, actions ...rules.ActionSpec) rules.AutomationRule {
	return rules.AutomationRule{
		ID:       id,
		TenantID: "tenant-1",
		Name:     id,
		Enabled:  true,
		Trigger:  rules.TriggerSpec{Kind: models.StimulusKindEvent, EventType: "user.signup"},
		Actions:  actions,
	}
}

func signupStimulus(id string) models.Stimulus {
	return models.Stimulus{
		ID:         id,
		TenantID:   "tenant-1",
		Kind:       models.StimulusKindEvent,
		EventType:  "user.signup",
		OccurredAt: time.Now(),
		Metadata:   models.Metadata{Source: "event"},
	}
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func assertNothing[T any](t *testing.T, ch <-chan T, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("unexpected %s", what)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestProcessStimulusSuccessPath(t *testing.T) {
	repo := &stubRuleRepo{rules: []rules.AutomationRule{
		enabledRule("rule-1", rules.ActionSpec{Kind: rules.ActionKindTag}),
	}}
	registry := executor.RunnerRegistry{
		rules.ActionKindTag: runnerFunc(func(ctx context.Context, action rules.ActionSpec, stim models.Stimulus) error {
			return nil
		}),
	}

	f := newEngineFixture(t, repo, registry)

	err := f.engine.ProcessStimulus(context.Background(), signupStimulus("stim-1"))
	require.NoError(t, err)

	result := waitFor(t, f.audit.recorded, "audit record")
	assert.Equal(t, executor.StatusSuccess, result.Status)
	assert.Equal(t, "rule-1", result.RuleID)

	resolved := waitFor(t, f.dlq.resolved, "dead-letter resolve")
	assert.Equal(t, "stim-1", resolved)

	notification := waitFor(t, f.notifier.notifications, "notification")
	assert.Equal(t, executor.StatusSuccess, notification.Status)
}

func TestProcessStimulusFailurePath(t *testing.T) {
	repo := &stubRuleRepo{rules: []rules.AutomationRule{
		enabledRule("rule-1", rules.ActionSpec{Kind: rules.ActionKindTag}),
	}}
	registry := executor.RunnerRegistry{
		rules.ActionKindTag: runnerFunc(func(ctx context.Context, action rules.ActionSpec, stim models.Stimulus) error {
			return errors.New("tag store unavailable")
		}),
	}

	f := newEngineFixture(t, repo, registry)

	err := f.engine.ProcessStimulus(context.Background(), signupStimulus("stim-1"))
	require.NoError(t, err)

	result := waitFor(t, f.audit.recorded, "audit record")
	assert.Equal(t, executor.StatusFailure, result.Status)

	reason := waitFor(t, f.dlq.failures, "dead-letter failure record")
	assert.Contains(t, reason, "tag store unavailable")

	notification := waitFor(t, f.notifier.notifications, "notification")
	assert.Equal(t, executor.StatusFailure, notification.Status)
}

func TestProcessStimulusDuplicateDropped(t *testing.T) {
	repo := &stubRuleRepo{rules: []rules.AutomationRule{
		enabledRule("rule-1", rules.ActionSpec{Kind: rules.ActionKindTag}),
	}}
	registry := executor.RunnerRegistry{
		rules.ActionKindTag: runnerFunc(func(ctx context.Context, action rules.ActionSpec, stim models.Stimulus) error {
			return nil
		}),
	}

	f := newEngineFixture(t, repo, registry)

	stim := signupStimulus("stim-1")
	require.NoError(t, f.engine.ProcessStimulus(context.Background(), stim))
	waitFor(t, f.audit.recorded, "first execution")
	waitFor(t, f.dlq.resolved, "first resolve")
	waitFor(t, f.notifier.notifications, "first notification")

	// Redelivery of the same stimulus must not execute anything.
	require.NoError(t, f.engine.ProcessStimulus(context.Background(), stim))
	assertNothing(t, f.audit.recorded, "duplicate execution")
}

func TestProcessStimulusNoEligibleRules(t *testing.T) {
	repo := &stubRuleRepo{rules: []rules.AutomationRule{
		enabledRule("rule-1", rules.ActionSpec{Kind: rules.ActionKindTag}),
	}}
	f := newEngineFixture(t, repo, executor.RunnerRegistry{})

	stim := signupStimulus("stim-1")
	stim.EventType = "unrelated.event"

	require.NoError(t, f.engine.ProcessStimulus(context.Background(), stim))
	assertNothing(t, f.audit.recorded, "execution for non-matching stimulus")
}

func TestResubmitItemCarriesAttempt(t *testing.T) {
	repo := &stubRuleRepo{rules: []rules.AutomationRule{
		enabledRule("rule-1", rules.ActionSpec{Kind: rules.ActionKindTag}),
	}}
	registry := executor.RunnerRegistry{
		rules.ActionKindTag: runnerFunc(func(ctx context.Context, action rules.ActionSpec, stim models.Stimulus) error {
			return nil
		}),
	}

	f := newEngineFixture(t, repo, registry)

	item := deadletter.DeadLetterItem{
		ID:           "item-1",
		RuleID:       "rule-1",
		TenantID:     "tenant-1",
		Stimulus:     signupStimulus("stim-1"),
		AttemptCount: 2,
		State:        deadletter.StateRetrying,
	}

	err := f.engine.ResubmitItem(context.Background(), item)
	require.NoError(t, err)

	result := waitFor(t, f.audit.recorded, "audit record")
	assert.Equal(t, 3, result.Attempt, "resubmission runs as attempt N+1")
	waitFor(t, f.dlq.resolved, "resolve after successful retry")
}

func TestResubmitItemDeletedRuleDiscards(t *testing.T) {
	repo := &stubRuleRepo{}
	f := newEngineFixture(t, repo, executor.RunnerRegistry{})

	item := deadletter.DeadLetterItem{
		ID:       "item-1",
		RuleID:   "rule-gone",
		TenantID: "tenant-1",
		Stimulus: signupStimulus("stim-1"),
		State:    deadletter.StateRetrying,
	}

	err := f.engine.ResubmitItem(context.Background(), item)
	require.NoError(t, err)

	discarded := waitFor(t, f.dlq.discarded, "discard of orphaned item")
	assert.Equal(t, "item-1", discarded)
	assertNothing(t, f.audit.recorded, "execution of a deleted rule")
}

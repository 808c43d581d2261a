package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "beacon/pkg/errors"
	"beacon/pkg/models"

	"beacon/internal/rules"
)

func newAutomationRule(tenantID, name string) *rules.AutomationRule {
	return &rules.AutomationRule{
		TenantID: tenantID,
		Name:     name,
		Enabled:  true,
		Trigger:  rules.TriggerSpec{Kind: models.StimulusKindEvent, EventType: "user.signup"},
		Actions: []rules.ActionSpec{
			{Kind: rules.ActionKindTag, Tag: &rules.TagConfig{Tag: "welcomed"}},
		},
	}
}

func TestRuleRepositoryCreateAndGet(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := rules.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	rule := newAutomationRule("tenant-1", "welcome-signup")
	require.NoError(t, repo.Create(ctx, rule))

	assert.NotEmpty(t, rule.ID, "create assigns an ID")
	assert.False(t, rule.CreatedAt.IsZero())
	assert.Equal(t, rule.CreatedAt, rule.UpdatedAt)

	stored, err := repo.Get(ctx, "tenant-1", rule.ID)
	require.NoError(t, err)
	assert.Equal(t, rule.Name, stored.Name)
	assert.Equal(t, rule.Trigger, stored.Trigger)
	assert.Equal(t, rule.Actions, stored.Actions)
}

func TestRuleRepositoryGetNotFound(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := rules.NewRepository(infra.PostgresDB)

	_, err := repo.Get(context.Background(), "tenant-1", "missing-id")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestRuleRepositoryTenantIsolation(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := rules.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	rule := newAutomationRule("tenant-1", "welcome-signup")
	require.NoError(t, repo.Create(ctx, rule))

	_, err := repo.Get(ctx, "tenant-2", rule.ID)
	assert.True(t, pkgerrors.IsTenantMismatch(err), "reading across tenants is rejected")

	err = repo.Delete(ctx, "tenant-2", rule.ID)
	assert.True(t, pkgerrors.IsNotFound(err), "deleting across tenants affects nothing")

	stored, err := repo.Get(ctx, "tenant-1", rule.ID)
	require.NoError(t, err)
	assert.Equal(t, rule.ID, stored.ID)
}

func TestRuleRepositoryDuplicateName(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := rules.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newAutomationRule("tenant-1", "welcome-signup")))

	err := repo.Create(ctx, newAutomationRule("tenant-1", "welcome-signup"))
	assert.True(t, pkgerrors.IsConflict(err), "rule names are unique per tenant")

	// The same name under another tenant is fine.
	require.NoError(t, repo.Create(ctx, newAutomationRule("tenant-2", "welcome-signup")))
}

func TestRuleRepositoryListOrdering(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := rules.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	first := newAutomationRule("tenant-1", "rule-a")
	require.NoError(t, repo.Create(ctx, first))
	time.Sleep(timestampDelay)

	second := newAutomationRule("tenant-1", "rule-b")
	require.NoError(t, repo.Create(ctx, second))
	time.Sleep(timestampDelay)

	third := newAutomationRule("tenant-1", "rule-c")
	require.NoError(t, repo.Create(ctx, third))

	listed, err := repo.List(ctx, "tenant-1", rules.Pagination{Limit: 10})
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "rule-c", listed[0].Name, "list is most recently updated first")
	assert.Equal(t, "rule-a", listed[2].Name)

	// Updating the oldest rule moves it to the front.
	time.Sleep(timestampDelay)
	first.Name = "rule-a-renamed"
	require.NoError(t, repo.Update(ctx, first))

	listed, err = repo.List(ctx, "tenant-1", rules.Pagination{Limit: 10})
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "rule-a-renamed", listed[0].Name)
}

func TestRuleRepositoryListPagination(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := rules.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	for _, name := range []string{"rule-a", "rule-b", "rule-c"} {
		require.NoError(t, repo.Create(ctx, newAutomationRule("tenant-1", name)))
		time.Sleep(timestampDelay)
	}

	page, err := repo.List(ctx, "tenant-1", rules.Pagination{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := repo.List(ctx, "tenant-1", rules.Pagination{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestRuleRepositoryListEnabled(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := rules.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	enabled := newAutomationRule("tenant-1", "rule-enabled")
	require.NoError(t, repo.Create(ctx, enabled))
	time.Sleep(timestampDelay)

	disabled := newAutomationRule("tenant-1", "rule-disabled")
	disabled.Enabled = false
	require.NoError(t, repo.Create(ctx, disabled))
	time.Sleep(timestampDelay)

	later := newAutomationRule("tenant-1", "rule-later")
	require.NoError(t, repo.Create(ctx, later))

	active, err := repo.ListEnabled(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "rule-enabled", active[0].Name, "enabled rules come back in creation order")
	assert.Equal(t, "rule-later", active[1].Name)
}

func TestRuleRepositoryUpdate(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := rules.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	rule := newAutomationRule("tenant-1", "welcome-signup")
	require.NoError(t, repo.Create(ctx, rule))
	createdAt := rule.CreatedAt

	time.Sleep(timestampDelay)
	rule.Enabled = false
	rule.Condition = `payload.plan == "premium"`
	require.NoError(t, repo.Update(ctx, rule))

	stored, err := repo.Get(ctx, "tenant-1", rule.ID)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
	assert.Equal(t, `payload.plan == "premium"`, stored.Condition)
	assert.True(t, stored.UpdatedAt.After(createdAt))
	assert.WithinDuration(t, createdAt, stored.CreatedAt, time.Millisecond)
}

func TestRuleRepositoryUpdateMissing(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := rules.NewRepository(infra.PostgresDB)

	rule := newAutomationRule("tenant-1", "ghost")
	rule.ID = "missing-id"
	err := repo.Update(context.Background(), rule)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestRuleRepositoryDelete(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := rules.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	rule := newAutomationRule("tenant-1", "welcome-signup")
	require.NoError(t, repo.Create(ctx, rule))

	require.NoError(t, repo.Delete(ctx, "tenant-1", rule.ID))

	_, err := repo.Get(ctx, "tenant-1", rule.ID)
	assert.True(t, pkgerrors.IsNotFound(err))

	err = repo.Delete(ctx, "tenant-1", rule.ID)
	assert.True(t, pkgerrors.IsNotFound(err))
}

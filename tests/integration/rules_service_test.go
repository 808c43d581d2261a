package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "beacon/pkg/errors"

	"beacon/internal/rules"
)

func newRuleService(t *testing.T) rules.Service {
	t.Helper()
	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := rules.NewRepository(infra.PostgresDB)
	versioning := rules.NewVersioningRepository(infra.PostgresDB)
	return rules.NewService(repo, rules.WithVersioning(versioning))
}

func TestRuleServiceCreateDefaultsToEnabled(t *testing.T) {
	svc := newRuleService(t)
	ctx := context.Background()

	created, err := svc.CreateRule(ctx, "tenant-1", createTestRule("welcome-signup", "user.signup"))
	require.NoError(t, err)
	assert.True(t, created.Enabled)
	assert.NotEmpty(t, created.ID)
}

func TestRuleServiceCreateRejectsInvalid(t *testing.T) {
	svc := newRuleService(t)
	ctx := context.Background()

	req := createTestRule("broken", "user.signup")
	req.Condition = "payload.amount >" // unparseable

	_, err := svc.CreateRule(ctx, "tenant-1", req)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestRuleServiceUpdatePreservesEnabledInvariant(t *testing.T) {
	svc := newRuleService(t)
	ctx := context.Background()

	created, err := svc.CreateRule(ctx, "tenant-1", createTestRule("welcome-signup", "user.signup"))
	require.NoError(t, err)

	// An enabled rule cannot have its actions cleared.
	empty := []rules.ActionSpec{}
	_, err = svc.UpdateRule(ctx, "tenant-1", created.ID, rules.UpdateRuleRequest{Actions: &empty})
	assert.True(t, pkgerrors.IsValidation(err))

	// Disabling and clearing in one request is allowed.
	disabled := false
	updated, err := svc.UpdateRule(ctx, "tenant-1", created.ID, rules.UpdateRuleRequest{
		Enabled: &disabled,
		Actions: &empty,
	})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Empty(t, updated.Actions)
}

func TestRuleServiceVersionHistory(t *testing.T) {
	svc := newRuleService(t)
	ctx := context.Background()

	created, err := svc.CreateRule(ctx, "tenant-1", createTestRule("welcome-signup", "user.signup"))
	require.NoError(t, err)

	name := "welcome-signup-v2"
	_, err = svc.UpdateRule(ctx, "tenant-1", created.ID, rules.UpdateRuleRequest{Name: &name})
	require.NoError(t, err)

	versions, err := svc.GetRuleVersions(ctx, "tenant-1", created.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	logs, err := svc.GetChangeLogs(ctx, "tenant-1", &created.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "update", logs[0].Action, "newest change first")
	assert.Equal(t, "create", logs[1].Action)
}

func TestRuleServiceDeleteWritesChangeLog(t *testing.T) {
	svc := newRuleService(t)
	ctx := context.Background()

	created, err := svc.CreateRule(ctx, "tenant-1", createTestRule("welcome-signup", "user.signup"))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRule(ctx, "tenant-1", created.ID))

	_, err = svc.GetRule(ctx, "tenant-1", created.ID)
	assert.True(t, pkgerrors.IsNotFound(err))

	logs, err := svc.GetChangeLogs(ctx, "tenant-1", &created.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "delete", logs[0].Action)
}

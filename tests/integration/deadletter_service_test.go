package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/deadletter"
)

func newDeadLetterService(t *testing.T) (deadletter.Service, deadletter.Repository) {
	t.Helper()
	infra := SetupTestInfraWithOptions(t, false, true, false)
	repo := deadletter.NewRepository(infra.MongoDB)
	return deadletter.NewService(repo, createTestRetryConfig(), createTestLogger()), repo
}

func TestDeadLetterServiceFailureLifecycle(t *testing.T) {
	svc, _ := newDeadLetterService(t)
	ctx := context.Background()

	stim := createTestStimulus("tenant-1", "user.signup", map[string]interface{}{"plan": "premium"})

	item, err := svc.RecordFailure(ctx, "tenant-1", "rule-1", stim, "webhook returned 502")
	require.NoError(t, err)
	assert.Equal(t, 1, item.AttemptCount)
	assert.Equal(t, deadletter.StatePending, item.State)
	require.NotNil(t, item.NextEligibleRetryAt)

	// A second failure for the same (rule, stimulus) advances the same item.
	again, err := svc.RecordFailure(ctx, "tenant-1", "rule-1", stim, "webhook returned 502")
	require.NoError(t, err)
	assert.Equal(t, item.ID, again.ID)
	assert.Equal(t, 2, again.AttemptCount)

	require.NoError(t, svc.Resolve(ctx, "tenant-1", "rule-1", stim.ID))

	items, err := svc.List(ctx, "tenant-1", deadletter.ListFilter{State: deadletter.StateResolved})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, deadletter.ResolutionRetrySucceeded, items[0].Resolution)
	assert.Nil(t, items[0].NextEligibleRetryAt)
}

func TestDeadLetterServiceExhaustsRetryBudget(t *testing.T) {
	svc, _ := newDeadLetterService(t)
	ctx := context.Background()

	stim := createTestStimulus("tenant-1", "user.signup", nil)

	var item *deadletter.DeadLetterItem
	var err error
	for i := 0; i < 6; i++ {
		item, err = svc.RecordFailure(ctx, "tenant-1", "rule-1", stim, "webhook returned 502")
		require.NoError(t, err)
	}

	assert.Equal(t, deadletter.StateDeadLettered, item.State)
	assert.Equal(t, 6, item.AttemptCount)
	assert.Nil(t, item.NextEligibleRetryAt, "dead-lettered items are never picked up again")
}

func TestDeadLetterServiceManualResolution(t *testing.T) {
	svc, repo := newDeadLetterService(t)
	ctx := context.Background()

	stim := createTestStimulus("tenant-1", "user.signup", nil)
	item, err := svc.RecordFailure(ctx, "tenant-1", "rule-1", stim, "webhook returned 502")
	require.NoError(t, err)

	resolved, err := svc.ResolveManually(ctx, "tenant-1", item.ID)
	require.NoError(t, err)
	assert.Equal(t, deadletter.StateResolved, resolved.State)
	assert.Equal(t, deadletter.ResolutionManual, resolved.Resolution)

	// Manual resolution marks the item; it never re-enters the retry queue.
	due, err := repo.FindDue(ctx, time.Now().Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	// Closing twice is a conflict.
	_, err = svc.Discard(ctx, "tenant-1", item.ID)
	assert.Error(t, err)
}

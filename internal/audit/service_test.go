package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/executor"
	"beacon/internal/logger"
	pkgerrors "beacon/pkg/errors"
)

type fakeLogRepository struct {
	logs []ExecutionLog
}

func (r *fakeLogRepository) Append(ctx context.Context, log *ExecutionLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	r.logs = append(r.logs, *log)
	return nil
}

func (r *fakeLogRepository) List(ctx context.Context, tenantID string, filter ListLogsFilter) ([]ExecutionLog, error) {
	var out []ExecutionLog
	for _, log := range r.logs {
		if log.TenantID != tenantID {
			continue
		}
		if filter.RuleID != "" && log.RuleID != filter.RuleID {
			continue
		}
		if filter.Window != nil && !filter.Window.Contains(log.StartedAt) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (r *fakeLogRepository) CountByStatus(ctx context.Context, tenantID string, window Window) (map[string]int64, error) {
	counts := map[string]int64{}
	for _, log := range r.logs {
		if log.TenantID == tenantID && window.Contains(log.StartedAt) {
			counts[log.Status]++
		}
	}
	return counts, nil
}

func (r *fakeLogRepository) FirstSuccess(ctx context.Context, tenantID, ruleID string) (*ExecutionLog, error) {
	var first *ExecutionLog
	for i := range r.logs {
		log := r.logs[i]
		if log.TenantID != tenantID || log.RuleID != ruleID || log.Status != executor.StatusSuccess {
			continue
		}
		if first == nil || log.StartedAt.Before(first.StartedAt) {
			first = &log
		}
	}
	return first, nil
}

type fakeSnapshotRepository struct {
	upserts []MetricsSnapshot
}

func (r *fakeSnapshotRepository) Upsert(ctx context.Context, snapshot *MetricsSnapshot) error {
	r.upserts = append(r.upserts, *snapshot)
	return nil
}

func (r *fakeSnapshotRepository) Get(ctx context.Context, tenantID string, window Window) (*MetricsSnapshot, error) {
	for i := len(r.upserts) - 1; i >= 0; i-- {
		s := r.upserts[i]
		if s.TenantID == tenantID && s.PeriodStart.Equal(window.Start) && s.PeriodEnd.Equal(window.End) {
			return &s, nil
		}
	}
	return nil, nil
}

type fakeTenantMetrics struct {
	windows map[time.Time]map[string]float64
}

func (p *fakeTenantMetrics) GetWindowMetrics(ctx context.Context, tenantID string, window Window) (map[string]float64, error) {
	if m, ok := p.windows[window.Start]; ok {
		return m, nil
	}
	return map[string]float64{}, nil
}

func executionResult(tenantID, ruleID, status string, startedAt time.Time) *executor.ExecutionResult {
	return &executor.ExecutionResult{
		ExecutionID: uuid.New().String(),
		RuleID:      ruleID,
		TenantID:    tenantID,
		StimulusID:  uuid.New().String(),
		Attempt:     1,
		Status:      status,
		Actions: []executor.ActionOutcome{
			{Index: 0, Kind: "tag", Status: executor.OutcomeSuccess},
		},
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(10 * time.Millisecond),
		DurationMs: 10,
	}
}

func TestRecordExecutionAppendsLog(t *testing.T) {
	logs := &fakeLogRepository{}
	svc := NewService(logs, &fakeSnapshotRepository{}, &fakeTenantMetrics{}, logger.NopLogger())

	result := executionResult("tenant-1", "rule-1", executor.StatusSuccess, time.Now())
	err := svc.RecordExecution(context.Background(), result)
	require.NoError(t, err)

	require.Len(t, logs.logs, 1)
	entry := logs.logs[0]
	assert.Equal(t, result.ExecutionID, entry.ExecutionID)
	assert.Equal(t, executor.StatusSuccess, entry.Status)
	assert.Equal(t, "1/1 actions succeeded", entry.ResultSummary)
}

func TestGetSnapshotCounts(t *testing.T) {
	logs := &fakeLogRepository{}
	svc := NewService(logs, &fakeSnapshotRepository{}, &fakeTenantMetrics{}, logger.NopLogger())

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	window := Window{Start: base, End: base.Add(24 * time.Hour)}

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.RecordExecution(context.Background(),
			executionResult("tenant-1", "rule-1", executor.StatusSuccess, base.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, svc.RecordExecution(context.Background(),
		executionResult("tenant-1", "rule-1", executor.StatusFailure, base.Add(4*time.Hour))))

	// Outside the window.
	require.NoError(t, svc.RecordExecution(context.Background(),
		executionResult("tenant-1", "rule-1", executor.StatusSuccess, base.Add(48*time.Hour))))

	snapshot, err := svc.GetSnapshot(context.Background(), "tenant-1", window)
	require.NoError(t, err)

	assert.Equal(t, int64(3), snapshot.SuccessCount)
	assert.Equal(t, int64(1), snapshot.FailureCount)
	assert.Equal(t, int64(4), snapshot.ExecutionsTotal)
}

func TestGetSnapshotRecomputeIsIdentical(t *testing.T) {
	logs := &fakeLogRepository{}
	snapshots := &fakeSnapshotRepository{}
	svc := NewService(logs, snapshots, &fakeTenantMetrics{}, logger.NopLogger())

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	window := Window{Start: base, End: base.Add(time.Hour)}

	require.NoError(t, svc.RecordExecution(context.Background(),
		executionResult("tenant-1", "rule-1", executor.StatusSuccess, base.Add(time.Minute))))

	first, err := svc.GetSnapshot(context.Background(), "tenant-1", window)
	require.NoError(t, err)

	second, err := svc.GetSnapshot(context.Background(), "tenant-1", window)
	require.NoError(t, err)

	assert.Equal(t, first, second, "recomputing the same window must yield an identical snapshot")
	assert.Len(t, snapshots.upserts, 2, "each recompute refreshes the cache")
}

func TestGetSnapshotIncludesDeadLetterCounts(t *testing.T) {
	logs := &fakeLogRepository{}
	svc := NewService(logs, &fakeSnapshotRepository{}, &fakeTenantMetrics{}, logger.NopLogger(),
		WithDeadLetterCounts(func(ctx context.Context, tenantID string, window Window) (int64, error) {
			return 7, nil
		}),
	)

	window := Window{Start: time.Now().Add(-time.Hour), End: time.Now()}
	snapshot, err := svc.GetSnapshot(context.Background(), "tenant-1", window)
	require.NoError(t, err)
	assert.Equal(t, int64(7), snapshot.DeadLetterCount)
}

func TestGetImpactComputesDeltas(t *testing.T) {
	baselineStart := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	treatmentStart := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	tenant := &fakeTenantMetrics{windows: map[time.Time]map[string]float64{
		baselineStart:  {"engagement": 10.0, "churn": 0.2},
		treatmentStart: {"engagement": 14.0, "churn": 0.1},
	}}

	svc := NewService(&fakeLogRepository{}, &fakeSnapshotRepository{}, tenant, logger.NopLogger())

	baseline := Window{Start: baselineStart, End: baselineStart.Add(30 * 24 * time.Hour)}
	treatment := Window{Start: treatmentStart, End: treatmentStart.Add(30 * 24 * time.Hour)}

	impact, err := svc.GetImpact(context.Background(), "tenant-1", "rule-1", baseline, treatment)
	require.NoError(t, err)

	engagement := impact.MetricDeltas["engagement"]
	assert.True(t, engagement.Available)
	assert.InDelta(t, 4.0, engagement.Delta, 0.001)

	churn := impact.MetricDeltas["churn"]
	assert.True(t, churn.Available)
	assert.InDelta(t, -0.1, churn.Delta, 0.001)
}

func TestGetImpactMissingBaselineIsUnavailable(t *testing.T) {
	baselineStart := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	treatmentStart := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	tenant := &fakeTenantMetrics{windows: map[time.Time]map[string]float64{
		// No baseline data at all.
		treatmentStart: {"engagement": 14.0},
	}}

	svc := NewService(&fakeLogRepository{}, &fakeSnapshotRepository{}, tenant, logger.NopLogger())

	baseline := Window{Start: baselineStart, End: baselineStart.Add(24 * time.Hour)}
	treatment := Window{Start: treatmentStart, End: treatmentStart.Add(24 * time.Hour)}

	impact, err := svc.GetImpact(context.Background(), "tenant-1", "rule-1", baseline, treatment)
	require.NoError(t, err)

	delta, ok := impact.MetricDeltas["engagement"]
	require.True(t, ok)
	assert.False(t, delta.Available, "missing baseline must be reported as unavailable, not zero")
	assert.InDelta(t, 14.0, delta.After, 0.001)
	assert.Zero(t, delta.Delta)
}

func TestGetImpactDerivesWindowsFromFirstSuccess(t *testing.T) {
	firstRun := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	logs := &fakeLogRepository{}
	require.NoError(t, logs.Append(context.Background(), &ExecutionLog{
		TenantID: "tenant-1", RuleID: "rule-1", Status: executor.StatusFailure,
		StartedAt: firstRun.Add(-time.Hour),
	}))
	require.NoError(t, logs.Append(context.Background(), &ExecutionLog{
		TenantID: "tenant-1", RuleID: "rule-1", Status: executor.StatusSuccess,
		StartedAt: firstRun,
	}))
	require.NoError(t, logs.Append(context.Background(), &ExecutionLog{
		TenantID: "tenant-1", RuleID: "rule-1", Status: executor.StatusSuccess,
		StartedAt: firstRun.Add(time.Hour),
	}))

	tenant := &fakeTenantMetrics{windows: map[time.Time]map[string]float64{
		firstRun.Add(-7 * 24 * time.Hour): {"engagement": 10.0},
		firstRun:                          {"engagement": 13.0},
	}}

	svc := NewService(logs, &fakeSnapshotRepository{}, tenant, logger.NopLogger())

	impact, err := svc.GetImpact(context.Background(), "tenant-1", "rule-1", Window{}, Window{})
	require.NoError(t, err)

	assert.Equal(t, firstRun, impact.BaselineWindow.End, "baseline ends at the first successful execution")
	assert.Equal(t, firstRun, impact.TreatmentWindow.Start, "treatment starts at the first successful execution")
	assert.Equal(t, firstRun.Add(-7*24*time.Hour), impact.BaselineWindow.Start)
	assert.Equal(t, firstRun.Add(7*24*time.Hour), impact.TreatmentWindow.End)

	engagement := impact.MetricDeltas["engagement"]
	assert.True(t, engagement.Available)
	assert.InDelta(t, 3.0, engagement.Delta, 0.001)
}

func TestGetImpactWithoutWindowsNeedsASuccess(t *testing.T) {
	logs := &fakeLogRepository{}
	require.NoError(t, logs.Append(context.Background(), &ExecutionLog{
		TenantID: "tenant-1", RuleID: "rule-1", Status: executor.StatusFailure,
		StartedAt: time.Now(),
	}))

	svc := NewService(logs, &fakeSnapshotRepository{}, &fakeTenantMetrics{}, logger.NopLogger())

	_, err := svc.GetImpact(context.Background(), "tenant-1", "rule-1", Window{}, Window{})
	assert.True(t, pkgerrors.IsNotFound(err), "a rule that never succeeded has no anchor for default windows")
}

func TestGetImpactRejectsInvertedWindows(t *testing.T) {
	svc := NewService(&fakeLogRepository{}, &fakeSnapshotRepository{}, &fakeTenantMetrics{}, logger.NopLogger())

	now := time.Now()
	bad := Window{Start: now, End: now.Add(-time.Hour)}
	good := Window{Start: now, End: now.Add(time.Hour)}

	_, err := svc.GetImpact(context.Background(), "tenant-1", "rule-1", bad, good)
	assert.Error(t, err)
}

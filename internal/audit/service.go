package audit

import (
	"context"
	"fmt"
	"time"

	"beacon/internal/executor"
	"beacon/internal/logger"
	pkgerrors "beacon/pkg/errors"
	"beacon/pkg/metrics"
)

type Service interface {
	RecordExecution(ctx context.Context, result *executor.ExecutionResult) error
	ListLogs(ctx context.Context, tenantID string, filter ListLogsFilter) ([]ExecutionLog, error)
	GetSnapshot(ctx context.Context, tenantID string, window Window) (*MetricsSnapshot, error)
	GetImpact(ctx context.Context, tenantID, ruleID string, baseline, treatment Window) (*ImpactAnalysis, error)
}

type service struct {
	logs      LogRepository
	snapshots SnapshotRepository
	tenant    TenantMetricsProvider
	dlqCounts func(ctx context.Context, tenantID string, window Window) (int64, error)
	logger    logger.Logger
}

type ServiceOption func(*service)

// WithDeadLetterCounts wires the dead-letter count source used by snapshots.
func WithDeadLetterCounts(count func(ctx context.Context, tenantID string, window Window) (int64, error)) ServiceOption {
	return func(s *service) {
		s.dlqCounts = count
	}
}

func NewService(logs LogRepository, snapshots SnapshotRepository, tenant TenantMetricsProvider, log logger.Logger, opts ...ServiceOption) Service {
	s := &service{
		logs:      logs,
		snapshots: snapshots,
		tenant:    tenant,
		logger:    log,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *service) RecordExecution(ctx context.Context, result *executor.ExecutionResult) error {
	log := &ExecutionLog{
		ExecutionID:   result.ExecutionID,
		RuleID:        result.RuleID,
		TenantID:      result.TenantID,
		StimulusID:    result.StimulusID,
		Attempt:       result.Attempt,
		Status:        result.Status,
		ResultSummary: summarize(result),
		Actions:       result.Actions,
		StartedAt:     result.StartedAt,
		FinishedAt:    result.FinishedAt,
		DurationMs:    result.DurationMs,
	}

	if err := s.logs.Append(ctx, log); err != nil {
		metrics.AuditLogWritesTotal.WithLabelValues("failure").Inc()
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	metrics.AuditLogWritesTotal.WithLabelValues("success").Inc()
	return nil
}

func (s *service) ListLogs(ctx context.Context, tenantID string, filter ListLogsFilter) ([]ExecutionLog, error) {
	logs, err := s.logs.List(ctx, tenantID, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return logs, nil
}

// GetSnapshot recomputes the aggregation from the log on every call and
// refreshes the cached copy. The cache exists for consumers that read
// snapshots directly from the store.
func (s *service) GetSnapshot(ctx context.Context, tenantID string, window Window) (*MetricsSnapshot, error) {
	counts, err := s.logs.CountByStatus(ctx, tenantID, window)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	snapshot := &MetricsSnapshot{
		TenantID:        tenantID,
		PeriodStart:     window.Start,
		PeriodEnd:       window.End,
		SuccessCount:    counts[executor.StatusSuccess],
		FailureCount:    counts[executor.StatusFailure],
		ExecutionsTotal: counts[executor.StatusSuccess] + counts[executor.StatusFailure],
	}

	if s.dlqCounts != nil {
		deadLettered, err := s.dlqCounts(ctx, tenantID, window)
		if err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
		}
		snapshot.DeadLetterCount = deadLettered
	}

	if err := s.snapshots.Upsert(ctx, snapshot); err != nil {
		// A stale cache is acceptable; the computed snapshot is still valid.
		s.logger.WarnwCtx(ctx, "Failed to cache metrics snapshot",
			"tenant_id", tenantID,
			"error", err,
		)
	}

	return snapshot, nil
}

func (s *service) GetImpact(ctx context.Context, tenantID, ruleID string, baseline, treatment Window) (*ImpactAnalysis, error) {
	if baseline.IsZero() && treatment.IsZero() {
		var err error
		baseline, treatment, err = s.defaultImpactWindows(ctx, tenantID, ruleID)
		if err != nil {
			return nil, err
		}
	}

	if !baseline.Start.Before(baseline.End) || !treatment.Start.Before(treatment.End) {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "window start must precede window end")
	}

	before, err := s.tenant.GetWindowMetrics(ctx, tenantID, baseline)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	after, err := s.tenant.GetWindowMetrics(ctx, tenantID, treatment)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	analysis := &ImpactAnalysis{
		RuleID:          ruleID,
		TenantID:        tenantID,
		BaselineWindow:  baseline,
		TreatmentWindow: treatment,
		MetricDeltas:    make(map[string]MetricDelta),
	}

	for metric, afterValue := range after {
		beforeValue, hasBaseline := before[metric]
		if !hasBaseline {
			// Missing baseline data reports the delta as unavailable, never
			// as zero.
			analysis.MetricDeltas[metric] = MetricDelta{After: afterValue}
			continue
		}
		analysis.MetricDeltas[metric] = MetricDelta{
			Before:    beforeValue,
			After:     afterValue,
			Delta:     afterValue - beforeValue,
			Available: true,
		}
	}

	for metric, beforeValue := range before {
		if _, seen := after[metric]; !seen {
			analysis.MetricDeltas[metric] = MetricDelta{Before: beforeValue}
		}
	}

	return analysis, nil
}

// defaultImpactSpan sizes the windows derived around a rule's first
// successful execution when the caller supplies none.
const defaultImpactSpan = 7 * 24 * time.Hour

// defaultImpactWindows anchors the comparison on the rule's first successful
// execution: the baseline ends where the rule started having an effect and
// the treatment begins there.
func (s *service) defaultImpactWindows(ctx context.Context, tenantID, ruleID string) (Window, Window, error) {
	first, err := s.logs.FirstSuccess(ctx, tenantID, ruleID)
	if err != nil {
		return Window{}, Window{}, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if first == nil {
		return Window{}, Window{}, pkgerrors.ErrNotFound.WithDetail("message", "rule has no successful execution to anchor impact windows")
	}

	pivot := first.StartedAt
	baseline := Window{Start: pivot.Add(-defaultImpactSpan), End: pivot}
	treatment := Window{Start: pivot, End: pivot.Add(defaultImpactSpan)}
	return baseline, treatment, nil
}

func summarize(result *executor.ExecutionResult) string {
	succeeded := 0
	for _, outcome := range result.Actions {
		if outcome.Status == executor.OutcomeSuccess {
			succeeded++
		}
	}
	if result.Succeeded() {
		return fmt.Sprintf("%d/%d actions succeeded", succeeded, len(result.Actions))
	}
	return fmt.Sprintf("%d/%d actions succeeded; failed: %s", succeeded, len(result.Actions), result.Error)
}

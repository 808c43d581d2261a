package engine

import (
	"context"

	"golang.org/x/sync/semaphore"

	"beacon/internal/audit"
	"beacon/internal/config"
	"beacon/internal/deadletter"
	"beacon/internal/executor"
	"beacon/internal/logger"
	"beacon/internal/rules"
	"beacon/internal/trigger"
	pkgerrors "beacon/pkg/errors"
	"beacon/pkg/logging"
	"beacon/pkg/metrics"
	"beacon/pkg/models"
)

// Engine is the stimulus pipeline: dedup fencing, trigger evaluation, then
// dispatch of each eligible rule to the executor under a global concurrency
// cap. Failed executions land in the dead-letter queue; the sweeper feeds
// them back through ResubmitItem.
type Engine struct {
	dedup     Deduper
	evaluator *trigger.Evaluator
	executor  *executor.Executor
	rulesRepo rules.Repository
	audit     audit.Service
	dlq       deadletter.Service
	notifier  Notifier
	sem       *semaphore.Weighted
	logger    logger.Logger
}

// Notifier publishes execution outcome notifications. A nil Notifier
// disables publication.
type Notifier interface {
	NotifyExecution(ctx context.Context, n models.Notification) error
}

func New(
	dedup Deduper,
	evaluator *trigger.Evaluator,
	exec *executor.Executor,
	rulesRepo rules.Repository,
	auditSvc audit.Service,
	dlq deadletter.Service,
	notifier Notifier,
	cfg config.EngineConfig,
	log logger.Logger,
) *Engine {
	maxConcurrent := cfg.MaxConcurrentExecutions
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	return &Engine{
		dedup:     dedup,
		evaluator: evaluator,
		executor:  exec,
		rulesRepo: rulesRepo,
		audit:     auditSvc,
		dlq:       dlq,
		notifier:  notifier,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		logger:    log,
	}
}

// ProcessStimulus handles a fresh stimulus from the broker. Duplicate
// deliveries are dropped; eligible rules run independently, so one rule's
// failure never blocks another's dispatch.
func (e *Engine) ProcessStimulus(ctx context.Context, stim models.Stimulus) error {
	metrics.StimuliReceivedTotal.WithLabelValues(string(stim.Kind), stim.Metadata.Source).Inc()

	seen, err := e.dedup.Seen(ctx, stim.ID)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if seen {
		metrics.StimuliDuplicateTotal.Inc()
		e.logger.DebugwCtx(ctx, "Duplicate stimulus dropped", "stimulus_id", stim.ID)
		return nil
	}

	eligible, err := e.evaluator.EligibleRules(ctx, stim)
	if err != nil {
		return err
	}

	if len(eligible) == 0 {
		e.logger.DebugwCtx(ctx, "No eligible rules for stimulus",
			"stimulus_id", stim.ID,
			"kind", stim.Kind,
			"event_type", stim.EventType,
		)
		return nil
	}

	for _, rule := range eligible {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return err
		}

		rule := rule
		go func() {
			defer e.sem.Release(1)

			// The broker's delivery context ends once the message is
			// committed; executions carry their own context.
			execCtx := logging.WithTenantID(context.Background(), stim.TenantID)
			execCtx = logging.WithStimulusID(execCtx, stim.ID)
			if traceID := logging.GetTraceID(ctx); traceID != "" {
				execCtx = logging.WithTraceID(execCtx, traceID)
			}

			e.runRule(execCtx, &rule, stim)
		}()
	}

	return nil
}

// ResubmitItem retries a dead-letter item on behalf of the sweeper. A
// deleted rule discards the item; a disabled rule is still retried, since
// disabling only stops new trigger evaluation.
func (e *Engine) ResubmitItem(ctx context.Context, item deadletter.DeadLetterItem) error {
	rule, err := e.rulesRepo.Get(ctx, item.TenantID, item.RuleID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			e.logger.InfowCtx(ctx, "Rule deleted, discarding dead-letter item",
				"item_id", item.ID,
				"rule_id", item.RuleID,
			)
			_, derr := e.dlq.Discard(ctx, item.TenantID, item.ID)
			return derr
		}
		return err
	}

	stim := item.Stimulus
	stim.Metadata.Attempt = item.AttemptCount + 1

	result, err := e.executor.Execute(ctx, rule, stim)
	if err != nil {
		if pkgerrors.IsAlreadyRunning(err) {
			// Collisions do not consume an attempt.
			return e.dlq.Reschedule(ctx, &item)
		}
		return err
	}

	e.settle(ctx, rule, stim, result)
	return nil
}

func (e *Engine) runRule(ctx context.Context, rule *rules.AutomationRule, stim models.Stimulus) {
	result, err := e.executor.Execute(ctx, rule, stim)
	if err != nil {
		if pkgerrors.IsAlreadyRunning(err) {
			// Queue the stimulus for a later attempt instead of waiting on
			// the running execution.
			if _, rerr := e.dlq.RecordFailure(ctx, rule.TenantID, rule.ID, stim, err.Error()); rerr != nil {
				e.logger.ErrorwCtx(ctx, "Failed to queue collided execution",
					"rule_id", rule.ID,
					"error", rerr,
				)
			}
			return
		}

		e.logger.ErrorwCtx(ctx, "Execution dispatch failed",
			"rule_id", rule.ID,
			"error", err,
		)
		return
	}

	e.settle(ctx, rule, stim, result)
}

// settle records the audit log entry, advances the retry queue and publishes
// the outcome notification. Bookkeeping failures are logged, never allowed
// to mask the execution result.
func (e *Engine) settle(ctx context.Context, rule *rules.AutomationRule, stim models.Stimulus, result *executor.ExecutionResult) {
	if err := e.audit.RecordExecution(ctx, result); err != nil {
		e.logger.ErrorwCtx(ctx, "Failed to record execution log",
			"execution_id", result.ExecutionID,
			"error", err,
		)
	}

	if result.Succeeded() {
		if err := e.dlq.Resolve(ctx, rule.TenantID, rule.ID, stim.ID); err != nil {
			e.logger.ErrorwCtx(ctx, "Failed to resolve dead-letter item",
				"rule_id", rule.ID,
				"stimulus_id", stim.ID,
				"error", err,
			)
		}
	} else {
		if _, err := e.dlq.RecordFailure(ctx, rule.TenantID, rule.ID, stim, result.Error); err != nil {
			e.logger.ErrorwCtx(ctx, "Failed to record execution failure",
				"rule_id", rule.ID,
				"stimulus_id", stim.ID,
				"error", err,
			)
		}
	}

	if e.notifier != nil {
		notification := models.Notification{
			ExecutionID: result.ExecutionID,
			TenantID:    result.TenantID,
			RuleID:      result.RuleID,
			StimulusID:  result.StimulusID,
			Status:      result.Status,
			Error:       result.Error,
			OccurredAt:  result.FinishedAt,
		}
		if err := e.notifier.NotifyExecution(ctx, notification); err != nil {
			e.logger.WarnwCtx(ctx, "Failed to publish execution notification",
				"execution_id", result.ExecutionID,
				"error", err,
			)
		}
	}
}

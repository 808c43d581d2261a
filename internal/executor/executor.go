package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"beacon/internal/logger"
	"beacon/internal/rules"
	pkgerrors "beacon/pkg/errors"
	"beacon/pkg/metrics"
	"beacon/pkg/models"
)

// Executor runs a rule's action list under the per-(tenant, rule) execution
// lock. Actions run in declared order; the first failure aborts the rest.
// Failures are reported in the result, never retried here.
type Executor struct {
	locks         *KeyedLock
	runners       RunnerRegistry
	actionTimeout time.Duration
	logger        logger.Logger
}

func New(runners RunnerRegistry, actionTimeout time.Duration, log logger.Logger) *Executor {
	return &Executor{
		locks:         NewKeyedLock(),
		runners:       runners,
		actionTimeout: actionTimeout,
		logger:        log,
	}
}

// Execute returns ErrAlreadyRunning when another execution of the same rule
// is in flight. Action failures do not produce an error: the result carries
// the failure and the caller routes it to the retry queue.
func (e *Executor) Execute(ctx context.Context, rule *rules.AutomationRule, stim models.Stimulus) (*ExecutionResult, error) {
	release, ok := e.locks.TryAcquire(rule.TenantID, rule.ID)
	if !ok {
		metrics.ExecutionCollisionsTotal.Inc()
		return nil, pkgerrors.ErrAlreadyRunning.
			WithDetail("rule_id", rule.ID).
			WithDetail("tenant_id", rule.TenantID)
	}
	defer release()

	metrics.ExecutionsInFlight.Inc()
	defer metrics.ExecutionsInFlight.Dec()

	attempt := stim.Metadata.Attempt
	if attempt == 0 {
		attempt = 1
	}

	result := &ExecutionResult{
		ExecutionID: uuid.New().String(),
		RuleID:      rule.ID,
		TenantID:    rule.TenantID,
		StimulusID:  stim.ID,
		Attempt:     attempt,
		Status:      StatusSuccess,
		StartedAt:   time.Now(),
	}

	for i, action := range rule.Actions {
		outcome := e.runAction(ctx, i, action, stim)
		result.Actions = append(result.Actions, outcome)

		if outcome.Status == OutcomeFailure {
			result.Status = StatusFailure
			result.Error = outcome.Error
			e.markSkipped(result, rule.Actions, i+1)
			break
		}
	}

	result.FinishedAt = time.Now()
	result.DurationMs = result.FinishedAt.Sub(result.StartedAt).Milliseconds()

	metrics.ExecutionsTotal.WithLabelValues(result.Status).Inc()
	metrics.ObserveExecutionDuration(result.FinishedAt.Sub(result.StartedAt), result.Status)

	return result, nil
}

func (e *Executor) runAction(ctx context.Context, index int, action rules.ActionSpec, stim models.Stimulus) ActionOutcome {
	outcome := ActionOutcome{
		Index: index,
		Kind:  action.Kind,
	}

	runner, ok := e.runners[action.Kind]
	if !ok {
		outcome.Status = OutcomeFailure
		outcome.Error = fmt.Sprintf("no runner for action kind %s", action.Kind)
		return outcome
	}

	actionCtx, cancel := context.WithTimeout(ctx, e.actionTimeout)
	defer cancel()

	start := time.Now()
	err := e.runSafely(actionCtx, runner, action, stim)
	outcome.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		outcome.Status = OutcomeFailure
		outcome.Error = err.Error()
		metrics.ActionRunsTotal.WithLabelValues(string(action.Kind), OutcomeFailure).Inc()
		e.logger.WarnwCtx(ctx, "Action failed",
			"action_index", index,
			"action_kind", action.Kind,
			"error", err,
		)
	} else {
		outcome.Status = OutcomeSuccess
		metrics.ActionRunsTotal.WithLabelValues(string(action.Kind), OutcomeSuccess).Inc()
	}
	metrics.ObserveActionDuration(string(action.Kind), time.Since(start))

	return outcome
}

// runSafely converts a panicking action into a failure so the lock is always
// released and the attempt lands in the retry queue.
func (e *Executor) runSafely(ctx context.Context, runner ActionRunner, action rules.ActionSpec, stim models.Stimulus) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.RecoverPanic(r)
		}
	}()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- pkgerrors.RecoverPanic(r)
			}
		}()
		done <- runner.Run(ctx, action, stim)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return pkgerrors.ErrTimeout.
			WithCause(ctx.Err()).
			WithDetail("action_kind", string(action.Kind))
	}
}

func (e *Executor) markSkipped(result *ExecutionResult, actions []rules.ActionSpec, from int) {
	for i := from; i < len(actions); i++ {
		result.Actions = append(result.Actions, ActionOutcome{
			Index:  i,
			Kind:   actions[i].Kind,
			Status: OutcomeSkipped,
		})
	}
}

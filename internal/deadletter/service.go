package deadletter

import (
	"context"
	"time"

	"beacon/internal/config"
	"beacon/internal/logger"
	pkgerrors "beacon/pkg/errors"
	"beacon/pkg/metrics"
	"beacon/pkg/models"
	"beacon/pkg/retry"
)

type Service interface {
	// RecordFailure creates or advances the retry item for a failed
	// execution and returns it. Items past the attempt budget move to the
	// permanent dead-letter state.
	RecordFailure(ctx context.Context, tenantID, ruleID string, stim models.Stimulus, reason string) (*DeadLetterItem, error)
	// Reschedule pushes an item's next retry out without consuming an
	// attempt (used on execution collisions).
	Reschedule(ctx context.Context, item *DeadLetterItem) error
	// Resolve closes an item after a successful late retry.
	Resolve(ctx context.Context, tenantID, ruleID, stimulusID string) error
	List(ctx context.Context, tenantID string, filter ListFilter) ([]DeadLetterItem, error)
	// ResolveManually marks an item resolved without replaying it.
	ResolveManually(ctx context.Context, tenantID, itemID string) (*DeadLetterItem, error)
	// Discard drops an item from operator view; the record is retained.
	Discard(ctx context.Context, tenantID, itemID string) (*DeadLetterItem, error)
	MarkRetrying(ctx context.Context, item *DeadLetterItem) error
}

type service struct {
	repo        Repository
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      logger.Logger
}

func NewService(repo Repository, cfg config.RetryQueueConfig, log logger.Logger) Service {
	return &service{
		repo:        repo,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		logger:      log,
	}
}

func (s *service) RecordFailure(ctx context.Context, tenantID, ruleID string, stim models.Stimulus, reason string) (*DeadLetterItem, error) {
	now := time.Now()

	item, err := s.repo.GetOpenByStimulus(ctx, tenantID, ruleID, stim.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	if item == nil {
		next := now.Add(retry.NextAttemptDelay(1, s.baseDelay, s.maxDelay))
		item = &DeadLetterItem{
			RuleID:              ruleID,
			TenantID:            tenantID,
			Stimulus:            stim,
			FailureReason:       reason,
			AttemptCount:        1,
			State:               StatePending,
			FirstFailedAt:       now,
			LastFailedAt:        now,
			NextEligibleRetryAt: &next,
		}
		if err := s.repo.Create(ctx, item); err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
		}
		return item, nil
	}

	item.AttemptCount++
	item.FailureReason = reason
	item.LastFailedAt = now
	item.RetryingSince = nil

	if item.AttemptCount > s.maxAttempts {
		item.State = StateDeadLettered
		item.NextEligibleRetryAt = nil
		metrics.DeadLetteredTotal.WithLabelValues("max_attempts_exceeded").Inc()
		s.logger.WarnwCtx(ctx, "Item dead-lettered",
			"rule_id", ruleID,
			"stimulus_id", stim.ID,
			"attempt_count", item.AttemptCount,
		)
	} else {
		next := now.Add(retry.NextAttemptDelay(item.AttemptCount, s.baseDelay, s.maxDelay))
		item.State = StatePending
		item.NextEligibleRetryAt = &next
	}

	if err := s.repo.Update(ctx, item); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	return item, nil
}

func (s *service) Reschedule(ctx context.Context, item *DeadLetterItem) error {
	next := time.Now().Add(retry.NextAttemptDelay(item.AttemptCount, s.baseDelay, s.maxDelay))
	item.State = StatePending
	item.NextEligibleRetryAt = &next
	item.RetryingSince = nil

	if err := s.repo.Update(ctx, item); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return nil
}

func (s *service) Resolve(ctx context.Context, tenantID, ruleID, stimulusID string) error {
	item, err := s.repo.GetOpenByStimulus(ctx, tenantID, ruleID, stimulusID)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if item == nil {
		return nil
	}

	now := time.Now()
	item.State = StateResolved
	item.Resolution = ResolutionRetrySucceeded
	item.NextEligibleRetryAt = nil
	item.RetryingSince = nil
	item.ResolvedAt = &now

	if err := s.repo.Update(ctx, item); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return nil
}

func (s *service) List(ctx context.Context, tenantID string, filter ListFilter) ([]DeadLetterItem, error) {
	items, err := s.repo.List(ctx, tenantID, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return items, nil
}

func (s *service) ResolveManually(ctx context.Context, tenantID, itemID string) (*DeadLetterItem, error) {
	return s.close(ctx, tenantID, itemID, StateResolved, ResolutionManual)
}

func (s *service) Discard(ctx context.Context, tenantID, itemID string) (*DeadLetterItem, error) {
	return s.close(ctx, tenantID, itemID, StateDiscarded, ResolutionDiscarded)
}

func (s *service) close(ctx context.Context, tenantID, itemID string, state State, resolution string) (*DeadLetterItem, error) {
	item, err := s.repo.Get(ctx, tenantID, itemID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if item == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", itemID)
	}
	if item.State == StateResolved || item.State == StateDiscarded {
		return nil, pkgerrors.ErrConflict.WithDetail("message", "item is already closed")
	}

	now := time.Now()
	item.State = state
	item.Resolution = resolution
	item.NextEligibleRetryAt = nil
	item.RetryingSince = nil
	item.ResolvedAt = &now

	if err := s.repo.Update(ctx, item); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return item, nil
}

func (s *service) MarkRetrying(ctx context.Context, item *DeadLetterItem) error {
	now := time.Now()
	item.State = StateRetrying
	item.RetryingSince = &now
	if err := s.repo.Update(ctx, item); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return nil
}

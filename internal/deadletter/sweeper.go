package deadletter

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"beacon/internal/config"
	"beacon/internal/logger"
	"beacon/pkg/metrics"
)

// ResubmitFunc hands a due item back to the execution pipeline. The sweeper
// only schedules; the outcome of the retry is reported back through the
// service's RecordFailure and Resolve paths.
type ResubmitFunc func(ctx context.Context, item DeadLetterItem) error

// Sweeper periodically scans the retry queue for items whose backoff has
// elapsed and resubmits them with a bounded worker pool.
type Sweeper struct {
	service    Service
	repo       Repository
	resubmit   ResubmitFunc
	interval   time.Duration
	batch      int
	workers    int
	staleAfter time.Duration
	logger     logger.Logger
	done       chan struct{}
}

func NewSweeper(service Service, repo Repository, resubmit ResubmitFunc, cfg config.RetryQueueConfig, log logger.Logger) *Sweeper {
	return &Sweeper{
		service:    service,
		repo:       repo,
		resubmit:   resubmit,
		interval:   cfg.SweepInterval,
		batch:      cfg.SweepBatch,
		workers:    cfg.Workers,
		staleAfter: cfg.StaleRetryAfter,
		logger:     log,
		done:       make(chan struct{}),
	}
}

// Start runs the sweep loop until the context is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Infow("Retry sweeper started",
		"interval", s.interval.String(),
		"batch", s.batch,
		"workers", s.workers,
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.ErrorwCtx(ctx, "Retry sweep failed", "error", err)
			}
		}
	}
}

func (s *Sweeper) Stop() {
	close(s.done)
}

// Sweep resubmits one batch of due items. Exported so tests and the
// management API can trigger a pass directly.
func (s *Sweeper) Sweep(ctx context.Context) error {
	s.reclaimStale(ctx)

	due, err := s.repo.FindDue(ctx, time.Now(), s.batch)
	if err != nil {
		return err
	}

	if depth, err := s.repo.CountPending(ctx); err == nil {
		metrics.SetRetryQueueDepth(int(depth))
	}

	if len(due) == 0 {
		return nil
	}

	s.logger.InfowCtx(ctx, "Sweeping due retries", "count", len(due))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, item := range due {
		item := item
		g.Go(func() error {
			if err := s.service.MarkRetrying(gctx, &item); err != nil {
				s.logger.ErrorwCtx(gctx, "Failed to mark item retrying",
					"item_id", item.ID, "error", err)
				return nil
			}

			if err := s.resubmit(gctx, item); err != nil {
				metrics.RetryAttemptsTotal.WithLabelValues("error").Inc()
				s.logger.ErrorwCtx(gctx, "Retry resubmission failed, requeueing item",
					"item_id", item.ID,
					"rule_id", item.RuleID,
					"attempt_count", item.AttemptCount,
					"error", err,
				)
				// Put the item back in the queue so a transient dispatch
				// failure does not strand it in the retrying state.
				if err := s.service.Reschedule(gctx, &item); err != nil {
					s.logger.ErrorwCtx(gctx, "Failed to requeue item",
						"item_id", item.ID, "error", err)
				}
				return nil
			}

			metrics.RetryAttemptsTotal.WithLabelValues("dispatched").Inc()
			return nil
		})
	}

	return g.Wait()
}

// reclaimStale requeues items stuck in the retrying state, which happens when
// the process dies between dispatch and settle. Errors are logged only; the
// next pass will find the same items again.
func (s *Sweeper) reclaimStale(ctx context.Context) {
	if s.staleAfter <= 0 {
		return
	}

	stale, err := s.repo.FindStaleRetrying(ctx, time.Now().Add(-s.staleAfter), s.batch)
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to scan for stale retrying items", "error", err)
		return
	}

	for _, item := range stale {
		item := item
		s.logger.WarnwCtx(ctx, "Reclaiming stale retrying item",
			"item_id", item.ID,
			"rule_id", item.RuleID,
			"retrying_since", item.RetryingSince,
		)
		if err := s.service.Reschedule(ctx, &item); err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to reclaim stale item",
				"item_id", item.ID, "error", err)
		}
	}
}

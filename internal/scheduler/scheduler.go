package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"beacon/internal/broker"
	"beacon/internal/config"
	"beacon/internal/logger"
	"beacon/pkg/models"
)

// TenantSource lists the tenants that should receive schedule ticks.
type TenantSource interface {
	ListActiveTenants(ctx context.Context) ([]string, error)
}

type postgresTenantSource struct {
	db *sql.DB
}

func NewPostgresTenantSource(db *sql.DB) TenantSource {
	return &postgresTenantSource{db: db}
}

// ListActiveTenants returns tenants with at least one enabled rule. The
// trigger evaluator filters out tenants without schedule triggers, so the
// tick is cheap for them.
func (s *postgresTenantSource) ListActiveTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT tenant_id
		FROM automation_rules
		WHERE enabled = true
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			return nil, fmt.Errorf("failed to scan tenant id: %w", err)
		}
		tenants = append(tenants, tenantID)
	}

	return tenants, rows.Err()
}

// Scheduler publishes a schedule-tick stimulus per active tenant at a fixed
// interval. Ticks flow through the broker like any other stimulus, so they
// pick up dedup fencing and tracing on the consumer side.
type Scheduler struct {
	tenants  TenantSource
	producer broker.Producer
	topic    string
	interval time.Duration
	logger   logger.Logger
	done     chan struct{}
}

func New(tenants TenantSource, producer broker.Producer, topic string, cfg config.SchedulerConfig, log logger.Logger) *Scheduler {
	return &Scheduler{
		tenants:  tenants,
		producer: producer,
		topic:    topic,
		interval: cfg.TickInterval,
		logger:   log,
		done:     make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Infow("Scheduler started", "interval", s.interval.String())

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case firedAt := <-ticker.C:
			if err := s.Tick(ctx, firedAt); err != nil {
				s.logger.ErrorwCtx(ctx, "Schedule tick failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.done)
}

// Tick publishes one schedule stimulus per active tenant.
func (s *Scheduler) Tick(ctx context.Context, firedAt time.Time) error {
	tenants, err := s.tenants.ListActiveTenants(ctx)
	if err != nil {
		return err
	}

	for _, tenantID := range tenants {
		stim := models.NewScheduleTick(tenantID, firedAt)
		if err := s.producer.PublishStimulus(ctx, s.topic, stim); err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to publish schedule tick",
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	return nil
}

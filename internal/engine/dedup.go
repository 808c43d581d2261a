package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"beacon/internal/constants"
	"beacon/internal/logger"
)

// Deduper fences duplicate stimulus deliveries. The broker guarantees
// at-least-once delivery, so a redelivered stimulus must not run the same
// rules twice.
type Deduper interface {
	// Seen records the stimulus and reports whether it was already recorded.
	Seen(ctx context.Context, stimulusID string) (bool, error)
}

type redisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttlSeconds int) Deduper {
	if ttlSeconds <= 0 {
		ttlSeconds = constants.DefaultDedupTTLSeconds
	}
	return &redisDeduper{
		client: client,
		ttl:    time.Duration(ttlSeconds) * time.Second,
	}
}

func (d *redisDeduper) Seen(ctx context.Context, stimulusID string) (bool, error) {
	key := constants.CacheKeyPrefixStimulus + stimulusID

	created, err := d.client.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}

	return !created, nil
}

// noopDeduper lets every stimulus through; used when Redis is not configured.
type noopDeduper struct{}

func NewNoopDeduper() Deduper {
	return noopDeduper{}
}

func (noopDeduper) Seen(ctx context.Context, stimulusID string) (bool, error) {
	return false, nil
}

// fallbackDeduper wraps a Deduper with the configured Redis failure policy:
// "allow" treats an unreachable Redis as not-seen, "reject" propagates the
// error so the stimulus is retried by the broker.
type fallbackDeduper struct {
	inner  Deduper
	policy string
	logger logger.Logger
}

func WithFallback(inner Deduper, policy string, log logger.Logger) Deduper {
	if policy == "" {
		policy = constants.FallbackAllow
	}
	return &fallbackDeduper{
		inner:  inner,
		policy: policy,
		logger: log,
	}
}

func (d *fallbackDeduper) Seen(ctx context.Context, stimulusID string) (bool, error) {
	seen, err := d.inner.Seen(ctx, stimulusID)
	if err == nil {
		return seen, nil
	}

	if d.policy == constants.FallbackReject {
		return false, err
	}

	d.logger.WarnwCtx(ctx, "Dedup check failed, allowing stimulus through",
		"stimulus_id", stimulusID,
		"error", err,
	)
	return false, nil
}

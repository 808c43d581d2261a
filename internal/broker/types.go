package broker

import (
	"context"

	"beacon/pkg/models"
)

type Producer interface {
	PublishStimulus(ctx context.Context, topic string, stim models.Stimulus) error
	PublishNotification(ctx context.Context, topic string, n models.Notification) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, stim models.Stimulus) error

package engine

import (
	"context"

	"beacon/internal/broker"
	"beacon/pkg/models"
)

type brokerNotifier struct {
	producer broker.Producer
	topic    string
}

// NewBrokerNotifier publishes execution outcomes to the notification topic.
func NewBrokerNotifier(producer broker.Producer, topic string) Notifier {
	return &brokerNotifier{
		producer: producer,
		topic:    topic,
	}
}

func (n *brokerNotifier) NotifyExecution(ctx context.Context, notification models.Notification) error {
	return n.producer.PublishNotification(ctx, n.topic, notification)
}

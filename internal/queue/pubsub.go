package queue

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
)

// PubSubPublisher publishes to a single topic and waits for the server ack.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubPublisher wraps topicID on client.
func NewPubSubPublisher(client *pubsub.Client, topicID string) *PubSubPublisher {
	return &PubSubPublisher{topic: client.Topic(topicID)}
}

// Publish sends msg and blocks until Pub/Sub accepts it.
func (p *PubSubPublisher) Publish(ctx context.Context, msg Message) error {
	result := p.topic.Publish(ctx, &pubsub.Message{Data: msg.Data, Attributes: msg.Attributes})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.topic.ID(), err)
	}
	return nil
}

// Stop flushes pending publishes.
func (p *PubSubPublisher) Stop() {
	p.topic.Stop()
}

// Consumer runs a Receive loop on one subscription.
type Consumer struct {
	sub     *pubsub.Subscription
	handler Handler
	log     logrus.FieldLogger
}

// NewConsumer builds a consumer for subscriptionID. maxOutstanding bounds
// concurrent handler invocations.
func NewConsumer(client *pubsub.Client, subscriptionID string, maxOutstanding int, handler Handler, log logrus.FieldLogger) *Consumer {
	sub := client.Subscription(subscriptionID)
	if maxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
		sub.ReceiveSettings.NumGoroutines = 1
	}
	return &Consumer{sub: sub, handler: handler, log: log}
}

// Run blocks until ctx is cancelled or Receive fails.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.WithField("subscription", c.sub.ID()).Info("consumer started")
	err := c.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		entry := c.log.WithFields(logrus.Fields{
			"message_id": m.ID,
			"attempt":    deliveryAttempt(m),
		})
		err := c.handler(ctx, Message{Data: m.Data, Attributes: m.Attributes})
		switch {
		case err == nil:
			m.Ack()
		case Retryable(err):
			entry.WithError(err).Warn("handler asked for redelivery")
			m.Nack()
		default:
			entry.WithError(err).Error("handler failed; message dropped")
			m.Ack()
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive on %s: %w", c.sub.ID(), err)
	}
	return nil
}

func deliveryAttempt(m *pubsub.Message) int {
	if m.DeliveryAttempt != nil {
		return *m.DeliveryAttempt
	}
	return 0
}

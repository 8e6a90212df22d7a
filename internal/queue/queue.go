// Package queue delivers stage triggers between pipeline stages, either via
// Google Cloud Pub/Sub or in-process goroutines. Delivery is at-least-once.
package queue

import (
	"context"
	"errors"
)

// Message is one unit of work handed to a stage.
type Message struct {
	Data       []byte
	Attributes map[string]string
}

// Publisher sends a message towards its consumer.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Handler processes one delivered message. A returned error that reports
// Retryable() == true asks for redelivery; any other outcome is final.
type Handler func(ctx context.Context, msg Message) error

// Retryable reports whether err asks for redelivery.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

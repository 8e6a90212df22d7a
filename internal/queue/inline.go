package queue

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// InlineDispatcher invokes the handler on its own goroutine, detached from
// the publisher's context. It stands in for a broker in single-process mode.
type InlineDispatcher struct {
	handler Handler
	log     logrus.FieldLogger
	wg      sync.WaitGroup
}

// NewInlineDispatcher returns a dispatcher that runs handler for every publish.
func NewInlineDispatcher(handler Handler, log logrus.FieldLogger) *InlineDispatcher {
	return &InlineDispatcher{handler: handler, log: log}
}

// Publish starts the handler and returns immediately.
func (d *InlineDispatcher) Publish(ctx context.Context, msg Message) error {
	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.handler(detached, msg); err != nil {
			d.log.WithError(err).WithField("retryable", Retryable(err)).Warn("inline handler failed")
		}
	}()
	return nil
}

// Wait blocks until every started handler has returned.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

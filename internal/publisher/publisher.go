// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

// Package publisher runs the single worker that drains the bounded batch
// queue, publishes to the broker, retries transient errors, and advances
// the Position Store's in-memory offset once a batch is acknowledged.
// Grounded on the teacher's pkg/sender (Sender.run/wireMessage retry loop,
// ConnectionManager.backoff), generalized from raw TLS submission to a
// Kafka publish contract.
package publisher

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SupersonicAds/tailf2kafka/internal/position"
	"github.com/SupersonicAds/tailf2kafka/internal/tailer"
)

// retryBackoff is the fixed one-second sleep between retries of a batch
// that failed with a retryable ("metadata unavailable") broker error.
const retryBackoff = 1 * time.Second

// Broker is the publish contract this module requires of the broker
// client library; Kafka wiring lives in kafka.go.
type Broker interface {
	Publish(ctx context.Context, topic string, lines []string) error
}

// RetryableError is implemented by broker errors that represent a
// transient "metadata unavailable" condition warranting indefinite retry.
type RetryableError interface {
	Retryable() bool
}

// Publisher is a single worker draining queue, publishing each Batch, and
// advancing store's committed offset for the batch's path once acked.
type Publisher struct {
	queue  chan *tailer.Batch
	broker Broker
	store  *position.Store
	log    *logrus.Entry
}

// New returns a Publisher with a queue of the given capacity
// (max_batches * 10, per spec).
func New(capacity int, broker Broker, store *position.Store, log *logrus.Entry) *Publisher {
	return &Publisher{
		queue:  make(chan *tailer.Batch, capacity),
		broker: broker,
		store:  store,
		log:    log,
	}
}

// Submit enqueues a batch, blocking if the queue is full. This is the
// Tailer-facing half of the designed backpressure point and satisfies
// tailer.Submitter.
func (p *Publisher) Submit(ctx context.Context, b *tailer.Batch) error {
	select {
	case p.queue <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is cancelled. It returns as soon as ctx is
// done; batches still in the queue are not published and their offsets are
// not advanced.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case b := <-p.queue:
			p.publish(ctx, b)
		case <-ctx.Done():
			return
		}
	}
}

// publish sends one batch, retrying forever on a retryable broker error,
// and advances the Position Store on acknowledgement. A non-retryable
// error is operator-visible failure: this worker stops rather than
// silently drop or duplicate beyond the documented at-least-once window.
func (p *Publisher) publish(ctx context.Context, b *tailer.Batch) {
	entry := p.log.WithFields(logrus.Fields{"path": b.Path, "topic": b.Topic, "lines": len(b.Lines)})
	for {
		err := p.broker.Publish(ctx, b.Topic, b.Lines)
		if err == nil {
			p.store.Advance(b.Path, b.NewOffset)
			return
		}
		if isRetryable(err) {
			entry.WithError(err).Warn("broker metadata unavailable, retrying")
			select {
			case <-time.After(retryBackoff):
				continue
			case <-ctx.Done():
				return
			}
		}
		entry.WithError(err).Fatal("non-retryable broker error, publisher crashing")
		return
	}
}

func isRetryable(err error) bool {
	if re, ok := err.(RetryableError); ok {
		return re.Retryable()
	}
	return false
}

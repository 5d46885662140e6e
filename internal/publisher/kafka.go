// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

package publisher

import (
	"context"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/SupersonicAds/tailf2kafka/internal/config"
)

// kafkaError wraps a sarama error with the RetryableError contract the
// Publisher's retry policy relies on.
type kafkaError struct {
	err       error
	retryable bool
}

func (e *kafkaError) Error() string    { return e.err.Error() }
func (e *kafkaError) Unwrap() error    { return e.err }
func (e *kafkaError) Retryable() bool  { return e.retryable }

// retryableKafkaErrors is the "metadata unavailable" class spec §4.6
// requires a retry policy for.
var retryableKafkaErrors = map[sarama.KError]bool{
	sarama.ErrLeaderNotAvailable:        true,
	sarama.ErrNotLeaderForPartition:     true,
	sarama.ErrReplicaNotAvailable:       true,
	sarama.ErrOffsetsLoadInProgress:     true,
	sarama.ErrConsumerCoordinatorNotAvailable: true,
	sarama.ErrNotEnoughReplicas:         true,
	sarama.ErrNotEnoughReplicasAfterAppend: true,
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var kerr sarama.KError
	retryable := false
	if ok := asKError(err, &kerr); ok {
		retryable = retryableKafkaErrors[kerr]
	}
	return &kafkaError{err: err, retryable: retryable}
}

func asKError(err error, target *sarama.KError) bool {
	if kerr, ok := err.(sarama.KError); ok {
		*target = kerr
		return true
	}
	return false
}

// syncBroker publishes via sarama.SyncProducer, for kafka.producer_type=sync.
type syncBroker struct {
	producer sarama.SyncProducer
	uuids    bool
	log      *logrus.Entry
}

// NewSyncBroker connects a sarama.SyncProducer to brokers.
func NewSyncBroker(brokers []string, log *logrus.Entry) (*syncBroker, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting sync producer to %s: %w", strings.Join(brokers, ","), err)
	}
	return &syncBroker{producer: producer, log: log}, nil
}

func (b *syncBroker) Publish(ctx context.Context, topic string, lines []string) error {
	correlationID := uuid.NewString()
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.StringEncoder(strings.Join(lines, "\n")),
		Headers: []sarama.RecordHeader{
			{Key: []byte("correlation-id"), Value: []byte(correlationID)},
		},
	}
	_, _, err := b.producer.SendMessage(msg)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (b *syncBroker) Close() error { return b.producer.Close() }

// asyncBroker publishes via sarama.AsyncProducer, for
// kafka.producer_type=async. Each Publish call blocks until that
// message's own success/error is observed on the shared channels, giving
// the Publisher the same per-path submission-order acknowledgement
// semantics as the sync path while still using the async API underneath.
type asyncBroker struct {
	producer sarama.AsyncProducer
	log      *logrus.Entry
}

// NewAsyncBroker connects a sarama.AsyncProducer to brokers.
func NewAsyncBroker(brokers []string, log *logrus.Entry) (*asyncBroker, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting async producer to %s: %w", strings.Join(brokers, ","), err)
	}
	b := &asyncBroker{producer: producer, log: log}
	return b, nil
}

func (b *asyncBroker) Publish(ctx context.Context, topic string, lines []string) error {
	correlationID := uuid.NewString()
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.StringEncoder(strings.Join(lines, "\n")),
		Headers: []sarama.RecordHeader{
			{Key: []byte("correlation-id"), Value: []byte(correlationID)},
		},
		Metadata: correlationID,
	}
	select {
	case b.producer.Input() <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}
	for {
		select {
		case success := <-b.producer.Successes():
			if success.Metadata == correlationID {
				return nil
			}
			// a different in-flight message acked first; this shouldn't
			// happen with one Publisher worker serializing calls, but
			// loop rather than misattribute the ack.
		case perr := <-b.producer.Errors():
			if perr.Msg.Metadata == correlationID {
				return classify(perr.Err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *asyncBroker) Close() error { return b.producer.Close() }

// NewBroker constructs the configured producer type.
func NewBroker(cfg config.KafkaConfig, log *logrus.Entry) (Broker, error) {
	if !cfg.Produce {
		return newDryRunBroker(log), nil
	}
	switch cfg.ProducerType {
	case "sync":
		return NewSyncBroker(cfg.Brokers, log)
	case "async":
		return NewAsyncBroker(cfg.Brokers, log)
	default:
		return nil, fmt.Errorf("unknown kafka.producer_type %q", cfg.ProducerType)
	}
}

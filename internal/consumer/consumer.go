// Package consumer processes inbound broker messages: each payload is
// deserialized against its registered schema, checked against the dedup
// store, and inserted into the document store. A bad message never stops the
// loop; what happens to it is governed by the configured failure policy.
package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/streamparse/docflow/pkg/config"
	"github.com/streamparse/docflow/pkg/kafka"
	"github.com/streamparse/docflow/pkg/metrics"
)

const dedupKeyPrefix = "docflow:processed:"

// Deserializer decodes a raw message payload into a schema-conforming record.
type Deserializer interface {
	Deserialize(ctx context.Context, value []byte) (map[string]any, error)
}

// Store persists one record and returns its store-assigned identifier.
type Store interface {
	InsertOne(ctx context.Context, record map[string]any) (string, error)
}

// DedupStore claims routing keys so redelivered messages are processed once.
type DedupStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// Ingestor holds the per-message processing pipeline and failure policy.
type Ingestor struct {
	deserializer Deserializer
	store        Store
	dedup        DedupStore
	deadLetter   *deadLetterer
	dedupTTL     time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// New creates an Ingestor. dedup, dlqProducer, and m may be nil; a nil
// dlqProducer with the deadLetter policy falls back to ack-and-drop.
func New(cfg config.ConsumerConfig, deserializer Deserializer, store Store, dedup DedupStore, dlqProducer Producer, m *metrics.Metrics) *Ingestor {
	logger := slog.Default().With("component", "ingest-consumer")
	var dl *deadLetterer
	if cfg.FailurePolicy == config.FailurePolicyDeadLetter && dlqProducer != nil {
		dl = &deadLetterer{producer: dlqProducer, logger: logger}
	}
	return &Ingestor{
		deserializer: deserializer,
		store:        store,
		dedup:        dedup,
		deadLetter:   dl,
		dedupTTL:     cfg.DedupTTL,
		metrics:      m,
		logger:       logger,
	}
}

// Handler returns the kafka.MessageHandler for this ingestor. It returns nil
// for every handled message, including failed ones that the policy has dealt
// with, so the offset is committed and the loop moves on. The only non-nil
// return is a failed dead-letter hand-off, which leaves the offset
// uncommitted for redelivery.
func (i *Ingestor) Handler() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		record, err := i.deserializer.Deserialize(ctx, value)
		if err != nil {
			return i.failed(ctx, key, value, "deserialize", err)
		}

		claimed, release := i.claim(ctx, string(key))
		if !claimed {
			if i.metrics != nil {
				i.metrics.DuplicatesSuppressed.Inc()
			}
			i.logger.Info("duplicate delivery suppressed", "key", string(key))
			return nil
		}

		start := time.Now()
		id, err := i.store.InsertOne(ctx, record)
		if err != nil {
			release()
			return i.failed(ctx, key, value, "insert", err)
		}
		if i.metrics != nil {
			i.metrics.InsertDuration.Observe(time.Since(start).Seconds())
			i.metrics.MessagesConsumed.Inc()
		}
		i.logger.Info("record inserted",
			"key", string(key),
			"inserted_id", id,
		)
		return nil
	}
}

// claim reserves the routing key in the dedup store. The returned release
// function frees the claim when the insert fails, so a redelivery can try
// again. Dedup is best effort: if the store errors the message is processed
// anyway.
func (i *Ingestor) claim(ctx context.Context, key string) (bool, func()) {
	if i.dedup == nil || key == "" {
		return true, func() {}
	}
	dedupKey := dedupKeyPrefix + key
	ok, err := i.dedup.SetNX(ctx, dedupKey, 1, i.dedupTTL)
	if err != nil {
		i.logger.Warn("dedup store unavailable, processing without idempotency check",
			"key", key,
			"error", err,
		)
		return true, func() {}
	}
	if !ok {
		return false, nil
	}
	return true, func() {
		if err := i.dedup.Del(ctx, dedupKey); err != nil {
			i.logger.Warn("failed to release dedup claim", "key", key, "error", err)
		}
	}
}

// failed applies the failure policy to a message that could not be
// processed.
func (i *Ingestor) failed(ctx context.Context, key, value []byte, stage string, cause error) error {
	if i.metrics != nil {
		i.metrics.ConsumeFailures.WithLabelValues(stage).Inc()
	}
	i.logger.Error("failed to process message",
		"key", string(key),
		"stage", stage,
		"error", cause,
	)
	if i.deadLetter == nil {
		// ack policy: drop the message and move on.
		return nil
	}
	if err := i.deadLetter.publish(ctx, key, value, stage, cause); err != nil {
		// Keep the offset uncommitted rather than lose the message.
		return err
	}
	if i.metrics != nil {
		i.metrics.DeadLetters.Inc()
	}
	return nil
}

// Producer is the broker producer surface used for dead letters.
type Producer interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

type deadLetterer struct {
	producer Producer
	logger   *slog.Logger
}

func (d *deadLetterer) publish(ctx context.Context, key, value []byte, stage string, cause error) error {
	msg := kafka.Message{
		Key:   string(key),
		Value: value,
		Headers: map[string]string{
			"x-docflow-failure-stage": stage,
			"x-docflow-failure-cause": cause.Error(),
		},
	}
	if err := d.producer.Publish(ctx, msg); err != nil {
		d.logger.Error("dead-letter publish failed", "key", string(key), "error", err)
		return err
	}
	d.logger.Info("message routed to dead-letter topic", "key", string(key), "stage", stage)
	return nil
}

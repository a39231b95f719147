// Package publisher turns parsed chunks into keyed broker messages and
// publishes them with per-message delivery confirmation. A failed chunk is
// recorded and the remaining chunks of the same document are still attempted.
package publisher

import (
	"context"
	"errors"
	"log/slog"

	"github.com/streamparse/docflow/internal/pipeline"
	"github.com/streamparse/docflow/pkg/kafka"
	"github.com/streamparse/docflow/pkg/metrics"
)

// Producer is the broker surface the publisher needs. Publish returns only
// after the broker has acknowledged the message.
type Producer interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

// Publisher publishes one message per chunk and tracks document status in
// the optional ledger.
type Publisher struct {
	producer Producer
	ledger   *Ledger
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Publisher. ledger and m may be nil.
func New(producer Producer, ledger *Ledger, m *metrics.Metrics) *Publisher {
	if ledger == nil {
		ledger = NewLedger(nil)
	}
	return &Publisher{
		producer: producer,
		ledger:   ledger,
		metrics:  m,
		logger:   slog.Default().With("component", "publisher"),
	}
}

// PublishDocument builds an OutboundMessage per chunk (routing key
// "{documentKey}_chunk_{index}") and publishes each one. It returns the
// number of acknowledged messages and the joined errors of any failed
// chunks; a partial result is not an all-or-nothing abort. When the function
// returns, every counted message has been durably handed to the broker.
func (p *Publisher) PublishDocument(ctx context.Context, documentKey string, chunks []pipeline.Chunk) (int, error) {
	published := 0
	var errs []error
	for _, chunk := range chunks {
		out := pipeline.OutboundMessage{
			RoutingKey: pipeline.RoutingKey(documentKey, chunk.Index),
			Value:      []byte(chunk.Text),
		}
		msg := kafka.Message{Key: out.RoutingKey, Value: out.Value}
		if err := p.producer.Publish(ctx, msg); err != nil {
			p.logger.Error("chunk publish failed",
				"key", msg.Key,
				"error", err,
			)
			if p.metrics != nil {
				p.metrics.PublishFailures.Inc()
			}
			errs = append(errs, err)
			continue
		}
		published++
		if p.metrics != nil {
			p.metrics.ChunksPublished.Inc()
		}
	}

	status := StatusPublished
	if len(errs) > 0 {
		status = StatusPartial
	}
	p.ledger.UpdateStatus(ctx, documentKey, status, published)

	p.logger.Info("document published",
		"key", documentKey,
		"chunks", len(chunks),
		"published", published,
		"failed", len(errs),
	)
	return published, errors.Join(errs...)
}

package kafka

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/streamparse/docflow/pkg/config"
	apperrors "github.com/streamparse/docflow/pkg/errors"
)

// Message is the keyed unit published to a topic. Headers are optional
// string pairs carried alongside the payload.
type Message struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

// Producer publishes keyed messages to a single Kafka topic. Writes are
// synchronous with RequireAll acks, so a nil return from Publish means the
// message has been durably handed off to the broker; there is no separate
// flush step.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer creates a Producer for the given topic.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		Transport:    newTransport(cfg),
	}
	return &Producer{
		writer: w,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Publish writes a single message and blocks until the broker acknowledges
// it. Failures are wrapped as transient so callers can apply retry policy.
func (p *Producer) Publish(ctx context.Context, msg Message) error {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		p.logger.Error("failed to publish message",
			"key", msg.Key,
			"error", err,
		)
		return apperrors.Newf(apperrors.ErrTransient, "publishing to kafka: %v", err)
	}
	p.logger.Debug("message published",
		"key", msg.Key,
		"value_size", len(msg.Value),
	)
	return nil
}

// Close closes the underlying Kafka writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// newTransport builds a kafka transport with SASL/PLAIN and TLS when the
// config asks for them (cloud brokers configured via a properties file).
func newTransport(cfg config.KafkaConfig) *kafka.Transport {
	mech, tlsCfg := authFromConfig(cfg)
	if mech == nil && tlsCfg == nil {
		return nil
	}
	return &kafka.Transport{
		SASL: mech,
		TLS:  tlsCfg,
	}
}

func authFromConfig(cfg config.KafkaConfig) (sasl.Mechanism, *tls.Config) {
	var mech sasl.Mechanism
	if cfg.SASLUsername != "" {
		mech = plain.Mechanism{
			Username: cfg.SASLUsername,
			Password: cfg.SASLPassword,
		}
	}
	var tlsCfg *tls.Config
	if cfg.SecurityProtocol == "SASL_SSL" || cfg.SecurityProtocol == "SSL" {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return mech, tlsCfg
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/prjktcode/poly-grid-ai/pkg/models"
)

// Publisher pushes committed events to an external stream
type Publisher interface {
	Publish(ctx context.Context, event *models.LedgerEvent) error
	Close() error
}

// NopPublisher discards events (tests, Kafka-less deployments)
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event *models.LedgerEvent) error { return nil }
func (NopPublisher) Close() error                                                 { return nil }

// KafkaConfig contains configuration for the event stream writer
type KafkaConfig struct {
	Brokers      []string      `json:"brokers"`
	Topic        string        `json:"topic"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BatchTimeout time.Duration `json:"batch_timeout"`
	RequiredAcks int           `json:"required_acks"`
}

// DefaultKafkaConfig returns defaults suitable for a single-broker dev setup
func DefaultKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "polygrid.ledger.events",
		WriteTimeout: 5 * time.Second,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: 1,
	}
}

// KafkaPublisher implements Publisher on a kafka-go Writer
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher creates a Kafka-backed event publisher
func NewKafkaPublisher(config *KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	if config == nil {
		config = DefaultKafkaConfig()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: config.WriteTimeout,
		BatchTimeout: config.BatchTimeout,
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		Compression:  kafka.Snappy,
	}
	return &KafkaPublisher{writer: writer, logger: logger}
}

// Publish writes one committed event. Messages with the same listing id land
// on the same partition so indexers see per-listing order.
func (p *KafkaPublisher) Publish(ctx context.Context, event *models.LedgerEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := event.Actor
	if event.ListingID != nil {
		key = strconv.FormatUint(*event.ListingID, 10)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID.String())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

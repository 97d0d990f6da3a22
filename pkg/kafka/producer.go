package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/zlovtnik/clm-ingest/pkg/models"
	"github.com/zlovtnik/clm-ingest/pkg/tracing"
)

// Producer emits pipeline events
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// ContractPromotedEvent is emitted once per contract promotion.
type ContractPromotedEvent struct {
	EventType      string                `json:"event_type"` // contract.promoted
	TenantID       string                `json:"tenant_id"`
	ContractID     int64                 `json:"contract_id"`
	ContractNumber string                `json:"contract_number"`
	Status         models.ContractStatus `json:"status"`
	SessionID      string                `json:"session_id"`
	Timestamp      time.Time             `json:"timestamp"`
}

// SessionCompletedEvent is emitted when a session reaches a terminal state.
type SessionCompletedEvent struct {
	EventType string               `json:"event_type"` // session.completed
	TenantID  string               `json:"tenant_id"`
	SessionID string               `json:"session_id"`
	Status    models.SessionStatus `json:"status"`
	Counts    models.SessionCounts `json:"counts"`
	Timestamp time.Time            `json:"timestamp"`
}

// PublishContractPromoted publishes a contract promotion event
func (p *Producer) PublishContractPromoted(ctx context.Context, event *ContractPromotedEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishContractPromoted")
	defer span.End()

	event.EventType = "contract.promoted"
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.ContractNumber),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "tenant_id", Value: []byte(event.TenantID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish contract promoted event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"contract_number": event.ContractNumber,
		"status":          event.Status,
	}).Debug("Published contract promoted event")

	return nil
}

// PublishSessionCompleted publishes a session terminal-state event
func (p *Producer) PublishSessionCompleted(ctx context.Context, event *SessionCompletedEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishSessionCompleted")
	defer span.End()

	event.EventType = "session.completed"
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.SessionID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "tenant_id", Value: []byte(event.TenantID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish session completed event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"session_id": event.SessionID,
		"status":     event.Status,
	}).Debug("Published session completed event")

	return nil
}

// Package events publishes document lifecycle events to Kafka.
//
// Publishing is best effort. A broker outage is logged and counted but
// never surfaces to the caller: the pipeline and validation services keep
// their state transitions independent of event delivery.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/claimsight/document-processing-service/internal/config"
	"github.com/claimsight/document-processing-service/internal/domain"
	"github.com/claimsight/document-processing-service/internal/observability"
)

// Publisher emits lifecycle events to the message broker.
type Publisher interface {
	// Publish sends a single lifecycle event. Delivery is best effort and
	// the returned error is informational only.
	Publish(ctx context.Context, event *domain.Event) error

	// Close flushes buffered messages and releases broker connections.
	Close() error
}

// messageWriter is the subset of kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// eventEnvelope is the wire format for published events.
type eventEnvelope struct {
	EventID       string                 `json:"event_id"`
	EventVersion  int                    `json:"event_version"`
	AggregateID   string                 `json:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type"`
	EventType     string                 `json:"event_type"`
	Payload       json.RawMessage        `json:"payload"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// KafkaPublisher publishes lifecycle events to a single Kafka topic,
// keyed by aggregate ID so events for one document stay ordered.
type KafkaPublisher struct {
	writer       messageWriter
	writeTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

// NewKafkaPublisher creates a publisher backed by a kafka.Writer.
func NewKafkaPublisher(cfg config.KafkaConfig, metrics *observability.Metrics, logger zerolog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaPublisher{
		writer:       writer,
		writeTimeout: cfg.WriteTimeout,
		metrics:      metrics,
		logger:       logger.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish serializes the event envelope and writes it to the topic. A nil
// event is ignored. Broker errors are logged and recorded in metrics; the
// error is returned for callers that want to log additional context, but
// should never fail the surrounding operation.
func (p *KafkaPublisher) Publish(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}

	value, err := json.Marshal(eventEnvelope{
		EventID:       event.EventID,
		EventVersion:  event.EventVersion,
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		EventType:     event.EventType,
		Payload:       event.Payload,
		Metadata:      event.Metadata,
		CreatedAt:     event.CreatedAt,
	})
	if err != nil {
		p.recordResult(event.EventType, "error")
		p.logger.Error().Err(err).
			Str("event_type", event.EventType).
			Str("aggregate_id", event.AggregateID).
			Msg("failed to serialize lifecycle event")
		return err
	}

	if p.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.writeTimeout)
		defer cancel()
	}

	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "event_type", Value: []byte(event.EventType)},
		},
		Time: event.CreatedAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.recordResult(event.EventType, "error")
		p.logger.Error().Err(err).
			Str("event_type", event.EventType).
			Str("aggregate_id", event.AggregateID).
			Msg("failed to publish lifecycle event")
		return err
	}

	p.recordResult(event.EventType, "success")
	p.logger.Debug().
		Str("event_type", event.EventType).
		Str("aggregate_id", event.AggregateID).
		Msg("published lifecycle event")
	return nil
}

// Close flushes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) recordResult(eventType, result string) {
	if p.metrics != nil {
		p.metrics.RecordEventPublished(eventType, result)
	}
}

// NopPublisher discards all events. Used when Kafka is disabled.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(context.Context, *domain.Event) error { return nil }

// Close is a no-op.
func (NopPublisher) Close() error { return nil }

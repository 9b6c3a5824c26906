package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/laoweather/backend/internal/domain"
)

// messageWriter is the subset of *kafkago.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// AlertPublisher produces newly created alerts to a Kafka topic.
type AlertPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

// NewAlertPublisher creates a producer for the alert topic.
func NewAlertPublisher(brokers []string, topic string, logger *zap.Logger) *AlertPublisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return &AlertPublisher{writer: w, logger: logger}
}

// alertEvent is the wire shape of a published alert.
type alertEvent struct {
	ID        string               `json:"id"`
	Type      string               `json:"type"`
	Title     string               `json:"title"`
	Message   string               `json:"message"`
	Priority  domain.Priority      `json:"priority"`
	CreatedAt time.Time            `json:"created_at"`
	Metadata  domain.AlertMetadata `json:"metadata"`
}

// PublishAlert writes one alert keyed by its type and title so that repeats of
// the same alert land on the same partition.
func (p *AlertPublisher) PublishAlert(ctx context.Context, alert domain.Alert) error {
	msg, err := serializeAlert(alert)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: failed to publish alert %s: %w", alert.ID, err)
	}
	p.logger.Debug("alert published", zap.String("id", alert.ID), zap.String("type", alert.Type))
	return nil
}

// Close flushes pending writes.
func (p *AlertPublisher) Close() error {
	return p.writer.Close()
}

func serializeAlert(alert domain.Alert) (kafkago.Message, error) {
	data, err := json.Marshal(alertEvent{
		ID:        alert.ID,
		Type:      alert.Type,
		Title:     alert.Title,
		Message:   alert.Message,
		Priority:  alert.Priority,
		CreatedAt: alert.CreatedAt,
		Metadata:  alert.Metadata,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("kafka: failed to serialize alert: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(alert.Type + "|" + alert.Title),
		Value: data,
		Time:  alert.CreatedAt,
		Headers: []kafkago.Header{
			{Key: "alert_type", Value: []byte(alert.Type)},
			{Key: "priority", Value: []byte(alert.Priority)},
		},
	}, nil
}

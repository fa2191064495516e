package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-coordinator/internal/observability"
	"github.com/example/ride-coordinator/internal/ride"
)

// MessageWriter is the subset of *kafka.Writer we use.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes every ride update to the ride topic, keyed by
// ride id so one ride's updates stay ordered within a partition.
type KafkaPublisher struct {
	writer  MessageWriter
	logger  *slog.Logger
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return NewKafkaPublisherWithWriter(w, logger)
}

func NewKafkaPublisherWithWriter(w MessageWriter, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{writer: w, logger: logger, timeout: 2 * time.Second}
}

// Publish writes one update.
func (k *KafkaPublisher) Publish(ctx context.Context, u ride.Update) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(u.RideID), Value: b, Time: u.At})
}

func (k *KafkaPublisher) OnRideUpdate(ctx context.Context, u ride.Update) {
	if err := k.Publish(context.WithoutCancel(ctx), u); err != nil {
		observability.ObserverErrors.WithLabelValues("kafka").Inc()
		k.logger.Error("publish ride update failed", "ride_id", u.RideID, "status", u.Status, "error", err)
	}
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

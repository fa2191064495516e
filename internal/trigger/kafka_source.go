package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-coordinator/internal/eta"
	"github.com/example/ride-coordinator/internal/geo"
	"github.com/example/ride-coordinator/internal/observability"
	"github.com/example/ride-coordinator/internal/ride"
)

// DriverEvent is what the driver app publishes on the driver topic.
type DriverEvent struct {
	RideID     string   `json:"ride_id"`
	Event      string   `json:"event"`
	EtaMinutes *int     `json:"eta_minutes,omitempty"`
	DriverLat  *float64 `json:"driver_lat,omitempty"`
	DriverLon  *float64 `json:"driver_lon,omitempty"`
}

// MessageReader is the subset of *kafka.Reader used by KafkaSource.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const kafkaSource = "kafka"

var errBadEvent = errors.New("bad driver event")

// KafkaSource applies driver events read from Kafka. Bad events are
// logged and committed so they never block the partition.
type KafkaSource struct {
	reader    MessageReader
	sink      Sink
	estimator *eta.Estimator
	logger    *slog.Logger

	maxBackoff time.Duration
}

func NewKafkaSource(brokers []string, topic, group string, sink Sink, est *eta.Estimator, logger *slog.Logger) *KafkaSource {
	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 1, MaxBytes: 10e6})
	return NewKafkaSourceWithReader(r, sink, est, logger)
}

func NewKafkaSourceWithReader(r MessageReader, sink Sink, est *eta.Estimator, logger *slog.Logger) *KafkaSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSource{reader: r, sink: sink, estimator: est, logger: logger, maxBackoff: 30 * time.Second}
}

// Run consumes until ctx is cancelled. Read errors back off exponentially.
func (k *KafkaSource) Run(ctx context.Context) error {
	backoff := min(time.Second, k.maxBackoff)
	for {
		m, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			k.logger.Warn("driver topic read failed", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > k.maxBackoff {
				backoff = k.maxBackoff
			}
			continue
		}
		backoff = min(time.Second, k.maxBackoff)

		if err := k.Handle(ctx, m.Value); err != nil {
			observability.TriggerEvents.WithLabelValues(kafkaSource, "rejected").Inc()
			k.logger.Warn("driver event rejected", "error", err, "offset", m.Offset, "partition", m.Partition)
		} else {
			observability.TriggerEvents.WithLabelValues(kafkaSource, "applied").Inc()
		}
		if err := k.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			k.logger.Error("commit failed", "error", err, "offset", m.Offset)
		}
	}
}

// Handle decodes and applies one driver event.
func (k *KafkaSource) Handle(ctx context.Context, payload []byte) error {
	var de DriverEvent
	if err := json.Unmarshal(payload, &de); err != nil {
		return fmt.Errorf("%w: %v", errBadEvent, err)
	}
	if de.RideID == "" {
		return fmt.Errorf("%w: missing ride_id", errBadEvent)
	}
	ev, err := ride.ParseEvent(de.Event)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadEvent, err)
	}
	tr := ride.Trigger{Event: ev, Source: kafkaSource}
	if ev == ride.EventDriverDeparts {
		tr.EtaMinutes = k.etaFor(ctx, de)
	}
	if _, err := k.sink.Apply(ctx, de.RideID, tr); err != nil {
		return fmt.Errorf("ride %s: %w", de.RideID, err)
	}
	return nil
}

func (k *KafkaSource) etaFor(ctx context.Context, de DriverEvent) int {
	if de.EtaMinutes != nil {
		return *de.EtaMinutes
	}
	if k.estimator == nil || de.DriverLat == nil || de.DriverLon == nil {
		return 0
	}
	r, ok := k.sink.Ride(de.RideID)
	if !ok || !r.Origin.Resolved() {
		return 0
	}
	from := geo.Coordinate{Lat: *de.DriverLat, Lon: *de.DriverLon}
	return k.estimator.Minutes(ctx, from, *r.Origin.Coordinate)
}

func (k *KafkaSource) Close() error {
	return k.reader.Close()
}

// Command consumer projects ride updates from Kafka into Redis hashes so
// read-heavy clients can poll ride status without touching the API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-coordinator/internal/config"
	"github.com/example/ride-coordinator/internal/logging"
	"github.com/example/ride-coordinator/internal/ride"
)

var (
	msgsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_coordinator",
		Subsystem: "projector",
		Name:      "messages_consumed_total",
		Help:      "Ride updates read from Kafka.",
	})
	msgsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_coordinator",
		Subsystem: "projector",
		Name:      "messages_invalid_total",
		Help:      "Ride updates that could not be decoded.",
	})
	redisUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_coordinator",
		Subsystem: "projector",
		Name:      "redis_updates_total",
		Help:      "Successful status projections.",
	})
	redisErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_coordinator",
		Subsystem: "projector",
		Name:      "redis_errors_total",
		Help:      "Status projections that failed after retries.",
	})
)

func main() {
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("ride-status-projector", cfg.LogLevel)

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	radapter := &redisAdapter{c: rc}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaRideTopic, GroupID: cfg.KafkaGroup, MinBytes: 1, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("projector consuming", "topic", cfg.KafkaRideTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down projector")
				return
			}
			logger.Warn("kafka read failed", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		var u ride.Update
		if err := json.Unmarshal(m.Value, &u); err != nil || u.RideID == "" {
			msgsInvalid.Inc()
			logger.Warn("invalid ride update", "offset", m.Offset, "error", err)
			continue
		}

		if err := updateRedisWithRetry(ctx, radapter, u, cfg.FinishedTTL, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			logger.Error("redis projection failed", "ride_id", u.RideID, "error", err)
			continue
		}
		redisUpdates.Inc()
	}
}

// RedisUpdater is the subset of redis the projector writes with.
type RedisUpdater interface {
	HSet(ctx context.Context, key string, values map[string]interface{}) error
	HDel(ctx context.Context, key string, fields ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return r.c.HSet(ctx, key, values).Err()
}

func (r *redisAdapter) HDel(ctx context.Context, key string, fields ...string) error {
	return r.c.HDel(ctx, key, fields...).Err()
}

func (r *redisAdapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.c.Expire(ctx, key, ttl).Err()
}

func statusKey(rideID string) string { return "ride:status:" + rideID }

// projection is the hash written for one update. A cancelled ride is
// reported as "cancelled" even though the lifecycle has no such status.
func projection(u ride.Update) map[string]interface{} {
	status := string(u.Status)
	if u.Cancelled {
		status = "cancelled"
	}
	event := string(u.Event)
	if event == "" && !u.Cancelled {
		event = "created"
	}
	fields := map[string]interface{}{
		"status":     status,
		"event":      event,
		"session_id": u.SessionID,
		"driver_id":  u.Ride.DriverID,
		"updated_at": u.At.UTC().Format(time.RFC3339Nano),
	}
	if u.Ride.EtaMinutes != nil {
		fields["eta_minutes"] = strconv.Itoa(*u.Ride.EtaMinutes)
	}
	return fields
}

func finished(u ride.Update) bool { return u.Cancelled || u.Status.Terminal() }

// updateRedisWithRetry writes the projection, retrying the whole sequence
// with doubling delay.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, u ride.Update, finishedTTL time.Duration, attempts int, delay time.Duration) error {
	key := statusKey(u.RideID)
	fields := projection(u)
	var last error
	for i := 0; i < attempts; i++ {
		last = projectOnce(ctx, rc, key, u, fields, finishedTTL)
		if last == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(last, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("after %d attempts: %w", attempts, last)
}

func projectOnce(ctx context.Context, rc RedisUpdater, key string, u ride.Update, fields map[string]interface{}, finishedTTL time.Duration) error {
	if err := rc.HSet(ctx, key, fields); err != nil {
		return err
	}
	if _, ok := fields["eta_minutes"]; !ok {
		if err := rc.HDel(ctx, key, "eta_minutes"); err != nil {
			return err
		}
	}
	if finished(u) && finishedTTL > 0 {
		return rc.Expire(ctx, key, finishedTTL)
	}
	return nil
}

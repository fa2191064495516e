package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are loaded from environment variables with defaults that let the
// binary run locally with no external services.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MetricsAddr     string
	CORSOrigins     []string
	SessionIdleTTL  time.Duration

	RedisAddr       string
	RedisPassword   string
	ResolveCacheTTL time.Duration

	KafkaBrokers     []string
	KafkaRideTopic   string
	KafkaDriverTopic string
	KafkaGroup       string

	PGDSN         string
	RunMigrations bool

	FareBase    decimal.Decimal
	FarePerKm   decimal.Decimal
	AvgSpeedKmh float64

	Simulate        bool
	SimDepartDelay  time.Duration
	SimArriveDelay  time.Duration
	SimStartDelay   time.Duration
	SimEndDelay     time.Duration
	SimEtaMinutes   int
	OSRMEndpoint    string
	ETACacheTTL     time.Duration
	GoogleMapsKey   string
	StripeAPIKey    string
	StripeCurrency  string
	FirebaseProject string
	FirebaseCreds   string
	WebhookURL      string

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		CORSOrigins:      []string{"*"},
		SessionIdleTTL:   2 * time.Hour,
		ResolveCacheTTL:  24 * time.Hour,
		KafkaRideTopic:   "ride-updates",
		KafkaDriverTopic: "driver-events",
		KafkaGroup:       "ride-coordinator",
		FareBase:         decimal.RequireFromString("2.50"),
		FarePerKm:        decimal.RequireFromString("1.25"),
		AvgSpeedKmh:      50,
		Simulate:         true,
		SimDepartDelay:   3 * time.Second,
		SimArriveDelay:   5 * time.Second,
		SimStartDelay:    3 * time.Second,
		SimEndDelay:      10 * time.Second,
		SimEtaMinutes:    5,
		ETACacheTTL:      5 * time.Minute,
		StripeCurrency:   "usd",
		LogLevel:         "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.SessionIdleTTL, "SESSION_IDLE_TTL", &errs)
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitAndTrim(v)
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDurationFromEnv(&cfg.ResolveCacheTTL, "RESOLVE_CACHE_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaRideTopic, "KAFKA_RIDE_TOPIC")
	setStringFromEnv(&cfg.KafkaDriverTopic, "KAFKA_DRIVER_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	setDecimalFromEnv(&cfg.FareBase, "FARE_BASE", &errs)
	setDecimalFromEnv(&cfg.FarePerKm, "FARE_PER_KM", &errs)
	setFloatFromEnv(&cfg.AvgSpeedKmh, "AVG_SPEED_KMH", &errs)

	setBoolFromEnv(&cfg.Simulate, "SIMULATE", &errs)
	setDurationFromEnv(&cfg.SimDepartDelay, "SIM_DEPART_DELAY", &errs)
	setDurationFromEnv(&cfg.SimArriveDelay, "SIM_ARRIVE_DELAY", &errs)
	setDurationFromEnv(&cfg.SimStartDelay, "SIM_START_DELAY", &errs)
	setDurationFromEnv(&cfg.SimEndDelay, "SIM_END_DELAY", &errs)
	setIntFromEnv(&cfg.SimEtaMinutes, "SIM_ETA_MINUTES", &errs)
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setDurationFromEnv(&cfg.ETACacheTTL, "ETA_CACHE_TTL", &errs)

	cfg.GoogleMapsKey = strings.TrimSpace(os.Getenv("GOOGLE_MAPS_API_KEY"))
	cfg.StripeAPIKey = strings.TrimSpace(os.Getenv("STRIPE_API_KEY"))
	setStringFromEnv(&cfg.StripeCurrency, "STRIPE_CURRENCY")
	setStringFromEnv(&cfg.FirebaseProject, "FIREBASE_PROJECT_ID")
	setStringFromEnv(&cfg.FirebaseCreds, "FIREBASE_CREDENTIALS")
	setStringFromEnv(&cfg.WebhookURL, "WEBHOOK_URL")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.FareBase.IsNegative() || cfg.FarePerKm.IsNegative() {
		errs = append(errs, fmt.Errorf("FARE_BASE and FARE_PER_KM must be >= 0"))
	}
	if cfg.AvgSpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("AVG_SPEED_KMH must be > 0"))
	}
	if cfg.SimEtaMinutes < 0 {
		errs = append(errs, fmt.Errorf("SIM_ETA_MINUTES must be >= 0"))
	}
	if cfg.RunMigrations && cfg.PGDSN == "" {
		errs = append(errs, fmt.Errorf("MIGRATE=true requires PG_DSN"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig configures the ride status projector.
type ConsumerConfig struct {
	MetricsAddr    string
	KafkaBrokers   []string
	KafkaRideTopic string
	KafkaGroup     string
	RedisAddr      string
	RedisPassword  string
	FinishedTTL    time.Duration
	LogLevel       string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:    ":2112",
		KafkaBrokers:   []string{"localhost:9092"},
		KafkaRideTopic: "ride-updates",
		KafkaGroup:     "ride-status-projector",
		RedisAddr:      "localhost:6379",
		FinishedTTL:    24 * time.Hour,
		LogLevel:       "info",
	}
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaRideTopic, "KAFKA_RIDE_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDurationFromEnv(&cfg.FinishedTTL, "FINISHED_TTL", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must not be empty"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setDecimalFromEnv(target *decimal.Decimal, key string, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

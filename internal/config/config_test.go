package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8080" || !cfg.Simulate || cfg.FareBase.String() != "2.5" || cfg.AvgSpeedKmh != 50 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SimDepartDelay != 3*time.Second || cfg.SimEndDelay != 10*time.Second {
		t.Fatalf("simulator delays: %+v", cfg)
	}
	if cfg.SessionIdleTTL != 2*time.Hour {
		t.Fatalf("session idle ttl = %v", cfg.SessionIdleTTL)
	}
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("FARE_PER_KM", "1.10")
	t.Setenv("SIMULATE", "false")
	t.Setenv("SIM_END_DELAY", "0s")
	t.Setenv("LOG_LEVEL", "DEBUG")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
	if cfg.FarePerKm.String() != "1.1" || cfg.Simulate || cfg.SimEndDelay != 0 || cfg.LogLevel != "debug" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadServerConfigJoinsErrors(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("FARE_BASE", "cheap")
	t.Setenv("AVG_SPEED_KMH", "0")
	t.Setenv("MIGRATE", "true")
	_, err := LoadServerConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"HTTP_READ_TIMEOUT", "FARE_BASE", "AVG_SPEED_KMH", "PG_DSN"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error does not mention %s: %v", key, err)
		}
	}
}

func TestLoadConsumerConfig(t *testing.T) {
	t.Setenv("FINISHED_TTL", "1h")
	cfg, err := LoadConsumerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FinishedTTL != time.Hour || cfg.KafkaRideTopic != "ride-updates" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

// Package config builds runtime configuration from environment variables so
// main stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the server needs at startup. Thresholds are
// injected here rather than hard-coded in the services that apply them.
type Config struct {
	Addr          string
	JWTSigningKey string

	// PostgresDSN is empty when running with in-memory stores (dev, tests).
	PostgresDSN string

	Redis RedisConfig
	Kafka KafkaConfig

	// ExtractorURL points at the external face-embedding service. Empty means
	// no extractor is wired and clock-ins cannot verify (useful only in tests).
	ExtractorURL string

	// SimilarityThreshold gates the boolean verification outcome. Probes with
	// similarity >= threshold verify; the raw score is always reported.
	SimilarityThreshold float64

	// LateThreshold is how far past session start a check-in may land before
	// the record is marked LATE.
	LateThreshold time.Duration

	// SnapshotDir is where probe images are kept for audit. Empty disables
	// snapshot persistence.
	SnapshotDir string
}

// RedisConfig controls the optional cross-instance fanout bridge.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig controls the optional durable ledger-event stream.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	cfg := Config{
		Addr:                envOr("BIOATTEND_ADDR", ":8080"),
		JWTSigningKey:       envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		PostgresDSN:         os.Getenv("POSTGRES_DSN"),
		ExtractorURL:        os.Getenv("FACE_EXTRACTOR_URL"),
		SimilarityThreshold: envFloat("SIMILARITY_THRESHOLD", 0.6),
		LateThreshold:       time.Duration(envInt("LATE_THRESHOLD_MINUTES", 10)) * time.Minute,
		SnapshotDir:         os.Getenv("SNAPSHOT_DIR"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic: envOr("KAFKA_ATTENDANCE_TOPIC", "attendance.events"),
		},
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ScorerStrategy selects which scoring model the engine runs.
type ScorerStrategy string

const (
	// ScorerWeighted is the older heuristic weighted-sum model, kept for
	// side-by-side comparison during the migration.
	ScorerWeighted ScorerStrategy = "weighted"
	// ScorerFellegiSunter is the probabilistic log-odds model and the
	// production default.
	ScorerFellegiSunter ScorerStrategy = "fellegi_sunter"
)

// Config captures process-level configuration so main stays lean.
type Config struct {
	Addr        string
	DatabaseURL string
	Redis       RedisConfig
	Kafka       KafkaConfig

	// JWTSigningKey protects the operator admin endpoints.
	JWTSigningKey string

	Scorer ScorerStrategy

	// AutoMatchThreshold and ReviewThreshold bound the decision bands:
	// score >= AutoMatchThreshold auto-binds, score >= ReviewThreshold lands
	// in the household/review band, anything lower creates a new entity.
	AutoMatchThreshold float64
	ReviewThreshold    float64

	// SnapshotRefresh bounds how stale operator config (blocklists, name
	// rules, scorer parameters) may get before a reload.
	SnapshotRefresh time.Duration

	BatchWorkers int
	BatchLimit   int
}

// RedisConfig configures the operator-config snapshot cache. An empty URL
// disables Redis and snapshots load straight from the store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the decision-event outbox publisher. Empty brokers
// disable publishing; decisions are still persisted locally.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Config from environment variables with development defaults.
func FromEnv() Config {
	cfg := Config{
		Addr:               envOr("ENGINE_ADDR", ":8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		JWTSigningKey:      envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		Scorer:             ScorerFellegiSunter,
		AutoMatchThreshold: envFloat("ENGINE_AUTO_MATCH_THRESHOLD", 0.95),
		ReviewThreshold:    envFloat("ENGINE_REVIEW_THRESHOLD", 0.50),
		SnapshotRefresh:    envDuration("ENGINE_SNAPSHOT_REFRESH", 5*time.Minute),
		BatchWorkers:       envInt("ENGINE_BATCH_WORKERS", 4),
		BatchLimit:         envInt("ENGINE_BATCH_LIMIT", 1000),
	}

	if s := os.Getenv("ENGINE_SCORER"); s != "" {
		cfg.Scorer = ScorerStrategy(s)
	}

	cfg.Redis = RedisConfig{
		URL:          os.Getenv("REDIS_URL"),
		PoolSize:     envInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka = KafkaConfig{
			Brokers: splitComma(brokers),
			Topic:   envOr("KAFKA_DECISIONS_TOPIC", "trapper.decisions"),
		}
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
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration so main stays lean. Engine
// policy thresholds live in their own YAML file (see internal/approval) and
// are referenced here by path only.
type Config struct {
	Addr             string
	PostgresDSN      string
	Redis            RedisConfig
	KafkaBrokers     []string
	EventTopic       string
	PolicyConfigPath string

	// Decision endpoint rate limit.
	RateLimitMax    int
	RateLimitWindow time.Duration

	// Idempotency key retention.
	IdempotencyTTL time.Duration

	// External store calls are bounded by this timeout.
	StoreTimeout time.Duration
}

// RedisConfig holds connection settings for the shared Redis used by the
// idempotency guard and rate limiter.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables with development
// defaults. Production deployments override everything.
func FromEnv() Config {
	cfg := Config{
		Addr:             envOr("VERDICT_ADDR", ":8080"),
		PostgresDSN:      os.Getenv("VERDICT_POSTGRES_DSN"),
		EventTopic:       envOr("VERDICT_EVENT_TOPIC", "verdict.events"),
		PolicyConfigPath: os.Getenv("VERDICT_POLICY_CONFIG"),
		RateLimitMax:     envIntOr("VERDICT_RATE_LIMIT_MAX", 60),
		RateLimitWindow:  time.Duration(envIntOr("VERDICT_RATE_LIMIT_WINDOW_SEC", 60)) * time.Second,
		IdempotencyTTL:   time.Duration(envIntOr("VERDICT_IDEMPOTENCY_TTL_SEC", 7200)) * time.Second,
		StoreTimeout:     time.Duration(envIntOr("VERDICT_STORE_TIMEOUT_SEC", 5)) * time.Second,
		Redis: RedisConfig{
			URL:          os.Getenv("VERDICT_REDIS_URL"),
			PoolSize:     envIntOr("VERDICT_REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("VERDICT_REDIS_MIN_IDLE", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}
	if brokers := os.Getenv("VERDICT_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
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

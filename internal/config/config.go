package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Port            int           `env:"PORT" env-default:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" env-default:"info"`
	Env             string        `env:"APP_ENV" env-default:"development"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
	DB              DBConfig
	Kafka           KafkaConfig
	Redis           RedisConfig
	Sweeper         SweeperConfig
	Outbox          OutboxConfig
	RateLimit       RateLimitConfig
	Breaker         BreakerConfig
}

// DBConfig holds the database configuration
type DBConfig struct {
	Host            string        `env:"DB_HOST" env-default:"localhost"`
	Port            int           `env:"DB_PORT" env-default:"5432"`
	User            string        `env:"DB_USER" env-default:"postgres"`
	Password        string        `env:"DB_PASSWORD" env-default:"postgres"`
	Name            string        `env:"DB_NAME" env-default:"orders"`
	SSLMode         string        `env:"DB_SSLMODE" env-default:"disable"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`
	ConnectAttempts int           `env:"DB_CONNECT_ATTEMPTS" env-default:"5"`
}

// KafkaConfig holds the lifecycle event publisher configuration
type KafkaConfig struct {
	Enabled     bool     `env:"KAFKA_ENABLED" env-default:"false"`
	Brokers     []string `env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	OrdersTopic string   `env:"KAFKA_ORDERS_TOPIC" env-default:"order-lifecycle"`
}

// RedisConfig holds the configuration of the sweep lock backend
type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" env-default:"false"`
	Addr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

// SweeperConfig controls the pending to processing sweep
type SweeperConfig struct {
	Enabled  bool          `env:"SWEEP_ENABLED" env-default:"true"`
	Interval time.Duration `env:"SWEEP_INTERVAL" env-default:"300s"`
	Timeout  time.Duration `env:"SWEEP_TIMEOUT" env-default:"60s"`
	LockKey  string        `env:"SWEEP_LOCK_KEY" env-default:"orders:sweep:lock"`
	LockTTL  time.Duration `env:"SWEEP_LOCK_TTL" env-default:"2m"`
}

// OutboxConfig controls the outbox processor
type OutboxConfig struct {
	PollingInterval time.Duration `env:"OUTBOX_POLLING_INTERVAL" env-default:"5s"`
	BatchSize       int           `env:"OUTBOX_BATCH_SIZE" env-default:"50"`
	MaxRetries      int           `env:"OUTBOX_MAX_RETRIES" env-default:"3"`
	ClaimLease      time.Duration `env:"OUTBOX_CLAIM_LEASE" env-default:"1m"`
}

// RateLimitConfig controls the per-client limiter
type RateLimitConfig struct {
	Enabled bool    `env:"RATE_LIMIT_ENABLED" env-default:"true"`
	RPS     float64 `env:"RATE_LIMIT_RPS" env-default:"20"`
	Burst   int     `env:"RATE_LIMIT_BURST" env-default:"40"`
	// Only enable behind a proxy that overwrites X-Forwarded-For
	TrustForwardedFor bool `env:"RATE_LIMIT_TRUST_FORWARDED_FOR" env-default:"false"`
}

// BreakerConfig controls the graceful degradation breaker
type BreakerConfig struct {
	FailureThreshold uint32        `env:"BREAKER_FAILURE_THRESHOLD" env-default:"10"`
	ResetTimeout     time.Duration `env:"BREAKER_RESET_TIMEOUT" env-default:"30s"`
	HalfOpenMaxCalls uint32        `env:"BREAKER_HALF_OPEN_MAX_CALLS" env-default:"5"`
}

// Load reads an optional .env file and then the process environment into a Config
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		return fmt.Errorf("invalid DB_PORT: %d", c.DB.Port)
	}

	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("invalid SWEEP_INTERVAL: %s", c.Sweeper.Interval)
	}

	if c.Outbox.PollingInterval <= 0 || c.Outbox.BatchSize <= 0 {
		return errors.New("outbox polling interval and batch size must be positive")
	}

	if c.Outbox.ClaimLease <= c.Outbox.PollingInterval {
		return fmt.Errorf("OUTBOX_CLAIM_LEASE (%s) must be longer than OUTBOX_POLLING_INTERVAL (%s)",
			c.Outbox.ClaimLease, c.Outbox.PollingInterval)
	}

	if c.Redis.Enabled && c.Sweeper.LockTTL <= c.Sweeper.Timeout {
		return fmt.Errorf("SWEEP_LOCK_TTL (%s) must be longer than SWEEP_TIMEOUT (%s)",
			c.Sweeper.LockTTL, c.Sweeper.Timeout)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}

	return nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod")
}

// GetDBConnString returns the database connection URL, usable by both lib/pq and migrate
func (c *Config) GetDBConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DB.User, c.DB.Password),
		Host:     net.JoinHostPort(c.DB.Host, strconv.Itoa(c.DB.Port)),
		Path:     "/" + c.DB.Name,
		RawQuery: url.Values{"sslmode": []string{c.DB.SSLMode}}.Encode(),
	}

	return u.String()
}

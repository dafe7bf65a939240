package config

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 300*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, "orders:sweep:lock", cfg.Sweeper.LockKey)
	assert.Equal(t, "order-lifecycle", cfg.Kafka.OrdersTopic)
	assert.False(t, cfg.Kafka.Enabled)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "production")
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("SWEEP_TIMEOUT", "20s")
	t.Setenv("SWEEP_LOCK_TTL", "45s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 30*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 2.5, cfg.RateLimit.RPS)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 45*time.Second, cfg.Sweeper.LockTTL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"PORT":              "70000",
		"SWEEP_INTERVAL":    "0s",
		"OUTBOX_BATCH_SIZE": "0",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidateLeases(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	cfg := valid()
	cfg.Redis.Enabled = true
	assert.NoError(t, cfg.Validate())

	cfg.Sweeper.Timeout = cfg.Sweeper.LockTTL
	assert.ErrorContains(t, cfg.Validate(), "SWEEP_LOCK_TTL")

	cfg.Redis.Enabled = false
	assert.NoError(t, cfg.Validate(), "the lock TTL only matters when Redis is enabled")

	cfg = valid()
	cfg.Outbox.ClaimLease = cfg.Outbox.PollingInterval
	assert.ErrorContains(t, cfg.Validate(), "OUTBOX_CLAIM_LEASE")
}

func TestGetDBConnString(t *testing.T) {
	cfg := &Config{DB: DBConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "orders",
		Password: "p@ss:word/1",
		Name:     "orders",
		SSLMode:  "require",
	}}

	dsn := cfg.GetDBConnString()

	u, err := url.Parse(dsn)
	require.NoError(t, err)

	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db.internal:5433", u.Host)
	assert.Equal(t, "/orders", u.Path)
	assert.Equal(t, "require", u.Query().Get("sslmode"))

	password, ok := u.User.Password()
	assert.True(t, ok)
	assert.Equal(t, "p@ss:word/1", password)
}

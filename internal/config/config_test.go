package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetEnv removes keys for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok {
			require.NoError(t, os.Unsetenv(k))
			t.Cleanup(func() { _ = os.Setenv(k, v) })
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	unsetEnv(t, "HTTP_ADDR", "STORE_DRIVER", "KAFKA_BROKERS", "ORDER_TIMEOUT", "IDEMPOTENCY_TTL", "PROJECTOR_WORKERS")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 5*time.Second, cfg.OrderTimeout)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 8, cfg.ProjectorWorkers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("ORDER_TIMEOUT", "750ms")
	t.Setenv("PROJECTOR_WORKERS", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 750*time.Millisecond, cfg.OrderTimeout)
	assert.Equal(t, 2, cfg.ProjectorWorkers)
}

func TestValidate(t *testing.T) {
	base := Config{StoreDriver: DriverMemory, OrderTimeout: time.Second, ReadTimeout: time.Second, ProjectorWorkers: 1}
	require.NoError(t, base.Validate())

	bad := base
	bad.StoreDriver = "mysql"
	assert.Error(t, bad.Validate())

	bad = base
	bad.StoreDriver = DriverPostgres
	assert.Error(t, bad.Validate())

	bad = base
	bad.OrderTimeout = 0
	assert.Error(t, bad.Validate())
}

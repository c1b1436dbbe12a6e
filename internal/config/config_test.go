package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, "redis", cfg.Queue)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Second, cfg.Monitor.HealthInterval)
	assert.Equal(t, 10, cfg.Monitor.ConcentrationMinTotal)
	assert.InDelta(t, 0.5, cfg.Monitor.ConcentrationThreshold, 1e-9)
	assert.Equal(t, 100, cfg.Dispatch.BulkBatchSize)
	assert.Equal(t, 30, cfg.Retention.Days)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REALTIME_STORE", "memory")
	t.Setenv("REALTIME_MONITOR_STALE_AFTER", "90s")
	t.Setenv("REALTIME_MONITOR_CONCENTRATION_MIN_TOTAL", "50")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("DB_HOST", "db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 90*time.Second, cfg.Monitor.StaleAfter)
	assert.Equal(t, 50, cfg.Monitor.ConcentrationMinTotal)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "db", cfg.Database.Host)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5433, Name: "n", User: "u", Password: "p", SSLMode: "require"}
	assert.Equal(t, "host=h port=5433 dbname=n user=u password=p sslmode=require", d.DSN())
}

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

	assert.Equal(t, ":8000", cfg.API.ListenAddress)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "route-events", cfg.Kafka.Topic)
	assert.Equal(t, "traffic-manager", cfg.Kafka.GroupPrefix)
	assert.Equal(t, 3, cfg.Kafka.ProducerRetries)
	assert.Equal(t, 10*time.Second, cfg.Kafka.RequestTimeout)
	assert.Equal(t, 60*time.Second, cfg.Cache.PositiveTTL)
	assert.Equal(t, 10*time.Second, cfg.Cache.NegativeTTL)
	assert.Equal(t, "route_events", cfg.MongoDB.AuditCollection)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TM_DATABASE_HOST", "db.internal")
	t.Setenv("TM_CACHE_POSITIVE_TTL", "90s")
	t.Setenv("TM_KAFKA_TOPIC", "route-events-staging")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 90*time.Second, cfg.Cache.PositiveTTL)
	assert.Equal(t, "route-events-staging", cfg.Kafka.Topic)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		Name:     "routes",
		User:     "svc",
		Password: "secret",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 dbname=routes user=svc password=secret sslmode=require",
		cfg.DSN())
}

func TestRedisConfig_Addr(t *testing.T) {
	cfg := RedisConfig{Host: "cache.internal", Port: 6380}
	assert.Equal(t, "cache.internal:6380", cfg.Addr())
}

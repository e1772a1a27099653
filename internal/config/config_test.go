package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Audit.QueueCapacity)
	assert.Equal(t, time.Second, cfg.Audit.FailureBackoff)
	assert.Equal(t, 5*time.Second, cfg.Audit.StorageTimeout)
	assert.Equal(t, []string{"/health", "/metrics"}, cfg.Audit.SkipPaths)
	assert.Contains(t, cfg.Audit.SensitiveKeys, "password")
	assert.Equal(t, 30*24*time.Hour, cfg.Database.Retention())
	assert.Equal(t, time.Hour, cfg.Database.CleanupInterval())
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("POLYAUDIT_AUDIT_QUEUE_CAPACITY", "64")
	t.Setenv("POLYAUDIT_AUDIT_APPLICATION_NAME", "catalog-api")
	t.Setenv("POLYAUDIT_AUDIT_FAILURE_BACKOFF", "250ms")
	t.Setenv("POLYAUDIT_REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, 64, cfg.Audit.QueueCapacity)
	assert.Equal(t, "catalog-api", cfg.Audit.ApplicationName)
	assert.Equal(t, 250*time.Millisecond, cfg.Audit.FailureBackoff)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

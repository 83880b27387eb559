package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.Equal(t, time.Minute, cfg.Cache.EvictInterval)
	assert.Equal(t, time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 3, cfg.Gateway.FlexMaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Gateway.FlexBaseDelay)
	assert.Equal(t, 100, cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, "America/Los_Angeles", cfg.Billing.Timezone)
	assert.Equal(t, "0.01", cfg.Billing.FlatFeePerAgent)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
cache:
  backend: redis
  ttl: 30m
billing:
  timezone: UTC
`), 0o600))

	t.Setenv("PORT", "7070")
	t.Setenv("GATEWAY_RATE_LIMIT_REQUESTS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port, "PORT env overrides the file")
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "UTC", cfg.Billing.Timezone)
	assert.Equal(t, 5, cfg.RateLimit.Requests)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"cache backend":  "GATEWAY_CACHE_BACKEND",
		"poll too slow":  "GATEWAY_SCHEDULER_POLL_INTERVAL",
		"no flex tries":  "GATEWAY_GATEWAY_FLEX_MAX_ATTEMPTS",
		"bad night hour": "GATEWAY_BILLING_NIGHT_START_HOUR",
	}
	values := map[string]string{
		"GATEWAY_CACHE_BACKEND":             "memcached",
		"GATEWAY_SCHEDULER_POLL_INTERVAL":   "5s",
		"GATEWAY_GATEWAY_FLEX_MAX_ATTEMPTS": "0",
		"GATEWAY_BILLING_NIGHT_START_HOUR":  "24",
	}
	for name, key := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(key, values[key])
			_, err := Load("")
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

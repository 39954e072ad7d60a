package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs Load from an empty directory with the variables it reads cleared.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{"APP_ENV", "APP_COOKIE_SECRET", "APP_CORS_ORIGINS", "APP_PROXY_HEADER", "APP_TRUSTED_PROXIES", "LOG_LEVEL", "PG_HOST", "TRACKING_LOOKUP_TIMEOUT"} {
		t.Setenv(key, "")
	}
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	d := Default()
	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, devCookieSecret, cfg.App.CookieSecret)
	assert.Equal(t, d.Postgres.MaxConnLifetime, cfg.Postgres.MaxConnLifetime)
	assert.Equal(t, d.Redis.ReadTimeout, cfg.Redis.ReadTimeout)
	assert.Equal(t, d.Tracking.CookieMaxAge, cfg.Tracking.CookieMaxAge)
	assert.Equal(t, d.Fraud.BlockThreshold, cfg.Fraud.BlockThreshold)
	assert.Equal(t, d.Commission.SettlementBatch, cfg.Commission.SettlementBatch)
	assert.Equal(t, d.Pipeline.SeriesRetention, cfg.Pipeline.SeriesRetention)
	assert.Empty(t, cfg.App.ProxyHeader, "client addresses come from the socket unless a proxy is configured")
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("PG_HOST", "db.internal")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TRACKING_LOOKUP_TIMEOUT", "350ms")
	t.Setenv("APP_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("APP_PROXY_HEADER", "X-Forwarded-For")
	t.Setenv("APP_TRUSTED_PROXIES", "10.0.0.0/8,192.168.1.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 350*time.Millisecond, cfg.Tracking.LookupTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.App.CORSOrigins)
	assert.Equal(t, "X-Forwarded-For", cfg.App.ProxyHeader)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.5"}, cfg.App.TrustedProxies)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := isolate(t)
	yaml := "fraud:\n  flag_threshold: 55\npipeline:\n  retry_interval: 1m\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 55, cfg.Fraud.FlagThreshold)
	assert.Equal(t, time.Minute, cfg.Pipeline.RetryInterval)
	assert.Equal(t, Default().Fraud.BlockThreshold, cfg.Fraud.BlockThreshold)
}

func TestLoad_ProductionRequiresCookieSecret(t *testing.T) {
	isolate(t)
	t.Setenv("APP_ENV", "production")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("APP_COOKIE_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.App.IsProduction())
	assert.Equal(t, "s3cret", cfg.App.CookieSecret)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/data/downloads", cfg.Storage.Root)
	assert.Equal(t, "spotdl", cfg.Tool.Binary)
	assert.Equal(t, 120*time.Second, cfg.Tool.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.Tool.PlaylistTimeout)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Janitor.Interval)
	assert.Equal(t, time.Hour, cfg.Janitor.MaxAge)
	assert.True(t, cfg.Janitor.Enabled)
	assert.Equal(t, "spotdl.jobs", cfg.Events.Kafka.Topic)
	assert.Empty(t, cfg.Events.Kafka.Brokers)
	assert.False(t, cfg.TLS.Enabled)
	assert.False(t, cfg.Server.TrustProxy)
	assert.NotContains(t, cfg.TLS.CertFile, "~")
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "spotdl.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  port: 9000
tool:
  timeout: 45s
cache:
  backend: redis
  redis:
    addr: redis:6379
`), 0644))

	t.Setenv("SPOTDL_STORAGE_ROOT", dir)
	t.Setenv("SPOTDL_EVENTS_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load(viper.New(), file)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Tool.Timeout)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "redis:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, dir, cfg.Storage.Root)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Kafka.Brokers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(viper.New(), "")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"zero timeout", func(c *Config) { c.Tool.Timeout = 0 }},
		{"negative ttl", func(c *Config) { c.Cache.TTL = -time.Second }},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"redis without addr", func(c *Config) { c.Cache.Backend = "redis"; c.Cache.Redis.Addr = "" }},
		{"empty root", func(c *Config) { c.Storage.Root = "" }},
		{"port clash", func(c *Config) { c.Metrics.Port = c.Server.Port }},
		{"bad rate", func(c *Config) { c.RateLimit.RPS = 0 }},
		{"tls without key", func(c *Config) { c.TLS.Enabled = true; c.TLS.KeyFile = "" }},
		{"mtls without ca", func(c *Config) { c.TLS.Enabled = true; c.TLS.RequireClientCert = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := Config{Auth: AuthConfig{APIKey: "secret"}}
	assert.Equal(t, "***", cfg.Redacted().Auth.APIKey)
	assert.Equal(t, "secret", cfg.Auth.APIKey)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Sessions.MaxConcurrent)
	assert.Equal(t, 3600, cfg.Sessions.MaxDurationSeconds)
	assert.Equal(t, 3*time.Second, cfg.Sessions.GracePeriod)
	assert.Equal(t, 10*time.Minute, cfg.Sessions.Retention)
	assert.Equal(t, IsolationProcess, cfg.Sessions.Isolation)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, "https://github.com/vladbarosan/sample-openapi-specs", cfg.Specs.DefaultRepoURL)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 3000
  environment: production
sessions:
  max_concurrent: 5
  grace_period: 500ms
  isolation: local
store:
  type: memory
telemetry:
  kafka:
    enabled: true
    brokers: ["kafka-1:9092", "kafka-2:9092"]
    topic: traces
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 5, cfg.Sessions.MaxConcurrent)
	assert.Equal(t, 500*time.Millisecond, cfg.Sessions.GracePeriod)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Telemetry.Kafka.Brokers)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("OAV_SESSIONS_MAX_CONCURRENT", "7")
	t.Setenv("PORT", "4000")
	t.Setenv("OAV_STORE_TYPE", "postgres")
	t.Setenv("DATABASE_DSN", "postgres://localhost/oav")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Sessions.MaxConcurrent)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/oav", cfg.Store.DSN)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"process isolation with memory store", func(c *Config) { c.Store.Type = "memory" }, "shared store"},
		{"local isolation with memory store", func(c *Config) {
			c.Store.Type = "memory"
			c.Sessions.Isolation = IsolationLocal
		}, ""},
		{"unknown isolation", func(c *Config) { c.Sessions.Isolation = "thread" }, "isolation"},
		{"unknown store", func(c *Config) { c.Store.Type = "mongo" }, "invalid store type"},
		{"postgres without dsn", func(c *Config) { c.Store.Type = "postgres" }, "store.dsn"},
		{"zero ceiling", func(c *Config) { c.Sessions.MaxConcurrent = 0 }, "max_concurrent"},
		{"zero grace", func(c *Config) { c.Sessions.GracePeriod = 0 }, "grace_period"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server port"},
		{"metrics port clash", func(c *Config) { c.Metrics.Port = c.Server.Port }, "metrics port"},
		{"kafka without brokers", func(c *Config) {
			c.Telemetry.Kafka.Enabled = true
			c.Telemetry.Kafka.Brokers = nil
		}, "brokers"},
		{"ratelimit without rps", func(c *Config) { c.RateLimit.RPS = 0 }, "ratelimit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

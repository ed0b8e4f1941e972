package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntauth/fracrank"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, "always", cfg.Storage.Fsync)
	assert.Equal(t, ":8080", cfg.Server.Addr)

	g, err := cfg.Rank.Generator()
	require.NoError(t, err)
	assert.Equal(t, "i", g.Initial())
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "fracrank.yaml", `
server:
  addr: ":9090"
  shutdown_timeout: 3s
storage:
  driver: sqlite
  path: /var/lib/fracrank/items.db
rank:
  alphabet: base62
  append_strategy: step
  step_size: 2
  max_length: 12
retry:
  max_attempts: 9
  initial_delay: 5ms
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	// unset keys keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, 9, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Millisecond, cfg.Retry.InitialDelay)

	g, err := cfg.Rank.Generator()
	require.NoError(t, err)
	assert.Equal(t, fracrank.Base62, g.Config().Alphabet)
	assert.Equal(t, fracrank.AppendStep, g.Config().AppendStrategy)
	assert.Equal(t, 2, g.Config().StepSize)
	assert.Equal(t, 12, g.Config().MaxRankLength)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "fracrank.yaml", "storage:\n  driver: sqlite\n  path: a.db\n")
	t.Setenv("FRACRANK_STORAGE_DRIVER", "postgres")
	t.Setenv("FRACRANK_STORAGE_DSN", "postgres://localhost/fracrank")
	t.Setenv("FRACRANK_RANK_MAX_LENGTH", "20")
	t.Setenv("FRACRANK_RANK_AUTO_REBALANCE", "false")
	t.Setenv("FRACRANK_AMQP_URL", "amqp://localhost:5672/")
	t.Setenv("FRACRANK_STORAGE_FSYNC", "interval")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/fracrank", cfg.Storage.DSN)
	assert.Equal(t, 20, cfg.Rank.MaxLength)
	assert.False(t, cfg.Rank.AutoRebalance)
	assert.Equal(t, "amqp://localhost:5672/", cfg.Events.AMQPURL)
	assert.Equal(t, "interval", cfg.Storage.Fsync)
}

func TestBadEnvNumber(t *testing.T) {
	t.Setenv("FRACRANK_RETRY_MAX_ATTEMPTS", "many")
	_, err := Load("")
	assert.ErrorContains(t, err, "FRACRANK_RETRY_MAX_ATTEMPTS")
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "FRACRANK_LOG_LEVEL=warn\nFRACRANK_ADDR=:7070\n")
	t.Setenv("FRACRANK_ADDR", ":6060")
	// restored on cleanup once the file has set it
	t.Setenv("FRACRANK_LOG_LEVEL", "")
	os.Unsetenv("FRACRANK_LOG_LEVEL")

	require.NoError(t, LoadDotEnv(path))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	// variables already set win over the file
	assert.Equal(t, ":6060", cfg.Server.Addr)

	assert.Error(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"sqlite without path", func(c *Config) { c.Storage.Driver = DriverSQLite }},
		{"pebble without path", func(c *Config) { c.Storage.Driver = DriverPebble }},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = DriverPostgres }},
		{"unknown fsync", func(c *Config) { c.Storage.Fsync = "sometimes" }},
		{"unknown alphabet", func(c *Config) { c.Rank.Alphabet = "base10" }},
		{"unknown strategy", func(c *Config) { c.Rank.AppendStrategy = "random" }},
		{"zero step", func(c *Config) { c.Rank.StepSize = 0 }},
		{"negative jitter", func(c *Config) { c.Rank.JitterRange = -1 }},
		{"no attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"unknown level", func(c *Config) { c.Log.Level = "loud" }},
		{"unknown format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"k":"v"`)
}

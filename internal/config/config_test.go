package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Equal(t, 2*time.Second, cfg.Bidding.LockTimeout)
	require.Equal(t, 5*time.Minute, cfg.Bidding.ExtendWindow)
	require.Equal(t, 100, cfg.Closer.BatchSize)
	require.Equal(t, "auction.closed", cfg.Kafka.Topic)
	require.False(t, cfg.Kafka.Enabled)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
closer:
  interval: 5s
  batch_size: 20
kafka:
  brokers: ["a:9092"]
logging:
  level: debug
`), 0o600))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("CLOSER_BATCH_SIZE", "50")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "b:9092, c:9092")
	t.Setenv("UNRELATED_SETTING", "ignored")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Server.Addr)
	require.Equal(t, 5*time.Second, cfg.Closer.Interval)
	require.Equal(t, 50, cfg.Closer.BatchSize, "env overrides file")
	require.Equal(t, []string{"b:9092", "c:9092"}, cfg.Kafka.Brokers)
	require.True(t, cfg.Kafka.Enabled)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }, false},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, false},
		{"postgres with dsn", func(c *Config) {
			c.Storage.Driver = "postgres"
			c.Postgres.DSN = "postgres://localhost/auction"
		}, true},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, false},
		{"redis without addr", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Addr = ""
		}, false},
		{"zero lock timeout", func(c *Config) { c.Bidding.LockTimeout = 0 }, false},
		{"negative extend window", func(c *Config) { c.Bidding.ExtendWindow = -time.Second }, false},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

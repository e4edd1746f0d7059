// Package config loads engine settings from defaults, an optional YAML file
// and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is not set
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/auction-engine/config.yaml",
}

const ConfigPathEnvVar = "CONFIG_PATH"

type Config struct {
	ServiceName string         `koanf:"service_name" validate:"required"`
	Server      ServerConfig   `koanf:"server"`
	Storage     StorageConfig  `koanf:"storage"`
	Postgres    PostgresConfig `koanf:"postgres"`
	Redis       RedisConfig    `koanf:"redis"`
	Kafka       KafkaConfig    `koanf:"kafka"`
	Bidding     BiddingConfig  `koanf:"bidding"`
	Closer      CloserConfig   `koanf:"closer"`
	Logging     LoggingConfig  `koanf:"logging"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type StorageConfig struct {
	Driver string `koanf:"driver" validate:"oneof=memory postgres"`
}

type PostgresConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns" validate:"gte=1"`
}

type RedisConfig struct {
	Enabled bool          `koanf:"enabled"`
	Addr    string        `koanf:"addr"`
	TTL     time.Duration `koanf:"ttl" validate:"gt=0"`
}

type KafkaConfig struct {
	Enabled          bool          `koanf:"enabled"`
	Brokers          []string      `koanf:"brokers"`
	Topic            string        `koanf:"topic" validate:"required"`
	BreakerFailures  uint32        `koanf:"breaker_failures" validate:"gte=1"`
	BreakerOpenAfter time.Duration `koanf:"breaker_open_timeout" validate:"gt=0"`
}

type BiddingConfig struct {
	LockTimeout  time.Duration `koanf:"lock_timeout" validate:"gt=0"`
	ExtendWindow time.Duration `koanf:"extend_window" validate:"gte=0"`
	SeedDemo     bool          `koanf:"seed_demo"`
}

type CloserConfig struct {
	Interval  time.Duration `koanf:"interval" validate:"gt=0"`
	BatchSize int           `koanf:"batch_size" validate:"gte=1,lte=10000"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

func defaultConfig() *Config {
	return &Config{
		ServiceName: "auction-engine",
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage:  StorageConfig{Driver: "memory"},
		Postgres: PostgresConfig{MaxConns: 10},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  24 * time.Hour,
		},
		Kafka: KafkaConfig{
			Topic:            "auction.closed",
			BreakerFailures:  5,
			BreakerOpenAfter: 30 * time.Second,
		},
		Bidding: BiddingConfig{
			LockTimeout:  2 * time.Second,
			ExtendWindow: 5 * time.Minute,
		},
		Closer: CloserConfig{
			Interval:  2 * time.Second,
			BatchSize: 100,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load layers defaults, the config file and the environment. Environment
// variables win.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field ranges and the settings each enabled backend needs
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	var errs []error
	if c.Storage.Driver == "postgres" && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn is required when storage.driver is postgres"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	return errors.Join(errs...)
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"kafka.brokers",
}

// processSliceFields splits comma-separated env values for slice fields.
// Values that came from YAML are already slices and are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(s, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"service_name": "service_name",

	"server_addr":             "server.addr",
	"server_shutdown_timeout": "server.shutdown_timeout",

	"storage_driver":     "storage.driver",
	"database_url":       "postgres.dsn",
	"postgres_dsn":       "postgres.dsn",
	"postgres_max_conns": "postgres.max_conns",

	"redis_enabled":   "redis.enabled",
	"redis_addr":      "redis.addr",
	"idempotency_ttl": "redis.ttl",

	"kafka_enabled":              "kafka.enabled",
	"kafka_brokers":              "kafka.brokers",
	"kafka_topic":                "kafka.topic",
	"kafka_breaker_failures":     "kafka.breaker_failures",
	"kafka_breaker_open_timeout": "kafka.breaker_open_timeout",

	"bidding_lock_timeout":  "bidding.lock_timeout",
	"auto_extend_window":    "bidding.extend_window",
	"bidding_extend_window": "bidding.extend_window",
	"seed_demo":             "bidding.seed_demo",

	"closer_interval":   "closer.interval",
	"closer_batch_size": "closer.batch_size",

	"log_level":  "logging.level",
	"log_format": "logging.format",
}

// envTransformFunc maps known variables to config paths. Anything unmapped
// returns "" and is skipped so unrelated environment does not leak in.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

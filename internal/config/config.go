// Package config loads fracrank settings: defaults, then an optional YAML
// file, then FRACRANK_* environment variables (which a .env file may supply).
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ntauth/fracrank"
)

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverPebble   = "pebble"
)

const envPrefix = "FRACRANK_"

// Config holds all configuration for the application
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Rank    RankConfig    `yaml:"rank"`
	Retry   RetryConfig   `yaml:"retry"`
	Events  EventsConfig  `yaml:"events"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RateLimit is the number of requests per second allowed per client;
	// 0 disables limiting.
	RateLimit int `yaml:"rate_limit"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	// DSN is the postgres connection string.
	DSN string `yaml:"dsn"`
	// Path is the sqlite file or the pebble directory.
	Path string `yaml:"path"`
	// Fsync is the pebble WAL sync policy: always, interval or never.
	Fsync string `yaml:"fsync"`
}

type RankConfig struct {
	Alphabet       string `yaml:"alphabet"`
	AppendStrategy string `yaml:"append_strategy"`
	StepSize       int    `yaml:"step_size"`
	MaxLength      int    `yaml:"max_length"`
	JitterRange    int    `yaml:"jitter_range"`
	AutoRebalance  bool   `yaml:"auto_rebalance"`
}

type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

type EventsConfig struct {
	// AMQPURL enables event publishing when set.
	AMQPURL string `yaml:"amqp_url"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       50,
		},
		Storage: StorageConfig{
			Driver: DriverMemory,
			Fsync:  "always",
		},
		Rank: RankConfig{
			Alphabet:       "base36",
			AppendStrategy: fracrank.AppendMidpoint.String(),
			StepSize:       1,
			MaxLength:      32,
			AutoRebalance:  true,
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. path may be empty; a named file must exist.
// Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads the given .env files into the environment without
// overriding variables that are already set. With no arguments it loads
// ./.env if present.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load dotenv: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Server.Addr = getEnv("ADDR", c.Server.Addr)
	c.Storage.Driver = getEnv("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.DSN = getEnv("STORAGE_DSN", c.Storage.DSN)
	c.Storage.Path = getEnv("STORAGE_PATH", c.Storage.Path)
	c.Storage.Fsync = getEnv("STORAGE_FSYNC", c.Storage.Fsync)
	c.Rank.Alphabet = getEnv("RANK_ALPHABET", c.Rank.Alphabet)
	c.Rank.AppendStrategy = getEnv("RANK_APPEND_STRATEGY", c.Rank.AppendStrategy)
	c.Events.AMQPURL = getEnv("AMQP_URL", c.Events.AMQPURL)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	var err error
	if c.Server.RateLimit, err = getEnvInt("RATE_LIMIT", c.Server.RateLimit); err != nil {
		return err
	}
	if c.Rank.StepSize, err = getEnvInt("RANK_STEP_SIZE", c.Rank.StepSize); err != nil {
		return err
	}
	if c.Rank.MaxLength, err = getEnvInt("RANK_MAX_LENGTH", c.Rank.MaxLength); err != nil {
		return err
	}
	if c.Rank.JitterRange, err = getEnvInt("RANK_JITTER_RANGE", c.Rank.JitterRange); err != nil {
		return err
	}
	if c.Rank.AutoRebalance, err = getEnvBool("RANK_AUTO_REBALANCE", c.Rank.AutoRebalance); err != nil {
		return err
	}
	if c.Retry.MaxAttempts, err = getEnvInt("RETRY_MAX_ATTEMPTS", c.Retry.MaxAttempts); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPebble:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s driver", c.Storage.Driver)
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Storage.Fsync {
	case "", "always", "interval", "never":
	default:
		return fmt.Errorf("unknown storage.fsync mode %q", c.Storage.Fsync)
	}

	if _, err := c.Rank.Generator(); err != nil {
		return err
	}
	if c.Rank.JitterRange < 0 {
		return fmt.Errorf("rank.jitter_range must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Generator builds the rank key generator these settings describe.
func (r RankConfig) Generator() (*fracrank.Generator, error) {
	alphabet, err := fracrank.ParseAlphabet(r.Alphabet)
	if err != nil {
		return nil, err
	}
	strategy, err := fracrank.ParseAppendStrategy(r.AppendStrategy)
	if err != nil {
		return nil, err
	}
	if r.StepSize < 1 {
		return nil, fmt.Errorf("rank.step_size must be at least 1")
	}
	if r.MaxLength < 0 {
		return nil, fmt.Errorf("rank.max_length must not be negative")
	}
	return fracrank.New(fracrank.DefaultConfig().
		WithAlphabet(alphabet).
		WithAppendStrategy(strategy).
		WithStepSize(r.StepSize).
		WithMaxRankLength(r.MaxLength))
}

// Logger returns a slog logger writing to w in the configured format.
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	return i, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	return b, nil
}

// Package config loads settingsctl configuration from a YAML file, an
// optional .env file and SETTINGS_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	settings "github.com/goliatone/go-settings"
	"github.com/goliatone/go-settings/pkg/logging"
	"github.com/goliatone/go-settings/pkg/provider"
	"github.com/goliatone/go-settings/pkg/remote"
)

// Environment variables beyond the store selection ones the manager reads.
const (
	EnvLogLevel       = "SETTINGS_LOG_LEVEL"
	EnvLogFormat      = "SETTINGS_LOG_FORMAT"
	EnvLogFile        = "SETTINGS_LOG_FILE"
	EnvAutoUpdate     = "SETTINGS_AUTO_UPDATE"
	EnvUpdateInterval = "SETTINGS_UPDATE_INTERVAL"
	EnvRemoteTimeout  = "SETTINGS_REMOTE_TIMEOUT"
)

// Config holds all settingsctl configuration.
type Config struct {
	Store   StoreConfig       `yaml:"store"`
	Remote  RemoteConfig      `yaml:"remote"`
	Updates UpdatesConfig     `yaml:"updates"`
	Routes  map[string]string `yaml:"routes"`
	Logging LoggingConfig     `yaml:"logging"`
}

// StoreConfig selects and tunes the provider.
type StoreConfig struct {
	File          string        `yaml:"file"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPrefix   string        `yaml:"redis_prefix"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	ReadyTimeout  time.Duration `yaml:"ready_timeout"`
	Watch         bool          `yaml:"watch"`
}

// RemoteConfig tunes remote profile fetches.
type RemoteConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	MaxBytes  int64         `yaml:"max_bytes"`
}

// UpdatesConfig controls the background remote profile sweep.
type UpdatesConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Delay    time.Duration `yaml:"delay"`
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Console    bool   `yaml:"console"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Store: StoreConfig{
			RedisPrefix:   provider.DefaultPrefix,
			FlushInterval: provider.DefaultFlushInterval,
			ReadyTimeout:  provider.DefaultReadyTimeout,
		},
		Remote: RemoteConfig{
			Timeout:   15 * time.Second,
			UserAgent: "settingsctl",
			MaxBytes:  remote.DefaultMaxBytes,
		},
		Updates: UpdatesConfig{
			Delay:    settings.DefaultUpdateDelay,
			Interval: settings.DefaultUpdateInterval,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load reads envFile (or a .env in the working directory when empty and
// present), then the YAML file at path when set, then the environment.
func Load(path, envFile string) (Config, error) {
	if err := LoadEnvFile(envFile); err != nil {
		return Config{}, err
	}
	return LoadWith(path, os.LookupEnv)
}

// LoadEnvFile loads variables from envFile without overriding ones already
// set. An explicit file must exist; the implicit .env is optional.
func LoadEnvFile(envFile string) error {
	if envFile == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("config: load %s: %w", envFile, err)
	}
	return nil
}

// LoadWith is Load without the .env step, reading variables through lookup.
func LoadWith(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}
	get := func(name string) (string, bool) {
		value, ok := lookup(name)
		value = strings.TrimSpace(value)
		return value, ok && value != ""
	}

	if v, ok := get(settings.EnvFile); ok {
		c.Store.File = v
	}
	if v, ok := get(settings.EnvRedisAddr); ok {
		c.Store.RedisAddr = v
	}
	if v, ok := get(settings.EnvRedisPrefix); ok {
		c.Store.RedisPrefix = v
	}
	if v, ok := get(EnvLogLevel); ok {
		c.Logging.Level = v
	}
	if v, ok := get(EnvLogFormat); ok {
		c.Logging.Format = v
	}
	if v, ok := get(EnvLogFile); ok {
		c.Logging.File = v
	}
	if v, ok := get(EnvAutoUpdate); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvAutoUpdate, err)
		}
		c.Updates.Enabled = enabled
	}
	if v, ok := get(EnvUpdateInterval); ok {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvUpdateInterval, err)
		}
		c.Updates.Interval = interval
	}
	if v, ok := get(EnvRemoteTimeout); ok {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvRemoteTimeout, err)
		}
		c.Remote.Timeout = timeout
	}
	return nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Store.RedisAddr != "" && c.Store.RedisPrefix == "" {
		errs = append(errs, errors.New("store.redis_prefix is required with store.redis_addr"))
	}
	if c.Store.FlushInterval <= 0 {
		errs = append(errs, errors.New("store.flush_interval must be positive"))
	}
	if c.Store.ReadyTimeout <= 0 {
		errs = append(errs, errors.New("store.ready_timeout must be positive"))
	}
	if c.Remote.Timeout <= 0 {
		errs = append(errs, errors.New("remote.timeout must be positive"))
	}
	if c.Remote.MaxBytes <= 0 {
		errs = append(errs, errors.New("remote.max_bytes must be positive"))
	}
	if c.Updates.Delay <= 0 || c.Updates.Interval <= 0 {
		errs = append(errs, errors.New("updates.delay and updates.interval must be positive"))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not text or json", c.Logging.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}

// LoggerConfig converts the logging section.
func (c Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Console:    c.Logging.Console,
	}
}

// ManagerOptions builds the settings.Manager options for c. The environment
// has already been folded into c, so the manager does not read it again.
func (c Config) ManagerOptions(logger settings.Logger) []settings.Option {
	fetcher := remote.NewFetcher(
		remote.WithHTTPClient(&http.Client{Timeout: c.Remote.Timeout}),
		remote.WithUserAgent(c.Remote.UserAgent),
		remote.WithMaxBytes(c.Remote.MaxBytes),
	)
	opts := []settings.Option{
		settings.WithEnvLookup(func(string) (string, bool) { return "", false }),
		settings.WithLogger(logger),
		settings.WithFetcher(fetcher),
		settings.WithAutoUpdates(c.Updates.Enabled),
		settings.WithUpdateSchedule(c.Updates.Delay, c.Updates.Interval),
		settings.WithProviderOptions(
			provider.WithPrefix(c.Store.RedisPrefix),
			provider.WithFlushInterval(c.Store.FlushInterval),
			provider.WithReadyTimeout(c.Store.ReadyTimeout),
			provider.WithWatch(c.Store.Watch),
		),
	}
	if c.Store.RedisAddr != "" {
		opts = append(opts, settings.WithRedis(c.Store.RedisAddr))
	}
	if c.Store.File != "" {
		opts = append(opts, settings.WithFile(c.Store.File))
	}
	return opts
}

// Package config provides configuration management for the application.
// Settings come from three layers, lowest precedence first: built-in
// defaults, an optional YAML file, and environment variables (a local .env
// file is loaded into the environment first). Never edit defaults to change
// a deployment; set the variable in .env instead.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is consulted when MARGINCALL_CONFIG is not set.
const DefaultConfigFile = "margincall.yaml"

// Config holds the application configuration.
type Config struct {
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
}

// CacheConfig selects and locates the cache backend.
type CacheConfig struct {
	// Backend is "sqlite" (local runs) or "noop".
	Backend string `yaml:"backend"`
	// Disabled turns caching off entirely (always fetch fresh data).
	Disabled bool `yaml:"disabled"`
	// Path is the SQLite database file; empty uses the built-in default
	// under the application's cache directory.
	Path string `yaml:"path"`
}

// LoggingConfig controls the slog setup.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// MetricsConfig controls Prometheus metric collection.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TimeoutsConfig bounds upstream calls and whole runs. Values are seconds;
// not too sensitive, since LLM calls can be slow for large context.
type TimeoutsConfig struct {
	// RequestSeconds bounds a single upstream fetch.
	RequestSeconds int `yaml:"request_seconds"`
	// RunnerSeconds bounds a full pipeline run; 0 means no limit.
	RunnerSeconds int `yaml:"runner_seconds"`
}

// Request returns the per-fetch timeout as a duration.
func (t TimeoutsConfig) Request() time.Duration {
	return time.Duration(t.RequestSeconds) * time.Second
}

// Runner returns the full-run timeout as a duration; zero means no limit.
func (t TimeoutsConfig) Runner() time.Duration {
	return time.Duration(t.RunnerSeconds) * time.Second
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Backend: "sqlite",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Timeouts: TimeoutsConfig{
			RequestSeconds: 120,
			RunnerSeconds:  300,
		},
	}
}

// Load reads configuration from the optional YAML file and the
// environment. A missing .env or YAML file is not an error.
func Load() (*Config, error) {
	// Load .env into the process environment (optional).
	_ = godotenv.Load()

	cfg := Default()

	path := os.Getenv("MARGINCALL_CONFIG")
	if path == "" {
		path = DefaultConfigFile
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg. Variable names match
// the original deployment scripts, so existing .env files keep working.
func applyEnv(cfg *Config) {
	setString(&cfg.Cache.Backend, "CACHE_BACKEND")
	setBool(&cfg.Cache.Disabled, "CACHE_DISABLED")
	setString(&cfg.Cache.Path, "CACHE_DB_PATH")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setBool(&cfg.Metrics.Enabled, "METRICS_ENABLED")
	setInt(&cfg.Timeouts.RequestSeconds, "REQUEST_TIMEOUT_SECONDS")
	setInt(&cfg.Timeouts.RunnerSeconds, "RUNNER_TIMEOUT_SECONDS")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

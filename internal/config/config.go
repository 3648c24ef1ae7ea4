// Package config loads and validates the daemon configuration from an
// optional YAML file overlaid by DSLITE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the daemon settings.
type Config struct {
	// Listen is the HTTP listen address of the development server.
	Listen string `yaml:"listen"`

	// DBPath is the SQLite database path; empty or ":memory:" selects an
	// in-memory database that vanishes on exit.
	DBPath string `yaml:"db_path"`

	// LogLevel is a zerolog level name ("debug", "info", ...).
	LogLevel string `yaml:"log_level"`

	// RateLimit caps requests per client IP per minute; 0 disables it.
	RateLimit int `yaml:"rate_limit"`

	// RedisAddr enables the entity cache when set (host:port).
	RedisAddr string `yaml:"redis_addr"`

	// CacheTTL bounds cached entity lifetime; 0 selects the default.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Default returns the configuration used when nothing else is provided.
func Default() Config {
	return Config{
		Listen:   ":8981",
		DBPath:   ":memory:",
		LogLevel: "info",
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DSLITE_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("DSLITE_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("DSLITE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("DSLITE_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: DSLITE_RATE_LIMIT: %w", err)
		}
		c.RateLimit = n
	}
	if v := os.Getenv("DSLITE_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("DSLITE_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: DSLITE_CACHE_TTL: %w", err)
		}
		c.CacheTTL = d
	}
	return nil
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("config: rate_limit must not be negative, got %d", c.RateLimit)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("config: cache_ttl must not be negative, got %s", c.CacheTTL)
	}
	switch c.LogLevel {
	case "", "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	return nil
}

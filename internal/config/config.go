// Package config loads the wallet layer configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Auth     AuthConfig     `yaml:"auth"`
	Registry RegistryConfig `yaml:"registry"`
	// Owners maps account addresses to their owner-authority address for
	// the static ownership oracle used outside substrate deployments.
	Owners map[string]string `yaml:"owners"`
}

// RegistryConfig seeds the module registry allowlist.
type RegistryConfig struct {
	Modules []string `yaml:"modules"`
}

// ServerConfig configures the HTTP API surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
}

// DatabaseConfig configures the Postgres store. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// CatalogConfig configures the catalog owner identity.
type CatalogConfig struct {
	// Owner is the only address allowed to append feature sets and
	// register storage modules.
	Owner string `yaml:"owner"`
}

// AuthConfig configures API authentication.
type AuthConfig struct {
	// JWTSecret signs and verifies API tokens (HMAC).
	JWTSecret string `yaml:"jwt_secret"`
	// SkipPaths lists request paths served without authentication.
	SkipPaths []string `yaml:"skip_paths"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitPerSec: 50,
			RateLimitBurst:  100,
		},
		Auth: AuthConfig{
			SkipPaths: []string{"/healthz", "/metrics"},
		},
	}
}

// LoadFromPath reads and validates a YAML configuration file, filling
// unset fields from Default.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads the config at path, or returns defaults when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return LoadFromPath(path)
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.RateLimitPerSec < 0 {
		return fmt.Errorf("server.rate_limit_per_sec must not be negative")
	}
	return nil
}

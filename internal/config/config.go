// Package config loads server configuration from defaults, an optional
// YAML file, and the environment, in that order of precedence (later
// layers win).
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names. A .env file in the working directory is
// loaded first (if present) so local development can keep them in one
// place.
const (
	EnvAddr       = "PULSE_ADDR"
	EnvDatabase   = "PULSE_DB"
	EnvAPIKeyHash = "PULSE_API_KEY_HASH"
)

// Config holds everything the serve command needs.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string `yaml:"addr"`

	// DatabasePath is the SQLite database file path.
	DatabasePath string `yaml:"database_path"`

	// APIKeyHash is a bcrypt hash of the API bearer key. Empty disables
	// API authentication (local development).
	APIKeyHash string `yaml:"api_key_hash"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Addr:         ":8080",
		DatabasePath: "pulse.db",
	}
}

// Load builds the effective configuration: defaults, then the YAML file
// at path (skipped when path is empty; missing file is an error because
// the caller asked for it), then environment variables.
func Load(path string) (Config, error) {
	// Best-effort .env load; absence is normal outside development.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if v := os.Getenv(EnvAddr); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv(EnvDatabase); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv(EnvAPIKeyHash); v != "" {
		cfg.APIKeyHash = v
	}

	return cfg, nil
}

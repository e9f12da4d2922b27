// Package config loads the JSON configuration for the ltfsindexd daemon.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Catalog CatalogConfig `json:"catalog"`
	Auth    AuthConfig    `json:"auth"`
	Volume  VolumeConfig  `json:"volume"`
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig holds the introspection HTTP API configuration.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// CatalogConfig holds the volume catalog database configuration.
type CatalogConfig struct {
	Path string `json:"path"`
}

// AuthConfig holds authentication configuration for the introspection API.
type AuthConfig struct {
	JWTSecret       string `json:"jwt_secret"`
	TokenExpiration int    `json:"token_expiration"` // hours
}

// VolumeConfig holds the defaults applied when formatting or mounting a
// volume without an explicit override.
type VolumeConfig struct {
	// BlockSize is the nominal tape record size in bytes.
	BlockSize int `json:"block_size"`
	// Criteria is an index-partition criteria rule string, e.g.
	// "size=1M/name=*.xml:*.json". Empty disables index-partition writes.
	Criteria string `json:"criteria"`
	// ScrubInterval is a cron expression controlling how often ltfsindexd
	// re-validates mounted volumes (see internal/maintenance).
	ScrubInterval string `json:"scrub_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"` // "json" or "text"
	OutputPath string `json:"output_path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8088,
		},
		Catalog: CatalogConfig{
			Path: "/var/lib/ltfsindexd/catalog.db",
		},
		Auth: AuthConfig{
			JWTSecret:       "", // must be set in config file
			TokenExpiration: 24,
		},
		Volume: VolumeConfig{
			BlockSize:     524288,
			Criteria:      "",
			ScrubInterval: "0 0 * * *",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "/var/log/ltfsindexd/ltfsindexd.log",
		},
	}
}

// Load loads configuration from a JSON file. A missing file is not an
// error: the defaults are returned instead.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

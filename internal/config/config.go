package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level configuration for Geldstroom.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Search   SearchConfig   `koanf:"search"`
	Datasets DatasetsConfig `koanf:"datasets"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port int    `koanf:"port"`
	Host string `koanf:"host"`
	Mode string `koanf:"mode"` // "debug" or "release"
}

// DatabaseConfig holds the database connection settings.
type DatabaseConfig struct {
	DSN            string `koanf:"dsn"`
	MaxOpenConns   int    `koanf:"max_open_conns"`
	MaxIdleConns   int    `koanf:"max_idle_conns"`
	AutoMigrate    bool   `koanf:"auto_migrate"`
	QueryTimeoutMS int    `koanf:"query_timeout_ms"`
}

// QueryTimeout returns the per-statement timeout.
func (c DatabaseConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMS) * time.Millisecond
}

// SearchConfig holds the text-search index connection settings. An empty
// host or API key leaves the index unconfigured; the service then serves
// every query from the relational store alone.
type SearchConfig struct {
	Protocol  string `koanf:"protocol"`
	Host      string `koanf:"host"`
	Port      int    `koanf:"port"`
	APIKey    string `koanf:"api_key"`
	TimeoutMS int    `koanf:"timeout_ms"`
}

// Timeout returns the per-call index timeout.
func (c SearchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// DatasetsConfig holds the dataset descriptor settings.
type DatasetsConfig struct {
	// ConfigDir optionally points at a directory of YAML descriptor
	// files overlaying the built-in datasets.
	ConfigDir string `koanf:"config_dir"`
}

// Load loads the configuration from the given file path and environment variables.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	defaults := map[string]interface{}{
		"server.port":               8080,
		"server.host":               "0.0.0.0",
		"server.mode":               "release",
		"database.dsn":              "postgres://localhost:5432/geldstroom?sslmode=disable",
		"database.max_open_conns":   25,
		"database.max_idle_conns":   25,
		"database.auto_migrate":     true,
		"database.query_timeout_ms": 10000,
		"search.protocol":           "http",
		"search.host":               "",
		"search.port":               8108,
		"search.api_key":            "",
		"search.timeout_ms":         2000,
		"datasets.config_dir":       "",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// 2. Load from file
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// 3. Load from Environment Variables
	// GELDSTROOM_SERVER__PORT=9090 overrides server.port
	if err := k.Load(env.Provider("GELDSTROOM_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "GELDSTROOM_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.QueryTimeoutMS <= 0 {
		return fmt.Errorf("database.query_timeout_ms must be positive")
	}
	if c.Search.TimeoutMS <= 0 {
		return fmt.Errorf("search.timeout_ms must be positive")
	}
	return nil
}

// Package config loads the ambient process configuration (server bind address, database DSN,
// logging) shared by the indexer and query-API entrypoints. Per-chain indexing configuration
// lives in services/indexer.ChainsConfig, not here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the read query API's HTTP listener.
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// DatabaseConfig controls persistence.
type DatabaseConfig struct {
	DSN             string `json:"dsn" yaml:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// MetricsConfig controls whether the metrics registry is exposed by the external HTTP mux.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// CacheConfig controls the event dedup cache's capacity.
type CacheConfig struct {
	MaxEvents int `json:"max_events" yaml:"max_events"`
}

// Config is the top-level ambient configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`

	// ChainsFile names the YAML file read by services/indexer.LoadChainsConfig.
	ChainsFile string `json:"chains_file" yaml:"chains_file"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Cache: CacheConfig{
			MaxEvents: 10000,
		},
		ChainsFile: "configs/chains.yaml",
	}
}

// Load loads configuration from an optional YAML file and then applies environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database DSN is required (set DATABASE_URL or database.dsn in config)")
	}

	return cfg, nil
}

// LoadFile reads configuration from a YAML file without consulting the environment.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides layers environment variables over file-loaded configuration, matching the
// teacher's DATABASE_URL-overrides-file-DSN convention.
func applyEnvOverrides(cfg *Config) {
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if host := strings.TrimSpace(os.Getenv("SERVER_HOST")); host != "" {
		cfg.Server.Host = host
	}
	if port := strings.TrimSpace(os.Getenv("SERVER_PORT")); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		cfg.Logging.Level = level
	}
	if format := strings.TrimSpace(os.Getenv("LOG_FORMAT")); format != "" {
		cfg.Logging.Format = format
	}
	if chainsFile := strings.TrimSpace(os.Getenv("CHAINS_FILE")); chainsFile != "" {
		cfg.ChainsFile = chainsFile
	}
	if raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED"))); raw != "" {
		switch raw {
		case "1", "true", "yes", "on":
			cfg.Metrics.Enabled = true
		default:
			cfg.Metrics.Enabled = false
		}
	}
	if raw := strings.TrimSpace(os.Getenv("MAX_EVENTS_IN_MEMORY")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.Cache.MaxEvents = n
		}
	}
}

// Addr returns the host:port the HTTP server should bind to.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

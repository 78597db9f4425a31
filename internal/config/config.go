package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Portainer PortainerConfig
	Poller    PollerConfig
}

// ServerConfig holds HTTP server and storage configuration.
type ServerConfig struct {
	Port     string `env:"STACKDECK_PORT" envDefault:"8080"`
	DataDir  string `env:"STACKDECK_DATA_DIR" envDefault:"./data"`
	DBPath   string `env:"STACKDECK_DB_PATH"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// PortainerConfig holds the Portainer API connection settings.
// The Cloudflare Access credential pair is optional; the two headers are
// attached only when both values are set.
type PortainerConfig struct {
	URL                  string `env:"PORTAINER_URL" envDefault:"http://localhost:9000"`
	APIKey               string `env:"PORTAINER_API_KEY"`
	VerifySSL            bool   `env:"VERIFY_SSL" envDefault:"true"`
	CFAccessClientID     string `env:"CF_ACCESS_CLIENT_ID"`
	CFAccessClientSecret string `env:"CF_ACCESS_CLIENT_SECRET"`
}

// PollerConfig holds background refresh behavior.
type PollerConfig struct {
	RefreshIntervalSeconds int `env:"REFRESH_INTERVAL" envDefault:"30"`
}

// RefreshInterval returns the poll interval as a duration.
func (c *PollerConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Portainer); err != nil {
		return nil, fmt.Errorf("parsing portainer config: %w", err)
	}
	if err := env.Parse(&cfg.Poller); err != nil {
		return nil, fmt.Errorf("parsing poller config: %w", err)
	}

	cfg.Portainer.URL = strings.TrimRight(cfg.Portainer.URL, "/")
	if cfg.Server.DBPath == "" {
		cfg.Server.DBPath = filepath.Join(cfg.Server.DataDir, "stackdeck.db")
	}
	if cfg.Poller.RefreshIntervalSeconds <= 0 {
		cfg.Poller.RefreshIntervalSeconds = 30
	}

	if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", cfg.Server.DataDir, err)
	}

	return cfg, nil
}

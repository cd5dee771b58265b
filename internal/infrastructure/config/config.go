package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix namespaces every environment variable read by Load.
const Prefix = "APPYARD"

// Config holds all orchestrator process configuration.
type Config struct {
	Server    ServerConfig
	Data      DataConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Process   ProcessConfig
	Fetch     FetchConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8090"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`

	// ExtraOrigins lists non-loopback origins allowed by CORS, for UIs
	// served from a custom scheme.
	ExtraOrigins []string `envconfig:"EXTRA_ORIGINS"`
}

// DataConfig holds filesystem layout configuration.
type DataConfig struct {
	Dir      string `envconfig:"DATA_DIR" default:"data"`
	Manifest string `envconfig:"MANIFEST" default:"appyard.yml"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
	ToFile      bool   `envconfig:"LOG_FILE" default:"true"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// ProcessConfig holds child-process supervision tunables.
type ProcessConfig struct {
	StopGrace     time.Duration `envconfig:"STOP_GRACE" default:"5s"`
	LivenessEvery time.Duration `envconfig:"LIVENESS_INTERVAL" default:"2s"`
}

// FetchConfig holds download client tunables.
type FetchConfig struct {
	RetryMax       int           `envconfig:"FETCH_RETRY_MAX" default:"3"`
	Timeout        time.Duration `envconfig:"FETCH_TIMEOUT" default:"10m"`
	BytesPerSecond int           `envconfig:"FETCH_RATE_BYTES" default:"0"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8090",
			Host: "127.0.0.1",
		},
		Data: DataConfig{
			Dir:      "data",
			Manifest: "appyard.yml",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
			ToFile:      true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Process: ProcessConfig{
			StopGrace:     5 * time.Second,
			LivenessEvery: 2 * time.Second,
		},
		Fetch: FetchConfig{
			RetryMax: 3,
			Timeout:  10 * time.Minute,
		},
	}
}

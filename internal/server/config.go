// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay service.
package server

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `envconfig:"BURST" default:"5"`
	RefillInterval time.Duration `envconfig:"REFILL_INTERVAL" default:"1s"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string          `envconfig:"SERVER_PORT" default:":8080"`
	AllowedOrigins  []string        `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	MaxMessageSize  int64           `envconfig:"MAX_MESSAGE_SIZE" default:"4096"`
	SendBufferSize  int             `envconfig:"SEND_BUFFER_SIZE" default:"256"`
	MaxNameLength   int             `envconfig:"MAX_NAME_LENGTH" default:"32"`
	MaxTextLength   int             `envconfig:"MAX_TEXT_LENGTH" default:"1000"`
	ShutdownTimeout time.Duration   `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	LogLevel        string          `envconfig:"LOG_LEVEL" default:"INFO"`
	RateLimit       RateLimitConfig `envconfig:"RATE_LIMIT"`
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:  4096,
		SendBufferSize:  256,
		MaxNameLength:   32,
		MaxTextLength:   1000,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "INFO",
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
	}
}

// sanitizeConfig replaces unusable values with their defaults.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = def.MaxNameLength
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = def.MaxTextLength
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig reads an optional .env file, then the process environment.
// Unset variables fall back to defaults; malformed ones are an error.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()
	return NewConfigFromEnv()
}

// NewConfigFromEnv creates a Config instance from environment variables only.
func NewConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	cfg = sanitizeConfig(cfg)
	return &cfg, nil
}

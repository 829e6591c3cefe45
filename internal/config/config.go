// Package config provides environment configuration for the console server.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	Env string `envconfig:"ENV" default:"production"`

	// Server settings
	ServerPort         string        `envconfig:"PORT" default:"8080"`
	ServerReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	ServerWriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"0s"`
	AllowedOrigins     []string      `envconfig:"ALLOWED_ORIGINS" default:"https://*,http://*"`

	// Messaging backend
	BackendURL     string        `envconfig:"BACKEND_URL" default:"http://localhost:3000"`
	UpstreamToken  string        `envconfig:"UPSTREAM_TOKEN"`
	BackendTimeout time.Duration `envconfig:"BACKEND_TIMEOUT" default:"30s"`

	// Live events
	LiveTransport        string        `envconfig:"LIVE_TRANSPORT" default:"sse"`
	LiveMaxReconnects    int           `envconfig:"LIVE_MAX_RECONNECTS" default:"5"`
	LiveReconnectInitial time.Duration `envconfig:"LIVE_RECONNECT_INITIAL" default:"1s"`
	LiveReconnectMax     time.Duration `envconfig:"LIVE_RECONNECT_MAX" default:"30s"`

	// NATS settings, used when LIVE_TRANSPORT=nats
	NATSURL      string `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	NATSCAFile   string `envconfig:"NATS_CA_FILE"`
	NATSCertFile string `envconfig:"NATS_CERT_FILE"`
	NATSKeyFile  string `envconfig:"NATS_KEY_FILE"`
	NATSToken    string `envconfig:"NATS_TOKEN"`

	// Sessions
	SessionIdleTimeout time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"30m"`
	TopicPageSize      int           `envconfig:"TOPIC_PAGE_SIZE" default:"50"`

	// JWT settings
	JWTSecret string `envconfig:"JWT_SECRET" default:"development-secret-change-in-production"`

	// Rate limiting
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"120"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	SendRateLimit     int           `envconfig:"SEND_RATE_LIMIT" default:"30"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Tracing
	TracingEndpoint string `envconfig:"TRACING_ENDPOINT" default:"localhost:4318"`
	TracingEnabled  bool   `envconfig:"TRACING_ENABLED" default:"false"`
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable fallback.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	switch c.LiveTransport {
	case "sse", "nats":
	default:
		return fmt.Errorf("LIVE_TRANSPORT must be sse or nats, got %q", c.LiveTransport)
	}
	if c.LiveMaxReconnects <= 0 {
		return fmt.Errorf("LIVE_MAX_RECONNECTS must be positive")
	}
	if c.RateLimitRequests <= 0 || c.SendRateLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and SEND_RATE_LIMIT must be positive")
	}
	if c.IsProduction() && (c.JWTSecret == "" || c.JWTSecret == "development-secret-change-in-production") {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

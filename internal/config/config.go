package config

import (
	"fmt"
	"os"
	"time"
)

// Store backend selection.
type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreValkey StoreBackend = "valkey"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment    string        // "development" or "production"
	HTTPAddr       string        // bind address for the HTTP/WebSocket server
	AllowedOrigin  string        // CORS origin of the frontend
	StoreBackend   StoreBackend  // ENSEMBLE_STORE: memory | valkey
	ValkeyAddr     string        // host:port of the valkey server
	ValkeyPassword string        // optional valkey auth
	JWTSigningKey  string        // HMAC key for connect tokens
	TokenTTL       time.Duration // connect token lifetime
}

// Load reads ENSEMBLE_* environment variables with development defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:    envOr("ENSEMBLE_ENV", "development"),
		HTTPAddr:       envOr("ENSEMBLE_HTTP_ADDR", ":8080"),
		AllowedOrigin:  envOr("ENSEMBLE_ALLOWED_ORIGIN", "http://127.0.0.1:5173"),
		StoreBackend:   StoreBackend(envOr("ENSEMBLE_STORE", string(StoreMemory))),
		ValkeyAddr:     envOr("ENSEMBLE_VALKEY_ADDR", "127.0.0.1:6379"),
		ValkeyPassword: os.Getenv("ENSEMBLE_VALKEY_PASSWORD"),
		JWTSigningKey:  os.Getenv("ENSEMBLE_JWT_KEY"),
		TokenTTL:       24 * time.Hour,
	}

	switch cfg.StoreBackend {
	case StoreMemory, StoreValkey:
	default:
		return nil, fmt.Errorf("config: unknown store backend %q", cfg.StoreBackend)
	}
	if cfg.JWTSigningKey == "" {
		if cfg.Environment != "development" {
			return nil, fmt.Errorf("config: ENSEMBLE_JWT_KEY is required outside development")
		}
		cfg.JWTSigningKey = "ensemble-dev-key"
	}
	if ttl := os.Getenv("ENSEMBLE_TOKEN_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("config: bad ENSEMBLE_TOKEN_TTL: %w", err)
		}
		cfg.TokenTTL = d
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

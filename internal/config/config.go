package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// Config holds client configuration
type Config struct {
	GatewayURL  string
	ListenAddr  string
	StateDir    string
	HTTPTimeout time.Duration
	Debug       bool
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present.
func Load() (*Config, error) {
	// Missing .env is fine, the process environment still applies
	_ = godotenv.Load()

	cfg := &Config{
		GatewayURL: getEnv("GATEWAY_URL", "http://localhost:8000"),
		ListenAddr: getEnv("LISTEN_ADDR", ":3000"),
		StateDir:   getEnv("STATE_DIR", ""),
		Debug:      getEnvBool("DEBUG", false),
	}

	timeoutStr := getEnv("HTTP_TIMEOUT", "30s")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT %q: %w", timeoutStr, err)
	}
	cfg.HTTPTimeout = timeout

	if cfg.StateDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve state dir: %w", err)
		}
		cfg.StateDir = filepath.Join(base, "urbandrive")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.GatewayURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid GATEWAY_URL %q", c.GatewayURL)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %v", c.HTTPTimeout)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

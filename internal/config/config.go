// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Listen addresses.
	APIAddr   string // Admin/query API server.
	ProxyAddr string // Ollama proxy server.

	// Upstream settings.
	OllamaURL     string        // Base URL of the Ollama server being proxied.
	OllamaTimeout time.Duration // Total timeout for one proxied call.

	// HTTP server settings.
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		APIAddr:         envStr("TSUISEKI_API_ADDR", "127.0.0.1:3000"),
		ProxyAddr:       envStr("TSUISEKI_PROXY_ADDR", "127.0.0.1:3001"),
		OllamaURL:       envStr("TSUISEKI_OLLAMA_URL", "http://localhost:11434"),
		OllamaTimeout:   envDuration("TSUISEKI_OLLAMA_TIMEOUT", 120*time.Second),
		ReadTimeout:     envDuration("TSUISEKI_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    envDuration("TSUISEKI_WRITE_TIMEOUT", 30*time.Second),
		ShutdownTimeout: envDuration("TSUISEKI_SHUTDOWN_TIMEOUT", 10*time.Second),
		OTELEndpoint:    envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:    envBool("TSUISEKI_OTEL_INSECURE", false),
		ServiceName:     envStr("OTEL_SERVICE_NAME", "tsuiseki"),
		LogLevel:        envStr("TSUISEKI_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and well-formed.
func (c Config) Validate() error {
	if c.APIAddr == "" {
		return fmt.Errorf("config: TSUISEKI_API_ADDR is required")
	}
	if c.ProxyAddr == "" {
		return fmt.Errorf("config: TSUISEKI_PROXY_ADDR is required")
	}
	if c.APIAddr == c.ProxyAddr {
		return fmt.Errorf("config: TSUISEKI_API_ADDR and TSUISEKI_PROXY_ADDR must differ")
	}
	u, err := url.Parse(c.OllamaURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: TSUISEKI_OLLAMA_URL must be an absolute URL (got %q)", c.OllamaURL)
	}
	if c.OllamaTimeout <= 0 {
		return fmt.Errorf("config: TSUISEKI_OLLAMA_TIMEOUT must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

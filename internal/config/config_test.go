package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.APIAddr != "127.0.0.1:3000" {
		t.Fatalf("expected default API addr 127.0.0.1:3000, got %s", cfg.APIAddr)
	}
	if cfg.ProxyAddr != "127.0.0.1:3001" {
		t.Fatalf("expected default proxy addr 127.0.0.1:3001, got %s", cfg.ProxyAddr)
	}
	if cfg.OllamaURL != "http://localhost:11434" {
		t.Fatalf("expected default Ollama URL, got %s", cfg.OllamaURL)
	}
	if cfg.OllamaTimeout != 120*time.Second {
		t.Fatalf("expected default Ollama timeout 120s, got %s", cfg.OllamaTimeout)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("expected default shutdown timeout 10s, got %s", cfg.ShutdownTimeout)
	}
}

func TestLoadReadsEnv(t *testing.T) {
	t.Setenv("TSUISEKI_API_ADDR", "0.0.0.0:8080")
	t.Setenv("TSUISEKI_PROXY_ADDR", "0.0.0.0:8081")
	t.Setenv("TSUISEKI_OLLAMA_URL", "http://ollama.internal:11434")
	t.Setenv("TSUISEKI_OLLAMA_TIMEOUT", "5m")
	t.Setenv("TSUISEKI_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIAddr != "0.0.0.0:8080" {
		t.Fatalf("expected API addr from env, got %s", cfg.APIAddr)
	}
	if cfg.ProxyAddr != "0.0.0.0:8081" {
		t.Fatalf("expected proxy addr from env, got %s", cfg.ProxyAddr)
	}
	if cfg.OllamaURL != "http://ollama.internal:11434" {
		t.Fatalf("expected Ollama URL from env, got %s", cfg.OllamaURL)
	}
	if cfg.OllamaTimeout != 5*time.Minute {
		t.Fatalf("expected 5m timeout, got %s", cfg.OllamaTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected debug log level, got %s", cfg.LogLevel)
	}
}

func TestEnvDurationFallbackOnInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	if d := envDuration("TEST_DUR_BAD", 7*time.Second); d != 7*time.Second {
		t.Fatalf("expected fallback 7s for invalid duration, got %s", d)
	}
}

func TestValidateRejectsSharedAddr(t *testing.T) {
	cfg := Config{
		APIAddr:       "127.0.0.1:3000",
		ProxyAddr:     "127.0.0.1:3000",
		OllamaURL:     "http://localhost:11434",
		OllamaTimeout: time.Minute,
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error when API and proxy addrs collide")
	}
	if !strings.Contains(err.Error(), "must differ") {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestValidateRejectsRelativeOllamaURL(t *testing.T) {
	cfg := Config{
		APIAddr:       "127.0.0.1:3000",
		ProxyAddr:     "127.0.0.1:3001",
		OllamaURL:     "localhost:11434",
		OllamaTimeout: time.Minute,
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for URL without scheme")
	}
	if !strings.Contains(err.Error(), "TSUISEKI_OLLAMA_URL") {
		t.Fatalf("error should mention TSUISEKI_OLLAMA_URL, got: %v", err)
	}
}

func TestValidateRejectsZeroTimeout(t *testing.T) {
	cfg := Config{
		APIAddr:   "127.0.0.1:3000",
		ProxyAddr: "127.0.0.1:3001",
		OllamaURL: "http://localhost:11434",
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for zero Ollama timeout")
	}
	if !strings.Contains(err.Error(), "TSUISEKI_OLLAMA_TIMEOUT") {
		t.Fatalf("error should mention TSUISEKI_OLLAMA_TIMEOUT, got: %v", err)
	}
}

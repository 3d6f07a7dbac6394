// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port         string
	FrontendURL  string
	DBPath       string
	SessionTTL   time.Duration
	HistoryLimit int
	Grader       GraderConfig
}

// GraderConfig controls the evaluation oracle client.
type GraderConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	historyLimit := getEnvInt("HISTORY_LIMIT", 10)
	if historyLimit <= 0 {
		historyLimit = 10
	}

	ttlMinutes := getEnvInt("SESSION_TTL_MINUTES", 60)
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}

	timeoutSeconds := getEnvInt("GRADER_TIMEOUT_SECONDS", 30)
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		DBPath:       getEnv("DB_PATH", "./data/lumina.db"),
		SessionTTL:   time.Duration(ttlMinutes) * time.Minute,
		HistoryLimit: historyLimit,
		Grader: GraderConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			Model:   getEnv("GRADER_MODEL", ""),
			BaseURL: getEnv("GRADER_BASE_URL", ""),
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Grader.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

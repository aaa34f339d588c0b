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
	Port        string
	FrontendURL string
	DBPath      string

	// BackendAddr is the base URL of the hosted agent service. Empty
	// means the in-process stub backend, for development.
	BackendAddr string

	// DefaultTier is what the static tier provider reports when no
	// billing endpoint is configured.
	DefaultTier string

	// TierPolicyPath optionally overrides the built-in tier policy table.
	TierPolicyPath string

	// RoutingTablePath optionally overrides the built-in keyword table.
	RoutingTablePath string

	SweepInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/crewdesk.db"),
		BackendAddr:      getEnv("AGENT_BACKEND_ADDR", ""),
		DefaultTier:      getEnv("DEFAULT_TIER", "starter"),
		TierPolicyPath:   getEnv("TIER_POLICY_PATH", ""),
		RoutingTablePath: getEnv("ROUTING_TABLE_PATH", ""),
		SweepInterval:    getEnvDuration("EXECUTION_SWEEP_INTERVAL", 30*time.Second),
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
	if c.DefaultTier == "" {
		return fmt.Errorf("DEFAULT_TIER cannot be empty")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("EXECUTION_SWEEP_INTERVAL must be > 0")
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

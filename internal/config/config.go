// Package config provides environment-aware configuration for Chronicle's
// transaction processors, submitter, and projector.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds all process configuration, loaded from the environment.
type Config struct {
	Env Environment

	// Ledger connection (validator / ordering service endpoint).
	ValidatorAddr    string
	ValidatorPeers   []string
	FamilyNamePrefix string

	// Signer
	SignerBackend string // "secp256k1" or "ed25519"

	// Projector
	PostgresDSN      string
	DBMaxConnections int
	DBIdleTimeout    time.Duration

	// Policy engine
	PolicyCacheEnabled bool

	// Submitter
	SubmitMaxAttempts  int
	SubmitInitialDelay time.Duration
	SubmitMaxDelay     time.Duration
	CommitTimeout      time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsEnabled bool
	MetricsPort    int
}

// Load builds a Config from environment variables, optionally seeded by a
// CHRONICLE_ENV-named .env file (e.g. "development.env").
func Load() (*Config, error) {
	envStr := os.Getenv("CHRONICLE_ENV")
	if envStr == "" {
		envStr = string(Development)
	}
	env := Environment(envStr)
	switch env {
	case Development, Testing, Production:
	default:
		return nil, fmt.Errorf("invalid CHRONICLE_ENV: %s (must be development, testing, or production)", envStr)
	}

	envFile := fmt.Sprintf("%s.env", env)
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		fmt.Printf("warning: could not load %s: %v\n", envFile, err)
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.ValidatorAddr = getEnv("CHRONICLE_VALIDATOR_ADDR", "tcp://localhost:4004")
	c.ValidatorPeers = splitCSV(getEnv("CHRONICLE_VALIDATOR_PEERS", c.ValidatorAddr))
	c.FamilyNamePrefix = getEnv("CHRONICLE_FAMILY_PREFIX", "chr")
	c.SignerBackend = getEnv("CHRONICLE_SIGNER_BACKEND", "secp256k1")

	c.PostgresDSN = getEnv("CHRONICLE_POSTGRES_DSN", "")
	c.DBMaxConnections = getIntEnv("CHRONICLE_DB_MAX_CONNECTIONS", 20)
	idleTimeout, err := time.ParseDuration(getEnv("CHRONICLE_DB_IDLE_TIMEOUT", "5m"))
	if err != nil {
		return fmt.Errorf("invalid CHRONICLE_DB_IDLE_TIMEOUT: %w", err)
	}
	c.DBIdleTimeout = idleTimeout

	c.PolicyCacheEnabled = getBoolEnv("CHRONICLE_POLICY_CACHE_ENABLED", true)

	c.SubmitMaxAttempts = getIntEnv("CHRONICLE_SUBMIT_MAX_ATTEMPTS", 5)
	initDelay, err := time.ParseDuration(getEnv("CHRONICLE_SUBMIT_INITIAL_DELAY", "200ms"))
	if err != nil {
		return fmt.Errorf("invalid CHRONICLE_SUBMIT_INITIAL_DELAY: %w", err)
	}
	c.SubmitInitialDelay = initDelay
	maxDelay, err := time.ParseDuration(getEnv("CHRONICLE_SUBMIT_MAX_DELAY", "10s"))
	if err != nil {
		return fmt.Errorf("invalid CHRONICLE_SUBMIT_MAX_DELAY: %w", err)
	}
	c.SubmitMaxDelay = maxDelay
	commitTimeout, err := time.ParseDuration(getEnv("CHRONICLE_COMMIT_TIMEOUT", "30s"))
	if err != nil {
		return fmt.Errorf("invalid CHRONICLE_COMMIT_TIMEOUT: %w", err)
	}
	c.CommitTimeout = commitTimeout

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	c.MetricsEnabled = getBoolEnv("CHRONICLE_METRICS_ENABLED", c.Env == Production)
	c.MetricsPort = getIntEnv("CHRONICLE_METRICS_PORT", 9090)

	return nil
}

func (c *Config) IsDevelopment() bool { return c.Env == Development }
func (c *Config) IsTesting() bool     { return c.Env == Testing }
func (c *Config) IsProduction() bool  { return c.Env == Production }

// Validate applies production-hardening checks.
func (c *Config) Validate() error {
	if len(c.FamilyNamePrefix) == 0 {
		return fmt.Errorf("CHRONICLE_FAMILY_PREFIX must not be empty")
	}
	switch c.SignerBackend {
	case "secp256k1", "ed25519":
	default:
		return fmt.Errorf("invalid CHRONICLE_SIGNER_BACKEND: %s", c.SignerBackend)
	}
	if c.IsProduction() && c.PostgresDSN == "" {
		return fmt.Errorf("CHRONICLE_POSTGRES_DSN is required in production")
	}
	if c.MetricsPort < 1024 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid CHRONICLE_METRICS_PORT: %d", c.MetricsPort)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// splitCSV splits a comma-separated environment value, trimming whitespace.
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

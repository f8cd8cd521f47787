// Package config provides console server configuration loading from environment variables and .env files.
// It uses viper for flexible configuration management with sensible defaults.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"

	"github.com/TimurManjosov/rulekit/internal/logging"
)

// Config holds all console server configuration loaded from environment variables or .env file.
// Configuration priority: environment variables > .env file > defaults.
type Config struct {
	AppEnv         string        // Application environment (dev, staging, prod)
	HTTPAddr       string        // HTTP server bind address (e.g., ":8080")
	MetricsAddr    string        // Metrics server bind address
	EngineURL      string        // Base URL of the rule engine
	EngineTimeout  time.Duration // Timeout for every rule engine call
	LogLevel       string        // trace, debug, info, warn, error
	LogFormat      string        // json or console
	RateLimitPerIP int           // Requests per minute per client IP (0 disables)
	SessionIdleTTL time.Duration // Idle time after which a session is dropped (0 disables)
	MaxRuleLength  int           // Maximum accepted rule length in characters
}

// Load reads configuration from environment variables and .env file (if present).
// Environment variables take precedence over .env file values.
//
// Load does not check constraints; call Validate for that.
func Load() (*Config, error) {
	viperInstance := viper.New()
	viperInstance.SetConfigFile(".env") // Optional; silently ignored if file doesn't exist
	_ = viperInstance.ReadInConfig()    // Ignore error - .env is optional
	viperInstance.AutomaticEnv()        // Read from environment variables

	setConfigDefaults(viperInstance)

	return &Config{
		AppEnv:         viperInstance.GetString("APP_ENV"),
		HTTPAddr:       viperInstance.GetString("APP_HTTP_ADDR"),
		MetricsAddr:    viperInstance.GetString("METRICS_ADDR"),
		EngineURL:      viperInstance.GetString("RULE_ENGINE_URL"),
		EngineTimeout:  viperInstance.GetDuration("ENGINE_TIMEOUT"),
		LogLevel:       viperInstance.GetString("LOG_LEVEL"),
		LogFormat:      viperInstance.GetString("LOG_FORMAT"),
		RateLimitPerIP: viperInstance.GetInt("RATE_LIMIT_PER_IP"),
		SessionIdleTTL: viperInstance.GetDuration("SESSION_IDLE_TTL"),
		MaxRuleLength:  viperInstance.GetInt("MAX_RULE_LENGTH"),
	}, nil
}

// setConfigDefaults sets default values for all configuration options.
// These defaults suit local development against an engine on port 5000.
func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("APP_HTTP_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("RULE_ENGINE_URL", "http://localhost:5000")
	v.SetDefault("ENGINE_TIMEOUT", "10s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", logging.FormatJSON)
	v.SetDefault("RATE_LIMIT_PER_IP", 100)
	v.SetDefault("SESSION_IDLE_TTL", "30m")
	v.SetDefault("MAX_RULE_LENGTH", 1024)
}

// ValidationError represents a configuration validation error with details about what failed.
type ValidationError struct {
	Field   string // Name of the configuration field
	Message string // Human-readable error message
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed [%s]: %s", e.Field, e.Message)
}

// Validate checks that the configuration is usable and returns the first
// violation as a ValidationError. Call it at startup to fail fast.
//
// Rules:
//  1. APP_HTTP_ADDR and METRICS_ADDR must be non-empty
//  2. RULE_ENGINE_URL must be an absolute http(s) URL
//  3. ENGINE_TIMEOUT must be positive
//  4. LOG_LEVEL must be a known level, LOG_FORMAT json or console
//  5. RATE_LIMIT_PER_IP, SESSION_IDLE_TTL must not be negative
//  6. MAX_RULE_LENGTH must be positive
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return ValidationError{Field: "APP_HTTP_ADDR", Message: "HTTP server address cannot be empty"}
	}
	if c.MetricsAddr == "" {
		return ValidationError{Field: "METRICS_ADDR", Message: "metrics server address cannot be empty"}
	}

	u, err := url.Parse(c.EngineURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ValidationError{
			Field:   "RULE_ENGINE_URL",
			Message: fmt.Sprintf("must be an absolute http(s) URL, got '%s'", c.EngineURL),
		}
	}

	if c.EngineTimeout <= 0 {
		return ValidationError{Field: "ENGINE_TIMEOUT", Message: "engine timeout must be positive"}
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return ValidationError{Field: "LOG_LEVEL", Message: err.Error()}
	}
	if c.LogFormat != logging.FormatJSON && c.LogFormat != logging.FormatConsole {
		return ValidationError{
			Field:   "LOG_FORMAT",
			Message: fmt.Sprintf("must be '%s' or '%s', got '%s'", logging.FormatJSON, logging.FormatConsole, c.LogFormat),
		}
	}

	if c.RateLimitPerIP < 0 {
		return ValidationError{Field: "RATE_LIMIT_PER_IP", Message: "rate limit cannot be negative"}
	}
	if c.SessionIdleTTL < 0 {
		return ValidationError{Field: "SESSION_IDLE_TTL", Message: "session idle TTL cannot be negative"}
	}
	if c.MaxRuleLength <= 0 {
		return ValidationError{Field: "MAX_RULE_LENGTH", Message: "maximum rule length must be positive"}
	}

	return nil
}

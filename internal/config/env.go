package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ApplyEnv overrides fields from AUTOPROG_* environment variables.
//
// Supported variables:
//   - AUTOPROG_MAX_CONCURRENCY
//   - AUTOPROG_CONFIDENCE_THRESHOLD
//   - AUTOPROG_MAX_RETRIES
//   - AUTOPROG_RATE_PER_SECOND
//   - AUTOPROG_EXCLUDE (comma separated, appended)
//   - AUTOPROG_AI_ENABLED, AUTOPROG_AI_MODEL
//   - ANTHROPIC_API_KEY
func (c *Config) ApplyEnv() error {
	if err := parseEnvInt("AUTOPROG_MAX_CONCURRENCY", &c.MaxConcurrency); err != nil {
		return err
	}
	if err := parseEnvFloat("AUTOPROG_CONFIDENCE_THRESHOLD", &c.ConfidenceThreshold); err != nil {
		return err
	}
	if err := parseEnvInt("AUTOPROG_MAX_RETRIES", &c.MaxRetries); err != nil {
		return err
	}
	if err := parseEnvFloat("AUTOPROG_RATE_PER_SECOND", &c.RatePerSecond); err != nil {
		return err
	}
	if err := parseEnvBool("AUTOPROG_AI_ENABLED", &c.AI.Enabled); err != nil {
		return err
	}
	if err := parseEnvString("AUTOPROG_AI_MODEL", &c.AI.Model); err != nil {
		return err
	}
	if err := parseEnvString("ANTHROPIC_API_KEY", &c.AI.APIKey); err != nil {
		return err
	}

	var exclude string
	if err := parseEnvString("AUTOPROG_EXCLUDE", &exclude); err != nil {
		return err
	}
	for _, p := range strings.Split(exclude, ",") {
		if p = strings.TrimSpace(p); p != "" {
			c.ExcludePaths = append(c.ExcludePaths, p)
		}
	}
	return nil
}

// parseEnvInt parses an integer from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvFloat parses a float from an environment variable
func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvString parses a string from an environment variable
func parseEnvString(key string, dest *string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	*dest = value
	return nil
}

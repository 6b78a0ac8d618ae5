// Package config provides fail-open environment loaders and validators shared by the
// api and worker processes. Loaders never return errors: an unset variable yields the
// default silently, an unparsable or invalid one yields the default plus a warning.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ConfigLoadResult represents the result of loading a configuration value.
//
// Fields:
//   - Value: The loaded configuration value (may be fallback if validation failed)
//   - Warnings: List of warning messages (one per fallback applied)
//   - FallbackApplied: True if the default value was used due to a parse or validation failure
//
// Example:
//
//	result := LoadEnvDuration("QUEUE_POLL_INTERVAL", time.Second, ValidatePositiveDuration)
//	if result.FallbackApplied {
//	    for _, warning := range result.Warnings {
//	        logger.Warn("configuration fallback", slog.String("warning", warning))
//	    }
//	}
//	interval := result.Value.(time.Duration)
type ConfigLoadResult struct {
	Value           interface{}
	Warnings        []string
	FallbackApplied bool
}

// LoadEnvString loads a string value from an environment variable.
// If the environment variable is not set or empty, the default value is returned.
func LoadEnvString(envKey, defaultValue string) string {
	value := os.Getenv(envKey)
	if value == "" {
		return defaultValue
	}
	return value
}

// LoadEnvWithFallback loads a string value and validates it, falling back to the
// default when the validator rejects it. A nil validator accepts any value.
//
// Warning format:
//
//	"Invalid {envKey}='{value}': {error}, falling back to default '{default}'"
func LoadEnvWithFallback(envKey, defaultValue string, validator func(string) error) ConfigLoadResult {
	return load(envKey, defaultValue, func(s string) (string, error) { return s, nil }, validator, "%s")
}

// LoadEnvDuration loads a Go duration string ("30s", "5m", "1h30m").
func LoadEnvDuration(envKey string, defaultValue time.Duration, validator func(time.Duration) error) ConfigLoadResult {
	return load(envKey, defaultValue, time.ParseDuration, validator, "%v")
}

// LoadEnvInt loads a base-10 integer.
func LoadEnvInt(envKey string, defaultValue int, validator func(int) error) ConfigLoadResult {
	return load(envKey, defaultValue, strconv.Atoi, validator, "%d")
}

// LoadEnvFloat loads a floating point number such as a rate limit or a backoff multiplier.
func LoadEnvFloat(envKey string, defaultValue float64, validator func(float64) error) ConfigLoadResult {
	parse := func(s string) (float64, error) { return strconv.ParseFloat(s, 64) }
	return load(envKey, defaultValue, parse, validator, "%g")
}

// LoadEnvBool loads a boolean using strconv.ParseBool semantics ("1", "t", "true", ...).
func LoadEnvBool(envKey string, defaultValue bool) ConfigLoadResult {
	return load(envKey, defaultValue, strconv.ParseBool, nil, "%t")
}

func load[T any](envKey string, defaultValue T, parse func(string) (T, error), validator func(T) error, verb string) ConfigLoadResult {
	raw := os.Getenv(envKey)
	if raw == "" {
		return ConfigLoadResult{Value: defaultValue}
	}

	fallback := func(reason error) ConfigLoadResult {
		warning := fmt.Sprintf("Invalid %s='%s': %v, falling back to default '"+verb+"'",
			envKey, raw, reason, defaultValue)
		return ConfigLoadResult{
			Value:           defaultValue,
			Warnings:        []string{warning},
			FallbackApplied: true,
		}
	}

	parsed, err := parse(raw)
	if err != nil {
		return fallback(err)
	}
	if validator != nil {
		if err := validator(parsed); err != nil {
			return fallback(err)
		}
	}
	return ConfigLoadResult{Value: parsed}
}

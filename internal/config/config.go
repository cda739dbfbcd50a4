// Package config implements the schema-driven parameter store for wrapped
// tools: typed flat parameter sets with defaults, validation, merging, and
// loading from the proctor's JSON configuration file.
package config

import (
	"strings"
	"time"
)

// Config is a flat mapping of parameter name → typed value. Values are one
// of string, int, float64, or bool. A Config is never mutated in place by
// this package; Merge and Defaults always return fresh maps.
type Config map[string]any

// Clone returns a shallow copy. Values are scalars, so shallow is deep.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// String returns the string value of key, or fallback when absent.
func (c Config) String(key, fallback string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return fallback
}

// Int returns the integer value of key, or fallback when absent. Integral
// floats (the usual result of JSON decoding) are accepted.
func (c Config) Int(key string, fallback int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return fallback
}

// Float returns the numeric value of key, or fallback when absent.
func (c Config) Float(key string, fallback float64) float64 {
	switch v := c[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}

// Bool returns the boolean value of key, or fallback when absent.
func (c Config) Bool(key string, fallback bool) bool {
	if v, ok := c[key].(bool); ok {
		return v
	}
	return fallback
}

// Seconds interprets key as a duration in seconds.
func (c Config) Seconds(key string, fallback time.Duration) time.Duration {
	if _, ok := c[key]; !ok {
		return fallback
	}
	return time.Duration(c.Float(key, fallback.Seconds()) * float64(time.Second))
}

// Minutes interprets key as a duration in minutes.
func (c Config) Minutes(key string, fallback time.Duration) time.Duration {
	if _, ok := c[key]; !ok {
		return fallback
	}
	return time.Duration(c.Float(key, fallback.Minutes()) * float64(time.Minute))
}

// Args splits the named parameter into command-line arguments on whitespace.
func (c Config) Args(key string) []string {
	return strings.Fields(c.String(key, ""))
}

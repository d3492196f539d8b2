// Package util provides environment variable parsing helpers shared across components.
package util

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

var boolWords = map[string]bool{
	"true": true, "1": true, "yes": true, "on": true,
	"false": false, "0": false, "no": false, "off": false,
}

// lookupEnv returns the trimmed value of key and whether it is non-empty.
func lookupEnv(key string) (string, bool) {
	val := strings.TrimSpace(os.Getenv(key))
	return val, val != ""
}

// ParseBoolEnv reads key as a boolean (true/1/yes/on, false/0/no/off, any case).
// Unset or unrecognized values yield defaultValue.
func ParseBoolEnv(key string, defaultValue bool) bool {
	val, ok := lookupEnv(key)
	if !ok {
		return defaultValue
	}
	b, known := boolWords[strings.ToLower(val)]
	if !known {
		slog.Warn("ParseBoolEnv invalid value, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
	return b
}

// ParseDurationEnv reads key as a time.Duration such as "45m".
// Unset, invalid, or non-positive values yield defaultValue.
func ParseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	val, ok := lookupEnv(key)
	if !ok {
		return defaultValue
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		slog.Warn("ParseDurationEnv invalid value, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
	return d
}

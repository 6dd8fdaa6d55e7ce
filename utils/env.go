package utils

import (
	"os"
	"strconv"
	"time"
)

// GetEnv returns the value of key, or fallback when it is unset or empty.
func GetEnv(key string, fallback ...string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	if len(fallback) > 0 {
		return fallback[0]
	}
	return ""
}

// GetEnvInt parses key as an int, falling back on absence or parse failure.
func GetEnvInt(key string, fallback int) int {
	raw := GetEnv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// GetEnvDuration parses key with time.ParseDuration.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := GetEnv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

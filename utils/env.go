// forumd/utils/env.go
package utils

import (
	"os"
	"strconv"
	"time"
)

// GetEnv reads an environment variable or returns a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvInt reads an integer environment variable, falling back on absence or parse failure.
func GetEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(GetEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return v
}

// GetEnvDuration reads a duration environment variable, falling back on absence or parse failure.
func GetEnvDuration(key, fallback string) time.Duration {
	d, err := time.ParseDuration(GetEnv(key, fallback))
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

package utils

import (
	"log"
	"os"
	"strconv"
	"time"
)

func GetEnvString(key string, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return val
}

func GetEnvInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}

	valAsInt, err := strconv.Atoi(val)
	if err != nil {
		log.Printf("Environment variable '%s' not an integer, defaulting to '%d'...\n", key, fallback)
		return fallback
	}
	return valAsInt
}

func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}

	d, err := time.ParseDuration(val)
	if err != nil {
		log.Printf("Environment variable '%s' not a duration, defaulting to '%s'...\n", key, fallback)
		return fallback
	}
	return d
}

// IsProduction reports whether CURATOR_ENV selects the production profile
func IsProduction() bool {
	return GetEnvString("CURATOR_ENV", "development") == "production"
}

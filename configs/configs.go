// Package configs provides application configuration loaded from
// environment variables.
package configs

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// AppConfig holds all application configuration.
// Load it once at startup using AppLoad().
type AppConfig struct {
	// DatabaseURL is the TimescaleDB connection string.
	DatabaseURL string

	// ListenAddr is the bind address for the downstream WebSocket listener.
	ListenAddr string

	// FeedURL is the upstream ticker feed WebSocket endpoint.
	FeedURL string

	// APIAddr is the bind address for the REST API. Set API_ADDR to an
	// empty value to disable the API.
	APIAddr string

	// Stream contains push settings for downstream sessions.
	Stream StreamConfig
}

// StreamConfig holds downstream session settings.
type StreamConfig struct {
	// AllPushIntervalSeconds is the refresh period for all-symbols sessions.
	AllPushIntervalSeconds int

	// SymbolPushIntervalSeconds is the refresh period for single-symbol
	// sessions. Shorter by default: fewer, more latency-sensitive viewers.
	SymbolPushIntervalSeconds int

	// PageSize is the fixed page size applied to every all-symbols session.
	PageSize int
}

// AppLoad loads all application configuration from environment variables.
// It attempts to load a .env file first (for local development). A missing
// required variable is an error; the caller treats it as fatal.
func AppLoad() (*AppConfig, error) {
	_ = godotenv.Load() // Ignore error - .env is optional

	databaseURL, err := requireEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	listenAddr, err := requireEnv("LISTEN_ADDR")
	if err != nil {
		return nil, err
	}
	feedURL, err := requireEnv("FEED_URL")
	if err != nil {
		return nil, err
	}

	return &AppConfig{
		DatabaseURL: databaseURL,
		ListenAddr:  listenAddr,
		FeedURL:     feedURL,
		APIAddr:     getEnv("API_ADDR", ":8081"),
		Stream: StreamConfig{
			AllPushIntervalSeconds:    getEnvInt("ALL_PUSH_INTERVAL_SECONDS", 60),
			SymbolPushIntervalSeconds: getEnvInt("SYMBOL_PUSH_INTERVAL_SECONDS", 10),
			PageSize:                  getEnvInt("PAGE_SIZE", 30),
		},
	}, nil
}

// requireEnv returns the environment variable value or an error when unset.
func requireEnv(key string) (string, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return "", fmt.Errorf("%s must be set", key)
	}
	return value, nil
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds application configuration
type Config struct {
	DataDir       string // Base directory for all databases, always absolute
	QuotesBaseURL string // External quote API base URL (empty disables live quotes)
	LogLevel      string
	Port          int
	DevMode       bool
	AllowShort    bool            // Whether sell orders may exceed the held quantity
	StartingCash  decimal.Decimal // Cash balance for newly created portfolios
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory:
	// 1. TRADER_DATA_DIR environment variable
	// 2. fallback to ./data
	// Always resolved to an absolute path, created if missing.
	dataDir := getEnv("TRADER_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	startingCash, err := decimal.NewFromString(getEnv("TRADER_STARTING_CASH", "100000.00"))
	if err != nil {
		return nil, fmt.Errorf("invalid TRADER_STARTING_CASH: %w", err)
	}
	if startingCash.IsNegative() {
		return nil, fmt.Errorf("TRADER_STARTING_CASH must not be negative")
	}

	cfg := &Config{
		DataDir:       absDataDir,
		Port:          getEnvAsInt("TRADER_PORT", 8000),
		DevMode:       getEnvAsBool("DEV_MODE", false),
		AllowShort:    getEnvAsBool("TRADER_ALLOW_SHORT", false),
		QuotesBaseURL: getEnv("QUOTES_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		StartingCash:  startingCash,
	}

	return cfg, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

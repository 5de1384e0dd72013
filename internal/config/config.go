package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv       string
	Port          string
	SessionSecret string
	Database      DatabaseConfig
	BackendA BackendAConfig
	BackendB BackendBConfig
	Sync     SyncConfig
}

// DatabaseConfig holds local database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// BackendAConfig holds settings for the legacy spreadsheet-backed service.
// Requests go to BaseURL/BaseID/<table> with a bearer API key.
type BackendAConfig struct {
	BaseURL string
	BaseID  string
	APIKey  string
	Tables  map[string]string
}

// BackendBConfig holds settings for the new REST service
type BackendBConfig struct {
	BaseURL string
}

// SyncConfig holds synchronization and connectivity settings
type SyncConfig struct {
	ForcedOffline       bool
	ProbeIntervalSec    int
	DrainIntervalSec    int
	AssetMigrationDelay int // seconds after startup before the first sweep
	AssetMaxAgeDays     int
	AssetMaxTotalMB     int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	backendB := os.Getenv("BACKEND_B_URL")
	if backendB == "" {
		return nil, fmt.Errorf("BACKEND_B_URL is required")
	}

	return &Config{
		NodeEnv:       getEnv("NODE_ENV", "development"),
		Port:          getEnv("PORT", "3310"),
		SessionSecret: getEnv("SESSION_SECRET", "courseo-dev-secret"),
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "courseo"),
		},
		BackendA: BackendAConfig{
			BaseURL: getEnv("BACKEND_A_URL", "https://api.airtable.com/v0"),
			BaseID:  os.Getenv("BACKEND_A_BASE_ID"),
			APIKey:  os.Getenv("BACKEND_A_API_KEY"),
			Tables: map[string]string{
				"commandes":  getEnv("BACKEND_A_TABLE_COMMANDES", "Commandes"),
				"magasins":   getEnv("BACKEND_A_TABLE_MAGASINS", "Magasins"),
				"chauffeurs": getEnv("BACKEND_A_TABLE_CHAUFFEURS", "Chauffeurs"),
				"contacts":   getEnv("BACKEND_A_TABLE_CONTACTS", "Contacts"),
			},
		},
		BackendB: BackendBConfig{
			BaseURL: backendB,
		},
		Sync: SyncConfig{
			ForcedOffline:       getEnv("FORCE_OFFLINE", "false") == "true",
			ProbeIntervalSec:    getEnvInt("PROBE_INTERVAL_SEC", 30),
			DrainIntervalSec:    getEnvInt("DRAIN_INTERVAL_SEC", 60),
			AssetMigrationDelay: getEnvInt("ASSET_MIGRATION_DELAY_SEC", 90),
			AssetMaxAgeDays:     getEnvInt("ASSET_MAX_AGE_DAYS", 30),
			AssetMaxTotalMB:     getEnvInt("ASSET_MAX_TOTAL_MB", 200),
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

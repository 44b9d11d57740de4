package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database configuration
	DBPath          string
	DBEncryptionKey string

	// Audit configuration
	AuditLogPath    string
	AuditAsyncMode  bool
	MonitorInterval time.Duration

	// Rate limiting
	RateLimitRPS   int
	RateLimitBurst int

	// Account policy
	ResetTokenTTL         time.Duration
	RequireStrongPassword bool

	// Application settings
	Environment string
	LogLevel    string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (not required in production)
	_ = godotenv.Load()

	config := &Config{
		DBPath:                getEnv("DB_PATH", "./data/accounts.db"),
		DBEncryptionKey:       getEnv("DB_ENCRYPTION_KEY", ""),
		AuditLogPath:          getEnv("AUDIT_LOG_PATH", "./logs/audit.log"),
		AuditAsyncMode:        getEnvAsBool("AUDIT_ASYNC_MODE", true),
		MonitorInterval:       time.Duration(getEnvAsInt("MONITOR_INTERVAL_MINUTES", 5)) * time.Minute,
		RateLimitRPS:          getEnvAsInt("RATE_LIMIT_REQUESTS_PER_SECOND", 10),
		RateLimitBurst:        getEnvAsInt("RATE_LIMIT_BURST", 20),
		ResetTokenTTL:         time.Duration(getEnvAsInt("RESET_TOKEN_TTL_MINUTES", 60)) * time.Minute,
		RequireStrongPassword: getEnvAsBool("PASSWORD_REQUIRE_STRONG", false),
		Environment:           getEnv("APP_ENV", "development"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
	}

	// Validate critical configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate ensures all required configuration is present
func (c *Config) Validate() error {
	if c.DBEncryptionKey == "" {
		return fmt.Errorf("DB_ENCRYPTION_KEY is required")
	}

	if len(c.DBEncryptionKey) < 32 {
		return fmt.Errorf("DB_ENCRYPTION_KEY must be at least 32 characters")
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit values must be positive")
	}

	if c.ResetTokenTTL <= 0 {
		return fmt.Errorf("RESET_TOKEN_TTL_MINUTES must be positive")
	}

	if c.MonitorInterval <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL_MINUTES must be positive")
	}

	return nil
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

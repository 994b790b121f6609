package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	// Server
	Port string
	Env  string

	// Storage
	StoreDriver string
	SQLitePath  string
	DatabaseURL string

	// Ledger
	MaxLoanAmount int64 // cents

	// Rate limiting, per client address
	RateLimitPerMinute int
	RateLimitBurst     int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	maxLoanAmount, err := getEnvInt64("MAX_LOAN_AMOUNT", 5_000_000)
	if err != nil {
		return nil, err
	}
	ratePerMinute, err := getEnvInt64("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		return nil, err
	}
	burst, err := getEnvInt64("RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		StoreDriver:        getEnv("STORE_DRIVER", DriverMemory),
		SQLitePath:         getEnv("SQLITE_PATH", "staffloan.db"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		MaxLoanAmount:      maxLoanAmount,
		RateLimitPerMinute: int(ratePerMinute),
		RateLimitBurst:     int(burst),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction reports whether ENV is "production".
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite store")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.MaxLoanAmount <= 0 {
		return fmt.Errorf("MAX_LOAN_AMOUNT must be positive")
	}
	if c.RateLimitPerMinute <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE and RATE_LIMIT_BURST must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "STORE_DRIVER", "SQLITE_PATH", "DATABASE_URL", "MAX_LOAN_AMOUNT", "RATE_LIMIT_PER_MINUTE", "RATE_LIMIT_BURST"} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, int64(5_000_000), cfg.MaxLoanAmount)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.Equal(t, 20, cfg.RateLimitBurst)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/loans.db")
	t.Setenv("MAX_LOAN_AMOUNT", "2500000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "/tmp/loans.db", cfg.SQLitePath)
	assert.Equal(t, int64(2_500_000), cfg.MaxLoanAmount)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":       {"STORE_DRIVER": "mongo"},
		"postgres without url": {"STORE_DRIVER": "postgres"},
		"non numeric max":      {"MAX_LOAN_AMOUNT": "lots"},
		"non positive max":     {"MAX_LOAN_AMOUNT": "-1"},
		"non positive rate":    {"RATE_LIMIT_PER_MINUTE": "0"},
		"non numeric burst":    {"RATE_LIMIT_BURST": "x"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://u:p@localhost:5432/saldo")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 2*time.Minute, cfg.ReviewLeaseTTL)
	require.Equal(t, 3, cfg.LedgerMaxAttempts)
	require.Equal(t, time.Minute, cfg.StatsCacheTTL)
	require.Equal(t, 120, cfg.RateLimitPerMinute)
	require.Equal(t, "@every 1h", cfg.LedgerIntegrityCron)
	require.Equal(t, "PLN", cfg.DefaultCurrency)
	require.Equal(t, "pl", cfg.Locale)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://u:p@db:5432/saldo")
	t.Setenv("APP_ENV", "production")
	t.Setenv("REVIEW_LEASE_TTL", "90s")
	t.Setenv("LEDGER_MAX_ATTEMPTS", "5")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, 90*time.Second, cfg.ReviewLeaseTTL)
	require.Equal(t, 5, cfg.LedgerMaxAttempts)
}

func TestConfigValidate(t *testing.T) {
	base := func() Config {
		return Config{
			PGDSN:              "postgres://x",
			ReviewLeaseTTL:     time.Minute,
			LedgerMaxAttempts:  1,
			RateLimitPerMinute: 10,
			DefaultCurrency:    "EUR",
		}
	}
	cases := map[string]func(*Config){
		"missing dsn":   func(c *Config) { c.PGDSN = "" },
		"zero lease":    func(c *Config) { c.ReviewLeaseTTL = 0 },
		"no attempts":   func(c *Config) { c.LedgerMaxAttempts = 0 },
		"no rate limit": func(c *Config) { c.RateLimitPerMinute = 0 },
		"bad currency":  func(c *Config) { c.DefaultCurrency = "euro" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
	cfg := base()
	require.NoError(t, cfg.Validate())
}

func TestInTestModeRefresh(t *testing.T) {
	t.Setenv("SALDO_TEST_MODE", "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv("SALDO_TEST_MODE", "")
	RefreshTestMode()
	require.False(t, InTestMode())
}

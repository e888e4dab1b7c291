package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonerfun/flywheel/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "service:\n  name: flywheel\n"))
	require.NoError(t, err)

	assert.Equal(t, 8095, cfg.Service.Port)
	assert.Equal(t, config.DefaultMaxRetries, cfg.Retry.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.Retry.BackoffBase)
	assert.Equal(t, 3600*time.Second, cfg.Retry.BackoffCap)
	assert.InDelta(t, 2.0, cfg.Retry.BackoffMultiplier, 0)
	assert.Equal(t, 10, cfg.Retry.BatchSize)
	assert.Equal(t, time.Second, cfg.Retry.ItemDelay)
	assert.Equal(t, 7, cfg.Retry.CleanupAfterDays)
	assert.Equal(t, "data/retry-fallback", cfg.Retry.FallbackDir)
	assert.Equal(t, config.DefaultRetryCron, cfg.Scheduler.Retry.Cron)
	assert.Equal(t, config.DefaultFeeCollectionCron, cfg.Scheduler.FeeCollection.Cron)
	assert.Equal(t, "flywheel:operations", cfg.Redis.Channel)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Database.Host)
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	t.Setenv("RETRY_MAX_RETRIES", "3")
	t.Setenv("BURN_AFTER_BUYBACK", "yes")
	t.Setenv("POSTGRES_FLYWHEEL_HOST", "db.internal")

	path := writeConfig(t, `
scheduler:
  buyback:
    cron: "*/30 * * * *"
  discovery:
    disabled: true
retry:
  max_retries: 8
  backoff_multiplier: 3
  item_delay: 250ms
flywheel:
  sol_reserve: 0.2
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Retry.MaxRetries, "env wins over yaml")
	assert.InDelta(t, 3.0, cfg.Retry.BackoffMultiplier, 0)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.ItemDelay)
	assert.True(t, cfg.Flywheel.BurnAfterBuyback)
	assert.InDelta(t, 0.2, cfg.Flywheel.SOLReserve, 1e-9)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "*/30 * * * *", cfg.Scheduler.Buyback.Cron)
	assert.True(t, cfg.Scheduler.Discovery.Disabled)
}

func TestLoad_ValidationErrors(t *testing.T) {
	testCases := []struct {
		name  string
		body  string
		field string
	}{
		{name: "multiplier below one", body: "retry:\n  backoff_multiplier: 0.5\n", field: "retry.backoff_multiplier"},
		{name: "cap below base", body: "retry:\n  backoff_base: 2h\n  backoff_cap: 1h\n", field: "retry.backoff_cap"},
		{name: "bad log level", body: "logging:\n  level: loud\n", field: "logging.level"},
		{name: "slippage out of range", body: "flywheel:\n  slippage_bps: 20000\n", field: "flywheel.slippage_bps"},
		{name: "negative retries", body: "retry:\n  max_retries: -1\n", field: "retry.max_retries"},
		{name: "negative reserve", body: "flywheel:\n  sol_reserve: -0.5\n", field: "flywheel.sol_reserve"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tc.body))
			require.Error(t, err)

			var validationErr *config.ValidationError
			require.True(t, errors.As(err, &validationErr), "got %v", err)
			assert.Equal(t, tc.field, validationErr.Field)
		})
	}
}

func TestDatabaseConfig_URL(t *testing.T) {
	d := config.DatabaseConfig{Host: "h", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5433/d?sslmode=disable", d.URL())
	assert.Equal(t, "host=h port=5433 user=u password=p dbname=d sslmode=disable", d.DSN())
}

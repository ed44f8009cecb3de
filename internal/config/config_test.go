package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/postrun/internal/arms"
	"github.com/sawpanic/postrun/internal/quality"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "postrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10.0, cfg.BudgetGate().DailyLimitUSD)
	assert.Equal(t, 0.75, cfg.BudgetGate().DenyThresholdFraction)
	assert.Equal(t, 60, cfg.OpportunityEvaluator().PostThreshold)
	assert.Equal(t, 0.2, cfg.OpportunityEvaluator().Epsilon)
	assert.Equal(t, 1, cfg.Pipeline().MaxRegenerations)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
budget:
  daily_limit_usd: 25
  max_premium_calls_per_day: 8
  timezone: America/New_York
bandit:
  epsilon: 0.1
quality:
  pass_threshold: 0.7
arms:
  topic_clusters: [sleep, focus]
scheduler:
  jobs:
    - name: posting
      type: posting.tick
      every: 10m
      enabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25.0, cfg.Budget.DailyLimitUSD)
	assert.Equal(t, 8, cfg.Budget.MaxPremiumCallsPerDay)
	assert.Equal(t, 0.2, cfg.Budget.ReserveFraction, "unset fields keep defaults")
	assert.Equal(t, "America/New_York", cfg.Location().String())
	assert.Equal(t, cfg.Location(), cfg.BudgetGate().Location)
	assert.Equal(t, cfg.Location(), cfg.OpportunityEvaluator().Location)
	assert.Equal(t, 0.1, cfg.OpportunityEvaluator().Epsilon)
	assert.Equal(t, 0.7, cfg.Quality.PassThreshold)
	assert.Equal(t, 0.30, cfg.Quality.Weights[quality.AxisHook])
	assert.Equal(t, []string{"sleep", "focus"}, cfg.Arms.TopicClusters)
	require.Len(t, cfg.Scheduler.Jobs, 1)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.Jobs[0].Every)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("POSTRUN_DAILY_LIMIT_USD", "3.5")
	t.Setenv("POSTRUN_TIMEZONE", "Europe/Berlin")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("POSTRUN_DRY_RUN", "false")
	t.Setenv("POSTRUN_PUBLISH_ENDPOINT", "http://publisher.local/post")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3.5, cfg.Budget.DailyLimitUSD)
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.False(t, cfg.Generation.DryRun)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		target error
	}{
		{"empty topics", func(c *Config) { c.Arms.TopicClusters = nil }, arms.ErrNoArms},
		{"empty hooks", func(c *Config) { c.Arms.HookTypes = nil }, arms.ErrNoArms},
		{"quality weights", func(c *Config) { c.Quality.Weights = map[quality.Axis]float64{quality.AxisHook: 1, quality.AxisClarity: 0.5, quality.AxisNovelty: 0, quality.AxisStructure: 0} }, nil},
		{"reserve fraction", func(c *Config) { c.Budget.ReserveFraction = 1.5 }, nil},
		{"prior", func(c *Config) { c.Bandit.PriorAlpha = 0 }, nil},
		{"timezone", func(c *Config) { c.Budget.Timezone = "Mars/Olympus" }, nil},
		{"epsilon", func(c *Config) { c.Bandit.Epsilon = 1.2 }, nil},
		{"regenerations", func(c *Config) { c.Generation.MaxRegenerations = 2 }, nil},
		{"publisher", func(c *Config) { c.Generation.DryRun = false }, nil},
		{"debounce", func(c *Config) { c.Learning.DebounceInterval = 0 }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			if tt.target != nil {
				assert.True(t, errors.Is(err, tt.target), "got %v", err)
			}
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "budget: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "arms:\n  cta_types: []\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, arms.ErrNoArms))
}

func TestHTTPAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8088", Default().HTTP.Addr())
}

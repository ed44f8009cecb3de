package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsDisabledAndValid(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, 2*time.Second, cfg.QueryTimeout)
	assert.LessOrEqual(t, cfg.MaxIdleConns, cfg.MaxOpenConns)
	assert.NoError(t, cfg.Validate())
}

func TestDisabledManagerFallsBackCleanly(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(ctx, DefaultConfig())
	require.NoError(t, err)

	assert.False(t, m.IsEnabled())
	assert.Nil(t, m.Repository(), "callers switch to the in-memory store on nil")
	assert.Nil(t, m.DB())
	assert.NoError(t, m.Close())

	probe := m.Health()
	check := probe.Health(ctx)
	assert.True(t, check.Healthy)
	require.Len(t, check.Errors, 1)
	assert.Contains(t, check.Errors[0], "disabled")
	assert.NoError(t, probe.Ping(ctx))
	assert.Equal(t, "disabled", probe.Stats(ctx)["status"])
}

func TestNewManagerRequiresDSN(t *testing.T) {
	_, err := NewManager(context.Background(), Config{Enabled: true})
	assert.ErrorIs(t, err, errNoDSN)
}

func TestConfigValidate(t *testing.T) {
	base := DefaultConfig()
	base.Enabled = true
	base.DSN = "postgres://localhost/postrun"

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"no dsn", func(c *Config) { c.DSN = "" }, false},
		{"zero pool", func(c *Config) { c.MaxOpenConns = 0 }, false},
		{"idle above open", func(c *Config) { c.MaxIdleConns = 20 }, false},
		{"negative idle", func(c *Config) { c.MaxIdleConns = -1 }, false},
		{"zero timeout", func(c *Config) { c.QueryTimeout = 0 }, false},
		{"disabled ignores the rest", func(c *Config) { c.Enabled, c.DSN, c.MaxOpenConns = false, "", 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Run("dsn enables persistence", func(t *testing.T) {
		t.Setenv("PG_DSN", "postgres://db/postrun")
		t.Setenv("PG_QUERY_TIMEOUT", "750ms")
		t.Setenv("PG_AUTO_MIGRATE", "true")
		t.Setenv("PG_MAX_IDLE_CONNS", "3")

		cfg := DefaultConfig()
		cfg.ApplyEnv()

		assert.True(t, cfg.Enabled)
		assert.Equal(t, "postgres://db/postrun", cfg.DSN)
		assert.Equal(t, 750*time.Millisecond, cfg.QueryTimeout)
		assert.Equal(t, 3, cfg.MaxIdleConns)
		assert.True(t, cfg.AutoMigrate)
	})

	t.Run("explicit disable wins over dsn", func(t *testing.T) {
		t.Setenv("PG_DSN", "postgres://db/postrun")
		t.Setenv("PG_ENABLED", "false")

		cfg := DefaultConfig()
		cfg.ApplyEnv()
		assert.False(t, cfg.Enabled)
	})

	t.Run("malformed values are ignored", func(t *testing.T) {
		t.Setenv("PG_MAX_OPEN_CONNS", "lots")
		t.Setenv("PG_QUERY_TIMEOUT", "soon")

		cfg := DefaultConfig()
		cfg.ApplyEnv()
		assert.Equal(t, DefaultConfig(), cfg)
	})
}

func TestAdoptedPoolHealth(t *testing.T) {
	raw, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer raw.Close()

	m := NewManagerWithDB(sqlx.NewDb(raw, "postgres"), DefaultConfig())
	require.True(t, m.IsEnabled())
	repos := m.Repository()
	require.NotNil(t, repos)
	assert.NotNil(t, repos.Posteriors)
	assert.NotNil(t, repos.Attributions)

	ctx := context.Background()
	mock.ExpectPing()
	check := m.Health().Health(ctx)
	assert.True(t, check.Healthy)
	assert.Empty(t, check.Errors)
	assert.Contains(t, check.ConnectionPool, "open")

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	check = m.Health().Health(ctx)
	assert.False(t, check.Healthy)
	require.NotEmpty(t, check.Errors)
	assert.Contains(t, check.Errors[0], "connection refused")

	assert.Equal(t, "connected", m.Health().Stats(ctx)["status"])
	require.NoError(t, mock.ExpectationsWereMet())
}

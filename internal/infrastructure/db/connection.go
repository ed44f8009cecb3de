package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postrun/internal/persistence"
	"github.com/sawpanic/postrun/internal/persistence/postgres"
)

var errNoDSN = errors.New("postgres: DSN is required when persistence is enabled")

// Config is the posterior/attribution store connection. Persistence is off
// unless a DSN is supplied or PG_ENABLED says otherwise.
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	Enabled         bool          `yaml:"enabled"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// DefaultConfig sizes the pool for a single engine process. Posterior reads
// sit on the tick path, so the query timeout is short.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    2 * time.Second,
	}
}

// ApplyEnv overrides fields from PG_* environment variables. A DSN implies
// Enabled; an explicit PG_ENABLED still wins.
func (c *Config) ApplyEnv() {
	if dsn, ok := os.LookupEnv("PG_DSN"); ok && dsn != "" {
		c.DSN, c.Enabled = dsn, true
	}

	for key, set := range map[string]func(string) error{
		"PG_ENABLED":        boolInto(&c.Enabled),
		"PG_AUTO_MIGRATE":   boolInto(&c.AutoMigrate),
		"PG_MAX_OPEN_CONNS": intInto(&c.MaxOpenConns),
		"PG_MAX_IDLE_CONNS": intInto(&c.MaxIdleConns),
		"PG_QUERY_TIMEOUT":  durationInto(&c.QueryTimeout),
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		if err := set(v); err != nil {
			log.Warn().Str("env", key).Str("value", v).Msg("Ignoring malformed database override")
		}
	}
}

func boolInto(dst *bool) func(string) error {
	return func(s string) error {
		b, err := strconv.ParseBool(s)
		if err == nil {
			*dst = b
		}
		return err
	}
}

func intInto(dst *int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(s)
		if err == nil {
			*dst = n
		}
		return err
	}
}

func durationInto(dst *time.Duration) func(string) error {
	return func(s string) error {
		d, err := time.ParseDuration(s)
		if err == nil {
			*dst = d
		}
		return err
	}
}

// Validate is a no-op while persistence is disabled.
func (c Config) Validate() error {
	switch {
	case !c.Enabled:
		return nil
	case c.DSN == "":
		return errNoDSN
	case c.MaxOpenConns < 1:
		return fmt.Errorf("postgres: max_open_conns %d, need at least 1", c.MaxOpenConns)
	case c.MaxIdleConns < 0, c.MaxIdleConns > c.MaxOpenConns:
		return fmt.Errorf("postgres: max_idle_conns %d outside [0, %d]", c.MaxIdleConns, c.MaxOpenConns)
	case c.QueryTimeout <= 0:
		return fmt.Errorf("postgres: query_timeout %s, need > 0", c.QueryTimeout)
	}
	return nil
}

// Manager owns the Postgres pool and the repositories built on it. A
// disabled Manager has no pool and a nil Repository; callers fall back to
// the in-memory store.
type Manager struct {
	cfg   Config
	pool  *sqlx.DB
	repos *persistence.Repository
	probe persistence.RepositoryHealth
}

// NewManager opens and pings the pool, migrating first when AutoMigrate is set.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{cfg: cfg, probe: disabledProbe{}}, nil
	}
	if cfg.DSN == "" {
		return nil, errNoDSN
	}

	pool, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			_ = pool.Close()
			return nil, fmt.Errorf("postgres: auto-migrate: %w", err)
		}
	}

	log.Info().
		Int("max_open_conns", cfg.MaxOpenConns).
		Dur("query_timeout", cfg.QueryTimeout).
		Bool("auto_migrate", cfg.AutoMigrate).
		Msg("Posterior store connected")
	return NewManagerWithDB(pool, cfg), nil
}

func open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	pool, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.PingContext(pctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("postgres: unreachable: %w", err)
	}
	return pool, nil
}

// NewManagerWithDB adopts an already-open pool. It does not ping.
func NewManagerWithDB(pool *sqlx.DB, cfg Config) *Manager {
	cfg.Enabled = true
	return &Manager{
		cfg:   cfg,
		pool:  pool,
		repos: postgres.NewRepository(pool, cfg.QueryTimeout),
		probe: poolProbe{pool: pool, timeout: cfg.QueryTimeout},
	}
}

func (m *Manager) Repository() *persistence.Repository { return m.repos }
func (m *Manager) Health() persistence.RepositoryHealth { return m.probe }

// DB exposes the pool for migrations.
func (m *Manager) DB() *sqlx.DB { return m.pool }

func (m *Manager) IsEnabled() bool { return m.cfg.Enabled && m.pool != nil }

func (m *Manager) Close() error {
	if m.pool == nil {
		return nil
	}
	return m.pool.Close()
}

// disabledProbe reports healthy so /health does not degrade when running
// on the in-memory store.
type disabledProbe struct{}

func (disabledProbe) Health(context.Context) persistence.HealthCheck {
	return persistence.HealthCheck{
		Healthy:        true,
		Errors:         []string{"postgres persistence disabled, using in-memory store"},
		ConnectionPool: map[string]int{},
		LastCheck:      time.Now(),
	}
}

func (disabledProbe) Ping(context.Context) error { return nil }

func (disabledProbe) Stats(context.Context) map[string]interface{} {
	return map[string]interface{}{"enabled": false, "status": "disabled"}
}

type poolProbe struct {
	pool    *sqlx.DB
	timeout time.Duration
}

func (p poolProbe) Health(ctx context.Context) persistence.HealthCheck {
	began := time.Now()
	check := persistence.HealthCheck{Healthy: true}
	if err := p.Ping(ctx); err != nil {
		check.Healthy = false
		check.Errors = append(check.Errors, "ping: "+err.Error())
	}

	s := p.pool.Stats()
	check.ConnectionPool = map[string]int{
		"max_open": s.MaxOpenConnections,
		"open":     s.OpenConnections,
		"in_use":   s.InUse,
		"idle":     s.Idle,
	}
	check.LastCheck = time.Now()
	check.ResponseTimeMS = check.LastCheck.Sub(began).Milliseconds()
	return check
}

func (p poolProbe) Ping(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.pool.PingContext(pctx)
}

func (p poolProbe) Stats(context.Context) map[string]interface{} {
	s := p.pool.Stats()
	return map[string]interface{}{
		"enabled":     true,
		"status":      "connected",
		"open":        s.OpenConnections,
		"in_use":      s.InUse,
		"idle":        s.Idle,
		"waits":       s.WaitCount,
		"wait_ms":     s.WaitDuration.Milliseconds(),
		"max_idle_gc": s.MaxIdleClosed,
	}
}

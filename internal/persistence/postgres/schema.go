package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postrun/internal/persistence"
)

// migrations are idempotent and applied in order
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS arm_posteriors (
		arm_key    TEXT PRIMARY KEY,
		alpha      DOUBLE PRECISION NOT NULL CHECK (alpha > 0),
		beta       DOUBLE PRECISION NOT NULL CHECK (beta > 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS post_attribution (
		post_id          TEXT PRIMARY KEY,
		arm_key          TEXT NOT NULL,
		topic            TEXT NOT NULL,
		hook_pattern     TEXT NOT NULL,
		generator_used   TEXT NOT NULL,
		quality_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
		posted_at        TIMESTAMPTZ NOT NULL,
		impressions      BIGINT,
		engagements      BIGINT,
		followers_gained BIGINT,
		engagement_rate  DOUBLE PRECISION,
		success          BOOLEAN,
		measured_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS post_attribution_posted_at_idx ON post_attribution (posted_at DESC)`,
	`CREATE TABLE IF NOT EXISTS generation_spend (
		id         BIGSERIAL PRIMARY KEY,
		model      TEXT NOT NULL,
		tier       TEXT NOT NULL,
		cost_usd   DOUBLE PRECISION NOT NULL CHECK (cost_usd >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS generation_spend_created_at_idx ON generation_spend (created_at)`,
}

// Migrate creates the tables the engine needs
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	log.Info().Int("statements", len(migrations)).Msg("Database schema up to date")
	return nil
}

type schemaInspector struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSchemaInspector reads column metadata from information_schema
func NewSchemaInspector(db *sqlx.DB, timeout time.Duration) persistence.SchemaInspector {
	return &schemaInspector{db: db, timeout: timeout}
}

// Columns lists a table's columns in ordinal order; empty when the table does not exist
func (s *schemaInspector) Columns(ctx context.Context, table string) ([]persistence.ColumnInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_name = $1
		ORDER BY ordinal_position`

	var cols []persistence.ColumnInfo
	if err := s.db.SelectContext(ctx, &cols, query, table); err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	return cols, nil
}

// NewRepository wires every PostgreSQL repository on one connection pool
func NewRepository(db *sqlx.DB, timeout time.Duration) *persistence.Repository {
	return &persistence.Repository{
		Posteriors:   NewPosteriorRepo(db, timeout),
		Attributions: NewAttributionRepo(db, timeout),
		Spend:        NewSpendRepo(db, timeout),
		Schema:       NewSchemaInspector(db, timeout),
	}
}

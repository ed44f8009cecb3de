package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/postrun/internal/persistence"
)

// posteriorRepo implements PosteriorRepo for PostgreSQL
type posteriorRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPosteriorRepo creates a new PostgreSQL posterior repository
func NewPosteriorRepo(db *sqlx.DB, timeout time.Duration) persistence.PosteriorRepo {
	return &posteriorRepo{db: db, timeout: timeout}
}

// Get returns the posterior for one arm, nil when unobserved
func (r *posteriorRepo) Get(ctx context.Context, armKey string) (*persistence.ArmPosterior, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT arm_key, alpha, beta, updated_at
		FROM arm_posteriors
		WHERE arm_key = $1`

	var p persistence.ArmPosterior
	if err := r.db.GetContext(ctx, &p, query, armKey); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get posterior %s: %w", armKey, err)
	}
	return &p, nil
}

// GetMany fetches posteriors for a bounded candidate list in one round trip
func (r *posteriorRepo) GetMany(ctx context.Context, armKeys []string) (map[string]persistence.ArmPosterior, error) {
	out := make(map[string]persistence.ArmPosterior, len(armKeys))
	if len(armKeys) == 0 {
		return out, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT arm_key, alpha, beta, updated_at
		FROM arm_posteriors
		WHERE arm_key = ANY($1)`

	var rows []persistence.ArmPosterior
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(armKeys)); err != nil {
		return nil, fmt.Errorf("failed to get posteriors: %w", err)
	}
	for _, p := range rows {
		out[p.ArmKey] = p
	}
	return out, nil
}

// Increment applies one outcome atomically; a missing row starts from the prior
func (r *posteriorRepo) Increment(ctx context.Context, armKey string, success bool, priorAlpha, priorBeta float64) (persistence.ArmPosterior, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var dAlpha, dBeta float64
	if success {
		dAlpha = 1
	} else {
		dBeta = 1
	}

	query := `
		INSERT INTO arm_posteriors (arm_key, alpha, beta, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (arm_key) DO UPDATE SET
			alpha = arm_posteriors.alpha + $4,
			beta = arm_posteriors.beta + $5,
			updated_at = NOW()
		RETURNING arm_key, alpha, beta, updated_at`

	var p persistence.ArmPosterior
	err := r.db.QueryRowxContext(ctx, query, armKey, priorAlpha+dAlpha, priorBeta+dBeta, dAlpha, dBeta).StructScan(&p)
	if err != nil {
		return persistence.ArmPosterior{}, fmt.Errorf("failed to increment posterior %s: %w", armKey, err)
	}
	return p, nil
}

// All returns every posterior, most recently updated first
func (r *posteriorRepo) All(ctx context.Context) ([]persistence.ArmPosterior, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT arm_key, alpha, beta, updated_at
		FROM arm_posteriors
		ORDER BY updated_at DESC`

	var rows []persistence.ArmPosterior
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list posteriors: %w", err)
	}
	return rows, nil
}

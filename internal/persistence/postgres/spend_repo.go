package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/postrun/internal/persistence"
)

type spendRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSpendRepo creates a new PostgreSQL spend ledger
func NewSpendRepo(db *sqlx.DB, timeout time.Duration) persistence.SpendRepo {
	return &spendRepo{db: db, timeout: timeout}
}

// Record appends one generation cost
func (r *spendRepo) Record(ctx context.Context, e persistence.SpendEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if e.CostUSD < 0 {
		return fmt.Errorf("negative spend %.4f", e.CostUSD)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO generation_spend (model, tier, cost_usd, created_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := r.db.ExecContext(ctx, query, e.Model, e.Tier, e.CostUSD, e.CreatedAt); err != nil {
		return fmt.Errorf("failed to record spend: %w", err)
	}
	return nil
}

// UsedSince sums spend at or after since
func (r *spendRepo) UsedSince(ctx context.Context, since time.Time) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var used float64
	query := `SELECT COALESCE(SUM(cost_usd), 0) FROM generation_spend WHERE created_at >= $1`
	if err := r.db.GetContext(ctx, &used, query, since); err != nil {
		return 0, fmt.Errorf("failed to sum spend: %w", err)
	}
	return used, nil
}

package spend

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postrun/internal/net/budget"
	"github.com/sawpanic/postrun/internal/persistence"
)

// Tracker reports today's generation spend from the ledger table
type Tracker struct {
	repo     persistence.SpendRepo
	limitUSD float64
	location *time.Location
	now      func() time.Time
}

// NewTracker creates a tracker for a daily limit; days start at midnight in loc
func NewTracker(repo persistence.SpendRepo, limitUSD float64, loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{repo: repo, limitUSD: limitUSD, location: loc, now: time.Now}
}

// WithClock replaces the time source
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// dayStart returns local midnight of the current budget day
func (t *Tracker) dayStart() time.Time {
	local := t.now().In(t.location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, t.location)
}

// Status implements budget.SpendTracker
func (t *Tracker) Status(ctx context.Context) (budget.SpendStatus, error) {
	used, err := t.repo.UsedSince(ctx, t.dayStart())
	if err != nil {
		return budget.SpendStatus{}, fmt.Errorf("spend status: %w", err)
	}
	return budget.StatusFor(used, t.limitUSD), nil
}

// Record appends a cost entry to the ledger
func (t *Tracker) Record(ctx context.Context, model, tier string, costUSD float64) error {
	err := t.repo.Record(ctx, persistence.SpendEntry{
		Model:     model,
		Tier:      tier,
		CostUSD:   costUSD,
		CreatedAt: t.now().UTC(),
	})
	if err != nil {
		return err
	}
	log.Debug().
		Str("model", model).
		Str("tier", tier).
		Float64("cost_usd", costUSD).
		Msg("Generation spend recorded")
	return nil
}

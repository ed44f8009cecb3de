package spend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/postrun/internal/persistence"
	"github.com/sawpanic/postrun/internal/persistence/memstore"
)

type failingRepo struct{}

func (failingRepo) Record(context.Context, persistence.SpendEntry) error { return errors.New("down") }
func (failingRepo) UsedSince(context.Context, time.Time) (float64, error) {
	return 0, errors.New("down")
}

func TestTracker_StatusCountsOnlyToday(t *testing.T) {
	repo := memstore.New().Repository().Spend
	now := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	tracker := NewTracker(repo, 10, time.UTC).WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, repo.Record(ctx, persistence.SpendEntry{CostUSD: 9.5, CreatedAt: now.Add(-12 * time.Hour)}))
	require.NoError(t, tracker.Record(ctx, "gpt-large", "premium", 2.5))

	st, err := tracker.Status(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, st.UsedUSD, 1e-9)
	assert.InDelta(t, 25.0, st.PercentUsed, 1e-9)
	assert.InDelta(t, 7.5, st.RemainingUSD, 1e-9)
	assert.False(t, st.IsBlocked)
}

func TestTracker_BlockedAtLimit(t *testing.T) {
	repo := memstore.New().Repository().Spend
	now := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	tracker := NewTracker(repo, 10, time.UTC).WithClock(func() time.Time { return now })

	require.NoError(t, tracker.Record(context.Background(), "gpt-large", "premium", 10))
	st, err := tracker.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.IsBlocked)
}

func TestTracker_ErrorPropagates(t *testing.T) {
	tracker := NewTracker(failingRepo{}, 10, nil)
	_, err := tracker.Status(context.Background())
	assert.Error(t, err)
}

package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/postrun/internal/persistence"
)

func TestPosteriorIncrementStartsFromPrior(t *testing.T) {
	repo := New().Repository().Posteriors
	ctx := context.Background()

	p, err := repo.Increment(ctx, "k", true, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.Alpha)
	assert.Equal(t, 1.0, p.Beta)

	p, err = repo.Increment(ctx, "k", false, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.Alpha)
	assert.Equal(t, 2.0, p.Beta)

	missing, err := repo.Get(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, missing)

	many, err := repo.GetMany(ctx, []string{"k", "other"})
	require.NoError(t, err)
	assert.Len(t, many, 1)
}

func TestAttributionLifecycle(t *testing.T) {
	repo := New().Repository().Attributions
	ctx := context.Background()
	posted := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)

	require.NoError(t, repo.RecordPublished(ctx, persistence.Attribution{PostID: "p1", Topic: "sleep", PostedAt: posted}))
	require.NoError(t, repo.RecordPublished(ctx, persistence.Attribution{PostID: "p2", Topic: "focus", PostedAt: posted.Add(time.Hour)}))

	last, ok, err := repo.LastPostedAt(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, posted.Add(time.Hour), last)

	measured, err := repo.ListMeasuredSince(ctx, posted.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, measured)

	require.NoError(t, repo.RecordOutcome(ctx, persistence.OutcomeUpdate{PostID: "p1", Impressions: 100, EngagementRate: 0.05, Success: true}))
	measured, err = repo.ListMeasuredSince(ctx, posted.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, measured, 1)
	assert.Equal(t, "p1", measured[0].PostID)

	err = repo.RecordOutcome(ctx, persistence.OutcomeUpdate{PostID: "nope"})
	assert.True(t, errors.Is(err, persistence.ErrNotFound))

	st, err := repo.Stats(ctx, posted.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.TotalPosts)
	assert.InDelta(t, 0.025, st.AvgEngagement, 1e-9)
	assert.InDelta(t, 50.0, st.AvgImpressions, 1e-9)
}

func TestSpendUsedSince(t *testing.T) {
	repo := New().Repository().Spend
	ctx := context.Background()
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Record(ctx, persistence.SpendEntry{CostUSD: 1.5, CreatedAt: day.Add(-time.Hour)}))
	require.NoError(t, repo.Record(ctx, persistence.SpendEntry{CostUSD: 2.0, CreatedAt: day.Add(time.Hour)}))
	assert.Error(t, repo.Record(ctx, persistence.SpendEntry{CostUSD: -1}))

	used, err := repo.UsedSince(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 2.0, used)
}

func TestSchemaHasEssentialColumns(t *testing.T) {
	cols, err := New().Repository().Schema.Columns(context.Background(), persistence.AttributionTable)
	require.NoError(t, err)
	assert.Empty(t, persistence.MissingColumns(cols))
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/postrun/internal/persistence"
)

const attributionColumns = `post_id, arm_key, topic, hook_pattern, generator_used, quality_score, posted_at,
		       impressions, engagements, followers_gained, engagement_rate, success, measured_at`

// attributionRepo implements AttributionRepo for PostgreSQL
type attributionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAttributionRepo creates a new PostgreSQL attribution repository
func NewAttributionRepo(db *sqlx.DB, timeout time.Duration) persistence.AttributionRepo {
	return &attributionRepo{db: db, timeout: timeout}
}

// RecordPublished inserts the pending row; republishing the same post id is a no-op
func (r *attributionRepo) RecordPublished(ctx context.Context, a persistence.Attribution) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if a.PostID == "" {
		return fmt.Errorf("attribution requires a post id")
	}

	query := `
		INSERT INTO post_attribution
		(post_id, arm_key, topic, hook_pattern, generator_used, quality_score, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (post_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		a.PostID, a.ArmKey, a.Topic, a.HookPattern, a.GeneratorUsed, a.QualityScore, a.PostedAt)
	if err != nil {
		return fmt.Errorf("failed to record attribution %s: %w", a.PostID, err)
	}
	return nil
}

// Get returns one attribution row
func (r *attributionRepo) Get(ctx context.Context, postID string) (*persistence.Attribution, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + attributionColumns + ` FROM post_attribution WHERE post_id = $1`

	var a persistence.Attribution
	if err := r.db.GetContext(ctx, &a, query, postID); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("attribution %s: %w", postID, persistence.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get attribution %s: %w", postID, err)
	}
	return &a, nil
}

// RecordOutcome stores measured engagement for a post
func (r *attributionRepo) RecordOutcome(ctx context.Context, u persistence.OutcomeUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE post_attribution SET
			impressions = $2,
			engagements = $3,
			followers_gained = $4,
			engagement_rate = $5,
			success = $6,
			measured_at = $7
		WHERE post_id = $1`

	res, err := r.db.ExecContext(ctx, query,
		u.PostID, u.Impressions, u.Engagements, u.FollowersGained, u.EngagementRate, u.Success, u.MeasuredAt)
	if err != nil {
		return fmt.Errorf("failed to record outcome %s: %w", u.PostID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("attribution %s: %w", u.PostID, persistence.ErrNotFound)
	}
	return nil
}

// ListMeasuredSince returns measured posts for momentum refreshes
func (r *attributionRepo) ListMeasuredSince(ctx context.Context, since time.Time) ([]persistence.Attribution, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + attributionColumns + `
		FROM post_attribution
		WHERE posted_at >= $1 AND engagement_rate IS NOT NULL
		ORDER BY posted_at DESC`

	var rows []persistence.Attribution
	if err := r.db.SelectContext(ctx, &rows, query, since); err != nil {
		return nil, fmt.Errorf("failed to list measured attributions: %w", err)
	}
	return rows, nil
}

// LastPostedAt returns the newest posted_at
func (r *attributionRepo) LastPostedAt(ctx context.Context) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var last sql.NullTime
	if err := r.db.GetContext(ctx, &last, `SELECT MAX(posted_at) FROM post_attribution`); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get last post time: %w", err)
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return last.Time, true, nil
}

// Count returns the total number of rows
func (r *attributionRepo) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM post_attribution`); err != nil {
		return 0, fmt.Errorf("failed to count attributions: %w", err)
	}
	return n, nil
}

// Stats returns averages over posts since the given time
func (r *attributionRepo) Stats(ctx context.Context, since time.Time) (persistence.AttributionStats, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT
			COUNT(*) AS total_posts,
			COALESCE(AVG(COALESCE(engagement_rate, 0)), 0) AS avg_engagement,
			COALESCE(AVG(COALESCE(impressions, 0)), 0) AS avg_impressions,
			COALESCE(AVG(COALESCE(followers_gained, 0)), 0) AS avg_followers,
			MAX(posted_at) AS most_recent_post
		FROM post_attribution
		WHERE posted_at > $1`

	var st persistence.AttributionStats
	if err := r.db.GetContext(ctx, &st, query, since); err != nil {
		return persistence.AttributionStats{}, fmt.Errorf("failed to get attribution stats: %w", err)
	}
	return st, nil
}

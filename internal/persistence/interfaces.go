package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups where a nil result would be ambiguous
var ErrNotFound = errors.New("not found")

// ArmPosterior is the Beta(alpha, beta) belief about one arm's success rate
type ArmPosterior struct {
	ArmKey    string    `json:"arm_key" db:"arm_key"`
	Alpha     float64   `json:"alpha" db:"alpha"`
	Beta      float64   `json:"beta" db:"beta"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Attribution links a published post to the arm and generator that produced it.
// Outcome columns stay NULL until engagement is measured.
type Attribution struct {
	PostID        string    `json:"post_id" db:"post_id"`
	ArmKey        string    `json:"arm_key" db:"arm_key"`
	Topic         string    `json:"topic" db:"topic"`
	HookPattern   string    `json:"hook_pattern" db:"hook_pattern"`
	GeneratorUsed string    `json:"generator_used" db:"generator_used"`
	QualityScore  float64   `json:"quality_score" db:"quality_score"`
	PostedAt      time.Time `json:"posted_at" db:"posted_at"`

	Impressions     *int64     `json:"impressions,omitempty" db:"impressions"`
	Engagements     *int64     `json:"engagements,omitempty" db:"engagements"`
	FollowersGained *int64     `json:"followers_gained,omitempty" db:"followers_gained"`
	EngagementRate  *float64   `json:"engagement_rate,omitempty" db:"engagement_rate"`
	Success         *bool      `json:"success,omitempty" db:"success"`
	MeasuredAt      *time.Time `json:"measured_at,omitempty" db:"measured_at"`
}

// Measured reports whether engagement has been recorded for the post
func (a Attribution) Measured() bool {
	return a.EngagementRate != nil
}

// OutcomeUpdate carries observed engagement for one post
type OutcomeUpdate struct {
	PostID          string    `json:"post_id"`
	Impressions     int64     `json:"impressions"`
	Engagements     int64     `json:"engagements"`
	FollowersGained int64     `json:"followers_gained"`
	EngagementRate  float64   `json:"engagement_rate"`
	Success         bool      `json:"success"`
	MeasuredAt      time.Time `json:"measured_at"`
}

// AttributionStats summarises recent posts
type AttributionStats struct {
	TotalPosts     int64      `json:"total_posts" db:"total_posts"`
	AvgEngagement  float64    `json:"avg_engagement" db:"avg_engagement"`
	AvgImpressions float64    `json:"avg_impressions" db:"avg_impressions"`
	AvgFollowers   float64    `json:"avg_followers" db:"avg_followers"`
	MostRecentPost *time.Time `json:"most_recent_post,omitempty" db:"most_recent_post"`
}

// SpendEntry is one accounted generation call
type SpendEntry struct {
	ID        int64     `json:"id" db:"id"`
	Model     string    `json:"model" db:"model"`
	Tier      string    `json:"tier" db:"tier"`
	CostUSD   float64   `json:"cost_usd" db:"cost_usd"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ColumnInfo describes one table column as reported by information_schema
type ColumnInfo struct {
	Name     string `json:"column_name" db:"column_name"`
	DataType string `json:"data_type" db:"data_type"`
	Nullable string `json:"is_nullable" db:"is_nullable"`
}

// PosteriorRepo stores arm posteriors. Rows are only ever created or incremented.
type PosteriorRepo interface {
	// Get returns nil, nil when the arm has never been observed
	Get(ctx context.Context, armKey string) (*ArmPosterior, error)

	// GetMany returns the posteriors that exist for keys; missing keys are absent from the map
	GetMany(ctx context.Context, armKeys []string) (map[string]ArmPosterior, error)

	// Increment adds one success or failure, creating the row from the prior when absent
	Increment(ctx context.Context, armKey string, success bool, priorAlpha, priorBeta float64) (ArmPosterior, error)

	// All returns every posterior row
	All(ctx context.Context) ([]ArmPosterior, error)
}

// AttributionRepo stores published posts and their observed outcomes
type AttributionRepo interface {
	// RecordPublished inserts a pending attribution row
	RecordPublished(ctx context.Context, a Attribution) error

	// Get returns ErrNotFound for unknown posts
	Get(ctx context.Context, postID string) (*Attribution, error)

	// RecordOutcome fills the outcome columns; ErrNotFound for unknown posts
	RecordOutcome(ctx context.Context, u OutcomeUpdate) error

	// ListMeasuredSince returns posts with outcomes posted at or after since
	ListMeasuredSince(ctx context.Context, since time.Time) ([]Attribution, error)

	// LastPostedAt returns the newest posted_at, false when no post exists
	LastPostedAt(ctx context.Context) (time.Time, bool, error)

	// Count returns the number of attribution rows
	Count(ctx context.Context) (int64, error)

	// Stats summarises posts since the given time
	Stats(ctx context.Context, since time.Time) (AttributionStats, error)
}

// SpendRepo is the ledger of generation spend
type SpendRepo interface {
	Record(ctx context.Context, e SpendEntry) error
	UsedSince(ctx context.Context, since time.Time) (float64, error)
}

// SchemaInspector reads table metadata
type SchemaInspector interface {
	Columns(ctx context.Context, table string) ([]ColumnInfo, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Posteriors   PosteriorRepo
	Attributions AttributionRepo
	Spend        SpendRepo
	Schema       SchemaInspector
}

// AttributionTable is the table the learning loop reads outcomes from
const AttributionTable = "post_attribution"

// EssentialAttributionColumns must exist for the learning loop to work
var EssentialAttributionColumns = []string{
	"engagement_rate", "impressions", "followers_gained", "hook_pattern", "topic", "generator_used",
}

// MissingColumns returns the essential columns absent from cols, in order
func MissingColumns(cols []ColumnInfo) []string {
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c.Name] = true
	}
	var missing []string
	for _, name := range EssentialAttributionColumns {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
	Stats(ctx context.Context) map[string]interface{}
}

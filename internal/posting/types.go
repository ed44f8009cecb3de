// Package posting runs one scheduling tick end to end: decide, generate,
// gate, publish, and attribute. Engagement feedback flows back through
// RecordOutcome into the arm model.
package posting

import (
	"context"
	"time"

	"github.com/sawpanic/postrun/internal/arms"
	"github.com/sawpanic/postrun/internal/bandit"
	"github.com/sawpanic/postrun/internal/opportunity"
	"github.com/sawpanic/postrun/internal/quality"
)

// Generation tiers
const (
	TierPremium  = "premium"
	TierStandard = "standard"
	TierFallback = "fallback"
)

// Brief tells the producer what to write
type Brief struct {
	Topic     string        `json:"topic"`
	HookType  arms.HookType `json:"hook_type"`
	CTAType   arms.CTAType  `json:"cta_type"`
	ThreadLen int           `json:"thread_len"`
	Format    string        `json:"format"`
	Tier      string        `json:"tier"`
	Feedback  []string      `json:"feedback,omitempty"` // rejection reasons from the previous attempt
}

// BriefFor builds the brief for an arm
func BriefFor(arm arms.Arm) Brief {
	return Brief{
		Topic:     arm.TopicCluster,
		HookType:  arm.HookType,
		CTAType:   arm.CTAType,
		ThreadLen: arm.ThreadLen,
		Format:    arm.Format(),
	}
}

// Generation is one producer result
type Generation struct {
	Candidate quality.Candidate `json:"candidate"`
	Model     string            `json:"model"`
	CostUSD   float64           `json:"cost_usd"`
}

// Producer generates candidate content for a brief
type Producer interface {
	Produce(ctx context.Context, brief Brief) (Generation, error)
}

// Published is the publisher's receipt
type Published struct {
	PostID      string    `json:"post_id"`
	PublishedAt time.Time `json:"published_at"`
}

// Publisher hands content to the social platform
type Publisher interface {
	Publish(ctx context.Context, c quality.Candidate) (Published, error)
}

// Fallbacks supplies canned content when generation yields nothing publishable
type Fallbacks interface {
	For(topic, format string) (quality.Candidate, bool)
}

// Decider makes the post/wait decision
type Decider interface {
	Evaluate(ctx context.Context) opportunity.Opportunity
}

// PremiumGate admits premium generation calls
type PremiumGate interface {
	AllowPremiumCall(ctx context.Context, requested bool) bool
}

// Throttle blocks until a call for key may proceed
type Throttle interface {
	Wait(ctx context.Context, key string) error
}

// SpendRecorder accounts generation cost
type SpendRecorder interface {
	Record(ctx context.Context, model, tier string, costUSD float64) error
}

// Learner updates arm beliefs from observed outcomes
type Learner interface {
	Update(ctx context.Context, arm arms.Arm, success bool) (bandit.Posterior, error)
}

// TickResult describes what one tick did
type TickResult struct {
	Opportunity  opportunity.Opportunity `json:"opportunity"`
	Posted       bool                    `json:"posted"`
	PostID       string                  `json:"post_id,omitempty"`
	Tier         string                  `json:"tier,omitempty"`
	Attempts     int                     `json:"attempts"`
	UsedFallback bool                    `json:"used_fallback"`
	Scores       *quality.ContentScores  `json:"scores,omitempty"`
	Reason       string                  `json:"reason,omitempty"`
}

// Tick outcome reasons
const (
	ReasonWait             = "wait"
	ReasonPosted           = "posted"
	ReasonNoCandidate      = "no_candidate"
	ReasonFallbackRejected = "fallback_rejected"
	ReasonPublishFailed    = "publish_failed"
)

// Engagement is the measured response to one post
type Engagement struct {
	Impressions     int64 `json:"impressions"`
	Engagements     int64 `json:"engagements"`
	FollowersGained int64 `json:"followers_gained"`
}

// Rate returns engagements per impression, zero without impressions
func (e Engagement) Rate() float64 {
	if e.Impressions <= 0 {
		return 0
	}
	return float64(e.Engagements) / float64(e.Impressions)
}

// Outcome is the result of recording engagement for a post
type Outcome struct {
	PostID         string            `json:"post_id"`
	Arm            arms.Arm          `json:"arm"`
	EngagementRate float64           `json:"engagement_rate"`
	Success        bool              `json:"success"`
	Learned        bool              `json:"learned"`
	Posterior      *bandit.Posterior `json:"posterior,omitempty"`
}

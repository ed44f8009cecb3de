package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postrun/internal/arms"
	"github.com/sawpanic/postrun/internal/metrics"
	"github.com/sawpanic/postrun/internal/net/client"
	"github.com/sawpanic/postrun/internal/persistence"
	"github.com/sawpanic/postrun/internal/quality"
)

// Config for the pipeline
type Config struct {
	MaxRegenerations      int     `yaml:"max_regenerations"`
	PreferPremium         bool    `yaml:"prefer_premium"`
	SuccessEngagementRate float64 `yaml:"success_engagement_rate"`
}

// DefaultConfig returns one regeneration, premium preferred, 2% engagement as success
func DefaultConfig() Config {
	return Config{
		MaxRegenerations:      1,
		PreferPremium:         true,
		SuccessEngagementRate: 0.02,
	}
}

// Validate checks ranges
func (c Config) Validate() error {
	if c.MaxRegenerations < 0 || c.MaxRegenerations > 1 {
		return fmt.Errorf("max_regenerations must be 0 or 1, got %d", c.MaxRegenerations)
	}
	if c.SuccessEngagementRate < 0 || c.SuccessEngagementRate > 1 {
		return fmt.Errorf("success_engagement_rate must be in [0,1], got %f", c.SuccessEngagementRate)
	}
	return nil
}

// Deps are the pipeline's collaborators. Budget, Throttle, Spend, and
// Fallbacks are optional.
type Deps struct {
	Decider      Decider
	Producer     Producer
	Publisher    Publisher
	Gate         *quality.Gate
	Budget       PremiumGate
	Throttle     Throttle
	Spend        SpendRecorder
	Fallbacks    Fallbacks
	Learner      Learner
	Attributions persistence.AttributionRepo
	Metrics      *metrics.Registry
	Now          func() time.Time
}

// Pipeline orchestrates posting ticks and outcome feedback
type Pipeline struct {
	cfg Config
	Deps
}

// NewPipeline validates the configuration and required collaborators
func NewPipeline(cfg Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Decider == nil:
		return nil, errors.New("posting pipeline requires a decider")
	case deps.Producer == nil:
		return nil, errors.New("posting pipeline requires a producer")
	case deps.Publisher == nil:
		return nil, errors.New("posting pipeline requires a publisher")
	case deps.Gate == nil:
		return nil, errors.New("posting pipeline requires a quality gate")
	case deps.Learner == nil:
		return nil, errors.New("posting pipeline requires a learner")
	case deps.Attributions == nil:
		return nil, errors.New("posting pipeline requires an attribution repository")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{cfg: cfg, Deps: deps}, nil
}

// Tick runs one scheduling tick. A wait decision or an unpublishable
// candidate is a normal result; only a publish failure is returned as an error.
func (p *Pipeline) Tick(ctx context.Context) (TickResult, error) {
	opp := p.Decider.Evaluate(ctx)
	result := TickResult{Opportunity: opp}
	if !opp.ShouldPost {
		result.Reason = ReasonWait
		return result, nil
	}

	best, tier, attempts, cause := p.generate(ctx, BriefFor(opp.Arm))
	result.Attempts = attempts

	if best == nil {
		p.Metrics.RecordFallback(cause)
		fb, ok := p.fallback(opp.Arm)
		if !ok {
			log.Warn().Str("decision_id", opp.ID).Str("cause", cause).Msg("No publishable candidate and no fallback for topic")
			result.Reason = ReasonNoCandidate
			return result, nil
		}
		scores := p.Gate.Score(fb)
		if !scores.Passed {
			log.Warn().Str("decision_id", opp.ID).Strs("reasons", scores.Reasons).Msg("Fallback candidate rejected, nothing published")
			result.Scores = &scores
			result.Reason = ReasonFallbackRejected
			return result, nil
		}
		best = &quality.ScoredCandidate{Candidate: fb, Scores: scores}
		tier = TierFallback
		result.UsedFallback = true
	}
	result.Tier = tier
	result.Scores = &best.Scores

	pub, err := p.Publisher.Publish(ctx, best.Candidate)
	if err != nil {
		result.Reason = ReasonPublishFailed
		return result, fmt.Errorf("publish %s: %w", opp.ID, err)
	}
	p.Metrics.RecordPublished()

	attribution := persistence.Attribution{
		PostID:        pub.PostID,
		ArmKey:        opp.Arm.Key(),
		Topic:         opp.Arm.TopicCluster,
		HookPattern:   string(opp.Arm.HookType),
		GeneratorUsed: tier,
		QualityScore:  best.Scores.Overall,
		PostedAt:      pub.PublishedAt,
	}
	if attribution.PostedAt.IsZero() {
		attribution.PostedAt = p.Now().UTC()
	}
	if err := p.Attributions.RecordPublished(ctx, attribution); err != nil {
		// the post is already live, so attribution failure is logged and the tick succeeds
		log.Warn().Err(err).Str("post_id", pub.PostID).Msg("Failed to record attribution")
	}

	log.Info().
		Str("decision_id", opp.ID).
		Str("post_id", pub.PostID).
		Str("arm", opp.Arm.Key()).
		Str("tier", tier).
		Int("attempts", attempts).
		Float64("quality", best.Scores.Overall).
		Msg("Post published")

	result.Posted = true
	result.PostID = pub.PostID
	result.Reason = ReasonPosted
	return result, nil
}

// generate produces up to 1+MaxRegenerations candidates, feeding rejection
// reasons into the next brief, and returns the best passing one. On failure it
// returns nil and the fallback cause.
func (p *Pipeline) generate(ctx context.Context, brief Brief) (*quality.ScoredCandidate, string, int, string) {
	var scored []quality.ScoredCandidate
	cause := "no_passing_candidate"
	attempts := 0

	for attempt := 0; attempt <= p.cfg.MaxRegenerations; attempt++ {
		brief.Tier = p.chooseTier(ctx)
		attempts++

		gen, err := p.produce(ctx, brief)
		if err != nil {
			cause = producerCause(err)
			log.Warn().Err(err).Str("topic", brief.Topic).Str("tier", brief.Tier).Msg("Content generation failed")
			break
		}

		sc := quality.ScoredCandidate{Candidate: gen.Candidate, Scores: p.Gate.Score(gen.Candidate)}
		scored = append(scored, sc)
		if sc.Scores.Passed {
			break
		}
		brief.Feedback = sc.Scores.Reasons
		if attempts <= p.cfg.MaxRegenerations {
			log.Debug().Str("topic", brief.Topic).Int("attempt", attempts).Msg("Regenerating after rejection")
		}
	}

	// the loop stops at the first pass, so the winner is the latest attempt
	best, err := quality.SelectBest(scored)
	if err != nil {
		return nil, "", attempts, cause
	}
	return &best, brief.Tier, attempts, ""
}

func (p *Pipeline) chooseTier(ctx context.Context) string {
	if p.Budget != nil && p.Budget.AllowPremiumCall(ctx, p.cfg.PreferPremium) {
		return TierPremium
	}
	return TierStandard
}

func (p *Pipeline) produce(ctx context.Context, brief Brief) (Generation, error) {
	if p.Throttle != nil {
		if err := p.Throttle.Wait(ctx, brief.Tier); err != nil {
			return Generation{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	gen, err := p.Producer.Produce(ctx, brief)
	if err != nil {
		return Generation{}, err
	}
	if gen.Candidate.Topic == "" {
		gen.Candidate.Topic = brief.Topic
	}
	if gen.Candidate.Format == "" {
		gen.Candidate.Format = brief.Format
	}
	if p.Spend != nil && gen.CostUSD > 0 {
		if err := p.Spend.Record(ctx, gen.Model, brief.Tier, gen.CostUSD); err != nil {
			log.Warn().Err(err).Str("model", gen.Model).Float64("cost_usd", gen.CostUSD).Msg("Failed to record generation spend")
		}
	}
	return gen, nil
}

func (p *Pipeline) fallback(arm arms.Arm) (quality.Candidate, bool) {
	if p.Fallbacks == nil {
		return quality.Candidate{}, false
	}
	return p.Fallbacks.For(arm.TopicCluster, arm.Format())
}

func producerCause(err error) string {
	var perr *client.ProviderError
	if errors.As(err, &perr) {
		return perr.Cause()
	}
	return "producer_error"
}

// RecordOutcome stores measured engagement for a post and updates the arm
// that produced it. Fallback posts are recorded but do not teach the model,
// since their content did not come from the arm's brief.
func (p *Pipeline) RecordOutcome(ctx context.Context, postID string, e Engagement) (Outcome, error) {
	attr, err := p.Attributions.Get(ctx, postID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load attribution %s: %w", postID, err)
	}
	arm, err := arms.ParseKey(attr.ArmKey)
	if err != nil {
		return Outcome{}, fmt.Errorf("attribution %s: %w", postID, err)
	}

	rate := e.Rate()
	success := rate >= p.cfg.SuccessEngagementRate
	err = p.Attributions.RecordOutcome(ctx, persistence.OutcomeUpdate{
		PostID:          postID,
		Impressions:     e.Impressions,
		Engagements:     e.Engagements,
		FollowersGained: e.FollowersGained,
		EngagementRate:  rate,
		Success:         success,
		MeasuredAt:      p.Now().UTC(),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("record outcome %s: %w", postID, err)
	}

	out := Outcome{PostID: postID, Arm: arm, EngagementRate: rate, Success: success}
	if attr.GeneratorUsed == TierFallback {
		log.Info().Str("post_id", postID).Msg("Outcome recorded for fallback post, arm not updated")
		return out, nil
	}

	posterior, err := p.Learner.Update(ctx, arm, success)
	if err != nil {
		return out, fmt.Errorf("update arm %s: %w", arm.Key(), err)
	}
	out.Learned = true
	out.Posterior = &posterior

	log.Info().
		Str("post_id", postID).
		Str("arm", arm.Key()).
		Float64("engagement_rate", rate).
		Bool("success", success).
		Float64("alpha", posterior.Alpha).
		Float64("beta", posterior.Beta).
		Msg("Outcome recorded")
	return out, nil
}

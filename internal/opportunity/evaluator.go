package opportunity

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postrun/internal/arms"
	"github.com/sawpanic/postrun/internal/metrics"
)

// ArmModel is the bandit as seen by the evaluator
type ArmModel interface {
	SampleArm(ctx context.Context, candidates []arms.Arm) (arms.Arm, error)
	Predict(ctx context.Context, arm arms.Arm) float64
}

// MomentumLookup returns a topic's momentum in [0,100]
type MomentumLookup interface {
	Get(ctx context.Context, topic string) (float64, error)
}

// LastPostLookup returns when the account last published
type LastPostLookup interface {
	LastPostedAt(ctx context.Context) (time.Time, bool, error)
}

// Opportunity is the decision record for one scheduling tick
type Opportunity struct {
	ID           string    `json:"id"`
	Arm          arms.Arm  `json:"arm"`
	Explored     bool      `json:"explored"`
	PredictedQ   float64   `json:"predicted_q"`
	Momentum     float64   `json:"momentum"`
	Freshness    float64   `json:"freshness"`
	TimeBonus    float64   `json:"time_bonus"`
	OverallScore int       `json:"overall_score"`
	ShouldPost   bool      `json:"should_post"`
	Hour         int       `json:"hour"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// Evaluator combines arm value, momentum, freshness, and time of day into a
// post/wait decision.
type Evaluator struct {
	cfg      Config
	space    *arms.Space
	model    ArmModel
	momentum MomentumLookup
	lastPost LastPostLookup
	metrics  *metrics.Registry
	now      func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithClock injects the time source
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithRand injects the exploration and sampling source
func WithRand(rng *rand.Rand) Option {
	return func(e *Evaluator) { e.rng = rng }
}

// WithMetrics records decisions
func WithMetrics(m *metrics.Registry) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// NewEvaluator wires the evaluator's collaborators
func NewEvaluator(cfg Config, space *arms.Space, model ArmModel, momentum MomentumLookup, lastPost LastPostLookup, opts ...Option) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if space == nil || space.Size() == 0 {
		return nil, arms.ErrNoArms
	}
	e := &Evaluator{
		cfg:      cfg,
		space:    space,
		model:    model,
		momentum: momentum,
		lastPost: lastPost,
		now:      time.Now,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate produces exactly one post/wait decision. Lookup failures resolve
// to neutral defaults; it never fails.
func (e *Evaluator) Evaluate(ctx context.Context) Opportunity {
	now := e.now().In(e.cfg.location())
	hour := now.Hour()

	arm, explored := e.selectArm(ctx, arms.BucketForHour(hour))

	opp := Opportunity{
		ID:          uuid.NewString(),
		Arm:         arm,
		Explored:    explored,
		PredictedQ:  e.model.Predict(ctx, arm),
		Momentum:    e.lookupMomentum(ctx, arm.TopicCluster),
		Freshness:   e.lookupFreshness(ctx, now),
		TimeBonus:   TimeBonus(e.cfg, hour),
		Hour:        hour,
		EvaluatedAt: now,
	}
	opp.OverallScore = Score(e.cfg.Weights, opp.PredictedQ, opp.Momentum, opp.Freshness, opp.TimeBonus)
	opp.ShouldPost = opp.OverallScore > e.cfg.PostThreshold && InOptimalWindow(e.cfg, hour)

	e.metrics.RecordDecision(opp.ShouldPost, opp.OverallScore)
	log.Info().
		Str("decision_id", opp.ID).
		Str("arm", arm.Key()).
		Bool("explored", explored).
		Float64("predicted_q", opp.PredictedQ).
		Float64("momentum", opp.Momentum).
		Float64("freshness", opp.Freshness).
		Float64("time_bonus", opp.TimeBonus).
		Int("score", opp.OverallScore).
		Bool("should_post", opp.ShouldPost).
		Msg("Posting opportunity evaluated")
	return opp
}

// selectArm mixes uniform exploration with Thompson sampling over a bounded
// candidate list for the current time bucket.
func (e *Evaluator) selectArm(ctx context.Context, bucket arms.TimeBucket) (arms.Arm, bool) {
	e.mu.Lock()
	candidates := arms.Sample(e.space.ForBucket(bucket), e.cfg.MaxCandidates, e.rng)
	explore := e.rng.Float64() < e.cfg.Epsilon
	pick := e.rng.IntN(len(candidates))
	e.mu.Unlock()

	if explore {
		return candidates[pick], true
	}

	arm, err := e.model.SampleArm(ctx, candidates)
	if err != nil {
		log.Warn().Err(err).Msg("Arm sampling failed, exploring instead")
		return candidates[pick], true
	}
	return arm, false
}

func (e *Evaluator) lookupMomentum(ctx context.Context, topic string) float64 {
	m, err := e.momentum.Get(ctx, topic)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Momentum lookup failed, using 0")
		e.metrics.RecordStoreDefault("momentum")
		return 0
	}
	return clamp(m, 0, 100)
}

func (e *Evaluator) lookupFreshness(ctx context.Context, now time.Time) float64 {
	last, ok, err := e.lastPost.LastPostedAt(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Last post lookup failed, using freshness 100")
		e.metrics.RecordStoreDefault("last_post")
		return 100
	}
	if !ok {
		return 100
	}
	return Freshness(e.cfg, now.Sub(last).Hours())
}

// Score is round(q*w.PredictedQ + momentum*w.Momentum + freshness*w.Freshness + timeBonus*w.TimeBonus)
func Score(w Weights, predictedQ, momentum, freshness, timeBonus float64) int {
	return int(math.Round(predictedQ*w.PredictedQ + momentum*w.Momentum + freshness*w.Freshness + timeBonus*w.TimeBonus))
}

// Freshness ramps linearly from 0 at the grace period to 100
func Freshness(cfg Config, hoursSinceLast float64) float64 {
	return clamp(cfg.FreshnessPerHour*(hoursSinceLast-cfg.FreshnessGraceHours), 0, 100)
}

// InOptimalWindow reports whether hour falls in any optimal window
func InOptimalWindow(cfg Config, hour int) bool {
	for _, w := range cfg.OptimalWindows {
		if w.Contains(hour) {
			return true
		}
	}
	return false
}

// TimeBonus is 100 inside an optimal window, 50 in the daytime band, else 0
func TimeBonus(cfg Config, hour int) float64 {
	switch {
	case InOptimalWindow(cfg, hour):
		return 100
	case cfg.DaytimeBand.Contains(hour):
		return 50
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func (o Opportunity) String() string {
	verdict := "wait"
	if o.ShouldPost {
		verdict = "post"
	}
	return fmt.Sprintf("%s score=%d arm=%s", verdict, o.OverallScore, o.Arm.Key())
}

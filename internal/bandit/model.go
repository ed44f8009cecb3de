// Package bandit selects content arms by Thompson sampling over Beta posteriors.
//
// Posteriors live in a PosteriorRepo behind a circuit breaker. Any read failure
// degrades to the prior so that selection never blocks a scheduling tick.
package bandit

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sawpanic/postrun/internal/arms"
	"github.com/sawpanic/postrun/internal/metrics"
	"github.com/sawpanic/postrun/internal/net/circuit"
	"github.com/sawpanic/postrun/internal/persistence"
)

// Posterior is a Beta(Alpha, Beta) belief about an arm's success probability
type Posterior struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// Mean is the point estimate alpha / (alpha + beta)
func (p Posterior) Mean() float64 {
	return p.Alpha / (p.Alpha + p.Beta)
}

// Observations is the number of outcomes folded into the posterior beyond prior
func (p Posterior) Observations(prior Posterior) int {
	return int(p.Alpha - prior.Alpha + p.Beta - prior.Beta)
}

// Sampler draws from Beta(alpha, beta)
type Sampler interface {
	Sample(alpha, beta float64) float64
}

// gonumSampler uses gonum's Beta distribution with the global source
type gonumSampler struct{}

func (gonumSampler) Sample(alpha, beta float64) float64 {
	return distuv.Beta{Alpha: alpha, Beta: beta}.Rand()
}

// Config holds the weak prior applied to unobserved arms
type Config struct {
	PriorAlpha float64 `yaml:"prior_alpha"`
	PriorBeta  float64 `yaml:"prior_beta"`
}

// DefaultConfig returns the uniform Beta(1,1) prior
func DefaultConfig() Config {
	return Config{PriorAlpha: 1, PriorBeta: 1}
}

// Validate ensures the prior keeps the Beta distribution well-defined
func (c Config) Validate() error {
	if c.PriorAlpha <= 0 || c.PriorBeta <= 0 {
		return fmt.Errorf("bandit prior must be strictly positive, got alpha=%.3f beta=%.3f", c.PriorAlpha, c.PriorBeta)
	}
	return nil
}

// Model is the arm model
type Model struct {
	repo    persistence.PosteriorRepo
	prior   Posterior
	breaker *circuit.Breaker
	sampler Sampler
	metrics *metrics.Registry
}

// Option configures a Model
type Option func(*Model)

// WithSampler replaces the Beta sampler
func WithSampler(s Sampler) Option {
	return func(m *Model) { m.sampler = s }
}

// WithBreaker replaces the default datastore breaker
func WithBreaker(b *circuit.Breaker) Option {
	return func(m *Model) { m.breaker = b }
}

// WithMetrics records neutral-default substitutions
func WithMetrics(r *metrics.Registry) Option {
	return func(m *Model) { m.metrics = r }
}

// New creates a model over repo
func New(repo persistence.PosteriorRepo, cfg Config, opts ...Option) *Model {
	if cfg.Validate() != nil {
		cfg = DefaultConfig()
	}
	m := &Model{
		repo:    repo,
		prior:   Posterior{Alpha: cfg.PriorAlpha, Beta: cfg.PriorBeta},
		breaker: circuit.New(circuit.DefaultConfig("posteriors")),
		sampler: gonumSampler{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Prior returns the configured prior
func (m *Model) Prior() Posterior {
	return m.prior
}

// posteriors loads the posterior for every candidate, substituting the prior
// for unobserved arms and for every arm when the store is unavailable.
func (m *Model) posteriors(ctx context.Context, candidates []arms.Arm) map[string]Posterior {
	keys := make([]string, len(candidates))
	for i, a := range candidates {
		keys[i] = a.Key()
	}

	var rows map[string]persistence.ArmPosterior
	err := m.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		rows, err = m.repo.GetMany(ctx, keys)
		return err
	})
	if err != nil {
		log.Warn().Err(err).Int("arms", len(keys)).Msg("Posterior store unavailable, using prior")
		m.metrics.RecordStoreDefault("posteriors")
		rows = nil
	}

	out := make(map[string]Posterior, len(keys))
	for _, k := range keys {
		out[k] = m.fromRow(rows[k], rows != nil)
	}
	return out
}

// fromRow converts a stored row, falling back to the prior for missing or corrupt rows
func (m *Model) fromRow(row persistence.ArmPosterior, loaded bool) Posterior {
	if !loaded || row.ArmKey == "" || row.Alpha <= 0 || row.Beta <= 0 {
		return m.prior
	}
	return Posterior{Alpha: row.Alpha, Beta: row.Beta}
}

// SampleArm draws once from every candidate's posterior and returns the arm
// with the highest draw. The candidate list is expected to be bounded.
func (m *Model) SampleArm(ctx context.Context, candidates []arms.Arm) (arms.Arm, error) {
	if len(candidates) == 0 {
		return arms.Arm{}, arms.ErrNoArms
	}

	posts := m.posteriors(ctx, candidates)
	best := candidates[0]
	bestDraw := -1.0
	for _, a := range candidates {
		p := posts[a.Key()]
		if draw := m.sampler.Sample(p.Alpha, p.Beta); draw > bestDraw {
			best, bestDraw = a, draw
		}
	}

	log.Debug().
		Str("arm", best.Key()).
		Float64("draw", bestDraw).
		Int("candidates", len(candidates)).
		Msg("Thompson sample selected arm")
	return best, nil
}

// Predict returns the posterior mean, or the prior mean when the store fails
func (m *Model) Predict(ctx context.Context, arm arms.Arm) float64 {
	return m.posteriors(ctx, []arms.Arm{arm})[arm.Key()].Mean()
}

// Update folds one observed outcome into the arm's posterior. Errors reach the
// feedback caller; the stored row is never left below the prior.
func (m *Model) Update(ctx context.Context, arm arms.Arm, success bool) (Posterior, error) {
	var row persistence.ArmPosterior
	err := m.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		row, err = m.repo.Increment(ctx, arm.Key(), success, m.prior.Alpha, m.prior.Beta)
		return err
	})
	if err != nil {
		return Posterior{}, fmt.Errorf("update posterior %s: %w", arm.Key(), err)
	}

	p := Posterior{Alpha: row.Alpha, Beta: row.Beta}
	log.Info().
		Str("arm", arm.Key()).
		Bool("success", success).
		Float64("alpha", p.Alpha).
		Float64("beta", p.Beta).
		Msg("Posterior updated")
	return p, nil
}

// Ranking is one arm's standing for dashboards
type Ranking struct {
	Arm          arms.Arm  `json:"arm"`
	Posterior    Posterior `json:"posterior"`
	Mean         float64   `json:"mean"`
	Observations int       `json:"observations"`
}

// Ranked returns candidates ordered by posterior mean, highest first
func (m *Model) Ranked(ctx context.Context, candidates []arms.Arm) []Ranking {
	posts := m.posteriors(ctx, candidates)
	out := make([]Ranking, 0, len(candidates))
	for _, a := range candidates {
		p := posts[a.Key()]
		out = append(out, Ranking{Arm: a, Posterior: p, Mean: p.Mean(), Observations: p.Observations(m.prior)})
	}
	sortRankings(out)
	return out
}

// Top returns the n best observed arms across the whole posterior table
func (m *Model) Top(ctx context.Context, n int) ([]Ranking, error) {
	var rows []persistence.ArmPosterior
	err := m.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		rows, err = m.repo.All(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list posteriors: %w", err)
	}

	out := make([]Ranking, 0, len(rows))
	for _, row := range rows {
		a, err := arms.ParseKey(row.ArmKey)
		if err != nil {
			log.Warn().Err(err).Str("arm_key", row.ArmKey).Msg("Skipping unparseable posterior row")
			continue
		}
		p := m.fromRow(row, true)
		out = append(out, Ranking{Arm: a, Posterior: p, Mean: p.Mean(), Observations: p.Observations(m.prior)})
	}
	sortRankings(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func sortRankings(r []Ranking) {
	sort.SliceStable(r, func(i, j int) bool {
		if r[i].Mean != r[j].Mean {
			return r[i].Mean > r[j].Mean
		}
		return r[i].Observations > r[j].Observations
	})
}

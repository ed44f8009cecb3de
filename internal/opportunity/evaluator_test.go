package opportunity

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/postrun/internal/arms"
	"github.com/sawpanic/postrun/internal/metrics"
)

type stubModel struct {
	q          float64
	sampled    int
	candidates []arms.Arm
}

func (s *stubModel) SampleArm(_ context.Context, candidates []arms.Arm) (arms.Arm, error) {
	s.sampled++
	s.candidates = candidates
	return candidates[0], nil
}

func (s *stubModel) Predict(context.Context, arms.Arm) float64 { return s.q }

type stubMomentum struct {
	value float64
	err   error
}

func (s stubMomentum) Get(context.Context, string) (float64, error) { return s.value, s.err }

type stubLastPost struct {
	at  time.Time
	ok  bool
	err error
}

func (s stubLastPost) LastPostedAt(context.Context) (time.Time, bool, error) { return s.at, s.ok, s.err }

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 9, hour, minute, 0, 0, time.UTC)
}

func newEvaluator(t *testing.T, cfg Config, model ArmModel, m MomentumLookup, lp LastPostLookup, now time.Time, opts ...Option) *Evaluator {
	t.Helper()
	space, err := arms.NewSpace(arms.DefaultDimensions())
	require.NoError(t, err)
	opts = append([]Option{WithClock(func() time.Time { return now }), WithRand(rand.New(rand.NewPCG(3, 5)))}, opts...)
	e, err := NewEvaluator(cfg, space, model, m, lp, opts...)
	require.NoError(t, err)
	return e
}

func exploitOnly() Config {
	cfg := DefaultConfig()
	cfg.Epsilon = 0
	return cfg
}

func TestScore_Literal(t *testing.T) {
	w := DefaultConfig().Weights
	assert.Equal(t, 74, Score(w, 0.5, 80, 100, 100))
	assert.Equal(t, 8, Score(w, 0.2, 0, 0, 0))
}

func TestFreshness(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		hours float64
		want  float64
	}{
		{0, 0},
		{0.5, 0},
		{1, 0},
		{2, 25},
		{3.5, 62.5},
		{5, 100},
		{48, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Freshness(cfg, tt.hours), "hours %.1f", tt.hours)
	}
}

func TestTimeBonus(t *testing.T) {
	cfg := DefaultConfig()
	want := map[int]float64{
		3: 0, 6: 0, 7: 100, 8: 100, 9: 50, 11: 50, 12: 100, 13: 50,
		16: 50, 17: 100, 18: 100, 19: 50, 20: 100, 21: 100, 22: 0, 23: 0,
	}
	for hour, bonus := range want {
		assert.Equal(t, bonus, TimeBonus(cfg, hour), "hour %d", hour)
	}
}

func TestEvaluate_MorningWindowPosts(t *testing.T) {
	model := &stubModel{q: 0.5}
	now := at(8, 0)
	e := newEvaluator(t, exploitOnly(), model, stubMomentum{value: 80}, stubLastPost{at: now.Add(-6 * time.Hour), ok: true}, now)

	opp := e.Evaluate(context.Background())

	assert.Equal(t, 74, opp.OverallScore)
	assert.True(t, opp.ShouldPost)
	assert.False(t, opp.Explored)
	assert.Equal(t, 8, opp.Hour)
	assert.NotEmpty(t, opp.ID)
}

func TestEvaluate_RecentPostAtNightWaits(t *testing.T) {
	model := &stubModel{q: 0.2}
	now := at(3, 0)
	e := newEvaluator(t, exploitOnly(), model, stubMomentum{}, stubLastPost{at: now.Add(-30 * time.Minute), ok: true}, now)

	opp := e.Evaluate(context.Background())

	assert.Zero(t, opp.Momentum)
	assert.Zero(t, opp.Freshness)
	assert.Zero(t, opp.TimeBonus)
	assert.Equal(t, 8, opp.OverallScore)
	assert.False(t, opp.ShouldPost)
}

func TestEvaluate_HighScoreOutsideWindowWaits(t *testing.T) {
	now := at(10, 0)
	e := newEvaluator(t, exploitOnly(), &stubModel{q: 1}, stubMomentum{value: 100}, stubLastPost{}, now)

	opp := e.Evaluate(context.Background())

	// 40 + 30 + 20 + 5
	assert.Equal(t, 95, opp.OverallScore)
	assert.False(t, opp.ShouldPost)
}

func TestEvaluate_ThresholdIsStrict(t *testing.T) {
	now := at(8, 0)
	e := newEvaluator(t, exploitOnly(), &stubModel{q: 0.25}, stubMomentum{value: 100},
		stubLastPost{at: now.Add(-3 * time.Hour), ok: true}, now)

	opp := e.Evaluate(context.Background())

	// 10 + 30 + 10 + 10
	assert.Equal(t, 60, opp.OverallScore)
	assert.False(t, opp.ShouldPost)
}

func TestEvaluate_LookupFailuresUseNeutralDefaults(t *testing.T) {
	reg := metrics.NewRegistry()
	now := at(8, 0)
	e := newEvaluator(t, exploitOnly(), &stubModel{q: 0.5},
		stubMomentum{value: 99, err: errors.New("redis down")},
		stubLastPost{err: errors.New("db down")}, now, WithMetrics(reg))

	opp := e.Evaluate(context.Background())

	assert.Zero(t, opp.Momentum)
	assert.Equal(t, 100.0, opp.Freshness)
	// 20 + 0 + 20 + 10
	assert.Equal(t, 50, opp.OverallScore)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.StoreDefaults.WithLabelValues("momentum")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.StoreDefaults.WithLabelValues("last_post")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.Decisions.WithLabelValues("wait")))
}

func TestEvaluate_NoPreviousPostIsFresh(t *testing.T) {
	e := newEvaluator(t, exploitOnly(), &stubModel{q: 0.5}, stubMomentum{}, stubLastPost{ok: false}, at(12, 30))
	assert.Equal(t, 100.0, e.Evaluate(context.Background()).Freshness)
}

func TestEvaluate_CandidatesBoundedToBucket(t *testing.T) {
	model := &stubModel{q: 0.5}
	e := newEvaluator(t, exploitOnly(), model, stubMomentum{}, stubLastPost{}, at(8, 0))

	e.Evaluate(context.Background())

	require.Len(t, model.candidates, 50)
	for _, a := range model.candidates {
		assert.Equal(t, arms.BucketMorning, a.TimeBucket)
	}
}

func TestEvaluate_FullExplorationSkipsModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Epsilon = 1
	model := &stubModel{q: 0.5}
	e := newEvaluator(t, cfg, model, stubMomentum{}, stubLastPost{}, at(18, 0))

	for i := 0; i < 10; i++ {
		opp := e.Evaluate(context.Background())
		assert.True(t, opp.Explored)
		assert.Equal(t, arms.BucketEvening, opp.Arm.TimeBucket)
	}
	assert.Zero(t, model.sampled)
}

func TestEvaluate_ConfiguredTimezone(t *testing.T) {
	cfg := exploitOnly()
	cfg.Location = time.FixedZone("UTC-5", -5*3600)
	// 13:00 UTC is 08:00 local
	e := newEvaluator(t, cfg, &stubModel{q: 0.5}, stubMomentum{value: 80}, stubLastPost{}, at(13, 0))

	opp := e.Evaluate(context.Background())
	assert.Equal(t, 8, opp.Hour)
	assert.True(t, opp.ShouldPost)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Epsilon = 1.2
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.OptimalWindows = []Window{{Name: "bad", Start: 9, End: 7}}
	assert.Error(t, cfg.Validate())
}

func TestNewEvaluator_RequiresArms(t *testing.T) {
	_, err := NewEvaluator(DefaultConfig(), nil, &stubModel{}, stubMomentum{}, stubLastPost{})
	assert.True(t, errors.Is(err, arms.ErrNoArms))
}

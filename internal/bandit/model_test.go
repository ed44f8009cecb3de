package bandit

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
	"github.com/sawpanic/postrun/internal/net/circuit"
	"github.com/sawpanic/postrun/internal/persistence"
	"github.com/sawpanic/postrun/internal/persistence/memstore"
)

var (
	armA = arms.Arm{HookType: arms.HookStat, CTAType: arms.CTAFollow, ThreadLen: 1, TimeBucket: arms.BucketMorning, TopicCluster: "sleep"}
	armB = arms.Arm{HookType: arms.HookStory, CTAType: arms.CTAReply, ThreadLen: 3, TimeBucket: arms.BucketMorning, TopicCluster: "focus"}
)

// downRepo fails every call and counts attempts
type downRepo struct{ calls int }

func (d *downRepo) Get(context.Context, string) (*persistence.ArmPosterior, error) {
	d.calls++
	return nil, errors.New("db down")
}

func (d *downRepo) GetMany(context.Context, []string) (map[string]persistence.ArmPosterior, error) {
	d.calls++
	return nil, errors.New("db down")
}

func (d *downRepo) Increment(context.Context, string, bool, float64, float64) (persistence.ArmPosterior, error) {
	d.calls++
	return persistence.ArmPosterior{}, errors.New("db down")
}

func (d *downRepo) All(context.Context) ([]persistence.ArmPosterior, error) {
	d.calls++
	return nil, errors.New("db down")
}

func TestSampleArm_HistorySensitive(t *testing.T) {
	model := New(memstore.New().Repository().Posteriors, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := model.Update(ctx, armA, true)
		require.NoError(t, err)
		_, err = model.Update(ctx, armB, false)
		require.NoError(t, err)
	}

	wins := 0
	for i := 0; i < 100; i++ {
		got, err := model.SampleArm(ctx, []arms.Arm{armA, armB})
		require.NoError(t, err)
		if got == armA {
			wins++
		}
	}
	assert.GreaterOrEqual(t, wins, 95)
}

func TestSampleArm_Empty(t *testing.T) {
	model := New(memstore.New().Repository().Posteriors, DefaultConfig())
	_, err := model.SampleArm(context.Background(), nil)
	assert.True(t, errors.Is(err, arms.ErrNoArms))
}

func TestPredict(t *testing.T) {
	model := New(memstore.New().Repository().Posteriors, DefaultConfig())
	ctx := context.Background()

	assert.Equal(t, 0.5, model.Predict(ctx, armA))

	_, err := model.Update(ctx, armA, true)
	require.NoError(t, err)
	_, err = model.Update(ctx, armA, true)
	require.NoError(t, err)
	_, err = model.Update(ctx, armA, false)
	require.NoError(t, err)

	// Beta(3, 2)
	assert.InDelta(t, 0.6, model.Predict(ctx, armA), 1e-9)
}

func TestUpdate_PreservesPositiveParameters(t *testing.T) {
	model := New(memstore.New().Repository().Posteriors, DefaultConfig())
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))

	for i := 0; i < 200; i++ {
		p, err := model.Update(ctx, armA, rng.IntN(2) == 0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.Alpha, 1.0)
		assert.GreaterOrEqual(t, p.Beta, 1.0)
	}
}

func TestStoreFailureDegradesToPrior(t *testing.T) {
	reg := metrics.NewRegistry()
	repo := &downRepo{}
	model := New(repo, DefaultConfig(), WithMetrics(reg))
	ctx := context.Background()

	assert.Equal(t, 0.5, model.Predict(ctx, armA))

	got, err := model.SampleArm(ctx, []arms.Arm{armA, armB})
	require.NoError(t, err)
	assert.Contains(t, []arms.Arm{armA, armB}, got)

	_, err = model.Update(ctx, armA, true)
	assert.Error(t, err)

	assert.GreaterOrEqual(t, testutil.ToFloat64(reg.StoreDefaults.WithLabelValues("posteriors")), 2.0)
}

func TestBreakerStopsHammeringStore(t *testing.T) {
	repo := &downRepo{}
	breaker := circuit.New(circuit.Config{Name: "posteriors", ConsecutiveFailures: 2, OpenTimeout: time.Minute})
	model := New(repo, DefaultConfig(), WithBreaker(breaker))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.Equal(t, 0.5, model.Predict(ctx, armA))
	}
	assert.Equal(t, 2, repo.calls)
	assert.Equal(t, "open", breaker.State())
}

type fixedSampler map[float64]float64

// Sample returns a draw keyed by alpha so tests can script the winner
func (f fixedSampler) Sample(alpha, _ float64) float64 { return f[alpha] }

func TestSampleArm_PicksHighestDraw(t *testing.T) {
	store := memstore.New().Repository().Posteriors
	ctx := context.Background()
	_, err := store.Increment(ctx, armB.Key(), true, 1, 1)
	require.NoError(t, err)

	// armA has alpha 1 (prior), armB alpha 2
	model := New(store, DefaultConfig(), WithSampler(fixedSampler{1: 0.9, 2: 0.1}))
	got, err := model.SampleArm(ctx, []arms.Arm{armA, armB})
	require.NoError(t, err)
	assert.Equal(t, armA, got)
}

func TestRankedAndTop(t *testing.T) {
	model := New(memstore.New().Repository().Posteriors, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := model.Update(ctx, armB, true)
		require.NoError(t, err)
	}
	_, err := model.Update(ctx, armA, false)
	require.NoError(t, err)

	ranked := model.Ranked(ctx, []arms.Arm{armA, armB})
	require.Len(t, ranked, 2)
	assert.Equal(t, armB, ranked[0].Arm)
	assert.Equal(t, 3, ranked[0].Observations)

	top, err := model.Top(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, armB, top[0].Arm)
	assert.InDelta(t, 0.8, top[0].Mean, 1e-9)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{PriorAlpha: 0, PriorBeta: 1}.Validate())
}

package arms

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArmKeyRoundTrip(t *testing.T) {
	arm := Arm{HookType: HookMythBust, CTAType: CTABookmark, ThreadLen: 3, TimeBucket: BucketEvening, TopicCluster: "sleep"}

	assert.Equal(t, "myth_bust|bookmark|3|evening|sleep", arm.Key())

	parsed, err := ParseKey(arm.Key())
	require.NoError(t, err)
	assert.Equal(t, arm, parsed)
}

func TestParseKeyRejectsMalformed(t *testing.T) {
	for _, key := range []string{"", "stat|follow|1|morning", "stat|follow|zero|morning|sleep", "stat|follow|0|morning|sleep"} {
		t.Run(key, func(t *testing.T) {
			_, err := ParseKey(key)
			assert.Error(t, err)
		})
	}
}

func TestBucketForHour(t *testing.T) {
	tests := []struct {
		hour int
		want TimeBucket
	}{
		{0, BucketNight},
		{4, BucketNight},
		{5, BucketMorning},
		{8, BucketMorning},
		{12, BucketAfternoon},
		{16, BucketAfternoon},
		{17, BucketEvening},
		{21, BucketEvening},
		{22, BucketNight},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BucketForHour(tt.hour), "hour %d", tt.hour)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "single", Arm{ThreadLen: 1}.Format())
	assert.Equal(t, "thread", Arm{ThreadLen: 4}.Format())
}

func TestNewSpace_CrossProduct(t *testing.T) {
	space, err := NewSpace(DefaultDimensions())
	require.NoError(t, err)

	// 5 hooks x 3 ctas x 3 lens x 4 buckets x 5 topics
	assert.Equal(t, 900, space.Size())

	morning := space.ForBucket(BucketMorning)
	assert.Len(t, morning, 225)
	for _, arm := range morning {
		assert.Equal(t, BucketMorning, arm.TimeBucket)
	}
}

func TestNewSpace_Deterministic(t *testing.T) {
	a, err := NewSpace(DefaultDimensions())
	require.NoError(t, err)
	b, err := NewSpace(DefaultDimensions())
	require.NoError(t, err)
	assert.Equal(t, a.All(), b.All())
}

func TestNewSpace_EmptyDimensionFails(t *testing.T) {
	dims := DefaultDimensions()
	dims.TopicClusters = nil

	_, err := NewSpace(dims)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoArms))
}

func TestNewSpace_InvalidThreadLen(t *testing.T) {
	dims := DefaultDimensions()
	dims.ThreadLens = []int{1, 0}

	_, err := NewSpace(dims)
	assert.Error(t, err)
}

func TestNewSpace_DeduplicatesRepeatedValues(t *testing.T) {
	dims := Dimensions{
		HookTypes:     []HookType{HookStat, HookStat},
		CTATypes:      []CTAType{CTAFollow},
		ThreadLens:    []int{1},
		TimeBuckets:   []TimeBucket{BucketMorning},
		TopicClusters: []string{"sleep"},
	}
	space, err := NewSpace(dims)
	require.NoError(t, err)
	assert.Equal(t, 1, space.Size())
}

func TestForBucket_UnknownBucketFallsBackToFullSpace(t *testing.T) {
	dims := DefaultDimensions()
	dims.TimeBuckets = []TimeBucket{BucketMorning}
	space, err := NewSpace(dims)
	require.NoError(t, err)

	assert.Len(t, space.ForBucket(BucketNight), space.Size())
}

func TestSample_BoundedAndUnique(t *testing.T) {
	space, err := NewSpace(DefaultDimensions())
	require.NoError(t, err)
	all := space.All()
	rng := rand.New(rand.NewPCG(1, 2))

	sample := Sample(all, 50, rng)
	assert.Len(t, sample, 50)

	seen := make(map[string]bool)
	for _, arm := range sample {
		assert.False(t, seen[arm.Key()], "duplicate arm %s", arm.Key())
		seen[arm.Key()] = true
	}

	// input untouched
	assert.Equal(t, space.All(), all)
}

func TestSample_SmallInputReturnsCopy(t *testing.T) {
	in := []Arm{{HookType: HookStat, ThreadLen: 1}}
	out := Sample(in, 50, rand.New(rand.NewPCG(1, 1)))
	require.Len(t, out, 1)
	out[0].HookType = HookStory
	assert.Equal(t, HookStat, in[0].HookType)
}

package debounce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/postrun/internal/cache"
	"github.com/sawpanic/postrun/internal/metrics"
)

type brokenKV struct {
	getErr error
	setErr error
	sets   int
}

func (b *brokenKV) Get(context.Context, string) (string, bool, error) { return "", false, b.getErr }
func (b *brokenKV) Set(context.Context, string, string, time.Duration) error {
	b.sets++
	return b.setErr
}

// plainKV hides the atomic claim so the read-then-write path is exercised
type plainKV struct{ cache.KV }

type failingClaimer struct{ cache.KV }

func (failingClaimer) Claim(context.Context, string, time.Time, time.Duration, time.Duration) (bool, time.Time, error) {
	return false, time.Time{}, errors.New("redis: i/o timeout")
}

func TestShouldRun_Sequence(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 9, 7, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	kv := cache.NewMemory().WithClock(clock)
	reg := metrics.NewRegistry()
	s := New(kv, "learning:last_run", 30*time.Minute, WithClock(clock), WithMetrics(reg))

	assert.True(t, s.ShouldRun(ctx), "first call always proceeds")
	assert.False(t, s.ShouldRun(ctx), "immediate second call is debounced")

	now = now.Add(29 * time.Minute)
	assert.False(t, s.ShouldRun(ctx), "still inside the interval")

	now = now.Add(time.Minute)
	assert.True(t, s.ShouldRun(ctx), "interval elapsed")
	assert.False(t, s.ShouldRun(ctx), "timestamp was refreshed")

	assert.Equal(t, 3.0, reg.Totals()["postrun_debounce_skips_total"])
}

func TestShouldRun_SkipDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 9, 7, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	kv := cache.NewMemory().WithClock(clock)
	s := New(kv, "k", time.Hour, WithClock(clock))

	require.True(t, s.ShouldRun(ctx))
	before, _, _ := kv.Get(ctx, "k")

	now = now.Add(10 * time.Minute)
	require.False(t, s.ShouldRun(ctx))
	after, _, _ := kv.Get(ctx, "k")
	assert.Equal(t, before, after)
}

func TestShouldRun_StorageErrorFailsOpen(t *testing.T) {
	kv := &brokenKV{getErr: errors.New("redis: connection refused"), setErr: errors.New("redis: connection refused")}
	s := New(kv, "k", time.Hour)

	assert.True(t, s.ShouldRun(context.Background()))
	assert.True(t, s.ShouldRun(context.Background()))
}

func TestShouldRun_MalformedTimestampFailsOpen(t *testing.T) {
	ctx := context.Background()
	kv := cache.NewMemory()
	require.NoError(t, kv.Set(ctx, "k", "not-a-time", 0))

	s := New(kv, "k", time.Hour)
	assert.True(t, s.ShouldRun(ctx))
	assert.False(t, s.ShouldRun(ctx), "malformed value was replaced")
}

func TestWithDebounce_PropagatesError(t *testing.T) {
	ctx := context.Background()
	s := New(cache.NewMemory(), "k", time.Hour)
	boom := errors.New("relearn failed")

	ran, err := s.WithDebounce(ctx, func(context.Context) error { return boom })
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)

	calls := 0
	ran, err = s.WithDebounce(ctx, func(context.Context) error {
		calls++
		return nil
	})
	assert.False(t, ran)
	assert.NoError(t, err)
	assert.Equal(t, 0, calls)
}

func TestShouldRun_PlainKVSequence(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 9, 7, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := New(plainKV{cache.NewMemory().WithClock(clock)}, "k", time.Hour, WithClock(clock))

	assert.True(t, s.ShouldRun(ctx))
	assert.False(t, s.ShouldRun(ctx))
	now = now.Add(time.Hour)
	assert.True(t, s.ShouldRun(ctx))
}

func TestShouldRun_ClaimErrorFailsOpen(t *testing.T) {
	s := New(failingClaimer{cache.NewMemory()}, "k", time.Hour)
	assert.True(t, s.ShouldRun(context.Background()))
	assert.True(t, s.ShouldRun(context.Background()))
}

func TestShouldRun_SingleFlightAcrossSchedulers(t *testing.T) {
	ctx := context.Background()
	kv := cache.NewMemory()
	// two instances debouncing the same job against one store
	a := New(kv, "learning:last_run", time.Hour)
	b := New(kv, "learning:last_run", time.Hour)

	var runs atomic.Int32
	var wg sync.WaitGroup
	for i := range 32 {
		s := a
		if i%2 == 1 {
			s = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.ShouldRun(ctx) {
				runs.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, runs.Load())
}

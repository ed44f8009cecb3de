// Package debounce rate-limits expensive relearning work so it runs at most once
// per interval no matter how often scheduled jobs invoke it. The last-run
// timestamp (unix milliseconds) lives in a shared key-value store; storage
// faults fail open.
//
// Stores implementing cache.Claimer (memory and redis) check and stamp in one
// atomic step, so overlapping jobs and instances sharing redis get a single
// run per interval. A plain KV falls back to read-then-write, where two
// callers racing the same expiry can both run.
package debounce

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postrun/internal/cache"
	"github.com/sawpanic/postrun/internal/metrics"
)

// Scheduler gates one named unit of work
type Scheduler struct {
	kv       cache.KV
	key      string
	interval time.Duration
	now      func() time.Time
	metrics  *metrics.Registry
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock injects the time source
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithMetrics records skipped invocations
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a debounce scheduler storing its timestamp under key
func New(kv cache.KV, key string, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		kv:       kv,
		key:      key,
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the storage key
func (s *Scheduler) Key() string {
	return s.key
}

// ShouldRun reports whether the interval has elapsed since the last run and,
// if so, records now as the new last run. It never returns false because of a
// storage fault.
func (s *Scheduler) ShouldRun(ctx context.Context) bool {
	now := s.now()
	if c, ok := s.kv.(cache.Claimer); ok {
		claimed, last, err := c.Claim(ctx, s.key, now, s.interval, s.ttl())
		if err != nil {
			log.Warn().Err(err).Str("key", s.key).Msg("Debounce claim failed, allowing run")
			return true
		}
		if !claimed {
			s.skipped(now.Sub(last))
		}
		return claimed
	}

	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		log.Warn().Err(err).Str("key", s.key).Msg("Debounce timestamp unreadable, allowing run")
		s.stamp(ctx, now)
		return true
	}
	if !ok {
		s.stamp(ctx, now)
		return true
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Warn().Err(err).Str("key", s.key).Str("value", raw).Msg("Debounce timestamp malformed, allowing run")
		s.stamp(ctx, now)
		return true
	}

	if elapsed := now.Sub(time.UnixMilli(ms)); elapsed < s.interval {
		s.skipped(elapsed)
		return false
	}

	s.stamp(ctx, now)
	return true
}

func (s *Scheduler) skipped(elapsed time.Duration) {
	log.Debug().
		Str("key", s.key).
		Dur("elapsed", elapsed).
		Dur("interval", s.interval).
		Msg("Debounced")
	s.metrics.RecordDebounceSkip(s.key)
}

// WithDebounce runs op only when ShouldRun allows it. The returned error is
// op's error unchanged; ran reports whether op was invoked.
func (s *Scheduler) WithDebounce(ctx context.Context, op func(ctx context.Context) error) (ran bool, err error) {
	if !s.ShouldRun(ctx) {
		return false, nil
	}
	return true, op(ctx)
}

// ttl keeps the key alive past the interval so an expiry never shortens it
func (s *Scheduler) ttl() time.Duration {
	if s.interval <= 0 {
		return time.Hour
	}
	return 2 * s.interval
}

func (s *Scheduler) stamp(ctx context.Context, now time.Time) {
	if err := s.kv.Set(ctx, s.key, strconv.FormatInt(now.UnixMilli(), 10), s.ttl()); err != nil {
		log.Warn().Err(err).Str("key", s.key).Msg("Failed to record debounce timestamp")
	}
}

package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rule is the token bucket applied to one key
type Rule struct {
	PerMinute float64 `yaml:"per_minute"`
	Burst     int     `yaml:"burst"`
}

// Limiter rate-limits calls per key (generation tier) with independent token buckets.
// Keys without an explicit rule use the default rule.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rules    map[string]Rule
	fallback Rule
}

// NewLimiter creates a limiter whose unknown keys use fallback
func NewLimiter(fallback Rule, rules map[string]Rule) *Limiter {
	r := make(map[string]Rule, len(rules))
	for k, v := range rules {
		r[k] = v
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rules:    r,
		fallback: fallback,
	}
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters[key]; ok {
		return lim
	}
	rule, ok := l.rules[key]
	if !ok {
		rule = l.fallback
	}
	lim := rate.NewLimiter(limitFor(rule), burstFor(rule))
	l.limiters[key] = lim
	return lim
}

func limitFor(r Rule) rate.Limit {
	if r.PerMinute <= 0 {
		return rate.Inf
	}
	return rate.Limit(r.PerMinute / 60.0)
}

func burstFor(r Rule) int {
	if r.Burst < 1 {
		return 1
	}
	return r.Burst
}

// Allow reports whether a call for key may proceed now
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Wait blocks until a call for key is allowed or ctx is done
func (l *Limiter) Wait(ctx context.Context, key string) error {
	return l.get(key).Wait(ctx)
}

// Stats is a point-in-time view of one key's bucket
type Stats struct {
	Key             string        `json:"key"`
	PerMinute       float64       `json:"per_minute"`
	Burst           int           `json:"burst"`
	TokensAvailable float64       `json:"tokens_available"`
	Delay           time.Duration `json:"delay"`
}

// Throttled returns true if the next call would have to wait
func (s Stats) Throttled() bool {
	return s.Delay > 0
}

// Stats returns statistics for every key seen so far
func (l *Limiter) Stats() map[string]Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]Stats, len(l.limiters))
	now := time.Now()
	for key, lim := range l.limiters {
		res := lim.ReserveN(now, 1)
		delay := res.DelayFrom(now)
		res.CancelAt(now)

		perMinute := float64(lim.Limit()) * 60
		if lim.Limit() == rate.Inf {
			perMinute = 0
		}
		out[key] = Stats{
			Key:             key,
			PerMinute:       perMinute,
			Burst:           lim.Burst(),
			TokensAvailable: lim.TokensAt(now),
			Delay:           delay,
		}
	}
	return out
}

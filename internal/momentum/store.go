package momentum

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postrun/internal/cache"
	"github.com/sawpanic/postrun/internal/net/circuit"
	"github.com/sawpanic/postrun/internal/persistence"
)

const cacheKey = "momentum:snapshot"

// TopicMomentum is the recency-weighted performance signal for one topic
type TopicMomentum struct {
	Topic string  `json:"topic"`
	Score float64 `json:"momentum_score"`
}

// OutcomeSource lists posts with measured engagement
type OutcomeSource interface {
	ListMeasuredSince(ctx context.Context, since time.Time) ([]persistence.Attribution, error)
}

// Config controls the weighting of the refresh
type Config struct {
	HalfLife        time.Duration `yaml:"half_life"`
	Lookback        time.Duration `yaml:"lookback"`
	Scale           float64       `yaml:"scale"` // engagement rate -> 0..100
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// DefaultConfig weights a post half as much every 3 days over a 14 day window
func DefaultConfig() Config {
	return Config{
		HalfLife:        72 * time.Hour,
		Lookback:        14 * 24 * time.Hour,
		Scale:           1000,
		RefreshInterval: 24 * time.Hour,
	}
}

// Validate rejects weightings that cannot produce a score
func (c Config) Validate() error {
	if c.HalfLife <= 0 || c.Lookback <= 0 || c.RefreshInterval <= 0 {
		return fmt.Errorf("momentum half_life, lookback and refresh_interval must be positive")
	}
	if c.Scale <= 0 {
		return fmt.Errorf("momentum scale must be positive, got %.2f", c.Scale)
	}
	return nil
}

// Store is read-only between refreshes. Reads come from the in-process table,
// which follows the shared snapshot in the key-value store whenever another
// process has published a newer one.
type Store struct {
	src     OutcomeSource
	kv      cache.KV
	cfg     Config
	breaker *circuit.Breaker
	now     func() time.Time

	mu          sync.RWMutex
	scores      map[string]float64
	refreshedAt time.Time
}

// NewStore creates an empty store
func NewStore(src OutcomeSource, kv cache.KV, cfg Config) *Store {
	return &Store{
		src:     src,
		kv:      kv,
		cfg:     cfg,
		breaker: circuit.New(circuit.DefaultConfig("momentum")),
		now:     time.Now,
	}
}

// WithClock replaces the time source
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Get returns a topic's momentum, 0 when the topic has no signal. An
// unreachable cache is an error only before any table has been loaded.
func (s *Store) Get(ctx context.Context, topic string) (float64, error) {
	if err := s.pull(ctx); err != nil {
		s.mu.RLock()
		have := s.scores != nil
		s.mu.RUnlock()
		if !have {
			return 0, err
		}
		log.Debug().Err(err).Msg("Shared momentum unavailable, serving local table")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scores[topic], nil
}

// pull adopts the shared snapshot when it is newer than the local table
func (s *Store) pull(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}

	var raw string
	var ok bool
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		raw, ok, err = s.kv.Get(ctx, cacheKey)
		return err
	})
	if err != nil {
		return fmt.Errorf("load momentum snapshot: %w", err)
	}
	if !ok {
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return fmt.Errorf("decode momentum snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scores == nil || snap.RefreshedAt.After(s.refreshedAt) {
		s.scores = snap.Scores
		if s.scores == nil {
			s.scores = map[string]float64{}
		}
		s.refreshedAt = snap.RefreshedAt
	}
	return nil
}

type snapshot struct {
	Scores      map[string]float64 `json:"scores"`
	RefreshedAt time.Time          `json:"refreshed_at"`
}

// Refresh recomputes every topic from recent outcomes and publishes the result
func (s *Store) Refresh(ctx context.Context) error {
	now := s.now()

	var outcomes []persistence.Attribution
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		outcomes, err = s.src.ListMeasuredSince(ctx, now.Add(-s.cfg.Lookback))
		return err
	})
	if err != nil {
		return fmt.Errorf("momentum refresh: %w", err)
	}

	scores := Compute(outcomes, now, s.cfg.HalfLife, s.cfg.Scale)

	s.mu.Lock()
	s.scores = scores
	s.refreshedAt = now
	s.mu.Unlock()

	if s.kv != nil {
		data, err := json.Marshal(snapshot{Scores: scores, RefreshedAt: now})
		if err != nil {
			return fmt.Errorf("encode momentum snapshot: %w", err)
		}
		if err := s.kv.Set(ctx, cacheKey, string(data), 2*s.cfg.RefreshInterval); err != nil {
			// local table is already updated
			log.Warn().Err(err).Msg("Failed to share momentum snapshot")
		}
	}

	log.Info().
		Int("outcomes", len(outcomes)).
		Int("topics", len(scores)).
		Msg("Topic momentum refreshed")
	return nil
}

// Snapshot returns every topic ordered by score, highest first
func (s *Store) Snapshot() []TopicMomentum {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TopicMomentum, 0, len(s.scores))
	for topic, score := range s.scores {
		out = append(out, TopicMomentum{Topic: topic, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Topic < out[j].Topic
	})
	return out
}

// RefreshedAt returns when the table was last rebuilt
func (s *Store) RefreshedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshedAt
}

// Compute derives per-topic momentum: the engagement rate averaged with weight
// 0.5^(age/halfLife), multiplied by scale and clamped to [0,100].
func Compute(outcomes []persistence.Attribution, now time.Time, halfLife time.Duration, scale float64) map[string]float64 {
	type acc struct{ weighted, weights float64 }
	sums := make(map[string]*acc)

	for _, o := range outcomes {
		if o.EngagementRate == nil || o.Topic == "" {
			continue
		}
		age := now.Sub(o.PostedAt)
		if age < 0 {
			age = 0
		}
		w := math.Pow(0.5, age.Hours()/halfLife.Hours())
		a, ok := sums[o.Topic]
		if !ok {
			a = &acc{}
			sums[o.Topic] = a
		}
		a.weighted += w * *o.EngagementRate
		a.weights += w
	}

	out := make(map[string]float64, len(sums))
	for topic, a := range sums {
		if a.weights == 0 {
			continue
		}
		out[topic] = clamp(a.weighted/a.weights*scale, 0, 100)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

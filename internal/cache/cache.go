package cache

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// KV is the small key-value store used for debounce timestamps and shared momentum.
// Get reports absence with ok=false and a nil error.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Claimer is implemented by stores that can stamp a run timestamp atomically.
// Claim writes now (unix milliseconds) under key when the stored stamp is
// absent, unparseable, or at least interval old, and reports claimed=true.
// Otherwise the key is left alone and the stored stamp is returned.
type Claimer interface {
	Claim(ctx context.Context, key string, now time.Time, interval, ttl time.Duration) (claimed bool, last time.Time, err error)
}

// Memory implements KV with time-based expiration in process memory
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

type entry struct {
	value   string
	expires time.Time
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// WithClock replaces the clock used for expiry, for tests
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// Get retrieves a value if present and not expired
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.entries[key]
	if !exists {
		return "", false, nil
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores a value; ttl <= 0 means no expiry
func (m *Memory) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// Claim is atomic within the process
func (m *Memory) Claim(_ context.Context, key string, now time.Time, interval, ttl time.Duration) (bool, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && (e.expires.IsZero() || !m.now().After(e.expires)) {
		if ms, err := strconv.ParseInt(e.value, 10, 64); err == nil {
			last := time.UnixMilli(ms)
			if now.Sub(last) < interval {
				return false, last, nil
			}
		}
	}

	e := entry{value: strconv.FormatInt(now.UnixMilli(), 10)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	return true, time.Time{}, nil
}

// Len returns the number of live entries
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for _, e := range m.entries {
		if e.expires.IsZero() || !now.After(e.expires) {
			n++
		}
	}
	return n
}

// NewAuto returns a Redis store when REDIS_ADDR is set and reachable, memory otherwise
func NewAuto(ctx context.Context, cfg RedisConfig) KV {
	if cfg.Addr == "" {
		cfg.Addr = os.Getenv("REDIS_ADDR")
	}
	if cfg.Addr == "" {
		return NewMemory()
	}

	store, err := NewRedis(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis unavailable, using in-memory key-value store")
		return NewMemory()
	}
	return store
}

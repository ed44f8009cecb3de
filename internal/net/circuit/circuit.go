package circuit

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the breaker rejects a call without running it
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config represents circuit breaker configuration
type Config struct {
	Name                string        `yaml:"name"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"` // Consecutive failures to open circuit
	Interval            time.Duration `yaml:"interval"`             // Closed-state count reset period
	OpenTimeout         time.Duration `yaml:"open_timeout"`         // Time to wait before half-open
	CallTimeout         time.Duration `yaml:"call_timeout"`         // Individual call timeout
}

// DefaultConfig returns settings tuned for short datastore round-trips
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		ConsecutiveFailures: 3,
		Interval:            60 * time.Second,
		OpenTimeout:         30 * time.Second,
		CallTimeout:         2 * time.Second,
	}
}

// Breaker guards calls to one backing store
type Breaker struct {
	cb          *gobreaker.CircuitBreaker
	callTimeout time.Duration
}

// New creates a breaker. Zero-valued fields fall back to DefaultConfig.
func New(cfg Config) *Breaker {
	def := DefaultConfig(cfg.Name)
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}

	threshold := cfg.ConsecutiveFailures
	st := gobreaker.Settings{
		Name:     cfg.Name,
		Interval: cfg.Interval,
		Timeout:  cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	}

	return &Breaker{
		cb:          gobreaker.NewCircuitBreaker(st),
		callTimeout: cfg.CallTimeout,
	}
}

// Do runs fn under the breaker with a bounded per-call timeout.
// Rejections by an open breaker are reported as ErrCircuitOpen.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
		return nil, fn(callCtx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State returns the breaker state name
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.cb.Name()
}

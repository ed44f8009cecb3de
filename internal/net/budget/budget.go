package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postrun/internal/metrics"
	"github.com/sawpanic/postrun/internal/net/circuit"
)

// DenyReason explains why a premium call was refused
type DenyReason string

const (
	ReasonNone               DenyReason = ""
	ReasonNotRequested       DenyReason = "not_requested"
	ReasonPremiumCap         DenyReason = "premium_cap_reached"
	ReasonBlocked            DenyReason = "spend_blocked"
	ReasonDenyThreshold      DenyReason = "deny_threshold"
	ReasonReserveProtected   DenyReason = "reserve_protected"
	ReasonSpendUnavailable   DenyReason = "spend_status_unavailable"
	ReasonCounterUnavailable DenyReason = "counter_unavailable"
)

// SpendStatus is what the external spend tracker reports
type SpendStatus struct {
	UsedUSD      float64 `json:"used_usd"`
	PercentUsed  float64 `json:"percent_used"`
	RemainingUSD float64 `json:"remaining_usd"`
	IsBlocked    bool    `json:"is_blocked"`
}

// SpendTracker is the source of truth for money spent today
type SpendTracker interface {
	Status(ctx context.Context) (SpendStatus, error)
}

// PremiumCounter counts premium calls per budget day. TryIncrement must be
// atomic: it increments only while the count is below ceiling.
type PremiumCounter interface {
	Count(ctx context.Context, day string) (int, error)
	TryIncrement(ctx context.Context, day string, ceiling int) (bool, error)
}

// Config holds the gate's limits
type Config struct {
	DailyLimitUSD         float64        `yaml:"daily_limit_usd"`
	ReserveFraction       float64        `yaml:"reserve_fraction"`
	DenyThresholdFraction float64        `yaml:"deny_threshold_fraction"`
	MaxPremiumCallsPerDay int            `yaml:"max_premium_calls_per_day"`
	Location              *time.Location `yaml:"-"`
}

// DefaultConfig returns conservative limits
func DefaultConfig() Config {
	return Config{
		DailyLimitUSD:         10.0,
		ReserveFraction:       0.2,
		DenyThresholdFraction: 0.75,
		MaxPremiumCallsPerDay: 5,
		Location:              time.UTC,
	}
}

// Validate rejects limits that would make every admission meaningless
func (c Config) Validate() error {
	if c.DailyLimitUSD <= 0 {
		return fmt.Errorf("daily_limit_usd must be positive, got %.2f", c.DailyLimitUSD)
	}
	if c.ReserveFraction < 0 || c.ReserveFraction > 1 {
		return fmt.Errorf("reserve_fraction must be within [0,1], got %.2f", c.ReserveFraction)
	}
	if c.DenyThresholdFraction <= 0 || c.DenyThresholdFraction > 1 {
		return fmt.Errorf("deny_threshold_fraction must be within (0,1], got %.2f", c.DenyThresholdFraction)
	}
	if c.MaxPremiumCallsPerDay < 0 {
		return fmt.Errorf("max_premium_calls_per_day must not be negative, got %d", c.MaxPremiumCallsPerDay)
	}
	return nil
}

// Decision is the outcome of one admission check
type Decision struct {
	Allowed bool        `json:"allowed"`
	Reason  DenyReason  `json:"reason,omitempty"`
	Spend   SpendStatus `json:"spend"`
}

// Status is a read-only snapshot for dashboards
type Status struct {
	Date                  string  `json:"date"`
	DailyLimitUSD         float64 `json:"daily_limit"`
	UsedTodayUSD          float64 `json:"used_today"`
	RemainingUSD          float64 `json:"remaining"`
	PercentUsed           float64 `json:"percent_used"`
	PremiumCallsToday     int     `json:"premium_calls_today"`
	PremiumCallsRemaining int     `json:"premium_calls_remaining"`
	PremiumAllowed        bool    `json:"premium_allowed"`
	DenyReason            string  `json:"deny_reason,omitempty"`
}

// Gate is the sole authority for whether a premium generation call may run now.
// It is advisory: it never deducts cost, it only admits or denies.
type Gate struct {
	cfg     Config
	spend   SpendTracker
	counter PremiumCounter
	breaker *circuit.Breaker
	metrics *metrics.Registry
	now     func() time.Time

	mu            sync.Mutex
	lastResetDate string
}

// Option configures a Gate
type Option func(*Gate)

// WithClock injects the time source
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithCounter replaces the in-process premium counter (e.g. with RedisCounter)
func WithCounter(c PremiumCounter) Option {
	return func(g *Gate) { g.counter = c }
}

// WithMetrics records admissions and denials
func WithMetrics(m *metrics.Registry) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithBreaker guards spend tracker polls
func WithBreaker(b *circuit.Breaker) Option {
	return func(g *Gate) { g.breaker = b }
}

// NewGate creates a gate with zero premium usage
func NewGate(cfg Config, spend SpendTracker, opts ...Option) *Gate {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	g := &Gate{
		cfg:     cfg,
		spend:   spend,
		counter: NewMemoryCounter(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.lastResetDate = g.today()
	return g
}

// today returns the budget-day key in the configured timezone
func (g *Gate) today() string {
	return g.now().In(g.cfg.Location).Format("2006-01-02")
}

// rollover zeroes the daily counters when the calendar date changed
func (g *Gate) rollover() string {
	today := g.today()

	g.mu.Lock()
	defer g.mu.Unlock()

	if today != g.lastResetDate {
		log.Info().
			Str("previous", g.lastResetDate).
			Str("today", today).
			Msg("Budget day rolled over, daily counters reset")
		g.lastResetDate = today
		if r, ok := g.counter.(interface{ Reset(string) }); ok {
			r.Reset(today)
		}
	}
	return today
}

// AllowPremiumCall admits or denies one premium call and, when admitted,
// consumes one unit of the daily premium allowance.
func (g *Gate) AllowPremiumCall(ctx context.Context, requested bool) bool {
	return g.Decide(ctx, requested).Allowed
}

// Decide is AllowPremiumCall with the reason attached
func (g *Gate) Decide(ctx context.Context, requested bool) Decision {
	if !requested {
		return Decision{Reason: ReasonNotRequested}
	}

	day := g.rollover()

	d := g.evaluate(ctx, day)
	if !d.Allowed {
		g.deny(d)
		return d
	}

	ok, err := g.counter.TryIncrement(ctx, day, g.cfg.MaxPremiumCallsPerDay)
	if err != nil {
		log.Warn().Err(err).Msg("Premium counter unavailable, denying premium call")
		d = Decision{Reason: ReasonCounterUnavailable, Spend: d.Spend}
		g.deny(d)
		return d
	}
	if !ok {
		d = Decision{Reason: ReasonPremiumCap, Spend: d.Spend}
		g.deny(d)
		return d
	}

	g.metrics.RecordPremiumCall()
	log.Debug().
		Str("day", day).
		Float64("percent_used", d.Spend.PercentUsed).
		Msg("Premium call admitted")
	return d
}

// evaluate runs every check except the increment; it has no side effects
func (g *Gate) evaluate(ctx context.Context, day string) Decision {
	used, err := g.counter.Count(ctx, day)
	if err != nil {
		log.Warn().Err(err).Msg("Premium counter unavailable")
		return Decision{Reason: ReasonCounterUnavailable}
	}
	if used >= g.cfg.MaxPremiumCallsPerDay {
		return Decision{Reason: ReasonPremiumCap}
	}

	spend, err := g.spendStatus(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Spend status unavailable, premium tier denied")
		return Decision{Reason: ReasonSpendUnavailable}
	}

	switch {
	case spend.IsBlocked:
		return Decision{Reason: ReasonBlocked, Spend: spend}
	case spend.PercentUsed >= g.cfg.DenyThresholdFraction*100:
		return Decision{Reason: ReasonDenyThreshold, Spend: spend}
	case spend.RemainingUSD < g.cfg.DailyLimitUSD*g.cfg.ReserveFraction:
		return Decision{Reason: ReasonReserveProtected, Spend: spend}
	}

	return Decision{Allowed: true, Spend: spend}
}

func (g *Gate) spendStatus(ctx context.Context) (SpendStatus, error) {
	if g.breaker == nil {
		return g.spend.Status(ctx)
	}
	var st SpendStatus
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		st, err = g.spend.Status(ctx)
		return err
	})
	return st, err
}

func (g *Gate) deny(d Decision) {
	g.metrics.RecordBudgetDenial(string(d.Reason))
	log.Info().
		Str("reason", string(d.Reason)).
		Float64("percent_used", d.Spend.PercentUsed).
		Float64("remaining_usd", d.Spend.RemainingUSD).
		Msg("Premium call denied")
}

// Status returns a snapshot without consuming allowance or resetting counters
func (g *Gate) Status(ctx context.Context) Status {
	day := g.today()
	d := g.evaluate(ctx, day)

	spend := d.Spend
	if d.Reason == ReasonPremiumCap || d.Reason == ReasonCounterUnavailable {
		if st, err := g.spendStatus(ctx); err == nil {
			spend = st
		}
	}

	used, err := g.counter.Count(ctx, day)
	if err != nil {
		used = 0
	}
	remainingCalls := g.cfg.MaxPremiumCallsPerDay - used
	if remainingCalls < 0 {
		remainingCalls = 0
	}

	return Status{
		Date:                  day,
		DailyLimitUSD:         g.cfg.DailyLimitUSD,
		UsedTodayUSD:          spend.UsedUSD,
		RemainingUSD:          spend.RemainingUSD,
		PercentUsed:           spend.PercentUsed,
		PremiumCallsToday:     used,
		PremiumCallsRemaining: remainingCalls,
		PremiumAllowed:        d.Allowed,
		DenyReason:            string(d.Reason),
	}
}

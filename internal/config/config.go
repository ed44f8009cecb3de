package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/postrun/internal/arms"
	"github.com/sawpanic/postrun/internal/bandit"
	"github.com/sawpanic/postrun/internal/cache"
	"github.com/sawpanic/postrun/internal/infrastructure/db"
	"github.com/sawpanic/postrun/internal/momentum"
	"github.com/sawpanic/postrun/internal/net/budget"
	"github.com/sawpanic/postrun/internal/net/circuit"
	"github.com/sawpanic/postrun/internal/net/ratelimit"
	"github.com/sawpanic/postrun/internal/opportunity"
	"github.com/sawpanic/postrun/internal/posting"
	"github.com/sawpanic/postrun/internal/quality"
	"github.com/sawpanic/postrun/internal/scheduler"
)

// Config is the complete postrun configuration
type Config struct {
	Budget      BudgetConfig      `yaml:"budget"`
	Bandit      BanditConfig      `yaml:"bandit"`
	Opportunity OpportunityConfig `yaml:"opportunity"`
	Quality     quality.Config    `yaml:"quality"`
	Momentum    momentum.Config   `yaml:"momentum"`
	Learning    LearningConfig    `yaml:"learning"`
	Arms        arms.Dimensions   `yaml:"arms"`
	Generation  GenerationConfig  `yaml:"generation"`
	Database    db.Config         `yaml:"database"`
	Redis       cache.RedisConfig `yaml:"redis"`
	Scheduler   scheduler.Config  `yaml:"scheduler"`
	HTTP        HTTPConfig        `yaml:"http"`

	location *time.Location
}

// BudgetConfig adds the budget day's timezone and counter backend to the gate limits
type BudgetConfig struct {
	budget.Config `yaml:",inline"`
	Timezone      string `yaml:"timezone"`       // IANA name; days roll over at local midnight
	SharedCounter bool   `yaml:"shared_counter"` // count premium calls in redis across processes
}

// BanditConfig holds the prior and selection settings
type BanditConfig struct {
	PriorAlpha            float64 `yaml:"prior_alpha"`
	PriorBeta             float64 `yaml:"prior_beta"`
	MaxCandidates         int     `yaml:"max_candidates"`
	Epsilon               float64 `yaml:"epsilon"`
	SuccessEngagementRate float64 `yaml:"success_engagement_rate"`
}

// OpportunityConfig holds scoring weights and posting windows
type OpportunityConfig struct {
	Weights             opportunity.Weights  `yaml:"weights"`
	PostThreshold       int                  `yaml:"post_threshold"`
	OptimalWindows      []opportunity.Window `yaml:"optimal_windows"`
	DaytimeBand         opportunity.Window   `yaml:"daytime_band"`
	FreshnessPerHour    float64              `yaml:"freshness_per_hour"`
	FreshnessGraceHours float64              `yaml:"freshness_grace_hours"`
}

// LearningConfig controls how often relearning may run
type LearningConfig struct {
	DebounceInterval time.Duration `yaml:"debounce_interval"`
	Key              string        `yaml:"key"`
	MomentumKey      string        `yaml:"momentum_key"`
}

// GenerationConfig describes the content producer and publisher endpoints
type GenerationConfig struct {
	MaxRegenerations int                       `yaml:"max_regenerations"`
	PreferPremium    bool                      `yaml:"prefer_premium"`
	Endpoint         string                    `yaml:"endpoint"`
	APIKey           string                    `yaml:"api_key"`
	Timeout          time.Duration             `yaml:"timeout"`
	PublishEndpoint  string                    `yaml:"publish_endpoint"`
	DryRun           bool                      `yaml:"dry_run"`
	DefaultRate      ratelimit.Rule            `yaml:"default_rate"`
	Rates            map[string]ratelimit.Rule `yaml:"rates"` // per tier
	Breaker          circuit.Config            `yaml:"breaker"`
}

// HTTPConfig is the status server address
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// Default returns a configuration that runs offline: in-memory stores,
// dry-run publishing, no generation endpoint.
func Default() Config {
	bc := bandit.DefaultConfig()
	oc := opportunity.DefaultConfig()
	pc := posting.DefaultConfig()

	return Config{
		Budget: BudgetConfig{Config: budget.DefaultConfig(), Timezone: "UTC"},
		Bandit: BanditConfig{
			PriorAlpha:            bc.PriorAlpha,
			PriorBeta:             bc.PriorBeta,
			MaxCandidates:         oc.MaxCandidates,
			Epsilon:               oc.Epsilon,
			SuccessEngagementRate: pc.SuccessEngagementRate,
		},
		Opportunity: OpportunityConfig{
			Weights:             oc.Weights,
			PostThreshold:       oc.PostThreshold,
			OptimalWindows:      oc.OptimalWindows,
			DaytimeBand:         oc.DaytimeBand,
			FreshnessPerHour:    oc.FreshnessPerHour,
			FreshnessGraceHours: oc.FreshnessGraceHours,
		},
		Quality:  quality.DefaultConfig(),
		Momentum: momentum.DefaultConfig(),
		Learning: LearningConfig{
			DebounceInterval: time.Hour,
			Key:              "learning:last_run",
			MomentumKey:      "momentum:last_run",
		},
		Arms: arms.DefaultDimensions(),
		Generation: GenerationConfig{
			MaxRegenerations: pc.MaxRegenerations,
			PreferPremium:    pc.PreferPremium,
			Timeout:          60 * time.Second,
			DryRun:           true,
			DefaultRate:      ratelimit.Rule{PerMinute: 10, Burst: 2},
			Rates: map[string]ratelimit.Rule{
				posting.TierPremium:  {PerMinute: 2, Burst: 1},
				posting.TierStandard: {PerMinute: 10, Burst: 2},
			},
			Breaker: circuit.Config{Name: "generator", ConsecutiveFailures: 3, OpenTimeout: 5 * time.Minute, CallTimeout: 90 * time.Second},
		},
		Database:  db.DefaultConfig(),
		Redis:     cache.DefaultRedisConfig(),
		Scheduler: scheduler.DefaultConfig(),
		HTTP:      HTTPConfig{Host: "127.0.0.1", Port: 8088},
	}
}

// LoadEnv loads .env files into the process environment when present
func LoadEnv() {
	for _, file := range []string{".env", ".env.local"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			log.Warn().Err(err).Str("file", file).Msg("Failed to load env file")
			continue
		}
		log.Debug().Str("file", file).Msg("Loaded env file")
	}
}

// Load reads path over the defaults, applies environment overrides, and
// validates. An empty path uses defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from POSTRUN_*, PG_*, and REDIS_* variables
func (c *Config) ApplyEnv() {
	c.Database.ApplyEnv()

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("POSTRUN_TIMEZONE"); v != "" {
		c.Budget.Timezone = v
	}
	if v := os.Getenv("POSTRUN_DAILY_LIMIT_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Budget.DailyLimitUSD = f
		}
	}
	if v := os.Getenv("POSTRUN_MAX_PREMIUM_CALLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Budget.MaxPremiumCallsPerDay = n
		}
	}
	if v := os.Getenv("POSTRUN_GENERATION_ENDPOINT"); v != "" {
		c.Generation.Endpoint = v
	}
	if v := os.Getenv("POSTRUN_GENERATION_API_KEY"); v != "" {
		c.Generation.APIKey = v
	}
	if v := os.Getenv("POSTRUN_PUBLISH_ENDPOINT"); v != "" {
		c.Generation.PublishEndpoint = v
	}
	if v := os.Getenv("POSTRUN_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Generation.DryRun = b
		}
	}
	if v := os.Getenv("POSTRUN_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = n
		}
	}
}

// Validate fails loudly on any setting that would make a component misbehave
func (c *Config) Validate() error {
	var errs []error

	loc, err := time.LoadLocation(c.Budget.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("budget timezone %q: %w", c.Budget.Timezone, err))
	} else {
		c.location = loc
	}

	if _, err := arms.NewSpace(c.Arms); err != nil {
		errs = append(errs, fmt.Errorf("arms: %w", err))
	}
	if err := c.BudgetGate().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("budget: %w", err))
	}
	if err := c.BanditModel().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("bandit: %w", err))
	}
	if err := c.OpportunityEvaluator().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("opportunity: %w", err))
	}
	if err := c.Quality.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("quality: %w", err))
	}
	if err := c.Momentum.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("momentum: %w", err))
	}
	if err := c.Pipeline().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("generation: %w", err))
	}
	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	if err := c.Scheduler.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	if c.Learning.DebounceInterval <= 0 {
		errs = append(errs, errors.New("learning: debounce_interval must be positive"))
	}
	if strings.TrimSpace(c.Learning.Key) == "" || strings.TrimSpace(c.Learning.MomentumKey) == "" {
		errs = append(errs, errors.New("learning: debounce keys must be set"))
	}
	if !c.Generation.DryRun && c.Generation.PublishEndpoint == "" {
		errs = append(errs, errors.New("generation: publish_endpoint is required unless dry_run is set"))
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http: port %d out of range", c.HTTP.Port))
	}

	return errors.Join(errs...)
}

// Location returns the validated timezone, UTC before validation
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// BudgetGate returns the budget gate configuration
func (c *Config) BudgetGate() budget.Config {
	bc := c.Budget.Config
	bc.Location = c.Location()
	return bc
}

// BanditModel returns the arm model configuration
func (c *Config) BanditModel() bandit.Config {
	return bandit.Config{PriorAlpha: c.Bandit.PriorAlpha, PriorBeta: c.Bandit.PriorBeta}
}

// OpportunityEvaluator returns the evaluator configuration
func (c *Config) OpportunityEvaluator() opportunity.Config {
	return opportunity.Config{
		Weights:             c.Opportunity.Weights,
		PostThreshold:       c.Opportunity.PostThreshold,
		OptimalWindows:      c.Opportunity.OptimalWindows,
		DaytimeBand:         c.Opportunity.DaytimeBand,
		FreshnessPerHour:    c.Opportunity.FreshnessPerHour,
		FreshnessGraceHours: c.Opportunity.FreshnessGraceHours,
		Epsilon:             c.Bandit.Epsilon,
		MaxCandidates:       c.Bandit.MaxCandidates,
		Location:            c.Location(),
	}
}

// Pipeline returns the posting pipeline configuration
func (c *Config) Pipeline() posting.Config {
	return posting.Config{
		MaxRegenerations:      c.Generation.MaxRegenerations,
		PreferPremium:         c.Generation.PreferPremium,
		SuccessEngagementRate: c.Bandit.SuccessEngagementRate,
	}
}

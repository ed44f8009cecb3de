package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postrun/internal/arms"
	"github.com/sawpanic/postrun/internal/bandit"
	"github.com/sawpanic/postrun/internal/cache"
	"github.com/sawpanic/postrun/internal/config"
	"github.com/sawpanic/postrun/internal/debounce"
	"github.com/sawpanic/postrun/internal/httpapi"
	"github.com/sawpanic/postrun/internal/infrastructure/db"
	"github.com/sawpanic/postrun/internal/metrics"
	"github.com/sawpanic/postrun/internal/momentum"
	"github.com/sawpanic/postrun/internal/net/budget"
	"github.com/sawpanic/postrun/internal/net/circuit"
	"github.com/sawpanic/postrun/internal/net/client"
	"github.com/sawpanic/postrun/internal/net/ratelimit"
	"github.com/sawpanic/postrun/internal/opportunity"
	"github.com/sawpanic/postrun/internal/persistence"
	"github.com/sawpanic/postrun/internal/persistence/memstore"
	"github.com/sawpanic/postrun/internal/posting"
	"github.com/sawpanic/postrun/internal/quality"
	"github.com/sawpanic/postrun/internal/scheduler"
	"github.com/sawpanic/postrun/internal/spend"
)

// errNoProducer is returned by the offline producer; ticks then fall back to
// the static library.
var errNoProducer = errors.New("no generation endpoint configured")

type offlineProducer struct{}

func (offlineProducer) Produce(context.Context, posting.Brief) (posting.Generation, error) {
	return posting.Generation{}, errNoProducer
}

// app holds every wired component for one process
type app struct {
	cfg       *config.Config
	metrics   *metrics.Registry
	database  *db.Manager
	repo      *persistence.Repository
	kv        cache.KV
	space     *arms.Space
	budget    *budget.Gate
	model     *bandit.Model
	momentum  *momentum.Store
	evaluator *opportunity.Evaluator
	quality   *quality.Gate
	limiter   *ratelimit.Limiter
	pipeline  *posting.Pipeline
}

// buildApp wires storage, learning, gating, and the posting pipeline from cfg.
// Without a database the in-memory store is used; without redis the key-value
// store and premium counter stay in-process.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.NewRegistry()}

	manager, err := db.NewManager(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.database = manager
	if manager.IsEnabled() {
		a.repo = manager.Repository()
	} else {
		log.Info().Msg("Database disabled, using in-memory store")
		a.repo = memstore.New().Repository()
	}

	a.kv = cache.NewAuto(ctx, cfg.Redis)

	a.space, err = arms.NewSpace(cfg.Arms)
	if err != nil {
		return nil, err
	}

	tracker := spend.NewTracker(a.repo.Spend, cfg.Budget.DailyLimitUSD, cfg.Location())
	gateOpts := []budget.Option{
		budget.WithMetrics(a.metrics),
		budget.WithBreaker(circuit.New(circuit.DefaultConfig("spend"))),
	}
	if cfg.Budget.SharedCounter {
		if r, ok := a.kv.(*cache.Redis); ok {
			gateOpts = append(gateOpts, budget.WithCounter(budget.NewRedisCounter(r.Client(), r.Prefix())))
		} else {
			log.Warn().Msg("Shared premium counter requested but redis is unavailable, counting in-process")
		}
	}
	a.budget = budget.NewGate(cfg.BudgetGate(), tracker, gateOpts...)

	a.model = bandit.New(a.repo.Posteriors, cfg.BanditModel(),
		bandit.WithBreaker(circuit.New(circuit.DefaultConfig("posteriors"))),
		bandit.WithMetrics(a.metrics),
	)
	a.momentum = momentum.NewStore(a.repo.Attributions, a.kv, cfg.Momentum)

	a.evaluator, err = opportunity.NewEvaluator(cfg.OpportunityEvaluator(), a.space, a.model, a.momentum, a.repo.Attributions,
		opportunity.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, err
	}

	a.quality = quality.NewGate(cfg.Quality, quality.WithMetrics(a.metrics))
	a.limiter = ratelimit.NewLimiter(cfg.Generation.DefaultRate, cfg.Generation.Rates)

	var producer posting.Producer = offlineProducer{}
	if cfg.Generation.Endpoint != "" {
		hc := client.NewHTTPClient(client.WrapperConfig{
			Provider:       "generator",
			CircuitBreaker: circuit.New(cfg.Generation.Breaker),
		}, cfg.Generation.Timeout)
		producer = posting.NewHTTPProducer(hc, cfg.Generation.Endpoint, cfg.Generation.APIKey)
	} else {
		log.Warn().Msg("No generation endpoint configured, ticks will use fallback content")
	}

	var publisher posting.Publisher
	if cfg.Generation.DryRun {
		publisher = posting.NewDryRunPublisher()
	} else {
		hc := client.NewHTTPClient(client.WrapperConfig{
			Provider:       "publisher",
			CircuitBreaker: circuit.New(circuit.DefaultConfig("publisher")),
		}, cfg.Generation.Timeout)
		publisher = posting.NewWebhookPublisher(hc, cfg.Generation.PublishEndpoint)
	}

	a.pipeline, err = posting.NewPipeline(cfg.Pipeline(), posting.Deps{
		Decider:      a.evaluator,
		Producer:     producer,
		Publisher:    publisher,
		Gate:         a.quality,
		Budget:       a.budget,
		Throttle:     a.limiter,
		Spend:        tracker,
		Fallbacks:    posting.DefaultFallbacks(),
		Learner:      a.model,
		Attributions: a.repo.Attributions,
		Metrics:      a.metrics,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("arms", a.space.Size()).
		Bool("database", manager.IsEnabled()).
		Bool("dry_run", cfg.Generation.DryRun).
		Str("timezone", cfg.Location().String()).
		Msg("Posting engine ready")
	return a, nil
}

// newScheduler registers every job handler
func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	s, err := scheduler.NewScheduler(a.cfg.Scheduler, scheduler.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}

	s.Register(scheduler.TypePostingTick, func(ctx context.Context) error {
		_, err := a.pipeline.Tick(ctx)
		return err
	})

	interval := a.cfg.Learning.DebounceInterval
	momentumGate := debounce.New(a.kv, a.cfg.Learning.MomentumKey, interval, debounce.WithMetrics(a.metrics))
	s.RegisterDebounced(scheduler.TypeMomentumRefresh, momentumGate, a.momentum.Refresh)

	learningGate := debounce.New(a.kv, a.cfg.Learning.Key, interval, debounce.WithMetrics(a.metrics))
	s.RegisterDebounced(scheduler.TypeLearningRefresh, learningGate, a.relearn)
	return s, nil
}

// relearn refreshes momentum and logs the current leaders
func (a *app) relearn(ctx context.Context) error {
	if err := a.momentum.Refresh(ctx); err != nil {
		return err
	}
	top, err := a.model.Top(ctx, 5)
	if err != nil {
		return err
	}
	for i, r := range top {
		log.Info().
			Int("rank", i+1).
			Str("arm", r.Arm.Key()).
			Float64("mean", r.Mean).
			Int("observations", r.Observations).
			Msg("Arm standing")
	}
	return nil
}

// statusServer builds the read-only HTTP server
func (a *app) statusServer(s *scheduler.Scheduler) *httpapi.Server {
	cfg := httpapi.DefaultServerConfig()
	cfg.Host = a.cfg.HTTP.Host
	cfg.Port = a.cfg.HTTP.Port

	deps := httpapi.Deps{
		Budget:   a.budget,
		Arms:     a.model,
		Momentum: a.momentum,
		Limiter:  a.limiter,
		Database: a.database.Health(),
		Metrics:  a.metrics,
	}
	if s != nil {
		deps.Scheduler = s
	}
	return httpapi.NewServer(cfg, deps)
}

func (a *app) Close() {
	if err := a.database.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close database")
	}
}

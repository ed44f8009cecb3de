package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds all Prometheus metrics for the posting engine.
// A nil *Registry is valid and records nothing, so components can be built without metrics.
type Registry struct {
	reg *prometheus.Registry

	Decisions         *prometheus.CounterVec
	OpportunityScore  prometheus.Histogram
	QualityScores     *prometheus.HistogramVec
	QualityRejections *prometheus.CounterVec
	BudgetDenials     *prometheus.CounterVec
	PremiumCalls      prometheus.Counter
	DebounceSkips     *prometheus.CounterVec
	Fallbacks         *prometheus.CounterVec
	StoreDefaults     *prometheus.CounterVec
	Published         prometheus.Counter
	JobDuration       *prometheus.HistogramVec
}

// NewRegistry creates a registry with every postrun metric registered
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postrun_decisions_total",
				Help: "Posting decisions by outcome (post, wait)",
			},
			[]string{"decision"},
		),

		OpportunityScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "postrun_opportunity_score",
				Help:    "Overall opportunity score per scheduling tick",
				Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		),

		QualityScores: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "postrun_quality_score",
				Help:    "Quality gate score per axis (0.0 to 1.0)",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
			[]string{"axis"},
		),

		QualityRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postrun_quality_rejections_total",
				Help: "Quality gate failing conditions by axis (overall for the pass threshold)",
			},
			[]string{"axis"},
		),

		BudgetDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postrun_budget_denials_total",
				Help: "Premium call denials by reason",
			},
			[]string{"reason"},
		),

		PremiumCalls: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "postrun_premium_calls_total",
				Help: "Premium generation calls admitted by the budget gate",
			},
		),

		DebounceSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postrun_debounce_skips_total",
				Help: "Invocations skipped because the debounce interval had not elapsed",
			},
			[]string{"key"},
		),

		Fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postrun_fallback_candidates_total",
				Help: "Canned fallback candidates used by cause",
			},
			[]string{"cause"},
		),

		StoreDefaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postrun_store_defaults_total",
				Help: "Neutral defaults substituted after a datastore failure",
			},
			[]string{"store"},
		),

		Published: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "postrun_published_total",
				Help: "Posts handed to the publisher successfully",
			},
		),

		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "postrun_job_duration_seconds",
				Help:    "Duration of scheduled jobs in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"job", "result"},
		),
	}

	r.reg.MustRegister(
		r.Decisions,
		r.OpportunityScore,
		r.QualityScores,
		r.QualityRejections,
		r.BudgetDenials,
		r.PremiumCalls,
		r.DebounceSkips,
		r.Fallbacks,
		r.StoreDefaults,
		r.Published,
		r.JobDuration,
	)

	return r
}

// RecordDecision records one opportunity evaluation
func (r *Registry) RecordDecision(shouldPost bool, score int) {
	if r == nil {
		return
	}
	decision := "wait"
	if shouldPost {
		decision = "post"
	}
	r.Decisions.WithLabelValues(decision).Inc()
	r.OpportunityScore.Observe(float64(score))
}

// RecordQuality records axis scores and any failing axes for one candidate
func (r *Registry) RecordQuality(axisScores map[string]float64, failing []string) {
	if r == nil {
		return
	}
	for axis, v := range axisScores {
		r.QualityScores.WithLabelValues(axis).Observe(v)
	}
	for _, axis := range failing {
		r.QualityRejections.WithLabelValues(axis).Inc()
	}
}

// RecordBudgetDenial records a premium call denial
func (r *Registry) RecordBudgetDenial(reason string) {
	if r == nil {
		return
	}
	r.BudgetDenials.WithLabelValues(reason).Inc()
}

// RecordPremiumCall records an admitted premium call
func (r *Registry) RecordPremiumCall() {
	if r == nil {
		return
	}
	r.PremiumCalls.Inc()
}

// RecordDebounceSkip records a skipped relearning invocation
func (r *Registry) RecordDebounceSkip(key string) {
	if r == nil {
		return
	}
	r.DebounceSkips.WithLabelValues(key).Inc()
}

// RecordFallback records use of a canned fallback candidate
func (r *Registry) RecordFallback(cause string) {
	if r == nil {
		return
	}
	r.Fallbacks.WithLabelValues(cause).Inc()
}

// RecordStoreDefault records a neutral default substituted for a failed read
func (r *Registry) RecordStoreDefault(store string) {
	if r == nil {
		return
	}
	r.StoreDefaults.WithLabelValues(store).Inc()
}

// RecordPublished records a successful publish
func (r *Registry) RecordPublished() {
	if r == nil {
		return
	}
	r.Published.Inc()
}

// JobTimer tracks execution time for scheduled jobs
type JobTimer struct {
	registry *Registry
	job      string
	start    time.Time
}

// StartJobTimer begins timing a scheduled job
func (r *Registry) StartJobTimer(job string) *JobTimer {
	return &JobTimer{registry: r, job: job, start: time.Now()}
}

// Stop completes the job timing and records the metric
func (jt *JobTimer) Stop(result string) time.Duration {
	duration := time.Since(jt.start)
	if jt.registry != nil {
		jt.registry.JobDuration.WithLabelValues(jt.job, result).Observe(duration.Seconds())
	}

	log.Debug().
		Str("job", jt.job).
		Str("result", result).
		Dur("duration", duration).
		Msg("Job completed")
	return duration
}

// Handler returns an HTTP handler exposing this registry
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests and custom exporters
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Totals sums every counter family by name, for status endpoints
func (r *Registry) Totals() map[string]float64 {
	totals := make(map[string]float64)
	if r == nil {
		return totals
	}

	families, err := r.reg.Gather()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to gather metrics")
		return totals
	}
	for _, mf := range families {
		if mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		var sum float64
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
		totals[mf.GetName()] = sum
	}
	return totals
}

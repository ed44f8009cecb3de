package scheduler

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/postrun/internal/debounce"
	"github.com/sawpanic/postrun/internal/metrics"
)

// Job types
const (
	TypePostingTick     = "posting.tick"
	TypeMomentumRefresh = "momentum.refresh"
	TypeLearningRefresh = "learning.refresh"
)

// Job binds a cadence to a job type. Several jobs may share a type.
type Job struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	Every       time.Duration `yaml:"every"`
	Description string        `yaml:"description"`
	Enabled     bool          `yaml:"enabled"`
}

type Config struct {
	Jobs []Job `yaml:"jobs"`
}

// DefaultConfig returns the standard cadence: a posting tick every 15 minutes
// and relearning jobs that are invoked often but debounced.
func DefaultConfig() Config {
	return Config{Jobs: []Job{
		{Name: "posting", Type: TypePostingTick, Every: 15 * time.Minute, Enabled: true,
			Description: "Evaluate the posting opportunity and publish when it clears the bar"},
		{Name: "momentum", Type: TypeMomentumRefresh, Every: time.Hour, Enabled: true,
			Description: "Recompute topic momentum from measured outcomes"},
		{Name: "learning", Type: TypeLearningRefresh, Every: 30 * time.Minute, Enabled: true,
			Description: "Relearn from recent outcomes"},
	}}
}

// LoadConfig reads a standalone jobs file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("scheduler: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("scheduler: %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate requires unique names and a positive cadence on enabled jobs.
func (c Config) Validate() error {
	names := make(map[string]struct{}, len(c.Jobs))
	for _, job := range c.Jobs {
		if job.Name == "" {
			return fmt.Errorf("scheduler: unnamed %q job", job.Type)
		}
		if _, dup := names[job.Name]; dup {
			return fmt.Errorf("scheduler: job %q defined twice", job.Name)
		}
		names[job.Name] = struct{}{}
		if job.Enabled && job.Every <= 0 {
			return fmt.Errorf("scheduler: job %q needs every > 0", job.Name)
		}
	}
	return nil
}

// Handler performs one job run
type Handler func(ctx context.Context) error

// JobResult is the outcome of one run. Skipped means a debouncer held it back.
type JobResult struct {
	JobName   string        `json:"job_name" yaml:"job_name"`
	Type      string        `json:"type" yaml:"type"`
	StartTime time.Time     `json:"start_time" yaml:"start_time"`
	EndTime   time.Time     `json:"end_time" yaml:"end_time"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Success   bool          `json:"success" yaml:"success"`
	Skipped   bool          `json:"skipped" yaml:"skipped"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Status is what /health reports for the scheduler.
type Status struct {
	Running      bool                 `json:"running"`
	EnabledJobs  int                  `json:"enabled_jobs"`
	DisabledJobs int                  `json:"disabled_jobs"`
	Uptime       time.Duration        `json:"uptime"`
	LastResults  map[string]JobResult `json:"last_results"`
}

// Scheduler runs registered handlers on their configured cadence.
type Scheduler struct {
	config     Config
	handlers   map[string]Handler
	debouncers map[string]*debounce.Scheduler
	metrics    *metrics.Registry

	mu      sync.Mutex
	running bool
	since   time.Time
	last    map[string]JobResult
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithMetrics records job durations
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func NewScheduler(cfg Config, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		config:     cfg,
		handlers:   make(map[string]Handler),
		debouncers: make(map[string]*debounce.Scheduler),
		last:       make(map[string]JobResult),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Register binds a handler to a job type
func (s *Scheduler) Register(jobType string, h Handler) {
	s.handlers[jobType] = h
}

// RegisterDebounced binds a handler that runs at most once per debounce interval
func (s *Scheduler) RegisterDebounced(jobType string, d *debounce.Scheduler, h Handler) {
	s.handlers[jobType] = h
	s.debouncers[jobType] = d
}

func (s *Scheduler) ListJobs() []Job {
	out := make([]Job, len(s.config.Jobs))
	copy(out, s.config.Jobs)
	return out
}

func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.running, LastResults: maps.Clone(s.last)}
	for _, job := range s.config.Jobs {
		if job.Enabled {
			st.EnabledJobs++
		} else {
			st.DisabledJobs++
		}
	}
	if s.running {
		st.Uptime = time.Since(s.since)
	}
	return st
}

// Run starts one ticker per enabled job and blocks until ctx is cancelled.
// Each job runs once immediately, then every job.Every. Job failures are
// logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.since = time.Now()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	enabled := 0
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range s.config.Jobs {
		if !job.Enabled {
			continue
		}
		if _, ok := s.handlers[job.Type]; !ok {
			log.Warn().Str("job", job.Name).Str("type", job.Type).Msg("No handler registered, job skipped")
			continue
		}
		enabled++
		g.Go(func() error {
			s.loop(gctx, job)
			return nil
		})
	}

	log.Info().Int("jobs", enabled).Msg("Scheduler starting")
	g.Wait()
	log.Info().Msg("Scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Every)
	defer ticker.Stop()

	for {
		if _, err := s.RunJob(ctx, job.Name); err != nil {
			log.Error().Err(err).Str("job", job.Name).Msg("Job could not be started")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunJob executes a specific job immediately. The error is non-nil only when
// the job cannot be found or has no handler; job failures are reported in the
// result.
func (s *Scheduler) RunJob(ctx context.Context, jobName string) (*JobResult, error) {
	i := slices.IndexFunc(s.config.Jobs, func(j Job) bool { return j.Name == jobName })
	if i < 0 {
		return nil, fmt.Errorf("scheduler: unknown job %q", jobName)
	}
	job := s.config.Jobs[i]
	handler, ok := s.handlers[job.Type]
	if !ok {
		return nil, fmt.Errorf("scheduler: nothing registered for %q", job.Type)
	}

	result := &JobResult{JobName: job.Name, Type: job.Type, StartTime: time.Now()}
	timer := s.metrics.StartJobTimer(job.Name)

	ran, err := s.execute(ctx, job.Type, handler)
	result.Skipped = !ran
	result.Success = err == nil

	label := "success"
	switch {
	case err != nil:
		label = "error"
		result.Error = err.Error()
		log.Error().Err(err).Str("job", job.Name).Str("type", job.Type).Msg("Job failed")
	case !ran:
		label = "skipped"
	}
	result.Duration = timer.Stop(label)
	result.EndTime = result.StartTime.Add(result.Duration)

	s.mu.Lock()
	s.last[job.Name] = *result
	s.mu.Unlock()
	return result, nil
}

// execute runs the handler behind its debouncer, converting panics to errors
func (s *Scheduler) execute(ctx context.Context, jobType string, h Handler) (ran bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ran, err = true, fmt.Errorf("job panicked: %v", r)
		}
	}()

	if d, ok := s.debouncers[jobType]; ok {
		return d.WithDebounce(ctx, h)
	}
	return true, h(ctx)
}

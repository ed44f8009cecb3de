package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postrun/internal/bandit"
	"github.com/sawpanic/postrun/internal/metrics"
	"github.com/sawpanic/postrun/internal/momentum"
	"github.com/sawpanic/postrun/internal/net/budget"
	"github.com/sawpanic/postrun/internal/net/ratelimit"
	"github.com/sawpanic/postrun/internal/persistence"
	"github.com/sawpanic/postrun/internal/scheduler"
)

// BudgetReader exposes the budget gate's read-only snapshot
type BudgetReader interface {
	Status(ctx context.Context) budget.Status
}

// ArmRanker lists the best observed arms
type ArmRanker interface {
	Top(ctx context.Context, n int) ([]bandit.Ranking, error)
}

// MomentumReader exposes the current momentum table
type MomentumReader interface {
	Snapshot() []momentum.TopicMomentum
	RefreshedAt() time.Time
}

// SchedulerReader exposes job status
type SchedulerReader interface {
	GetStatus() scheduler.Status
}

// RateReader exposes limiter state
type RateReader interface {
	Stats() map[string]ratelimit.Stats
}

// Deps are the read-only sources behind the endpoints. Scheduler, Limiter,
// and Database are optional.
type Deps struct {
	Budget    BudgetReader
	Arms      ArmRanker
	Momentum  MomentumReader
	Scheduler SchedulerReader
	Limiter   RateReader
	Database  persistence.RepositoryHealth
	Metrics   *metrics.Registry
}

const (
	defaultTop = 10
	maxTop     = 100
)

// Handlers manages all HTTP endpoint handlers
type Handlers struct {
	deps      Deps
	startTime time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps, startTime: time.Now()}
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Counters:  h.deps.Metrics.Totals(),
	}
	if h.deps.Database != nil {
		check := h.deps.Database.Health(r.Context())
		resp.Database = &check
		if !check.Healthy {
			resp.Status = "degraded"
		}
	}
	if h.deps.Scheduler != nil {
		st := h.deps.Scheduler.GetStatus()
		resp.Scheduler = &st
	}
	if h.deps.Limiter != nil {
		resp.RateLimit = h.deps.Limiter.Stats()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Budget handles GET /budget
func (h *Handlers) Budget(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, BudgetResponse{
		Budget:    h.deps.Budget.Status(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

// Arms handles GET /arms?top=N
func (h *Handlers) Arms(w http.ResponseWriter, r *http.Request) {
	n := defaultTop
	if raw := r.URL.Query().Get("top"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxTop {
			h.writeError(w, r, http.StatusBadRequest, "invalid_top", "top must be an integer between 1 and 100")
			return
		}
		n = v
	}

	ranked, err := h.deps.Arms.Top(r.Context(), n)
	if err != nil {
		log.Warn().Err(err).Msg("Arm ranking unavailable")
		h.writeError(w, r, http.StatusServiceUnavailable, "posteriors_unavailable", "posterior store is unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, ArmsResponse{Arms: ranked, Count: len(ranked), Timestamp: time.Now().UTC()})
}

// Momentum handles GET /momentum
func (h *Handlers) Momentum(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, MomentumResponse{
		Topics:      h.deps.Momentum.Snapshot(),
		RefreshedAt: h.deps.Momentum.RefreshedAt(),
		Timestamp:   time.Now().UTC(),
	})
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found", "The requested endpoint does not exist")
}

// writeJSON writes JSON response with proper error handling
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes standardized error response
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Code:      code,
		Message:   message,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

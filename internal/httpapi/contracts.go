package httpapi

import (
	"time"

	"github.com/sawpanic/postrun/internal/bandit"
	"github.com/sawpanic/postrun/internal/momentum"
	"github.com/sawpanic/postrun/internal/net/budget"
	"github.com/sawpanic/postrun/internal/net/ratelimit"
	"github.com/sawpanic/postrun/internal/persistence"
	"github.com/sawpanic/postrun/internal/scheduler"
)

// HealthResponse is /health. Status is "degraded" when the store is unhealthy.
type HealthResponse struct {
	Status    string                     `json:"status"`
	Timestamp time.Time                  `json:"timestamp"`
	Uptime    string                     `json:"uptime"`
	Database  *persistence.HealthCheck   `json:"database,omitempty"`
	Scheduler *scheduler.Status          `json:"scheduler,omitempty"`
	RateLimit map[string]ratelimit.Stats `json:"rate_limit,omitempty"`
	Counters  map[string]float64         `json:"counters"`
}

// BudgetResponse wraps the gate snapshot
type BudgetResponse struct {
	Budget    budget.Status `json:"budget"`
	Timestamp time.Time     `json:"timestamp"`
}

// ArmsResponse lists the best observed arms
type ArmsResponse struct {
	Arms      []bandit.Ranking `json:"arms"`
	Count     int              `json:"count"`
	Timestamp time.Time        `json:"timestamp"`
}

// MomentumResponse lists topic momentum
type MomentumResponse struct {
	Topics      []momentum.TopicMomentum `json:"topics"`
	RefreshedAt time.Time                `json:"refreshed_at"`
	Timestamp   time.Time                `json:"timestamp"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

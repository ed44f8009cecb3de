// Package httpapi serves read-only status endpoints: health, budget, arm
// rankings, topic momentum, and Prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// ServerConfig controls the listener. HandlerTimeout bounds each request's
// context, independent of the connection timeouts.
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	HandlerTimeout time.Duration
}

// DefaultServerConfig listens on loopback only.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "127.0.0.1",
		Port:           8088,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    time.Minute,
		HandlerTimeout: 5 * time.Second,
	}
}

type Server struct {
	cfg    ServerConfig
	router *mux.Router
	http   *http.Server
}

func NewServer(cfg ServerConfig, deps Deps) *Server {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultServerConfig().HandlerTimeout
	}

	h := NewHandlers(deps)
	r := mux.NewRouter()
	r.Use(withRequestID, accessLog, withDeadline(cfg.HandlerTimeout))

	get := func(path string, fn http.HandlerFunc) { r.Handle(path, fn).Methods(http.MethodGet) }
	get("/health", h.Health)
	get("/budget", h.Budget)
	get("/arms", h.Arms)
	get("/momentum", h.Momentum)
	r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)

	// mux skips middleware for unmatched routes
	r.NotFoundHandler = withRequestID(http.HandlerFunc(h.NotFound))

	s := &Server{cfg: cfg, router: r}
	s.http = &http.Server{
		Addr:         s.Address(),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Address() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Start blocks until the listener fails or Shutdown is called. A clean
// shutdown returns nil.
func (s *Server) Start() error {
	log.Info().Str("addr", s.Address()).Msg("Status server listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Str("addr", s.Address()).Msg("Status server stopping")
	return s.http.Shutdown(ctx)
}

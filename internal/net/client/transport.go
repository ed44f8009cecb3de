// Package client wraps outbound HTTP to the generation and publish providers
// with a circuit breaker and classifies failures for fallback accounting.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sawpanic/postrun/internal/net/circuit"
)

const defaultUserAgent = "postrun/1.0"

// FailureKind classifies a provider failure.
type FailureKind string

const (
	KindCircuitOpen FailureKind = "circuit"
	KindTransport   FailureKind = "transport"
	KindUpstream    FailureKind = "http_error"
	KindRateLimited FailureKind = "rate_limited"
)

// WrapperConfig names the provider and optionally guards it with a breaker.
type WrapperConfig struct {
	Provider       string
	UserAgent      string
	CircuitBreaker *circuit.Breaker
}

// Transport is an http.RoundTripper that turns 5xx and 429 responses into
// ProviderErrors so they count against the breaker. Other statuses pass
// through for the caller to interpret.
type Transport struct {
	provider string
	agent    string
	breaker  *circuit.Breaker
	next     http.RoundTripper
}

func NewTransport(cfg WrapperConfig, next http.RoundTripper) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	agent := cfg.UserAgent
	if agent == "" {
		agent = defaultUserAgent
	}
	return &Transport{provider: cfg.Provider, agent: agent, breaker: cfg.CircuitBreaker, next: next}
}

// NewHTTPClient is the client the producer and publisher use.
func NewHTTPClient(cfg WrapperConfig, timeout time.Duration) *http.Client {
	return &http.Client{Transport: NewTransport(cfg, nil), Timeout: timeout}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.agent)
	}

	if t.breaker == nil {
		return t.send(req)
	}

	// The breaker only sees the status; the body is read by the caller after
	// Do returns, so the request keeps its own context.
	var resp *http.Response
	err := t.breaker.Do(req.Context(), func(context.Context) error {
		var err error
		resp, err = t.send(req)
		return err
	})
	switch {
	case errors.Is(err, circuit.ErrCircuitOpen):
		return nil, t.fail(KindCircuitOpen, 0, err)
	case err != nil:
		return nil, err
	}
	return resp, nil
}

func (t *Transport) send(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, t.fail(KindTransport, 0, err)
	}

	var kind FailureKind
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		kind = KindRateLimited
	case resp.StatusCode >= http.StatusInternalServerError:
		kind = KindUpstream
	default:
		return resp, nil
	}

	perr := t.fail(kind, resp.StatusCode, fmt.Errorf("%s", resp.Status))
	perr.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
	_ = resp.Body.Close()
	return nil, perr
}

func (t *Transport) fail(kind FailureKind, status int, err error) *ProviderError {
	return &ProviderError{Provider: t.provider, Kind: kind, StatusCode: status, Err: err}
}

// retryAfter understands the delta-seconds form only.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// ProviderError is a classified failure from an outbound provider call.
type ProviderError struct {
	Provider   string        `json:"provider"`
	Kind       FailureKind   `json:"kind"`
	StatusCode int           `json:"status_code,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Err        error         `json:"-"`
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += " " + strconv.Itoa(e.StatusCode)
	}
	return msg + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) IsCircuitOpen() bool { return e.Kind == KindCircuitOpen }

// Cause is the fallback metric label for this failure.
func (e *ProviderError) Cause() string {
	switch e.Kind {
	case KindCircuitOpen:
		return "producer_circuit_open"
	case KindUpstream:
		return "producer_http_error"
	case KindRateLimited:
		return "producer_rate_limited"
	}
	return "producer_transport_error"
}

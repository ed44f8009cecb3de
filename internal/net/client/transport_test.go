package client

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/postrun/internal/net/circuit"
)

func statusServer(t *testing.T, status int, hdr map[string]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("X-Seen-Agent", r.Header.Get("User-Agent"))
		for k, v := range hdr {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestTransportDefaultsUserAgent(t *testing.T) {
	srv, _ := statusServer(t, http.StatusOK, nil)

	resp, err := NewHTTPClient(WrapperConfig{Provider: "generator"}, time.Second).Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, defaultUserAgent, resp.Header.Get("X-Seen-Agent"))
}

func TestTransportClassifiesStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		hdr    map[string]string
		kind   FailureKind
		cause  string
		retry  time.Duration
	}{
		{"bad gateway", http.StatusBadGateway, nil, KindUpstream, "producer_http_error", 0},
		{"throttled", http.StatusTooManyRequests, map[string]string{"Retry-After": "7"}, KindRateLimited, "producer_rate_limited", 7 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := statusServer(t, tt.status, tt.hdr)

			_, err := NewHTTPClient(WrapperConfig{Provider: "generator"}, time.Second).Get(srv.URL)
			var perr *ProviderError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, tt.kind, perr.Kind)
			assert.Equal(t, tt.status, perr.StatusCode)
			assert.Equal(t, tt.cause, perr.Cause())
			assert.Equal(t, tt.retry, perr.RetryAfter)
		})
	}
}

func TestTransportPassesClientErrors(t *testing.T) {
	srv, _ := statusServer(t, http.StatusUnprocessableEntity, nil)

	resp, err := NewHTTPClient(WrapperConfig{Provider: "publisher"}, time.Second).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestTransportUnreachableIsTransportFailure(t *testing.T) {
	srv, _ := statusServer(t, http.StatusOK, nil)
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClient(WrapperConfig{Provider: "generator"}, time.Second).Get(url)
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "producer_transport_error", perr.Cause())
}

func TestTransportOpenBreakerShortCircuits(t *testing.T) {
	srv, hits := statusServer(t, http.StatusServiceUnavailable, nil)

	breaker := circuit.New(circuit.Config{Name: "generator", ConsecutiveFailures: 2, OpenTimeout: time.Minute, CallTimeout: time.Second})
	c := NewHTTPClient(WrapperConfig{Provider: "generator", CircuitBreaker: breaker}, time.Second)

	for range 2 {
		_, err := c.Get(srv.URL)
		require.Error(t, err)
	}

	_, err := c.Get(srv.URL)
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.True(t, perr.IsCircuitOpen())
	assert.Equal(t, "producer_circuit_open", perr.Cause())
	assert.EqualValues(t, 2, hits.Load(), "open breaker must not reach the provider")
}

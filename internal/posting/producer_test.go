package posting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/postrun/internal/quality"
)

func TestHTTPProducer_Produce(t *testing.T) {
	var got Brief
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"parts":["one","two","three"],"model":"large","cost_usd":0.12}`))
	}))
	defer srv.Close()

	p := NewHTTPProducer(srv.Client(), srv.URL, "secret")
	brief := BriefFor(testArm)
	brief.ThreadLen = 3
	brief.Format = "thread"
	brief.Tier = TierPremium

	gen, err := p.Produce(context.Background(), brief)
	require.NoError(t, err)

	assert.Equal(t, brief, got)
	assert.Equal(t, []string{"one", "two", "three"}, gen.Candidate.Parts)
	assert.Equal(t, "thread", gen.Candidate.Format)
	assert.Equal(t, "training", gen.Candidate.Topic)
	assert.Equal(t, "large", gen.Model)
	assert.Equal(t, 0.12, gen.CostUSD)
}

func TestHTTPProducer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, "boom"},
		{"empty content", http.StatusOK, `{"model":"large"}`},
		{"bad json", http.StatusOK, `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPProducer(srv.Client(), srv.URL, "").Produce(context.Background(), BriefFor(testArm))
			assert.Error(t, err)
		})
	}
}

func TestWebhookPublisher_Publish(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	var payload struct {
		Parts []string `json:"parts"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		json.NewEncoder(w).Encode(Published{PostID: "1790", PublishedAt: at})
	}))
	defer srv.Close()

	pub, err := NewWebhookPublisher(srv.Client(), srv.URL).Publish(context.Background(),
		quality.Candidate{Format: "thread", Text: "first\n\nsecond"})
	require.NoError(t, err)

	assert.Equal(t, "1790", pub.PostID)
	assert.True(t, at.Equal(pub.PublishedAt))
	assert.Equal(t, []string{"first", "second"}, payload.Parts)
}

func TestWebhookPublisher_RejectsMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewWebhookPublisher(srv.Client(), srv.URL).Publish(context.Background(), quality.Candidate{Text: "x"})
	assert.Error(t, err)
}

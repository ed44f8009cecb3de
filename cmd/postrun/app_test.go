package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/postrun/internal/config"
	"github.com/sawpanic/postrun/internal/posting"
	"github.com/sawpanic/postrun/internal/quality"
)

func offlineApp(t *testing.T) *app {
	t.Helper()
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("PG_ENABLED", "")

	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	a, err := buildApp(context.Background(), &cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestBuildApp_OfflineTickUsesFallbacks(t *testing.T) {
	a := offlineApp(t)
	assert.False(t, a.database.IsEnabled())

	res, err := a.pipeline.Tick(context.Background())
	require.NoError(t, err)
	switch res.Reason {
	case posting.ReasonWait:
		assert.False(t, res.Posted)
	case posting.ReasonPosted:
		assert.True(t, res.UsedFallback, "no producer is configured")
		assert.Equal(t, posting.TierFallback, res.Tier)
	default:
		t.Fatalf("unexpected tick reason %q", res.Reason)
	}
}

func TestScheduler_RelearningIsDebounced(t *testing.T) {
	a := offlineApp(t)
	s, err := a.newScheduler()
	require.NoError(t, err)

	first, err := s.RunJob(context.Background(), "learning")
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.False(t, first.Skipped)

	second, err := s.RunJob(context.Background(), "learning")
	require.NoError(t, err)
	assert.True(t, second.Skipped)

	// momentum has its own key, so it still runs
	mom, err := s.RunJob(context.Background(), "momentum")
	require.NoError(t, err)
	assert.False(t, mom.Skipped)
}

func TestStatusServerServesBudget(t *testing.T) {
	a := offlineApp(t)
	srv := a.statusServer(nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/budget", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"daily_limit":10`)
}

func TestScoreCommand(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")

	text := "Most people think 8 hours of sleep is the goal. Research shows consistency matters more: " +
		"going to bed at the same time improves sleep quality by 20%. Pick a bedtime and keep it for a week. " +
		"Reply with your bedtime."

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader(text))
	root.SetArgs([]string{"score", "--topic", "sleep", "--log-level", "error"})
	require.NoError(t, root.Execute())

	var scores quality.ContentScores
	require.NoError(t, json.Unmarshal(out.Bytes(), &scores), "non-terminal output is JSON")
	assert.Greater(t, scores.Overall, 0.0)
	assert.LessOrEqual(t, scores.Overall, 1.0)
}

func TestScoreCommand_Errors(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		stdin string
	}{
		{"bad format", []string{"score", "--format", "carousel"}, "hello"},
		{"empty input", []string{"score"}, "   \n"},
		{"missing file", []string{"score", "/does/not/exist.txt"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd()
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			root.SetIn(strings.NewReader(tt.stdin))
			root.SetArgs(append(tt.args, "--log-level", "error"))
			assert.Error(t, root.Execute())
		})
	}
}

func TestFeedbackRequiresPostID(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"feedback", "--impressions", "100", "--log-level", "error"})
	assert.Error(t, root.Execute())
}

package posting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sawpanic/postrun/internal/quality"
)

// HTTPProducer asks a content generation service for a candidate. The service
// receives the Brief as JSON and answers with parts or text plus cost.
type HTTPProducer struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

// NewHTTPProducer creates a producer posting briefs to endpoint
func NewHTTPProducer(client *http.Client, endpoint, apiKey string) *HTTPProducer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProducer{client: client, endpoint: endpoint, apiKey: apiKey}
}

type generationResponse struct {
	Parts   []string `json:"parts"`
	Text    string   `json:"text"`
	Model   string   `json:"model"`
	CostUSD float64  `json:"cost_usd"`
}

// Produce implements Producer
func (p *HTTPProducer) Produce(ctx context.Context, brief Brief) (Generation, error) {
	body, err := json.Marshal(brief)
	if err != nil {
		return Generation{}, fmt.Errorf("encode brief: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Generation{}, fmt.Errorf("build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Generation{}, fmt.Errorf("generation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Generation{}, fmt.Errorf("generation service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var gr generationResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return Generation{}, fmt.Errorf("decode generation response: %w", err)
	}
	if len(gr.Parts) == 0 && strings.TrimSpace(gr.Text) == "" {
		return Generation{}, fmt.Errorf("generation service returned empty content")
	}

	return Generation{
		Candidate: quality.Candidate{
			Parts:  gr.Parts,
			Text:   gr.Text,
			Format: brief.Format,
			Topic:  brief.Topic,
		},
		Model:   gr.Model,
		CostUSD: gr.CostUSD,
	}, nil
}

// StaticFallbacks is a fixed library of canned posts keyed by topic
type StaticFallbacks map[string]quality.Candidate

// DefaultFallbacks returns one evergreen single post per built-in topic
func DefaultFallbacks() StaticFallbacks {
	single := func(topic, text string) quality.Candidate {
		return quality.Candidate{Format: "single", Topic: topic, Text: text}
	}
	return StaticFallbacks{
		"sleep": single("sleep",
			"Most people think a nightcap helps you sleep, but research shows 2 drinks cut deep sleep by 24%. Try a dry week and compare how rested you feel."),
		"nutrition": single("nutrition",
			"Most people think breakfast is the key meal, but a 2020 trial found meal timing mattered far less than total protein across the day."),
		"training": single("training",
			"Most people think more cardio burns more fat, but a 2022 study found 3 short strength sessions a week beat daily jogging for fat loss."),
		"focus": single("focus",
			"Most people think multitasking saves time, but research shows switching tasks can cost up to 40% of productive time. Pick one task today."),
		"stress": single("stress",
			"Most people think stress is always harmful, but a study of 30,000 adults found belief about stress predicted health more than stress itself."),
	}
}

// For returns the canned post for a topic. Format is ignored: fallbacks are
// single posts regardless of the arm's thread length.
func (f StaticFallbacks) For(topic, _ string) (quality.Candidate, bool) {
	c, ok := f[topic]
	return c, ok
}

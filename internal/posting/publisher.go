package posting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postrun/internal/quality"
)

// DryRunPublisher logs content instead of posting it and keeps a copy
type DryRunPublisher struct {
	mu        sync.Mutex
	published []quality.Candidate
	now       func() time.Time
}

// NewDryRunPublisher creates a publisher that never leaves the process
func NewDryRunPublisher() *DryRunPublisher {
	return &DryRunPublisher{now: time.Now}
}

// Publish implements Publisher
func (d *DryRunPublisher) Publish(_ context.Context, c quality.Candidate) (Published, error) {
	d.mu.Lock()
	d.published = append(d.published, c)
	d.mu.Unlock()

	pub := Published{PostID: "dry-" + uuid.NewString(), PublishedAt: d.now().UTC()}
	log.Info().
		Str("post_id", pub.PostID).
		Str("topic", c.Topic).
		Str("format", c.Format).
		Int("units", len(c.Units())).
		Str("text", c.FullText()).
		Msg("Dry run: post not sent")
	return pub, nil
}

// Sent returns what has been "posted" so far
func (d *DryRunPublisher) Sent() []quality.Candidate {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]quality.Candidate, len(d.published))
	copy(out, d.published)
	return out
}

// WebhookPublisher forwards approved content to an HTTP endpoint that does
// the actual posting and answers with the post id.
type WebhookPublisher struct {
	client   *http.Client
	endpoint string
}

// NewWebhookPublisher creates a publisher posting to endpoint
func NewWebhookPublisher(client *http.Client, endpoint string) *WebhookPublisher {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookPublisher{client: client, endpoint: endpoint}
}

// Publish implements Publisher
func (w *WebhookPublisher) Publish(ctx context.Context, c quality.Candidate) (Published, error) {
	body, err := json.Marshal(struct {
		Topic  string   `json:"topic"`
		Format string   `json:"format"`
		Parts  []string `json:"parts"`
	}{c.Topic, c.Format, c.Units()})
	if err != nil {
		return Published{}, fmt.Errorf("encode post: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return Published{}, fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return Published{}, fmt.Errorf("publish request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return Published{}, fmt.Errorf("publisher returned %d", resp.StatusCode)
	}

	var pub Published
	if err := json.NewDecoder(resp.Body).Decode(&pub); err != nil {
		return Published{}, fmt.Errorf("decode publish response: %w", err)
	}
	if pub.PostID == "" {
		return Published{}, fmt.Errorf("publisher returned no post id")
	}
	return pub, nil
}

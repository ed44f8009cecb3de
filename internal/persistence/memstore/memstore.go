// Package memstore keeps every repository in process memory. It backs the
// CLI when no database is configured and is shared by tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sawpanic/postrun/internal/persistence"
)

// Store implements every persistence repository in memory
type Store struct {
	mu           sync.RWMutex
	posteriors   map[string]persistence.ArmPosterior
	attributions map[string]persistence.Attribution
	spend        []persistence.SpendEntry
	now          func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		posteriors:   make(map[string]persistence.ArmPosterior),
		attributions: make(map[string]persistence.Attribution),
		now:          time.Now,
	}
}

// Repository exposes the store through the aggregate repository type
func (s *Store) Repository() *persistence.Repository {
	return &persistence.Repository{
		Posteriors:   posteriors{s},
		Attributions: attributions{s},
		Spend:        spend{s},
		Schema:       schema{},
	}
}

type posteriors struct{ s *Store }

func (p posteriors) Get(_ context.Context, key string) (*persistence.ArmPosterior, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	post, ok := p.s.posteriors[key]
	if !ok {
		return nil, nil
	}
	return &post, nil
}

func (p posteriors) GetMany(_ context.Context, keys []string) (map[string]persistence.ArmPosterior, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	out := make(map[string]persistence.ArmPosterior, len(keys))
	for _, k := range keys {
		if post, ok := p.s.posteriors[k]; ok {
			out[k] = post
		}
	}
	return out, nil
}

func (p posteriors) Increment(_ context.Context, key string, success bool, priorAlpha, priorBeta float64) (persistence.ArmPosterior, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	post, ok := p.s.posteriors[key]
	if !ok {
		post = persistence.ArmPosterior{ArmKey: key, Alpha: priorAlpha, Beta: priorBeta}
	}
	if success {
		post.Alpha++
	} else {
		post.Beta++
	}
	post.UpdatedAt = p.s.now()
	p.s.posteriors[key] = post
	return post, nil
}

func (p posteriors) All(_ context.Context) ([]persistence.ArmPosterior, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	out := make([]persistence.ArmPosterior, 0, len(p.s.posteriors))
	for _, post := range p.s.posteriors {
		out = append(out, post)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArmKey < out[j].ArmKey })
	return out, nil
}

type attributions struct{ s *Store }

func (a attributions) RecordPublished(_ context.Context, attr persistence.Attribution) error {
	if attr.PostID == "" {
		return fmt.Errorf("attribution requires a post id")
	}
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if _, exists := a.s.attributions[attr.PostID]; !exists {
		a.s.attributions[attr.PostID] = attr
	}
	return nil
}

func (a attributions) Get(_ context.Context, postID string) (*persistence.Attribution, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	attr, ok := a.s.attributions[postID]
	if !ok {
		return nil, fmt.Errorf("attribution %s: %w", postID, persistence.ErrNotFound)
	}
	return &attr, nil
}

func (a attributions) RecordOutcome(_ context.Context, u persistence.OutcomeUpdate) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	attr, ok := a.s.attributions[u.PostID]
	if !ok {
		return fmt.Errorf("attribution %s: %w", u.PostID, persistence.ErrNotFound)
	}
	impressions, engagements, followers := u.Impressions, u.Engagements, u.FollowersGained
	rate, success, measured := u.EngagementRate, u.Success, u.MeasuredAt
	attr.Impressions = &impressions
	attr.Engagements = &engagements
	attr.FollowersGained = &followers
	attr.EngagementRate = &rate
	attr.Success = &success
	attr.MeasuredAt = &measured
	a.s.attributions[u.PostID] = attr
	return nil
}

func (a attributions) ListMeasuredSince(_ context.Context, since time.Time) ([]persistence.Attribution, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	var out []persistence.Attribution
	for _, attr := range a.s.attributions {
		if attr.Measured() && !attr.PostedAt.Before(since) {
			out = append(out, attr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PostedAt.After(out[j].PostedAt) })
	return out, nil
}

func (a attributions) LastPostedAt(_ context.Context) (time.Time, bool, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	var last time.Time
	found := false
	for _, attr := range a.s.attributions {
		if !found || attr.PostedAt.After(last) {
			last = attr.PostedAt
			found = true
		}
	}
	return last, found, nil
}

func (a attributions) Count(_ context.Context) (int64, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	return int64(len(a.s.attributions)), nil
}

func (a attributions) Stats(_ context.Context, since time.Time) (persistence.AttributionStats, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	var st persistence.AttributionStats
	var eng, imp, fol float64
	for _, attr := range a.s.attributions {
		if !attr.PostedAt.After(since) {
			continue
		}
		st.TotalPosts++
		if attr.EngagementRate != nil {
			eng += *attr.EngagementRate
		}
		if attr.Impressions != nil {
			imp += float64(*attr.Impressions)
		}
		if attr.FollowersGained != nil {
			fol += float64(*attr.FollowersGained)
		}
		if st.MostRecentPost == nil || attr.PostedAt.After(*st.MostRecentPost) {
			t := attr.PostedAt
			st.MostRecentPost = &t
		}
	}
	if st.TotalPosts > 0 {
		n := float64(st.TotalPosts)
		st.AvgEngagement, st.AvgImpressions, st.AvgFollowers = eng/n, imp/n, fol/n
	}
	return st, nil
}

type spend struct{ s *Store }

func (sp spend) Record(_ context.Context, e persistence.SpendEntry) error {
	if e.CostUSD < 0 {
		return fmt.Errorf("negative spend %.4f", e.CostUSD)
	}
	sp.s.mu.Lock()
	defer sp.s.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = sp.s.now()
	}
	e.ID = int64(len(sp.s.spend) + 1)
	sp.s.spend = append(sp.s.spend, e)
	return nil
}

func (sp spend) UsedSince(_ context.Context, since time.Time) (float64, error) {
	sp.s.mu.RLock()
	defer sp.s.mu.RUnlock()
	var used float64
	for _, e := range sp.s.spend {
		if !e.CreatedAt.Before(since) {
			used += e.CostUSD
		}
	}
	return used, nil
}

// schema reports the attribution columns the in-memory store always carries
type schema struct{}

func (schema) Columns(_ context.Context, table string) ([]persistence.ColumnInfo, error) {
	if table != persistence.AttributionTable {
		return nil, nil
	}
	cols := make([]persistence.ColumnInfo, 0, len(persistence.EssentialAttributionColumns))
	for _, name := range persistence.EssentialAttributionColumns {
		cols = append(cols, persistence.ColumnInfo{Name: name, DataType: "memory", Nullable: "YES"})
	}
	return cols, nil
}

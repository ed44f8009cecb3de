package opportunity

import (
	"fmt"
	"time"
)

// Window is a half-open hour range [Start, End)
type Window struct {
	Name  string `yaml:"name" json:"name"`
	Start int    `yaml:"start" json:"start"`
	End   int    `yaml:"end" json:"end"`
}

// Contains reports whether hour is inside the window
func (w Window) Contains(hour int) bool {
	return hour >= w.Start && hour < w.End
}

// Weights combine the four signals into the overall score
type Weights struct {
	PredictedQ float64 `yaml:"predicted_q"`
	Momentum   float64 `yaml:"momentum"`
	Freshness  float64 `yaml:"freshness"`
	TimeBonus  float64 `yaml:"time_bonus"`
}

// Config for the evaluator
type Config struct {
	Weights             Weights        `yaml:"weights"`
	PostThreshold       int            `yaml:"post_threshold"`
	OptimalWindows      []Window       `yaml:"optimal_windows"`
	DaytimeBand         Window         `yaml:"daytime_band"`
	FreshnessPerHour    float64        `yaml:"freshness_per_hour"`
	FreshnessGraceHours float64        `yaml:"freshness_grace_hours"`
	Epsilon             float64        `yaml:"epsilon"`
	MaxCandidates       int            `yaml:"max_candidates"`
	Location            *time.Location `yaml:"-"`
}

// DefaultConfig returns the standard weights and posting windows
func DefaultConfig() Config {
	return Config{
		Weights:       Weights{PredictedQ: 40, Momentum: 0.3, Freshness: 0.2, TimeBonus: 0.1},
		PostThreshold: 60,
		OptimalWindows: []Window{
			{Name: "morning", Start: 7, End: 9},
			{Name: "lunch", Start: 12, End: 13},
			{Name: "evening", Start: 17, End: 19},
			{Name: "night", Start: 20, End: 22},
		},
		DaytimeBand:         Window{Name: "daytime", Start: 9, End: 21},
		FreshnessPerHour:    25,
		FreshnessGraceHours: 1,
		Epsilon:             0.2,
		MaxCandidates:       50,
		Location:            time.UTC,
	}
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// Validate checks ranges
func (c Config) Validate() error {
	if c.Epsilon < 0 || c.Epsilon > 1 {
		return fmt.Errorf("epsilon must be within [0,1], got %.2f", c.Epsilon)
	}
	if c.MaxCandidates < 1 {
		return fmt.Errorf("max_candidates must be positive, got %d", c.MaxCandidates)
	}
	if len(c.OptimalWindows) == 0 {
		return fmt.Errorf("at least one optimal window is required")
	}
	for _, w := range append([]Window{c.DaytimeBand}, c.OptimalWindows...) {
		if w.Start < 0 || w.End > 24 || w.Start >= w.End {
			return fmt.Errorf("window %q [%d,%d) is invalid", w.Name, w.Start, w.End)
		}
	}
	if c.FreshnessPerHour <= 0 {
		return fmt.Errorf("freshness_per_hour must be positive")
	}
	return nil
}

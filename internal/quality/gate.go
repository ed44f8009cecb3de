// Package quality scores generated content on four independent axes and
// rejects candidates that fall below the configured bar.
package quality

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postrun/internal/metrics"
)

// ErrNoPassingCandidate is returned by SelectBest when every candidate was rejected
var ErrNoPassingCandidate = errors.New("no candidate passed the quality gate")

// Axis names one scoring dimension
type Axis string

const (
	AxisHook      Axis = "hook"
	AxisClarity   Axis = "clarity"
	AxisNovelty   Axis = "novelty"
	AxisStructure Axis = "structure"
)

// Axes lists every axis in reporting order
var Axes = []Axis{AxisHook, AxisClarity, AxisNovelty, AxisStructure}

// Candidate is one generated post or thread
type Candidate struct {
	Parts  []string `json:"parts,omitempty"`
	Text   string   `json:"text,omitempty"`
	Format string   `json:"format"` // single or thread
	Topic  string   `json:"topic"`
}

// Units returns the candidate's units: Parts when set, otherwise Text split on
// blank lines for threads or kept whole for single posts.
func (c Candidate) Units() []string {
	var raw []string
	switch {
	case len(c.Parts) > 0:
		raw = c.Parts
	case c.Format == "thread":
		raw = strings.Split(c.Text, "\n\n")
	default:
		raw = []string{c.Text}
	}

	out := make([]string, 0, len(raw))
	for _, u := range raw {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// FullText joins every unit
func (c Candidate) FullText() string {
	return strings.Join(c.Units(), "\n\n")
}

// ContentScores is the gate's verdict on one candidate
type ContentScores struct {
	Hook      float64  `json:"hook"`
	Clarity   float64  `json:"clarity"`
	Novelty   float64  `json:"novelty"`
	Structure float64  `json:"structure"`
	Overall   float64  `json:"overall"`
	Passed    bool     `json:"passed"`
	Reasons   []string `json:"reasons,omitempty"`
}

// Axis returns the score for one axis
func (s ContentScores) Axis(a Axis) float64 {
	switch a {
	case AxisHook:
		return s.Hook
	case AxisClarity:
		return s.Clarity
	case AxisNovelty:
		return s.Novelty
	case AxisStructure:
		return s.Structure
	}
	return 0
}

func (s *ContentScores) set(a Axis, v float64) {
	switch a {
	case AxisHook:
		s.Hook = v
	case AxisClarity:
		s.Clarity = v
	case AxisNovelty:
		s.Novelty = v
	case AxisStructure:
		s.Structure = v
	}
}

// Config holds weights and thresholds
type Config struct {
	Weights        map[Axis]float64 `yaml:"weights"`
	PassThreshold  float64          `yaml:"pass_threshold"`
	AxisMinimums   map[Axis]float64 `yaml:"axis_minimums"`
	Jargon         []string         `yaml:"jargon"`
	MinThreadUnits int              `yaml:"min_thread_units"`
	MaxThreadUnits int              `yaml:"max_thread_units"`
}

// DefaultConfig returns the standard weighting and thresholds
func DefaultConfig() Config {
	return Config{
		Weights: map[Axis]float64{
			AxisHook:      0.30,
			AxisClarity:   0.25,
			AxisNovelty:   0.25,
			AxisStructure: 0.20,
		},
		PassThreshold: 0.60,
		AxisMinimums: map[Axis]float64{
			AxisHook:      0.35,
			AxisClarity:   0.35,
			AxisNovelty:   0.25,
			AxisStructure: 0.30,
		},
		Jargon: []string{
			"circadian", "cortisol", "adenosine", "melatonin", "glycemic", "insulin",
			"mitochondria", "dopamine", "hrv", "vo2", "autophagy", "ketosis",
		},
		MinThreadUnits: 3,
		MaxThreadUnits: 5,
	}
}

// Validate ensures overall stays a convex combination of the axes
func (c Config) Validate() error {
	var sum float64
	for _, a := range Axes {
		w, ok := c.Weights[a]
		if !ok {
			return fmt.Errorf("quality weight for %s is missing", a)
		}
		if w < 0 {
			return fmt.Errorf("quality weight for %s is negative", a)
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("quality weights must sum to 1, got %.4f", sum)
	}
	if c.PassThreshold < 0 || c.PassThreshold > 1 {
		return fmt.Errorf("quality pass_threshold must be within [0,1], got %.2f", c.PassThreshold)
	}
	for a, v := range c.AxisMinimums {
		if v < 0 || v > 1 {
			return fmt.Errorf("quality minimum for %s must be within [0,1], got %.2f", a, v)
		}
	}
	if c.MinThreadUnits < 2 || c.MaxThreadUnits < c.MinThreadUnits {
		return fmt.Errorf("quality thread band [%d,%d] is invalid", c.MinThreadUnits, c.MaxThreadUnits)
	}
	return nil
}

// Gate scores candidates. It never lowers its bar to force a pass.
type Gate struct {
	cfg     Config
	scorers map[Axis]AxisScorer
	metrics *metrics.Registry
}

// Option configures a Gate
type Option func(*Gate)

// WithScorer replaces the scorer for the scorer's axis
func WithScorer(s AxisScorer) Option {
	return func(g *Gate) { g.scorers[s.Axis()] = s }
}

// WithMetrics records axis scores and rejections
func WithMetrics(m *metrics.Registry) Option {
	return func(g *Gate) { g.metrics = m }
}

// NewGate builds a gate with the heuristic scorers
func NewGate(cfg Config, opts ...Option) *Gate {
	g := &Gate{
		cfg: cfg,
		scorers: map[Axis]AxisScorer{
			AxisHook:      HookScorer{},
			AxisClarity:   ClarityScorer{Jargon: cfg.Jargon},
			AxisNovelty:   NoveltyScorer{},
			AxisStructure: StructureScorer{MinThreadUnits: cfg.MinThreadUnits, MaxThreadUnits: cfg.MaxThreadUnits},
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Score computes every axis, the weighted overall, and the verdict
func (g *Gate) Score(c Candidate) ContentScores {
	var s ContentScores
	for _, a := range Axes {
		s.set(a, clamp01(g.scorers[a].Score(c)))
	}
	for _, a := range Axes {
		s.Overall += s.Axis(a) * g.cfg.Weights[a]
	}

	var failing []string
	if s.Overall < g.cfg.PassThreshold {
		s.Reasons = append(s.Reasons, fmt.Sprintf("overall %.2f below pass threshold %.2f", s.Overall, g.cfg.PassThreshold))
		failing = append(failing, "overall")
	}
	for _, a := range Axes {
		floor := g.cfg.AxisMinimums[a]
		if v := s.Axis(a); v < floor {
			s.Reasons = append(s.Reasons, fmt.Sprintf("%s %.2f below minimum %.2f", a, v, floor))
			failing = append(failing, string(a))
		}
	}
	s.Passed = len(s.Reasons) == 0

	axisScores := make(map[string]float64, len(Axes))
	for _, a := range Axes {
		axisScores[string(a)] = s.Axis(a)
	}
	g.metrics.RecordQuality(axisScores, failing)

	if !s.Passed {
		log.Info().
			Str("topic", c.Topic).
			Float64("overall", s.Overall).
			Strs("reasons", s.Reasons).
			Msg("Candidate rejected by quality gate")
	}
	return s
}

// ScoredCandidate pairs a candidate with its verdict
type ScoredCandidate struct {
	Candidate Candidate     `json:"candidate"`
	Scores    ContentScores `json:"scores"`
}

// ScoreAll scores each candidate in order
func (g *Gate) ScoreAll(cands []Candidate) []ScoredCandidate {
	out := make([]ScoredCandidate, len(cands))
	for i, c := range cands {
		out[i] = ScoredCandidate{Candidate: c, Scores: g.Score(c)}
	}
	return out
}

// SelectBest returns the passing candidate with the highest overall score.
// Ties keep the earliest candidate.
func SelectBest(scored []ScoredCandidate) (ScoredCandidate, error) {
	passing := make([]ScoredCandidate, 0, len(scored))
	for _, sc := range scored {
		if sc.Scores.Passed {
			passing = append(passing, sc)
		}
	}
	if len(passing) == 0 {
		return ScoredCandidate{}, ErrNoPassingCandidate
	}
	sort.SliceStable(passing, func(i, j int) bool {
		return passing[i].Scores.Overall > passing[j].Scores.Overall
	})
	return passing[0], nil
}

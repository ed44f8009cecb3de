package quality

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// AxisScorer scores one axis of a candidate in [0,1]. Implementations must be
// deterministic: the same candidate always gets the same score.
type AxisScorer interface {
	Axis() Axis
	Score(c Candidate) float64
}

func markers(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

var (
	curiosityMarkers   = markers("but", "however", "turns out", "yet", "here's the thing", "the catch")
	contrarianMarkers  = markers("myth", "conventional wisdom", "most people think", "everyone says", "overrated", "wrong")
	conclusionMarkers  = markers("therefore", "because", "in conclusion", "which is why", "so that's why", "thus")
	surpriseMarkers    = markers("surprising", "surprisingly", "counterintuitive", "actually", "turns out", "myth", "contrary", "instead", "most people think")
	evidenceMarkers    = markers("study", "studies", "research", "researchers", "data", "trial", "meta-analysis", "experiment")
	mechanismMarkers   = markers("because", "triggers", "pathway", "mechanism", "which means", "causes", "leads to", "signals")
	transitionMarkers  = markers("first", "next", "then", "but", "so", "here's", "finally", "also", "now", "why", "that's")
	ctaMarkers         = markers("follow", "bookmark", "reply", "save", "share", "repost", "retweet", "comment")
	actionableMarkers  = markers("try", "start", "tonight", "today", "this week", "set", "swap", "do", "stop", "add")
	connectorMarkers   = markers("and", "but", "which", "that", "while", "although", "whereas")
	digitPattern       = regexp.MustCompile(`\d`)
	statisticPattern   = regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s?(?:%|percent\b|x\b|times\b)|\b\d+ (?:of|in|out of) \d+`)
	sentenceTerminator = regexp.MustCompile(`[.!?]+(?:\s|$)`)
)

var threadIndicators = []string{"🧵", "thread", "1/", "(1/", "a thread"}

// sentences splits a unit on terminal punctuation, dropping empties
func sentences(unit string) []string {
	parts := sentenceTerminator.Split(unit, -1)
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

func charLen(s string) int {
	return utf8.RuneCountInString(s)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// HookScorer evaluates only the first unit
type HookScorer struct{}

func (HookScorer) Axis() Axis { return AxisHook }

func (HookScorer) Score(c Candidate) float64 {
	units := c.Units()
	if len(units) == 0 {
		return 0
	}
	first := units[0]
	n := charLen(first)

	var score float64
	switch {
	case n >= 100 && n <= 240:
		score += 0.30
	case n >= 50 && n <= 280:
		score += 0.15
	}
	if curiosityMarkers.MatchString(first) {
		score += 0.20
	}
	if contrarianMarkers.MatchString(first) {
		score += 0.20
	}
	if !conclusionMarkers.MatchString(first) {
		score += 0.15
	}
	if digitPattern.MatchString(first) {
		score += 0.15
	}

	// out-of-range openers are capped regardless of markers
	switch {
	case n > 280:
		score = math.Min(score, 0.1)
	case n < 50:
		score = math.Min(score, 0.2)
	}
	return clamp01(score)
}

// ClarityScorer penalises dense or jargon-heavy writing
type ClarityScorer struct {
	Jargon []string
}

func (ClarityScorer) Axis() Axis { return AxisClarity }

func (s ClarityScorer) Score(c Candidate) float64 {
	units := c.Units()
	if len(units) == 0 {
		return 0
	}

	var density, words, sentenceCount float64
	for _, u := range units {
		sents := sentences(u)
		density += float64(len(sents)) +
			0.5*float64(len(connectorMarkers.FindAllStringIndex(u, -1))) +
			0.5*float64(strings.Count(u, ",")+strings.Count(u, ";"))
		words += float64(len(strings.Fields(u)))
		sentenceCount += float64(len(sents))
	}
	density /= float64(len(units))

	score := 0.5
	switch {
	case density <= 2:
		score += 0.2
	case density <= 3:
		score += 0.1
	case density > 4:
		score -= 0.2
	}

	if sentenceCount > 0 {
		avgWords := words / sentenceCount
		switch {
		case avgWords <= 12:
			score += 0.2
		case avgWords <= 20:
			score += 0.1
		case avgWords > 28:
			score -= 0.2
		}
	}

	score -= math.Min(0.3, 0.1*float64(s.unexplainedJargon(units)))

	if len(units) == 1 {
		score += 0.1
	} else {
		linked := 0
		for _, u := range units[1:] {
			if transitionMarkers.MatchString(u) {
				linked++
			}
		}
		if float64(linked) >= float64(len(units)-1)/2 {
			score += 0.1
		}
	}
	return clamp01(score)
}

// unexplainedJargon counts jargon terms in units without a colon or parenthetical
func (s ClarityScorer) unexplainedJargon(units []string) int {
	count := 0
	for _, u := range units {
		if strings.Contains(u, ":") || strings.Contains(u, "(") {
			continue
		}
		lower := strings.ToLower(u)
		for _, term := range s.Jargon {
			if strings.Contains(lower, strings.ToLower(term)) {
				count++
			}
		}
	}
	return count
}

// NoveltyScorer rewards surprise, evidence, statistics, and mechanism
type NoveltyScorer struct{}

func (NoveltyScorer) Axis() Axis { return AxisNovelty }

func (NoveltyScorer) Score(c Candidate) float64 {
	text := c.FullText()
	score := 0.1
	if surpriseMarkers.MatchString(text) {
		score += 0.25
	}
	if evidenceMarkers.MatchString(text) {
		score += 0.25
	}
	if statisticPattern.MatchString(text) {
		score += 0.20
	}
	if mechanismMarkers.MatchString(text) {
		score += 0.20
	}
	return clamp01(score)
}

// StructureScorer checks the shape of threads and single posts
type StructureScorer struct {
	MinThreadUnits int
	MaxThreadUnits int
}

func (StructureScorer) Axis() Axis { return AxisStructure }

func (s StructureScorer) Score(c Candidate) float64 {
	units := c.Units()
	switch {
	case len(units) == 0:
		return 0
	case len(units) == 1:
		return s.single(units[0])
	default:
		return s.thread(units)
	}
}

func (s StructureScorer) thread(units []string) float64 {
	n := len(units)
	var score float64
	switch {
	case n >= s.MinThreadUnits && n <= s.MaxThreadUnits:
		score += 0.30
	case n >= s.MinThreadUnits-1 && n <= s.MaxThreadUnits+2:
		score += 0.10
	}

	first := strings.ToLower(units[0])
	for _, ind := range threadIndicators {
		if strings.Contains(first, ind) {
			score += 0.20
			break
		}
	}

	for _, u := range units[1 : n-1] {
		if evidenceMarkers.MatchString(u) {
			score += 0.25
			break
		}
	}

	last := units[n-1]
	hasCTA := ctaMarkers.MatchString(last)
	switch {
	case hasCTA && actionableMarkers.MatchString(last):
		score += 0.25
	case hasCTA:
		score += 0.10
	}
	return clamp01(score)
}

func (s StructureScorer) single(unit string) float64 {
	n := charLen(unit)
	var score float64
	switch {
	case n >= 100 && n <= 280:
		score += 0.40
	case n >= 50 && n < 100:
		score += 0.20
	}
	if curiosityMarkers.MatchString(unit) || contrarianMarkers.MatchString(unit) || digitPattern.MatchString(unit) {
		score += 0.30
	}
	if evidenceMarkers.MatchString(unit) {
		score += 0.30
	}
	return clamp01(score)
}

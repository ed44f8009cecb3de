package arms

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// ErrNoArms is returned when the configured enumerations produce an empty arm space.
var ErrNoArms = errors.New("arm space is empty")

// HookType is the opening pattern of a post
type HookType string

const (
	HookStat      HookType = "stat"
	HookMythBust  HookType = "myth_bust"
	HookChecklist HookType = "checklist"
	HookHowTo     HookType = "how_to"
	HookStory     HookType = "story"
)

// CTAType is the call-to-action closing a post
type CTAType string

const (
	CTAFollow   CTAType = "follow"
	CTABookmark CTAType = "bookmark"
	CTAReply    CTAType = "reply"
)

// TimeBucket is the coarse time-of-day slot a post is scheduled into
type TimeBucket string

const (
	BucketMorning   TimeBucket = "morning"
	BucketAfternoon TimeBucket = "afternoon"
	BucketEvening   TimeBucket = "evening"
	BucketNight     TimeBucket = "night"
)

// BucketForHour maps a local hour (0-23) to its time bucket.
func BucketForHour(hour int) TimeBucket {
	switch {
	case hour >= 5 && hour < 12:
		return BucketMorning
	case hour >= 12 && hour < 17:
		return BucketAfternoon
	case hour >= 17 && hour < 22:
		return BucketEvening
	default:
		return BucketNight
	}
}

// Arm is one combination of content-strategy attributes competing for selection.
// Arms are values; identity is the tuple itself, serialized by Key.
type Arm struct {
	HookType     HookType   `json:"hook_type" yaml:"hook_type"`
	CTAType      CTAType    `json:"cta_type" yaml:"cta_type"`
	ThreadLen    int        `json:"thread_len" yaml:"thread_len"`
	TimeBucket   TimeBucket `json:"post_time_bucket" yaml:"post_time_bucket"`
	TopicCluster string     `json:"topic_cluster" yaml:"topic_cluster"`
}

const keySep = "|"

// Key returns the stable lookup key used for posterior rows
func (a Arm) Key() string {
	return strings.Join([]string{
		string(a.HookType),
		string(a.CTAType),
		strconv.Itoa(a.ThreadLen),
		string(a.TimeBucket),
		a.TopicCluster,
	}, keySep)
}

func (a Arm) String() string {
	return a.Key()
}

// Format reports whether the arm produces a thread or a single post
func (a Arm) Format() string {
	if a.ThreadLen > 1 {
		return "thread"
	}
	return "single"
}

// ParseKey is the inverse of Key.
func ParseKey(key string) (Arm, error) {
	parts := strings.SplitN(key, keySep, 5)
	if len(parts) != 5 {
		return Arm{}, fmt.Errorf("malformed arm key %q: want 5 fields, got %d", key, len(parts))
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil || n < 1 {
		return Arm{}, fmt.Errorf("malformed arm key %q: invalid thread length %q", key, parts[2])
	}
	return Arm{
		HookType:     HookType(parts[0]),
		CTAType:      CTAType(parts[1]),
		ThreadLen:    n,
		TimeBucket:   TimeBucket(parts[3]),
		TopicCluster: parts[4],
	}, nil
}

// Sample returns at most n arms drawn without replacement. The input slice is
// not modified. When len(arms) <= n a copy of the input is returned.
func Sample(arms []Arm, n int, rng *rand.Rand) []Arm {
	out := make([]Arm, len(arms))
	copy(out, arms)
	if n <= 0 || len(out) <= n {
		return out
	}

	// partial Fisher-Yates: only the first n slots are shuffled
	for i := 0; i < n; i++ {
		j := i + rng.IntN(len(out)-i)
		out[i], out[j] = out[j], out[i]
	}
	return out[:n]
}

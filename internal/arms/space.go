package arms

import (
	"fmt"
)

// Dimensions holds the enumerated attribute values the arm space is built from
type Dimensions struct {
	HookTypes     []HookType   `yaml:"hook_types"`
	CTATypes      []CTAType    `yaml:"cta_types"`
	ThreadLens    []int        `yaml:"thread_lens"`
	TimeBuckets   []TimeBucket `yaml:"time_buckets"`
	TopicClusters []string     `yaml:"topic_clusters"`
}

// DefaultDimensions returns the built-in attribute enumerations
func DefaultDimensions() Dimensions {
	return Dimensions{
		HookTypes:     []HookType{HookStat, HookMythBust, HookChecklist, HookHowTo, HookStory},
		CTATypes:      []CTAType{CTAFollow, CTABookmark, CTAReply},
		ThreadLens:    []int{1, 3, 5},
		TimeBuckets:   []TimeBucket{BucketMorning, BucketAfternoon, BucketEvening, BucketNight},
		TopicClusters: []string{"sleep", "nutrition", "training", "focus", "stress"},
	}
}

// Space is the deterministic cross-product of the configured dimensions.
type Space struct {
	dims Dimensions
	all  []Arm
}

// NewSpace validates the dimensions and generates every arm.
// An empty enumeration is a deployment mistake and returns ErrNoArms.
func NewSpace(dims Dimensions) (*Space, error) {
	switch {
	case len(dims.HookTypes) == 0:
		return nil, fmt.Errorf("%w: no hook types configured", ErrNoArms)
	case len(dims.CTATypes) == 0:
		return nil, fmt.Errorf("%w: no cta types configured", ErrNoArms)
	case len(dims.ThreadLens) == 0:
		return nil, fmt.Errorf("%w: no thread lengths configured", ErrNoArms)
	case len(dims.TimeBuckets) == 0:
		return nil, fmt.Errorf("%w: no time buckets configured", ErrNoArms)
	case len(dims.TopicClusters) == 0:
		return nil, fmt.Errorf("%w: no topic clusters configured", ErrNoArms)
	}

	for _, n := range dims.ThreadLens {
		if n < 1 {
			return nil, fmt.Errorf("invalid thread length %d: must be positive", n)
		}
	}
	for _, topic := range dims.TopicClusters {
		if topic == "" {
			return nil, fmt.Errorf("empty topic cluster in arm dimensions")
		}
	}

	all := make([]Arm, 0,
		len(dims.HookTypes)*len(dims.CTATypes)*len(dims.ThreadLens)*len(dims.TimeBuckets)*len(dims.TopicClusters))
	seen := make(map[string]struct{})
	for _, bucket := range dims.TimeBuckets {
		for _, topic := range dims.TopicClusters {
			for _, hook := range dims.HookTypes {
				for _, cta := range dims.CTATypes {
					for _, n := range dims.ThreadLens {
						arm := Arm{HookType: hook, CTAType: cta, ThreadLen: n, TimeBucket: bucket, TopicCluster: topic}
						if _, dup := seen[arm.Key()]; dup {
							continue
						}
						seen[arm.Key()] = struct{}{}
						all = append(all, arm)
					}
				}
			}
		}
	}

	return &Space{dims: dims, all: all}, nil
}

// Size returns the number of distinct arms
func (s *Space) Size() int {
	return len(s.all)
}

// All returns a copy of every arm in generation order
func (s *Space) All() []Arm {
	out := make([]Arm, len(s.all))
	copy(out, s.all)
	return out
}

// ForBucket returns the arms scheduled into the given time bucket.
// If the bucket is not part of the configured dimensions the full space is returned.
func (s *Space) ForBucket(bucket TimeBucket) []Arm {
	var out []Arm
	for _, arm := range s.all {
		if arm.TimeBucket == bucket {
			out = append(out, arm)
		}
	}
	if len(out) == 0 {
		return s.All()
	}
	return out
}

// Topics returns the configured topic clusters
func (s *Space) Topics() []string {
	out := make([]string, len(s.dims.TopicClusters))
	copy(out, s.dims.TopicClusters)
	return out
}

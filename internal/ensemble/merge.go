package ensemble

import (
	"sort"
	"strings"
)

// PatternSourcePrefix marks candidates produced by hand-written pattern
// detectors. They outrank NER output when both claim the same start.
const PatternSourcePrefix = "pattern:"

type mergeConfig struct {
	priorities map[string]int
	fallback   func(source string) int
}

// MergeOption customizes Merge.
type MergeOption func(*mergeConfig)

// WithSourcePriority assigns explicit priorities to detector sources. Higher
// values win when candidates start at the same position. Sources not listed
// fall back to the default ranking.
func WithSourcePriority(priorities map[string]int) MergeOption {
	return func(cfg *mergeConfig) {
		for src, p := range priorities {
			cfg.priorities[src] = p
		}
	}
}

func defaultSourcePriority(source string) int {
	if strings.HasPrefix(source, PatternSourcePrefix) {
		return 1
	}
	return 0
}

func (cfg *mergeConfig) priority(source string) int {
	if p, ok := cfg.priorities[source]; ok {
		return p
	}
	return cfg.fallback(source)
}

// Merge resolves overlapping candidates into a start-ordered, non-overlapping
// sequence. Candidates are ordered by start, then source priority, length,
// score and entity type; a candidate is accepted only when it starts at or
// after the end of the previously accepted span. Index is assigned 0..n-1.
//
// Merge never fails: ambiguous overlaps always resolve the same way for the
// same input.
func Merge(candidates []Candidate, opts ...MergeOption) []Resolved {
	cfg := &mergeConfig{priorities: map[string]int{}, fallback: defaultSourcePriority}
	for _, opt := range opts {
		opt(cfg)
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if pa, pb := cfg.priority(a.Source), cfg.priority(b.Source); pa != pb {
			return pa > pb
		}
		if a.Len() != b.Len() {
			return a.Len() > b.Len()
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.EntityType != b.EntityType {
			return a.EntityType < b.EntityType
		}
		return a.Source < b.Source
	})

	resolved := make([]Resolved, 0, len(sorted))
	lastEnd := -1
	for _, c := range sorted {
		if c.End <= c.Start || c.Start < lastEnd {
			continue
		}
		resolved = append(resolved, Resolved{Candidate: c, Index: len(resolved)})
		lastEnd = c.End
	}
	return resolved
}

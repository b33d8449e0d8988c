package ui

import (
	"sort"
	"strings"
)

const (
	// DefaultMaxDistance is the largest edit distance FindSimilar accepts
	DefaultMaxDistance = 3
	// DefaultMaxSuggestions caps the number of names FindSimilar returns
	DefaultMaxSuggestions = 3
)

// FuzzyMatchOptions configures FindSimilar. Zero fields take the defaults.
type FuzzyMatchOptions struct {
	MaxDistance    int
	MaxSuggestions int
	CaseSensitive  bool
}

// FindSimilar returns the candidate names closest to a mistyped one, such as
// an entity name given to "persist mapping show". Closer names come first and
// names at the same distance keep their candidate order.
func FindSimilar(target string, candidates []string, opts *FuzzyMatchOptions) []string {
	var o FuzzyMatchOptions
	if opts != nil {
		o = *opts
	}
	if o.MaxDistance == 0 {
		o.MaxDistance = DefaultMaxDistance
	}
	if o.MaxSuggestions == 0 {
		o.MaxSuggestions = DefaultMaxSuggestions
	}

	fold := func(s string) string {
		if o.CaseSensitive {
			return s
		}
		return strings.ToLower(s)
	}

	type match struct {
		name     string
		distance int
	}
	var matches []match
	for _, c := range candidates {
		if d := LevenshteinDistance(fold(target), fold(c)); d <= o.MaxDistance {
			matches = append(matches, match{name: c, distance: d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].distance < matches[j].distance
	})

	names := make([]string, 0, o.MaxSuggestions)
	for _, m := range matches {
		if len(names) == o.MaxSuggestions {
			break
		}
		names = append(names, m.name)
	}
	return names
}

// LevenshteinDistance counts the single-rune edits that turn a into b
func LevenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

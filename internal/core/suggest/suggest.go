// Package suggest proposes close matches for misspelled identifiers.
// This is part of the Functional Core - all functions are pure with no I/O.
package suggest

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// maxDistance is the largest edit distance still offered as a suggestion.
const maxDistance = 3

// Closest returns the candidate nearest to name by edit distance, or ""
// when nothing is close enough to be a plausible typo.
func Closest(name string, candidates []string) string {
	best := ""
	bestDist := maxDistance + 1

	lower := strings.ToLower(name)
	for _, c := range candidates {
		dist := levenshtein.ComputeDistance(lower, strings.ToLower(c))
		if dist < bestDist {
			bestDist = dist
			best = c
		}
	}

	if bestDist > maxDistance {
		return ""
	}
	return best
}

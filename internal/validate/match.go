// Package validate implements the pure validation layer of the Vocarta
// order-capture engine: deterministic, threshold-based fuzzy string matching
// and item/modifier validation against catalog data.
//
// Every function in this package is pure — no I/O, no retained state, fully
// deterministic for given inputs — and therefore safe to call with unbounded
// concurrency. Catalog data is always received as parameters; this package
// never loads anything itself.
//
// Scoring uses Jaro-Winkler similarity (github.com/antzucaro/matchr) scaled
// to 0–100. A candidate is accepted only when its score reaches the caller's
// threshold; [DefaultThreshold] is the engine-wide default.
package validate

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultThreshold is the minimum similarity score (0–100) required to
// accept an approximate string match.
const DefaultThreshold = 85

// maxSuggestions caps how many ranked suggestions a rejection carries.
const maxSuggestions = 3

// Match is an accepted fuzzy match: the winning candidate in its original
// (canonical) form and its similarity score.
type Match struct {
	// Candidate is the matched candidate exactly as it was passed in.
	Candidate string

	// Score is the Jaro-Winkler similarity scaled to 0–100.
	Score float64
}

// FuzzyMatch scores query against every candidate and returns the highest
// scoring candidate when its score is at least threshold.
//
// Case and surrounding/internal whitespace are normalized before scoring.
// An empty candidates slice always yields no match. An empty or blank query
// is an input contract violation and yields no match rather than panicking.
func FuzzyMatch(query string, candidates []string, threshold float64) (Match, bool) {
	q := normalize(query)
	if q == "" || len(candidates) == 0 {
		return Match{}, false
	}

	best := Match{Score: -1}
	for _, cand := range candidates {
		c := normalize(cand)
		if c == "" {
			continue
		}
		score := similarity(q, c)
		if score > best.Score {
			best = Match{Candidate: cand, Score: score}
		}
	}

	if best.Score < threshold {
		return Match{}, false
	}
	return best, true
}

// rank scores query against every candidate and returns all candidates in
// descending score order, regardless of threshold. Used to produce the
// ranked suggestion lists carried by rejections.
func rank(query string, candidates []string) []Match {
	q := normalize(query)
	out := make([]Match, 0, len(candidates))
	for _, cand := range candidates {
		c := normalize(cand)
		if c == "" {
			continue
		}
		score := 0.0
		if q != "" {
			score = similarity(q, c)
		}
		out = append(out, Match{Candidate: cand, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// suggestions returns the top-ranked candidate names for query, capped at
// [maxSuggestions].
func suggestions(query string, candidates []string) []string {
	ranked := rank(query, candidates)
	if len(ranked) > maxSuggestions {
		ranked = ranked[:maxSuggestions]
	}
	out := make([]string, len(ranked))
	for i, m := range ranked {
		out[i] = m.Candidate
	}
	return out
}

// similarity computes the Jaro-Winkler score of two normalized strings,
// scaled to 0–100. Exact matches short-circuit to 100 so they can never be
// undercut by floating point rounding.
func similarity(a, b string) float64 {
	if a == b {
		return 100
	}
	return matchr.JaroWinkler(a, b, false) * 100
}

// normalize lowercases s and collapses all whitespace runs to single spaces.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

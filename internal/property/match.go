package property

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	// phoneticThreshold is the Jaro-Winkler score a phonetically matching
	// name needs.
	phoneticThreshold = 0.70

	// fuzzyThreshold is the score needed without a phonetic match.
	fuzzyThreshold = 0.85
)

// MatchPlace resolves a spoken place name against the known city and
// district names. An exact case-insensitive match wins; otherwise names
// sharing a Double Metaphone code with spoken are ranked by Jaro-Winkler
// similarity, and only if none qualifies does a stricter pure similarity
// pass run.
func MatchPlace(spoken string, known []string) (string, bool) {
	s := normalizePlace(spoken)
	if s == "" {
		return "", false
	}
	for _, k := range known {
		if normalizePlace(k) == s {
			return k, true
		}
	}

	codes := metaphones(s)
	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, k := range known {
		n := normalizePlace(k)
		if n == "" {
			continue
		}
		score := matchr.JaroWinkler(s, n, false)
		phonetic := overlaps(codes, metaphones(n))
		switch {
		case phonetic && score >= phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				best, bestScore, bestPhonetic = k, score, true
			}
		case !phonetic && !bestPhonetic && score >= fuzzyThreshold && score > bestScore:
			best, bestScore = k, score
		}
	}
	return best, best != ""
}

func normalizePlace(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// metaphones returns the Double Metaphone codes of the whole phrase with
// spaces removed. Empty codes are dropped.
func metaphones(s string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, alt := matchr.DoubleMetaphone(strings.ReplaceAll(s, " ", ""))
	for _, c := range []string{p, alt} {
		if c != "" {
			codes[c] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

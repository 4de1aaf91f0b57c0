// Package match canonicalizes free-form names and scores their similarity
// against known world-model records, so loosely worded narrator references
// resolve onto existing entities and events instead of spawning duplicates.
package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize canonicalizes a name for comparison: lowercase, diacritics
// stripped, runs of whitespace collapsed to single spaces, outer space
// trimmed. "  Élodie   Marchand " and "elodie marchand" normalize equal.
func Normalize(s string) string {
	folded := strings.ToLower(strings.TrimSpace(s))
	stripped, _, err := transform.String(stripMarks, folded)
	if err != nil {
		// Transform failure leaves the folded form; comparison still works,
		// just without diacritic insensitivity.
		stripped = folded
	}
	return strings.Join(strings.Fields(stripped), " ")
}

// Similarity scores two strings on [0,1]: 1 means the normalized forms are
// identical, 0 means nothing in common. The score is one minus the
// Levenshtein distance over the longer normalized length.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1
	}
	longest := len([]rune(na))
	if l := len([]rune(nb)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein(na, nb))/float64(longest)
}

// levenshtein computes the edit distance between two strings using the
// two-row dynamic programming formulation, operating on runes so accented
// and multibyte characters count as single edits.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

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
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

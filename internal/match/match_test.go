package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "Camille", "camille"},
		{"diacritics", "Élodie Marchand", "elodie marchand"},
		{"whitespace_collapse", "  Le   Vieux    Port ", "le vieux port"},
		{"mixed", "  CAFÉ  de la Gare\t", "cafe de la gare"},
		{"empty", "   ", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, Similarity("Élodie", "elodie"))
	assert.Equal(t, 0.0, Similarity("", "anything"))

	// One substitution over six runes.
	got := Similarity("marcus", "markus")
	assert.InDelta(t, 1.0-1.0/6.0, got, 1e-9)

	// Unrelated names score low.
	assert.Less(t, Similarity("sandwich", "library"), 0.5)
}

func TestLevenshtein(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"élan", "elan", 1},
		{"same", "same", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, levenshtein(tc.a, tc.b), "%q vs %q", tc.a, tc.b)
	}
}

func TestResolverExactShortCircuit(t *testing.T) {
	t.Parallel()

	r := NewResolver(0.7)
	records := []Record{
		{ID: "e1", Names: []string{"Camille Durand", "Cam"}},
		{ID: "e2", Names: []string{"Camille Durant"}},
	}

	// "camille durant" is exactly e2's name once normalized, even though it
	// is also extremely close to e1.
	m, ok := r.Resolve("Camille Durant", records)
	require.True(t, ok)
	assert.Equal(t, "e2", m.ID)
	assert.True(t, m.Exact)
	assert.Equal(t, 1.0, m.Score)
}

func TestResolverAliasMatch(t *testing.T) {
	t.Parallel()

	r := NewResolver(0.7)
	records := []Record{
		{ID: "bar", Names: []string{"Le Vieux Port", "le bar du port"}},
	}

	m, ok := r.Resolve("bar du port", records)
	require.True(t, ok)
	assert.Equal(t, "bar", m.ID)
}

func TestResolverBelowThreshold(t *testing.T) {
	t.Parallel()

	r := NewResolver(0.7)
	records := []Record{
		{ID: "e1", Names: []string{"Marina"}},
	}

	_, ok := r.Resolve("completely different", records)
	assert.False(t, ok)
}

func TestResolverTieBreakHighestScore(t *testing.T) {
	t.Parallel()

	r := NewResolver(0.5)
	records := []Record{
		{ID: "far", Names: []string{"marcel"}},
		{ID: "near", Names: []string{"marcus"}},
	}

	m, ok := r.Resolve("markus", records)
	require.True(t, ok)
	assert.Equal(t, "near", m.ID)
	assert.False(t, m.Exact)
}

func TestResolverEmptyQuery(t *testing.T) {
	t.Parallel()

	r := NewResolver(0)
	_, ok := r.Resolve("   ", []Record{{ID: "x", Names: []string{"x"}}})
	assert.False(t, ok)
	assert.Equal(t, DefaultThreshold, r.Threshold())
}

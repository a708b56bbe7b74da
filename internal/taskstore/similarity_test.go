package taskstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarityIdentity(t *testing.T) {
	for _, text := range []string{"", "a", "follow the company", "Visit linkedin.com/in/jane"} {
		assert.Equal(t, 1.0, Similarity(text, text), "identical strings must score 1.0: %q", text)
	}
}

func TestSimilaritySymmetry(t *testing.T) {
	pairs := [][2]string{
		{"follow company acme", "follow company apex"},
		{"like the post", "like this post"},
		{"", "connect"},
		{"短い", "短い文"},
	}
	for _, pair := range pairs {
		assert.Equal(t, Similarity(pair[0], pair[1]), Similarity(pair[1], pair[0]))
	}
}

func TestSimilarityBounds(t *testing.T) {
	pairs := [][2]string{
		{"abc", "xyz"},
		{"completely different text", "nothing alike here at all"},
		{"a", "aaaaaaaaaa"},
		{"", ""},
	}
	for _, pair := range pairs {
		score := Similarity(pair[0], pair[1])
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestSimilarityKnownDistances(t *testing.T) {
	// One substitution in a ten-rune string.
	assert.InDelta(t, 0.9, Similarity("abcdefghij", "abcdefghix"), 1e-9)
	// Fully disjoint strings of equal length.
	assert.InDelta(t, 0.0, Similarity("aaaa", "bbbb"), 1e-9)
	// Distance counts runes, not bytes.
	assert.InDelta(t, 0.5, Similarity("日本", "日中"), 1e-9)
}

func TestSimilarityEmptyStrings(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 0.0, Similarity("", "abcd"))
}

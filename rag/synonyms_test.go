package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandQueryAddsSynonyms(t *testing.T) {
	out := TurkishSynonyms.ExpandQuery("vpn sorunu")
	words := strings.Fields(out)

	assert.Contains(t, words, "vpn")
	assert.Contains(t, words, "sorunu")
	assert.Contains(t, words, "uzak")
	assert.Contains(t, words, "erisim")
	assert.Contains(t, words, "remote")
}

func TestExpandQuerySubstringKeyMatch(t *testing.T) {
	// "board" is a substring of both onboarding and offboarding keys.
	out := TurkishSynonyms.ExpandQuery("board")
	words := strings.Fields(out)

	assert.Contains(t, words, "onboarding")
	assert.Contains(t, words, "offboarding")
	assert.NotContains(t, words, "backup")
}

func TestExpandQueryDropsShortWords(t *testing.T) {
	out := TurkishSynonyms.ExpandQuery("a laptop b")
	words := strings.Fields(out)

	assert.NotContains(t, words, "a")
	assert.NotContains(t, words, "b")
	assert.Contains(t, words, "laptop")
	assert.Contains(t, words, "dizustu")
	assert.Contains(t, words, "notebook")
}

func TestExpandQueryDropsSingleMultibyteRunes(t *testing.T) {
	// "ç" is one character but two bytes; it must drop like any other
	// single-letter word.
	out := TurkishSynonyms.ExpandQuery("ç yazici")
	words := strings.Fields(out)

	assert.NotContains(t, words, "ç")
	assert.Contains(t, words, "yazici")

	assert.Equal(t, "", TurkishSynonyms.BuildTSQuery("ç ı ş"))
}

func TestExpandQueryDeduplicates(t *testing.T) {
	out := TurkishSynonyms.ExpandQuery("mail mail")
	words := strings.Fields(out)

	seen := map[string]int{}
	for _, w := range words {
		seen[w]++
	}
	for w, n := range seen {
		assert.Equal(t, 1, n, "word %q duplicated", w)
	}
}

func TestBuildTSQueryJoinsWithOr(t *testing.T) {
	q := TurkishSynonyms.BuildTSQuery("firewall")
	assert.Equal(t, "firewall | guvenlik | duvari", q)
}

func TestBuildTSQuerySanitizesPunctuation(t *testing.T) {
	q := TurkishSynonyms.BuildTSQuery("disk! (dolu)")
	parts := strings.Split(q, " | ")

	assert.Contains(t, parts, "disk")
	assert.Contains(t, parts, "dolu")
	for _, p := range parts {
		assert.NotContains(t, p, "!")
		assert.NotContains(t, p, "(")
	}
}

func TestBuildTSQueryEmptyWhenNothingSurvives(t *testing.T) {
	assert.Equal(t, "", TurkishSynonyms.BuildTSQuery("!? ."))
}

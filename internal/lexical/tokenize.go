// Package lexical holds the text primitives shared by ingestion, retrieval and
// the janitor: tokenization, phrase matching, BM25 ranking and term-frequency
// cosine similarity.
package lexical

import (
	"strings"
	"unicode"
)

// Tokenize lowercases text and splits it on anything that is not a letter or
// digit. Apostrophes split too, so "i'm" yields "i" and "m".
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ContainsPhrase reports whether the token sequence of phrase appears
// contiguously in tokens. Matching is on word boundaries, so "is" does not
// match "this".
func ContainsPhrase(tokens []string, phrase string) bool {
	p := Tokenize(phrase)
	if len(p) == 0 || len(p) > len(tokens) {
		return false
	}
	for i := 0; i+len(p) <= len(tokens); i++ {
		match := true
		for j := range p {
			if tokens[i+j] != p[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// CountPhrases returns how many of the given phrases occur in tokens.
// Each phrase is counted at most once.
func CountPhrases(tokens []string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if ContainsPhrase(tokens, p) {
			n++
		}
	}
	return n
}

// FirstPhrase returns the first phrase from phrases found in tokens.
func FirstPhrase(tokens []string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if ContainsPhrase(tokens, p) {
			return p, true
		}
	}
	return "", false
}

// stopwords are dropped from similarity and subject keys but never from
// keyword matching.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "of": true, "for": true,
	"and": true, "or": true, "in": true, "on": true, "at": true, "with": true,
	"it": true, "this": true, "that": true, "be": true, "as": true, "by": true,
}

// ContentTokens tokenizes text and removes stopwords.
func ContentTokens(text string) []string {
	all := Tokenize(text)
	out := all[:0]
	for _, t := range all {
		if !stopwords[t] {
			out = append(out, t)
		}
	}
	return out
}

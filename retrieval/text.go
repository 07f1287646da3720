package retrieval

import (
	"strings"
	"unicode"
)

// Stop words ignored when measuring lexical overlap
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "were": true, "to": true, "of": true, "and": true, "in": true,
	"that": true, "have": true, "has": true, "it": true, "for": true, "not": true,
	"on": true, "with": true, "as": true, "you": true, "do": true, "at": true,
	"this": true, "but": true, "by": true, "from": true, "or": true, "its": true,
}

// Interrogatives dropped from keyword variants
var questionWords = map[string]bool{
	"what": true, "which": true, "who": true, "whom": true, "whose": true,
	"when": true, "where": true, "why": true, "how": true, "does": true,
	"did": true, "can": true, "could": true, "would": true, "should": true,
	"tell": true, "me": true, "about": true, "explain": true, "describe": true,
}

// terms lowercases text, splits it on non-alphanumerics and returns the unique
// non-stop-word terms in first-seen order.
func terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// lexicalOverlap counts how many of queryTerms occur as substrings of text.
func lexicalOverlap(queryTerms []string, text string) int {
	lower := strings.ToLower(text)
	count := 0
	for _, term := range queryTerms {
		if strings.Contains(lower, term) {
			count++
		}
	}
	return count
}

// keywords returns the question's content terms without interrogatives.
func keywords(question string) []string {
	var out []string
	for _, t := range terms(question) {
		if !questionWords[t] {
			out = append(out, t)
		}
	}
	return out
}

// firstRunes returns at most n runes of s.
func firstRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

package tfidf

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// minTokenLen is the shortest token kept; anything with fewer runes is noise.
const minTokenLen = 4

// stopwords are dropped before scoring. Short function words are already
// removed by minTokenLen but stay listed so the set reads as a whole.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "was": true,
	"with": true, "this": true, "that": true, "have": true, "from": true,
	"they": true, "will": true, "would": true, "there": true, "their": true,
	"what": true, "about": true, "which": true, "when": true, "make": true,
	"like": true, "time": true, "just": true, "know": true, "take": true,
	"into": true, "your": true, "some": true, "could": true, "them": true,
	"than": true, "then": true, "only": true, "come": true, "over": true,
	"also": true, "been": true, "more": true, "very": true, "such": true,
	"these": true, "those": true, "where": true, "while": true, "small": true,
}

// IsStopword reports whether w is in the stopword set.
func IsStopword(w string) bool {
	return stopwords[w]
}

// Tokenize lowercases text, treats punctuation as whitespace and returns the
// tokens that survive the stopword, length and numeric filters.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if utf8.RuneCountInString(w) < minTokenLen {
			continue
		}
		if stopwords[w] || isNumeric(w) {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

func isNumeric(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

package match

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrEmptyCaption is returned by [Tokenize] when the caption contains no
// words. An empty caption never starts a matching round.
var ErrEmptyCaption = errors.New("match: caption contains no words")

// Tokenize splits caption on runs of whitespace and returns the words in
// reading order. No case folding or punctuation stripping is applied.
func Tokenize(caption string) ([]string, error) {
	words := strings.Fields(caption)
	if len(words) == 0 {
		return nil, ErrEmptyCaption
	}
	return words, nil
}

// SelectAnchor returns the index of the longest word in words, counted in
// characters. Among words of equal length the first one wins: long words are
// rare in a document, so they produce the fewest spurious substring hits.
//
// words must not be empty.
func SelectAnchor(words []string) int {
	best, bestLen := 0, -1
	for i, w := range words {
		if n := utf8.RuneCountInString(w); n > bestLen {
			best, bestLen = i, n
		}
	}
	return best
}

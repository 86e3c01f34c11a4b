// Package phonetic implements a tolerant [match.Containment] for captions
// produced by speech or OCR recognisers, which regularly misspell proper
// nouns ("Eldrinax" heard as "eldrinacks").
//
// A node contains a caption word when either:
//
//  1. the word is a case-insensitive substring of the node's text or label
//     (the exact test used by [match.Substring]), or
//  2. some whitespace-separated token of the text or label shares a Double
//     Metaphone code with the word and their Jaro-Winkler similarity reaches
//     the phonetic threshold (default 0.70), or
//  3. some token reaches the fuzzy threshold (default 0.85) on Jaro-Winkler
//     similarity alone.
//
// Stages 2 and 3 only apply to words of at least [minTolerantLen] characters;
// short words fall back to the exact test, since their phonetic codes collide
// with nearly everything.
package phonetic

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/captionseek/internal/match"
	"github.com/MrWong99/captionseek/pkg/layout"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	minTolerantLen = 4
)

// Option is a functional option for configuring a [Containment].
type Option func(*Containment)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matching token to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Containment) {
		c.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when the
// phonetic codes do not overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Containment) {
		c.fuzzyThreshold = threshold
	}
}

// Containment is a phonetic [match.Containment]. It is read-only after
// construction and safe for concurrent use.
type Containment struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Containment] configured with the supplied options.
func New(opts ...Option) *Containment {
	c := &Containment{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Contains implements [match.Containment].
func (c *Containment) Contains(node layout.Node, word string) bool {
	return c.ContainsText(node.Text(), word) || c.ContainsText(node.Label(), word)
}

// ContainsText reports whether text contains word under the rules described
// in the package documentation.
func (c *Containment) ContainsText(text, word string) bool {
	if match.ContainsFold(text, word) {
		return true
	}
	w := strings.ToLower(strings.TrimSpace(word))
	if utf8.RuneCountInString(w) < minTolerantLen || text == "" {
		return false
	}

	wp, ws := matchr.DoubleMetaphone(w)
	for tok := range strings.FieldsSeq(strings.ToLower(text)) {
		tok = strings.TrimFunc(tok, isPunct)
		if tok == "" {
			continue
		}
		score := matchr.JaroWinkler(w, tok, false)
		if score >= c.fuzzyThreshold {
			return true
		}
		if score >= c.phoneticThreshold && codesOverlap(wp, ws, tok) {
			return true
		}
	}
	return false
}

// codesOverlap reports whether tok shares a non-empty Double Metaphone code
// with the primary/secondary pair wp, ws.
func codesOverlap(wp, ws, tok string) bool {
	tp, ts := matchr.DoubleMetaphone(tok)
	for _, a := range [2]string{wp, ws} {
		if a == "" {
			continue
		}
		if a == tp || a == ts {
			return true
		}
	}
	return false
}

func isPunct(r rune) bool {
	return strings.ContainsRune(`.,;:!?"'()[]{}`, r)
}

// Ensure Containment implements match.Containment at compile time.
var _ match.Containment = (*Containment)(nil)

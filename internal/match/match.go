// Package match locates the single layout element that corresponds to a
// short caption fragment.
//
// A matching round proceeds in four stages:
//
//  1. [Tokenize] splits the caption into words on whitespace.
//  2. [SelectAnchor] picks the longest word as the search anchor.
//  3. [Gather] walks the whole layout tree and collects every node whose text
//     or label contains the anchor (the candidate set).
//  4. [Disambiguate] tests the caption words around the anchor, alternating
//     right and left and moving outward, dropping candidates that lack them
//     until exactly one remains or the caption is exhausted.
//
// Matching is purely lexical. The default [Containment] is a case-insensitive
// substring test; package phonetic provides a tolerant alternative for
// captions with misrecognised words.
//
// A [Matcher] is read-only after construction and safe for concurrent use,
// but the rounds it runs borrow nodes from a [layout.Tree] and must hand
// every one of them back.
package match

import (
	"github.com/MrWong99/captionseek/pkg/layout"
)

// Outcome classifies how a matching round ended.
type Outcome int

const (
	// OutcomeMatched means exactly one element was identified.
	OutcomeMatched Outcome = iota

	// OutcomeEmptyCaption means the caption had no words; no round ran.
	OutcomeEmptyCaption

	// OutcomeNoCandidates means no element contained the anchor word, or the
	// tree was empty.
	OutcomeNoCandidates

	// OutcomeAmbiguous means several candidates survived a full scan of the
	// caption.
	OutcomeAmbiguous

	// OutcomeEliminated means a neighbouring word removed every remaining
	// candidate.
	OutcomeEliminated
)

// String returns the human-readable name of the outcome, used as a log value
// and metric attribute.
func (o Outcome) String() string {
	switch o {
	case OutcomeMatched:
		return "matched"
	case OutcomeEmptyCaption:
		return "empty_caption"
	case OutcomeNoCandidates:
		return "no_candidates"
	case OutcomeAmbiguous:
		return "ambiguous"
	case OutcomeEliminated:
		return "eliminated"
	default:
		return "unknown"
	}
}

// Result describes a completed matching round.
type Result struct {
	// Outcome classifies the round.
	Outcome Outcome

	// Node is the unique match when Outcome is [OutcomeMatched], nil otherwise.
	// It is still borrowed from the tree: the caller must release it once it
	// has acted on it.
	Node layout.Node

	// Words is the tokenized caption.
	Words []string

	// Anchor is the index of the anchor word in Words, or -1 when the caption
	// was empty.
	Anchor int

	// Candidates is the number of nodes that contained the anchor word.
	Candidates int

	// Survivors is the number of candidates left when disambiguation stopped.
	Survivors int

	// Steps is the number of neighbouring words tested during disambiguation.
	Steps int
}

// AnchorWord returns the anchor word, or "" when the caption was empty.
func (r Result) AnchorWord() string {
	if r.Anchor < 0 || r.Anchor >= len(r.Words) {
		return ""
	}
	return r.Words[r.Anchor]
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithContainment replaces the default [Substring] containment test.
func WithContainment(c Containment) Option {
	return func(m *Matcher) {
		if c != nil {
			m.containment = c
		}
	}
}

// Matcher runs complete matching rounds against a [layout.Tree].
type Matcher struct {
	containment Containment
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{containment: Substring{}}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Containment returns the containment test the matcher uses.
func (m *Matcher) Containment() Containment {
	return m.containment
}

// Match runs one round for caption against the current snapshot of tree.
//
// Every node the round visits is released back to tree before Match returns,
// except the unique match, which the caller must release after acting on it.
// Match never returns an error: an empty caption, an empty tree, and an
// ambiguous caption are all ordinary outcomes.
func (m *Matcher) Match(caption string, tree layout.Tree) Result {
	words, err := Tokenize(caption)
	if err != nil {
		return Result{Outcome: OutcomeEmptyCaption, Anchor: -1}
	}

	res := Result{Words: words, Anchor: SelectAnchor(words)}

	var root layout.Node
	if tree != nil {
		root = tree.Root()
	}
	if root == nil {
		res.Outcome = OutcomeNoCandidates
		return res
	}

	candidates := Gather(root, res.AnchorWord(), m.containment, tree.Release)
	res.Candidates = len(candidates)

	d := Disambiguate(candidates, res.Anchor, words, m.containment, tree.Release)
	res.Outcome = d.Outcome
	res.Steps = d.Steps
	res.Survivors = len(d.Survivors)

	if d.Outcome == OutcomeMatched {
		res.Node = d.Survivors[0]
		return res
	}
	for _, n := range d.Survivors {
		tree.Release(n)
	}
	return res
}

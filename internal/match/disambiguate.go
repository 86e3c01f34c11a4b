package match

import (
	"iter"

	"github.com/MrWong99/captionseek/pkg/layout"
)

// Offsets yields the positions, relative to the anchor, that disambiguation
// tests in order: +1, -1, +2, -2, +3, -3, and so on. The sequence is infinite;
// callers stop ranging when they run out of caption words.
func Offsets() iter.Seq[int] {
	return func(yield func(int) bool) {
		offset := 1
		for {
			if !yield(offset) {
				return
			}
			offset = -offset
			if offset > 0 {
				offset++
			}
		}
	}
}

// Disambiguation is the outcome of a [Disambiguate] call.
type Disambiguation struct {
	// Survivors are the candidates left when the scan stopped, in their
	// original order. Exactly one survivor means a unique match.
	Survivors []layout.Node

	// Steps counts the neighbouring words that were actually tested.
	Steps int

	// Outcome is OutcomeMatched, OutcomeAmbiguous, or OutcomeEliminated.
	Outcome Outcome
}

// Disambiguate narrows candidates using the caption words around the anchor.
//
// Words are tested in [Offsets] order. For every in-bounds position the
// candidates that do not contain the word are dropped and handed to release.
// The scan stops as soon as exactly one candidate survives, when none survive,
// or once the caption is exhausted on both sides of the anchor. The candidate
// set only ever shrinks. release may be nil.
func Disambiguate(candidates []layout.Node, anchor int, words []string, c Containment, release func(layout.Node)) Disambiguation {
	if release == nil {
		release = func(layout.Node) {}
	}
	survivors := append([]layout.Node(nil), candidates...)

	d := Disambiguation{}
	switch len(survivors) {
	case 0:
		d.Outcome = OutcomeNoCandidates
		return d
	case 1:
		d.Survivors = survivors
		d.Outcome = OutcomeMatched
		return d
	}

	for offset := range Offsets() {
		dist := max(offset, -offset)
		if anchor-dist < 0 && anchor+dist >= len(words) {
			break
		}
		idx := anchor + offset
		if idx < 0 || idx >= len(words) {
			continue
		}

		d.Steps++
		word := words[idx]
		kept := survivors[:0]
		for _, n := range survivors {
			if c.Contains(n, word) {
				kept = append(kept, n)
			} else {
				release(n)
			}
		}
		survivors = kept

		if len(survivors) <= 1 {
			break
		}
	}

	d.Survivors = survivors
	switch len(survivors) {
	case 0:
		d.Outcome = OutcomeEliminated
	case 1:
		d.Outcome = OutcomeMatched
	default:
		d.Outcome = OutcomeAmbiguous
	}
	return d
}

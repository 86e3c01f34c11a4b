package match

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/MrWong99/captionseek/pkg/layout"
)

// Containment decides whether a layout node contains a caption word.
//
// Implementations must be safe for concurrent use and must not block.
type Containment interface {
	Contains(node layout.Node, word string) bool
}

// Substring is the default [Containment]: a node contains a word when the
// word is a case-insensitive substring of the node's text or of its label.
// A node with neither attribute contains nothing.
type Substring struct{}

// Contains implements [Containment].
func (Substring) Contains(node layout.Node, word string) bool {
	return ContainsFold(node.Text(), word) || ContainsFold(node.Label(), word)
}

// ContainsFold reports whether word is a case-insensitive substring of s,
// comparing Unicode case-folded forms ("STRASSE" contains "straße"). An
// empty s or word never matches.
func ContainsFold(s, word string) bool {
	if s == "" || word == "" {
		return false
	}
	fold := cases.Fold()
	return strings.Contains(fold.String(s), fold.String(word))
}

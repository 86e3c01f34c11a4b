// Package layout defines the boundary between captionseek and the host's
// hierarchical text layout (an accessibility tree, a DOM, a PDF outline).
//
// The host owns every [Node]. A matching round borrows nodes from a [Tree]
// for the duration of the round only and hands each one back through
// [Tree.Release] once it is no longer needed. The matching code never mutates
// a node and never keeps a reference after the round ends.
package layout

import "context"

// Node is a single text-bearing element in the host's layout tree.
//
// Text and Label return the empty string when the attribute is absent.
// Implementations must not block in Text, Label, or Children.
//
// Nodes are used as map keys to recognise an element reached twice, so the
// dynamic type must be comparable (in practice a pointer), and two Node
// values must be equal exactly when they denote the same element. A struct
// value holding a slice or map panics on the first round.
type Node interface {
	// Text returns the element's visible text.
	Text() string

	// Label returns the element's accessible label or description.
	Label() string

	// Children returns the element's children in native order.
	Children() []Node

	// ShowOnScreen asks the host to scroll the element into view.
	ShowOnScreen(ctx context.Context) error
}

// Tree gives a matching round access to the current layout snapshot.
//
// Implementations must be safe for concurrent use.
type Tree interface {
	// Root returns the current root node, or nil when no layout is available.
	// A nil root is treated as a tree without candidates, not as an error.
	Root() Node

	// Release tells the provider the round no longer needs node. The
	// provider may reclaim any resources associated with it.
	Release(node Node)
}

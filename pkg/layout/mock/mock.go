// Package mock provides test doubles for the layout package interfaces.
//
// Use Node to build an in-memory element tree and Tree to serve it to a
// matching round while recording every Release call, so tests can assert that
// a round hands back every node it borrowed.
//
// Example:
//
//	root := mock.NewNode("root", "", "",
//	    mock.NewNode("p1", "The quick brown fox", ""),
//	    mock.NewNode("p2", "A quick reply", ""),
//	)
//	tree := &mock.Tree{RootNode: root}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/captionseek/pkg/layout"
)

// Node is a mock implementation of layout.Node.
type Node struct {
	mu sync.Mutex

	// ID identifies the node in test assertions. It is not used for matching.
	ID string

	// TextValue is returned by Text.
	TextValue string

	// LabelValue is returned by Label.
	LabelValue string

	// Kids are returned by Children, in order.
	Kids []*Node

	// ShowErr, if non-nil, is returned by every ShowOnScreen call.
	ShowErr error

	// ShowCalls is the number of times ShowOnScreen was called.
	ShowCalls int
}

// NewNode returns a Node with the given id, text, label and children.
func NewNode(id, text, label string, children ...*Node) *Node {
	return &Node{ID: id, TextValue: text, LabelValue: label, Kids: children}
}

// Text returns TextValue.
func (n *Node) Text() string { return n.TextValue }

// Label returns LabelValue.
func (n *Node) Label() string { return n.LabelValue }

// Children returns Kids as layout.Node values.
func (n *Node) Children() []layout.Node {
	out := make([]layout.Node, len(n.Kids))
	for i, k := range n.Kids {
		out[i] = k
	}
	return out
}

// ShowOnScreen records the call and returns ShowErr.
func (n *Node) ShowOnScreen(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ShowCalls++
	return n.ShowErr
}

// ShowCallCount returns the number of ShowOnScreen calls. Thread-safe.
func (n *Node) ShowCallCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ShowCalls
}

// Ensure Node implements layout.Node at compile time.
var _ layout.Node = (*Node)(nil)

// Tree is a mock implementation of layout.Tree.
type Tree struct {
	mu sync.Mutex

	// RootNode is returned by Root. A nil RootNode yields a nil layout.Node.
	RootNode *Node

	// RootCalls is the number of times Root was called.
	RootCalls int

	// released counts Release calls per node.
	released map[layout.Node]int
}

// Root records the call and returns RootNode.
func (t *Tree) Root() layout.Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.RootCalls++
	if t.RootNode == nil {
		return nil
	}
	return t.RootNode
}

// Release records that node was handed back.
func (t *Tree) Release(node layout.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released == nil {
		t.released = make(map[layout.Node]int)
	}
	t.released[node]++
}

// ReleaseCount returns how many times node was released. Thread-safe.
func (t *Tree) ReleaseCount(node *Node) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released[node]
}

// ReleasedTotal returns the total number of Release calls. Thread-safe.
func (t *Tree) ReleasedTotal() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.released {
		n += c
	}
	return n
}

// Outstanding returns the IDs of nodes reachable from RootNode that were not
// released exactly once. An empty result means the round returned every node
// it borrowed. Thread-safe.
func (t *Tree) Outstanding() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	if t.RootNode == nil {
		return out
	}
	stack := []*Node{t.RootNode}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if t.released[n] != 1 {
			out = append(out, n.ID)
		}
		for i := len(n.Kids) - 1; i >= 0; i-- {
			stack = append(stack, n.Kids[i])
		}
	}
	return out
}

// ResetCalls clears all recorded calls. Thread-safe.
func (t *Tree) ResetCalls() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.RootCalls = 0
	t.released = nil
}

// Ensure Tree implements layout.Tree at compile time.
var _ layout.Tree = (*Tree)(nil)

// Package htmltree adapts an HTML document into a [layout.Tree].
//
// Every element becomes one [Node]. A node's text is the element's own text
// content (its direct text children plus the text of inline children such as
// <b> or <a>, whitespace collapsed), so a caption line matches the paragraph
// that holds it rather than every ancestor up to <body>. Inline elements
// still get a node of their own but with empty text: their words belong to
// the nearest non-inline ancestor only, so a word is never held by two
// nested candidates. A node's label is
// the first non-empty of its aria-label, title, and alt attributes. Elements
// that never render text (head, script, style, template, noscript) are
// skipped together with their subtrees.
//
// Bringing a node into view is delegated to a host-supplied [ScrollFunc],
// which receives the node and can use [Node.Path] to locate it in the live
// document.
package htmltree

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/MrWong99/captionseek/pkg/layout"
)

var (
	// ErrNoDocument is returned when the input contains no root element.
	ErrNoDocument = errors.New("htmltree: document has no root element")

	// ErrNoScroller is returned by [Node.ShowOnScreen] when the document was
	// built without a [ScrollFunc].
	ErrNoScroller = errors.New("htmltree: no scroller configured")
)

// ScrollFunc brings n into view in the host's rendering of the document.
type ScrollFunc func(ctx context.Context, n *Node) error

// skipped lists elements whose subtrees never contribute visible text.
var skipped = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Template: true,
	atom.Noscript: true,
}

// inline lists phrasing elements whose text counts as part of their
// parent's text instead of their own, so "<p>Hello <b>world</b></p>" reads
// as one line held by the <p> alone.
var inline = map[atom.Atom]bool{
	atom.A:      true,
	atom.Abbr:   true,
	atom.B:      true,
	atom.Cite:   true,
	atom.Code:   true,
	atom.Em:     true,
	atom.I:      true,
	atom.Kbd:    true,
	atom.Mark:   true,
	atom.Q:      true,
	atom.S:      true,
	atom.Small:  true,
	atom.Span:   true,
	atom.Strong: true,
	atom.Sub:    true,
	atom.Sup:    true,
	atom.Time:   true,
	atom.U:      true,
}

// Option is a functional option for [Parse].
type Option func(*Document)

// WithScroller sets the function used by [Node.ShowOnScreen].
func WithScroller(fn ScrollFunc) Option {
	return func(d *Document) { d.scroll = fn }
}

// Document is a parsed, immutable element tree. It implements [layout.Tree];
// Release only counts calls, since the whole tree is garbage collected once
// the last round drops it.
type Document struct {
	root     *Node
	count    int
	scroll   ScrollFunc
	released atomic.Int64
}

// Parse reads an HTML document from r and builds its element tree.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	top, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmltree: parse: %w", err)
	}
	d := &Document{}
	for _, o := range opts {
		o(d)
	}

	for c := top.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			d.root = d.build(c, "")
			break
		}
	}
	if d.root == nil {
		return nil, ErrNoDocument
	}
	return d, nil
}

// Root implements [layout.Tree].
func (d *Document) Root() layout.Node {
	if d.root == nil {
		return nil
	}
	return d.root
}

// Release implements [layout.Tree].
func (d *Document) Release(layout.Node) {
	d.released.Add(1)
}

// Released returns the number of Release calls so far.
func (d *Document) Released() int64 {
	return d.released.Load()
}

// Len returns the number of element nodes in the tree.
func (d *Document) Len() int {
	return d.count
}

// Find returns the node at path, or nil.
func (d *Document) Find(path string) *Node {
	if d.root == nil {
		return nil
	}
	stack := []*Node{d.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.path == path {
			return n
		}
		if strings.HasPrefix(path, n.path) {
			stack = append(stack, n.children...)
		}
	}
	return nil
}

// build converts the element hn and its element descendants into a Node.
func (d *Document) build(hn *html.Node, parentPath string) *Node {
	n := &Node{doc: d, tag: hn.Data}
	if parentPath == "" {
		n.path = hn.Data
	} else {
		n.path = parentPath + ">" + hn.Data + "[" + strconv.Itoa(elementIndex(hn)) + "]"
	}
	n.label = labelOf(hn)
	d.count++

	var text []string
	for c := hn.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			text = append(text, strings.Fields(c.Data)...)
		case html.ElementNode:
			if skipped[c.DataAtom] {
				continue
			}
			if inline[c.DataAtom] {
				text = appendTextContent(text, c)
			}
			n.children = append(n.children, d.build(c, n.path))
		}
	}
	if !inline[hn.DataAtom] {
		n.text = strings.Join(text, " ")
	}
	return n
}

// appendTextContent appends the words of hn's text nodes and of its inline
// descendants. Block elements nested in hn own their text themselves.
func appendTextContent(words []string, hn *html.Node) []string {
	for c := hn.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			words = append(words, strings.Fields(c.Data)...)
		case html.ElementNode:
			if inline[c.DataAtom] {
				words = appendTextContent(words, c)
			}
		}
	}
	return words
}

// elementIndex returns the 1-based position of hn among its element siblings
// with the same tag.
func elementIndex(hn *html.Node) int {
	idx := 1
	for s := hn.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode && s.Data == hn.Data {
			idx++
		}
	}
	return idx
}

func labelOf(hn *html.Node) string {
	for _, key := range []string{"aria-label", "title", "alt"} {
		for _, a := range hn.Attr {
			if a.Namespace == "" && a.Key == key {
				if v := strings.TrimSpace(a.Val); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

// Node is one HTML element. It implements [layout.Node].
type Node struct {
	doc      *Document
	tag      string
	path     string
	text     string
	label    string
	children []*Node
}

// Text implements [layout.Node].
func (n *Node) Text() string { return n.text }

// Label implements [layout.Node].
func (n *Node) Label() string { return n.label }

// Children implements [layout.Node].
func (n *Node) Children() []layout.Node {
	out := make([]layout.Node, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

// ShowOnScreen implements [layout.Node] by calling the document's
// [ScrollFunc].
func (n *Node) ShowOnScreen(ctx context.Context) error {
	if n.doc.scroll == nil {
		return ErrNoScroller
	}
	return n.doc.scroll(ctx, n)
}

// Tag returns the element name, e.g. "p".
func (n *Node) Tag() string { return n.tag }

// Path returns a stable locator for the element, e.g. "html>body[1]>p[3]".
func (n *Node) Path() string { return n.path }

// Ensure the adapters implement the layout interfaces at compile time.
var (
	_ layout.Tree = (*Document)(nil)
	_ layout.Node = (*Node)(nil)
)

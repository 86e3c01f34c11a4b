package match

import "github.com/MrWong99/captionseek/pkg/layout"

// Gather walks the tree rooted at root in pre-order, children in native
// order, and returns every node that contains word under c.
//
// Every reachable node is visited exactly once and the walk never stops early:
// the word may legitimately occur in several places. Nodes that do not contain
// word are passed to release at the point of visit and are not referenced
// again; the returned candidates remain borrowed and are the caller's to
// release. release may be nil.
//
// Node implementations must be comparable (typically pointers), since visited
// nodes are tracked by identity.
func Gather(root layout.Node, word string, c Containment, release func(layout.Node)) []layout.Node {
	if root == nil {
		return nil
	}
	if release == nil {
		release = func(layout.Node) {}
	}

	var candidates []layout.Node
	visited := make(map[layout.Node]struct{})
	stack := []layout.Node{root}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil {
			continue
		}
		if _, seen := visited[n]; seen {
			continue
		}
		visited[n] = struct{}{}

		// Read the children before a possible release.
		kids := n.Children()
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}

		if c.Contains(n, word) {
			candidates = append(candidates, n)
		} else {
			release(n)
		}
	}
	return candidates
}

package instdata

import (
	"slices"
	"strconv"
	"strings"
)

// Address is the path of node identifiers from a node up to the root of its
// hierarchy, node first. Addresses relocate the same logical node across
// separate builds.
type Address []uint64

func (a Address) Equal(b Address) bool {
	return slices.Equal(a, b)
}

// HasPrefix reports whether a starts with p, that is, whether p matches the
// innermost part of a.
func (a Address) HasPrefix(p Address) bool {
	return len(a) >= len(p) && slices.Equal(a[:len(p)], p)
}

// Within reports whether a identifies the node at ancestor or one of its
// descendants.
func (a Address) Within(ancestor Address) bool {
	return len(a) >= len(ancestor) && slices.Equal(a[len(a)-len(ancestor):], ancestor)
}

// String renders the address root first, like a file path.
func (a Address) String() string {
	var buf strings.Builder
	for i := len(a) - 1; i >= 0; i-- {
		buf.WriteByte('/')
		buf.WriteString(strconv.FormatUint(a[i], 16))
	}
	if buf.Len() == 0 {
		return "/"
	}
	return buf.String()
}

func (n *Node) ComputeAddress() Address {
	var addr Address
	for p := n; p != nil; p = p.Parent() {
		addr = append(addr, p.identifier)
	}
	return addr
}

// MatchesDescendantAddress reports whether addr identifies n or an existing
// descendant of n.
func (n *Node) MatchesDescendantAddress(addr Address) bool {
	own := n.ComputeAddress()
	if !addr.Within(own) {
		return false
	}
	p := n
	for i := len(addr) - len(own) - 1; i >= 0; i-- {
		if p = p.findChild(addr[i]); p == nil {
			return false
		}
	}
	return true
}

// FindNodeByAddress returns the node with exactly the given address, or nil.
func (h *Hierarchy) FindNodeByAddress(addr Address) *Node {
	root := h.Root()
	if root == nil || len(addr) == 0 || addr[len(addr)-1] != root.identifier {
		return nil
	}
	n := root
	for i := len(addr) - 2; i >= 0; i-- {
		if n = n.lookupChild(addr[i]); n == nil {
			return nil
		}
	}
	return n
}

// lookupChild prefers a live child and falls back to a removal placeholder,
// so that placeholders are addressable too.
func (n *Node) lookupChild(identifier uint64) *Node {
	if c := n.findChild(identifier); c != nil {
		return c
	}
	for _, id := range n.children {
		if c := n.h.nodes[id]; c.identifier == identifier {
			return c
		}
	}
	return nil
}

// FindNodeByPartialAddress searches breadth first for the shallowest node
// whose address starts with addr. It relocates nodes whose path was computed
// against a tree of a different shape above them.
func (h *Hierarchy) FindNodeByPartialAddress(addr Address) *Node {
	root := h.Root()
	if root == nil || len(addr) == 0 {
		return nil
	}
	queue := []*Node{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n.identifier == addr[0] && !n.IsRemoved() && n.ComputeAddress().HasPrefix(addr) {
			return n
		}
		for _, id := range n.children {
			queue = append(queue, h.nodes[id])
		}
	}
	return nil
}

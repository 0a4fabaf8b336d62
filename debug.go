package instdata

import (
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpIdentifiers = DumpFlags(1 << iota)
	DumpValues
	DumpComparison
	DumpEditData
	DumpInstances

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)

	indentStep = "  "
)

var dumpSep = strings.Repeat("=", 80)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the tree, one node per line, for debugging and tests.
func (h *Hierarchy) Dump(f DumpFlags) string {
	var buf strings.Builder
	root := h.Root()
	if root == nil {
		return "<not built>\n"
	}
	fmt.Fprintln(&buf, dumpSep)
	fmt.Fprintf(&buf, "%s (%d roots, %d comparisons)\n", root.class.Name, len(h.rootInstances), len(h.comparisons))
	for _, id := range root.children {
		h.dumpNode(&buf, indentStep, f, h.nodes[id])
	}
	return buf.String()
}

func (h *Hierarchy) dumpNode(w *strings.Builder, prefix string, f DumpFlags, n *Node) {
	w.WriteString(prefix)
	if p := n.Parent(); p != nil && p.IsContainer() {
		if k := n.Key(0); k.IsValid() {
			fmt.Fprintf(w, "[%v]", k.Interface())
		} else {
			w.WriteString("[]")
		}
	} else {
		w.WriteString(n.Name())
	}
	if n.class != nil {
		fmt.Fprintf(w, " %s", n.class.Name)
	}
	if f.Contains(DumpIdentifiers) {
		fmt.Fprintf(w, " #%x", n.identifier)
	}
	if f.Contains(DumpInstances) {
		fmt.Fprintf(w, " x%d", len(n.instances))
	}
	if f.Contains(DumpValues) && n.IsLeaf() {
		if v := n.FirstInstance(); v.IsValid() && v.CanInterface() {
			fmt.Fprintf(w, " = %v", v.Interface())
		}
	}
	if f.Contains(DumpComparison) && n.flags != 0 {
		fmt.Fprintf(w, " [%v]", n.flags)
	}
	if f.Contains(DumpEditData) && n.edit != nil {
		fmt.Fprintf(w, " {%v}", n.edit)
	}
	w.WriteByte('\n')

	prefix += indentStep
	for _, id := range n.children {
		h.dumpNode(w, prefix, f, h.nodes[id])
	}
}

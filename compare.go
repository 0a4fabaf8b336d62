package instdata

import (
	"log/slog"
	"reflect"
	"slices"
)

// RefreshComparisonData rebuilds a hierarchy for every comparison instance
// and flags the differences of this hierarchy against each of them. Flags
// and removal placeholders of a previous refresh are discarded first.
func (h *Hierarchy) RefreshComparisonData() error {
	root := h.Root()
	if root == nil {
		return nil
	}
	h.clearComparisonData()
	if err := checkInstances("comparison", h.comparisonInstances); err != nil {
		return err
	}
	for i, inst := range h.comparisonInstances {
		ch := New(Options{Logger: h.logger, Verbose: h.verbose})
		ch.rootInstances = []reflect.Value{inst}
		if err := ch.Build(h.ctx, h.flags, h.provider); err != nil {
			return err
		}
		h.comparisons = append(h.comparisons, ch)
		h.debug("compare", slog.Int("comparison", i), slog.Int("nodes", len(ch.nodes)))
		h.compareNodes(ch.Root(), root)
	}
	return nil
}

func (h *Hierarchy) clearComparisonData() {
	h.comparisons = nil
	for _, n := range h.nodes[h.built:] {
		n.detached = true
	}
	h.nodes = h.nodes[:h.built]
	for _, n := range h.nodes {
		n.flags = 0
		n.comparison = nil
		if len(n.children) > 0 {
			n.children = slices.DeleteFunc(n.children, func(id NodeID) bool {
				return int(id) >= h.built
			})
		}
	}
}

func (h *Hierarchy) compareNodes(source, target *Node) {
	if source.TypeID() != target.TypeID() {
		h.debug("compare type mismatch", nodeAttr("node", target), slog.Any("source", source.TypeID()), slog.Any("target", target.TypeID()))
		return
	}
	target.comparison = source
	switch {
	case target.IsLeaf():
		eq := h.valueComparison
		if eq == nil {
			eq = DefaultValueComparison
		}
		if !eq(source, target) {
			target.flags |= ComparisonDiffers
		}
	case target.IsContainer():
		h.compareContainers(source, target)
	default:
		h.compareObjects(source, target)
	}
}

func (h *Hierarchy) compareContainers(source, target *Node) {
	for _, tc := range target.Children() {
		if sc := source.findChild(tc.identifier); sc != nil {
			h.compareNodes(sc, tc)
		} else {
			h.markNew(tc)
		}
	}
	for _, sc := range source.Children() {
		if target.findChild(sc.identifier) == nil {
			h.addRemovedPlaceholder(target, sc)
			target.flags |= ComparisonDiffers
		}
	}
}

// compareObjects pairs struct fields by position. Nil pointer fields are not
// enumerated, so the positions shift when only one side has a field set;
// identifiers decide in that case.
func (h *Hierarchy) compareObjects(source, target *Node) {
	for i, tc := range target.Children() {
		var sc *Node
		if i < len(source.children) && source.Child(i).identifier == tc.identifier {
			sc = source.Child(i)
		} else {
			sc = source.findChild(tc.identifier)
		}
		if sc != nil {
			h.compareNodes(sc, tc)
		} else {
			h.markNew(tc)
		}
	}
	if len(source.children) != len(target.children) {
		for _, sc := range source.Children() {
			if target.findChild(sc.identifier) == nil {
				target.flags |= ComparisonDiffers
				break
			}
		}
	}
}

// markNew flags n and its subtree as New. Component values are flagged as a
// single unit.
func (h *Hierarchy) markNew(n *Node) {
	n.flags |= ComparisonNew
	if n.class != nil && n.class.Component {
		return
	}
	for _, id := range n.children {
		h.markNew(h.nodes[id])
	}
}

func (h *Hierarchy) addRemovedPlaceholder(parent, source *Node) *Node {
	n := h.newNode(parent.id)
	n.identifier = source.identifier
	n.class = source.class
	n.element = source.element
	n.edit = source.edit
	n.comparison = source
	n.flags = ComparisonRemoved
	h.debug("removed", nodeAttr("node", n))
	return n
}

// DefaultValueComparison compares the first instances of two leaf nodes with
// the serializer of their type. Nodes without instances are equal only to
// each other.
func DefaultValueComparison(source, target *Node) bool {
	sn, tn := source.InstanceCount(), target.InstanceCount()
	if sn == 0 || tn == 0 {
		return sn == tn
	}
	sv, tv := source.FirstInstance(), target.FirstInstance()
	if !sv.IsValid() || !tv.IsValid() {
		return sv.IsValid() == tv.IsValid()
	}
	if target.class == nil || target.class.Serializer == nil {
		return false
	}
	return target.class.Serializer.Equal(sv, tv)
}

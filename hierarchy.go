package instdata

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/andreyvit/instdata/rtti"
)

// ValueComparisonFunc reports whether the leaf values of the two nodes are
// equal. The source node belongs to a comparison hierarchy.
type ValueComparisonFunc func(source, target *Node) bool

// DynamicEditDataProvider returns edit metadata for values whose attributes
// depend on their content. A nil result keeps the static field metadata.
type DynamicEditDataProvider func(v reflect.Value, td *rtti.TypeDescriptor, fd *rtti.FieldDescriptor) *rtti.EditMetadata

type Options struct {
	Logger  *slog.Logger
	Verbose bool

	// ValueComparison overrides the leaf equality used by comparisons.
	ValueComparison ValueComparisonFunc
}

// Hierarchy is a tree of Nodes mirroring the reflected fields of one or
// more root instances. It is not safe for concurrent use.
type Hierarchy struct {
	logger  *slog.Logger
	verbose bool

	ctx      rtti.Context
	flags    rtti.AccessFlags
	provider DynamicEditDataProvider

	rootInstances       []reflect.Value
	comparisonInstances []reflect.Value
	comparisons         []*Hierarchy
	valueComparison     ValueComparisonFunc

	// nodes is the arena; nodes[0] is the root once built. Removal
	// placeholders are appended past built.
	nodes []*Node
	built int
}

func New(opt Options) *Hierarchy {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hierarchy{
		logger:          logger,
		verbose:         opt.Verbose,
		valueComparison: opt.ValueComparison,
	}
}

// AddRootInstance adds ptr, which must be a non-nil pointer, as a subject of
// the hierarchy. Takes effect on the next Build.
func (h *Hierarchy) AddRootInstance(ptr any) {
	h.rootInstances = append(h.rootInstances, reflect.ValueOf(ptr))
}

func (h *Hierarchy) AddRootInstanceValue(v reflect.Value) {
	h.rootInstances = append(h.rootInstances, v)
}

// AddComparisonInstance adds a baseline object that the root instances are
// compared against.
func (h *Hierarchy) AddComparisonInstance(ptr any) {
	h.comparisonInstances = append(h.comparisonInstances, reflect.ValueOf(ptr))
}

func (h *Hierarchy) AddComparisonInstanceValue(v reflect.Value) {
	h.comparisonInstances = append(h.comparisonInstances, v)
}

func (h *Hierarchy) ClearComparisonInstances() {
	h.comparisonInstances = nil
}

func checkInstances(kind string, values []reflect.Value) error {
	for i, v := range values {
		if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() {
			return fmt.Errorf("%s instance %d (%v): %w", kind, i, v, ErrInvalidInstance)
		}
	}
	return nil
}

func (h *Hierarchy) RootInstanceCount() int {
	return len(h.rootInstances)
}

// Root returns the top node, or nil before Build.
func (h *Hierarchy) Root() *Node {
	if len(h.nodes) == 0 {
		return nil
	}
	return h.nodes[0]
}

func (h *Hierarchy) IsBuilt() bool {
	return len(h.nodes) > 0
}

// Node returns the arena node with the given id.
func (h *Hierarchy) Node(id NodeID) *Node {
	return h.nodes[id]
}

func (h *Hierarchy) Context() rtti.Context {
	return h.ctx
}

// ComparisonHierarchies returns the baseline trees built by the last
// RefreshComparisonData.
func (h *Hierarchy) ComparisonHierarchies() []*Hierarchy {
	return h.comparisons
}

// SetValueComparisonFunction overrides leaf equality; nil restores the
// default. Takes effect on the next RefreshComparisonData.
func (h *Hierarchy) SetValueComparisonFunction(fn ValueComparisonFunc) {
	h.valueComparison = fn
}

func (h *Hierarchy) newNode(parent NodeID) *Node {
	n := &Node{
		h:      h,
		id:     NodeID(len(h.nodes)),
		parent: parent,
	}
	h.nodes = append(h.nodes, n)
	if parent != noNode {
		h.nodes[parent].addChild(n.id)
	}
	return n
}

// Walk calls f for every attached node in depth-first order, stopping early
// when f returns false.
func (h *Hierarchy) Walk(f func(n *Node) bool) {
	if root := h.Root(); root != nil {
		walk(root, f)
	}
}

func walk(n *Node, f func(n *Node) bool) bool {
	if !f(n) {
		return false
	}
	for _, id := range n.children {
		if !walk(n.h.nodes[id], f) {
			return false
		}
	}
	return true
}

func (h *Hierarchy) debug(msg string, attrs ...slog.Attr) {
	if !h.verbose {
		return
	}
	h.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}

func nodeAttr(key string, n *Node) slog.Attr {
	if n == nil {
		return slog.String(key, "<nil>")
	}
	return slog.String(key, n.String())
}

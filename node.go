package instdata

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/andreyvit/instdata/rtti"
)

// NodeID indexes a node in its hierarchy's arena.
type NodeID int32

const noNode NodeID = -1

type ComparisonFlags uint64

const (
	ComparisonNew = ComparisonFlags(1 << iota)
	ComparisonDiffers
	ComparisonRemoved
)

func (v ComparisonFlags) Contains(f ComparisonFlags) bool {
	return (v & f) == f
}

func (v ComparisonFlags) ContainsAny(f ComparisonFlags) bool {
	return (v & f) != 0
}

func (v ComparisonFlags) String() string {
	if v == 0 {
		return "none"
	}
	var parts []string
	if v.Contains(ComparisonNew) {
		parts = append(parts, "new")
	}
	if v.Contains(ComparisonDiffers) {
		parts = append(parts, "differs")
	}
	if v.Contains(ComparisonRemoved) {
		parts = append(parts, "removed")
	}
	return strings.Join(parts, "|")
}

// Node is a reflected field or container element, aggregated over every
// root instance of its hierarchy.
type Node struct {
	h        *Hierarchy
	id       NodeID
	parent   NodeID
	children []NodeID
	detached bool

	identifier uint64

	// instances hold field storage, one per root instance; keys hold the
	// map keys of associative elements.
	instances []reflect.Value
	keys      []reflect.Value

	class   *rtti.TypeDescriptor
	element *rtti.FieldDescriptor
	edit    *rtti.EditMetadata

	flags      ComparisonFlags
	comparison *Node

	matchPass int
}

func (n *Node) ID() NodeID                           { return n.id }
func (n *Node) Hierarchy() *Hierarchy               { return n.h }
func (n *Node) Identifier() uint64                  { return n.identifier }
func (n *Node) ClassMetadata() *rtti.TypeDescriptor { return n.class }
func (n *Node) ElementMetadata() *rtti.FieldDescriptor {
	return n.element
}

// EditData returns the effective edit metadata, after the dynamic provider
// and inheritance from ancestors were applied. May be nil.
func (n *Node) EditData() *rtti.EditMetadata { return n.edit }

func (n *Node) ComparisonFlags() ComparisonFlags { return n.flags }

// ComparisonNode returns the matching node of the comparison hierarchy, if
// a diff pass found one.
func (n *Node) ComparisonNode() *Node { return n.comparison }

func (n *Node) TypeID() reflect.Type {
	if n.class == nil {
		return nil
	}
	return n.class.Type
}

func (n *Node) Name() string {
	if n.element == nil {
		if n.class == nil {
			return ""
		}
		return n.class.Name
	}
	if n.edit != nil && n.edit.DisplayName != "" {
		return n.edit.DisplayName
	}
	return n.element.Name
}

func (n *Node) IsContainer() bool {
	return n.class != nil && n.class.Container != nil
}

func (n *Node) IsLeaf() bool {
	return n.class != nil && n.class.Serializer != nil
}

func (n *Node) IsReadOnly() bool {
	return n.edit != nil && n.edit.ReadOnly
}

func (n *Node) IsAssociativeElement() bool {
	p := n.Parent()
	return p != nil && p.IsContainer() && p.class.Container.Associative()
}

func (n *Node) Parent() *Node {
	if n.parent == noNode {
		return nil
	}
	return n.h.nodes[n.parent]
}

func (n *Node) Children() []*Node {
	result := make([]*Node, len(n.children))
	for i, id := range n.children {
		result[i] = n.h.nodes[id]
	}
	return result
}

func (n *Node) ChildCount() int {
	return len(n.children)
}

func (n *Node) Child(i int) *Node {
	return n.h.nodes[n.children[i]]
}

func (n *Node) InstanceCount() int {
	return len(n.instances)
}

// Instances returns the field storage of every root instance, unresolved.
func (n *Node) Instances() []reflect.Value {
	return slices.Clone(n.instances)
}

// Instance returns the field storage for the given root instance.
func (n *Node) Instance(i int) reflect.Value {
	return n.instances[i]
}

// Key returns the map key of an associative element for the given root
// instance.
func (n *Node) Key(i int) reflect.Value {
	if n.keys == nil {
		return reflect.Value{}
	}
	return n.keys[i]
}

// ResolveInstance dereferences pointer and interface storage once and
// returns the value of its dynamic type. The result is invalid when the
// storage holds nil.
func (n *Node) ResolveInstance(i int) reflect.Value {
	return resolve(n.h.ctx, n.instances[i])
}

// FirstInstance returns the resolved value of the first root instance, or an
// invalid value for nodes without instances.
func (n *Node) FirstInstance() reflect.Value {
	if len(n.instances) == 0 {
		return reflect.Value{}
	}
	return n.ResolveInstance(0)
}

func resolve(ctx rtti.Context, storage reflect.Value) reflect.Value {
	switch storage.Kind() {
	case reflect.Pointer:
		if storage.IsNil() {
			return reflect.Value{}
		}
		return storage.Elem()
	case reflect.Interface:
		if storage.IsNil() {
			return reflect.Value{}
		}
		dyn := storage.Elem()
		if dyn.Kind() == reflect.Pointer {
			if dyn.IsNil() {
				return reflect.Value{}
			}
			return dyn.Elem()
		}
		v, ok := ctx.TryDowncast(storage, dyn.Type())
		if !ok {
			return reflect.Value{}
		}
		return v
	default:
		return storage
	}
}

// holdsPointer reports whether the storage refers to a separately allocated
// value rather than containing it.
func holdsPointer(storage reflect.Value) bool {
	switch storage.Kind() {
	case reflect.Pointer:
		return true
	case reflect.Interface:
		return !storage.IsNil() && storage.Elem().Kind() == reflect.Pointer
	}
	return false
}

func (n *Node) IsNew() bool     { return n.flags.Contains(ComparisonNew) }
func (n *Node) IsChanged() bool { return n.flags.Contains(ComparisonDiffers) }
func (n *Node) IsRemoved() bool { return n.flags.Contains(ComparisonRemoved) }

// HasChanges reports whether the node, and optionally any descendant, is
// flagged by the last comparison.
func (n *Node) HasChanges(includeChildren bool) bool {
	if n.flags != 0 {
		return true
	}
	if includeChildren {
		for _, id := range n.children {
			if n.h.nodes[id].HasChanges(true) {
				return true
			}
		}
	}
	return false
}

func (n *Node) String() string {
	var parts []string
	for p := n; p != nil; p = p.Parent() {
		if pp := p.Parent(); pp != nil && pp.IsContainer() {
			parts = append(parts, fmt.Sprintf("[%x]", p.identifier))
		} else {
			parts = append(parts, p.Name())
		}
	}
	slices.Reverse(parts)
	return strings.Join(parts, ".")
}

func (n *Node) addChild(child NodeID) {
	n.children = append(n.children, child)
}

func (n *Node) detachChild(child *Node) {
	for i, id := range n.children {
		if id == child.id {
			n.children = append(n.children[:i:i], n.children[i+1:]...)
			child.detach()
			return
		}
	}
}

func (n *Node) detach() {
	n.detached = true
	for _, id := range n.children {
		n.h.nodes[id].detach()
	}
}

func (n *Node) IsDetached() bool {
	return n.detached
}

// findChild returns the first child with the given identifier.
func (n *Node) findChild(identifier uint64) *Node {
	for _, id := range n.children {
		c := n.h.nodes[id]
		if c.identifier == identifier && !c.IsRemoved() {
			return c
		}
	}
	return nil
}

func (n *Node) beginWrite() {
	if n.class == nil || n.class.Events == nil {
		return
	}
	for i := range n.instances {
		if v := n.ResolveInstance(i); v.IsValid() {
			n.class.Events.BeginWrite(v)
		}
	}
}

func (n *Node) endWrite() {
	if n.class == nil || n.class.Events == nil {
		return
	}
	for i := range n.instances {
		if v := n.ResolveInstance(i); v.IsValid() {
			n.class.Events.EndWrite(v)
		}
	}
}

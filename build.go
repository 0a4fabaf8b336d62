package instdata

import (
	"fmt"
	"log/slog"
	"reflect"
	"unsafe"

	"github.com/cespare/xxhash/v2"

	"github.com/andreyvit/instdata/rtti"
)

// visit identifies a value on the current walk path. Pointer cycles in the
// object graph would otherwise recurse forever.
type visit struct {
	ptr unsafe.Pointer
	typ reflect.Type
}

type builder struct {
	h        *Hierarchy
	ctx      rtti.Context
	flags    rtti.AccessFlags
	provider DynamicEditDataProvider
	path     map[visit]bool
}

// Build replaces the tree with a fresh one built from the root instances.
// The first root instance is walked in create mode; every further instance
// is merged, keeping only the fields all of them have in common. Nodes of a
// previous build must not be used afterwards.
func (h *Hierarchy) Build(ctx rtti.Context, flags rtti.AccessFlags, provider DynamicEditDataProvider) error {
	if ctx == nil {
		panic("instdata: Build with nil context")
	}
	if len(h.rootInstances) == 0 {
		return ErrNoRootInstances
	}
	if err := checkInstances("root", h.rootInstances); err != nil {
		return err
	}
	for _, n := range h.nodes {
		n.detached = true
	}
	h.nodes = nil
	h.built = 0
	h.comparisons = nil
	h.ctx, h.flags, h.provider = ctx, flags, provider

	b := &builder{
		h:        h,
		ctx:      ctx,
		flags:    flags,
		provider: provider,
		path:     make(map[visit]bool),
	}

	first := h.rootInstances[0]
	resolved := resolve(ctx, first)
	td := ctx.Describe(resolved.Type())
	root := h.newNode(noNode)
	root.identifier = xxhash.Sum64String(td.Name)
	root.instances = []reflect.Value{first}
	root.class = td
	root.edit = b.editData(resolved, td, nil)
	b.enter(first, resolved)
	b.createChildren(root, resolved)
	b.leave(first, resolved)

	for pass := 1; pass < len(h.rootInstances); pass++ {
		inst := h.rootInstances[pass]
		r := resolve(ctx, inst)
		if r.Type() != td.Type {
			for _, n := range h.nodes {
				n.detached = true
			}
			h.nodes = nil
			return &TypeMismatchError{
				SourceName: td.Name,
				TargetName: r.Type().String(),
				SourceType: td.Type,
				TargetType: r.Type(),
				Msg:        fmt.Sprintf("root instance %d", pass),
			}
		}
		root.instances = append(root.instances, inst)
		root.matchPass = pass
		clear(b.path)
		b.enter(inst, r)
		b.mergeChildren(root, r, pass)
		b.leave(inst, r)
	}

	h.fixupEditData(root, nil)
	h.built = len(h.nodes)
	h.debug("built", slog.Int("nodes", len(h.nodes)), slog.Int("roots", len(h.rootInstances)))
	return h.RefreshComparisonData()
}

func (b *builder) createChildren(n *Node, resolved reflect.Value) {
	if n.IsLeaf() {
		return
	}
	for f := range b.ctx.Fields(resolved, n.class, b.flags) {
		b.createNode(n, f)
	}
}

func (b *builder) createNode(parent *Node, f rtti.Field) {
	r := resolve(b.ctx, f.Value)
	if !r.IsValid() {
		return
	}
	if !b.enter(f.Value, r) {
		b.h.debug("cycle", nodeAttr("parent", parent), slog.String("field", f.Desc.Name))
		return
	}
	defer b.leave(f.Value, r)

	td := b.ctx.Describe(r.Type())
	n := b.h.newNode(parent.id)
	n.identifier = b.identify(parent, f, td)
	n.instances = []reflect.Value{f.Value}
	if f.Key.IsValid() {
		n.keys = []reflect.Value{f.Key}
	}
	n.class = td
	n.element = f.Desc
	n.edit = b.editData(r, td, f.Desc)
	b.createChildren(n, r)
}

// identify computes an identifier unique among the children of parent.
// Synthetic element ids (type name + ordinal) are not checked for
// collisions.
func (b *builder) identify(parent *Node, f rtti.Field, td *rtti.TypeDescriptor) uint64 {
	if !parent.IsContainer() {
		return f.Desc.NameHash
	}
	if pid := parent.class.Container.PersistentID(); pid != nil {
		if id, ok := pid(rtti.Element{Value: f.Value, Key: f.Key, Ordinal: f.Ordinal}); ok {
			return id
		}
	}
	return rtti.SyntheticID(td.Name, f.Ordinal)
}

func (b *builder) editData(v reflect.Value, td *rtti.TypeDescriptor, fd *rtti.FieldDescriptor) *rtti.EditMetadata {
	if b.provider != nil {
		if em := b.provider(v, td, fd); em != nil {
			return em
		}
	}
	if fd != nil {
		return fd.Edit
	}
	return nil
}

// mergeChildren appends the fields of resolved, the value of root instance
// number pass, to the matching children of n. Fields without a match are
// rejected along with their subtrees, and children that found no match in
// this pass are pruned.
func (b *builder) mergeChildren(n *Node, resolved reflect.Value, pass int) {
	if n.IsLeaf() {
		return
	}
	for f := range b.ctx.Fields(resolved, n.class, b.flags) {
		r := resolve(b.ctx, f.Value)
		if !r.IsValid() {
			continue
		}
		match := b.findUnmatched(n, r.Type(), f.Desc, pass)
		if match == nil {
			b.h.debug("merge rejected", nodeAttr("parent", n), slog.String("field", f.Desc.Name), slog.Int("pass", pass))
			continue
		}
		if !b.enter(f.Value, r) {
			continue
		}
		match.instances = append(match.instances, f.Value)
		if match.keys != nil {
			match.keys = append(match.keys, f.Key)
		}
		match.matchPass = pass
		b.mergeChildren(match, r, pass)
		b.leave(f.Value, r)
	}

	kept := make([]NodeID, 0, len(n.children))
	for _, id := range n.children {
		c := b.h.nodes[id]
		if c.matchPass == pass {
			kept = append(kept, id)
		} else {
			b.h.debug("merge pruned", nodeAttr("node", c), slog.Int("pass", pass))
			c.detach()
		}
	}
	n.children = kept
}

func (b *builder) findUnmatched(n *Node, typ reflect.Type, fd *rtti.FieldDescriptor, pass int) *Node {
	for _, id := range n.children {
		c := b.h.nodes[id]
		if c.matchPass >= pass {
			continue
		}
		if c.class.Type == typ && c.element.NameHash == fd.NameHash && c.element.Edit == fd.Edit {
			return c
		}
	}
	return nil
}

func (b *builder) enter(storage, resolved reflect.Value) bool {
	if !holdsPointer(storage) || !resolved.CanAddr() {
		return true
	}
	v := visit{resolved.Addr().UnsafePointer(), resolved.Type()}
	if b.path[v] {
		return false
	}
	b.path[v] = true
	return true
}

func (b *builder) leave(storage, resolved reflect.Value) {
	if !holdsPointer(storage) || !resolved.CanAddr() {
		return
	}
	delete(b.path, visit{resolved.Addr().UnsafePointer(), resolved.Type()})
}

// fixupEditData applies inheritable edit attributes of ancestors.
func (h *Hierarchy) fixupEditData(n *Node, parent *rtti.EditMetadata) {
	n.edit = rtti.MergeEditMetadata(parent, n.edit)
	for _, id := range n.children {
		h.fixupEditData(h.nodes[id], n.edit)
	}
}

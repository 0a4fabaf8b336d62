package instdata

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"

	"github.com/andreyvit/instdata/rtti"
)

type CopyOptions struct {
	// Filter restricts the copy to the source node with this address and its
	// subtree. Sibling subtrees along the way are left untouched.
	Filter Address

	// OnRemove is called for each target node whose value was removed.
	OnRemove func(target *Node)

	// OnAdd is called for each source node whose value was added to the
	// target.
	OnAdd func(source *Node)
}

type copier struct {
	h     *Hierarchy
	ctx   rtti.Context
	codec rtti.Codec
	opt   CopyOptions
}

// CopyInstanceData writes the values of source, usually a node of a
// comparison hierarchy, into every instance of target. Containers get
// elements removed and added to match the source. The target hierarchy
// must be rebuilt afterwards.
//
// Copying is not transactional: on error, the parts copied so far stay in
// place.
func CopyInstanceData(source, target *Node, opt CopyOptions) error {
	if source == nil || target == nil {
		panic("instdata: CopyInstanceData with nil node")
	}
	ctx := target.h.ctx
	c := &copier{
		h:     target.h,
		ctx:   ctx,
		codec: ctx.Codec(),
		opt:   opt,
	}
	err := c.copyNode(source, target, opt.Filter)
	if err != nil {
		c.h.debug("copy failed", nodeAttr("target", target), slog.Any("err", err))
	}
	return err
}

func (c *copier) copyNode(s, t *Node, filter Address) error {
	if s.TypeID() != t.TypeID() {
		return mismatchErr(s, t)
	}
	if filter != nil && s.ComputeAddress().Equal(filter) {
		filter = nil
	}
	t.beginWrite()
	defer t.endWrite()
	switch {
	case t.IsLeaf() || t.storesValueInInterface():
		return c.copyWhole(s, t)
	case t.IsContainer():
		return c.copyContainer(s, t, filter)
	default:
		return c.copyObject(s, t, filter)
	}
}

// storesValueInInterface reports whether some instance is a non-pointer value
// held by an interface. Such values cannot be modified in place and are
// replaced as a whole.
func (n *Node) storesValueInInterface() bool {
	for _, storage := range n.instances {
		if storage.Kind() == reflect.Interface && !storage.IsNil() && storage.Elem().Kind() != reflect.Pointer {
			return true
		}
	}
	return false
}

func (c *copier) encode(s *Node) ([]byte, error) {
	v := s.FirstInstance()
	if !v.IsValid() {
		return nil, fmt.Errorf("%v: %w", s, ErrInvalidInstance)
	}
	return c.codec.Encode(v)
}

func (c *copier) copyWhole(s, t *Node) error {
	if !s.FirstInstance().IsValid() {
		return nil
	}
	raw, err := c.encode(s)
	if err != nil {
		return fmt.Errorf("%v: %w", s, err)
	}
	for i, storage := range t.instances {
		dst := t.ResolveInstance(i)
		if !dst.IsValid() {
			continue
		}
		fresh := reflect.New(dst.Type()).Elem()
		if err := c.codec.Decode(raw, fresh); err != nil {
			return fmt.Errorf("%v: %w", t, err)
		}
		switch {
		case dst.CanSet():
			dst.Set(fresh)
		case storage.Kind() == reflect.Interface && storage.CanSet():
			storage.Set(fresh)
		default:
			return fmt.Errorf("%v[instance %d]: %w", t, i, rtti.ErrNotSettable)
		}
	}
	c.h.debug("copied", nodeAttr("node", t), slog.Int("bytes", len(raw)))
	return nil
}

func (c *copier) copyObject(s, t *Node, filter Address) error {
	for _, sc := range s.Children() {
		tc := t.findChild(sc.identifier)
		if !visible(sc, filter) && (tc == nil || !visible(tc, filter)) {
			continue
		}
		if tc != nil {
			if err := c.copyNode(sc, tc, filter); err != nil {
				return err
			}
			continue
		}
		// nil in target
		if err := c.setField(t, sc); err != nil {
			return err
		}
	}
	for _, tc := range t.Children() {
		if tc.IsRemoved() || s.findChild(tc.identifier) != nil || !visible(tc, filter) {
			continue
		}
		// nil in source
		if err := c.clearField(t, tc); err != nil {
			return err
		}
	}
	return nil
}

// visible reports whether filter passes through n. Target-side checks cover
// filters that name nodes only present in the target.
func visible(n *Node, filter Address) bool {
	return filter == nil || n.MatchesDescendantAddress(filter)
}

func (c *copier) setField(t, sc *Node) error {
	if sc.element == nil || sc.element.Index == nil {
		return nil
	}
	raw, err := c.encode(sc)
	if err != nil {
		return err
	}
	for i := range t.instances {
		pv := t.ResolveInstance(i)
		if !pv.IsValid() {
			continue
		}
		fv := pv.FieldByIndex(sc.element.Index)
		if !fv.CanSet() {
			return fmt.Errorf("%v.%s[instance %d]: %w", t, sc.element.Name, i, rtti.ErrNotSettable)
		}
		if err := c.materialize(fv, sc, raw); err != nil {
			return elementErrf(t, i, sc.TypeID(), err)
		}
	}
	if c.opt.OnAdd != nil {
		c.opt.OnAdd(sc)
	}
	return nil
}

func (c *copier) clearField(t, tc *Node) error {
	if tc.element == nil || tc.element.Index == nil {
		return nil
	}
	for i := range t.instances {
		pv := t.ResolveInstance(i)
		if !pv.IsValid() {
			continue
		}
		fv := pv.FieldByIndex(tc.element.Index)
		if !fv.CanSet() {
			return fmt.Errorf("%v[instance %d]: %w", tc, i, rtti.ErrNotSettable)
		}
		fv.SetZero()
	}
	t.detachChild(tc)
	if c.opt.OnRemove != nil {
		c.opt.OnRemove(tc)
	}
	return nil
}

// copyContainer matches elements by identifier. Removals and additions are
// applied after the matched elements were copied, so that slice storage
// referenced by the tree is neither shifted nor reallocated mid-copy.
func (c *copier) copyContainer(s, t *Node, filter Address) error {
	cont := t.class.Container

	var removed []*Node
	for _, tc := range t.Children() {
		if tc.IsRemoved() || s.findChild(tc.identifier) != nil || !visible(tc, filter) {
			continue
		}
		removed = append(removed, tc)
	}
	var added []*Node
	for _, sc := range s.Children() {
		if sc.IsRemoved() || !visible(sc, filter) {
			continue
		}
		if t.findChild(sc.identifier) == nil {
			added = append(added, sc)
		}
	}
	if (len(removed) > 0 || len(added) > 0) && !cont.Resizable() {
		return fmt.Errorf("%v: %w", t, rtti.ErrFixedSize)
	}
	for _, tc := range removed {
		t.detachChild(tc)
	}

	for _, sc := range s.Children() {
		if sc.IsRemoved() {
			continue
		}
		tc := t.findChild(sc.identifier)
		if tc == nil || (!visible(sc, filter) && !visible(tc, filter)) {
			continue
		}
		if err := c.copyNode(sc, tc, filter); err != nil {
			return err
		}
		if cont.Associative() {
			for i, elem := range tc.instances {
				if cv := t.ResolveInstance(i); cv.IsValid() {
					cont.Store(cv, tc.keys[i], elem)
				}
			}
		}
	}

	if len(removed) > 0 {
		for i := range t.instances {
			cv := t.ResolveInstance(i)
			if !cv.IsValid() {
				continue
			}
			elems := make([]rtti.Element, 0, len(removed))
			for _, tc := range removed {
				elems = append(elems, rtti.Element{Value: tc.instances[i], Key: tc.Key(i)})
			}
			slices.SortFunc(elems, func(a, b rtti.Element) int {
				return cmp.Compare(elementAddr(b), elementAddr(a))
			})
			for _, e := range elems {
				if !cont.Remove(cv, e) {
					c.h.debug("remove missed", nodeAttr("node", t), slog.Int("instance", i))
				}
			}
		}
		for _, tc := range removed {
			c.h.debug("removed element", nodeAttr("node", tc))
			if c.opt.OnRemove != nil {
				c.opt.OnRemove(tc)
			}
		}
	}

	for _, sc := range added {
		raw, err := c.encode(sc)
		if err != nil {
			return err
		}
		for i := range t.instances {
			cv := t.ResolveInstance(i)
			if !cv.IsValid() {
				continue
			}
			slot := cont.Reserve(cv)
			if err := c.materialize(slot, sc, raw); err != nil {
				return elementErrf(t, i, sc.TypeID(), err)
			}
			var key reflect.Value
			if cont.Associative() {
				key = sc.Key(0)
			}
			cont.Store(cv, key, slot)
		}
		c.h.debug("added element", nodeAttr("node", t), slog.String("source", sc.String()))
		if c.opt.OnAdd != nil {
			c.opt.OnAdd(sc)
		}
	}
	return nil
}

func elementAddr(e rtti.Element) uintptr {
	if e.Value.CanAddr() {
		return e.Value.UnsafeAddr()
	}
	return 0
}

// materialize decodes raw, the encoded value of src, into the empty storage
// slot. Pointer and interface slots get a newly constructed value of the
// source's dynamic type.
func (c *copier) materialize(slot reflect.Value, src *Node, raw []byte) error {
	declared := slot.Type()
	dyn := src.TypeID()
	switch declared.Kind() {
	case reflect.Pointer:
		p, err := c.construct(dyn, raw)
		if err != nil {
			return err
		}
		slot.Set(p)
	case reflect.Interface:
		var v reflect.Value
		if holdsPointer(src.instances[0]) {
			p, err := c.construct(dyn, raw)
			if err != nil {
				return err
			}
			v = p
		} else {
			v = reflect.New(dyn).Elem()
			if err := c.codec.Decode(raw, v); err != nil {
				return err
			}
		}
		iv, ok := c.ctx.TryDowncast(v, declared)
		if !ok {
			return fmt.Errorf("%v is not %v: %w", v.Type(), declared, ErrTypeNotResolved)
		}
		slot.Set(iv)
	default:
		return c.codec.Decode(raw, slot)
	}
	return nil
}

func (c *copier) construct(t reflect.Type, raw []byte) (reflect.Value, error) {
	p, err := c.ctx.Construct(t)
	if err != nil {
		return reflect.Value{}, errors.Join(ErrTypeNotResolved, err)
	}
	if err := c.codec.Decode(raw, p.Elem()); err != nil {
		return reflect.Value{}, err
	}
	return p, nil
}

package instdata

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/andreyvit/instdata/rtti"
)

// SelectTypeFunc picks the concrete type of a new element from the types
// that can be stored in a field of type base. Returning false cancels the
// operation.
type SelectTypeFunc func(base reflect.Type, candidates []reflect.Type) (reflect.Type, bool)

// FillValueFunc populates a new element before it is stored. The elem value
// is settable and already carries defaults. For map containers key is the
// settable key storage; the callback must set it and return true, or the
// element is not created.
type FillValueFunc func(elem, key reflect.Value, fd *rtti.FieldDescriptor) bool

// CreateContainerElement appends one new element to the container of every
// root instance of n. Pointer and interface elements get a concrete type via
// selectType (not needed when only one type is possible); elements of type
// any get the type named by the elemtype edit attribute of the container
// field. Plain values start as zero values with defaults applied.
//
// A failure for instance k leaves the elements already created for
// instances 0..k-1 in place.
func (n *Node) CreateContainerElement(selectType SelectTypeFunc, fill FillValueFunc) error {
	if !n.IsContainer() {
		panic(fmt.Errorf("instdata: CreateContainerElement on non-container node %v", n))
	}
	cont := n.class.Container
	if !cont.Resizable() {
		panic(fmt.Errorf("instdata: CreateContainerElement on %v: %w", n, rtti.ErrFixedSize))
	}
	ctx := n.h.ctx
	ef := cont.ElementField()

	var payload reflect.Type
	switch {
	case ef.Pointer:
		candidates := ctx.DerivedTypes(ef.Type)
		switch {
		case selectType != nil:
			t, ok := selectType(ef.Type, candidates)
			if !ok {
				return elementErrf(n, 0, ef.Type, ErrCancelled)
			}
			payload = t
		case len(candidates) == 1:
			payload = candidates[0]
		}
	case ef.Dynamic:
		if name := n.elemTypeName(); name != "" {
			payload = ctx.TypeByName(name)
		}
	}
	if (ef.Pointer || ef.Dynamic) && payload == nil {
		return elementErrf(n, 0, ef.Type, ErrTypeNotResolved)
	}

	for i := range n.instances {
		cv := n.ResolveInstance(i)
		if !cv.IsValid() {
			return elementErrf(n, i, ef.Type, ErrInvalidInstance)
		}
		// A container held by value in an interface is grown on a copy that
		// is stored back afterwards.
		var writeBack reflect.Value
		if !cv.CanSet() {
			storage := n.instances[i]
			if storage.Kind() != reflect.Interface || !storage.CanSet() {
				return elementErrf(n, i, ef.Type, rtti.ErrNotSettable)
			}
			c := reflect.New(cv.Type()).Elem()
			c.Set(cv)
			cv, writeBack = c, storage
		}
		slot := cont.Reserve(cv)
		value, err := n.newElementValue(ctx, ef, payload, slot)
		if err != nil {
			return elementErrf(n, i, payload, err)
		}
		rtti.ApplyDefaults(value)

		var key reflect.Value
		if cont.Associative() {
			key = reflect.New(cont.KeyType()).Elem()
		}
		filled := fill != nil && fill(value, key, ef)
		if cont.Associative() {
			if !filled {
				return elementErrf(n, i, ef.Type, ErrNoDefaultValue)
			}
			if !cv.IsNil() && cv.MapIndex(key).IsValid() {
				return elementErrf(n, i, ef.Type, fmt.Errorf("%v: %w", key, ErrDuplicateKey))
			}
		}
		if ef.Dynamic && !holdsPointer(slot) {
			// by-value payloads were filled through a copy
			slot.Set(value)
		}

		n.beginWrite()
		cont.Store(cv, key, slot)
		if writeBack.IsValid() {
			writeBack.Set(cv)
		}
		n.endWrite()
		n.h.debug("element created", nodeAttr("node", n), slog.Int("instance", i), slog.Any("type", payload))
	}
	return nil
}

// newElementValue stores a new value of the payload type into slot and
// returns the settable value to populate.
func (n *Node) newElementValue(ctx rtti.Context, ef *rtti.FieldDescriptor, payload reflect.Type, slot reflect.Value) (reflect.Value, error) {
	switch {
	case ef.Pointer:
		p, err := ctx.Construct(payload)
		if err != nil {
			return reflect.Value{}, errors.Join(ErrTypeNotResolved, err)
		}
		v, ok := ctx.TryDowncast(p, ef.Type)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%v is not %v: %w", p.Type(), ef.Type, ErrTypeNotResolved)
		}
		slot.Set(v)
		return p.Elem(), nil
	case ef.Dynamic:
		p, err := ctx.Construct(payload)
		if err != nil {
			return reflect.Value{}, errors.Join(ErrTypeNotResolved, err)
		}
		// Leaf payloads are wrapped by value, everything else by pointer so
		// that it stays editable in place.
		if ctx.Describe(payload).IsLeaf() {
			slot.Set(p.Elem())
		} else {
			slot.Set(p)
		}
		return p.Elem(), nil
	default:
		return slot, nil
	}
}

func (n *Node) elemTypeName() string {
	if n.edit != nil && n.edit.ElemType != "" {
		return n.edit.ElemType
	}
	if n.element != nil && n.element.Edit != nil {
		return n.element.Edit.ElemType
	}
	return ""
}

package rtti

import (
	"bytes"
	"fmt"
	"iter"
	"reflect"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Element is one container element: its storage, map key (associative
// containers only) and position.
type Element struct {
	Value   reflect.Value
	Key     reflect.Value
	Ordinal int
}

// PersistentIDFunc maps an element to a position independent identity. The
// boolean result is false when the element has none.
type PersistentIDFunc func(e Element) (uint64, bool)

// Container is the set of operations on a slice, array or map value. The c
// argument is always the resolved container value; mutating operations
// require it to be settable.
type Container interface {
	ElementField() *FieldDescriptor
	Associative() bool
	KeyType() reflect.Type
	Resizable() bool

	// Elements enumerates the elements in a deterministic order.
	Elements(c reflect.Value) iter.Seq[Element]

	// Reserve returns fresh addressable storage for a new element. It is
	// not part of the container until Store is called.
	Reserve(c reflect.Value) reflect.Value

	// Store commits elem into the container; key is used by associative
	// containers and ignored otherwise.
	Store(c reflect.Value, key, elem reflect.Value)

	// Remove deletes the element previously returned by Elements.
	Remove(c reflect.Value, e Element) bool

	PersistentID() PersistentIDFunc
}

type sliceContainer struct {
	elem *FieldDescriptor
	pid  PersistentIDFunc
}

func (sc *sliceContainer) ElementField() *FieldDescriptor { return sc.elem }
func (sc *sliceContainer) Associative() bool              { return false }
func (sc *sliceContainer) KeyType() reflect.Type          { return nil }
func (sc *sliceContainer) Resizable() bool                { return true }
func (sc *sliceContainer) PersistentID() PersistentIDFunc { return sc.pid }

func (sc *sliceContainer) Elements(c reflect.Value) iter.Seq[Element] {
	return func(yield func(Element) bool) {
		n := c.Len()
		for i := 0; i < n; i++ {
			if !yield(Element{Value: c.Index(i), Ordinal: i}) {
				return
			}
		}
	}
}

func (sc *sliceContainer) Reserve(c reflect.Value) reflect.Value {
	return reflect.New(sc.elem.Type).Elem()
}

func (sc *sliceContainer) Store(c reflect.Value, key, elem reflect.Value) {
	if !c.CanSet() {
		panic(fmt.Errorf("rtti: cannot append to unsettable %v", c.Type()))
	}
	c.Set(reflect.Append(c, elem))
}

func (sc *sliceContainer) Remove(c reflect.Value, e Element) bool {
	i := sliceIndexOf(c, e)
	if i < 0 {
		return false
	}
	n := c.Len()
	reflect.Copy(c.Slice(i, n), c.Slice(i+1, n))
	c.Index(n - 1).SetZero()
	c.SetLen(n - 1)
	return true
}

// sliceIndexOf locates the element by address, so that it stays correct
// after elements above it were removed.
func sliceIndexOf(c reflect.Value, e Element) int {
	n := c.Len()
	if n == 0 {
		return -1
	}
	if e.Value.CanAddr() {
		size := c.Type().Elem().Size()
		if size == 0 {
			return min(e.Ordinal, n-1)
		}
		base := c.Index(0).UnsafeAddr()
		addr := e.Value.UnsafeAddr()
		if addr >= base {
			i := int((addr - base) / size)
			if i < n {
				return i
			}
		}
		return -1
	}
	if e.Ordinal < n {
		return e.Ordinal
	}
	return -1
}

type arrayContainer struct {
	elem *FieldDescriptor
}

func (ac *arrayContainer) ElementField() *FieldDescriptor { return ac.elem }
func (ac *arrayContainer) Associative() bool              { return false }
func (ac *arrayContainer) KeyType() reflect.Type          { return nil }
func (ac *arrayContainer) Resizable() bool                { return false }
func (ac *arrayContainer) PersistentID() PersistentIDFunc { return nil }

func (ac *arrayContainer) Elements(c reflect.Value) iter.Seq[Element] {
	return func(yield func(Element) bool) {
		for i := 0; i < c.Len(); i++ {
			if !yield(Element{Value: c.Index(i), Ordinal: i}) {
				return
			}
		}
	}
}

func (ac *arrayContainer) Reserve(c reflect.Value) reflect.Value {
	panic(fmt.Errorf("rtti: %v: %w", c.Type(), ErrFixedSize))
}

func (ac *arrayContainer) Store(c reflect.Value, key, elem reflect.Value) {
	panic(fmt.Errorf("rtti: %v: %w", c.Type(), ErrFixedSize))
}

func (ac *arrayContainer) Remove(c reflect.Value, e Element) bool {
	panic(fmt.Errorf("rtti: %v: %w", c.Type(), ErrFixedSize))
}

type mapContainer struct {
	elem    *FieldDescriptor
	keyType reflect.Type
	codec   Codec
}

func (mc *mapContainer) ElementField() *FieldDescriptor { return mc.elem }
func (mc *mapContainer) Associative() bool              { return true }
func (mc *mapContainer) KeyType() reflect.Type          { return mc.keyType }
func (mc *mapContainer) Resizable() bool                { return true }

func (mc *mapContainer) PersistentID() PersistentIDFunc {
	return func(e Element) (uint64, bool) {
		raw, err := mc.codec.Encode(e.Key)
		if err != nil {
			return 0, false
		}
		return xxhash.Sum64(raw), true
	}
}

type mapEntry struct {
	key reflect.Value
	raw []byte
}

// Elements yields addressable copies of the map values, ordered by encoded
// key. Changes to a copy reach the map only through Store.
func (mc *mapContainer) Elements(c reflect.Value) iter.Seq[Element] {
	return func(yield func(Element) bool) {
		if c.Len() == 0 {
			return
		}
		entries := make([]mapEntry, 0, c.Len())
		for _, k := range c.MapKeys() {
			raw, err := mc.codec.Encode(k)
			if err != nil {
				raw = []byte(fmt.Sprint(k.Interface()))
			}
			entries = append(entries, mapEntry{k, raw})
		}
		slices.SortFunc(entries, func(a, b mapEntry) int {
			return bytes.Compare(a.raw, b.raw)
		})
		for i, ent := range entries {
			v := reflect.New(mc.elem.Type).Elem()
			v.Set(c.MapIndex(ent.key))
			if !yield(Element{Value: v, Key: ent.key, Ordinal: i}) {
				return
			}
		}
	}
}

func (mc *mapContainer) Reserve(c reflect.Value) reflect.Value {
	return reflect.New(mc.elem.Type).Elem()
}

func (mc *mapContainer) Store(c reflect.Value, key, elem reflect.Value) {
	if c.IsNil() {
		if !c.CanSet() {
			panic(fmt.Errorf("rtti: cannot allocate unsettable %v", c.Type()))
		}
		c.Set(reflect.MakeMap(c.Type()))
	}
	c.SetMapIndex(key, elem)
}

func (mc *mapContainer) Remove(c reflect.Value, e Element) bool {
	if c.IsNil() || !c.MapIndex(e.Key).IsValid() {
		return false
	}
	c.SetMapIndex(e.Key, reflect.Value{})
	return true
}

func elementFieldName(kind reflect.Kind) string {
	switch kind {
	case reflect.Map:
		return "value"
	default:
		return "element"
	}
}

// SyntheticID is the identifier of an element without a persistent id.
func SyntheticID(typeName string, ordinal int) uint64 {
	return xxhash.Sum64String(typeName + strconv.Itoa(ordinal))
}

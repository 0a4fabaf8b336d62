package rtti

import (
	"reflect"

	"github.com/cespare/xxhash/v2"
)

type AccessFlags uint64

const (
	AccessForRead = AccessFlags(1 << iota)
	AccessForWrite
	AccessIncludeHidden

	AccessDefault = AccessForRead
)

func (f AccessFlags) Contains(v AccessFlags) bool {
	return (f & v) == v
}

// TypeDescriptor is the class data of a single Go type. Descriptors are
// cached by Registry and must not be modified by callers.
type TypeDescriptor struct {
	Type reflect.Type
	Name string

	// Fields lists the enumerable struct fields; nil for other kinds.
	Fields []*FieldDescriptor

	// Container is non-nil for slices, arrays and maps.
	Container Container

	// Serializer is non-nil for leaf values.
	Serializer Serializer

	Factory Factory
	Events  EventHandler

	// Component values are indivisible edit units: a New component is not
	// decomposed into New children.
	Component bool
}

func (td *TypeDescriptor) String() string {
	return td.Name
}

func (td *TypeDescriptor) IsLeaf() bool {
	return td.Serializer != nil
}

// FieldDescriptor is the element data of a struct field or of a container's
// elements.
type FieldDescriptor struct {
	Name     string
	NameHash uint64

	// Type is the declared type, which may be a pointer or an interface.
	Type reflect.Type

	// Index is the struct field index; nil for container elements.
	Index []int

	// Edit holds the static edit metadata; nil when the field carries none.
	Edit *EditMetadata

	// Pointer is set when the declared type is a pointer or a non-empty
	// interface, so the field stores a reference to a separately
	// constructed value.
	Pointer bool

	// Dynamic is set for empty-interface fields whose payload type is only
	// known at runtime.
	Dynamic bool
}

func newFieldDescriptor(name string, typ reflect.Type, index []int, edit *EditMetadata) *FieldDescriptor {
	fd := &FieldDescriptor{
		Name:     name,
		NameHash: xxhash.Sum64String(name),
		Type:     typ,
		Index:    index,
		Edit:     edit,
	}
	switch typ.Kind() {
	case reflect.Pointer:
		fd.Pointer = true
	case reflect.Interface:
		if typ.NumMethod() == 0 {
			fd.Dynamic = true
		} else {
			fd.Pointer = true
		}
	}
	return fd
}

func (fd *FieldDescriptor) String() string {
	return fd.Name
}

func (fd *FieldDescriptor) IsHidden() bool {
	return fd.Edit != nil && fd.Edit.Hidden
}

func (fd *FieldDescriptor) IsReadOnly() bool {
	return fd.Edit != nil && fd.Edit.ReadOnly
}

// Field is a single enumerated field or container element of a value.
type Field struct {
	// Value is the field storage. It is addressable whenever the parent
	// value is; map elements are addressable copies.
	Value reflect.Value

	// Key is the map key of an associative element.
	Key reflect.Value

	Desc    *FieldDescriptor
	Ordinal int
}

// Serializer marks a leaf type and compares two of its values.
type Serializer interface {
	Equal(a, b reflect.Value) bool
}

// Factory returns a pointer to a newly constructed value.
type Factory func() reflect.Value

// EventHandler receives paired notifications around writes to a value.
type EventHandler interface {
	BeginWrite(v reflect.Value)
	EndWrite(v reflect.Value)
}

// WriteNotifier can be implemented by a pointer receiver to get write
// notifications without registering an EventHandler.
type WriteNotifier interface {
	BeginWrite()
	EndWrite()
}

// PersistentIDer is implemented by element types that have a position
// independent identity.
type PersistentIDer interface {
	PersistentID() uint64
}

// Defaulter is implemented by pointer receivers that populate default values
// of a newly created container element.
type Defaulter interface {
	SetDefaults()
}

type notifierEvents struct{}

func (notifierEvents) BeginWrite(v reflect.Value) {
	if wn, ok := asPointerTo[WriteNotifier](v); ok {
		wn.BeginWrite()
	}
}

func (notifierEvents) EndWrite(v reflect.Value) {
	if wn, ok := asPointerTo[WriteNotifier](v); ok {
		wn.EndWrite()
	}
}

func asPointerTo[I any](v reflect.Value) (I, bool) {
	var zero I
	if !v.IsValid() {
		return zero, false
	}
	if v.CanAddr() {
		if i, ok := v.Addr().Interface().(I); ok {
			return i, true
		}
	}
	if v.CanInterface() {
		if i, ok := v.Interface().(I); ok {
			return i, true
		}
	}
	return zero, false
}

// ApplyDefaults calls SetDefaults on v if its type supports it.
func ApplyDefaults(v reflect.Value) {
	if d, ok := asPointerTo[Defaulter](v); ok {
		d.SetDefaults()
	}
}

package rtti

import (
	"encoding"
	"fmt"
	"iter"
	"reflect"
	"sync"
)

// Context is the reflection capability consumed by the instance data
// hierarchy. Registry is the standard implementation.
type Context interface {
	Describe(t reflect.Type) *TypeDescriptor

	// Fields enumerates the children of a resolved struct or container value.
	// Nil pointer and nil interface fields are skipped.
	Fields(v reflect.Value, td *TypeDescriptor, flags AccessFlags) iter.Seq[Field]

	// TryDowncast converts v to type to, unwrapping interfaces or wrapping
	// into an interface type as needed.
	TryDowncast(v reflect.Value, to reflect.Type) (reflect.Value, bool)

	// DerivedTypes lists the concrete types that can be stored in a field
	// of declared type t.
	DerivedTypes(t reflect.Type) []reflect.Type

	TypeByName(name string) reflect.Type

	// Construct returns a pointer to a new value of concrete type t.
	Construct(t reflect.Type) (reflect.Value, error)

	Codec() Codec
}

type RegistryOptions struct {
	Codec   Codec
	TagName string
}

type Registry struct {
	codec   Codec
	tagName string

	cache sync.Map // reflect.Type -> *TypeDescriptor

	mu         sync.RWMutex
	types      []reflect.Type
	byName     map[string]reflect.Type
	factories  map[reflect.Type]Factory
	pids       map[reflect.Type]PersistentIDFunc
	events     map[reflect.Type]EventHandler
	components map[reflect.Type]bool
	leaves     map[reflect.Type]bool
}

var _ Context = (*Registry)(nil)

var (
	binaryMarshalerType = reflect.TypeFor[encoding.BinaryMarshaler]()
	textMarshalerType   = reflect.TypeFor[encoding.TextMarshaler]()
	pidType             = reflect.TypeFor[PersistentIDer]()
	notifierType        = reflect.TypeFor[WriteNotifier]()
)

func NewRegistry(opt RegistryOptions) *Registry {
	if opt.Codec == nil {
		opt.Codec = MsgpackCodec{}
	}
	if opt.TagName == "" {
		opt.TagName = DefaultTagName
	}
	return &Registry{
		codec:      opt.Codec,
		tagName:    opt.TagName,
		byName:     make(map[string]reflect.Type),
		factories:  make(map[reflect.Type]Factory),
		pids:       make(map[reflect.Type]PersistentIDFunc),
		events:     make(map[reflect.Type]EventHandler),
		components: make(map[reflect.Type]bool),
		leaves:     make(map[reflect.Type]bool),
	}
}

func (r *Registry) Codec() Codec {
	return r.codec
}

// Register makes the types of the given sample values known by name and as
// candidates for DerivedTypes. Pointer samples register their element type.
func (r *Registry) Register(samples ...any) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range samples {
		t := reflect.TypeOf(s)
		if t == nil {
			panic("rtti: Register(nil)")
		}
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		r.registerTypeLocked(t)
	}
	r.cache.Clear()
	return r
}

func (r *Registry) registerTypeLocked(t reflect.Type) {
	if _, ok := r.byName[t.String()]; ok {
		return
	}
	r.types = append(r.types, t)
	r.byName[t.String()] = t
	if t.Name() != "" {
		if _, taken := r.byName[t.Name()]; !taken {
			r.byName[t.Name()] = t
		}
	}
}

func (r *Registry) RegisterFactory(t reflect.Type, f Factory) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerTypeLocked(t)
	r.factories[t] = f
	r.cache.Clear()
	return r
}

// RegisterPersistentID sets the identity functor used for container
// elements of type t (the declared element type).
func (r *Registry) RegisterPersistentID(t reflect.Type, f PersistentIDFunc) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pids[t] = f
	r.cache.Clear()
	return r
}

func (r *Registry) RegisterEvents(t reflect.Type, h EventHandler) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[t] = h
	r.cache.Clear()
	return r
}

func (r *Registry) RegisterComponent(samples ...any) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range samples {
		t := reflect.TypeOf(s)
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		r.registerTypeLocked(t)
		r.components[t] = true
	}
	r.cache.Clear()
	return r
}

// RegisterLeaf makes values of t indivisible: they are compared and copied
// as a whole through the codec.
func (r *Registry) RegisterLeaf(t reflect.Type) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaves[t] = true
	r.cache.Clear()
	return r
}

func (r *Registry) Describe(t reflect.Type) *TypeDescriptor {
	if v, ok := r.cache.Load(t); ok {
		return v.(*TypeDescriptor)
	}
	td := r.describeWithoutCache(t)
	actual, _ := r.cache.LoadOrStore(t, td)
	return actual.(*TypeDescriptor)
}

func (r *Registry) describeWithoutCache(t reflect.Type) *TypeDescriptor {
	if t == nil {
		panic("rtti: Describe(nil)")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	td := &TypeDescriptor{
		Type:      t,
		Name:      t.String(),
		Component: r.components[t],
	}
	if f := r.factories[t]; f != nil {
		td.Factory = f
	} else if t.Kind() != reflect.Interface {
		td.Factory = func() reflect.Value { return reflect.New(t) }
	}
	if h := r.events[t]; h != nil {
		td.Events = h
	} else if reflect.PointerTo(t).Implements(notifierType) {
		td.Events = notifierEvents{}
	}

	if r.isLeafLocked(t) {
		switch t.Kind() {
		case reflect.Struct, reflect.Array, reflect.Map, reflect.Interface, reflect.Pointer:
			td.Serializer = codecSerializer{r.codec}
		default:
			td.Serializer = scalarSerializer{}
		}
		return td
	}

	switch t.Kind() {
	case reflect.Struct:
		td.Fields = r.structFieldsLocked(t)
	case reflect.Slice:
		elem := newFieldDescriptor(elementFieldName(t.Kind()), t.Elem(), nil, nil)
		td.Container = &sliceContainer{elem: elem, pid: r.persistentIDLocked(t.Elem())}
	case reflect.Array:
		elem := newFieldDescriptor(elementFieldName(t.Kind()), t.Elem(), nil, nil)
		td.Container = &arrayContainer{elem: elem}
	case reflect.Map:
		elem := newFieldDescriptor(elementFieldName(t.Kind()), t.Elem(), nil, nil)
		td.Container = &mapContainer{elem: elem, keyType: t.Key(), codec: r.codec}
	}
	return td
}

func (r *Registry) isLeafLocked(t reflect.Type) bool {
	if r.leaves[t] {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.Uint8
	case reflect.Struct:
		pt := reflect.PointerTo(t)
		return t.Implements(binaryMarshalerType) || t.Implements(textMarshalerType) ||
			pt.Implements(binaryMarshalerType) || pt.Implements(textMarshalerType)
	}
	return false
}

func (r *Registry) structFieldsLocked(t reflect.Type) []*FieldDescriptor {
	var fields []*FieldDescriptor
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		edit, ok := parseEditTag(sf.Tag.Get(r.tagName))
		if !ok {
			continue
		}
		switch sf.Type.Kind() {
		case reflect.Func, reflect.Chan, reflect.UnsafePointer:
			continue
		}
		fields = append(fields, newFieldDescriptor(sf.Name, sf.Type, sf.Index, edit))
	}
	return fields
}

// persistentIDLocked returns the identity functor of slice elements of the
// declared type et, or nil.
func (r *Registry) persistentIDLocked(et reflect.Type) PersistentIDFunc {
	if f := r.pids[et]; f != nil {
		return f
	}
	identifiable := et.Kind() == reflect.Interface ||
		et.Implements(pidType) ||
		reflect.PointerTo(et).Implements(pidType)
	if !identifiable {
		return nil
	}
	return func(e Element) (uint64, bool) {
		if p, ok := asPointerTo[PersistentIDer](e.Value); ok && !isNilPointer(e.Value) {
			return p.PersistentID(), true
		}
		return 0, false
	}
}

func isNilPointer(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	}
	return false
}

func (r *Registry) Fields(v reflect.Value, td *TypeDescriptor, flags AccessFlags) iter.Seq[Field] {
	return func(yield func(Field) bool) {
		if !v.IsValid() || td == nil || td.Serializer != nil {
			return
		}
		if td.Container != nil {
			ef := td.Container.ElementField()
			for e := range td.Container.Elements(v) {
				if isNilPointer(e.Value) {
					continue
				}
				if !yield(Field{Value: e.Value, Key: e.Key, Desc: ef, Ordinal: e.Ordinal}) {
					return
				}
			}
			return
		}
		for i, fd := range td.Fields {
			if fd.IsHidden() && !flags.Contains(AccessIncludeHidden) {
				continue
			}
			if fd.IsReadOnly() && flags.Contains(AccessForWrite) {
				continue
			}
			fv := v.FieldByIndex(fd.Index)
			if isNilPointer(fv) {
				continue
			}
			if !yield(Field{Value: fv, Desc: fd, Ordinal: i}) {
				return
			}
		}
	}
}

func (r *Registry) TryDowncast(v reflect.Value, to reflect.Type) (reflect.Value, bool) {
	if !v.IsValid() {
		return reflect.Value{}, false
	}
	if v.Type() == to {
		return v, true
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		return r.TryDowncast(v.Elem(), to)
	}
	if to.Kind() == reflect.Interface {
		if !v.Type().Implements(to) {
			return reflect.Value{}, false
		}
		iv := reflect.New(to).Elem()
		iv.Set(v)
		return iv, true
	}
	return reflect.Value{}, false
}

func (r *Registry) DerivedTypes(t reflect.Type) []reflect.Type {
	switch t.Kind() {
	case reflect.Pointer:
		return []reflect.Type{t.Elem()}
	case reflect.Interface:
		r.mu.RLock()
		defer r.mu.RUnlock()
		var result []reflect.Type
		for _, ct := range r.types {
			if ct.Kind() == reflect.Interface {
				continue
			}
			if reflect.PointerTo(ct).Implements(t) {
				result = append(result, ct)
			}
		}
		return result
	default:
		return []reflect.Type{t}
	}
}

func (r *Registry) TypeByName(name string) reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t := r.byName[name]; t != nil {
		return t
	}
	return builtinTypes[name]
}

func (r *Registry) Construct(t reflect.Type) (reflect.Value, error) {
	if t == nil {
		return reflect.Value{}, ErrUnknownType
	}
	if t.Kind() == reflect.Interface {
		return reflect.Value{}, fmt.Errorf("%v: %w", t, ErrAbstractType)
	}
	td := r.Describe(t)
	p := td.Factory()
	if !p.IsValid() || p.Type() != reflect.PointerTo(t) {
		return reflect.Value{}, fmt.Errorf("%v: %w", t, ErrBadFactoryType)
	}
	return p, nil
}

var builtinTypes = map[string]reflect.Type{
	"bool":    reflect.TypeFor[bool](),
	"string":  reflect.TypeFor[string](),
	"int":     reflect.TypeFor[int](),
	"int8":    reflect.TypeFor[int8](),
	"int16":   reflect.TypeFor[int16](),
	"int32":   reflect.TypeFor[int32](),
	"int64":   reflect.TypeFor[int64](),
	"uint":    reflect.TypeFor[uint](),
	"uint8":   reflect.TypeFor[uint8](),
	"uint16":  reflect.TypeFor[uint16](),
	"uint32":  reflect.TypeFor[uint32](),
	"uint64":  reflect.TypeFor[uint64](),
	"float32": reflect.TypeFor[float32](),
	"float64": reflect.TypeFor[float64](),
	"[]byte":  reflect.TypeFor[[]byte](),
}

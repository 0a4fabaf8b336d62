/*
Package rtti describes live Go values for the instance data hierarchy.

It plays the role of the reflection service: given a reflect.Type it produces
a TypeDescriptor (fields, container operations, value serializer, factory,
write event handler), enumerates the fields of a value lazily, downcasts
interface values to their dynamic types and constructs new instances of
concrete types. Values are encoded with msgpack.

# Type descriptors

Structs are described by their exported fields, in declaration order. A field
tagged `edit:"-"` is skipped. Other edit attributes come from the same tag:

	type Light struct {
		Color     Color   `edit:"name=Light Color,group=Appearance"`
		Intensity float64 `edit:"readonly"`
		Params    []any   `edit:"elemtype=float64"`
	}

Slices, arrays and maps are containers. Basic kinds, []byte and types that
implement encoding.BinaryMarshaler or encoding.TextMarshaler are leaves: they
have a Serializer and no children.

# Element identity

Container elements are identified by a persistent id when one is available:
the element type implements PersistentIDer, a functor was registered with
RegisterPersistentID, or the container is a map (the id hashes the encoded
key). Arrays always use positional identity.
*/
package rtti

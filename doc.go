/*
Package instdata builds an editable tree over the reflected fields of live Go
values, for property editors and similar tools.

We implement:

1. Hierarchies of Nodes mirroring one root instance, or several root instances
of the same type at once (multi-object editing). A merged tree only keeps the
fields that every root instance has.

2. Comparison against baseline instances: nodes are flagged New, Differs, or
get a Removed placeholder.

3. Copying values from one node to another (usually from a baseline into the
edited objects), optionally limited to a single field.

4. Creation of container elements, including polymorphic ones.

Type knowledge comes from an rtti.Context; see package rtti.

# Technical Details

**Arena.**
A hierarchy owns all of its nodes in a single slice. Nodes refer to their
parent and children by NodeID. Build replaces the arena; nodes from an earlier
build are detached and must not be used.

**Identifiers.**
Every node has a 64-bit identifier unique among its siblings (xxhash):
1. Root: hash of the type name.
2. Struct field: hash of the field name.
3. Container element: persistent id of the element if its type has one
(PersistentIDer or a registered functor), hash of the encoded key for maps,
otherwise hash of the element type name and position.

Identifiers of positional elements are not checked for collisions.

**Addresses.**
An Address lists identifiers from a node up to the root. Because identifiers
only depend on field names, types and element identity, an address computed
before a rebuild finds the same logical node after it.

**Storage.**
Node instances are the field storage: struct fields, slice elements,
addressable copies of map values. Pointer and interface storage is resolved
on access. Changes to map value copies are committed back with
Container.Store.

**Copying.**
Leaves are encoded once with the context's Codec and decoded into every target
instance. Container removals and additions are staged and applied after the
matched elements were copied; slice removals run from the highest address
down.
*/
package instdata

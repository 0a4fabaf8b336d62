package instdata

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/andreyvit/instdata/rtti"
)

type (
	Doc struct {
		A int
		B []int
	}

	Vec struct {
		X, Y float64
	}

	Shape interface {
		Area() float64
	}

	Circle struct {
		R float64
	}

	Square struct {
		Side float64
	}

	Item struct {
		ID   uint64
		Name string
	}

	Settings struct {
		Level int
	}

	Scene struct {
		Title  string `edit:"name=Scene Title"`
		Secret string `edit:"hidden"`
		Origin *Vec
		Shapes []Shape
		Items  []Item
		Tags   map[string]int
		Params []any    `edit:"elemtype=float64"`
		Locked Settings `edit:"readonly"`
	}

	Link struct {
		Name string
		Next *Link
	}

	Holder struct {
		V any
	}
)

func (c *Circle) Area() float64      { return 3 * c.R * c.R }
func (s *Square) Area() float64      { return s.Side * s.Side }
func (it Item) PersistentID() uint64 { return it.ID }

func newRegistry() *rtti.Registry {
	return rtti.NewRegistry(rtti.RegistryOptions{}).Register(Circle{}, Square{})
}

func sampleScene() *Scene {
	return &Scene{
		Title:  "main",
		Secret: "s3cr3t",
		Origin: &Vec{1, 2},
		Shapes: []Shape{&Circle{R: 1}, &Square{Side: 2}},
		Items:  []Item{{1, "a"}, {2, "b"}, {3, "c"}},
		Tags:   map[string]int{"x": 1, "y": 2},
		Params: []any{0.5, 1.5},
		Locked: Settings{Level: 7},
	}
}

func build(t testing.TB, roots ...any) *Hierarchy {
	t.Helper()
	return buildWith(t, newRegistry(), roots...)
}

func buildWith(t testing.TB, reg *rtti.Registry, roots ...any) *Hierarchy {
	t.Helper()
	h := New(Options{})
	for _, r := range roots {
		h.AddRootInstance(r)
	}
	ensure(t, h.Build(reg, rtti.AccessDefault, nil))
	return h
}

// compareWith builds a hierarchy over target with source as its comparison
// instance.
func compareWith(t testing.TB, target, source any) *Hierarchy {
	t.Helper()
	h := New(Options{})
	h.AddRootInstance(target)
	h.AddComparisonInstance(source)
	ensure(t, h.Build(newRegistry(), rtti.AccessDefault, nil))
	return h
}

func child(t testing.TB, n *Node, name string) *Node {
	t.Helper()
	for _, c := range n.Children() {
		if c.ElementMetadata() != nil && c.ElementMetadata().Name == name {
			return c
		}
	}
	t.Fatalf("** %v has no child %q", n, name)
	return nil
}

func childNames(n *Node) []string {
	var names []string
	for _, c := range n.Children() {
		names = append(names, c.ElementMetadata().Name)
	}
	return names
}

// flagged lists the nodes with comparison flags as "path: flags".
func flagged(h *Hierarchy) []string {
	var result []string
	h.Walk(func(n *Node) bool {
		if n.ComparisonFlags() != 0 {
			result = append(result, fmt.Sprintf("%v: %v", n, n.ComparisonFlags()))
		}
		return true
	})
	return result
}

func hexID(id uint64) string {
	return fmt.Sprintf("%x", id)
}

func ensure(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("** %v", err)
	}
}

func eq[T comparable](t testing.TB, a, e T) {
	t.Helper()
	if a != e {
		t.Fatalf("** got %v, wanted %v", a, e)
	}
}

func deepEqual[T any](t testing.TB, a, e T) {
	t.Helper()
	if diff := cmp.Diff(e, a); diff != "" {
		t.Fatalf("** mismatch (-wanted +got):\n%s", diff)
	}
}

func isErr(t testing.TB, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("** got error %v, wanted %v", err, target)
	}
}

func TestBuildSingle(t *testing.T) {
	h := build(t, sampleScene())
	root := h.Root()
	eq(t, root.Name(), "instdata.Scene")
	eq(t, root.Parent(), (*Node)(nil))
	eq(t, root.InstanceCount(), 1)
	deepEqual(t, childNames(root), []string{"Title", "Origin", "Shapes", "Items", "Tags", "Params", "Locked"})

	eq(t, child(t, root, "Title").Name(), "Scene Title")
	eq(t, child(t, root, "Title").FirstInstance().String(), "main")
	eq(t, child(t, root, "Title").IsLeaf(), true)
	eq(t, child(t, root, "Items").IsContainer(), true)
	eq(t, child(t, root, "Items").ChildCount(), 3)
	eq(t, child(t, root, "Origin").TypeID(), reflect.TypeFor[Vec]())
	deepEqual(t, childNames(child(t, root, "Origin")), []string{"X", "Y"})

	tags := child(t, root, "Tags")
	eq(t, tags.ChildCount(), 2)
	eq(t, tags.Child(0).IsAssociativeElement(), true)
	eq(t, tags.Child(0).Key(0).String(), "x")
	eq(t, tags.Child(1).FirstInstance().Int(), int64(2))

	shapes := child(t, root, "Shapes")
	eq(t, shapes.Child(0).TypeID(), reflect.TypeFor[Circle]())
	eq(t, shapes.Child(1).TypeID(), reflect.TypeFor[Square]())
	eq(t, shapes.Child(1).FirstInstance().Addr().Interface().(*Square).Side, 2.0)
}

func TestBuildIncludeHidden(t *testing.T) {
	h := New(Options{})
	h.AddRootInstance(sampleScene())
	ensure(t, h.Build(newRegistry(), rtti.AccessForRead|rtti.AccessIncludeHidden, nil))
	eq(t, child(t, h.Root(), "Secret").FirstInstance().String(), "s3cr3t")
}

func TestBuildIdentifiersUniqueAmongSiblings(t *testing.T) {
	h := build(t, sampleScene())
	h.Walk(func(n *Node) bool {
		seen := make(map[uint64]bool)
		for _, c := range n.Children() {
			if seen[c.Identifier()] {
				t.Errorf("** duplicate identifier %x under %v", c.Identifier(), n)
			}
			seen[c.Identifier()] = true
		}
		return true
	})
}

func TestBuildIdentifiers(t *testing.T) {
	reg := newRegistry()
	h := buildWith(t, reg, sampleScene())
	root := h.Root()
	eq(t, root.Identifier(), xxhash.Sum64String("instdata.Scene"))
	eq(t, child(t, root, "Title").Identifier(), xxhash.Sum64String("Title"))

	items := child(t, root, "Items")
	for i, c := range items.Children() {
		eq(t, c.Identifier(), uint64(i+1))
	}

	params := child(t, root, "Params")
	eq(t, params.Child(1).Identifier(), rtti.SyntheticID("float64", 1))

	shapes := child(t, root, "Shapes")
	eq(t, shapes.Child(0).Identifier(), rtti.SyntheticID("instdata.Circle", 0))

	raw, err := reg.Codec().Encode(reflect.ValueOf("y"))
	ensure(t, err)
	eq(t, child(t, root, "Tags").Child(1).Identifier(), xxhash.Sum64(raw))
}

func TestBuildMergeIdentical(t *testing.T) {
	a, b := sampleScene(), sampleScene()
	h := build(t, a, b)
	eq(t, h.RootInstanceCount(), 2)
	var count int
	h.Walk(func(n *Node) bool {
		count++
		if n.InstanceCount() != 2 {
			t.Errorf("** %v has %d instances, wanted 2", n, n.InstanceCount())
		}
		return true
	})
	eq(t, count, len(build(t, sampleScene()).nodes))

	title := child(t, h.Root(), "Title")
	eq(t, title.Instance(0).Addr().Interface().(*string), &a.Title)
	eq(t, title.Instance(1).Addr().Interface().(*string), &b.Title)
}

func TestBuildMergeDivergent(t *testing.T) {
	a, b := sampleScene(), sampleScene()
	b.Origin = nil
	b.Shapes = []Shape{&Square{Side: 1}}
	b.Items = b.Items[:2]

	h := build(t, a, b)
	root := h.Root()
	deepEqual(t, childNames(root), []string{"Title", "Shapes", "Items", "Tags", "Params", "Locked"})
	shapes := child(t, root, "Shapes")
	eq(t, shapes.ChildCount(), 1)
	eq(t, shapes.Child(0).TypeID(), reflect.TypeFor[Square]())
	eq(t, child(t, root, "Items").ChildCount(), 2)
	h.Walk(func(n *Node) bool {
		eq(t, n.InstanceCount(), 2)
		eq(t, n.IsDetached(), false)
		return true
	})
}

func TestBuildMergeWithThreeRoots(t *testing.T) {
	a, b, c := &Doc{A: 1, B: []int{1, 2, 3}}, &Doc{A: 2, B: []int{1, 2}}, &Doc{A: 3, B: []int{5, 6, 7}}
	h := build(t, a, b, c)
	bn := child(t, h.Root(), "B")
	eq(t, bn.ChildCount(), 2)
	eq(t, bn.Child(1).InstanceCount(), 3)
	eq(t, bn.Child(1).ResolveInstance(2).Int(), int64(6))
}

func TestBuildErrors(t *testing.T) {
	t.Run("no roots", func(t *testing.T) {
		h := New(Options{})
		isErr(t, h.Build(newRegistry(), rtti.AccessDefault, nil), ErrNoRootInstances)
		eq(t, h.IsBuilt(), false)
	})
	t.Run("nil pointer", func(t *testing.T) {
		h := New(Options{})
		h.AddRootInstance((*Doc)(nil))
		isErr(t, h.Build(newRegistry(), rtti.AccessDefault, nil), ErrInvalidInstance)
	})
	t.Run("not a pointer", func(t *testing.T) {
		h := New(Options{})
		h.AddRootInstance(Doc{})
		isErr(t, h.Build(newRegistry(), rtti.AccessDefault, nil), ErrInvalidInstance)
	})
	t.Run("root type mismatch", func(t *testing.T) {
		h := New(Options{})
		h.AddRootInstance(&Doc{})
		h.AddRootInstance(&Vec{})
		err := h.Build(newRegistry(), rtti.AccessDefault, nil)
		isErr(t, err, ErrTypeMismatch)
		var tme *TypeMismatchError
		if !errors.As(err, &tme) {
			t.Fatalf("** err = %T, wanted *TypeMismatchError", err)
		}
		eq(t, tme.TargetType, reflect.TypeFor[Vec]())
		eq(t, h.IsBuilt(), false)
	})
	t.Run("root type mismatch detaches first pass", func(t *testing.T) {
		h := New(Options{})
		h.AddRootInstance(&Doc{B: []int{1}})
		h.AddRootInstance(&Vec{})
		var firstPass []*Node
		capture := func(v reflect.Value, td *rtti.TypeDescriptor, fd *rtti.FieldDescriptor) *rtti.EditMetadata {
			firstPass = slices.Clone(h.nodes)
			return nil
		}
		isErr(t, h.Build(newRegistry(), rtti.AccessDefault, capture), ErrTypeMismatch)
		if len(firstPass) == 0 {
			t.Fatalf("** no nodes captured")
		}
		for _, n := range firstPass {
			eq(t, n.IsDetached(), true)
		}
	})
}

func TestBuildPointerCycle(t *testing.T) {
	a := &Link{Name: "a"}
	b := &Link{Name: "b", Next: a}
	a.Next = b

	h := build(t, a)
	next := child(t, h.Root(), "Next")
	deepEqual(t, childNames(next), []string{"Name"})
	eq(t, child(t, next, "Name").FirstInstance().String(), "b")
}

func TestBuildEditData(t *testing.T) {
	h := build(t, sampleScene())
	locked := child(t, h.Root(), "Locked")
	eq(t, locked.IsReadOnly(), true)
	eq(t, child(t, locked, "Level").IsReadOnly(), true)
	eq(t, child(t, h.Root(), "Title").IsReadOnly(), false)
	eq(t, child(t, h.Root(), "Params").EditData().ElemType, "float64")
}

func TestBuildDynamicEditData(t *testing.T) {
	provider := func(v reflect.Value, td *rtti.TypeDescriptor, fd *rtti.FieldDescriptor) *rtti.EditMetadata {
		if td.Type == reflect.TypeFor[Vec]() {
			return &rtti.EditMetadata{Group: fmt.Sprintf("vec %v", v.FieldByName("X").Float())}
		}
		return nil
	}
	h := New(Options{})
	h.AddRootInstance(sampleScene())
	ensure(t, h.Build(newRegistry(), rtti.AccessDefault, provider))
	eq(t, child(t, h.Root(), "Origin").EditData().Group, "vec 1")
	eq(t, child(t, h.Root(), "Title").EditData().DisplayName, "Scene Title")
}

func TestBuildReplacesTree(t *testing.T) {
	doc := &Doc{A: 1, B: []int{1}}
	h := build(t, doc)
	old := child(t, h.Root(), "B")

	doc.B = append(doc.B, 2)
	ensure(t, h.Build(newRegistry(), rtti.AccessDefault, nil))
	eq(t, old.IsDetached(), true)
	eq(t, child(t, h.Root(), "B").ChildCount(), 2)
}

func TestNodeString(t *testing.T) {
	h := build(t, sampleScene())
	items := child(t, h.Root(), "Items")
	eq(t, child(t, items.Child(1), "Name").String(), "instdata.Scene.Items.[2].Name")
	eq(t, child(t, h.Root(), "Title").String(), "instdata.Scene.Scene Title")
}

func TestDump(t *testing.T) {
	h := compareWith(t, &Doc{A: 1, B: []int{1, 2}}, &Doc{A: 2, B: []int{1, 2, 3}})
	s := h.Dump(DumpValues | DumpComparison)
	for _, want := range []string{"instdata.Doc (1 roots, 1 comparisons)", "  A int = 1 [differs]", "  B []int [differs]", "    [] int [removed]"} {
		if !strings.Contains(s, want) {
			t.Fatalf("** Dump missing %q:\n%s", want, s)
		}
	}
	eq(t, New(Options{}).Dump(DumpAll), "<not built>\n")
}

func TestNodeInstances(t *testing.T) {
	a, b := &Doc{A: 1}, &Doc{A: 2}
	h := build(t, a, b)
	got := child(t, h.Root(), "A").Instances()
	eq(t, len(got), 2)
	eq(t, slices.IndexFunc(got, func(v reflect.Value) bool { return v.Int() == 2 }), 1)
}

package instdata

import (
	"reflect"
	"strings"
	"testing"

	"github.com/andreyvit/instdata/rtti"
)

func TestCompareIdentical(t *testing.T) {
	h := compareWith(t, sampleScene(), sampleScene())
	deepEqual(t, flagged(h), nil)
	eq(t, h.Root().HasChanges(true), false)
	eq(t, len(h.ComparisonHierarchies()), 1)
	eq(t, child(t, h.Root(), "Title").ComparisonNode(), child(t, h.ComparisonHierarchies()[0].Root(), "Title"))
}

type (
	Tally struct {
		Counts map[string]int
	}

	Ledger struct {
		Tally Tally
		Notes map[string]string
	}
)

func newLedger(keys string) *Ledger {
	l := &Ledger{Tally: Tally{Counts: map[string]int{}}, Notes: map[string]string{}}
	for _, k := range strings.Split(keys, ",") {
		l.Tally.Counts[k] = int(k[0])
		l.Notes[k] = k + k
	}
	return l
}

func TestCompareIdenticalMapLeaves(t *testing.T) {
	reg := newRegistry().RegisterLeaf(reflect.TypeFor[Tally]())
	for i := 0; i < 20; i++ {
		h := New(Options{})
		h.AddRootInstance(newLedger("q,w,e,r,t,y,u,i,o,p"))
		h.AddComparisonInstance(newLedger("p,o,i,u,y,t,r,e,w,q"))
		ensure(t, h.Build(reg, rtti.AccessDefault, nil))
		eq(t, child(t, h.Root(), "Tally").IsLeaf(), true)
		deepEqual(t, flagged(h), nil)
	}
}

func TestCompareRemovedElement(t *testing.T) {
	h := compareWith(t, &Doc{A: 1, B: []int{1, 2}}, &Doc{A: 1, B: []int{1, 2, 3}})
	b := child(t, h.Root(), "B")
	eq(t, b.ChildCount(), 3)
	eq(t, b.IsChanged(), true)

	removed := b.Child(2)
	eq(t, removed.IsRemoved(), true)
	eq(t, removed.InstanceCount(), 0)
	eq(t, removed.ChildCount(), 0)
	eq(t, removed.ComparisonNode().FirstInstance().Int(), int64(3))
	eq(t, removed.ComparisonNode().Hierarchy(), h.ComparisonHierarchies()[0])

	deepEqual(t, flagged(h), []string{
		"instdata.Doc.B: differs",
		"instdata.Doc.B.[" + hexID(removed.Identifier()) + "]: removed",
	})
}

func TestCompareNewElement(t *testing.T) {
	h := compareWith(t, &Doc{A: 1, B: []int{1, 2, 3, 4}}, &Doc{A: 1, B: []int{1, 2, 3}})
	b := child(t, h.Root(), "B")
	eq(t, b.ComparisonFlags(), ComparisonFlags(0))
	eq(t, b.Child(3).IsNew(), true)
	eq(t, len(flagged(h)), 1)
}

func TestCompareChangedLeaf(t *testing.T) {
	h := compareWith(t, &Doc{A: 5, B: []int{1}}, &Doc{A: 1, B: []int{1}})
	a := child(t, h.Root(), "A")
	eq(t, a.IsChanged(), true)
	eq(t, a.ComparisonNode().FirstInstance().Int(), int64(1))
	eq(t, h.Root().HasChanges(false), false)
	eq(t, h.Root().HasChanges(true), true)
	eq(t, len(flagged(h)), 1)
}

func TestComparePersistentIDs(t *testing.T) {
	t.Run("reordered", func(t *testing.T) {
		target, source := sampleScene(), sampleScene()
		target.Items = []Item{{3, "c"}, {1, "a"}, {2, "b"}}
		h := compareWith(t, target, source)
		deepEqual(t, flagged(h), nil)
	})
	t.Run("changed", func(t *testing.T) {
		target, source := sampleScene(), sampleScene()
		target.Items = []Item{{3, "c"}, {1, "a"}, {2, "bb"}}
		h := compareWith(t, target, source)
		deepEqual(t, flagged(h), []string{"instdata.Scene.Items.[2].Name: differs"})
	})
}

func TestCompareMap(t *testing.T) {
	target, source := sampleScene(), sampleScene()
	target.Tags = map[string]int{"x": 1, "z": 3}
	h := compareWith(t, target, source)
	tags := child(t, h.Root(), "Tags")
	eq(t, tags.IsChanged(), true)
	eq(t, tags.ChildCount(), 3)
	eq(t, tags.Child(0).ComparisonFlags(), ComparisonFlags(0))
	eq(t, tags.Child(1).IsNew(), true)
	eq(t, tags.Child(1).Key(0).String(), "z")
	eq(t, tags.Child(2).IsRemoved(), true)
	eq(t, tags.Child(2).ComparisonNode().Key(0).String(), "y")
}

func TestCompareNewSubtree(t *testing.T) {
	target, source := sampleScene(), sampleScene()
	source.Origin = nil

	h := compareWith(t, target, source)
	deepEqual(t, flagged(h), []string{
		"instdata.Scene.Origin: new",
		"instdata.Scene.Origin.X: new",
		"instdata.Scene.Origin.Y: new",
	})

	reg := newRegistry().RegisterComponent(Vec{})
	h = New(Options{})
	h.AddRootInstance(target)
	h.AddComparisonInstance(source)
	ensure(t, h.Build(reg, rtti.AccessDefault, nil))
	deepEqual(t, flagged(h), []string{"instdata.Scene.Origin: new"})
}

func TestCompareSourceOnlyField(t *testing.T) {
	target, source := sampleScene(), sampleScene()
	target.Origin = nil
	h := compareWith(t, target, source)
	deepEqual(t, flagged(h), []string{"instdata.Scene: differs"})
}

func TestCompareElementTypeChange(t *testing.T) {
	target, source := sampleScene(), sampleScene()
	target.Shapes[1] = &Circle{R: 2}
	h := compareWith(t, target, source)
	shapes := child(t, h.Root(), "Shapes")
	eq(t, shapes.IsChanged(), true)
	eq(t, shapes.Child(1).IsNew(), true)
	eq(t, shapes.Child(2).IsRemoved(), true)
	eq(t, shapes.Child(2).TypeID(), shapes.Child(2).ComparisonNode().TypeID())
}

func TestCompareTypeMismatchStops(t *testing.T) {
	h := compareWith(t, &Holder{V: 1}, &Holder{V: "x"})
	v := child(t, h.Root(), "V")
	eq(t, v.ComparisonFlags(), ComparisonFlags(0))
	eq(t, v.ComparisonNode(), (*Node)(nil))
	eq(t, h.Root().ComparisonNode() != nil, true)
}

func TestCompareValueComparisonFunction(t *testing.T) {
	target, source := &Doc{A: 5}, &Doc{A: 1}
	h := New(Options{
		ValueComparison: func(source, target *Node) bool { return true },
	})
	h.AddRootInstance(target)
	h.AddComparisonInstance(source)
	ensure(t, h.Build(newRegistry(), rtti.AccessDefault, nil))
	deepEqual(t, flagged(h), nil)

	h.SetValueComparisonFunction(nil)
	ensure(t, h.RefreshComparisonData())
	deepEqual(t, flagged(h), []string{"instdata.Doc.A: differs"})
}

func TestCompareRefresh(t *testing.T) {
	target, source := &Doc{A: 1, B: []int{1, 2}}, &Doc{A: 1, B: []int{1, 2, 3}}
	h := compareWith(t, target, source)
	n := len(h.nodes)

	ensure(t, h.RefreshComparisonData())
	eq(t, len(h.nodes), n)
	eq(t, child(t, h.Root(), "B").ChildCount(), 3)

	h.ClearComparisonInstances()
	ensure(t, h.RefreshComparisonData())
	deepEqual(t, flagged(h), nil)
	eq(t, child(t, h.Root(), "B").ChildCount(), 2)
	eq(t, len(h.ComparisonHierarchies()), 0)
}

func TestCompareMultipleRoots(t *testing.T) {
	a, b := &Doc{A: 1, B: []int{1}}, &Doc{A: 2, B: []int{1}}
	h := New(Options{})
	h.AddRootInstance(a)
	h.AddRootInstance(b)
	h.AddComparisonInstance(&Doc{A: 1, B: []int{1}})
	ensure(t, h.Build(newRegistry(), rtti.AccessDefault, nil))
	// first instances are compared
	deepEqual(t, flagged(h), nil)
}

func TestCompareInvalidComparisonInstance(t *testing.T) {
	h := New(Options{})
	h.AddRootInstance(&Doc{})
	h.AddComparisonInstance(Doc{})
	isErr(t, h.Build(newRegistry(), rtti.AccessDefault, nil), ErrInvalidInstance)
}

func TestDefaultValueComparison(t *testing.T) {
	h := compareWith(t, &Doc{A: 1, B: []int{1, 2}}, &Doc{A: 1, B: []int{1, 2, 3}})
	b := child(t, h.Root(), "B")
	placeholder := b.Child(2)
	eq(t, DefaultValueComparison(placeholder, placeholder), true)
	eq(t, DefaultValueComparison(placeholder, b.Child(0)), false)
	eq(t, DefaultValueComparison(b.Child(0), b.Child(0)), true)
	eq(t, DefaultValueComparison(b.Child(0), b.Child(1)), false)
}

func TestComparisonFlagsString(t *testing.T) {
	eq(t, ComparisonFlags(0).String(), "none")
	eq(t, (ComparisonNew | ComparisonRemoved).String(), "new|removed")
	eq(t, (ComparisonNew | ComparisonDiffers).Contains(ComparisonDiffers), true)
	eq(t, ComparisonNew.ContainsAny(ComparisonDiffers|ComparisonRemoved), false)
}

package tileid

import "testing"

func TestChildParentRoundTrip(t *testing.T) {
	id := ID{Lod: 3, X: 2, Y: 1}
	for i := ChildIndex(0); i < 4; i++ {
		child := id.Child(i)
		parent, ok := child.Parent()
		if !ok || parent != id {
			t.Fatalf("Child(%d).Parent() = %v,%v want %v,true", i, parent, ok, id)
		}
		idx, ok := child.ChildIndexOf()
		if !ok || idx != i {
			t.Fatalf("Child(%d).ChildIndexOf() = %v,%v want %d,true", i, idx, ok, i)
		}
	}
}

func TestChildOrdering(t *testing.T) {
	id := ID{Lod: 0, X: 0, Y: 0}
	want := [4]ID{
		{Lod: 1, X: 0, Y: 0}, // ll
		{Lod: 1, X: 1, Y: 0}, // lr
		{Lod: 1, X: 0, Y: 1}, // ul
		{Lod: 1, X: 1, Y: 1}, // ur
	}
	got := id.Children()
	if got != want {
		t.Fatalf("Children() = %v, want %v", got, want)
	}
}

func TestRootHasNoParent(t *testing.T) {
	if _, ok := (ID{Lod: 0}).Parent(); ok {
		t.Fatalf("root Parent() returned ok=true")
	}
	if _, ok := (ID{Lod: 0}).ChildIndexOf(); ok {
		t.Fatalf("root ChildIndexOf() returned ok=true")
	}
}

func TestAncestor(t *testing.T) {
	id := ID{Lod: 3, X: 5, Y: 2}
	got, ok := id.Ancestor(1)
	if !ok {
		t.Fatalf("Ancestor(1) ok=false")
	}
	want := ID{Lod: 1, X: 5 >> 2, Y: 2 >> 2}
	if got != want {
		t.Fatalf("Ancestor(1) = %v, want %v", got, want)
	}
	if _, ok := id.Ancestor(4); ok {
		t.Fatalf("Ancestor(lod > id.Lod) ok=true")
	}
}

func TestMortonOrdering(t *testing.T) {
	// (0,0) < (1,0) < (0,1) < (1,1) in Z-order at lod 1.
	m00 := ID{Lod: 1, X: 0, Y: 0}.Morton()
	m10 := ID{Lod: 1, X: 1, Y: 0}.Morton()
	m01 := ID{Lod: 1, X: 0, Y: 1}.Morton()
	m11 := ID{Lod: 1, X: 1, Y: 1}.Morton()
	if !(m00 < m10 && m10 < m01 && m01 < m11) {
		t.Fatalf("unexpected Morton ordering: %d %d %d %d", m00, m10, m01, m11)
	}
}

func TestLodRangeEmptyAndUnion(t *testing.T) {
	empty := EmptyLodRange()
	if !empty.Empty() {
		t.Fatalf("EmptyLodRange() not reported empty")
	}
	r := LodRange{Min: 2, Max: 4}
	if r.Union(empty) != r {
		t.Fatalf("Union with empty changed range")
	}
	u := r.Union(LodRange{Min: 1, Max: 3})
	if u != (LodRange{Min: 1, Max: 4}) {
		t.Fatalf("Union = %v, want {1 4}", u)
	}
}

func TestChildExtents(t *testing.T) {
	e := Extents2{XMin: 0, YMin: 0, XMax: 10, YMax: 10}
	ll := e.ChildExtents(LL)
	if ll != (Extents2{XMin: 0, YMin: 0, XMax: 5, YMax: 5}) {
		t.Fatalf("ll = %v", ll)
	}
	ur := e.ChildExtents(UR)
	if ur != (Extents2{XMin: 5, YMin: 5, XMax: 10, YMax: 10}) {
		t.Fatalf("ur = %v", ur)
	}
	lr := e.ChildExtents(LR)
	if lr != (Extents2{XMin: 5, YMin: 0, XMax: 10, YMax: 5}) {
		t.Fatalf("lr = %v", lr)
	}
	ul := e.ChildExtents(UL)
	if ul != (Extents2{XMin: 0, YMin: 5, XMax: 5, YMax: 10}) {
		t.Fatalf("ul = %v", ul)
	}
}

func TestExtentsIntersects(t *testing.T) {
	a := Extents2{XMin: 0, YMin: 0, XMax: 5, YMax: 5}
	b := Extents2{XMin: 5, YMin: 5, XMax: 10, YMax: 10}
	if !a.Intersects(b) {
		t.Fatalf("touching extents should intersect")
	}
	c := Extents2{XMin: 6, YMin: 6, XMax: 10, YMax: 10}
	if a.Intersects(c) {
		t.Fatalf("disjoint extents should not intersect")
	}
}

// Package tileid implements the pyramidal tile address arithmetic shared by
// every other component of the storage engine: the identifier triple
// (lod, x, y), LOD ranges, axis-aligned extents, and parent/child/Morton
// arithmetic over the quadtree pyramid (spec §3, §6.5).
package tileid

import "fmt"

// ID identifies a single tile in the pyramid: 0 <= X,Y < 2^Lod.
type ID struct {
	Lod uint8
	X   uint32
	Y   uint32
}

// String renders the identifier as "lod-x-y", the form used by
// driver.Key.String and in log and error messages.
func (id ID) String() string {
	return fmt.Sprintf("%d-%d-%d", id.Lod, id.X, id.Y)
}

// Valid reports whether X and Y are in range for Lod.
func (id ID) Valid() bool {
	n := uint32(1) << id.Lod
	return id.X < n && id.Y < n
}

// ChildIndex enumerates the four children of a tile. Ordering is fixed by
// spec §3/§6.5: ll=0, lr=1, ul=2, ur=3.
type ChildIndex int

const (
	LL ChildIndex = iota // lower-left: (2x,   2y)
	LR                   // lower-right: (2x+1, 2y)
	UL                   // upper-left: (2x,   2y+1)
	UR                   // upper-right: (2x+1, 2y+1)
)

// childDX and childDY give the X,Y offset added to (2x, 2y) for each
// ChildIndex, matching the dx,dy -> dy*2+dx convention of spec §3.
var childDX = [4]uint32{0, 1, 0, 1}
var childDY = [4]uint32{0, 0, 1, 1}

// Child returns the child of id in direction i: (lod+1, 2x+dx, 2y+dy).
func (id ID) Child(i ChildIndex) ID {
	return ID{
		Lod: id.Lod + 1,
		X:   2*id.X + childDX[i],
		Y:   2*id.Y + childDY[i],
	}
}

// Children returns all four children in ll,lr,ul,ur order.
func (id ID) Children() [4]ID {
	return [4]ID{id.Child(LL), id.Child(LR), id.Child(UL), id.Child(UR)}
}

// ChildIndexOf returns which ChildIndex id is, relative to its parent, and
// ok=false if id.Lod == 0 (the root has no parent).
func (id ID) ChildIndexOf() (ChildIndex, bool) {
	if id.Lod == 0 {
		return 0, false
	}
	dx := id.X & 1
	dy := id.Y & 1
	return ChildIndex(dy*2 + dx), true
}

// Parent returns the parent of id, and ok=false if id.Lod == 0.
func (id ID) Parent() (ID, bool) {
	if id.Lod == 0 {
		return ID{}, false
	}
	return ID{Lod: id.Lod - 1, X: id.X >> 1, Y: id.Y >> 1}, true
}

// Ancestor returns the ancestor of id at the given lod (lod <= id.Lod), and
// ok=false if lod > id.Lod.
func (id ID) Ancestor(lod uint8) (ID, bool) {
	if lod > id.Lod {
		return ID{}, false
	}
	shift := id.Lod - lod
	return ID{Lod: lod, X: id.X >> shift, Y: id.Y >> shift}, true
}

// Morton returns the Z-order (Morton) index of (X, Y), used purely as a
// deterministic traversal/ordering aid — it is never part of a wire format.
func (id ID) Morton() uint64 {
	return interleave(id.X) | (interleave(id.Y) << 1)
}

// interleave spreads the bits of x so that consecutive bits of x occupy
// every other bit position, ready for Morton interleaving.
func interleave(x uint32) uint64 {
	v := uint64(x)
	v = (v | (v << 16)) & 0x0000FFFF0000FFFF
	v = (v | (v << 8)) & 0x00FF00FF00FF00FF
	v = (v | (v << 4)) & 0x0F0F0F0F0F0F0F0F
	v = (v | (v << 2)) & 0x3333333333333333
	v = (v | (v << 1)) & 0x5555555555555555
	return v
}

// LodRange is an inclusive [Min,Max] range of LODs. The distinguished
// empty value is returned by EmptyLodRange and reported by Empty.
type LodRange struct {
	Min uint8
	Max uint8
}

// EmptyLodRange returns the distinguished empty range.
func EmptyLodRange() LodRange {
	return LodRange{Min: 1, Max: 0}
}

// Empty reports whether r carries no LODs.
func (r LodRange) Empty() bool {
	return r.Min > r.Max
}

// Contains reports whether lod is within r.
func (r LodRange) Contains(lod uint8) bool {
	return !r.Empty() && lod >= r.Min && lod <= r.Max
}

// Union returns the smallest LodRange containing both r and other. An
// empty operand is ignored.
func (r LodRange) Union(other LodRange) LodRange {
	switch {
	case r.Empty():
		return other
	case other.Empty():
		return r
	}
	out := r
	if other.Min < out.Min {
		out.Min = other.Min
	}
	if other.Max > out.Max {
		out.Max = other.Max
	}
	return out
}

// Extents2 is an axis-aligned box in a subtree's SRS (spec §3).
type Extents2 struct {
	XMin, YMin, XMax, YMax float64
}

// Width returns the X extent.
func (e Extents2) Width() float64 { return e.XMax - e.XMin }

// Height returns the Y extent.
func (e Extents2) Height() float64 { return e.YMax - e.YMin }

// Empty reports whether e has zero or negative area.
func (e Extents2) Empty() bool {
	return e.XMax <= e.XMin || e.YMax <= e.YMin
}

// Intersects reports whether e and other overlap (touching edges count,
// matching the teacher's own Rect.Intersects convention).
func (e Extents2) Intersects(other Extents2) bool {
	return e.XMin <= other.XMax && e.XMax >= other.XMin &&
		e.YMin <= other.YMax && e.YMax >= other.YMin
}

// ChildExtents splits e at its midpoint and returns the quadrant
// corresponding to ChildIndex i, per spec §6.5:
//
//	ll = (XMin..XMid, YMin..YMid)
//	lr = (XMid..XMax, YMin..YMid)
//	ul = (XMin..XMid, YMid..YMax)
//	ur = (XMid..XMax, YMid..YMax)
func (e Extents2) ChildExtents(i ChildIndex) Extents2 {
	xMid := (e.XMin + e.XMax) / 2
	yMid := (e.YMin + e.YMax) / 2
	out := e
	if childDX[i] == 0 {
		out.XMax = xMid
	} else {
		out.XMin = xMid
	}
	if childDY[i] == 0 {
		out.YMax = yMid
	} else {
		out.YMin = yMid
	}
	return out
}

// Package tileindex implements the layered quadtree flag index of spec
// §4.2: a stack of one qtree.QTree per LOD, each cell holding a u32 of
// per-tile flags, with the pyramid completion (makeAbsolute/makeComplete),
// bulk set operations, and region traversal the rest of the engine builds
// on.
package tileindex

import (
	"fmt"
	"sort"

	"github.com/opentiles/tilestore/qtree"
	"github.com/opentiles/tilestore/tileid"
)

// Flag bits occupy the low 8 bits of a cell's u32, per spec §3/§4.2. Bits
// above FlagHasChildren are available for caller-defined traversal
// bookkeeping (spec: "the remainder are available for user traversal
// bookkeeping").
const (
	FlagMesh       uint32 = 1 << 0
	FlagAtlas      uint32 = 1 << 1
	FlagNavTile    uint32 = 1 << 2
	FlagMeta       uint32 = 1 << 3
	FlagReference  uint32 = 1 << 4
	FlagInfluenced uint32 = 1 << 5
	FlagAlien      uint32 = 1 << 6
	FlagCompound   uint32 = 1 << 7

	// FlagHasChildren is the pyramid-completion bookkeeping bit
	// maintained by MakeAbsolute/MakeComplete (spec §4.2 invariant 2). It
	// sits just above the 8 named payload flags rather than reusing one
	// of them, since it is system bookkeeping rather than tile payload
	// (see DESIGN.md "Open Question decisions" for the related §4.3/§4.7
	// calls; this particular placement isn't one of the three
	// spec.md-listed Open Questions but follows the same reasoning: the
	// spec names exactly 8 payload flags and describes completion
	// bookkeeping separately, so it gets the next bit rather than
	// overloading one of the 8).
	FlagHasChildren uint32 = 1 << 8
)

// MaterialMask is the set of flags that make a tile "present" for the
// purposes of Exists/LodRange/pyramid completion. Alien (virtual) tiles
// count as material per the invariant in spec §4.2/§3 ("has-mesh implies
// has-atlas except for sentinel virtual tiles marked alien").
const MaterialMask = FlagMesh | FlagAtlas | FlagNavTile | FlagMeta | FlagAlien

// TileIndex is mapping{TileId -> u32 flags}, stored as one QTree per LOD.
type TileIndex struct {
	lodRange tileid.LodRange
	levels   map[uint8]*qtree.QTree
}

// New creates an empty TileIndex over lodRange, with every level
// initialized to all-zero flags.
func New(lodRange tileid.LodRange) *TileIndex {
	ti := &TileIndex{lodRange: lodRange, levels: map[uint8]*qtree.QTree{}}
	if lodRange.Empty() {
		return ti
	}
	for lod := lodRange.Min; ; lod++ {
		ti.levels[lod] = qtree.New(int(lod), 0)
		if lod == lodRange.Max {
			break
		}
	}
	return ti
}

// DeclaredLodRange returns the LOD range the index was constructed with
// (not the tighter range actually occupied by material flags — see
// LodRange for that).
func (ti *TileIndex) DeclaredLodRange() tileid.LodRange { return ti.lodRange }

func (ti *TileIndex) levelOrPanic(lod uint8) *qtree.QTree {
	tree, ok := ti.levels[lod]
	if !ok {
		panic(fmt.Sprintf("tileindex: lod %d outside declared range %v", lod, ti.lodRange))
	}
	return tree
}

// Set stores flags at id, replacing whatever was there.
func (ti *TileIndex) Set(id tileid.ID, flags uint32) {
	ti.levelOrPanic(id.Lod).Set(int(id.X), int(id.Y), flags)
}

// Get returns the flags stored at id (0 if never set or out of range).
func (ti *TileIndex) Get(id tileid.ID) uint32 {
	tree, ok := ti.levels[id.Lod]
	if !ok {
		return 0
	}
	return tree.Get(int(id.X), int(id.Y))
}

// Exists reports whether id carries any MaterialMask bit.
func (ti *TileIndex) Exists(id tileid.ID) bool {
	return ti.Get(id)&MaterialMask != 0
}

// SetMask ORs (set=true) or AND-NOTs (set=false) mask into id's flags.
func (ti *TileIndex) SetMask(id tileid.ID, mask uint32, set bool) {
	cur := ti.Get(id)
	if set {
		ti.Set(id, cur|mask)
	} else {
		ti.Set(id, cur&^mask)
	}
}

// hasAnyNonZero reports whether tree carries any nonzero cell. A
// non-collapsed root structurally guarantees at least one cell differs
// from the rest, and Set/Fill always collapse uniform subtrees, so a
// non-leaf root always means "something is nonzero somewhere".
func hasAnyNonZero(tree *qtree.QTree) bool {
	v, uniform := tree.IsUniform()
	return !uniform || v != 0
}

// parentRegion maps a child-LOD quad rect to the region of parent cells it
// spans. Quads from ForEachQuad are always power-of-two-aligned squares,
// so this division is always exact.
func parentRegion(r qtree.Rect) qtree.Rect {
	w := r.W / 2
	if w < 1 {
		w = 1
	}
	return qtree.Rect{X: r.X / 2, Y: r.Y / 2, W: w, H: w}
}

// childRegion maps a parent-LOD quad rect to the region of child cells
// that are its descendants.
func childRegion(r qtree.Rect) qtree.Rect {
	return qtree.Rect{X: r.X * 2, Y: r.Y * 2, W: r.W * 2, H: r.H * 2}
}

// orFillRect returns tree with mask OR-ed into every cell of region,
// implemented as a bulk Or against a sparse overlay tree so the cost stays
// proportional to tree's leaf count rather than region's pixel area.
func orFillRect(tree *qtree.QTree, region qtree.Rect, mask uint32) *qtree.QTree {
	overlay := qtree.New(tree.Depth(), 0)
	overlay.Fill(region, mask)
	return tree.Or(overlay)
}

// MakeAbsolute marks the has-children bit on every ancestor of every
// material tile, ascending the pyramid bottom-up one LOD at a time.
// Idempotent.
func (ti *TileIndex) MakeAbsolute() {
	if ti.lodRange.Empty() {
		return
	}
	for lod := ti.lodRange.Max; lod > ti.lodRange.Min; lod-- {
		child := ti.levels[lod]
		parent := ti.levels[lod-1]
		child.ForEachQuad(
			func(v uint32) bool { return v&(MaterialMask|FlagHasChildren) != 0 },
			func(r qtree.Rect, _ uint32) {
				parent = orFillRect(parent, parentRegion(r), FlagHasChildren)
			},
		)
		ti.levels[lod-1] = parent
	}
}

// MakeComplete ensures every descendant of every material tile, down to
// the max LOD, inherits the has-children bit, descending the pyramid
// top-down one LOD at a time. Idempotent.
func (ti *TileIndex) MakeComplete() {
	if ti.lodRange.Empty() {
		return
	}
	for lod := ti.lodRange.Min; lod < ti.lodRange.Max; lod++ {
		parent := ti.levels[lod]
		child := ti.levels[lod+1]
		parent.ForEachQuad(
			func(v uint32) bool { return v&(MaterialMask|FlagHasChildren) != 0 },
			func(r qtree.Rect, _ uint32) {
				child = orFillRect(child, childRegion(r), FlagHasChildren)
			},
		)
		ti.levels[lod+1] = child
	}
}

// MakeFull applies MakeAbsolute and MakeComplete; both are monotonic
// OR-only operations, so applying them in sequence on the same index is
// equivalent to taking the union of their independently-computed results.
func (ti *TileIndex) MakeFull() {
	ti.MakeAbsolute()
	ti.MakeComplete()
}

// Translate returns a new TileIndex with every material cell moved by
// (dx,dy) within its own LOD's addressing and shifted to lod+dl. dx,dy are
// interpreted in the *source* LOD's coordinate units (dl does not rescale
// them) — this module's reading of the deliberately terse spec text
// "translate(dx,dy,dl): returns a new index shifted".
func (ti *TileIndex) Translate(dx, dy int, dl int) *TileIndex {
	out := &TileIndex{levels: map[uint8]*qtree.QTree{}}
	newRange := tileid.EmptyLodRange()
	for lod, tree := range ti.levels {
		nl := int(lod) + dl
		if nl < 0 || nl > 255 {
			continue
		}
		newLod := uint8(nl)
		newTree, ok := out.levels[newLod]
		if !ok {
			newTree = qtree.New(tree.Depth(), 0)
		}
		tree.ForEachQuad(func(v uint32) bool { return v != 0 }, func(r qtree.Rect, v uint32) {
			shifted := qtree.Rect{X: r.X + dx, Y: r.Y + dy, W: r.W, H: r.H}
			clipped, ok := clipToDomain(shifted, newTree.Size())
			if !ok {
				return
			}
			newTree.Fill(clipped, v)
		})
		out.levels[newLod] = newTree
		if newRange.Empty() {
			newRange = tileid.LodRange{Min: newLod, Max: newLod}
		} else {
			newRange = newRange.Union(tileid.LodRange{Min: newLod, Max: newLod})
		}
	}
	out.lodRange = newRange
	return out
}

func clipToDomain(r qtree.Rect, size int) (qtree.Rect, bool) {
	x0, y0 := r.X, r.Y
	x1, y1 := r.X+r.W, r.Y+r.H
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > size {
		x1 = size
	}
	if y1 > size {
		y1 = size
	}
	if x1 <= x0 || y1 <= y0 {
		return qtree.Rect{}, false
	}
	return qtree.Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}, true
}

// combine builds a new TileIndex by combining ti and other LOD by LOD with
// op; a LOD missing from one side is treated as an all-zero tree of the
// other side's depth.
func combine(a, b *TileIndex, op func(x, y *qtree.QTree) *qtree.QTree) *TileIndex {
	out := &TileIndex{levels: map[uint8]*qtree.QTree{}, lodRange: a.lodRange.Union(b.lodRange)}
	seen := map[uint8]bool{}
	for lod := range a.levels {
		seen[lod] = true
	}
	for lod := range b.levels {
		seen[lod] = true
	}
	for lod := range seen {
		at, aok := a.levels[lod]
		bt, bok := b.levels[lod]
		switch {
		case aok && bok:
			out.levels[lod] = op(at, bt)
		case aok:
			out.levels[lod] = op(at, qtree.New(at.Depth(), 0))
		case bok:
			out.levels[lod] = op(qtree.New(bt.Depth(), 0), bt)
		}
	}
	return out
}

// Unite returns the per-LOD OR of ti and other.
func (ti *TileIndex) Unite(other *TileIndex) *TileIndex {
	return combine(ti, other, func(x, y *qtree.QTree) *qtree.QTree { return x.Or(y) })
}

// Intersect returns the per-LOD AND of ti and other.
func (ti *TileIndex) Intersect(other *TileIndex) *TileIndex {
	return combine(ti, other, func(x, y *qtree.QTree) *qtree.QTree { return x.And(y) })
}

// Subtract returns ti with every flag also set in other cleared, per LOD.
func (ti *TileIndex) Subtract(other *TileIndex) *TileIndex {
	return combine(ti, other, func(x, y *qtree.QTree) *qtree.QTree { return x.Sub(y) })
}

// Traverse yields every non-zero cell at lod in row-major order.
//
// TODO: this expands every uniform quad into individual TileIds, which is
// fine for the sparse, mesh-shaped data the rest of the engine produces
// but would be wasteful for a deliberately coarse, fully-complete
// MakeComplete() pyramid at very high LODs. A Rect-based traversal variant
// for callers that can act on whole uniform blocks would fix that; no
// caller in this module needs it yet.
func (ti *TileIndex) Traverse(lod uint8, fn func(id tileid.ID, flags uint32)) {
	tree, ok := ti.levels[lod]
	if !ok {
		return
	}
	type cell struct {
		x, y int
		v    uint32
	}
	var cells []cell
	tree.ForEachQuad(func(v uint32) bool { return v != 0 }, func(r qtree.Rect, v uint32) {
		for y := r.Y; y < r.Y+r.H; y++ {
			for x := r.X; x < r.X+r.W; x++ {
				cells = append(cells, cell{x, y, v})
			}
		}
	})
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].y != cells[j].y {
			return cells[i].y < cells[j].y
		}
		return cells[i].x < cells[j].x
	})
	for _, c := range cells {
		fn(tileid.ID{Lod: lod, X: uint32(c.x), Y: uint32(c.y)}, c.v)
	}
}

// LodRange returns the smallest LOD range containing any material flag,
// which may be tighter than DeclaredLodRange.
func (ti *TileIndex) LodRange() tileid.LodRange {
	out := tileid.EmptyLodRange()
	if ti.lodRange.Empty() {
		return out
	}
	for lod := ti.lodRange.Min; ; lod++ {
		if tree, ok := ti.levels[lod]; ok && hasAnyNonZero(tree) {
			if out.Empty() {
				out = tileid.LodRange{Min: lod, Max: lod}
			} else {
				out.Max = lod
			}
		}
		if lod == ti.lodRange.Max {
			break
		}
	}
	return out
}

// Equal reports whether ti and other carry identical flags at every cell
// of every LOD in their declared range (spec §8: "serialize then
// deserialize produces an equal TI").
func (ti *TileIndex) Equal(other *TileIndex) bool {
	if ti.lodRange != other.lodRange {
		return false
	}
	for lod, tree := range ti.levels {
		ot, ok := other.levels[lod]
		if !ok || !tree.Equal(ot) {
			return false
		}
	}
	return true
}

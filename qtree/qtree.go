// Package qtree implements a compressed quadtree of small-integer cell
// values over an N×N domain (N = 2^depth), with the bulk set operations,
// region fill, and maximal-rectangle enumeration described in spec §4.1.
//
// A node whose four children carry the same value collapses into a single
// leaf. Existing nodes are never mutated in place: Set and Fill replace
// the receiver's root with freshly built nodes, and the bulk operations
// return a new *QTree sharing unmodified subtrees with their operands —
// this is what makes a flushed QTree safely shareable across concurrent
// readers (spec §5: "a QTree is immutable post-flush").
package qtree

import "fmt"

// node is either a leaf carrying a uniform Value, or an internal node with
// four children in ll,lr,ul,ur order (matching tileid.ChildIndex).
type node struct {
	leaf     bool
	value    uint32
	children *[4]*node
}

func leafNode(v uint32) *node {
	return &node{leaf: true, value: v}
}

// QTree is a compressed quadtree over a 2^Depth x 2^Depth domain.
type QTree struct {
	depth int
	root  *node
}

// New creates a QTree of the given depth, uniformly filled with v.
func New(depth int, v uint32) *QTree {
	if depth < 0 {
		panic(fmt.Sprintf("qtree: negative depth %d", depth))
	}
	return &QTree{depth: depth, root: leafNode(v)}
}

// Depth returns the tree's depth.
func (t *QTree) Depth() int { return t.depth }

// Size returns 2^Depth, the domain's edge length in cells.
func (t *QTree) Size() int { return 1 << t.depth }

// Rect is an axis-aligned integer rectangle [X, X+W) x [Y, Y+H).
type Rect struct {
	X, Y, W, H int
}

func (r Rect) intersects(o Rect) bool {
	return r.X < o.X+o.W && r.X+r.W > o.X && r.Y < o.Y+o.H && r.Y+r.H > o.Y
}

func (r Rect) contains(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y && o.X+o.W <= r.X+r.W && o.Y+o.H <= r.Y+r.H
}

// childIndex returns which quadrant of a size x size node (x,y) falls in,
// plus the coordinates relative to that quadrant's own origin.
func childIndex(x, y, half int) (idx, nx, ny int) {
	col, row := 0, 0
	nx, ny = x, y
	if x >= half {
		col = 1
		nx = x - half
	}
	if y >= half {
		row = 1
		ny = y - half
	}
	return row*2 + col, nx, ny
}

// quadOrigin returns the (x,y) origin of child idx within a parent node
// whose own origin is (x0,y0) and whose size is size (half = size/2).
func quadOrigin(x0, y0, half, idx int) (int, int) {
	col := idx % 2
	row := idx / 2
	return x0 + col*half, y0 + row*half
}

// Get returns the value stored at cell (x,y). x and y must be in [0,Size()).
func (t *QTree) Get(x, y int) uint32 {
	return t.root.get(x, y, t.Size())
}

func (n *node) get(x, y, size int) uint32 {
	if n.leaf || size == 1 {
		return n.value
	}
	half := size / 2
	idx, nx, ny := childIndex(x, y, half)
	return n.children[idx].get(nx, ny, half)
}

// Set stores v at cell (x,y), splitting ancestor leaves as needed and
// collapsing on ascent when all four siblings end up equal.
func (t *QTree) Set(x, y int, v uint32) {
	t.root = t.root.set(x, y, t.Size(), v)
}

func (n *node) set(x, y, size int, v uint32) *node {
	if size == 1 {
		if n.leaf && n.value == v {
			return n
		}
		return leafNode(v)
	}
	if n.leaf && n.value == v {
		return n
	}
	half := size / 2
	idx, nx, ny := childIndex(x, y, half)
	children := n.splitChildren()
	children[idx] = children[idx].set(nx, ny, half, v)
	return collapse(children)
}

// splitChildren returns n's four children, materializing them from a leaf
// value if n is currently a leaf.
func (n *node) splitChildren() [4]*node {
	if !n.leaf {
		return *n.children
	}
	leaf := leafNode(n.value)
	return [4]*node{leaf, leaf, leaf, leaf}
}

// collapse returns an internal node over children, or a single leaf if all
// four children are leaves carrying the same value.
func collapse(children [4]*node) *node {
	first := children[0]
	if first.leaf {
		uniform := true
		for _, c := range children[1:] {
			if !c.leaf || c.value != first.value {
				uniform = false
				break
			}
		}
		if uniform {
			return leafNode(first.value)
		}
	}
	cs := children
	return &node{children: &cs}
}

// Fill overwrites every cell in region with v. region is clipped to the
// tree's domain.
func (t *QTree) Fill(region Rect, v uint32) {
	t.root = t.root.fill(0, 0, t.Size(), region, v)
}

func (n *node) fill(x0, y0, size int, region Rect, v uint32) *node {
	self := Rect{X: x0, Y: y0, W: size, H: size}
	if !self.intersects(region) {
		return n
	}
	if region.contains(self) {
		return leafNode(v)
	}
	if size == 1 {
		// A unit cell that intersects but isn't fully contained can't
		// happen for integer rects, but stay correct if it ever does.
		return leafNode(v)
	}
	half := size / 2
	children := n.splitChildren()
	for idx := 0; idx < 4; idx++ {
		cx, cy := quadOrigin(x0, y0, half, idx)
		children[idx] = children[idx].fill(cx, cy, half, region, v)
	}
	return collapse(children)
}

// ForEachQuad visits every maximal uniform square quad whose value
// satisfies pred, in row-major quad-ascent order (same index order as
// tileid.ChildIndex: within each node, ll, lr, ul, ur).
func (t *QTree) ForEachQuad(pred func(uint32) bool, cb func(r Rect, v uint32)) {
	t.root.forEachQuad(0, 0, t.Size(), pred, cb)
}

func (n *node) forEachQuad(x0, y0, size int, pred func(uint32) bool, cb func(Rect, uint32)) {
	if n.leaf {
		if pred(n.value) {
			cb(Rect{X: x0, Y: y0, W: size, H: size}, n.value)
		}
		return
	}
	half := size / 2
	for idx := 0; idx < 4; idx++ {
		cx, cy := quadOrigin(x0, y0, half, idx)
		n.children[idx].forEachQuad(cx, cy, half, pred, cb)
	}
}

// binOp combines two same-depth trees cell-by-cell with op, short-circuiting
// whenever both sides are already uniform leaves. Complexity is O(|A|+|B|)
// in leaf count, per spec §4.1.
func binOp(a, b *node, size int, op func(x, y uint32) uint32) *node {
	if a.leaf && b.leaf {
		return leafNode(op(a.value, b.value))
	}
	if size == 1 {
		return leafNode(op(a.value, b.value))
	}
	half := size / 2
	ac := a.splitChildren()
	bc := b.splitChildren()
	var out [4]*node
	for i := 0; i < 4; i++ {
		out[i] = binOp(ac[i], bc[i], half, op)
	}
	return collapse(out)
}

func (t *QTree) combine(other *QTree, op func(x, y uint32) uint32) *QTree {
	if t.depth != other.depth {
		panic(fmt.Sprintf("qtree: depth mismatch %d != %d", t.depth, other.depth))
	}
	return &QTree{depth: t.depth, root: binOp(t.root, other.root, t.Size(), op)}
}

// Or returns the bitwise-OR of t and other, cell by cell.
func (t *QTree) Or(other *QTree) *QTree {
	return t.combine(other, func(x, y uint32) uint32 { return x | y })
}

// And returns the bitwise-AND of t and other, cell by cell.
func (t *QTree) And(other *QTree) *QTree {
	return t.combine(other, func(x, y uint32) uint32 { return x & y })
}

// Xor returns the bitwise-XOR of t and other, cell by cell.
func (t *QTree) Xor(other *QTree) *QTree {
	return t.combine(other, func(x, y uint32) uint32 { return x ^ y })
}

// Sub returns t with every bit set in other cleared, cell by cell
// (t AND NOT other).
func (t *QTree) Sub(other *QTree) *QTree {
	return t.combine(other, func(x, y uint32) uint32 { return x &^ y })
}

// Clone returns a QTree sharing t's (immutable) node graph. Safe because
// Set/Fill never mutate existing nodes in place.
func (t *QTree) Clone() *QTree {
	return &QTree{depth: t.depth, root: t.root}
}

// Equal reports whether t and other carry the same depth and the same
// value at every cell.
func (t *QTree) Equal(other *QTree) bool {
	if t.depth != other.depth {
		return false
	}
	return nodesEqual(t.root, other.root)
}

func nodesEqual(a, b *node) bool {
	if a.leaf && b.leaf {
		return a.value == b.value
	}
	if a.leaf != b.leaf {
		// Different shapes can still cover equal values; compare by
		// expanding the leaf side (rare path, correctness over speed).
		var expanded [4]*node
		if a.leaf {
			l := leafNode(a.value)
			expanded = [4]*node{l, l, l, l}
			for i, bc := range *b.children {
				if !nodesEqual(expanded[i], bc) {
					return false
				}
			}
			return true
		}
		l := leafNode(b.value)
		expanded = [4]*node{l, l, l, l}
		for i, ac := range *a.children {
			if !nodesEqual(ac, expanded[i]) {
				return false
			}
		}
		return true
	}
	for i := 0; i < 4; i++ {
		if !nodesEqual(a.children[i], b.children[i]) {
			return false
		}
	}
	return true
}

// IsUniform reports whether the whole tree is a single value, returning it.
func (t *QTree) IsUniform() (uint32, bool) {
	if t.root.leaf {
		return t.root.value, true
	}
	return 0, false
}

// LeafCount returns the number of leaves in the compressed representation
// (used by callers that want to reason about |A|+|B| bulk-op cost).
func (t *QTree) LeafCount() int {
	return t.root.leafCount()
}

func (n *node) leafCount() int {
	if n.leaf {
		return 1
	}
	total := 0
	for _, c := range n.children {
		total += c.leafCount()
	}
	return total
}

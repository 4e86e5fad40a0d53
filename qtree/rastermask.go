package qtree

// RasterMask is a QTree with boolean payload (0/1), used for mesh coverage
// masks (spec §3, coverageSize() x coverageSize()).
type RasterMask struct {
	tree *QTree
}

// NewRasterMask creates an all-clear mask over a 2^depth x 2^depth domain.
func NewRasterMask(depth int) *RasterMask {
	return &RasterMask{tree: New(depth, 0)}
}

// RasterMaskFromTree wraps an already-decoded boolean-payload QTree as a
// RasterMask, the inverse of Tree — used by callers deserializing a
// coverage mask blob via Decode.
func RasterMaskFromTree(tree *QTree) *RasterMask {
	return &RasterMask{tree: tree}
}

// Depth returns the mask's depth.
func (m *RasterMask) Depth() int { return m.tree.depth }

// Size returns the mask's edge length in pixels.
func (m *RasterMask) Size() int { return m.tree.Size() }

// Get reports whether (x,y) is set.
func (m *RasterMask) Get(x, y int) bool {
	return m.tree.Get(x, y) != 0
}

// Set marks or clears (x,y).
func (m *RasterMask) Set(x, y int, v bool) {
	m.tree.Set(x, y, boolValue(v))
}

// FillRect marks or clears every pixel in region.
func (m *RasterMask) FillRect(region Rect, v bool) {
	m.tree.Fill(region, boolValue(v))
}

// FullySet reports whether every pixel in the mask is set.
func (m *RasterMask) FullySet() bool {
	v, uniform := m.tree.IsUniform()
	return uniform && v != 0
}

// Empty reports whether every pixel in the mask is clear.
func (m *RasterMask) Empty() bool {
	v, uniform := m.tree.IsUniform()
	return uniform && v == 0
}

// Invert returns the logical complement of m.
func (m *RasterMask) Invert() *RasterMask {
	full := New(m.tree.depth, 1)
	return &RasterMask{tree: m.tree.Xor(full)}
}

// Union returns the OR of m and other.
func (m *RasterMask) Union(other *RasterMask) *RasterMask {
	return &RasterMask{tree: m.tree.Or(other.tree)}
}

// Intersect returns the AND of m and other.
func (m *RasterMask) Intersect(other *RasterMask) *RasterMask {
	return &RasterMask{tree: m.tree.And(other.tree)}
}

// ForEachRect visits every maximal rectangle whose value matches set.
func (m *RasterMask) ForEachRect(set bool, cb func(Rect)) {
	want := boolValue(set)
	m.tree.ForEachQuad(func(v uint32) bool { return v == want }, func(r Rect, _ uint32) {
		cb(r)
	})
}

// Tree exposes the underlying QTree for callers that need direct
// serialization access (e.g. encoding a coverage mask blob with Encode).
func (m *RasterMask) Tree() *QTree { return m.tree }

func boolValue(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}

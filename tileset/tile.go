// Package tileset composes a driver.Driver, a tileindex.TileIndex, and a
// refframe.Frame into the CRUD-level logical tile store (spec §4.5),
// grounded on the teacher's atlas.go: a small owning struct layered over a
// driver-backed resource, with the same "look up, fall back to a visible
// placeholder rather than erroring" posture atlas.Region takes for missing
// regions, reused here by delivery's debug mask flavor.
package tileset

// Tile bundles the independent per-TileId artefacts a single setTile call
// may write (spec §3): raw encoded mesh bytes, one raster image per
// submesh, and the coverage mask saying which mask pixels the mesh covers.
// Mesh/Atlas bytes are opaque to this package — paste/glue copy them
// verbatim through the driver's stream API without re-encoding.
type Tile struct {
	Mesh         []byte
	Atlas        [][]byte
	CoverageMask []byte // serialized qtree.RasterMask, coverageSize() square
}

// NavTile is the small floating-point height grid attached to a tile
// (spec §3): Size × Size samples in row-major order, with the grid's
// overall (min,max) height range cached alongside it.
type NavTile struct {
	Size      int
	Heights   []float32
	MinHeight float32
	MaxHeight float32
}

// coverageSize is the fixed resolution of a tile's coverage mask and
// navtile grid (spec §3: "typically 256²").
const coverageSize = 256

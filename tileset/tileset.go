// Package tileset implements the logical tile store of spec §3: a Driver,
// a TileIndex, and a reference-frame Frame composed behind setTile/getMesh/
// getAtlas/getNavTile/flush, with MetaNode propagation folded into every
// write (see recomputeMetaChain for how far that propagation reaches).
package tileset

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/opentiles/tilestore/config"
	"github.com/opentiles/tilestore/driver"
	"github.com/opentiles/tilestore/qtree"
	"github.com/opentiles/tilestore/refframe"
	"github.com/opentiles/tilestore/tileerror"
	"github.com/opentiles/tilestore/tileid"
	"github.com/opentiles/tilestore/tileindex"
	"github.com/opentiles/tilestore/tilelog"
)

// coverageMaskDepth is log2(coverageSize): a coverageSize×coverageSize
// RasterMask is a depth-8 QTree.
const coverageMaskDepth = 8

// defaultMetaBinaryOrder is the tunable block size metatiles pack nodes
// into (spec §3: "a tunable of typically 5: 32×32 nodes per metatile").
const defaultMetaBinaryOrder = 5

// TileSet composes a Driver, a TileIndex, and a reference-frame Frame into
// the logical tile store of spec §3: create empty, populate via setTile,
// flush, then treat as sealed read-only (spec §3 "Lifecycle").
type TileSet struct {
	drv             driver.Driver
	index           *tileindex.TileIndex
	frame           *refframe.Frame
	cfg             config.Config
	log             tilelog.Logger
	metaBinaryOrder uint8

	// metaTiles caches MetaTiles touched since the last Flush, keyed by
	// their super-tile MetaId; absent entries are lazily loaded from drv
	// on first touch. This is the in-memory working set Flush persists.
	metaTiles map[tileid.ID]*MetaTile
}

// Option configures New.
type Option func(*TileSet)

// WithLogger overrides the default logger.
func WithLogger(l tilelog.Logger) Option {
	return func(ts *TileSet) { ts.log = l }
}

// WithMetaBinaryOrder overrides the default metatile packing order.
func WithMetaBinaryOrder(order uint8) Option {
	return func(ts *TileSet) { ts.metaBinaryOrder = order }
}

// New creates an empty TileSet over drv, addressed under frame and
// described by cfg.
func New(drv driver.Driver, frame *refframe.Frame, cfg config.Config, opts ...Option) *TileSet {
	ts := &TileSet{
		drv:             drv,
		index:           tileindex.New(cfg.LodRangeValue()),
		frame:           frame,
		cfg:             cfg,
		log:             tilelog.Default(),
		metaBinaryOrder: defaultMetaBinaryOrder,
		metaTiles:       map[tileid.ID]*MetaTile{},
	}
	for _, opt := range opts {
		opt(ts)
	}
	return ts
}

// Open reopens a previously flushed TileSet from drv: reads the serialized
// TileIndex and config tokens back in (spec §3: "Re-opening read-write
// re-enters the populated state").
func Open(drv driver.Driver, frame *refframe.Frame, opts ...Option) (*TileSet, error) {
	cfgRC, err := drv.Input(driver.TokenKey(driver.TokenConfig))
	if err != nil {
		return nil, err
	}
	if cfgRC == nil {
		return nil, tileerror.New(tileerror.NoSuchFile, "tileset: missing config token")
	}
	cfg, err := config.Load(cfgRC)
	cfgRC.Close()
	if err != nil {
		return nil, err
	}

	idxRC, err := drv.Input(driver.TokenKey(driver.TokenTileIndex))
	if err != nil {
		return nil, err
	}
	var idx *tileindex.TileIndex
	if idxRC == nil {
		idx = tileindex.New(cfg.LodRangeValue())
	} else {
		buf, readErr := io.ReadAll(idxRC)
		idxRC.Close()
		if readErr != nil {
			return nil, tileerror.Wrap(tileerror.IOError, readErr, "tileset: reading tileindex token")
		}
		decoded, _, decErr := tileindex.Decode(buf)
		if decErr != nil {
			return nil, decErr
		}
		idx = decoded
	}

	ts := New(drv, frame, cfg, opts...)
	ts.index = idx
	return ts, nil
}

// Index returns the tile set's TileIndex.
func (ts *TileSet) Index() *tileindex.TileIndex { return ts.index }

// Driver returns the tile set's Driver, for composition code (paste/glue)
// that needs to stream raw payloads without going through TileSet's
// decode/encode helpers.
func (ts *TileSet) Driver() driver.Driver { return ts.drv }

// Frame returns the tile set's reference frame.
func (ts *TileSet) Frame() *refframe.Frame { return ts.frame }

// Config returns the tile set's config document.
func (ts *TileSet) Config() config.Config { return ts.cfg }

// LodRange returns the tile set's declared LOD range.
func (ts *TileSet) LodRange() tileid.LodRange { return ts.index.DeclaredLodRange() }

// Empty reports whether no tile has ever been set.
func (ts *TileSet) Empty() bool {
	return ts.index.LodRange().Empty()
}

// Exists reports whether any material payload is present at id.
func (ts *TileSet) Exists(id tileid.ID) bool {
	return ts.index.Exists(id)
}

// FullyCovered reports whether id has a mesh and its coverage mask is
// entirely set (spec §4.5).
func (ts *TileSet) FullyCovered(id tileid.ID) (bool, error) {
	if ts.index.Get(id)&tileindex.FlagMesh == 0 {
		return false, nil
	}
	mask, err := ts.getCoverageMask(id)
	if err != nil || mask == nil {
		return false, err
	}
	return mask.FullySet(), nil
}

// GetMesh returns the raw mesh bytes stored at id, or nil if absent.
func (ts *TileSet) GetMesh(id tileid.ID) ([]byte, error) {
	framed, err := ts.readBlob(driver.TileKey(id, driver.FileMesh))
	if err != nil || framed == nil {
		return nil, err
	}
	mesh, _, err := decodeMeshFrame(framed)
	return mesh, err
}

// GetAtlas streams the raw atlas bytes stored at id into out.
func (ts *TileSet) GetAtlas(id tileid.ID, out io.Writer) error {
	rc, err := ts.drv.Input(driver.TileKey(id, driver.FileAtlas))
	if err != nil {
		return err
	}
	if rc == nil {
		return tileerror.New(tileerror.NoSuchFile, "tileset: no atlas at %s", id)
	}
	defer rc.Close()
	if _, err := io.Copy(out, rc); err != nil {
		return tileerror.Wrap(tileerror.IOError, err, "tileset: copying atlas")
	}
	return nil
}

// GetNavTile returns the navtile stored at id, or nil if absent.
func (ts *TileSet) GetNavTile(id tileid.ID) (*NavTile, error) {
	blob, err := ts.readBlob(driver.TileKey(id, driver.FileNavTile))
	if err != nil || blob == nil {
		return nil, err
	}
	return decodeNavTile(blob)
}

// GetCoverageMask returns id's decoded coverage mask, or nil if id has no
// mesh or no mask was recorded for it. Exposed for glue's per-pixel
// compositing (spec §4.7), which needs the raw mask rather than the
// FullyCovered summary.
func (ts *TileSet) GetCoverageMask(id tileid.ID) (*qtree.RasterMask, error) {
	return ts.getCoverageMask(id)
}

func (ts *TileSet) getCoverageMask(id tileid.ID) (*qtree.RasterMask, error) {
	framed, err := ts.readBlob(driver.TileKey(id, driver.FileMesh))
	if err != nil || framed == nil {
		return nil, err
	}
	_, maskBlob, err := decodeMeshFrame(framed)
	if err != nil || maskBlob == nil {
		return nil, err
	}
	tree, _, err := qtree.Decode(coverageMaskDepth, maskBlob)
	if err != nil {
		return nil, err
	}
	return qtree.RasterMaskFromTree(tree), nil
}

func (ts *TileSet) readBlob(key driver.Key) ([]byte, error) {
	rc, err := ts.drv.Input(key)
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, nil
	}
	defer rc.Close()
	buf, err := io.ReadAll(rc)
	if err != nil {
		return nil, tileerror.Wrap(tileerror.IOError, err, "tileset: reading blob")
	}
	return buf, nil
}

// encodeMeshFrame packs mesh bytes and an optional coverage-mask blob into
// the single stream stored at FileMesh: [meshLen u32][mesh][maskLen
// u32][mask]. The mesh and its coverage mask are one logical artefact
// (spec §3 defines CoverageMask as a property of the mesh, not an
// independent payload), so they share one driver key rather than
// contending for the FileMeta key metatiles already use.
func encodeMeshFrame(mesh, mask []byte) []byte {
	buf := make([]byte, 0, 8+len(mesh)+len(mask))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(mesh)))
	buf = append(buf, mesh...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(mask)))
	buf = append(buf, mask...)
	return buf
}

func decodeMeshFrame(buf []byte) (mesh, mask []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, tileerror.New(tileerror.FormatError, "tileset: mesh frame too short")
	}
	meshLen := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	if uint32(len(buf)) < meshLen {
		return nil, nil, tileerror.New(tileerror.FormatError, "tileset: mesh frame truncated")
	}
	mesh = buf[:meshLen]
	buf = buf[meshLen:]
	if len(buf) < 4 {
		return mesh, nil, nil
	}
	maskLen := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	if uint32(len(buf)) < maskLen || maskLen == 0 {
		return mesh, nil, nil
	}
	mask = buf[:maskLen]
	return mesh, mask, nil
}

// SetTile writes the mesh (framed with its coverage mask) and the atlas
// pages, updates tileindex flags,
// and recomputes the affected MetaNode chain (spec §4.5). If info is the
// zero value, NodeInfo is derived from (reference frame, id); non-zero
// values are trusted as-is. Tile carries no navtile and SetTile writes
// none; navtiles are written separately by SetNavTile.
func (ts *TileSet) SetTile(id tileid.ID, tile Tile, info refframe.NodeInfo) error {
	if err := writeBlob(ts.drv, driver.TileKey(id, driver.FileMesh), encodeMeshFrame(tile.Mesh, tile.CoverageMask)); err != nil {
		return err
	}
	for _, page := range tile.Atlas {
		if err := writeBlob(ts.drv, driver.TileKey(id, driver.FileAtlas), page); err != nil {
			return err
		}
	}

	ts.index.SetMask(id, tileindex.FlagMesh|tileindex.FlagAtlas, true)
	ts.propagateAncestorFlags(id)

	resolved := info
	if resolved == (refframe.NodeInfo{}) {
		for _, srs := range ts.frame.SRSList() {
			if r, ok := resolveNodeInfo(ts.frame, srs, id); ok {
				resolved = r
				break
			}
		}
	}

	ts.recomputeMetaChain(id, resolved)
	return nil
}

// SetNavTile writes a navtile at id, which must already have a mesh.
func (ts *TileSet) SetNavTile(id tileid.ID, nav NavTile) error {
	if ts.index.Get(id)&tileindex.FlagMesh == 0 {
		return tileerror.New(tileerror.InconsistentInput, "tileset: SetNavTile at %s requires an existing mesh", id)
	}
	if err := writeBlob(ts.drv, driver.TileKey(id, driver.FileNavTile), encodeNavTile(nav)); err != nil {
		return err
	}
	ts.index.SetMask(id, tileindex.FlagNavTile, true)
	ts.updateHeightRange(id, nav)
	return nil
}

func writeBlob(drv driver.Driver, key driver.Key, data []byte) error {
	w, err := drv.Output(key)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return tileerror.Wrap(tileerror.IOError, err, "tileset: writing blob")
	}
	return w.Close()
}

// propagateAncestorFlags sets the has-children bit on every ancestor of id,
// mirroring TileIndex.MakeAbsolute's invariant but scoped to a single
// insertion so SetTile doesn't have to re-walk the whole pyramid.
func (ts *TileSet) propagateAncestorFlags(id tileid.ID) {
	cur := id
	for {
		parent, ok := cur.Parent()
		if !ok {
			return
		}
		if ts.index.Get(parent)&tileindex.FlagHasChildren != 0 {
			return
		}
		ts.index.SetMask(parent, tileindex.FlagHasChildren, true)
		cur = parent
	}
}

// recomputeMetaChain updates id's own MetaNode from info, then walks
// upward recomputing each ancestor's aggregated fields from whichever
// children are currently cached in memory (spec §4.5: "recomputes
// affected metanode fields ... by reading children's metadata").
//
// This is a bounded approximation: an ancestor's height range/texel size
// reflect only the children touched so far this session, not a full
// recursive recomputation from all four. Flush persists the cached
// metatiles as they stand and performs no from-scratch rebuild, so the
// persisted ancestors carry the same approximation; this keeps SetTile
// itself O(lodRange) instead of O(subtree).
func (ts *TileSet) recomputeMetaChain(id tileid.ID, info refframe.NodeInfo) {
	leaf := MetaNode{
		Flags:       MetaHasMesh | MetaHasAtlas,
		Extents:     info.Extents,
		DisplaySize: coverageSize,
		TexelSize:   float32(info.Extents.Width() / coverageSize),
	}
	ts.setMetaNode(id, leaf)
	ts.bubbleUp(id)
}

// bubbleUp recomputes every ancestor of id from its already-cached child,
// stopping as soon as a merge produces no change.
func (ts *TileSet) bubbleUp(id tileid.ID) {
	cur := id
	for {
		parent, ok := cur.Parent()
		if !ok {
			return
		}
		child := ts.getMetaNode(cur)
		existing := ts.getMetaNode(parent)
		merged, changed := mergeMetaNode(existing, child)
		if !changed {
			return
		}
		ts.setMetaNode(parent, merged)
		cur = parent
	}
}

// mergeMetaNode folds child into parent per §4.5's propagation rule (union
// height range, texel size = max(children)/2, has-children if any
// descendant exists), returning changed=false once a fixpoint is reached
// so callers can stop bubbling upward early.
func mergeMetaNode(parent, child MetaNode) (MetaNode, bool) {
	out := parent
	changed := false
	hadChildren := out.Flags&MetaHasChildren != 0

	if !hadChildren {
		out.Flags |= MetaHasChildren
		changed = true
	}

	if child.Flags&MetaHasNavTile != 0 {
		lo, hi := out.HeightRange[0], out.HeightRange[1]
		if !hadChildren {
			lo, hi = child.HeightRange[0], child.HeightRange[1]
		} else {
			lo = minFloat32(lo, child.HeightRange[0])
			hi = maxFloat32(hi, child.HeightRange[1])
		}
		if lo != out.HeightRange[0] || hi != out.HeightRange[1] {
			out.HeightRange = [2]float32{lo, hi}
			changed = true
		}
	}

	if child.TexelSize > 0 {
		candidate := child.TexelSize / 2
		if out.TexelSize == 0 || candidate > out.TexelSize {
			out.TexelSize = candidate
			changed = true
		}
	}

	return out, changed
}

func minFloat32(a, b float32) float32 { return float32(math.Min(float64(a), float64(b))) }
func maxFloat32(a, b float32) float32 { return float32(math.Max(float64(a), float64(b))) }

// updateHeightRange folds a navtile's intrinsic height range into id's own
// MetaNode (Open Question decision #1: sample min/max, not triangle
// min/max) and re-propagates upward.
func (ts *TileSet) updateHeightRange(id tileid.ID, nav NavTile) {
	node := ts.getMetaNode(id)
	node.Flags |= MetaHasNavTile
	node.HeightRange = [2]float32{nav.MinHeight, nav.MaxHeight}
	ts.setMetaNode(id, node)
	ts.bubbleUp(id)
}

// metaIdFor maps a tile id to the (MetaId, local offset) addressing its
// MetaNode slot within a packed MetaTile. MetaId groups tiles at id's own
// LOD into (lod, x>>order, y>>order) super-tile buckets, the same grouping
// tilardriver.superTileOf uses for archive placement (spec §4.4) — a
// MetaTile never mixes nodes from more than one LOD.
func (ts *TileSet) metaIdFor(id tileid.ID) (metaId tileid.ID, dx, dy int) {
	order := ts.metaBinaryOrder
	mask := uint32(1)<<order - 1
	metaId = tileid.ID{Lod: id.Lod, X: id.X >> order, Y: id.Y >> order}
	dx = int(id.X & mask)
	dy = int(id.Y & mask)
	return metaId, dx, dy
}

func (ts *TileSet) getMetaNode(id tileid.ID) MetaNode {
	metaId, dx, dy := ts.metaIdFor(id)
	mt := ts.loadMetaTile(metaId)
	n := 1 << mt.BinaryOrder
	if dx >= n || dy >= n {
		return MetaNode{}
	}
	return mt.At(dx, dy)
}

func (ts *TileSet) setMetaNode(id tileid.ID, node MetaNode) {
	metaId, dx, dy := ts.metaIdFor(id)
	mt := ts.loadMetaTile(metaId)
	n := 1 << mt.BinaryOrder
	if dx >= n || dy >= n {
		return
	}
	mt.Set(dx, dy, node)
}

func (ts *TileSet) loadMetaTile(metaId tileid.ID) *MetaTile {
	if mt, ok := ts.metaTiles[metaId]; ok {
		return mt
	}
	blob, err := ts.readBlob(driver.TileKey(metaId, driver.FileMeta))
	if err == nil && blob != nil {
		if mt, decErr := DecodeMetaTile(blob); decErr == nil {
			ts.metaTiles[metaId] = mt
			return mt
		}
	}
	mt := NewMetaTile(metaId, ts.metaBinaryOrder)
	ts.metaTiles[metaId] = mt
	return mt
}

// GetMetaNode returns the MetaNode at id.
func (ts *TileSet) GetMetaNode(id tileid.ID) MetaNode { return ts.getMetaNode(id) }

// SetMetaNode installs node directly at id's MetaNode slot and bubbles the
// change upward, without going through a SetTile write. glue.Paste uses
// this to carry a source tile set's already-computed MetaNode across when
// it copies payload bytes verbatim (spec §4.7: "rebuild dst metatiles").
func (ts *TileSet) SetMetaNode(id tileid.ID, node MetaNode) {
	ts.setMetaNode(id, node)
	ts.bubbleUp(id)
}

// PropagateAncestorFlags sets the has-children bit on every ancestor of id.
// Exposed for glue.Paste, which updates tileindex flags directly from a
// copied source entry rather than via SetTile.
func (ts *TileSet) PropagateAncestorFlags(id tileid.ID) {
	ts.propagateAncestorFlags(id)
}

// GetMetaTile returns the MetaTile addressed at metaId, loading it from
// the driver if it isn't already cached.
func (ts *TileSet) GetMetaTile(metaId tileid.ID) *MetaTile { return ts.loadMetaTile(metaId) }

// Flush writes every dirty metatile, serializes the TileIndex, and writes
// config (spec §4.5). The tile set is unreadable by a fresh Open until
// this succeeds.
func (ts *TileSet) Flush() error {
	for metaId, mt := range ts.metaTiles {
		if err := writeBlob(ts.drv, driver.TileKey(metaId, driver.FileMeta), EncodeMetaTile(mt)); err != nil {
			return err
		}
	}

	if err := writeBlob(ts.drv, driver.TokenKey(driver.TokenTileIndex), ts.index.Encode(nil)); err != nil {
		return err
	}

	var cfgBuf bytes.Buffer
	if err := config.Save(&cfgBuf, ts.cfg); err != nil {
		return err
	}
	if err := writeBlob(ts.drv, driver.TokenKey(driver.TokenConfig), cfgBuf.Bytes()); err != nil {
		return err
	}

	if err := ts.drv.Flush(); err != nil {
		return err
	}
	ts.log.WithField("metatiles", len(ts.metaTiles)).Debug("tileset: flush complete")
	return nil
}

// Package glue implements bulk tile-set composition: Paste merges a single
// non-overlapping source into a destination tile set by streaming raw
// payload bytes, and CreateGlue merges N overlapping tile sets by priority
// (spec §4.7).
//
// Both are free functions taking *tileset.TileSet rather than TileSet
// methods: glue must import tileset to operate on tile sets, so a method
// defined on TileSet itself would cycle back through this package.
package glue

import (
	"bytes"
	"io"

	"github.com/opentiles/tilestore/driver"
	"github.com/opentiles/tilestore/qtree"
	"github.com/opentiles/tilestore/refframe"
	"github.com/opentiles/tilestore/tileerror"
	"github.com/opentiles/tilestore/tileid"
	"github.com/opentiles/tilestore/tileindex"
	"github.com/opentiles/tilestore/tileset"
)

// Paste bulk-copies every material tile of src into dst by streaming raw
// payload bytes through the driver's Input/Output API, without decoding
// mesh, atlas, or navtile content (spec §4.7 "Paste"). lodRange restricts
// the copy to a subrange of src's own declared range; nil copies all of it.
//
// Conflict policy is last-write-wins: a tile already present in dst is
// silently overwritten, bytes and flags both, with no warning (spec §4.7).
// Callers composing more than one source call Paste once per source, in
// ascending priority order, exactly as TileSet.paste does in spec §4.3.
func Paste(dst, src *tileset.TileSet, lodRange *tileid.LodRange) error {
	r := src.Index().DeclaredLodRange()
	if lodRange != nil {
		r = intersectLodRange(r, *lodRange)
	}
	if r.Empty() {
		return nil
	}

	for lod := int(r.Min); lod <= int(r.Max); lod++ {
		var walkErr error
		src.Index().Traverse(uint8(lod), func(id tileid.ID, flags uint32) {
			if walkErr != nil || flags&tileindex.MaterialMask == 0 {
				return
			}
			walkErr = pasteTile(dst, src, id, flags)
		})
		if walkErr != nil {
			return walkErr
		}
	}
	return nil
}

func pasteTile(dst, src *tileset.TileSet, id tileid.ID, flags uint32) error {
	for _, file := range [3]driver.TileFile{driver.FileMesh, driver.FileAtlas, driver.FileNavTile} {
		if err := copyStream(dst.Driver(), src.Driver(), driver.TileKey(id, file)); err != nil {
			return err
		}
	}

	dst.Index().Set(id, flags)
	dst.PropagateAncestorFlags(id)

	if node := src.GetMetaNode(id); node.Flags != 0 {
		dst.SetMetaNode(id, node)
	}
	return nil
}

func copyStream(dstDrv, srcDrv driver.Driver, key driver.Key) error {
	rc, err := srcDrv.Input(key)
	if err != nil {
		return err
	}
	if rc == nil {
		return nil
	}
	defer rc.Close()

	w, err := dstDrv.Output(key)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		w.Close()
		return tileerror.Wrap(tileerror.IOError, err, "glue: copying payload")
	}
	return w.Close()
}

func intersectLodRange(a, b tileid.LodRange) tileid.LodRange {
	out := a
	if b.Min > out.Min {
		out.Min = b.Min
	}
	if b.Max < out.Max {
		out.Max = b.Max
	}
	if out.Min > out.Max {
		return tileid.EmptyLodRange()
	}
	return out
}

// CreateGlue composes srcs, given in ascending priority order (last element
// wins), into out (spec §4.7 "Glue"). For every TileId present in at least
// one source, the highest-priority contributor with data there is
// dominant: its mesh and coverage mask form the surface, and lower-priority
// contributors leak through only where the dominant (and each successively
// unioned) coverage mask leaves gaps. The MetaNode's Reference field
// records the dominant contributor's 1-based rank (Open Question decision
// #3).
//
// out is only readable as a valid tile set once Flush succeeds; CreateGlue
// itself calls Flush exactly once, at the end, after every tile has been
// written without error. If any source tile is unreadable, CreateGlue
// returns before Flush runs, so a fresh Open of out's driver still fails
// with the same "missing config token" it would before CreateGlue ran —
// no partial glue is ever visible to a reader that only opens completed
// tile sets (spec §4.7 "aborted before any output is visible").
func CreateGlue(out *tileset.TileSet, srcs []*tileset.TileSet) error {
	if len(srcs) == 0 {
		return tileerror.New(tileerror.InconsistentInput, "glue: CreateGlue requires at least one source")
	}
	if len(srcs) == 1 {
		if err := Paste(out, srcs[0], nil); err != nil {
			return err
		}
		return out.Flush()
	}

	ids, err := unionMaterialIds(srcs)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := glueTile(out, srcs, id); err != nil {
			return err
		}
	}
	return out.Flush()
}

// unionMaterialIds collects every TileId carrying material flags in any of
// srcs, walking shallowest LOD first so parents are glued before their
// children (bubbleUp then only ever merges upward into nodes already
// touched this run).
func unionMaterialIds(srcs []*tileset.TileSet) ([]tileid.ID, error) {
	haveAny := false
	var minLod, maxLod uint8
	for _, s := range srcs {
		r := s.Index().DeclaredLodRange()
		if r.Empty() {
			continue
		}
		if !haveAny || r.Min < minLod {
			minLod = r.Min
		}
		if !haveAny || r.Max > maxLod {
			maxLod = r.Max
		}
		haveAny = true
	}
	if !haveAny {
		return nil, nil
	}

	seen := map[tileid.ID]bool{}
	var ids []tileid.ID
	for lod := int(minLod); lod <= int(maxLod); lod++ {
		for _, s := range srcs {
			r := s.Index().DeclaredLodRange()
			if lod < int(r.Min) || lod > int(r.Max) {
				continue
			}
			s.Index().Traverse(uint8(lod), func(id tileid.ID, flags uint32) {
				if flags&tileindex.MaterialMask == 0 || seen[id] {
					return
				}
				seen[id] = true
				ids = append(ids, id)
			})
		}
	}
	return ids, nil
}

// contribution is one source's material at a TileId, gathered in
// descending priority order (highest-priority source first).
type contribution struct {
	rank  int // 1-based index into the caller's srcs slice
	src   *tileset.TileSet
	mesh  []byte
	atlas []byte
	mask  *qtree.RasterMask
}

func glueTile(out *tileset.TileSet, srcs []*tileset.TileSet, id tileid.ID) error {
	var contribs []contribution
	for i := len(srcs) - 1; i >= 0; i-- {
		s := srcs[i]
		if !s.Exists(id) {
			continue
		}
		mesh, err := s.GetMesh(id)
		if err != nil {
			return err
		}
		if len(mesh) == 0 {
			continue
		}
		atlasBuf, err := readAtlas(s, id)
		if err != nil {
			return err
		}
		mask, err := s.GetCoverageMask(id)
		if err != nil {
			return err
		}
		contribs = append(contribs, contribution{rank: i + 1, src: s, mesh: mesh, atlas: atlasBuf, mask: mask})
	}
	if len(contribs) == 0 {
		return nil
	}

	var coverage *qtree.RasterMask
	var parts []compositePart
	var atlasPages [][]byte
	for _, c := range contribs {
		if coverage != nil && coverage.FullySet() {
			break
		}
		parts = append(parts, compositePart{rank: c.rank, mesh: c.mesh})
		if len(c.atlas) > 0 {
			atlasPages = append(atlasPages, c.atlas)
		}
		if c.mask == nil {
			// No recorded mask: treat this contributor as covering nothing,
			// the same conservative reading TileSet.FullyCovered gives a
			// nil mask, so a lower-priority source still gets a chance to
			// leak through beneath it.
			continue
		}
		if coverage == nil {
			coverage = c.mask
		} else {
			coverage = coverage.Union(c.mask)
		}
	}

	dominant := contribs[0]
	var maskBytes []byte
	if coverage != nil {
		maskBytes = coverage.Tree().Encode(nil)
	}

	tile := tileset.Tile{
		Mesh:         encodeComposite(parts),
		Atlas:        atlasPages,
		CoverageMask: maskBytes,
	}
	if err := out.SetTile(id, tile, refframe.NodeInfo{}); err != nil {
		return err
	}

	if nav, err := dominant.src.GetNavTile(id); err != nil {
		return err
	} else if nav != nil {
		if err := out.SetNavTile(id, *nav); err != nil && tileerror.KindOf(err) != tileerror.InconsistentInput {
			return err
		}
	}

	node := out.GetMetaNode(id)
	node.Reference = uint16(dominant.rank)
	out.SetMetaNode(id, node)
	return nil
}

func readAtlas(s *tileset.TileSet, id tileid.ID) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.GetAtlas(id, &buf); err != nil {
		if tileerror.KindOf(err) == tileerror.NoSuchFile {
			return nil, nil
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

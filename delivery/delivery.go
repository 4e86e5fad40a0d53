// Package delivery is the read-only façade over a flushed tileset.TileSet:
// it synthesises derived streams on demand (spec §4.8) rather than storing
// them, the same "pure function from a driver view to a byte stream, not
// cached state" shape the teacher's atlas.go gives lazily-generated
// placeholder regions.
package delivery

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"time"

	"github.com/opentiles/tilestore/config"
	"github.com/opentiles/tilestore/qtree"
	"github.com/opentiles/tilestore/tileerror"
	"github.com/opentiles/tilestore/tileid"
	"github.com/opentiles/tilestore/tileindex"
	"github.com/opentiles/tilestore/tileset"
)

// metaGridDepth is log2(256): meta2d always renders a 256×256 minimap
// (spec §4.8).
const metaGridDepth = 8

// MaskFlavor selects mask's not-found behavior.
type MaskFlavor int

const (
	// Strict returns tileerror.NoSuchFile when id has no coverage mask.
	Strict MaskFlavor = iota
	// Debug returns a fully-transparent placeholder image instead of an
	// error, the delivery-layer analogue of the teacher's
	// magentaRegion() diagnostic placeholder.
	Debug
)

// Facade is the read-only view over ts that delivery's derived streams are
// computed from.
type Facade struct {
	ts *tileset.TileSet
}

// New wraps ts for delivery reads.
func New(ts *tileset.TileSet) *Facade {
	return &Facade{ts: ts}
}

// Meta2D renders a 256×256 grayscale PNG minimap of which descendants of
// id carry material content, sampled at whichever LOD is 8 levels below id
// (or the tile set's max LOD, if shallower). Generated lazily from the
// TileIndex on every call; never persisted (spec §4.8).
func (f *Facade) Meta2D(id tileid.ID) ([]byte, error) {
	maxLod := f.ts.LodRange().Max
	depth := metaGridDepth
	if avail := int(maxLod) - int(id.Lod); avail < depth {
		if avail < 0 {
			avail = 0
		}
		depth = avail
	}
	n := 1 << depth
	cell := 256 / n

	img := image.NewGray(image.Rect(0, 0, 256, 256))
	sampleLod := id.Lod + uint8(depth)
	for dy := 0; dy < n; dy++ {
		for dx := 0; dx < n; dx++ {
			desc := tileid.ID{Lod: sampleLod, X: id.X<<uint(depth) + uint32(dx), Y: id.Y<<uint(depth) + uint32(dy)}
			flags := f.ts.Index().Get(desc)
			var v color.Gray
			if flags&(tileindex.MaterialMask|tileindex.FlagHasChildren) != 0 {
				v = color.Gray{Y: 255}
			}
			fillCell(img, dx*cell, dy*cell, cell, v)
		}
	}
	return encodePNG(img)
}

func fillCell(img *image.Gray, x0, y0, size int, v color.Gray) {
	for y := y0; y < y0+size; y++ {
		for x := x0; x < x0+size; x++ {
			img.SetGray(x, y, v)
		}
	}
}

// Mask renders id's stored mesh coverage mask as a PNG: opaque white where
// set, transparent where clear. In flavor Debug, a tile with no recorded
// mask yields an all-transparent placeholder instead of an error (spec
// §4.8).
func (f *Facade) Mask(id tileid.ID, flavor MaskFlavor) ([]byte, error) {
	mask, err := f.ts.GetCoverageMask(id)
	if err != nil {
		return nil, err
	}
	if mask == nil {
		if flavor == Debug {
			size := 1 << metaGridDepth
			return encodePNG(image.NewNRGBA(image.Rect(0, 0, size, size)))
		}
		return nil, tileerror.New(tileerror.NoSuchFile, "delivery: no coverage mask at %s", id)
	}
	return encodePNG(renderMask(mask))
}

func renderMask(mask *qtree.RasterMask) image.Image {
	size := mask.Size()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	mask.ForEachRect(true, func(r qtree.Rect) {
		for y := r.Y; y < r.Y+r.H; y++ {
			for x := r.X; x < r.X+r.W; x++ {
				img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
	})
	return img
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, tileerror.Wrap(tileerror.Internal, err, "delivery: encoding png")
	}
	return buf.Bytes(), nil
}

// Credits returns id's subtree's credit set: verbatim from config if the
// tile set declares at most one credit, otherwise the union of every
// material tile's MetaNode credits under id, stopping as soon as every
// declared credit has been observed (spec §4.8 "early-exit when all known
// credits have been observed").
//
// The union walks material tile ids rather than distinct metatiles: ts
// does not expose metatile enumeration bounded to a subtree, and
// GetMetaNode already reads from whichever metatile is cached or lazily
// loaded underneath, so the observable result (and early-exit point) is
// identical to a metatile-granularity walk, just without that walk's
// internal node-batching.
func (f *Facade) Credits(id tileid.ID) ([]string, error) {
	declared := f.ts.Config().Credits
	if len(declared) <= 1 {
		return declared, nil
	}

	want := map[string]bool{}
	for _, c := range declared {
		want[c] = true
	}

	found := map[string]bool{}
	var ordered []string
	maxLod := int(f.ts.LodRange().Max)
	for lod := int(id.Lod); lod <= maxLod; lod++ {
		if allFound(want, found) {
			break
		}
		depth := lod - int(id.Lod)
		f.ts.Index().Traverse(uint8(lod), func(desc tileid.ID, flags uint32) {
			if allFound(want, found) || flags&tileindex.MaterialMask == 0 || !underSubtree(id, desc, depth) {
				return
			}
			for _, c := range f.ts.GetMetaNode(desc).Credits {
				if !found[c] {
					found[c] = true
					ordered = append(ordered, c)
				}
			}
		})
	}
	return ordered, nil
}

func allFound(want, found map[string]bool) bool {
	for c := range want {
		if !found[c] {
			return false
		}
	}
	return true
}

func underSubtree(root, desc tileid.ID, depth int) bool {
	if depth < 0 {
		return false
	}
	return desc.X>>uint(depth) == root.X && desc.Y>>uint(depth) == root.Y
}

// Config returns the tile set's config with driver-specific options
// stripped (spec §4.8).
func (f *Facade) Config() config.Config {
	return config.StripDriverOptions(f.ts.Config())
}

// LastModified is the max modification time across the tile set's
// underlying storage.
func (f *Facade) LastModified() time.Time {
	return f.ts.Driver().LastModified()
}

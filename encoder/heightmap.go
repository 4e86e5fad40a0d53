package encoder

import (
	"math"
	"sync"

	"github.com/opentiles/tilestore/tileid"
	"github.com/opentiles/tilestore/tileset"
)

// heightAccumulator is the sparse TileId -> fixed-size f32 raster used to
// build the downsampled navtile pyramid bottom-up once traversal finishes
// (spec §4.6, §5 "Height-map accumulator"). Guarded by a single mutex per
// spec §5; per-tile lazy allocation and the averaging math both run while
// holding it.
type heightAccumulator struct {
	mu       sync.Mutex
	tileSize int
	rasters  map[tileid.ID][]float32
	lodSeen  map[uint8]bool
}

func newHeightAccumulator(tileSize int) *heightAccumulator {
	return &heightAccumulator{
		tileSize: tileSize,
		rasters:  map[tileid.ID][]float32{},
		lodSeen:  map[uint8]bool{},
	}
}

// tile lazily allocates id's raster, filled with the +Inf invalid-pixel
// sentinel (spec §4.6).
func (h *heightAccumulator) tile(id tileid.ID) []float32 {
	if r, ok := h.rasters[id]; ok {
		return r
	}
	r := make([]float32, h.tileSize*h.tileSize)
	for i := range r {
		r[i] = float32(math.Inf(1))
	}
	h.rasters[id] = r
	h.lodSeen[id.Lod] = true
	return r
}

// absorb resamples nav's height grid into id's accumulator raster,
// keeping the minimum against whatever sample was already there (spec
// §4.6: "minimum wins over rasterisation").
func (h *heightAccumulator) absorb(id tileid.ID, nav tileset.NavTile) {
	if nav.Size == 0 || len(nav.Heights) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	dst := h.tile(id)
	n := h.tileSize
	for y := 0; y < n; y++ {
		sy := y * nav.Size / n
		for x := 0; x < n; x++ {
			sx := x * nav.Size / n
			v := nav.Heights[sy*nav.Size+sx]
			i := y*n + x
			if v < dst[i] {
				dst[i] = v
			}
		}
	}
}

// maxLod returns the highest LOD with any absorbed data, or 0 if none.
func (h *heightAccumulator) maxLod() uint8 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var max uint8
	for lod := range h.lodSeen {
		if lod > max {
			max = lod
		}
	}
	return max
}

// resize downsamples every raster currently stored at lod by averaging
// its non-invalid 2×2 pixel blocks, and min-merges the result into the
// matching quadrant of each parent's raster at lod-1 (spec §4.6). Returns
// the parent ids touched so the caller can turn each into a NavTile.
func (h *heightAccumulator) resize(lod uint8) map[tileid.ID][]float32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := map[tileid.ID][]float32{}
	if lod == 0 {
		return out
	}
	half := h.tileSize / 2
	for id, raster := range h.rasters {
		if id.Lod != lod {
			continue
		}
		parentID, ok := id.Parent()
		if !ok {
			continue
		}
		idx, ok := id.ChildIndexOf()
		if !ok {
			continue
		}
		parent := h.tile(parentID)
		ox, oy := quadrantOffset(idx, half)
		for y := 0; y < half; y++ {
			for x := 0; x < half; x++ {
				v := averageBlock(raster, h.tileSize, 2*x, 2*y)
				pi := (oy+y)*h.tileSize + (ox + x)
				if v < parent[pi] {
					parent[pi] = v
				}
			}
		}
		out[parentID] = parent
		delete(h.rasters, id)
	}
	delete(h.lodSeen, lod)
	return out
}

func quadrantOffset(idx tileid.ChildIndex, half int) (int, int) {
	switch idx {
	case tileid.LL:
		return 0, 0
	case tileid.LR:
		return half, 0
	case tileid.UL:
		return 0, half
	default: // tileid.UR
		return half, half
	}
}

func averageBlock(raster []float32, size, x, y int) float32 {
	var sum float32
	count := 0
	for dy := 0; dy < 2; dy++ {
		for dx := 0; dx < 2; dx++ {
			v := raster[(y+dy)*size+(x+dx)]
			if math.IsInf(float64(v), 1) {
				continue
			}
			sum += v
			count++
		}
	}
	if count == 0 {
		return float32(math.Inf(1))
	}
	return sum / float32(count)
}

func rasterToNavTile(size int, raster []float32) tileset.NavTile {
	min := float32(math.Inf(1))
	max := float32(math.Inf(-1))
	heights := make([]float32, len(raster))
	for i, v := range raster {
		if math.IsInf(float64(v), 1) {
			v = 0
		}
		heights[i] = v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if min > max {
		min, max = 0, 0
	}
	return tileset.NavTile{Size: size, Heights: heights, MinHeight: min, MaxHeight: max}
}

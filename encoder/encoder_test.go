package encoder

import (
	"context"
	"fmt"
	"testing"

	"github.com/spf13/afero"

	"github.com/opentiles/tilestore/config"
	"github.com/opentiles/tilestore/driver/plaindriver"
	"github.com/opentiles/tilestore/refframe"
	"github.com/opentiles/tilestore/tileid"
	"github.com/opentiles/tilestore/tileset"
)

func newTestTileSet() *tileset.TileSet {
	drv := plaindriver.New(afero.NewMemMapFs(), "/enc", true)
	frame := refframe.NewFrame()
	frame.AddRoot("flat", tileid.Extents2{XMin: 0, YMin: 0, XMax: 1000, YMax: 1000},
		tileid.Extents2{XMin: 0, YMin: 0, XMax: 1000, YMax: 1000})
	cfg := config.Config{ID: "enc-test", ReferenceFrame: "flat", LodRange: config.LodRangeConfig{Min: 0, Max: 2}}
	return tileset.New(drv, frame, cfg)
}

// deterministicGenerate fills every reachable tile with a mesh whose bytes
// are derived from the tile id, and a flat navtile whose height encodes
// the tile's own lod so the aggregated pyramid is checkable.
func deterministicGenerate() GenerateFunc {
	return func(ctx context.Context, id tileid.ID, info refframe.NodeInfo, parent TileResult) (TileResult, error) {
		heights := make([]float32, 4*4)
		for i := range heights {
			heights[i] = float32(id.Lod)
		}
		return TileResult{
			Kind: Data,
			Tile: tileset.Tile{Mesh: []byte(fmt.Sprintf("mesh-%s", id.String()))},
			Nav:  &tileset.NavTile{Size: 4, Heights: heights, MinHeight: float32(id.Lod), MaxHeight: float32(id.Lod)},
		}, nil
	}
}

func TestRunPopulatesEveryReachableTile(t *testing.T) {
	ts := newTestTileSet()
	err := Run(context.Background(), ts, tileid.LodRange{Min: 0, Max: 2}, deterministicGenerate(), Options{Concurrency: 2, HeightMapTileSize: 4})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for lod := uint8(0); lod <= 2; lod++ {
		n := uint32(1) << lod
		for x := uint32(0); x < n; x++ {
			for y := uint32(0); y < n; y++ {
				id := tileid.ID{Lod: lod, X: x, Y: y}
				if !ts.Exists(id) {
					t.Fatalf("tile %s missing after Run", id)
				}
			}
		}
	}
}

func TestRunAggregatesNavTilePyramid(t *testing.T) {
	ts := newTestTileSet()
	if err := Run(context.Background(), ts, tileid.LodRange{Min: 0, Max: 2}, deterministicGenerate(), Options{Concurrency: 2, HeightMapTileSize: 4}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	root := tileid.ID{Lod: 0, X: 0, Y: 0}
	nav, err := ts.GetNavTile(root)
	if err != nil {
		t.Fatalf("GetNavTile(root): %v", err)
	}
	if nav == nil {
		t.Fatal("root navtile missing after aggregation")
	}
}

func TestRunRespectsCancellation(t *testing.T) {
	ts := newTestTileSet()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Run(ctx, ts, tileid.LodRange{Min: 0, Max: 2}, deterministicGenerate(), Options{Concurrency: 2, HeightMapTileSize: 4})
	if err == nil {
		t.Fatal("Run with a pre-cancelled context should return an error")
	}
}

func TestRunStopsAtNoData(t *testing.T) {
	ts := newTestTileSet()
	err := Run(context.Background(), ts, tileid.LodRange{Min: 0, Max: 2}, func(ctx context.Context, id tileid.ID, info refframe.NodeInfo, parent TileResult) (TileResult, error) {
		if id.Lod == 1 {
			return TileResult{Kind: NoData}, nil
		}
		return TileResult{Kind: Data, Tile: tileset.Tile{Mesh: []byte("m")}}, nil
	}, Options{Concurrency: 2, HeightMapTileSize: 4})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if ts.Exists(tileid.ID{Lod: 2, X: 0, Y: 0}) {
		t.Fatal("lod-2 tile should not exist once its lod-1 parent returned NoData")
	}
	if !ts.Exists(tileid.ID{Lod: 0, X: 0, Y: 0}) {
		t.Fatal("lod-0 root should still exist")
	}
}

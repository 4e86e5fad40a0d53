package delivery

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/spf13/afero"

	"github.com/opentiles/tilestore/config"
	"github.com/opentiles/tilestore/driver/plaindriver"
	"github.com/opentiles/tilestore/qtree"
	"github.com/opentiles/tilestore/refframe"
	"github.com/opentiles/tilestore/tileid"
	"github.com/opentiles/tilestore/tileset"
)

func testFrame() *refframe.Frame {
	frame := refframe.NewFrame()
	frame.AddRoot("flat", tileid.Extents2{XMin: 0, YMin: 0, XMax: 1000, YMax: 1000},
		tileid.Extents2{XMin: 0, YMin: 0, XMax: 1000, YMax: 1000})
	return frame
}

func newTestSet(t *testing.T, credits []string) *tileset.TileSet {
	t.Helper()
	drv := plaindriver.New(afero.NewMemMapFs(), "/dlv", true)
	cfg := config.Config{
		ID: "dlv-test", ReferenceFrame: "flat",
		LodRange: config.LodRangeConfig{Min: 0, Max: 2},
		Credits:  credits,
	}
	return tileset.New(drv, testFrame(), cfg)
}

func fullMask(t *testing.T) []byte {
	t.Helper()
	m := qtree.NewRasterMask(8)
	m.FillRect(qtree.Rect{X: 0, Y: 0, W: m.Size(), H: m.Size()}, true)
	return m.Tree().Encode(nil)
}

func TestMeta2DMarksDescendantPresence(t *testing.T) {
	ts := newTestSet(t, nil)
	if err := ts.SetTile(tileid.ID{Lod: 1, X: 0, Y: 0}, tileset.Tile{Mesh: []byte("m")}, refframe.NodeInfo{}); err != nil {
		t.Fatalf("SetTile: %v", err)
	}

	buf, err := New(ts).Meta2D(tileid.ID{Lod: 0, X: 0, Y: 0})
	if err != nil {
		t.Fatalf("Meta2D: %v", err)
	}
	if len(buf) == 0 {
		t.Fatal("Meta2D returned empty PNG")
	}
	mustDecodePNG(t, buf)
}

func TestMaskDebugFlavorReturnsPlaceholderOnMiss(t *testing.T) {
	ts := newTestSet(t, nil)
	if err := ts.SetTile(tileid.ID{Lod: 0, X: 0, Y: 0}, tileset.Tile{Mesh: []byte("m")}, refframe.NodeInfo{}); err != nil {
		t.Fatalf("SetTile: %v", err)
	}

	buf, err := New(ts).Mask(tileid.ID{Lod: 0, X: 0, Y: 0}, Debug)
	if err != nil {
		t.Fatalf("Mask(debug): %v", err)
	}
	img := mustDecodePNG(t, buf)
	_, _, _, a := img.At(0, 0).RGBA()
	if a != 0 {
		t.Fatalf("debug placeholder should be fully transparent, alpha = %d", a)
	}
}

func TestMaskStrictFlavorErrorsOnMiss(t *testing.T) {
	ts := newTestSet(t, nil)
	if err := ts.SetTile(tileid.ID{Lod: 0, X: 0, Y: 0}, tileset.Tile{Mesh: []byte("m")}, refframe.NodeInfo{}); err != nil {
		t.Fatalf("SetTile: %v", err)
	}

	if _, err := New(ts).Mask(tileid.ID{Lod: 0, X: 0, Y: 0}, Strict); err == nil {
		t.Fatal("Mask(strict) with no recorded coverage mask should error")
	}
}

func TestMaskRendersStoredCoverage(t *testing.T) {
	ts := newTestSet(t, nil)
	id := tileid.ID{Lod: 0, X: 0, Y: 0}
	if err := ts.SetTile(id, tileset.Tile{Mesh: []byte("m"), CoverageMask: fullMask(t)}, refframe.NodeInfo{}); err != nil {
		t.Fatalf("SetTile: %v", err)
	}

	buf, err := New(ts).Mask(id, Strict)
	if err != nil {
		t.Fatalf("Mask: %v", err)
	}
	img := mustDecodePNG(t, buf)
	_, _, _, a := img.At(0, 0).RGBA()
	if a == 0 {
		t.Fatal("fully-covered mask should render opaque")
	}
}

func TestCreditsReturnsDeclaredWhenAtMostOne(t *testing.T) {
	ts := newTestSet(t, []string{"solo-credit"})
	credits, err := New(ts).Credits(tileid.ID{Lod: 0, X: 0, Y: 0})
	if err != nil {
		t.Fatalf("Credits: %v", err)
	}
	if len(credits) != 1 || credits[0] != "solo-credit" {
		t.Fatalf("Credits = %v, want [solo-credit]", credits)
	}
}

func TestCreditsUnionsAcrossSubtree(t *testing.T) {
	ts := newTestSet(t, []string{"alpha", "beta"})
	a := tileid.ID{Lod: 1, X: 0, Y: 0}
	b := tileid.ID{Lod: 1, X: 1, Y: 1}
	if err := ts.SetTile(a, tileset.Tile{Mesh: []byte("a")}, refframe.NodeInfo{}); err != nil {
		t.Fatalf("SetTile(a): %v", err)
	}
	if err := ts.SetTile(b, tileset.Tile{Mesh: []byte("b")}, refframe.NodeInfo{}); err != nil {
		t.Fatalf("SetTile(b): %v", err)
	}
	nodeA := ts.GetMetaNode(a)
	nodeA.Credits = []string{"alpha"}
	ts.SetMetaNode(a, nodeA)
	nodeB := ts.GetMetaNode(b)
	nodeB.Credits = []string{"beta"}
	ts.SetMetaNode(b, nodeB)

	credits, err := New(ts).Credits(tileid.ID{Lod: 0, X: 0, Y: 0})
	if err != nil {
		t.Fatalf("Credits: %v", err)
	}
	seen := map[string]bool{}
	for _, c := range credits {
		seen[c] = true
	}
	if !seen["alpha"] || !seen["beta"] {
		t.Fatalf("Credits = %v, want both alpha and beta", credits)
	}
}

func TestConfigStripsDriverOptions(t *testing.T) {
	ts := newTestSet(t, nil)
	cfg := New(ts).Config()
	if cfg.DriverOptions != nil {
		t.Fatalf("Config() should strip DriverOptions, got %v", cfg.DriverOptions)
	}
}

func mustDecodePNG(t *testing.T, buf []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("decoding PNG: %v", err)
	}
	return img
}

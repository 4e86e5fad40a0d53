package tileset

import (
	"testing"

	"github.com/opentiles/tilestore/tileid"
)

func TestMetaTileEncodeDecodeRoundTrip(t *testing.T) {
	mt := NewMetaTile(tileid.ID{Lod: 3, X: 2, Y: 5}, 2)
	mt.Set(0, 0, MetaNode{
		Flags:       MetaHasMesh | MetaHasAtlas,
		HeightRange: [2]float32{-1.5, 42.25},
		Extents:     tileid.Extents2{XMin: 0, YMin: 0, XMax: 10, YMax: 10},
		TexelSize:   0.5,
		DisplaySize: 256,
		Reference:   3,
		Credits:     []string{"alpha", "beta"},
	})
	mt.Set(3, 1, MetaNode{Flags: MetaHasNavTile, HeightRange: [2]float32{1, 2}})

	buf := EncodeMetaTile(mt)
	decoded, err := DecodeMetaTile(buf)
	if err != nil {
		t.Fatalf("DecodeMetaTile: %v", err)
	}

	if decoded.MetaId != mt.MetaId || decoded.BinaryOrder != mt.BinaryOrder {
		t.Fatalf("decoded header = %+v/%d, want %+v/%d", decoded.MetaId, decoded.BinaryOrder, mt.MetaId, mt.BinaryOrder)
	}

	got := decoded.At(0, 0)
	want := mt.At(0, 0)
	if got.Flags != want.Flags || got.HeightRange != want.HeightRange || got.TexelSize != want.TexelSize ||
		got.Reference != want.Reference || len(got.Credits) != len(want.Credits) {
		t.Fatalf("decoded node (0,0) = %+v, want %+v", got, want)
	}
	for i := range want.Credits {
		if got.Credits[i] != want.Credits[i] {
			t.Fatalf("credit %d = %q, want %q", i, got.Credits[i], want.Credits[i])
		}
	}

	absent := decoded.At(1, 1)
	if absent.present() {
		t.Fatalf("untouched node (1,1) should be absent, got %+v", absent)
	}
}

func TestDecodeMetaTileRejectsBadMagic(t *testing.T) {
	buf := EncodeMetaTile(NewMetaTile(tileid.ID{}, 1))
	buf[0] = 'X'
	if _, err := DecodeMetaTile(buf); err == nil {
		t.Fatal("DecodeMetaTile should reject a corrupt magic")
	}
}

func TestDecodeMetaTileRejectsTruncatedBuffer(t *testing.T) {
	mt := NewMetaTile(tileid.ID{Lod: 1, X: 0, Y: 0}, 1)
	mt.Set(0, 0, MetaNode{Flags: MetaHasMesh, HeightRange: [2]float32{1, 2}})
	buf := EncodeMetaTile(mt)
	if _, err := DecodeMetaTile(buf[:len(buf)-2]); err == nil {
		t.Fatal("DecodeMetaTile should reject a truncated buffer")
	}
}

func TestMergeMetaNodeUnionsHeightRangeAndHalvesTexelSize(t *testing.T) {
	parent := MetaNode{}
	childA := MetaNode{Flags: MetaHasMesh | MetaHasNavTile, HeightRange: [2]float32{0, 10}, TexelSize: 1.0}
	merged, changed := mergeMetaNode(parent, childA)
	if !changed {
		t.Fatal("first merge into an empty parent should report changed")
	}
	if merged.HeightRange != [2]float32{0, 10} {
		t.Fatalf("HeightRange = %v, want {0,10}", merged.HeightRange)
	}
	if merged.TexelSize != 0.5 {
		t.Fatalf("TexelSize = %v, want 0.5", merged.TexelSize)
	}
	if merged.Flags&MetaHasChildren == 0 {
		t.Fatal("merged parent missing MetaHasChildren")
	}

	childB := MetaNode{Flags: MetaHasMesh | MetaHasNavTile, HeightRange: [2]float32{-5, 3}, TexelSize: 0.8}
	merged2, changed2 := mergeMetaNode(merged, childB)
	if !changed2 {
		t.Fatal("merging a wider-range sibling should report changed")
	}
	if merged2.HeightRange != [2]float32{-5, 10} {
		t.Fatalf("HeightRange after second merge = %v, want {-5,10}", merged2.HeightRange)
	}

	merged3, changed3 := mergeMetaNode(merged2, childB)
	if changed3 {
		t.Fatalf("re-merging the same child should reach a fixpoint, got %+v", merged3)
	}
}

func TestMergeMetaNodeIgnoresHeightRangeFromMeshOnlyChild(t *testing.T) {
	parent := MetaNode{}
	meshOnly := MetaNode{Flags: MetaHasMesh | MetaHasAtlas, HeightRange: [2]float32{0, 10}}
	merged, changed := mergeMetaNode(parent, meshOnly)
	if !changed {
		t.Fatal("merge should still report changed (MetaHasChildren newly set)")
	}
	if merged.HeightRange != [2]float32{0, 0} {
		t.Fatalf("HeightRange = %v, want {0,0}: a mesh-only child carries no real height data", merged.HeightRange)
	}
}

func TestNavTileEncodeDecodeRoundTrip(t *testing.T) {
	nav := NavTile{
		Size:      2,
		Heights:   []float32{1.5, -2.25, 0, 100.75},
		MinHeight: -2.25,
		MaxHeight: 100.75,
	}
	buf := encodeNavTile(nav)
	decoded, err := decodeNavTile(buf)
	if err != nil {
		t.Fatalf("decodeNavTile: %v", err)
	}
	if decoded.Size != nav.Size || decoded.MinHeight != nav.MinHeight || decoded.MaxHeight != nav.MaxHeight {
		t.Fatalf("decoded = %+v, want %+v", decoded, nav)
	}
	for i, h := range nav.Heights {
		if decoded.Heights[i] != h {
			t.Fatalf("height[%d] = %v, want %v", i, decoded.Heights[i], h)
		}
	}
}

func TestDecodeNavTileRejectsTruncatedGrid(t *testing.T) {
	nav := NavTile{Size: 2, Heights: []float32{1, 2, 3, 4}}
	buf := encodeNavTile(nav)
	if _, err := decodeNavTile(buf[:len(buf)-4]); err == nil {
		t.Fatal("decodeNavTile should reject a truncated height grid")
	}
}

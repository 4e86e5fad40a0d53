package plaindriver

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/opentiles/tilestore/driver"
	"github.com/opentiles/tilestore/tileid"
)

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	if rc == nil {
		t.Fatalf("Input returned nil reader")
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return b
}

func TestPutGetRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := New(fs, "/tileset", true)

	id := tileid.ID{Lod: 3, X: 1, Y: 2}
	w, err := d.Output(driver.TileKey(id, driver.FileNavTile))
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if _, err := w.Write([]byte("nav payload")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rc, err := d.Input(driver.TileKey(id, driver.FileNavTile))
	if err != nil {
		t.Fatalf("Input: %v", err)
	}
	if got := string(readAll(t, rc)); got != "nav payload" {
		t.Fatalf("Input = %q", got)
	}
}

func TestInputMissingReturnsNilNil(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := New(fs, "/tileset", true)

	rc, err := d.Input(driver.TileKey(tileid.ID{Lod: 0, X: 0, Y: 0}, driver.FileMesh))
	if err != nil {
		t.Fatalf("Input: %v", err)
	}
	if rc != nil {
		t.Fatalf("Input missing should return nil reader")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := New(fs, "/tileset", true)

	w, err := d.Output(driver.TokenKey(driver.TokenTileIndex))
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	w.Write([]byte("index bytes"))
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rc, err := d.Input(driver.TokenKey(driver.TokenTileIndex))
	if err != nil {
		t.Fatalf("Input: %v", err)
	}
	if got := string(readAll(t, rc)); got != "index bytes" {
		t.Fatalf("Input = %q", got)
	}
}

func TestReadOnlyDriverRejectsOutput(t *testing.T) {
	fs := afero.NewMemMapFs()
	id := tileid.ID{Lod: 0, X: 0, Y: 0}

	w := New(fs, "/tileset", true)
	out, err := w.Output(driver.TileKey(id, driver.FileMesh))
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	out.Write([]byte("x"))
	out.Close()

	r := New(fs, "/tileset", false)
	if _, err := r.Output(driver.TileKey(id, driver.FileMesh)); err == nil {
		t.Fatalf("Output on read-only driver should fail")
	}
	rc, err := r.Input(driver.TileKey(id, driver.FileMesh))
	if err != nil {
		t.Fatalf("Input: %v", err)
	}
	if got := string(readAll(t, rc)); got != "x" {
		t.Fatalf("Input = %q", got)
	}
}

func TestStatReportsSizeAndMissing(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := New(fs, "/tileset", true)
	id := tileid.ID{Lod: 1, X: 0, Y: 0}

	missing, err := d.Stat(driver.TileKey(id, driver.FileMesh))
	if err != nil {
		t.Fatalf("Stat missing: %v", err)
	}
	if missing.Size != 0 {
		t.Fatalf("Stat missing size = %d, want 0", missing.Size)
	}

	w, _ := d.Output(driver.TileKey(id, driver.FileMesh))
	w.Write([]byte("12345"))
	w.Close()

	st, err := d.Stat(driver.TileKey(id, driver.FileMesh))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Size != 5 {
		t.Fatalf("Stat size = %d, want 5", st.Size)
	}
}

func TestResourcesListsWrittenFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := New(fs, "/tileset", true)

	w1, _ := d.Output(driver.TileKey(tileid.ID{Lod: 0, X: 0, Y: 0}, driver.FileMesh))
	w1.Write([]byte("a"))
	w1.Close()
	w2, _ := d.Output(driver.TokenKey(driver.TokenConfig))
	w2.Write([]byte("b"))
	w2.Close()

	res := d.Resources()
	if len(res) != 2 {
		t.Fatalf("Resources = %v, want 2 entries", res)
	}
}

func TestWatchFiresOnModification(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := New(fs, "/tileset", true)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	events, err := d.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	w, _ := d.Output(driver.TokenKey(driver.TokenConfig))
	w.Write([]byte("x"))
	w.Close()

	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatalf("event channel closed before delivering a modification")
		}
		if ev.Op != driver.EventModified {
			t.Fatalf("Op = %v, want EventModified", ev.Op)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for watch event")
	}
}

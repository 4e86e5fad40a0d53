// Package plaindriver implements driver.Driver as one file per
// (TileId, TileFile) or token, built on github.com/spf13/afero the way
// GoogleContainerTools-skaffold swaps util.Fs for afero.NewMemMapFs() in
// tests (pkg/skaffold/deploy/kubectl_test.go) — exercised here for real in
// plaindriver_test.go rather than only in a test helper.
package plaindriver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/opentiles/tilestore/driver"
	"github.com/opentiles/tilestore/tileerror"
)

// Driver is an afero.Fs-backed driver.Driver rooted at a directory.
type Driver struct {
	fs       afero.Fs
	root     string
	writable bool
}

// New returns a plaindriver.Driver rooted at root on fs. Pass
// afero.NewOsFs() for real disk storage or afero.NewMemMapFs() for tests.
func New(fs afero.Fs, root string, writable bool) *Driver {
	return &Driver{fs: fs, root: root, writable: writable}
}

func (d *Driver) path(key driver.Key) string {
	if key.IsToken() {
		return filepath.Join(d.root, string(key.Token))
	}
	return filepath.Join(d.root, fmt.Sprintf("%d", key.Tile.Lod),
		fmt.Sprintf("%d-%d.%s", key.Tile.X, key.Tile.Y, key.File))
}

// Input implements driver.Driver.
func (d *Driver) Input(key driver.Key) (io.ReadCloser, error) {
	exists, err := afero.Exists(d.fs, d.path(key))
	if err != nil {
		return nil, tileerror.Wrap(tileerror.IOError, err, "plaindriver: checking existence")
	}
	if !exists {
		return nil, nil
	}
	f, err := d.fs.Open(d.path(key))
	if err != nil {
		return nil, tileerror.Wrap(tileerror.IOError, err, "plaindriver: opening file")
	}
	return f, nil
}

// Output implements driver.Driver; the write commits atomically via
// write-to-temp-then-rename when the returned WriteCloser is closed.
func (d *Driver) Output(key driver.Key) (io.WriteCloser, error) {
	if !d.writable {
		return nil, tileerror.New(tileerror.ReadOnlyViolation, "plaindriver: driver opened read-only")
	}
	return &atomicWriter{fs: d.fs, path: d.path(key)}, nil
}

type atomicWriter struct {
	fs   afero.Fs
	path string
	buf  bytes.Buffer
}

func (w *atomicWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *atomicWriter) Close() error {
	if err := w.fs.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return tileerror.Wrap(tileerror.IOError, err, "plaindriver: mkdir")
	}
	tmp := w.path + ".tmp"
	if err := afero.WriteFile(w.fs, tmp, w.buf.Bytes(), 0o644); err != nil {
		return tileerror.Wrap(tileerror.IOError, err, "plaindriver: writing temp file")
	}
	if err := w.fs.Rename(tmp, w.path); err != nil {
		return tileerror.Wrap(tileerror.IOError, err, "plaindriver: committing file")
	}
	return nil
}

// Stat implements driver.Driver.
func (d *Driver) Stat(key driver.Key) (driver.Stat, error) {
	fi, err := d.fs.Stat(d.path(key))
	if err != nil {
		if afero.IsNotExist(err) {
			return driver.Stat{}, nil
		}
		return driver.Stat{}, tileerror.Wrap(tileerror.IOError, err, "plaindriver: stat")
	}
	return driver.Stat{Size: fi.Size(), LastModified: fi.ModTime()}, nil
}

// Flush implements driver.Driver. Writes already commit on Close, so this
// is a no-op beyond reporting any underlying sync error afero.Fs exposes
// nothing for; kept for interface symmetry with tilardriver.
func (d *Driver) Flush() error { return nil }

// Watch implements driver.Driver via a polling loop; afero.Fs has no
// portable native change-notification primitive across its backends
// (MemMapFs, OsFs, etc.), so polling is the only implementation that works
// uniformly regardless of which afero.Fs the caller supplies.
func (d *Driver) Watch(ctx context.Context) (<-chan driver.Event, error) {
	ch := make(chan driver.Event)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		last := d.LastModified()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if cur := d.LastModified(); cur.After(last) {
					last = cur
					select {
					case ch <- driver.Event{Op: driver.EventModified}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch, nil
}

// Capabilities implements driver.Driver.
func (d *Driver) Capabilities() driver.Capabilities {
	return driver.Capabilities{ReadOnly: !d.writable, Watchable: true}
}

// LastModified implements driver.Driver.
func (d *Driver) LastModified() time.Time {
	var newest time.Time
	_ = afero.Walk(d.fs, d.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest
}

// Resources implements driver.Driver.
func (d *Driver) Resources() []string {
	var out []string
	_ = afero.Walk(d.fs, d.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(d.root, path)
		if relErr != nil {
			rel = path
		}
		out = append(out, rel)
		return nil
	})
	return out
}

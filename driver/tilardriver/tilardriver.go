// Package tilardriver implements driver.Driver over a per-LOD directory of
// tilar.Archive files named by super-tile coordinates (spec §4.4): the
// archive grouping the tilar package itself is built around, with the
// whole-tileset tokens (config/tileindex/registry) stored as plain
// sibling files since they have no tile address to group by.
package tilardriver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opentiles/tilestore/driver"
	"github.com/opentiles/tilestore/tilar"
	"github.com/opentiles/tilestore/tileerror"
	"github.com/opentiles/tilestore/tileid"
)

// Driver is a tilar-archive-backed driver.Driver rooted at a directory.
type Driver struct {
	root         string
	binaryOrder  uint8
	filesPerTile uint8
	writable     bool

	mu       sync.Mutex
	archives map[superTileKey]*tilar.Archive
}

type superTileKey struct {
	Lod    uint8
	SX, SY uint32
}

// New opens (or prepares to create) a tilar-backed driver rooted at root.
// writable controls whether archives are opened for writing (exclusive OS
// lock per touched archive) or read-only.
func New(root string, binaryOrder, filesPerTile uint8, writable bool) *Driver {
	return &Driver{
		root:         root,
		binaryOrder:  binaryOrder,
		filesPerTile: filesPerTile,
		writable:     writable,
		archives:     map[superTileKey]*tilar.Archive{},
	}
}

func (d *Driver) superTileOf(id tileid.ID) superTileKey {
	return superTileKey{Lod: id.Lod, SX: id.X >> d.binaryOrder, SY: id.Y >> d.binaryOrder}
}

func (d *Driver) fileIndexOf(id tileid.ID, file driver.TileFile) tilar.FileIndex {
	mask := uint16(1)<<d.binaryOrder - 1
	return tilar.FileIndex{X: uint16(id.X) & mask, Y: uint16(id.Y) & mask, Type: uint8(file)}
}

func (d *Driver) archivePath(key superTileKey) string {
	return filepath.Join(d.root, fmt.Sprintf("%d", key.Lod), fmt.Sprintf("%d-%d.tilar", key.SX, key.SY))
}

func (d *Driver) tokenPath(token driver.FileToken) string {
	return filepath.Join(d.root, string(token))
}

// archiveFor returns the cached archive for key, opening or creating it on
// first access. Returns (nil, nil) if read-only and the file doesn't exist.
func (d *Driver) archiveFor(key superTileKey) (*tilar.Archive, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if a, ok := d.archives[key]; ok {
		return a, nil
	}

	path := d.archivePath(key)
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, tileerror.Wrap(tileerror.IOError, err, "tilardriver: stat archive")
		}
		if !d.writable {
			return nil, nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, tileerror.Wrap(tileerror.IOError, err, "tilardriver: mkdir")
		}
		a, err := tilar.Create(path, d.binaryOrder, d.filesPerTile)
		if err != nil {
			return nil, err
		}
		d.archives[key] = a
		return a, nil
	}

	var a *tilar.Archive
	var err error
	if d.writable {
		a, err = tilar.OpenWriter(path)
	} else {
		a, err = tilar.OpenReader(path)
	}
	if err != nil {
		return nil, err
	}
	d.archives[key] = a
	return a, nil
}

// Input implements driver.Driver.
func (d *Driver) Input(key driver.Key) (io.ReadCloser, error) {
	if key.IsToken() {
		f, err := os.Open(d.tokenPath(key.Token))
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, tileerror.Wrap(tileerror.IOError, err, "tilardriver: open token")
		}
		return f, nil
	}
	a, err := d.archiveFor(d.superTileOf(key.Tile))
	if err != nil || a == nil {
		return nil, err
	}
	return a.Get(d.fileIndexOf(key.Tile, key.File))
}

// Output implements driver.Driver. The write is committed (visible to
// Input on the same Driver) when the returned WriteCloser is closed; it is
// not durable to a freshly-opened archive until Flush.
func (d *Driver) Output(key driver.Key) (io.WriteCloser, error) {
	if !d.writable {
		return nil, tileerror.New(tileerror.ReadOnlyViolation, "tilardriver: driver opened read-only")
	}
	if key.IsToken() {
		return &tokenWriter{path: d.tokenPath(key.Token)}, nil
	}
	a, err := d.archiveFor(d.superTileOf(key.Tile))
	if err != nil {
		return nil, err
	}
	return &blobWriter{archive: a, fi: d.fileIndexOf(key.Tile, key.File)}, nil
}

type blobWriter struct {
	archive *tilar.Archive
	fi      tilar.FileIndex
	buf     bytes.Buffer
}

func (w *blobWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *blobWriter) Close() error                { return w.archive.Put(w.fi, w.buf.Bytes()) }

// tokenWriter commits a whole-tileset resource atomically via
// write-to-temp-then-rename (grounded on
// other_examples/cfb759ef_..._pmtiles-writer.go's temp-file commit).
type tokenWriter struct {
	path string
	buf  bytes.Buffer
}

func (w *tokenWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *tokenWriter) Close() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return tileerror.Wrap(tileerror.IOError, err, "tilardriver: mkdir for token")
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, w.buf.Bytes(), 0o644); err != nil {
		return tileerror.Wrap(tileerror.IOError, err, "tilardriver: writing token temp file")
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return tileerror.Wrap(tileerror.IOError, err, "tilardriver: committing token file")
	}
	return nil
}

// Stat implements driver.Driver.
func (d *Driver) Stat(key driver.Key) (driver.Stat, error) {
	var path string
	if key.IsToken() {
		path = d.tokenPath(key.Token)
	} else {
		path = d.archivePath(d.superTileOf(key.Tile))
	}
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return driver.Stat{}, nil
	}
	if err != nil {
		return driver.Stat{}, tileerror.Wrap(tileerror.IOError, err, "tilardriver: stat")
	}
	return driver.Stat{Size: fi.Size(), LastModified: fi.ModTime()}, nil
}

// Flush implements driver.Driver: flushes every archive touched this
// session.
func (d *Driver) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, a := range d.archives {
		if !a.Writable() {
			continue
		}
		if err := a.Flush(); err != nil {
			return tileerror.Wrapf(tileerror.IOError, err, "tilardriver: flushing archive %v", key)
		}
	}
	return nil
}

// Watch implements driver.Driver via a polling loop over LastModified (the
// newest archive/token file mtime);
// tilar archives have no portable native change-notification primitive,
// so this documents the same tradeoff driver/plaindriver makes rather than
// silently omitting it.
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

// LastModified implements driver.Driver: the newest mtime across every
// archive and token file under root.
func (d *Driver) LastModified() time.Time {
	var newest time.Time
	_ = filepath.Walk(d.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest
}

// Resources implements driver.Driver: every archive and token file path
// under root, relative to it.
func (d *Driver) Resources() []string {
	var out []string
	_ = filepath.Walk(d.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
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

// Close closes every archive this driver has opened, releasing their
// locks; it does not flush them first (call Flush for that).
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for _, a := range d.archives {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.archives = map[superTileKey]*tilar.Archive{}
	return firstErr
}

// Package tilar implements the per-super-tile archive file of spec §4.3:
// a single append-only blob store with a journal of pending writes and a
// trailer-addressed index block, giving crash-safe "last successful write
// per fileIndex wins" recovery without a separate WAL file.
package tilar

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/opentiles/tilestore/tileerror"
)

// Archive is an open Tilar file. Exactly one Archive may hold the file for
// writing at a time (enforced by lockFile); any number of Archives may
// have it open for reading concurrently, per spec §4.3/§5.
//
// The write path is grounded on
// other_examples/f47c5b6d_pspoerri-geotiff2pmtiles__internal-tile-diskstore.go.go's
// DiskTileStore: a single owner of the append offset (here guarded by mu
// instead of being a dedicated goroutine, since Put is called directly by
// TileSet rather than over a channel), an atomically-published read
// *os.File that lets Get on a read-only Archive run without taking mu (Get
// on a writable Archive takes mu to consult its dirty index), and an
// in-memory index that
// is authoritative until Flush reconciles it to disk.
type Archive struct {
	header   Header
	writable bool

	mu         sync.Mutex
	file       *os.File // writer's own handle; nil for read-only archives
	nextOffset uint64
	dirty      map[FileIndex]record

	persistent atomic.Pointer[map[FileIndex]record]
	readFile   atomic.Pointer[os.File]
}

// Create creates a new Tilar file at path with the given binary order and
// files-per-tile, taking the writer lock.
func Create(path string, binaryOrder, filesPerTile uint8) (*Archive, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, tileerror.Wrapf(tileerror.AlreadyExists, err, "tilar: create %s", path)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}

	h := Header{Version: formatVersion, UUID: uuid.New(), BinaryOrder: binaryOrder, FilesPerTile: filesPerTile}
	if _, err := f.Write(encodeHeader(h)); err != nil {
		f.Close()
		return nil, tileerror.Wrap(tileerror.IOError, err, "tilar: writing header")
	}

	a := &Archive{header: h, writable: true, file: f, nextOffset: headerSize, dirty: map[FileIndex]record{}}
	empty := map[FileIndex]record{}
	a.persistent.Store(&empty)
	a.readFile.Store(f)
	return a, nil
}

// OpenWriter opens an existing Tilar file for writing, taking the writer
// lock and recovering its index (via trailer or journal replay).
func OpenWriter(path string) (*Archive, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, tileerror.Wrapf(tileerror.NoSuchFile, err, "tilar: open %s", path)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}
	a, err := openCommon(f, true)
	if err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

// OpenReader opens an existing Tilar file read-only. Multiple readers may
// hold the same file concurrently, including alongside a writer, per
// spec §4.3's "many concurrent readers allowed after flush".
func OpenReader(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, tileerror.Wrapf(tileerror.NoSuchFile, err, "tilar: open %s", path)
	}
	a, err := openCommon(f, false)
	if err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

func openCommon(f *os.File, writable bool) (*Archive, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, tileerror.Wrap(tileerror.IOError, err, "tilar: stat")
	}
	size := uint64(stat.Size())
	if size < headerSize {
		return nil, errTruncated("file (shorter than header)")
	}
	headerBuf := make([]byte, headerSize)
	if _, err := f.ReadAt(headerBuf, 0); err != nil {
		return nil, tileerror.Wrap(tileerror.IOError, err, "tilar: reading header")
	}
	h, err := decodeHeader(headerBuf)
	if err != nil {
		return nil, err
	}

	entries, nextOffset, err := recoverIndex(f, size)
	if err != nil {
		return nil, err
	}

	a := &Archive{header: h, writable: writable, nextOffset: nextOffset, dirty: map[FileIndex]record{}}
	a.persistent.Store(&entries)
	a.readFile.Store(f)
	if writable {
		a.file = f
	}
	return a, nil
}

// recoverIndex reconstructs the live (fileIndex -> record) map, preferring
// the trailer-pointed index block when it verifies and falling back to a
// forward journal replay (spec §4.3, §8's journal/trailer-agreement
// property).
func recoverIndex(f *os.File, size uint64) (map[FileIndex]record, uint64, error) {
	if size >= headerSize+trailerSize {
		trailerBuf := make([]byte, trailerSize)
		if _, err := f.ReadAt(trailerBuf, int64(size-trailerSize)); err == nil {
			if tr, err := decodeTrailer(trailerBuf); err == nil {
				if entries, ok := tryLoadIndexBlock(f, tr, size); ok {
					return entries, tr.IndexOffset, nil
				}
			}
		}
	}
	return replayJournal(f, headerSize, size)
}

func tryLoadIndexBlock(f *os.File, tr trailer, size uint64) (map[FileIndex]record, bool) {
	if tr.IndexOffset > size-trailerSize {
		return nil, false
	}
	blockLen := size - trailerSize - tr.IndexOffset
	buf := make([]byte, blockLen)
	if _, err := f.ReadAt(buf, int64(tr.IndexOffset)); err != nil {
		return nil, false
	}
	if crc32IEEE(buf) != tr.IndexCRC {
		return nil, false
	}
	entries, err := decodeIndexBlock(buf)
	if err != nil {
		return nil, false
	}
	return entries, true
}

// replayJournal walks [start,end) as a sequence of record|blob frames,
// stopping at the first frame that's incomplete or fails its checksum —
// the crash-recovery truncation point.
func replayJournal(f *os.File, start, end uint64) (map[FileIndex]record, uint64, error) {
	entries := map[FileIndex]record{}
	pos := start
	for pos+recordSize <= end {
		recBuf := make([]byte, recordSize)
		if _, err := f.ReadAt(recBuf, int64(pos)); err != nil {
			break
		}
		rec := decodeRecord(recBuf)
		blobStart := pos + recordSize
		if rec.Offset != blobStart || blobStart+rec.Length > end {
			break
		}
		blob := make([]byte, rec.Length)
		if rec.Length > 0 {
			if _, err := f.ReadAt(blob, int64(blobStart)); err != nil {
				break
			}
		}
		if recordCRC(rec.FileIndex, rec.Offset, rec.Length, blob) != rec.CRC {
			break
		}
		entries[rec.FileIndex] = rec
		pos = blobStart + rec.Length
	}
	return entries, pos, nil
}

// Put appends blob as fileIndex's content, writing its journal record
// first and the blob bytes immediately after.
func (a *Archive) Put(fi FileIndex, blob []byte) error {
	if !a.writable {
		return tileerror.New(tileerror.ReadOnlyViolation, "tilar: archive opened read-only")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	recOffset := a.nextOffset
	blobOffset := recOffset + recordSize
	crc := recordCRC(fi, blobOffset, uint64(len(blob)), blob)
	rec := record{FileIndex: fi, Offset: blobOffset, Length: uint64(len(blob)), CRC: crc}

	if _, err := a.file.WriteAt(encodeRecord(rec), int64(recOffset)); err != nil {
		return tileerror.Wrap(tileerror.IOError, err, "tilar: writing journal record")
	}
	if len(blob) > 0 {
		if _, err := a.file.WriteAt(blob, int64(blobOffset)); err != nil {
			return tileerror.Wrap(tileerror.IOError, err, "tilar: writing blob")
		}
	}
	a.nextOffset = blobOffset + uint64(len(blob))
	a.dirty[fi] = rec
	return nil
}

// Get resolves fileIndex via the dirty (unflushed writer) index first,
// then the persistent (published) index, and returns a bounded reader
// over its blob, or nil if fileIndex has never been written.
func (a *Archive) Get(fi FileIndex) (io.ReadCloser, error) {
	f := a.readFile.Load()
	if f == nil {
		return nil, tileerror.New(tileerror.Internal, "tilar: archive has no read handle")
	}

	var rec record
	var ok bool
	if a.writable {
		a.mu.Lock()
		rec, ok = a.dirty[fi]
		a.mu.Unlock()
	}
	if !ok {
		entries := *a.persistent.Load()
		rec, ok = entries[fi]
	}
	if !ok {
		return nil, nil
	}
	return &sectionCloser{sr: io.NewSectionReader(f, int64(rec.Offset), int64(rec.Length))}, nil
}

type sectionCloser struct {
	sr *io.SectionReader
}

func (s *sectionCloser) Read(p []byte) (int, error) { return s.sr.Read(p) }
func (s *sectionCloser) Close() error               { return nil }

// Flush writes a fresh index block covering every live record, then
// atomically publishes it via a trailer rewrite (write-order: index ->
// fsync -> trailer -> fsync, per spec §4.3).
func (a *Archive) Flush() error {
	if !a.writable {
		return tileerror.New(tileerror.ReadOnlyViolation, "tilar: archive opened read-only")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	merged := mergeRecords(*a.persistent.Load(), a.dirty)
	indexOffset := a.nextOffset
	indexBlock := encodeIndexBlock(merged)

	if _, err := a.file.WriteAt(indexBlock, int64(indexOffset)); err != nil {
		return tileerror.Wrap(tileerror.IOError, err, "tilar: writing index block")
	}
	if err := a.file.Sync(); err != nil {
		return tileerror.Wrap(tileerror.IOError, err, "tilar: fsync index block")
	}

	tr := trailer{IndexOffset: indexOffset, IndexCRC: crc32IEEE(indexBlock)}
	trailerOffset := indexOffset + uint64(len(indexBlock))
	if _, err := a.file.WriteAt(encodeTrailer(tr), int64(trailerOffset)); err != nil {
		return tileerror.Wrap(tileerror.IOError, err, "tilar: writing trailer")
	}
	if err := a.file.Sync(); err != nil {
		return tileerror.Wrap(tileerror.IOError, err, "tilar: fsync trailer")
	}

	a.persistent.Store(&merged)
	a.dirty = map[FileIndex]record{}
	// The next Put overwrites the index block and trailer just written,
	// since they're reconstructible from the (now persistent) index plus
	// whatever new records follow.
	a.nextOffset = indexOffset
	return nil
}

func mergeRecords(base map[FileIndex]record, overlay map[FileIndex]record) map[FileIndex]record {
	out := make(map[FileIndex]record, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// Close releases the writer lock (if held) and closes the underlying file
// handle(s). Does not implicitly Flush — callers that want durability must
// call Flush first.
func (a *Archive) Close() error {
	if a.writable && a.file != nil {
		unlockFile(a.file)
		return a.file.Close()
	}
	if f := a.readFile.Load(); f != nil {
		return f.Close()
	}
	return nil
}

// Header returns the archive's header fields.
func (a *Archive) Header() Header { return a.header }

// Writable reports whether this Archive handle was opened for writing.
func (a *Archive) Writable() bool { return a.writable }

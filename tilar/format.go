// Package tilar implements the content-addressed, crash-safe archive file
// of spec §4.3: a directory of fixed-size tile-slots under a single LOD's
// super-tile, with an append-only blob+journal area and an index block
// pointed to by an atomically-rewritten trailer.
//
// The spec's layout diagram groups the file into "blobs section" then
// "journal section" for exposition, but a journal that's only useful for
// crash recovery has to be durable *as of* each write, not batched at the
// end — so Put interleaves a fixed-size journal record immediately before
// its own blob (record1, blob1, record2, blob2, ...), which is what lets
// recovery replay the journal forward without already knowing where each
// blob ends. See DESIGN.md.
package tilar

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/google/uuid"
)

const (
	magicHeader  = "TILAR\x00"
	magicTrailer = "TLRT"

	formatVersion = 1

	// headerSize = len(magic) + version u8 + uuid 16B + binaryOrder u8 +
	// filesPerTile u8 + crc32 u32.
	headerSize = 6 + 1 + 16 + 1 + 1 + 4

	// recordSize = fileIndex(X u16, Y u16, Type u8) + offset u64 +
	// length u64 + crc32 u32.
	recordSize = 2 + 2 + 1 + 8 + 8 + 4

	// trailerSize = magic 4B + indexOffset u64 + indexCrc32 u32.
	trailerSize = 4 + 8 + 4
)

// Header is the fixed preamble of a Tilar file.
type Header struct {
	Version      uint8
	UUID         uuid.UUID
	BinaryOrder  uint8
	FilesPerTile uint8
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, 0, headerSize)
	buf = append(buf, magicHeader...)
	buf = append(buf, h.Version)
	buf = append(buf, h.UUID[:]...)
	buf = append(buf, h.BinaryOrder, h.FilesPerTile)
	crc := crc32.ChecksumIEEE(buf)
	buf = binary.LittleEndian.AppendUint32(buf, crc)
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, errTruncated("header")
	}
	if string(buf[0:6]) != magicHeader {
		return Header{}, errBadMagic("header", buf[0:6])
	}
	body := buf[0:25] // magic+version+uuid+binaryOrder+filesPerTile
	wantCRC := crc32.ChecksumIEEE(body)
	gotCRC := binary.LittleEndian.Uint32(buf[25:29])
	if wantCRC != gotCRC {
		return Header{}, errBadCRC("header")
	}
	var h Header
	h.Version = buf[6]
	copy(h.UUID[:], buf[7:23])
	h.BinaryOrder = buf[23]
	h.FilesPerTile = buf[24]
	return h, nil
}

// FileIndex addresses one tile-slot within an archive: (localX, localY,
// fileType), per spec §4.3's `fileIndex(B,B,F)`.
type FileIndex struct {
	X    uint16
	Y    uint16
	Type uint8
}

func (fi FileIndex) appendTo(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, fi.X)
	buf = binary.LittleEndian.AppendUint16(buf, fi.Y)
	return append(buf, fi.Type)
}

func decodeFileIndex(buf []byte) FileIndex {
	return FileIndex{
		X:    binary.LittleEndian.Uint16(buf[0:2]),
		Y:    binary.LittleEndian.Uint16(buf[2:4]),
		Type: buf[4],
	}
}

// record is a journal/index entry: where a blob lives and its checksum.
type record struct {
	FileIndex FileIndex
	Offset    uint64
	Length    uint64
	CRC       uint32
}

// recordCRC covers fileIndex|offset|length followed by the blob bytes, per
// DESIGN.md's Open Question decision #2.
func recordCRC(fi FileIndex, offset, length uint64, blob []byte) uint32 {
	h := crc32.NewIEEE()
	var head [2 + 2 + 1 + 8 + 8]byte
	b := fi.appendTo(head[:0])
	b = binary.LittleEndian.AppendUint64(b, offset)
	b = binary.LittleEndian.AppendUint64(b, length)
	h.Write(b)
	h.Write(blob)
	return h.Sum32()
}

func encodeRecord(r record) []byte {
	buf := make([]byte, 0, recordSize)
	buf = r.FileIndex.appendTo(buf)
	buf = binary.LittleEndian.AppendUint64(buf, r.Offset)
	buf = binary.LittleEndian.AppendUint64(buf, r.Length)
	buf = binary.LittleEndian.AppendUint32(buf, r.CRC)
	return buf
}

func decodeRecord(buf []byte) record {
	return record{
		FileIndex: decodeFileIndex(buf[0:5]),
		Offset:    binary.LittleEndian.Uint64(buf[5:13]),
		Length:    binary.LittleEndian.Uint64(buf[13:21]),
		CRC:       binary.LittleEndian.Uint32(buf[21:25]),
	}
}

// encodeIndexBlock serializes entries as count u32 followed by fixed-size
// records, in ascending FileIndex order for a deterministic byte layout.
func encodeIndexBlock(entries map[FileIndex]record) []byte {
	ordered := make([]record, 0, len(entries))
	for _, r := range entries {
		ordered = append(ordered, r)
	}
	sortRecords(ordered)

	buf := make([]byte, 0, 4+len(ordered)*recordSize)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(ordered)))
	for _, r := range ordered {
		buf = append(buf, encodeRecord(r)...)
	}
	return buf
}

func decodeIndexBlock(buf []byte) (map[FileIndex]record, error) {
	if len(buf) < 4 {
		return nil, errTruncated("index block count")
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	off := 4
	out := make(map[FileIndex]record, count)
	for i := uint32(0); i < count; i++ {
		if off+recordSize > len(buf) {
			return nil, errTruncated("index block record")
		}
		r := decodeRecord(buf[off : off+recordSize])
		out[r.FileIndex] = r
		off += recordSize
	}
	return out, nil
}

func sortRecords(rs []record) {
	// Small N in practice (<= 2^(2B) * F); insertion sort avoids pulling in
	// sort.Slice's reflection-based comparator for a handful of entries.
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && less(rs[j], rs[j-1]); j-- {
			rs[j], rs[j-1] = rs[j-1], rs[j]
		}
	}
}

func less(a, b record) bool {
	if a.FileIndex.X != b.FileIndex.X {
		return a.FileIndex.X < b.FileIndex.X
	}
	if a.FileIndex.Y != b.FileIndex.Y {
		return a.FileIndex.Y < b.FileIndex.Y
	}
	return a.FileIndex.Type < b.FileIndex.Type
}

func crc32IEEE(buf []byte) uint32 { return crc32.ChecksumIEEE(buf) }

type trailer struct {
	IndexOffset uint64
	IndexCRC    uint32
}

func encodeTrailer(t trailer) []byte {
	buf := make([]byte, 0, trailerSize)
	buf = append(buf, magicTrailer...)
	buf = binary.LittleEndian.AppendUint64(buf, t.IndexOffset)
	buf = binary.LittleEndian.AppendUint32(buf, t.IndexCRC)
	return buf
}

func decodeTrailer(buf []byte) (trailer, error) {
	if len(buf) < trailerSize {
		return trailer{}, errTruncated("trailer")
	}
	if string(buf[0:4]) != magicTrailer {
		return trailer{}, errBadMagic("trailer", buf[0:4])
	}
	return trailer{
		IndexOffset: binary.LittleEndian.Uint64(buf[4:12]),
		IndexCRC:    binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

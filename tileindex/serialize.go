package tileindex

import (
	"encoding/binary"

	"github.com/opentiles/tilestore/qtree"
	"github.com/opentiles/tilestore/tileerror"
	"github.com/opentiles/tilestore/tileid"
)

// Wire format (spec §6.2): a fixed header followed by one length-prefixed
// qtree blob per LOD, ascending from minLod to maxLod.
//
//	magic    [2]byte  "TI"
//	version  u16
//	minLod   u8
//	maxLod   u8
//	reserved u16
//	per LOD: blobLen u32, blob [blobLen]byte
const (
	magicTI       = "TI"
	formatVersion = 1
)

// Encode appends ti's wire representation to buf and returns it.
func (ti *TileIndex) Encode(buf []byte) []byte {
	out := buf
	out = append(out, magicTI...)
	out = binary.LittleEndian.AppendUint16(out, formatVersion)
	out = append(out, ti.lodRange.Min, ti.lodRange.Max)
	out = binary.LittleEndian.AppendUint16(out, 0) // reserved

	if ti.lodRange.Empty() {
		return out
	}
	for lod := ti.lodRange.Min; ; lod++ {
		blob := ti.levels[lod].Encode(nil)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(blob)))
		out = append(out, blob...)
		if lod == ti.lodRange.Max {
			break
		}
	}
	return out
}

// Decode reads a TileIndex from buf, returning the number of bytes
// consumed.
func Decode(buf []byte) (*TileIndex, int, error) {
	if len(buf) < 8 {
		return nil, 0, tileerror.New(tileerror.FormatError, "tileindex: truncated header")
	}
	if string(buf[0:2]) != magicTI {
		return nil, 0, tileerror.New(tileerror.FormatError, "tileindex: bad magic %q", buf[0:2])
	}
	version := binary.LittleEndian.Uint16(buf[2:4])
	if version != formatVersion {
		return nil, 0, tileerror.New(tileerror.FormatError, "tileindex: unsupported version %d", version)
	}
	minLod, maxLod := buf[4], buf[5]
	off := 8 // skip reserved u16

	ti := &TileIndex{levels: map[uint8]*qtree.QTree{}, lodRange: tileid.LodRange{Min: minLod, Max: maxLod}}
	if ti.lodRange.Empty() {
		return ti, off, nil
	}
	for lod := minLod; ; lod++ {
		if off+4 > len(buf) {
			return nil, 0, tileerror.New(tileerror.FormatError, "tileindex: truncated blob length at lod %d", lod)
		}
		blobLen := binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
		if off+int(blobLen) > len(buf) {
			return nil, 0, tileerror.New(tileerror.FormatError, "tileindex: truncated blob at lod %d", lod)
		}
		tree, n, err := qtree.Decode(int(lod), buf[off:off+int(blobLen)])
		if err != nil {
			return nil, 0, tileerror.Wrapf(tileerror.FormatError, err, "tileindex: decoding lod %d", lod)
		}
		if n != int(blobLen) {
			return nil, 0, tileerror.New(tileerror.FormatError, "tileindex: lod %d blob had %d trailing bytes", lod, int(blobLen)-n)
		}
		ti.levels[lod] = tree
		off += int(blobLen)
		if lod == maxLod {
			break
		}
	}
	return ti, off, nil
}

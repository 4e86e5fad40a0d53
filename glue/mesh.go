package glue

import (
	"encoding/binary"

	"github.com/opentiles/tilestore/tileerror"
)

// compositePart is one source's contribution to a glued tile's mesh,
// tagged with the contributing source's rank (spec §4.7: "submeshes from
// the dominant tile plus ... submeshes from the next-priority tile,
// recursively"). Mesh bytes stay opaque here exactly as they do everywhere
// else in this module; glue only tags and concatenates them.
type compositePart struct {
	rank int
	mesh []byte
}

// encodeComposite packs parts, highest-priority first, as
// [count varint]{[rank u16][meshLen u32][mesh bytes]}.
func encodeComposite(parts []compositePart) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(parts)))
	for _, p := range parts {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(p.rank))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.mesh)))
		buf = append(buf, p.mesh...)
	}
	return buf
}

// decodeComposite is encodeComposite's inverse, kept for consumers (e.g.
// delivery or a viewer) that need to split a glued mesh back into its
// per-source submeshes.
func decodeComposite(buf []byte) ([]compositePart, error) {
	count, n := binary.Uvarint(buf)
	if n <= 0 {
		return nil, tileerror.New(tileerror.FormatError, "glue: bad composite mesh count")
	}
	buf = buf[n:]
	parts := make([]compositePart, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(buf) < 6 {
			return nil, tileerror.New(tileerror.FormatError, "glue: truncated composite part %d", i)
		}
		rank := binary.LittleEndian.Uint16(buf)
		meshLen := binary.LittleEndian.Uint32(buf[2:])
		buf = buf[6:]
		if uint64(len(buf)) < uint64(meshLen) {
			return nil, tileerror.New(tileerror.FormatError, "glue: truncated composite mesh %d", i)
		}
		parts = append(parts, compositePart{rank: int(rank), mesh: buf[:meshLen]})
		buf = buf[meshLen:]
	}
	return parts, nil
}

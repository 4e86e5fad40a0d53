package tileset

import (
	"encoding/binary"
	"math"

	"github.com/opentiles/tilestore/tileerror"
	"github.com/opentiles/tilestore/tileid"
)

// MetaFlag is one bit of MetaNode.Flags (spec §3).
type MetaFlag uint8

const (
	MetaHasMesh MetaFlag = 1 << iota
	MetaHasAtlas
	MetaHasNavTile
	MetaHasChildren
)

// MetaNode is the per-tile metadata record packed into MetaTiles (spec §3,
// §6.4).
type MetaNode struct {
	Flags       MetaFlag
	HeightRange [2]float32
	Extents     tileid.Extents2
	TexelSize   float32
	DisplaySize uint16
	// Reference is 0 for "no reference", or a 1-based index into a glue
	// operation's contributing source list (Open Question decision #3).
	Reference uint16
	Credits   []string
}

func (n MetaNode) present() bool { return n.Flags != 0 }

// MetaTile is a packed (2^BinaryOrder)² block of MetaNodes at a single
// LOD, addressed by the super-tile id (lod, x>>B, y>>B) the way tilar
// groups tile payloads; the id keeps the nodes' own LOD and is not moved
// BinaryOrder levels up.
type MetaTile struct {
	MetaId      tileid.ID
	BinaryOrder uint8
	// Nodes is row-major over a (2^BinaryOrder)×(2^BinaryOrder) block;
	// absent nodes have a zero Flags value.
	Nodes []MetaNode
}

// NewMetaTile allocates an empty MetaTile for metaId at the given order.
func NewMetaTile(metaId tileid.ID, binaryOrder uint8) *MetaTile {
	n := 1 << binaryOrder
	return &MetaTile{MetaId: metaId, BinaryOrder: binaryOrder, Nodes: make([]MetaNode, n*n)}
}

func (mt *MetaTile) indexOf(dx, dy int) int {
	n := 1 << mt.BinaryOrder
	return dy*n + dx
}

// At returns the node at local offset (dx,dy) within the block.
func (mt *MetaTile) At(dx, dy int) MetaNode { return mt.Nodes[mt.indexOf(dx, dy)] }

// Set stores the node at local offset (dx,dy).
func (mt *MetaTile) Set(dx, dy int, n MetaNode) { mt.Nodes[mt.indexOf(dx, dy)] = n }

const (
	metaTileMagic   = "MT"
	metaTileVersion = uint16(1)
)

// EncodeMetaTile serializes mt per spec §6.4.
func EncodeMetaTile(mt *MetaTile) []byte {
	buf := make([]byte, 0, 16+len(mt.Nodes)*32)
	buf = append(buf, metaTileMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, metaTileVersion)
	buf = append(buf, mt.BinaryOrder)
	buf = append(buf, mt.MetaId.Lod)
	buf = binary.LittleEndian.AppendUint32(buf, mt.MetaId.X)
	buf = binary.LittleEndian.AppendUint32(buf, mt.MetaId.Y)
	buf = binary.LittleEndian.AppendUint32(buf, flagsMask(mt.Nodes))

	for _, n := range mt.Nodes {
		if !n.present() {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, byte(n.Flags))
		buf = appendFloat32(buf, n.HeightRange[0])
		buf = appendFloat32(buf, n.HeightRange[1])
		buf = appendFloat32(buf, float32(n.Extents.XMin))
		buf = appendFloat32(buf, float32(n.Extents.YMin))
		buf = appendFloat32(buf, float32(n.Extents.XMax))
		buf = appendFloat32(buf, float32(n.Extents.YMax))
		buf = appendFloat32(buf, 0) // reserved 5th extents field, unused
		buf = appendFloat32(buf, 0) // reserved 6th extents field, unused
		buf = appendFloat32(buf, n.TexelSize)
		buf = binary.LittleEndian.AppendUint16(buf, n.DisplaySize)
		buf = binary.LittleEndian.AppendUint16(buf, n.Reference)
		buf = binary.AppendUvarint(buf, uint64(len(n.Credits)))
		for _, c := range n.Credits {
			buf = binary.AppendUvarint(buf, uint64(len(c)))
			buf = append(buf, c...)
		}
	}
	return buf
}

func appendFloat32(buf []byte, f float32) []byte {
	return binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
}

// flagsMask ORs every present node's flags together, used as the header's
// quick "does this block contain anything at all" summary field.
func flagsMask(nodes []MetaNode) uint32 {
	var mask uint32
	for _, n := range nodes {
		mask |= uint32(n.Flags)
	}
	return mask
}

// DecodeMetaTile parses a buffer produced by EncodeMetaTile.
func DecodeMetaTile(buf []byte) (*MetaTile, error) {
	if len(buf) < 18 {
		return nil, tileerror.New(tileerror.FormatError, "metatile: buffer too short for header")
	}
	if string(buf[0:2]) != metaTileMagic {
		return nil, tileerror.New(tileerror.FormatError, "metatile: bad magic %q", buf[0:2])
	}
	pos := 2
	_ = binary.LittleEndian.Uint16(buf[pos:]) // version, unused for now
	pos += 2
	binaryOrder := buf[pos]
	pos++
	lod := buf[pos]
	pos++
	x := binary.LittleEndian.Uint32(buf[pos:])
	pos += 4
	y := binary.LittleEndian.Uint32(buf[pos:])
	pos += 4
	pos += 4 // flagsMask, informational only

	mt := NewMetaTile(tileid.ID{Lod: lod, X: x, Y: y}, binaryOrder)
	for i := range mt.Nodes {
		if pos >= len(buf) {
			return nil, tileerror.New(tileerror.FormatError, "metatile: truncated before node %d", i)
		}
		flags := buf[pos]
		pos++
		if flags == 0 {
			continue
		}
		n := MetaNode{Flags: MetaFlag(flags)}
		if pos+4*9+2+2 > len(buf) {
			return nil, tileerror.New(tileerror.FormatError, "metatile: truncated node %d body", i)
		}
		n.HeightRange[0] = readFloat32(buf[pos:])
		pos += 4
		n.HeightRange[1] = readFloat32(buf[pos:])
		pos += 4
		n.Extents.XMin = float64(readFloat32(buf[pos:]))
		pos += 4
		n.Extents.YMin = float64(readFloat32(buf[pos:]))
		pos += 4
		n.Extents.XMax = float64(readFloat32(buf[pos:]))
		pos += 4
		n.Extents.YMax = float64(readFloat32(buf[pos:]))
		pos += 4
		pos += 8 // reserved 5th and 6th extents fields
		n.TexelSize = readFloat32(buf[pos:])
		pos += 4
		n.DisplaySize = binary.LittleEndian.Uint16(buf[pos:])
		pos += 2
		n.Reference = binary.LittleEndian.Uint16(buf[pos:])
		pos += 2

		count, nRead := binary.Uvarint(buf[pos:])
		if nRead <= 0 {
			return nil, tileerror.New(tileerror.FormatError, "metatile: bad credit count varint at node %d", i)
		}
		pos += nRead
		n.Credits = make([]string, 0, count)
		for c := uint64(0); c < count; c++ {
			l, nRead := binary.Uvarint(buf[pos:])
			if nRead <= 0 {
				return nil, tileerror.New(tileerror.FormatError, "metatile: bad credit length varint at node %d", i)
			}
			pos += nRead
			if pos+int(l) > len(buf) {
				return nil, tileerror.New(tileerror.FormatError, "metatile: truncated credit string at node %d", i)
			}
			n.Credits = append(n.Credits, string(buf[pos:pos+int(l)]))
			pos += int(l)
		}
		mt.Nodes[i] = n
	}
	return mt, nil
}

func readFloat32(buf []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf))
}

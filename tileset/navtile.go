package tileset

import (
	"encoding/binary"
	"math"

	"github.com/opentiles/tilestore/tileerror"
)

// encodeNavTile serializes a NavTile as
// [size u32][minHeight f32][maxHeight f32][size*size f32 samples].
func encodeNavTile(nav NavTile) []byte {
	buf := make([]byte, 0, 12+4*len(nav.Heights))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(nav.Size))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(nav.MinHeight))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(nav.MaxHeight))
	for _, h := range nav.Heights {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(h))
	}
	return buf
}

func decodeNavTile(buf []byte) (*NavTile, error) {
	if len(buf) < 12 {
		return nil, tileerror.New(tileerror.FormatError, "navtile: buffer too short for header")
	}
	size := int(binary.LittleEndian.Uint32(buf))
	min := math.Float32frombits(binary.LittleEndian.Uint32(buf[4:]))
	max := math.Float32frombits(binary.LittleEndian.Uint32(buf[8:]))
	buf = buf[12:]

	want := size * size
	if len(buf) < want*4 {
		return nil, tileerror.New(tileerror.FormatError, "navtile: truncated height grid")
	}
	heights := make([]float32, want)
	for i := range heights {
		heights[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return &NavTile{Size: size, Heights: heights, MinHeight: min, MaxHeight: max}, nil
}

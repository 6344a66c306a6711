// Minimal ISO-BMFF box builder: big-endian size-prefixed boxes, built
// bottom-up in plain Go rather than through a full third-party MP4
// muxer, since the sink only ever writes the boxes a gapless AAC/ALAC
// track needs (ftyp/moov/mdat, esds/alac, edts, ilst).
package mp4

import "encoding/binary"

func box(name string, body []byte) []byte {
	out := make([]byte, 8+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(8+len(body)))
	copy(out[4:8], name)
	copy(out[8:], body)

	return out
}

func boxes(name string, parts ...[]byte) []byte {
	var body []byte
	for _, p := range parts {
		body = append(body, p...)
	}

	return box(name, body)
}

func beU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)

	return b
}

func beU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)

	return b
}

func beU16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)

	return b
}

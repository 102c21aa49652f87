package serializer

import (
	"github.com/ValentinKolb/artic/rpc/common"
)

// --------------------------------------------------------------------------
// Response buffer sequence
// --------------------------------------------------------------------------
//
// A successful response may carry a payload made of contiguous records:
// - 4 bytes: bufferID (uint32, little endian)
// - 4 bytes: bufferSize (uint32, little endian)
// - N bytes: data

// AppendBuffer appends one buffer record to dst
func AppendBuffer(dst []byte, bufferID uint32, data []byte) []byte {
	var header [common.BufferHeaderSize]byte
	order.PutUint32(header[0:4], bufferID)
	order.PutUint32(header[4:8], uint32(len(data)))
	dst = append(dst, header[:]...)
	return append(dst, data...)
}

// FindBuffer scans the payload for the first record with the given id.
// A record whose declared size runs past the payload end is treated as missing.
func FindBuffer(payload []byte, bufferID uint32) ([]byte, bool) {
	pos := 0
	for pos+common.BufferHeaderSize <= len(payload) {
		id := order.Uint32(payload[pos : pos+4])
		size := int(order.Uint32(payload[pos+4 : pos+8]))
		pos += common.BufferHeaderSize

		if size < 0 || size > len(payload)-pos {
			return nil, false
		}
		if id == bufferID {
			return payload[pos : pos+size], true
		}
		pos += size
	}
	return nil, false
}

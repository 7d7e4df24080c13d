package wire

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned when a CompactSize read runs past the end of
// the available bytes.
var ErrShortBuffer = errors.New("wire: short buffer")

// PutCompactSize appends n encoded as a Bitcoin-style CompactSize (varint).
func PutCompactSize(buf []byte, n uint64) []byte {
	switch {
	case n < 0xfd:
		return append(buf, byte(n))
	case n <= 0xffff:
		buf = append(buf, 0xfd)
		return binary.LittleEndian.AppendUint16(buf, uint16(n))
	case n <= 0xffffffff:
		buf = append(buf, 0xfe)
		return binary.LittleEndian.AppendUint32(buf, uint32(n))
	default:
		buf = append(buf, 0xff)
		return binary.LittleEndian.AppendUint64(buf, n)
	}
}

// CompactSizeLen returns the encoded length of n without writing it.
func CompactSizeLen(n uint64) int {
	switch {
	case n < 0xfd:
		return 1
	case n <= 0xffff:
		return 3
	case n <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// ReadCompactSize decodes a CompactSize from the start of b, returning the
// value and the number of bytes consumed.
func ReadCompactSize(b []byte) (uint64, int, error) {
	if len(b) < 1 {
		return 0, 0, ErrShortBuffer
	}
	switch b[0] {
	case 0xfd:
		if len(b) < 3 {
			return 0, 0, ErrShortBuffer
		}
		return uint64(binary.LittleEndian.Uint16(b[1:3])), 3, nil
	case 0xfe:
		if len(b) < 5 {
			return 0, 0, ErrShortBuffer
		}
		return uint64(binary.LittleEndian.Uint32(b[1:5])), 5, nil
	case 0xff:
		if len(b) < 9 {
			return 0, 0, ErrShortBuffer
		}
		return binary.LittleEndian.Uint64(b[1:9]), 9, nil
	default:
		return uint64(b[0]), 1, nil
	}
}

// Package varint implements the zigzag/varint primitives the sample index
// builds on.
package varint

import (
	"encoding/binary"
	"errors"
)

// ErrBufferUnderrun is returned when a varint is truncated.
var ErrBufferUnderrun = errors.New("varint: buffer underrun")

// ErrIntegerOverflow is returned when a decoded varint exceeds 32 bits.
var ErrIntegerOverflow = errors.New("varint: integer overflow")

// maxVarint32Len is the longest a LEB128 encoding of a 32-bit value can be:
// 4 continuation bytes of 7 bits each plus one more to carry the overflow
// check through to 5 bytes (32 bits needs ceil(32/7) = 5 groups).
const maxVarint32Len = 5

// ZigZag32 maps a signed 32-bit delta onto an unsigned 32-bit value with
// small magnitudes (positive or negative) mapping to small results.
func ZigZag32(n int32) uint32 {
	return uint32((n << 1) ^ (n >> 31))
}

// UnZigZag32 is the inverse of ZigZag32.
func UnZigZag32(u uint32) int32 {
	return int32(u>>1) ^ -int32(u&1)
}

// PutUvarint32 encodes v into buf (which must be at least 5 bytes) and
// returns the number of bytes written.
func PutUvarint32(buf []byte, v uint32) int {
	return binary.PutUvarint(buf, uint64(v))
}

// AppendUvarint32 appends the varint encoding of v to buf.
func AppendUvarint32(buf []byte, v uint32) []byte {
	var tmp [maxVarint32Len]byte
	n := PutUvarint32(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// Uvarint32 decodes a single varint from the front of buf, capped at 32
// bits of payload. It returns the value, the number of bytes consumed, and
// an error.
func Uvarint32(buf []byte) (uint32, int, error) {
	var v uint64
	for i := 0; i < maxVarint32Len; i++ {
		if i >= len(buf) {
			return 0, 0, ErrBufferUnderrun
		}
		b := buf[i]
		v |= uint64(b&0x7f) << (7 * uint(i))
		if b < 0x80 {
			if v > 0xffffffff {
				return 0, 0, ErrIntegerOverflow
			}
			return uint32(v), i + 1, nil
		}
	}
	return 0, 0, ErrIntegerOverflow
}

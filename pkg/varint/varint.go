// Package varint implements the little-endian base-128 varint codec and the
// CRC32 checksum helpers shared by the WAL, SST and manifest on-disk
// formats.
package varint

import (
	"encoding/binary"
	"hash/crc32"
)

const continuation = 0x80

// EncodeUint32 appends the LEB128 encoding of v to dst and returns the
// extended slice. At most 5 bytes are written.
func EncodeUint32(dst []byte, v uint32) []byte {
	for v >= continuation {
		dst = append(dst, byte(v)|continuation)
		v >>= 7
	}
	return append(dst, byte(v))
}

// EncodeUint64 appends the LEB128 encoding of v to dst. At most 10 bytes
// are written.
func EncodeUint64(dst []byte, v uint64) []byte {
	for v >= continuation {
		dst = append(dst, byte(v)|continuation)
		v >>= 7
	}
	return append(dst, byte(v))
}

// DecodeUint32 decodes a LEB128-encoded uint32 from the head of src,
// returning the value and the number of bytes consumed. ok is false if src
// is truncated (no terminal byte found).
func DecodeUint32(src []byte) (value uint32, n int, ok bool) {
	var shift uint
	for i, b := range src {
		if shift >= 35 {
			return 0, 0, false
		}
		value |= uint32(b&0x7f) << shift
		if b&continuation == 0 {
			return value, i + 1, true
		}
		shift += 7
	}
	return 0, 0, false
}

// DecodeUint64 decodes a LEB128-encoded uint64 from the head of src,
// returning the value and the number of bytes consumed.
func DecodeUint64(src []byte) (value uint64, n int, ok bool) {
	var shift uint
	for i, b := range src {
		if shift >= 70 {
			return 0, 0, false
		}
		value |= uint64(b&0x7f) << shift
		if b&continuation == 0 {
			return value, i + 1, true
		}
		shift += 7
	}
	return 0, 0, false
}

// Len32 returns the number of bytes EncodeUint32 would write for v, without
// allocating.
func Len32(v uint32) int {
	n := 1
	for v >= continuation {
		v >>= 7
		n++
	}
	return n
}

// Len64 returns the number of bytes EncodeUint64 would write for v.
func Len64(v uint64) int {
	n := 1
	for v >= continuation {
		v >>= 7
		n++
	}
	return n
}

// Checksum computes the CRC32 (ISO-HDLC / IEEE polynomial) of data.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// AppendChecksum appends the little-endian CRC32 of data to dst.
func AppendChecksum(dst []byte, data []byte) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], Checksum(data))
	return append(dst, buf[:]...)
}

// Verify recomputes the CRC32 of data and compares it, by value, against
// the little-endian checksum bytes in want. A malformed (wrong-length)
// want is treated as a mismatch, never a panic.
func Verify(data []byte, want []byte) bool {
	if len(want) != 4 {
		return false
	}
	return Checksum(data) == binary.LittleEndian.Uint32(want)
}

// Package dtools provides primitive byte-level conversions shared by the
// stream, format, and filter layers.
package dtools

import "math"

// BytesToUint64 decodes count bytes from buf starting at off as an unsigned
// integer. Counts other than 1, 2, 4 and 8 are legal; some TIFF variants
// carry 3-byte integers.
func BytesToUint64(buf []byte, off, count int, little bool) uint64 {
	if count > 8 {
		count = 8
	}
	var v uint64
	for i := 0; i < count; i++ {
		if off+i >= len(buf) {
			break
		}
		shift := i
		if !little {
			shift = count - i - 1
		}
		v |= uint64(buf[off+i]) << (8 * uint(shift))
	}
	return v
}

// BytesToUint32 decodes up to 4 bytes as a uint32.
func BytesToUint32(buf []byte, off, count int, little bool) uint32 {
	if count > 4 {
		count = 4
	}
	return uint32(BytesToUint64(buf, off, count, little))
}

// BytesToUint16 decodes up to 2 bytes as a uint16.
func BytesToUint16(buf []byte, off, count int, little bool) uint16 {
	if count > 2 {
		count = 2
	}
	return uint16(BytesToUint64(buf, off, count, little))
}

// BytesToInt16 decodes up to 2 bytes as an int16.
func BytesToInt16(buf []byte, off, count int, little bool) int16 {
	return int16(BytesToUint16(buf, off, count, little))
}

// BytesToInt32 decodes up to 4 bytes as an int32.
func BytesToInt32(buf []byte, off, count int, little bool) int32 {
	return int32(BytesToUint32(buf, off, count, little))
}

// BytesToInt64 decodes up to 8 bytes as an int64.
func BytesToInt64(buf []byte, off, count int, little bool) int64 {
	return int64(BytesToUint64(buf, off, count, little))
}

// BytesToFloat32 decodes 4 bytes as an IEEE 754 float.
func BytesToFloat32(buf []byte, off int, little bool) float32 {
	return math.Float32frombits(BytesToUint32(buf, off, 4, little))
}

// BytesToFloat64 decodes 8 bytes as an IEEE 754 double.
func BytesToFloat64(buf []byte, off int, little bool) float64 {
	return math.Float64frombits(BytesToUint64(buf, off, 8, little))
}

// Unpack writes the low count bytes of v into buf at off, in the requested
// byte order. The inverse of BytesToUint64.
func Unpack(v uint64, buf []byte, off, count int, little bool) {
	for i := 0; i < count; i++ {
		shift := i
		if !little {
			shift = count - i - 1
		}
		buf[off+i] = byte(v >> (8 * uint(shift)))
	}
}

// Package rle implements the PackBits run-length scheme used by TIFF
// compression 32773 (TIFF 6.0, section 9).
package rle

import "fmt"

// runAt returns the length of the byte run starting at i, capped at the
// 128-byte limit of a single replicate.
func runAt(src []byte, i int) int {
	n := 1
	for i+n < len(src) && n < 128 && src[i+n] == src[i] {
		n++
	}
	return n
}

// Pack compresses src with PackBits. Runs of three or more bytes become
// replicates; everything between runs is emitted as literal chunks.
func Pack(src []byte) []byte {
	dst := make([]byte, 0, len(src)+len(src)/128+1)

	emitLiteral := func(from, to int) {
		for from < to {
			n := to - from
			if n > 128 {
				n = 128
			}
			dst = append(dst, byte(n-1))
			dst = append(dst, src[from:from+n]...)
			from += n
		}
	}

	lit := 0
	i := 0
	for i < len(src) {
		n := runAt(src, i)
		if n < 3 {
			i += n
			continue
		}
		emitLiteral(lit, i)
		// header 257-n encodes a replicate of length n
		dst = append(dst, byte(257-n), src[i])
		i += n
		lit = i
	}
	emitLiteral(lit, len(src))
	return dst
}

// Unpack decodes PackBits data. A positive sizeHint preallocates the
// output and stops decoding once that many bytes are produced, so pad
// bytes trailing the final run are ignored.
func Unpack(src []byte, sizeHint int) ([]byte, error) {
	capacity := len(src)
	if sizeHint > 0 {
		capacity = sizeHint
	}
	dst := make([]byte, 0, capacity)

	for i := 0; i < len(src); {
		if sizeHint > 0 && len(dst) >= sizeHint {
			break
		}
		header := src[i]
		i++
		switch {
		case header == 0x80:
			// reserved header, skipped per the spec
		case header < 0x80:
			n := int(header) + 1
			if i+n > len(src) {
				return nil, fmt.Errorf("rle: literal of %d bytes exceeds input at offset %d", n, i)
			}
			dst = append(dst, src[i:i+n]...)
			i += n
		default:
			if i >= len(src) {
				return nil, fmt.Errorf("rle: replicate at offset %d has no value byte", i-1)
			}
			n := 257 - int(header)
			value := src[i]
			i++
			for ; n > 0; n-- {
				dst = append(dst, value)
			}
		}
	}
	return dst, nil
}

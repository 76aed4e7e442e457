package dtools

import (
	"errors"
	"fmt"
	"math"
)

// ErrIntegerOverflow reports a size computation that exceeded the range of a
// signed 32-bit byte index.
var ErrIntegerOverflow = errors.New("dtools: integer overflow")

// SafeMultiply32 multiplies the given sizes, failing if the product cannot
// index a contiguous byte array (exceeds 2^31-1).
func SafeMultiply32(sizes ...int64) (int64, error) {
	if len(sizes) == 0 {
		return 0, nil
	}
	total := int64(1)
	for _, sz := range sizes {
		if sz < 0 {
			return 0, fmt.Errorf("%w: negative size %d", ErrIntegerOverflow, sz)
		}
		if sz == 0 {
			return 0, nil
		}
		if total > math.MaxInt32/sz {
			return 0, fmt.Errorf("%w: product of %v too large", ErrIntegerOverflow, sizes)
		}
		total *= sz
	}
	return total, nil
}

// MustMultiply32 is SafeMultiply32 for callers that have already validated
// their sizes against the plane budget.
func MustMultiply32(sizes ...int64) int64 {
	v, err := SafeMultiply32(sizes...)
	if err != nil {
		panic(err)
	}
	return v
}

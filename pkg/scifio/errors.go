package scifio

import (
	"errors"
	"fmt"
)

// Argument errors.
var (
	ErrIndexOutOfRange = errors.New("scifio: index out of range")
	ErrInvalidAxisSpec = errors.New("scifio: invalid axis specification")
)

// OutOfMemoryPlaneError reports a plane too large to decode safely with
// the available memory, even strip-wise.
type OutOfMemoryPlaneError struct {
	ImageIndex int
	PlaneIndex int64
}

func (e *OutOfMemoryPlaneError) Error() string {
	return fmt.Sprintf("scifio: plane %d of image %d too large for available memory",
		e.PlaneIndex, e.ImageIndex)
}

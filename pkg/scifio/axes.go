package scifio

import "fmt"

// AxisType names a dimension of an image.
type AxisType string

const (
	AxisX       AxisType = "X"
	AxisY       AxisType = "Y"
	AxisZ       AxisType = "Z"
	AxisChannel AxisType = "Channel"
	AxisTime    AxisType = "Time"
)

// Axis is one calibrated dimension of an image.
type Axis struct {
	Type AxisType
	// Length is the number of samples along this axis.
	Length int64
	// Scale is the physical size of one sample, in Unit. Zero when
	// uncalibrated.
	Scale float64
	Unit  string
}

// PositionToRaster flattens an n-dimensional position into a single index,
// first axis fastest.
func PositionToRaster(lengths, pos []int64) int64 {
	var offset int64
	var mult int64 = 1
	for i := range pos {
		offset += mult * pos[i]
		mult *= lengths[i]
	}
	return offset
}

// RasterToPosition expands a flat index into an n-dimensional position,
// first axis fastest.
func RasterToPosition(lengths []int64, raster int64) []int64 {
	pos := make([]int64, len(lengths))
	var mult int64 = 1
	for i := range lengths {
		pos[i] = (raster / mult) % lengths[i]
		mult *= lengths[i]
	}
	return pos
}

func (t AxisType) String() string { return string(t) }

// ParseAxisType resolves a textual axis name.
func ParseAxisType(s string) (AxisType, error) {
	switch AxisType(s) {
	case AxisX, AxisY, AxisZ, AxisChannel, AxisTime:
		return AxisType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAxisSpec, s)
}

package scifio

import "github.com/RayPlante/scifio/pkg/scifio/dtools"

// ImageMetadata describes one image of a dataset: its pixel encoding and
// its axes. The first PlanarAxisCount axes are the planar ones; the
// remaining axes index between planes.
type ImageMetadata struct {
	PixelType    PixelType
	LittleEndian bool
	// Indexed marks palette-based images; ColorTable holds the palette.
	Indexed bool
	// InterleavedAxisCount is the number of leading planar axes stored
	// sample-interleaved (nonzero for chunky RGB).
	InterleavedAxisCount int
	PlanarAxisCount      int
	Axes                 []Axis
	BitsPerPixel         int
	// ColorTable is the flattened palette of an indexed image, one row per
	// component.
	ColorTable [][]uint16

	// ThumbSizeX/Y are the thumbnail dimensions; zero selects a default.
	ThumbSizeX int64
	ThumbSizeY int64
}

// AxisIndex returns the position of the axis of the given type, or -1.
func (m *ImageMetadata) AxisIndex(t AxisType) int {
	for i, a := range m.Axes {
		if a.Type == t {
			return i
		}
	}
	return -1
}

// AxisLength returns the length of the axis of the given type, or 1 when
// the axis is absent.
func (m *ImageMetadata) AxisLength(t AxisType) int64 {
	if i := m.AxisIndex(t); i >= 0 {
		return m.Axes[i].Length
	}
	return 1
}

// AxesPlanar returns the planar axis prefix.
func (m *ImageMetadata) AxesPlanar() []Axis { return m.Axes[:m.PlanarAxisCount] }

// AxesNonPlanar returns the non-planar axis tail.
func (m *ImageMetadata) AxesNonPlanar() []Axis { return m.Axes[m.PlanarAxisCount:] }

// AxesLengthsPlanar returns the lengths of the planar axes.
func (m *ImageMetadata) AxesLengthsPlanar() []int64 {
	return axisLengths(m.AxesPlanar())
}

// AxesLengthsNonPlanar returns the lengths of the non-planar axes.
func (m *ImageMetadata) AxesLengthsNonPlanar() []int64 {
	return axisLengths(m.AxesNonPlanar())
}

func axisLengths(axes []Axis) []int64 {
	lengths := make([]int64, len(axes))
	for i, a := range axes {
		lengths[i] = a.Length
	}
	return lengths
}

// PlaneCount returns the number of planes: the product of the non-planar
// axis lengths.
func (m *ImageMetadata) PlaneCount() int64 {
	count := int64(1)
	for _, a := range m.AxesNonPlanar() {
		count *= a.Length
	}
	return count
}

// PlaneSize returns the byte size of one full plane.
func (m *ImageMetadata) PlaneSize() (int64, error) {
	sizes := append(m.AxesLengthsPlanar(), int64(m.PixelType.BytesPerPixel()))
	return dtools.SafeMultiply32(sizes...)
}

// Interleaved reports whether planar samples are pixel-interleaved.
func (m *ImageMetadata) Interleaved() bool { return m.InterleavedAxisCount > 0 }

// Copy returns a deep copy of the metadata.
func (m *ImageMetadata) Copy() *ImageMetadata {
	out := *m
	out.Axes = append([]Axis(nil), m.Axes...)
	if m.ColorTable != nil {
		out.ColorTable = make([][]uint16, len(m.ColorTable))
		for i, row := range m.ColorTable {
			out.ColorTable[i] = append([]uint16(nil), row...)
		}
	}
	return &out
}

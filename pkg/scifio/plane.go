package scifio

// Plane is a contiguous byte buffer covering a planar sub-region of one
// image, together with the offsets and lengths it covers.
type Plane struct {
	Bytes   []byte
	Offsets []int64
	Lengths []int64
	Meta    *ImageMetadata
}

// NewPlane allocates a plane buffer sized for the given planar region of
// meta.
func NewPlane(meta *ImageMetadata, offsets, lengths []int64) *Plane {
	size := int64(meta.PixelType.BytesPerPixel())
	for _, l := range lengths {
		size *= l
	}
	return &Plane{
		Bytes:   make([]byte, size),
		Offsets: append([]int64(nil), offsets...),
		Lengths: append([]int64(nil), lengths...),
		Meta:    meta,
	}
}

package scifio

// Reader exposes the images of one parsed dataset and opens planes on
// demand. Readers own their backing stream and metadata; closing releases
// both. A reader instance is single-threaded; independent readers may run
// in parallel as long as they do not share a writable source.
type Reader interface {
	// ImageCount returns the number of images in the dataset.
	ImageCount() int
	// Metadata returns the metadata of one image.
	Metadata(imageIndex int) *ImageMetadata
	// PlaneCount returns the number of planes of one image.
	PlaneCount(imageIndex int) int64
	// OpenPlane reads the planar sub-region [offsets, offsets+lengths) of
	// the given plane.
	OpenPlane(imageIndex int, planeIndex int64, offsets, lengths []int64, cfg *Config) (*Plane, error)
	// OpenThumbPlane reads a sub-sampled preview of the given plane.
	OpenThumbPlane(imageIndex int, planeIndex int64) (*Plane, error)
	// CurrentName returns the identifier this reader was opened on.
	CurrentName() string
	Close() error
}

// Writer streams planes into an output dataset. SavePlane calls on one
// writer are serialized by the writer itself; the last directory is
// flushed on Close.
type Writer interface {
	SavePlane(imageIndex int, planeIndex int64, plane *Plane, offsets, lengths []int64) error
	Close() error
}

// FullPlaneArgs returns the zero offsets and full planar lengths of an
// image, the arguments for opening a whole plane.
func FullPlaneArgs(m *ImageMetadata) (offsets, lengths []int64) {
	lengths = m.AxesLengthsPlanar()
	offsets = make([]int64, len(lengths))
	return offsets, lengths
}

package filters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RayPlante/scifio/pkg/scifio"
)

// fakeReader serves synthetic uint8 planes and counts parent reads.
type fakeReader struct {
	meta   *scifio.ImageMetadata
	planes [][]byte // full planes, one per parent plane index
	reads  int
}

func (f *fakeReader) ImageCount() int                    { return 1 }
func (f *fakeReader) Metadata(int) *scifio.ImageMetadata { return f.meta }
func (f *fakeReader) PlaneCount(int) int64               { return f.meta.PlaneCount() }
func (f *fakeReader) CurrentName() string                { return "fake" }
func (f *fakeReader) Close() error                       { return nil }

func (f *fakeReader) OpenPlane(imageIndex int, planeIndex int64, offsets, lengths []int64, _ *scifio.Config) (*scifio.Plane, error) {
	f.reads++
	full := f.planes[planeIndex]
	width := f.meta.AxisLength(scifio.AxisX)
	height := f.meta.AxisLength(scifio.AxisY)

	plane := scifio.NewPlane(f.meta, offsets, lengths)
	switch f.meta.PlanarAxisCount {
	case 2: // gray [X,Y]
		x0, y0 := offsets[0], offsets[1]
		w, h := lengths[0], lengths[1]
		for y := int64(0); y < h; y++ {
			copy(plane.Bytes[y*w:(y+1)*w], full[(y0+y)*width+x0:])
		}
	case 3:
		if f.meta.Interleaved() { // [C,X,Y], channel fastest
			spp := lengths[0]
			x0, y0 := offsets[1], offsets[2]
			w, h := lengths[1], lengths[2]
			rowBytes := w * spp
			for y := int64(0); y < h; y++ {
				src := ((y0+y)*width + x0) * spp
				copy(plane.Bytes[y*rowBytes:(y+1)*rowBytes], full[src:src+rowBytes])
			}
		} else { // [X,Y,C], channel-major
			x0, y0, c0 := offsets[0], offsets[1], offsets[2]
			w, h, cw := lengths[0], lengths[1], lengths[2]
			for c := int64(0); c < cw; c++ {
				for y := int64(0); y < h; y++ {
					src := (c0+c)*width*height + (y0+y)*width + x0
					dst := (c*h + y) * w
					copy(plane.Bytes[dst:dst+w], full[src:src+w])
				}
			}
		}
	}
	return plane, nil
}

func (f *fakeReader) OpenThumbPlane(imageIndex int, planeIndex int64) (*scifio.Plane, error) {
	offsets, lengths := scifio.FullPlaneArgs(f.meta)
	return f.OpenPlane(imageIndex, planeIndex, offsets, lengths, nil)
}

// interleavedRGB builds a parent with [C,X,Y] planar axes and zPlanes
// non-planar Z planes. Pixel value encodes (plane, channel, y, x).
func interleavedRGB(width, height, spp, zPlanes int64) *fakeReader {
	meta := &scifio.ImageMetadata{
		PixelType:            scifio.Uint8,
		BitsPerPixel:         8,
		PlanarAxisCount:      3,
		InterleavedAxisCount: 1,
		Axes: []scifio.Axis{
			{Type: scifio.AxisChannel, Length: spp},
			{Type: scifio.AxisX, Length: width},
			{Type: scifio.AxisY, Length: height},
		},
	}
	if zPlanes > 1 {
		meta.Axes = append(meta.Axes, scifio.Axis{Type: scifio.AxisZ, Length: zPlanes})
	}
	f := &fakeReader{meta: meta}
	for p := int64(0); p < zPlanes; p++ {
		full := make([]byte, width*height*spp)
		for y := int64(0); y < height; y++ {
			for x := int64(0); x < width; x++ {
				for c := int64(0); c < spp; c++ {
					full[(y*width+x)*spp+c] = pixel(p, c, y, x)
				}
			}
		}
		f.planes = append(f.planes, full)
	}
	return f
}

func pixel(p, c, y, x int64) byte {
	return byte(p*101 + c*67 + y*13 + x)
}

func TestSeparator_Identity(t *testing.T) {
	parent := interleavedRGB(8, 6, 3, 1)
	ps, err := NewPlaneSeparator(parent) // no axes separated
	require.NoError(t, err)

	assert.Equal(t, int64(1), ps.PlaneCount(0))
	offsets, lengths := scifio.FullPlaneArgs(ps.Metadata(0))
	got, err := ps.OpenPlane(0, 0, offsets, lengths, nil)
	require.NoError(t, err)

	want, err := parent.OpenPlane(0, 0, offsets, lengths, nil)
	require.NoError(t, err)
	assert.Equal(t, want.Bytes, got.Bytes)

	// sub-regions must match too
	sub := []int64{0, 2, 1}
	subLen := []int64{3, 4, 3}
	got, err = ps.OpenPlane(0, 0, sub, subLen, nil)
	require.NoError(t, err)
	want, err = parent.OpenPlane(0, 0, sub, subLen, nil)
	require.NoError(t, err)
	assert.Equal(t, want.Bytes, got.Bytes)
}

func TestSeparator_InterleavedChannel(t *testing.T) {
	const width, height = 8, 6
	parent := interleavedRGB(width, height, 3, 1)
	ps, err := NewPlaneSeparator(parent, scifio.AxisChannel)
	require.NoError(t, err)

	meta := ps.Metadata(0)
	assert.Equal(t, int64(3), ps.PlaneCount(0))
	assert.Equal(t, 2, meta.PlanarAxisCount)
	assert.Equal(t, 0, meta.InterleavedAxisCount)

	// virtual plane c=1 is the middle byte of every pixel triplet
	offsets, lengths := scifio.FullPlaneArgs(meta)
	plane, err := ps.OpenPlane(0, 1, offsets, lengths, nil)
	require.NoError(t, err)
	require.Len(t, plane.Bytes, width*height)
	for y := int64(0); y < height; y++ {
		for x := int64(0); x < width; x++ {
			assert.Equal(t, pixel(0, 1, y, x), plane.Bytes[y*width+x],
				"mismatch at (%d,%d)", x, y)
		}
	}
}

func TestSeparator_StripWise(t *testing.T) {
	const width, height = 16, 25
	parent := interleavedRGB(width, height, 3, 1)
	ps, err := NewPlaneSeparator(parent, scifio.AxisChannel)
	require.NoError(t, err)
	// force the strip path: sqrt(25) = 5 strips
	ps.SetMemoryBudget(1)

	offsets, lengths := scifio.FullPlaneArgs(ps.Metadata(0))
	for c := int64(0); c < 3; c++ {
		plane, err := ps.OpenPlane(0, c, offsets, lengths, nil)
		require.NoError(t, err)
		for y := int64(0); y < height; y++ {
			for x := int64(0); x < width; x++ {
				require.Equal(t, pixel(0, c, y, x), plane.Bytes[y*width+x],
					"c=%d (%d,%d)", c, x, y)
			}
		}
	}
	// a strip-wise open must issue one parent read per strip
	assert.GreaterOrEqual(t, parent.reads, 15)
}

func TestSeparator_UnevenStrips(t *testing.T) {
	// height 7 with 2 strips leaves a taller final strip
	const width, height = 4, 7
	parent := interleavedRGB(width, height, 2, 1)
	ps, err := NewPlaneSeparator(parent, scifio.AxisChannel)
	require.NoError(t, err)
	ps.SetMemoryBudget(1) // sqrt(7) = 2 strips

	offsets, lengths := scifio.FullPlaneArgs(ps.Metadata(0))
	plane, err := ps.OpenPlane(0, 1, offsets, lengths, nil)
	require.NoError(t, err)
	for y := int64(0); y < height; y++ {
		for x := int64(0); x < width; x++ {
			require.Equal(t, pixel(0, 1, y, x), plane.Bytes[y*width+x])
		}
	}
}

func TestSeparator_PlanarParent(t *testing.T) {
	const width, height, spp = 5, 4, 3
	meta := &scifio.ImageMetadata{
		PixelType:       scifio.Uint8,
		BitsPerPixel:    8,
		PlanarAxisCount: 3,
		Axes: []scifio.Axis{
			{Type: scifio.AxisX, Length: width},
			{Type: scifio.AxisY, Length: height},
			{Type: scifio.AxisChannel, Length: spp},
		},
	}
	full := make([]byte, width*height*spp)
	for c := int64(0); c < spp; c++ {
		for y := int64(0); y < height; y++ {
			for x := int64(0); x < width; x++ {
				full[c*width*height+y*width+x] = pixel(0, c, y, x)
			}
		}
	}
	parent := &fakeReader{meta: meta, planes: [][]byte{full}}

	ps, err := NewPlaneSeparator(parent, scifio.AxisChannel)
	require.NoError(t, err)
	require.Equal(t, int64(3), ps.PlaneCount(0))

	offsets, lengths := scifio.FullPlaneArgs(ps.Metadata(0))
	for c := int64(0); c < spp; c++ {
		plane, err := ps.OpenPlane(0, c, offsets, lengths, nil)
		require.NoError(t, err)
		assert.Equal(t, full[c*width*height:(c+1)*width*height], plane.Bytes, "channel %d", c)
	}
}

func TestSeparator_OriginalIndex(t *testing.T) {
	parent := interleavedRGB(4, 4, 3, 2) // 2 parent planes, 3 channels
	ps, err := NewPlaneSeparator(parent, scifio.AxisChannel)
	require.NoError(t, err)
	require.Equal(t, int64(6), ps.PlaneCount(0))

	// channel varies fastest among the separated coordinates
	for v := int64(0); v < 6; v++ {
		assert.Equal(t, v/3, ps.OriginalIndex(0, v), "virtual plane %d", v)
	}
}

func TestSeparator_CacheSingleSlot(t *testing.T) {
	parent := interleavedRGB(8, 8, 3, 2)
	ps, err := NewPlaneSeparator(parent, scifio.AxisChannel)
	require.NoError(t, err)

	offsets, lengths := scifio.FullPlaneArgs(ps.Metadata(0))

	_, err = ps.OpenPlane(0, 0, offsets, lengths, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, parent.reads)

	// same parent plane, same region: served from cache
	_, err = ps.OpenPlane(0, 1, offsets, lengths, nil)
	require.NoError(t, err)
	_, err = ps.OpenPlane(0, 2, offsets, lengths, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, parent.reads)

	// a different parent plane misses
	_, err = ps.OpenPlane(0, 3, offsets, lengths, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, parent.reads)

	// changing any coordinate invalidates the match
	sub := append([]int64(nil), offsets...)
	subLen := append([]int64(nil), lengths...)
	sub[0], subLen[0] = 1, lengths[0]-1
	_, err = ps.OpenPlane(0, 3, sub, subLen, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, parent.reads)

	// and back: the single slot kept only the newest entry
	_, err = ps.OpenPlane(0, 3, offsets, lengths, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, parent.reads)
}

func TestSeparator_CacheContentCorrect(t *testing.T) {
	parent := interleavedRGB(6, 6, 3, 1)
	ps, err := NewPlaneSeparator(parent, scifio.AxisChannel)
	require.NoError(t, err)

	offsets, lengths := scifio.FullPlaneArgs(ps.Metadata(0))
	for c := int64(0); c < 3; c++ {
		plane, err := ps.OpenPlane(0, c, offsets, lengths, nil)
		require.NoError(t, err)
		for y := int64(0); y < 6; y++ {
			for x := int64(0); x < 6; x++ {
				require.Equal(t, pixel(0, c, y, x), plane.Bytes[y*6+x], "c=%d", c)
			}
		}
	}
	assert.Equal(t, 1, parent.reads)
}

func TestSeparator_SetSourceInvalidates(t *testing.T) {
	parent := interleavedRGB(4, 4, 3, 1)
	ps, err := NewPlaneSeparator(parent, scifio.AxisChannel)
	require.NoError(t, err)

	offsets, lengths := scifio.FullPlaneArgs(ps.Metadata(0))
	_, err = ps.OpenPlane(0, 0, offsets, lengths, nil)
	require.NoError(t, err)
	require.Equal(t, 1, parent.reads)

	replacement := interleavedRGB(4, 4, 3, 1)
	ps.SetSource(replacement)
	_, err = ps.OpenPlane(0, 0, offsets, lengths, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, replacement.reads)
}

func TestSeparator_IndexedDelegates(t *testing.T) {
	parent := interleavedRGB(4, 4, 3, 1)
	parent.meta.Indexed = true
	ps, err := NewPlaneSeparator(parent, scifio.AxisChannel)
	require.NoError(t, err)

	// no axis is split for palette images
	assert.Equal(t, parent.meta, ps.Metadata(0))
	offsets, lengths := scifio.FullPlaneArgs(parent.meta)
	got, err := ps.OpenPlane(0, 0, offsets, lengths, nil)
	require.NoError(t, err)
	want, err := parent.OpenPlane(0, 0, offsets, lengths, nil)
	require.NoError(t, err)
	assert.Equal(t, want.Bytes, got.Bytes)
}

func TestSeparator_Thumbnail(t *testing.T) {
	parent := interleavedRGB(8, 8, 3, 1)
	ps, err := NewPlaneSeparator(parent, scifio.AxisChannel)
	require.NoError(t, err)

	thumb, err := ps.OpenThumbPlane(0, 1)
	require.NoError(t, err)
	require.Len(t, thumb.Bytes, 8*8)
	for y := int64(0); y < 8; y++ {
		for x := int64(0); x < 8; x++ {
			assert.Equal(t, pixel(0, 1, y, x), thumb.Bytes[y*8+x])
		}
	}
}

func TestSeparator_RejectsPlanarAxes(t *testing.T) {
	parent := interleavedRGB(4, 4, 3, 1)
	_, err := NewPlaneSeparator(parent, scifio.AxisX)
	assert.ErrorIs(t, err, scifio.ErrInvalidAxisSpec)
}

func TestReaderFilter_Delegates(t *testing.T) {
	parent := interleavedRGB(4, 4, 3, 1)
	f := NewReaderFilter(parent)
	assert.Equal(t, parent.ImageCount(), f.ImageCount())
	assert.Equal(t, parent.PlaneCount(0), f.PlaneCount(0))
	assert.Equal(t, "fake", f.CurrentName())
	assert.Same(t, parent.Metadata(0), f.Metadata(0))
}

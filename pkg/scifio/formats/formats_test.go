package formats

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RayPlante/scifio/pkg/scifio"
	"github.com/RayPlante/scifio/pkg/scifio/filters"
	"github.com/RayPlante/scifio/pkg/scifio/handle"
	"github.com/RayPlante/scifio/pkg/scifio/location"
)

func rgbImage(width, height int64) *scifio.ImageMetadata {
	return &scifio.ImageMetadata{
		PixelType:            scifio.Uint8,
		BitsPerPixel:         8,
		PlanarAxisCount:      3,
		InterleavedAxisCount: 1,
		Axes: []scifio.Axis{
			{Type: scifio.AxisChannel, Length: 3},
			{Type: scifio.AxisX, Length: width},
			{Type: scifio.AxisY, Length: height},
		},
	}
}

func TestDetect(t *testing.T) {
	assert.Equal(t, FormatTIFF, DetectName("stack.ome.tif"))
	assert.Equal(t, FormatTIFF, DetectName("a.TIFF"))
	assert.Equal(t, FormatTIFF, DetectName("big.btf"))
	assert.Equal(t, FormatUnknown, DetectName("a.png"))

	f, err := Detect(handle.NewBytes([]byte{'I', 'I', 42, 0, 0, 0, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, FormatTIFF, f)

	f, err = Detect(handle.NewBytes([]byte{'M', 'M', 0, 43, 0, 8, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, FormatTIFF, f)

	f, err = Detect(handle.NewBytes([]byte("PNG?")))
	require.NoError(t, err)
	assert.Equal(t, FormatUnknown, f)
}

// TestOpen_WriteReadSeparate drives the whole stack: write an interleaved
// RGB TIFF to disk, reopen it through the registry with channel
// separation, and check each virtual plane.
func TestOpen_WriteReadSeparate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rgb.tif")
	img := rgbImage(8, 6)
	cfg := scifio.DefaultConfig()
	cfg.LittleEndian = true

	w, err := CreateTiff(path, []*scifio.ImageMetadata{img}, cfg)
	require.NoError(t, err)
	offsets, lengths := scifio.FullPlaneArgs(img)
	plane := scifio.NewPlane(img, offsets, lengths)
	for i := range plane.Bytes {
		plane.Bytes[i] = byte(i)
	}
	require.NoError(t, w.SavePlane(0, 0, plane, offsets, lengths))
	require.NoError(t, w.Close())

	reg := location.NewRegistry()
	openCfg := scifio.DefaultConfig()
	openCfg.SeparateAxes = []scifio.AxisType{scifio.AxisChannel}
	r, err := Open(reg, path, openCfg)
	require.NoError(t, err)
	defer r.Close()

	_, isSeparator := r.(*filters.PlaneSeparator)
	require.True(t, isSeparator)
	require.Equal(t, int64(3), r.PlaneCount(0))

	meta := r.Metadata(0)
	vOffsets, vLengths := scifio.FullPlaneArgs(meta)
	for c := int64(0); c < 3; c++ {
		virtual, err := r.OpenPlane(0, c, vOffsets, vLengths, nil)
		require.NoError(t, err)
		for i, b := range virtual.Bytes {
			require.Equal(t, plane.Bytes[i*3+int(c)], b, "c=%d sample=%d", c, i)
		}
	}
}

func TestOpen_MappedBytes(t *testing.T) {
	// write a small TIFF into memory, register it, open by synthetic id
	img := rgbImage(4, 4)
	cfg := scifio.DefaultConfig()
	cfg.LittleEndian = true

	path := filepath.Join(t.TempDir(), "m.tif")
	w, err := CreateTiff(path, []*scifio.ImageMetadata{img}, cfg)
	require.NoError(t, err)
	offsets, lengths := scifio.FullPlaneArgs(img)
	plane := scifio.NewPlane(img, offsets, lengths)
	require.NoError(t, w.SavePlane(0, 0, plane, offsets, lengths))
	require.NoError(t, w.Close())

	fh, err := handle.OpenFile(path)
	require.NoError(t, err)
	data := make([]byte, fh.Length())
	require.NoError(t, handle.ReadFully(fh, data))
	require.NoError(t, fh.Close())

	reg := location.NewRegistry()
	id := reg.RegisterBytes(data)
	r, err := Open(reg, id, nil)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, int64(1), r.PlaneCount(0))
}

func TestOpen_Unknown(t *testing.T) {
	reg := location.NewRegistry()
	reg.MapBytes("junk.bin", []byte("this is not an image"))
	_, err := Open(reg, "junk.bin", nil)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

package tiff

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RayPlante/scifio/pkg/scifio"
	"github.com/RayPlante/scifio/pkg/scifio/handle"
	"github.com/RayPlante/scifio/pkg/scifio/stream"
)

// tiffBuilder assembles minimal classic big-endian TIFF streams for parser
// tests.
type tiffBuilder struct {
	s *stream.Stream
	t *testing.T
}

func newBuilder(t *testing.T) *tiffBuilder {
	s := stream.New(handle.NewBuffer())
	s.SetOrder(binary.BigEndian)
	require.NoError(t, s.WriteString("MM"))
	require.NoError(t, s.WriteUint16(42))
	require.NoError(t, s.WriteUint32(0)) // patched by writeIFD
	return &tiffBuilder{s: s, t: t}
}

func (b *tiffBuilder) writeBytes(data []byte) int64 {
	off := b.s.Length()
	require.NoError(b.t, b.s.Seek(off))
	_, err := b.s.Write(data)
	require.NoError(b.t, err)
	return off
}

type entry struct {
	id    uint16
	typ   FieldType
	count uint32
	value uint32 // inline value or offset
}

// writeIFD writes an entry table at the end of the stream and links it
// from the given pointer offset.
func (b *tiffBuilder) writeIFD(linkAt int64, entries []entry, next uint32) int64 {
	off := b.s.Length()
	require.NoError(b.t, b.s.Seek(off))
	require.NoError(b.t, b.s.WriteUint16(uint16(len(entries))))
	for _, e := range entries {
		require.NoError(b.t, b.s.WriteUint16(e.id))
		require.NoError(b.t, b.s.WriteUint16(uint16(e.typ)))
		require.NoError(b.t, b.s.WriteUint32(e.count))
		if e.typ == TypeShort && e.count == 1 {
			// shorts pack into the high half of the big-endian field
			require.NoError(b.t, b.s.WriteUint16(uint16(e.value)))
			require.NoError(b.t, b.s.WriteUint16(0))
		} else {
			require.NoError(b.t, b.s.WriteUint32(e.value))
		}
	}
	require.NoError(b.t, b.s.WriteUint32(next))
	require.NoError(b.t, b.s.Seek(linkAt))
	require.NoError(b.t, b.s.WriteUint32(uint32(off)))
	return off
}

func (b *tiffBuilder) stream() *stream.Stream {
	require.NoError(b.t, b.s.Flush())
	return b.s
}

func grayEntries(width, height, stripOffset, stripBytes uint32) []entry {
	return []entry{
		{ImageWidth, TypeLong, 1, width},
		{ImageLength, TypeLong, 1, height},
		{BitsPerSample, TypeShort, 1, 8},
		{Compression, TypeShort, 1, 1},
		{PhotometricInterpretation, TypeShort, 1, 1},
		{StripOffsets, TypeLong, 1, stripOffset},
		{RowsPerStrip, TypeLong, 1, height},
		{StripByteCounts, TypeLong, 1, stripBytes},
	}
}

func TestParse_GraySingleStrip(t *testing.T) {
	b := newBuilder(t)
	pixels := make([]byte, 32*32)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	pixelOff := b.writeBytes(pixels)
	b.writeIFD(4, grayEntries(32, 32, uint32(pixelOff), 1024), 0)

	r, err := NewReader("gray.tif", b.stream())
	require.NoError(t, err)
	defer r.Close()

	img := r.Metadata(0)
	assert.Equal(t, scifio.Uint8, img.PixelType)
	assert.False(t, img.LittleEndian)
	assert.Equal(t, int64(32), img.AxisLength(scifio.AxisX))
	assert.Equal(t, int64(32), img.AxisLength(scifio.AxisY))
	assert.Equal(t, int64(1), r.PlaneCount(0))

	offsets, lengths := scifio.FullPlaneArgs(img)
	plane, err := r.OpenPlane(0, 0, offsets, lengths, nil)
	require.NoError(t, err)
	assert.Equal(t, pixels, plane.Bytes)
}

func TestParse_SubRegion(t *testing.T) {
	b := newBuilder(t)
	pixels := make([]byte, 16*16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			pixels[y*16+x] = byte(y*16 + x)
		}
	}
	pixelOff := b.writeBytes(pixels)
	b.writeIFD(4, grayEntries(16, 16, uint32(pixelOff), 256), 0)

	r, err := NewReader("gray.tif", b.stream())
	require.NoError(t, err)
	defer r.Close()

	plane, err := r.OpenPlane(0, 0, []int64{4, 2}, []int64{3, 2}, nil)
	require.NoError(t, err)
	want := []byte{
		byte(2*16 + 4), byte(2*16 + 5), byte(2*16 + 6),
		byte(3*16 + 4), byte(3*16 + 5), byte(3*16 + 6),
	}
	assert.Equal(t, want, plane.Bytes)
}

func TestParse_MultiStrip(t *testing.T) {
	b := newBuilder(t)
	// 8x8 image in two 4-row strips
	pixels := make([]byte, 64)
	for i := range pixels {
		pixels[i] = byte(i * 3)
	}
	off0 := b.writeBytes(pixels[:32])
	off1 := b.writeBytes(pixels[32:])

	stripData := b.writeBytes([]byte{
		byte(off0 >> 24), byte(off0 >> 16), byte(off0 >> 8), byte(off0),
		byte(off1 >> 24), byte(off1 >> 16), byte(off1 >> 8), byte(off1),
	})
	entries := []entry{
		{ImageWidth, TypeLong, 1, 8},
		{ImageLength, TypeLong, 1, 8},
		{BitsPerSample, TypeShort, 1, 8},
		{Compression, TypeShort, 1, 1},
		{PhotometricInterpretation, TypeShort, 1, 1},
		{StripOffsets, TypeLong, 2, uint32(stripData)},
		{RowsPerStrip, TypeLong, 1, 4},
		{StripByteCounts, TypeLong, 2, 0}, // patched below
	}
	countData := b.writeBytes([]byte{0, 0, 0, 32, 0, 0, 0, 32})
	entries[7].value = uint32(countData)
	b.writeIFD(4, entries, 0)

	r, err := NewReader("strips.tif", b.stream())
	require.NoError(t, err)
	defer r.Close()

	img := r.Metadata(0)
	offsets, lengths := scifio.FullPlaneArgs(img)
	plane, err := r.OpenPlane(0, 0, offsets, lengths, nil)
	require.NoError(t, err)
	assert.Equal(t, pixels, plane.Bytes)

	// a region straddling the strip boundary
	plane, err = r.OpenPlane(0, 0, []int64{0, 3}, []int64{8, 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, pixels[24:40], plane.Bytes)
}

func TestParse_Tiled(t *testing.T) {
	b := newBuilder(t)
	// 8x8 image as a 2x2 grid of 4x4 tiles
	const width, height, tw, th = 8, 8, 4, 4
	pixels := make([]byte, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			pixels[y*width+x] = byte(y*width + x)
		}
	}
	var tileOffs []int64
	for tj := 0; tj < 2; tj++ {
		for ti := 0; ti < 2; ti++ {
			tile := make([]byte, tw*th)
			for y := 0; y < th; y++ {
				for x := 0; x < tw; x++ {
					tile[y*tw+x] = pixels[(tj*th+y)*width+ti*tw+x]
				}
			}
			tileOffs = append(tileOffs, b.writeBytes(tile))
		}
	}
	offData := make([]byte, 0, 16)
	countData := make([]byte, 0, 16)
	for _, off := range tileOffs {
		offData = append(offData, byte(off>>24), byte(off>>16), byte(off>>8), byte(off))
		countData = append(countData, 0, 0, 0, tw*th)
	}
	offsOff := b.writeBytes(offData)
	countsOff := b.writeBytes(countData)

	entries := []entry{
		{ImageWidth, TypeLong, 1, width},
		{ImageLength, TypeLong, 1, height},
		{BitsPerSample, TypeShort, 1, 8},
		{Compression, TypeShort, 1, 1},
		{PhotometricInterpretation, TypeShort, 1, 1},
		{TileWidth, TypeLong, 1, tw},
		{TileLength, TypeLong, 1, th},
		{TileOffsets, TypeLong, 4, uint32(offsOff)},
		{TileByteCounts, TypeLong, 4, uint32(countsOff)},
	}
	b.writeIFD(4, entries, 0)

	r, err := NewReader("tiled.tif", b.stream())
	require.NoError(t, err)
	defer r.Close()

	img := r.Metadata(0)
	offsets, lengths := scifio.FullPlaneArgs(img)
	plane, err := r.OpenPlane(0, 0, offsets, lengths, nil)
	require.NoError(t, err)
	assert.Equal(t, pixels, plane.Bytes)

	// a sub-region spanning all four tiles
	plane, err = r.OpenPlane(0, 0, []int64{2, 2}, []int64{5, 4}, nil)
	require.NoError(t, err)
	for y := int64(0); y < 4; y++ {
		for x := int64(0); x < 5; x++ {
			require.Equal(t, pixels[(y+2)*width+x+2], plane.Bytes[y*5+x],
				"(%d,%d)", x, y)
		}
	}
}

func TestParse_Predictor(t *testing.T) {
	b := newBuilder(t)
	// 4x2 gray plane stored with horizontal differencing
	want := []byte{10, 12, 15, 15, 100, 90, 90, 95}
	diffed := []byte{10, 2, 3, 0, 100, 0xF6, 0, 5} // 0xF6 = -10
	pixelOff := b.writeBytes(diffed)
	entries := grayEntries(4, 2, uint32(pixelOff), 8)
	entries = append(entries, entry{Predictor, TypeShort, 1, 2})
	b.writeIFD(4, entries, 0)

	r, err := NewReader("pred.tif", b.stream())
	require.NoError(t, err)
	defer r.Close()

	offsets, lengths := scifio.FullPlaneArgs(r.Metadata(0))
	plane, err := r.OpenPlane(0, 0, offsets, lengths, nil)
	require.NoError(t, err)
	assert.Equal(t, want, plane.Bytes)
}

func TestParse_NotATiff(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		[]byte("XX"),
		[]byte("II\x00\x00"),
		[]byte("MM\x00\x29"),         // wrong magic
		[]byte("MM\x00\x2B\x00\x04"), // BigTIFF with wrong offset size
		{0x49, 0x49, 0x2A},           // truncated header
	} {
		s := stream.New(handle.NewBytes(data))
		_, err := NewParser(s)
		assert.ErrorIs(t, err, ErrNotATiff, "input % X", data)
	}
}

func TestParse_CyclicIFD(t *testing.T) {
	b := newBuilder(t)
	pixels := b.writeBytes(make([]byte, 16))
	// the directory's next pointer links back to itself
	ifdOff := b.writeIFD(4, grayEntries(4, 4, uint32(pixels), 16), 0)
	s := b.stream()
	// patch the next pointer: count(2) + 8 entries * 12
	require.NoError(t, s.Seek(ifdOff+2+8*12))
	require.NoError(t, s.WriteUint32(uint32(ifdOff)))

	p, err := NewParser(s)
	require.NoError(t, err)
	_, err = p.IFDOffsets()
	assert.ErrorIs(t, err, ErrCyclicIFD)
}

func TestParse_UnsupportedCompression(t *testing.T) {
	b := newBuilder(t)
	pixels := b.writeBytes(make([]byte, 16))
	entries := grayEntries(4, 4, uint32(pixels), 16)
	entries[3].value = 5 // LZW, not registered
	b.writeIFD(4, entries, 0)

	r, err := NewReader("lzw.tif", b.stream())
	require.NoError(t, err)
	defer r.Close()

	_, err = r.OpenPlane(0, 0, []int64{0, 0}, []int64{4, 4}, nil)
	var unsupported *UnsupportedCompressionError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, uint16(5), unsupported.Code)
}

func TestParse_TruncatedPlane(t *testing.T) {
	b := newBuilder(t)
	pixels := b.writeBytes(make([]byte, 8)) // half the strip is missing
	entries := grayEntries(4, 4, uint32(pixels), 16)
	ifdOff := b.writeIFD(4, entries, 0)
	s := b.stream()

	// point the strip past the end of the stream
	require.NoError(t, s.Seek(ifdOff+2+5*12+8))
	require.NoError(t, s.WriteUint32(uint32(s.Length())))

	r, err := NewReader("short.tif", s)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.OpenPlane(0, 0, []int64{0, 0}, []int64{4, 4}, nil)
	var truncated *TruncatedPlaneError
	require.ErrorAs(t, err, &truncated)
}

func TestParse_GenericComment(t *testing.T) {
	b := newBuilder(t)
	pixels := b.writeBytes(make([]byte, 16))
	comment := "key1=value1\n[section]\nkey2 = value2\nfree text\n"
	commentOff := b.writeBytes(append([]byte(comment), 0))
	entries := grayEntries(4, 4, uint32(pixels), 16)
	entries = append(entries, entry{ImageDescription, TypeASCII, uint32(len(comment) + 1), uint32(commentOff)})
	b.writeIFD(4, entries, 0)

	r, err := NewReader("generic.tif", b.stream())
	require.NoError(t, err)
	defer r.Close()

	meta := r.Meta()
	assert.Equal(t, "value1", meta.Table["key1"])
	assert.Equal(t, "value2", meta.Table["key2"])
	assert.Contains(t, meta.Description, "free text")
}

func TestParse_MetamorphComment(t *testing.T) {
	b := newBuilder(t)
	pixels := b.writeBytes(make([]byte, 16))
	comment := "Exposure: 100 ms\nBinning: 2x2\nplain description"
	commentOff := b.writeBytes(append([]byte(comment), 0))
	software := "MetaMorph 7.8"
	softwareOff := b.writeBytes(append([]byte(software), 0))
	entries := grayEntries(4, 4, uint32(pixels), 16)
	entries = append(entries,
		entry{ImageDescription, TypeASCII, uint32(len(comment) + 1), uint32(commentOff)},
		entry{Software, TypeASCII, uint32(len(software) + 1), uint32(softwareOff)},
	)
	b.writeIFD(4, entries, 0)

	r, err := NewReader("mm.tif", b.stream())
	require.NoError(t, err)
	defer r.Close()

	meta := r.Meta()
	assert.Equal(t, " 100 ms", meta.Table["Exposure"])
	assert.Equal(t, " 2x2", meta.Table["Binning"])
	assert.Equal(t, "plain description", meta.Description)
}

func TestParse_ImageJTruncatedStack(t *testing.T) {
	b := newBuilder(t)
	// one IFD, but pixel data for three 32x32 planes follows it
	planeSize := 32 * 32
	pixels := make([]byte, 3*planeSize)
	for i := range pixels {
		pixels[i] = byte(i % 251)
	}
	pixelOff := b.writeBytes(pixels)

	comment := "ImageJ=1.47\nimages=3\nchannels=3\nslices=1\nframes=1"
	commentOff := b.writeBytes(append([]byte(comment), 0))
	entries := grayEntries(32, 32, uint32(pixelOff), uint32(planeSize))
	entries = append(entries, entry{ImageDescription, TypeASCII, uint32(len(comment) + 1), uint32(commentOff)})
	b.writeIFD(4, entries, 0)

	r, err := NewReader("imagej.tif", b.stream())
	require.NoError(t, err)
	defer r.Close()

	img := r.Metadata(0)
	assert.Equal(t, int64(3), r.PlaneCount(0))
	assert.Equal(t, int64(3), img.AxisLength(scifio.AxisChannel))
	require.Len(t, r.Meta().IFDs, 3)

	for p := int64(0); p < 3; p++ {
		offsets, lengths := scifio.FullPlaneArgs(img)
		plane, err := r.OpenPlane(0, p, offsets, lengths, nil)
		require.NoError(t, err)
		assert.Equal(t, pixels[int(p)*planeSize:(int(p)+1)*planeSize], plane.Bytes, "plane %d", p)
	}
}

func TestParse_ImageJZT(t *testing.T) {
	b := newBuilder(t)
	planeSize := 4 * 4
	var pixelOffs []int64
	for p := 0; p < 6; p++ {
		data := make([]byte, planeSize)
		for i := range data {
			data[i] = byte(p*16 + i)
		}
		pixelOffs = append(pixelOffs, b.writeBytes(data))
	}
	comment := "ImageJ=1.47\nimages=6\nchannels=1\nslices=2\nframes=3\nunit=micron"
	commentOff := b.writeBytes(append([]byte(comment), 0))

	linkAt := int64(4)
	for p := 0; p < 6; p++ {
		entries := grayEntries(4, 4, uint32(pixelOffs[p]), uint32(planeSize))
		if p == 0 {
			entries = append(entries, entry{ImageDescription, TypeASCII, uint32(len(comment) + 1), uint32(commentOff)})
		}
		ifdOff := b.writeIFD(linkAt, entries, 0)
		linkAt = ifdOff + 2 + int64(len(entries))*12
	}

	r, err := NewReader("zt.tif", b.stream())
	require.NoError(t, err)
	defer r.Close()

	img := r.Metadata(0)
	assert.Equal(t, int64(6), r.PlaneCount(0))
	assert.Equal(t, int64(2), img.AxisLength(scifio.AxisZ))
	assert.Equal(t, int64(3), img.AxisLength(scifio.AxisTime))
	assert.Equal(t, "micron", r.Meta().CalibrationUnit)
}

func TestParse_ResolutionCalibration(t *testing.T) {
	b := newBuilder(t)
	pixels := b.writeBytes(make([]byte, 16))
	// 4 pixels per unit -> pixel size 0.25
	ratOff := b.writeBytes([]byte{0, 0, 0, 4, 0, 0, 0, 1})
	entries := grayEntries(4, 4, uint32(pixels), 16)
	entries = append(entries, entry{XResolution, TypeRational, 1, uint32(ratOff)})
	b.writeIFD(4, entries, 0)

	r, err := NewReader("cal.tif", b.stream())
	require.NoError(t, err)
	defer r.Close()

	img := r.Metadata(0)
	assert.InDelta(t, 0.25, img.Axes[img.AxisIndex(scifio.AxisX)].Scale, 1e-9)
}

package tiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/RayPlante/scifio/pkg/scifio"
	"github.com/RayPlante/scifio/pkg/scifio/dtools"
	"github.com/RayPlante/scifio/pkg/scifio/stream"
)

// ErrWouldOverflow32 reports a write that would push offsets past the
// 32-bit range while BigTIFF is explicitly disabled.
var ErrWouldOverflow32 = errors.New("tiff: file too large for 32-bit TIFF and BigTIFF is disabled")

// classic32Limit is the offset range of a classic TIFF file.
const classic32Limit = int64(math.MaxUint32)

// autoBigTiffThreshold is the dataset size that turns on BigTIFF when the
// caller left the choice open. The binary 2 GiB value, not 2*10^9.
const autoBigTiffThreshold = int64(2147483648)

// headerSpan is the room reserved for the header: a classic header is 8
// bytes, but the full 16 are reserved so BigTIFF promotion can widen it in
// place.
const headerSpan = 16

// Writer streams planes into a TIFF output, appending one directory per
// plane and upgrading to BigTIFF when offsets outgrow the 32-bit range.
// SavePlane calls are serialized against the writer and its saver.
type Writer struct {
	mu sync.Mutex

	name   string
	images []*scifio.ImageMetadata
	cfg    *scifio.Config
	sv     *saver

	// bigTiffForced records an explicit caller choice.
	bigTiffForced *bool
	headerDone    bool
	planesWritten int64
}

var _ scifio.Writer = (*Writer)(nil)

// NewWriter prepares a writer over the destination stream. The images
// slice declares the metadata of every image that will be saved.
func NewWriter(name string, s *stream.Stream, images []*scifio.ImageMetadata, cfg *scifio.Config) (*Writer, error) {
	if cfg == nil {
		cfg = scifio.DefaultConfig()
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("tiff: writer needs at least one image's metadata")
	}
	codec, err := scifio.CodecByName(cfg.Compression)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		name:          name,
		images:        images,
		cfg:           cfg,
		bigTiffForced: cfg.BigTiff,
		sv: &saver{
			s:          s,
			little:     cfg.LittleEndian,
			sequential: cfg.SequentialWrites,
			codec:      codec,
		},
	}

	switch {
	case cfg.BigTiff != nil:
		w.sv.bigTiff = *cfg.BigTiff
	default:
		// if the declared dataset exceeds 2 GiB, start as BigTIFF
		if total, err := datasetSize(images); err == nil && total > autoBigTiffThreshold {
			w.sv.bigTiff = true
		}
	}
	return w, nil
}

func datasetSize(images []*scifio.ImageMetadata) (int64, error) {
	var total int64
	for _, img := range images {
		size, err := img.PlaneSize()
		if err != nil {
			return 0, err
		}
		total += size * img.PlaneCount()
	}
	return total, nil
}

// SavePlane appends one full plane. Offsets must be zero and lengths must
// cover the whole planar extent.
func (w *Writer) SavePlane(imageIndex int, planeIndex int64, plane *scifio.Plane, offsets, lengths []int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if imageIndex < 0 || imageIndex >= len(w.images) {
		return scifio.ErrIndexOutOfRange
	}
	img := w.images[imageIndex]
	if planeIndex < 0 || planeIndex >= img.PlaneCount() {
		return scifio.ErrIndexOutOfRange
	}
	full := img.AxesLengthsPlanar()
	if len(offsets) != len(full) || len(lengths) != len(full) {
		return fmt.Errorf("%w: region rank %d, planar rank %d",
			scifio.ErrInvalidAxisSpec, len(offsets), len(full))
	}
	for i := range offsets {
		if offsets[i] != 0 || lengths[i] != full[i] {
			return fmt.Errorf("%w: writer saves whole planes", scifio.ErrInvalidAxisSpec)
		}
	}
	planeSize, err := img.PlaneSize()
	if err != nil {
		return err
	}
	if int64(len(plane.Bytes)) != planeSize {
		return fmt.Errorf("tiff: plane buffer is %d bytes, expected %d", len(plane.Bytes), planeSize)
	}

	// promotion check runs before any bytes of this plane land
	if !w.sv.bigTiff {
		if w.sv.s.Length()+2*planeSize > classic32Limit {
			if w.bigTiffForced != nil && !*w.bigTiffForced {
				return ErrWouldOverflow32
			}
			if err := w.promote(); err != nil {
				return err
			}
		}
	}

	if !w.headerDone {
		if err := w.initialize(); err != nil {
			return err
		}
	}

	d, err := w.buildIFD(img)
	if err != nil {
		return err
	}
	slog.Debug("writing TIFF plane",
		"image", imageIndex, "plane", planeIndex, "bytes", planeSize, "bigTiff", w.sv.bigTiff)
	if err := w.sv.writePlane(d, img, plane.Bytes); err != nil {
		return err
	}
	w.planesWritten++
	return nil
}

// initialize writes the header on an empty output, or locates the chain
// tail of an existing one.
func (w *Writer) initialize() error {
	if w.sv.s.Length() == 0 {
		if err := w.sv.writeHeader(); err != nil {
			return err
		}
	} else if !w.sv.sequential {
		if err := w.sv.findChainTail(); err != nil {
			return err
		}
	}
	w.headerDone = true
	return nil
}

// buildIFD populates a fresh directory from the image metadata and the
// writer configuration.
func (w *Writer) buildIFD(img *scifio.ImageMetadata) (*IFD, error) {
	width := img.AxisLength(scifio.AxisX)
	height := img.AxisLength(scifio.AxisY)
	spp := int64(1)
	if i := img.AxisIndex(scifio.AxisChannel); i >= 0 && i < img.PlanarAxisCount {
		spp = img.Axes[i].Length
	}

	d := NewIFD()
	d.PutValue(ImageWidth, TypeLong, []uint32{uint32(width)})
	d.PutValue(ImageLength, TypeLong, []uint32{uint32(height)})
	bps := make([]uint16, spp)
	for i := range bps {
		bps[i] = uint16(img.PixelType.BytesPerPixel() * 8)
	}
	d.PutValue(BitsPerSample, TypeShort, bps)
	d.PutValue(Compression, TypeShort, []uint16{w.sv.codec.TiffCode()})

	photometric := PhotoBlackIsZero
	switch {
	case img.Indexed && img.ColorTable != nil:
		photometric = PhotoPalette
	case spp > 1:
		photometric = PhotoRGB
	}
	d.PutValue(PhotometricInterpretation, TypeShort, []uint16{photometric})
	d.PutValue(StripOffsets, TypeLong, []uint32{0}) // patched by the saver
	d.PutValue(SamplesPerPixel, TypeShort, []uint16{uint16(spp)})
	d.PutValue(RowsPerStrip, TypeLong, []uint32{uint32(height)})
	d.PutValue(StripByteCounts, TypeLong, []uint32{0}) // patched by the saver

	putResolution(d, img)

	d.PutValue(PlanarConfiguration, TypeShort, []uint16{1})
	d.PutValue(Software, TypeASCII, "scifio")
	d.PutValue(DateTime, TypeASCII, time.Now().Format("2006:01:02 15:04:05"))

	sampleFormat := SampleUnsigned
	if img.PixelType.FloatingPoint() {
		sampleFormat = SampleFloat
	} else if img.PixelType.Signed() {
		sampleFormat = SampleSigned
	}
	d.PutValue(SampleFormat, TypeShort, []uint16{sampleFormat})

	if img.Indexed && img.ColorTable != nil {
		var flat []uint16
		for _, row := range img.ColorTable {
			flat = append(flat, row...)
		}
		d.PutValue(ColorMap, TypeShort, flat)
	}
	return d, nil
}

// putResolution writes the axis calibration as pixels-per-centimeter
// rationals.
func putResolution(d *IFD, img *scifio.ImageMetadata) {
	res := func(axis scifio.AxisType) Rational {
		if i := img.AxisIndex(axis); i >= 0 && img.Axes[i].Scale > 0 {
			return Rational{Numer: uint32(1000 / img.Axes[i].Scale), Denom: 1000}
		}
		return Rational{Numer: 0, Denom: 1000}
	}
	d.PutValue(ResolutionUnit, TypeShort, []uint16{3})
	d.PutValue(XResolution, TypeRational, []Rational{res(scifio.AxisX)})
	d.PutValue(YResolution, TypeRational, []Rational{res(scifio.AxisY)})
}

// promote upgrades the output in place to BigTIFF: the reserved header
// span is rewritten with the 64-bit layout and the existing directory
// chain is re-serialized at the end of the file with widened entries.
// Pixel data stays where it is.
func (w *Writer) promote() error {
	slog.Warn("output exceeds 32-bit TIFF offsets, promoting to BigTIFF",
		"length", w.sv.s.Length())

	var existing []*IFD
	if w.sv.s.Length() > 0 {
		p, err := NewParser(w.sv.s)
		if err != nil {
			return err
		}
		if existing, err = p.IFDs(); err != nil {
			return err
		}
	}

	w.sv.bigTiff = true
	if w.sv.s.Length() == 0 {
		return nil
	}
	if err := w.sv.writeHeaderAt0(); err != nil {
		return err
	}
	// re-serialize the old directories with 64-bit entries; the classic
	// chain bytes become dead space
	w.sv.lastNextPtr = w.sv.firstOffsetField()
	for _, d := range existing {
		widened := d.Copy()
		if offs, err := d.GetIntArray(StripOffsets); err == nil {
			widened.PutValue(StripOffsets, TypeLong8, toUint64(offs))
		}
		if counts, err := d.GetIntArray(StripByteCounts); err == nil {
			widened.PutValue(StripByteCounts, TypeLong8, toUint64(counts))
		}
		if _, err := w.sv.appendIFD(widened); err != nil {
			return err
		}
	}
	return nil
}

func toUint64(in []int64) []uint64 {
	out := make([]uint64, len(in))
	for i, v := range in {
		out[i] = uint64(v)
	}
	return out
}

// Close flushes the stream; the last directory was completed by the final
// SavePlane.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sv.s.Close()
}

// saver owns the byte-level TIFF serialization. Its mutex nests inside
// the writer's (writer, then saver) so the two can never invert.
type saver struct {
	mu sync.Mutex

	s          *stream.Stream
	bigTiff    bool
	little     bool
	sequential bool
	codec      scifio.Codec

	// lastNextPtr is the file offset of the pointer field the next
	// directory offset must be patched into.
	lastNextPtr int64
}

func (sv *saver) order() binary.ByteOrder {
	if sv.little {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func (sv *saver) firstOffsetField() int64 {
	if sv.bigTiff {
		return 8
	}
	return 4
}

// writeHeader writes the header of an empty output and reserves the
// promotion span.
func (sv *saver) writeHeader() error {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if err := sv.writeHeaderAt0(); err != nil {
		return err
	}
	// pad the remainder of the reserved span so data never starts inside it
	if err := sv.s.Seek(sv.s.Length()); err != nil {
		return err
	}
	for sv.s.Length() < headerSpan {
		if err := sv.s.WriteUint8(0); err != nil {
			return err
		}
	}
	sv.lastNextPtr = sv.firstOffsetField()
	return sv.s.Flush()
}

func (sv *saver) writeHeaderAt0() error {
	sv.s.SetOrder(sv.order())
	if err := sv.s.Seek(0); err != nil {
		return err
	}
	endian := "MM"
	if sv.little {
		endian = "II"
	}
	if err := sv.s.WriteString(endian); err != nil {
		return err
	}
	if sv.bigTiff {
		if err := sv.s.WriteUint16(magicBig); err != nil {
			return err
		}
		if err := sv.s.WriteUint16(8); err != nil {
			return err
		}
		if err := sv.s.WriteUint16(0); err != nil {
			return err
		}
		// first IFD offset, patched when the first directory lands
		return sv.s.WriteUint64(0)
	}
	if err := sv.s.WriteUint16(magicClassic); err != nil {
		return err
	}
	return sv.s.WriteUint32(0)
}

// findChainTail walks an existing file to the zero next-pointer so
// non-sequential writers can append.
func (sv *saver) findChainTail() error {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	p, err := NewParser(sv.s)
	if err != nil {
		return err
	}
	sv.bigTiff = p.BigTiff()
	sv.little = p.LittleEndian()
	sv.s.SetOrder(sv.order())

	offsets, err := p.IFDOffsets()
	if err != nil {
		return err
	}
	if len(offsets) == 0 {
		sv.lastNextPtr = sv.firstOffsetField()
		return nil
	}
	last := offsets[len(offsets)-1]
	if err := sv.s.Seek(int64(last)); err != nil {
		return err
	}
	var count uint64
	if sv.bigTiff {
		if count, err = sv.s.ReadUint64(); err != nil {
			return err
		}
		sv.lastNextPtr = int64(last) + 8 + int64(count)*20
	} else {
		c16, err := sv.s.ReadUint16()
		if err != nil {
			return err
		}
		sv.lastNextPtr = int64(last) + 2 + int64(c16)*12
	}
	return nil
}

// writePlane streams the pixel bytes at the end of the file, patches the
// strip layout into the directory, and appends it to the chain.
func (sv *saver) writePlane(d *IFD, img *scifio.ImageMetadata, pixels []byte) error {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	compressed, err := sv.codec.Compress(pixels, scifio.CodecOptions{
		Width:        img.AxisLength(scifio.AxisX),
		Height:       img.AxisLength(scifio.AxisY),
		LittleEndian: sv.little,
	})
	if err != nil {
		return err
	}

	pixelOffset := sv.s.Length()
	if err := sv.s.Seek(pixelOffset); err != nil {
		return err
	}
	if _, err := sv.s.Write(compressed); err != nil {
		return err
	}

	if sv.bigTiff {
		d.PutValue(StripOffsets, TypeLong8, []uint64{uint64(pixelOffset)})
		d.PutValue(StripByteCounts, TypeLong8, []uint64{uint64(len(compressed))})
	} else {
		d.PutValue(StripOffsets, TypeLong, []uint32{uint32(pixelOffset)})
		d.PutValue(StripByteCounts, TypeLong, []uint32{uint32(len(compressed))})
	}

	if _, err := sv.appendIFD(d); err != nil {
		return err
	}
	return sv.s.Flush()
}

// appendIFD serializes the directory at the end of the file and links it
// into the chain.
func (sv *saver) appendIFD(d *IFD) (int64, error) {
	ifdOffset := sv.s.Length()

	entrySize := int64(12)
	countSize := int64(2)
	ptrSize := int64(4)
	inline := 4
	if sv.bigTiff {
		entrySize, countSize, ptrSize, inline = 20, 8, 8, 8
	}

	tags := d.Tags()
	// extra data lands after the entry table and the next pointer
	extraBase := ifdOffset + countSize + int64(len(tags))*entrySize + ptrSize
	var extra []byte

	if err := sv.s.Seek(ifdOffset); err != nil {
		return 0, err
	}
	if sv.bigTiff {
		if err := sv.s.WriteUint64(uint64(len(tags))); err != nil {
			return 0, err
		}
	} else {
		if err := sv.s.WriteUint16(uint16(len(tags))); err != nil {
			return 0, err
		}
	}

	for _, t := range tags {
		value, count, err := sv.encodeValue(t)
		if err != nil {
			return 0, err
		}
		if err := sv.s.WriteUint16(t.ID); err != nil {
			return 0, err
		}
		if err := sv.s.WriteUint16(uint16(t.Type)); err != nil {
			return 0, err
		}
		if sv.bigTiff {
			if err := sv.s.WriteUint64(uint64(count)); err != nil {
				return 0, err
			}
		} else {
			if err := sv.s.WriteUint32(uint32(count)); err != nil {
				return 0, err
			}
		}
		field := make([]byte, inline)
		if len(value) <= inline {
			copy(field, value)
		} else {
			dtools.Unpack(uint64(extraBase+int64(len(extra))), field, 0, inline, sv.little)
			extra = append(extra, value...)
			if len(value)%2 == 1 {
				extra = append(extra, 0)
			}
		}
		if _, err := sv.s.Write(field); err != nil {
			return 0, err
		}
	}

	// zero next pointer, then the out-of-line values
	nextPtrOffset := sv.s.Position()
	if err := sv.writeOffsetField(0); err != nil {
		return 0, err
	}
	if len(extra) > 0 {
		if _, err := sv.s.Write(extra); err != nil {
			return 0, err
		}
	}

	// link the previous directory (or the header) to this one
	if err := sv.s.Seek(sv.lastNextPtr); err != nil {
		return 0, err
	}
	if err := sv.writeOffsetField(uint64(ifdOffset)); err != nil {
		return 0, err
	}
	sv.lastNextPtr = nextPtrOffset
	return ifdOffset, nil
}

func (sv *saver) writeOffsetField(v uint64) error {
	if sv.bigTiff {
		return sv.s.WriteUint64(v)
	}
	if v > uint64(classic32Limit) {
		return ErrWouldOverflow32
	}
	return sv.s.WriteUint32(uint32(v))
}

// encodeValue serializes a tag value in the saver's byte order, returning
// the raw bytes and the value count.
func (sv *saver) encodeValue(t *Tag) ([]byte, int, error) {
	little := sv.little
	switch v := t.Value.(type) {
	case []uint8:
		return v, len(v), nil
	case string:
		// ASCII values carry a trailing NUL
		return append([]byte(v), 0), len(v) + 1, nil
	case []uint16:
		out := make([]byte, 2*len(v))
		for i, x := range v {
			dtools.Unpack(uint64(x), out, i*2, 2, little)
		}
		return out, len(v), nil
	case []uint32:
		out := make([]byte, 4*len(v))
		for i, x := range v {
			dtools.Unpack(uint64(x), out, i*4, 4, little)
		}
		return out, len(v), nil
	case []uint64:
		out := make([]byte, 8*len(v))
		for i, x := range v {
			dtools.Unpack(x, out, i*8, 8, little)
		}
		return out, len(v), nil
	case []int64:
		out := make([]byte, 8*len(v))
		for i, x := range v {
			dtools.Unpack(uint64(x), out, i*8, 8, little)
		}
		return out, len(v), nil
	case []Rational:
		out := make([]byte, 8*len(v))
		for i, x := range v {
			dtools.Unpack(uint64(x.Numer), out, i*8, 4, little)
			dtools.Unpack(uint64(x.Denom), out, i*8+4, 4, little)
		}
		return out, len(v), nil
	case []int8:
		out := make([]byte, len(v))
		for i, x := range v {
			out[i] = byte(x)
		}
		return out, len(v), nil
	case []int16:
		out := make([]byte, 2*len(v))
		for i, x := range v {
			dtools.Unpack(uint64(uint16(x)), out, i*2, 2, little)
		}
		return out, len(v), nil
	case []int32:
		out := make([]byte, 4*len(v))
		for i, x := range v {
			dtools.Unpack(uint64(uint32(x)), out, i*4, 4, little)
		}
		return out, len(v), nil
	case []float32:
		out := make([]byte, 4*len(v))
		for i, x := range v {
			dtools.Unpack(uint64(math.Float32bits(x)), out, i*4, 4, little)
		}
		return out, len(v), nil
	case []float64:
		out := make([]byte, 8*len(v))
		for i, x := range v {
			dtools.Unpack(math.Float64bits(x), out, i*8, 8, little)
		}
		return out, len(v), nil
	}
	return nil, 0, fmt.Errorf("tiff: cannot encode tag %d value of type %T", t.ID, t.Value)
}

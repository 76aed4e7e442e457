package tiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/RayPlante/scifio/pkg/scifio"
	"github.com/RayPlante/scifio/pkg/scifio/dtools"
	"github.com/RayPlante/scifio/pkg/scifio/stream"
)

// Header magic values.
const (
	magicClassic uint16 = 42
	magicBig     uint16 = 43
)

// maxIFDCount bounds the chain walk against malicious inputs.
const maxIFDCount = 100000

var (
	ErrBadStripLayout = errors.New("tiff: inconsistent strip layout")
	ErrBadTileLayout  = errors.New("tiff: inconsistent tile layout")
)

// UnsupportedCompressionError reports a COMPRESSION scheme with no
// registered codec.
type UnsupportedCompressionError struct{ Code uint16 }

func (e *UnsupportedCompressionError) Error() string {
	return fmt.Sprintf("tiff: unsupported compression scheme %d", e.Code)
}

// TruncatedPlaneError reports strip or tile byte counts that run past the
// end of the stream.
type TruncatedPlaneError struct{ PlaneIndex int64 }

func (e *TruncatedPlaneError) Error() string {
	return fmt.Sprintf("tiff: plane %d truncated", e.PlaneIndex)
}

// Metadata is the parsed state of one TIFF dataset: the image metadata
// exposed to callers, the raw directory chain, and the key/value table
// accumulated from comment blocks.
type Metadata struct {
	Images []*scifio.ImageMetadata
	IFDs   []*IFD
	Table  map[string]string

	Description     string
	CalibrationUnit string
	TimeIncrement   float64
	XOrigin         int
	YOrigin         int

	BigTiff      bool
	LittleEndian bool
}

// Parser walks a TIFF stream into a Metadata.
type Parser struct {
	s       *stream.Stream
	bigTiff bool
	little  bool
	first   uint64
}

// NewParser reads the stream header, failing with ErrNotATiff on any
// deviation.
func NewParser(s *stream.Stream) (*Parser, error) {
	if err := s.Seek(0); err != nil {
		return nil, err
	}
	endian := make([]byte, 2)
	if err := s.ReadFully(endian); err != nil {
		return nil, ErrNotATiff
	}
	p := &Parser{s: s}
	switch string(endian) {
	case "II":
		p.little = true
		s.SetOrder(binary.LittleEndian)
	case "MM":
		s.SetOrder(binary.BigEndian)
	default:
		return nil, ErrNotATiff
	}

	magic, err := s.ReadUint16()
	if err != nil {
		return nil, ErrNotATiff
	}
	switch magic {
	case magicClassic:
		off, err := s.ReadUint32()
		if err != nil {
			return nil, ErrNotATiff
		}
		p.first = uint64(off)
	case magicBig:
		p.bigTiff = true
		offSize, err := s.ReadUint16()
		if err != nil || offSize != 8 {
			return nil, ErrNotATiff
		}
		reserved, err := s.ReadUint16()
		if err != nil || reserved != 0 {
			return nil, ErrNotATiff
		}
		if p.first, err = s.ReadUint64(); err != nil {
			return nil, ErrNotATiff
		}
	default:
		return nil, ErrNotATiff
	}
	return p, nil
}

// BigTiff reports whether the stream carries the BigTIFF magic.
func (p *Parser) BigTiff() bool { return p.bigTiff }

// LittleEndian reports the stream byte order.
func (p *Parser) LittleEndian() bool { return p.little }

// IFDOffsets walks the directory chain, returning the offset of every
// directory. Revisiting an offset fails with ErrCyclicIFD.
func (p *Parser) IFDOffsets() ([]uint64, error) {
	var offsets []uint64
	seen := make(map[uint64]bool)
	off := p.first
	for off != 0 {
		if seen[off] {
			return nil, ErrCyclicIFD
		}
		if len(offsets) >= maxIFDCount {
			return nil, fmt.Errorf("tiff: more than %d IFDs", maxIFDCount)
		}
		seen[off] = true
		offsets = append(offsets, off)
		next, err := p.nextOffset(off)
		if err != nil {
			return nil, err
		}
		off = next
	}
	return offsets, nil
}

// nextOffset skips the entries of the directory at off and returns the
// next-IFD pointer.
func (p *Parser) nextOffset(off uint64) (uint64, error) {
	if err := p.s.Seek(int64(off)); err != nil {
		return 0, err
	}
	count, err := p.entryCount()
	if err != nil {
		return 0, err
	}
	entrySize := int64(12)
	if p.bigTiff {
		entrySize = 20
	}
	if err := p.s.Skip(int64(count) * entrySize); err != nil {
		return 0, err
	}
	return p.offsetField()
}

func (p *Parser) entryCount() (uint64, error) {
	if p.bigTiff {
		return p.s.ReadUint64()
	}
	n, err := p.s.ReadUint16()
	return uint64(n), err
}

func (p *Parser) offsetField() (uint64, error) {
	if p.bigTiff {
		return p.s.ReadUint64()
	}
	n, err := p.s.ReadUint32()
	return uint64(n), err
}

// IFD decodes the directory at off.
func (p *Parser) IFD(off uint64) (*IFD, error) {
	if err := p.s.Seek(int64(off)); err != nil {
		return nil, err
	}
	count, err := p.entryCount()
	if err != nil {
		return nil, err
	}
	d := NewIFD()
	for i := uint64(0); i < count; i++ {
		t, err := p.entry()
		if err != nil {
			return nil, err
		}
		if t != nil {
			d.Put(t)
		}
	}
	return d, nil
}

// IFDs decodes the full directory chain.
func (p *Parser) IFDs() ([]*IFD, error) {
	offsets, err := p.IFDOffsets()
	if err != nil {
		return nil, err
	}
	out := make([]*IFD, 0, len(offsets))
	for _, off := range offsets {
		d, err := p.IFD(off)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// entry decodes one directory entry at the current position, resolving
// out-of-line values. Unknown field types are skipped.
func (p *Parser) entry() (*Tag, error) {
	id, err := p.s.ReadUint16()
	if err != nil {
		return nil, err
	}
	rawType, err := p.s.ReadUint16()
	if err != nil {
		return nil, err
	}
	count64, err := p.countField()
	if err != nil {
		return nil, err
	}

	typ := FieldType(rawType)
	inline := 4
	if p.bigTiff {
		inline = 8
	}
	raw := make([]byte, inline)
	if err := p.s.ReadFully(raw); err != nil {
		return nil, err
	}

	size := typ.Size()
	if size == 0 {
		return nil, nil
	}
	total, err := dtools.SafeMultiply32(int64(size), int64(count64))
	if err != nil {
		return nil, err
	}
	count := int(count64)

	var data []byte
	if total <= int64(inline) {
		data = raw[:total]
	} else {
		// value stored out of line; the inline field holds its offset
		valueOff := dtools.BytesToUint64(raw, 0, inline, p.little)
		saved := p.s.Position()
		if err := p.s.Seek(int64(valueOff)); err != nil {
			return nil, err
		}
		data = make([]byte, total)
		if err := p.s.ReadFully(data); err != nil {
			return nil, err
		}
		if err := p.s.Seek(saved); err != nil {
			return nil, err
		}
	}

	return &Tag{ID: id, Type: typ, Value: p.decodeValue(typ, count, data)}, nil
}

func (p *Parser) countField() (uint64, error) {
	if p.bigTiff {
		return p.s.ReadUint64()
	}
	n, err := p.s.ReadUint32()
	return uint64(n), err
}

func (p *Parser) decodeValue(typ FieldType, count int, data []byte) any {
	little := p.little
	switch typ {
	case TypeByte, TypeUndefined:
		return append([]uint8(nil), data[:count]...)
	case TypeASCII:
		s := string(data[:count])
		return strings.TrimRight(s, "\x00")
	case TypeShort:
		out := make([]uint16, count)
		for i := range out {
			out[i] = dtools.BytesToUint16(data, i*2, 2, little)
		}
		return out
	case TypeLong, TypeIFD:
		out := make([]uint32, count)
		for i := range out {
			out[i] = dtools.BytesToUint32(data, i*4, 4, little)
		}
		return out
	case TypeRational:
		out := make([]Rational, count)
		for i := range out {
			out[i] = Rational{
				Numer: dtools.BytesToUint32(data, i*8, 4, little),
				Denom: dtools.BytesToUint32(data, i*8+4, 4, little),
			}
		}
		return out
	case TypeSByte:
		out := make([]int8, count)
		for i := range out {
			out[i] = int8(data[i])
		}
		return out
	case TypeSShort:
		out := make([]int16, count)
		for i := range out {
			out[i] = dtools.BytesToInt16(data, i*2, 2, little)
		}
		return out
	case TypeSLong:
		out := make([]int32, count)
		for i := range out {
			out[i] = dtools.BytesToInt32(data, i*4, 4, little)
		}
		return out
	case TypeSRational:
		out := make([]SRational, count)
		for i := range out {
			out[i] = SRational{
				Numer: dtools.BytesToInt32(data, i*8, 4, little),
				Denom: dtools.BytesToInt32(data, i*8+4, 4, little),
			}
		}
		return out
	case TypeFloat:
		out := make([]float32, count)
		for i := range out {
			out[i] = dtools.BytesToFloat32(data, i*4, little)
		}
		return out
	case TypeDouble:
		out := make([]float64, count)
		for i := range out {
			out[i] = dtools.BytesToFloat64(data, i*8, little)
		}
		return out
	case TypeLong8, TypeIFD8:
		out := make([]uint64, count)
		for i := range out {
			out[i] = dtools.BytesToUint64(data, i*8, 8, little)
		}
		return out
	case TypeSLong8:
		out := make([]int64, count)
		for i := range out {
			out[i] = dtools.BytesToInt64(data, i*8, 8, little)
		}
		return out
	}
	return append([]uint8(nil), data...)
}

// Parse walks the chain and interprets comments into a Metadata.
func (p *Parser) Parse() (*Metadata, error) {
	ifds, err := p.IFDs()
	if err != nil {
		return nil, err
	}
	if len(ifds) == 0 {
		return nil, ErrNotATiff
	}

	meta := &Metadata{
		IFDs:         ifds,
		Table:        make(map[string]string),
		BigTiff:      p.bigTiff,
		LittleEndian: p.little,
	}
	img, err := p.baseImageMetadata(ifds[0])
	if err != nil {
		return nil, err
	}
	meta.Images = []*scifio.ImageMetadata{img}

	comment, _ := ifds[0].GetString(ImageDescription)
	software, _ := ifds[0].GetString(Software)
	switch {
	case strings.HasPrefix(comment, "ImageJ="):
		if err := p.parseCommentImageJ(meta, comment); err != nil {
			return nil, err
		}
	case strings.Contains(software, "MetaMorph"):
		parseCommentMetamorph(meta, comment)
		p.setDefaultNonPlanarAxes(meta)
	default:
		parseCommentGeneric(meta, comment)
		p.setDefaultNonPlanarAxes(meta)
	}

	calibrateResolution(meta.Images[0], ifds[0])
	return meta, nil
}

// baseImageMetadata derives the planar axis layout and pixel type from the
// first directory.
func (p *Parser) baseImageMetadata(d *IFD) (*scifio.ImageMetadata, error) {
	width, err := d.GetInt(ImageWidth)
	if err != nil {
		return nil, err
	}
	height, err := d.GetInt(ImageLength)
	if err != nil {
		return nil, err
	}
	bps, err := d.GetBitsPerSample()
	if err != nil {
		return nil, err
	}
	if _, err := d.GetInt(Compression); err != nil {
		return nil, err
	}
	photometric, err := d.GetInt(PhotometricInterpretation)
	if err != nil {
		return nil, err
	}
	if !d.Has(StripOffsets) && !d.Has(TileOffsets) {
		return nil, &MissingTagError{ID: StripOffsets}
	}

	spp := d.GetIntDefault(SamplesPerPixel, 1)
	planarCfg := d.GetIntDefault(PlanarConfiguration, 1)
	sampleFormat := d.GetIntDefault(SampleFormat, int64(SampleUnsigned))

	pixelType, err := pixelTypeFor(int(bps[0]), uint16(sampleFormat))
	if err != nil {
		return nil, err
	}

	img := &scifio.ImageMetadata{
		PixelType:    pixelType,
		LittleEndian: p.little,
		BitsPerPixel: int(bps[0]),
	}

	xAxis := scifio.Axis{Type: scifio.AxisX, Length: width}
	yAxis := scifio.Axis{Type: scifio.AxisY, Length: height}
	switch {
	case spp > 1 && planarCfg == 1:
		// chunky: channel varies fastest
		img.Axes = []scifio.Axis{{Type: scifio.AxisChannel, Length: spp}, xAxis, yAxis}
		img.PlanarAxisCount = 3
		img.InterleavedAxisCount = 1
	case spp > 1 && planarCfg == 2:
		img.Axes = []scifio.Axis{xAxis, yAxis, {Type: scifio.AxisChannel, Length: spp}}
		img.PlanarAxisCount = 3
	default:
		img.Axes = []scifio.Axis{xAxis, yAxis}
		img.PlanarAxisCount = 2
	}

	if uint16(photometric) == PhotoPalette && d.Has(ColorMap) {
		img.Indexed = true
		if cm, err := d.GetIntArray(ColorMap); err == nil && len(cm)%3 == 0 {
			per := len(cm) / 3
			table := make([][]uint16, 3)
			for c := 0; c < 3; c++ {
				table[c] = make([]uint16, per)
				for i := 0; i < per; i++ {
					table[c][i] = uint16(cm[c*per+i])
				}
			}
			img.ColorTable = table
		}
	}
	return img, nil
}

func pixelTypeFor(bits int, format uint16) (scifio.PixelType, error) {
	switch format {
	case SampleFloat:
		switch bits {
		case 32:
			return scifio.Float32, nil
		case 64:
			return scifio.Float64, nil
		}
	case SampleSigned:
		switch bits {
		case 8:
			return scifio.Int8, nil
		case 16:
			return scifio.Int16, nil
		case 32:
			return scifio.Int32, nil
		}
	default:
		switch bits {
		case 8:
			return scifio.Uint8, nil
		case 16:
			return scifio.Uint16, nil
		case 32:
			return scifio.Uint32, nil
		}
	}
	return 0, fmt.Errorf("tiff: no pixel type for %d-bit sample format %d", bits, format)
}

// setDefaultNonPlanarAxes exposes a multi-directory chain as a time
// series.
func (p *Parser) setDefaultNonPlanarAxes(meta *Metadata) {
	if len(meta.IFDs) > 1 {
		img := meta.Images[0]
		img.Axes = append(img.Axes, scifio.Axis{Type: scifio.AxisTime, Length: int64(len(meta.IFDs))})
	}
}

// parseCommentImageJ interprets the newline-separated key=value comment
// written by ImageJ, reconciling channel/slice/frame counts against the
// directory chain and recovering truncated stacks.
func (p *Parser) parseCommentImageJ(meta *Metadata, comment string) error {
	img := meta.Images[0]
	ifds := meta.IFDs

	if nl := strings.IndexByte(comment, '\n'); nl >= 0 {
		meta.Table["ImageJ"] = comment[7:nl]
	} else {
		meta.Table["ImageJ"] = comment[7:]
	}
	meta.Description = ""

	// the private extension tag carries additional key=value lines
	if extra, err := ifds[0].GetString(ImageJTag); err == nil {
		comment += "\n" + extra
	}

	z, t := 1, 1
	c := int(img.AxisLength(scifio.AxisChannel))
	multichannel := c > 1

	for _, token := range strings.Split(comment, "\n") {
		var value string
		if eq := strings.IndexByte(token, '='); eq >= 0 {
			value = token[eq+1:]
		}
		switch {
		case strings.HasPrefix(token, "channels="):
			c = parseInt(value)
		case strings.HasPrefix(token, "slices="):
			z = parseInt(value)
		case strings.HasPrefix(token, "frames="):
			t = parseInt(value)
		case strings.HasPrefix(token, "mode="):
			meta.Table["Color mode"] = value
		case strings.HasPrefix(token, "unit="):
			meta.CalibrationUnit = value
			meta.Table["Unit"] = value
		case strings.HasPrefix(token, "finterval="):
			meta.TimeIncrement = parseFloat(value)
			meta.Table["Frame Interval"] = value
		case strings.HasPrefix(token, "spacing="):
			if spacing := parseFloat(value); spacing >= 0 {
				meta.Table["Spacing"] = value
			}
		case strings.HasPrefix(token, "xorigin="):
			meta.XOrigin = parseInt(value)
			meta.Table["X Origin"] = value
		case strings.HasPrefix(token, "yorigin="):
			meta.YOrigin = parseInt(value)
			meta.Table["Y Origin"] = value
		default:
			if eq := strings.IndexByte(token, '='); eq > 0 {
				meta.Table[strings.TrimSpace(token[:eq])] = token[eq+1:]
			}
		}
	}

	if z*c*t == c && multichannel {
		t = len(ifds)
	}

	effectiveC := c
	if multichannel {
		effectiveC = 1
	}

	switch {
	case z*t*effectiveC == len(ifds):
		appendNonPlanar(img, c, z, t, multichannel)
	case z*c*t == len(ifds) && multichannel:
		appendNonPlanar(img, c, z, t, false)
	case len(ifds) == 1 && z*t*effectiveC > 1 &&
		ifds[0].GetIntDefault(Compression, 1) == int64(scifio.TiffUncompressed):
		synthesized, err := p.synthesizeTruncatedStack(meta, z, c, t)
		if err != nil {
			return err
		}
		meta.IFDs = synthesized
	default:
		appendNonPlanar(img, 1, 1, len(ifds), multichannel)
	}
	return nil
}

// appendNonPlanar adds the non-planar axis tail in TIFF order: channel
// fastest, then slices, then frames. Length-1 axes are dropped.
func appendNonPlanar(img *scifio.ImageMetadata, c, z, t int, channelIsPlanar bool) {
	if c > 1 && !channelIsPlanar {
		img.Axes = append(img.Axes, scifio.Axis{Type: scifio.AxisChannel, Length: int64(c)})
	}
	if z > 1 {
		img.Axes = append(img.Axes, scifio.Axis{Type: scifio.AxisZ, Length: int64(z)})
	}
	if t > 1 {
		img.Axes = append(img.Axes, scifio.Axis{Type: scifio.AxisTime, Length: int64(t)})
	}
}

// synthesizeTruncatedStack reconstructs the directory chain of a truncated
// ImageJ stack. ImageJ writes IFD #0, the comment, then all pixel data,
// then the remaining IFDs; when the trailing IFDs are missing, the pixel
// data is still in place and fake directories can index it. The first
// directory's strip byte counts are assumed for every synthesized plane.
func (p *Parser) synthesizeTruncatedStack(meta *Metadata, z, c, t int) ([]*IFD, error) {
	img := meta.Images[0]
	first := meta.IFDs[0]

	planeSize, err := img.PlaneSize()
	if err != nil {
		return nil, err
	}
	stripOffsets, err := first.GetIntArray(StripOffsets)
	if err != nil {
		return nil, err
	}
	stripByteCounts, err := first.GetIntArray(StripByteCounts)
	if err != nil {
		return nil, err
	}
	if len(stripOffsets) == 0 || len(stripOffsets) != len(stripByteCounts) {
		return nil, ErrBadStripLayout
	}

	endOfFirstPlane := stripOffsets[len(stripOffsets)-1] + stripByteCounts[len(stripByteCounts)-1]
	totalBytes := p.s.Length() - endOfFirstPlane
	totalPlanes := int(totalBytes/planeSize) + 1

	slog.Warn("ImageJ stack appears truncated; synthesizing directories from pixel data",
		"planes", totalPlanes, "planeSize", planeSize)

	ifds := []*IFD{first}
	prevOffsets := stripOffsets
	for i := 1; i < totalPlanes; i++ {
		d := first.Copy()
		offsets := make([]uint64, len(stripOffsets))
		offsets[0] = uint64(prevOffsets[len(prevOffsets)-1] + stripByteCounts[len(stripByteCounts)-1])
		for j := 1; j < len(offsets); j++ {
			offsets[j] = offsets[j-1] + uint64(stripByteCounts[j-1])
		}
		d.PutValue(StripOffsets, TypeLong8, offsets)
		ifds = append(ifds, d)
		prevOffsets = make([]int64, len(offsets))
		for j, o := range offsets {
			prevOffsets[j] = int64(o)
		}
	}

	multichannel := img.AxisLength(scifio.AxisChannel) > 1 && img.PlanarAxisCount == 3
	switch {
	case z*c*t == len(ifds):
		appendNonPlanar(img, c, z, t, multichannel)
	case z*t == len(ifds):
		appendNonPlanar(img, 1, z, t, multichannel)
	default:
		appendNonPlanar(img, 1, len(ifds), 1, multichannel)
	}
	return ifds, nil
}

// parseCommentMetamorph interprets colon-separated key:value pairs; the
// first non-colon line becomes the generic description.
func parseCommentMetamorph(meta *Metadata, comment string) {
	for _, line := range strings.Split(comment, "\n") {
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			meta.Table["Comment"] = line
			meta.Description = line
			continue
		}
		meta.Table[line[:colon]] = line[colon+1:]
	}
}

// parseCommentGeneric interprets INI-like key=value lines, skipping
// [section] headers.
func parseCommentGeneric(meta *Metadata, comment string) {
	if comment == "" {
		return
	}
	lines := strings.Split(comment, "\n")
	if len(lines) <= 1 {
		meta.Description = comment
		return
	}
	var rest strings.Builder
	for _, line := range lines {
		if eq := strings.IndexByte(line, '='); eq >= 0 {
			meta.Table[strings.TrimSpace(line[:eq])] = strings.TrimSpace(line[eq+1:])
		} else if !strings.HasPrefix(line, "[") {
			rest.WriteString(line)
			rest.WriteString("\n")
		}
	}
	meta.Table["Comment"] = rest.String()
	meta.Description = rest.String()
}

// calibrateResolution inverts X/Y resolution into physical pixel sizes.
func calibrateResolution(img *scifio.ImageMetadata, d *IFD) {
	apply := func(axis scifio.AxisType, tag uint16) {
		rats, err := d.GetRationalArray(tag)
		if err != nil || len(rats) == 0 {
			return
		}
		r := rats[0]
		if r.Numer == 0 || r.Denom == 0 {
			return
		}
		// resolution is pixels per unit; pixel size is its inverse
		if i := img.AxisIndex(axis); i >= 0 {
			img.Axes[i].Scale = float64(r.Denom) / float64(r.Numer)
		}
	}
	apply(scifio.AxisX, XResolution)
	apply(scifio.AxisY, YResolution)
}

func parseInt(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		slog.Debug("failed to parse integer comment value", "value", s)
		return 0
	}
	return v
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		slog.Debug("failed to parse float comment value", "value", s)
		return 0
	}
	return v
}

package tiff

import (
	"fmt"

	"github.com/RayPlante/scifio/pkg/scifio"
	"github.com/RayPlante/scifio/pkg/scifio/stream"
)

// Reader opens planes of one parsed TIFF dataset. It owns its backing
// stream and directory chain; both are released on Close.
type Reader struct {
	name string
	s    *stream.Stream
	meta *Metadata
}

var _ scifio.Reader = (*Reader)(nil)

// NewReader parses the stream and returns a reader over it.
func NewReader(name string, s *stream.Stream) (*Reader, error) {
	p, err := NewParser(s)
	if err != nil {
		return nil, err
	}
	meta, err := p.Parse()
	if err != nil {
		return nil, err
	}
	return &Reader{name: name, s: s, meta: meta}, nil
}

// Meta returns the parsed dataset metadata.
func (r *Reader) Meta() *Metadata { return r.meta }

func (r *Reader) CurrentName() string { return r.name }

func (r *Reader) ImageCount() int { return len(r.meta.Images) }

func (r *Reader) Metadata(imageIndex int) *scifio.ImageMetadata {
	return r.meta.Images[imageIndex]
}

func (r *Reader) PlaneCount(imageIndex int) int64 {
	return r.meta.Images[imageIndex].PlaneCount()
}

func (r *Reader) Close() error { return r.s.Close() }

// planeGeometry is the decoded layout of one directory.
type planeGeometry struct {
	width, height int64
	spp           int64
	planarCfg     int64
	bytesPerSamp  int
	codec         scifio.Codec
	predictor     int64
}

func (r *Reader) geometry(d *IFD) (*planeGeometry, error) {
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
	if bps[0]%8 != 0 {
		return nil, fmt.Errorf("tiff: %d-bit samples not byte-aligned", bps[0])
	}
	compression := d.GetIntDefault(Compression, int64(scifio.TiffUncompressed))
	codec := scifio.CodecByTiffCode(uint16(compression))
	if codec == nil {
		return nil, &UnsupportedCompressionError{Code: uint16(compression)}
	}
	return &planeGeometry{
		width:        width,
		height:       height,
		spp:          d.GetIntDefault(SamplesPerPixel, 1),
		planarCfg:    d.GetIntDefault(PlanarConfiguration, 1),
		bytesPerSamp: int(bps[0] / 8),
		codec:        codec,
		predictor:    d.GetIntDefault(Predictor, 1),
	}, nil
}

// region is a planar sub-rectangle plus a channel span.
type region struct {
	x, y, w, h int64
	c0, cw     int64
}

// regionFromArgs maps offsets/lengths, ordered like the image's planar
// axes, onto a region.
func regionFromArgs(img *scifio.ImageMetadata, geo *planeGeometry, offsets, lengths []int64) (*region, error) {
	if len(offsets) != img.PlanarAxisCount || len(lengths) != img.PlanarAxisCount {
		return nil, fmt.Errorf("%w: got %d offsets for %d planar axes",
			scifio.ErrInvalidAxisSpec, len(offsets), img.PlanarAxisCount)
	}
	reg := &region{c0: 0, cw: geo.spp}
	for i, a := range img.AxesPlanar() {
		switch a.Type {
		case scifio.AxisX:
			reg.x, reg.w = offsets[i], lengths[i]
		case scifio.AxisY:
			reg.y, reg.h = offsets[i], lengths[i]
		case scifio.AxisChannel:
			reg.c0, reg.cw = offsets[i], lengths[i]
		}
	}
	if reg.x < 0 || reg.y < 0 || reg.w <= 0 || reg.h <= 0 ||
		reg.x+reg.w > geo.width || reg.y+reg.h > geo.height ||
		reg.c0 < 0 || reg.cw <= 0 || reg.c0+reg.cw > geo.spp {
		return nil, scifio.ErrIndexOutOfRange
	}
	if geo.planarCfg == 1 && geo.spp > 1 && (reg.c0 != 0 || reg.cw != geo.spp) {
		return nil, fmt.Errorf("%w: interleaved reads cover all channels", scifio.ErrInvalidAxisSpec)
	}
	return reg, nil
}

// OpenPlane reads the planar sub-region [offsets, offsets+lengths) of the
// given plane.
func (r *Reader) OpenPlane(imageIndex int, planeIndex int64, offsets, lengths []int64, _ *scifio.Config) (*scifio.Plane, error) {
	if imageIndex != 0 {
		return nil, scifio.ErrIndexOutOfRange
	}
	img := r.meta.Images[0]
	if planeIndex < 0 || planeIndex >= img.PlaneCount() || planeIndex >= int64(len(r.meta.IFDs)) {
		return nil, scifio.ErrIndexOutOfRange
	}
	d := r.meta.IFDs[planeIndex]
	geo, err := r.geometry(d)
	if err != nil {
		return nil, err
	}
	reg, err := regionFromArgs(img, geo, offsets, lengths)
	if err != nil {
		return nil, err
	}

	plane := scifio.NewPlane(img, offsets, lengths)
	if d.Has(TileOffsets) {
		err = r.readTiles(d, geo, reg, planeIndex, plane.Bytes)
	} else {
		err = r.readStrips(d, geo, reg, planeIndex, plane.Bytes)
	}
	if err != nil {
		return nil, err
	}
	return plane, nil
}

// fragment reads and decompresses one strip or tile.
func (r *Reader) fragment(d *IFD, geo *planeGeometry, planeIndex, offset, count, rawSize int64) ([]byte, error) {
	if offset+count > r.s.Length() {
		return nil, &TruncatedPlaneError{PlaneIndex: planeIndex}
	}
	raw := make([]byte, count)
	if err := r.s.Seek(offset); err != nil {
		return nil, err
	}
	if err := r.s.ReadFully(raw); err != nil {
		return nil, err
	}
	data, err := geo.codec.Decompress(raw, scifio.CodecOptions{
		Width:         geo.width,
		Height:        geo.height,
		Channels:      int(geo.spp),
		BitsPerSample: geo.bytesPerSamp * 8,
		LittleEndian:  r.meta.LittleEndian,
		Interleaved:   geo.planarCfg == 1,
		MaxBytes:      int(rawSize),
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (r *Reader) readStrips(d *IFD, geo *planeGeometry, reg *region, planeIndex int64, out []byte) error {
	stripOffsets, err := d.GetIntArray(StripOffsets)
	if err != nil {
		return err
	}
	stripCounts, err := d.GetIntArray(StripByteCounts)
	if err != nil {
		return err
	}

	rps := d.GetIntDefault(RowsPerStrip, geo.height)
	if rps <= 0 || rps > geo.height {
		rps = geo.height
	}
	stripsPerChannel := (geo.height + rps - 1) / rps
	channels := int64(1)
	sampsPerPixel := geo.spp // samples interleaved within one row
	if geo.planarCfg == 2 {
		channels = geo.spp
		sampsPerPixel = 1
	}
	if int64(len(stripOffsets)) < stripsPerChannel*channels ||
		len(stripOffsets) != len(stripCounts) {
		return ErrBadStripLayout
	}

	bpp := int64(geo.bytesPerSamp)
	rowBytes := geo.width * sampsPerPixel * bpp
	outRowBytes := reg.w * sampsPerPixel * bpp

	cLo, cHi := reg.c0, reg.c0+reg.cw
	if geo.planarCfg != 2 {
		cLo, cHi = 0, 1
	}
	for c := cLo; c < cHi; c++ {
		firstStrip := reg.y / rps
		lastStrip := (reg.y + reg.h - 1) / rps
		for k := firstStrip; k <= lastStrip; k++ {
			idx := c*stripsPerChannel + k
			rowsInStrip := rps
			if (k+1)*rps > geo.height {
				rowsInStrip = geo.height - k*rps
			}
			data, err := r.fragment(d, geo, planeIndex,
				stripOffsets[idx], stripCounts[idx], rowsInStrip*rowBytes)
			if err != nil {
				return err
			}
			if int64(len(data)) < rowsInStrip*rowBytes {
				return ErrBadStripLayout
			}
			if geo.predictor == 2 {
				undoPredictor(data, rowsInStrip, geo.width, sampsPerPixel, geo.bytesPerSamp, r.meta.LittleEndian)
			}

			yLo := max64(reg.y, k*rps)
			yHi := min64(reg.y+reg.h, (k+1)*rps)
			for row := yLo; row < yHi; row++ {
				src := (row-k*rps)*rowBytes + reg.x*sampsPerPixel*bpp
				dst := ((c-reg.c0)*reg.h + (row - reg.y)) * outRowBytes
				copy(out[dst:dst+outRowBytes], data[src:src+outRowBytes])
			}
		}
	}
	return nil
}

func (r *Reader) readTiles(d *IFD, geo *planeGeometry, reg *region, planeIndex int64, out []byte) error {
	tileOffsets, err := d.GetIntArray(TileOffsets)
	if err != nil {
		return err
	}
	tileCounts, err := d.GetIntArray(TileByteCounts)
	if err != nil {
		return err
	}
	tw, err := d.GetInt(TileWidth)
	if err != nil {
		return err
	}
	th, err := d.GetInt(TileLength)
	if err != nil {
		return err
	}
	if tw <= 0 || th <= 0 {
		return ErrBadTileLayout
	}
	tilesAcross := (geo.width + tw - 1) / tw
	tilesDown := (geo.height + th - 1) / th
	tilesPerChannel := tilesAcross * tilesDown
	channels := int64(1)
	sampsPerPixel := geo.spp
	if geo.planarCfg == 2 {
		channels = geo.spp
		sampsPerPixel = 1
	}
	if int64(len(tileOffsets)) < tilesPerChannel*channels ||
		len(tileOffsets) != len(tileCounts) {
		return ErrBadTileLayout
	}

	bpp := int64(geo.bytesPerSamp)
	tileRowBytes := tw * sampsPerPixel * bpp
	outRowBytes := reg.w * sampsPerPixel * bpp

	cLo, cHi := reg.c0, reg.c0+reg.cw
	if geo.planarCfg != 2 {
		cLo, cHi = 0, 1
	}
	for c := cLo; c < cHi; c++ {
		for tj := reg.y / th; tj*th < reg.y+reg.h; tj++ {
			for ti := reg.x / tw; ti*tw < reg.x+reg.w; ti++ {
				idx := c*tilesPerChannel + tj*tilesAcross + ti
				data, err := r.fragment(d, geo, planeIndex,
					tileOffsets[idx], tileCounts[idx], th*tileRowBytes)
				if err != nil {
					return err
				}
				if int64(len(data)) < th*tileRowBytes {
					return ErrBadTileLayout
				}
				if geo.predictor == 2 {
					undoPredictor(data, th, tw, sampsPerPixel, geo.bytesPerSamp, r.meta.LittleEndian)
				}

				xLo := max64(reg.x, ti*tw)
				xHi := min64(reg.x+reg.w, (ti+1)*tw)
				yLo := max64(reg.y, tj*th)
				yHi := min64(reg.y+reg.h, (tj+1)*th)
				span := (xHi - xLo) * sampsPerPixel * bpp
				for row := yLo; row < yHi; row++ {
					src := (row-tj*th)*tileRowBytes + (xLo-ti*tw)*sampsPerPixel*bpp
					dst := ((c-reg.c0)*reg.h+(row-reg.y))*outRowBytes +
						(xLo-reg.x)*sampsPerPixel*bpp
					copy(out[dst:dst+span], data[src:src+span])
				}
			}
		}
	}
	return nil
}

// undoPredictor reverses horizontal differencing (predictor 2) in place,
// sample component by sample component along each row.
func undoPredictor(data []byte, rows, rowPixels, sampsPerPixel int64, bytesPerSamp int, little bool) {
	rowSamples := rowPixels * sampsPerPixel
	rowBytes := rowSamples * int64(bytesPerSamp)
	for row := int64(0); row < rows; row++ {
		base := row * rowBytes
		for i := sampsPerPixel; i < rowSamples; i++ {
			cur := base + i*int64(bytesPerSamp)
			prev := cur - sampsPerPixel*int64(bytesPerSamp)
			switch bytesPerSamp {
			case 1:
				data[cur] += data[prev]
			case 2:
				v := readUint(data, cur, 2, little) + readUint(data, prev, 2, little)
				writeUint(v, data, cur, 2, little)
			case 4:
				v := readUint(data, cur, 4, little) + readUint(data, prev, 4, little)
				writeUint(v, data, cur, 4, little)
			}
		}
	}
}

func readUint(data []byte, off int64, count int, little bool) uint64 {
	var v uint64
	for i := 0; i < count; i++ {
		shift := i
		if !little {
			shift = count - i - 1
		}
		v |= uint64(data[off+int64(i)]) << (8 * uint(shift))
	}
	return v
}

func writeUint(v uint64, data []byte, off int64, count int, little bool) {
	for i := 0; i < count; i++ {
		shift := i
		if !little {
			shift = count - i - 1
		}
		data[off+int64(i)] = byte(v >> (8 * uint(shift)))
	}
}

// OpenThumbPlane reads a nearest-neighbor sub-sampled preview of the given
// plane.
func (r *Reader) OpenThumbPlane(imageIndex int, planeIndex int64) (*scifio.Plane, error) {
	if imageIndex != 0 {
		return nil, scifio.ErrIndexOutOfRange
	}
	img := r.meta.Images[0]
	offsets, lengths := scifio.FullPlaneArgs(img)
	full, err := r.OpenPlane(imageIndex, planeIndex, offsets, lengths, nil)
	if err != nil {
		return nil, err
	}

	width := img.AxisLength(scifio.AxisX)
	height := img.AxisLength(scifio.AxisY)
	tx, ty := thumbDims(img, width, height)

	thumbMeta := img.Copy()
	thumbMeta.Axes[thumbMeta.AxisIndex(scifio.AxisX)].Length = tx
	thumbMeta.Axes[thumbMeta.AxisIndex(scifio.AxisY)].Length = ty

	tOffsets := make([]int64, img.PlanarAxisCount)
	tLengths := thumbMeta.AxesLengthsPlanar()
	thumb := scifio.NewPlane(thumbMeta, tOffsets, tLengths)

	// nearest-neighbor over pixel groups; channel-major for planar data
	spp := int64(1)
	interleaved := img.Interleaved()
	if i := img.AxisIndex(scifio.AxisChannel); i >= 0 && i < img.PlanarAxisCount {
		spp = img.Axes[i].Length
	}
	bpp := int64(img.PixelType.BytesPerPixel())
	groups := spp
	groupSize := bpp
	if interleaved {
		groups = 1
		groupSize = spp * bpp
	}
	for g := int64(0); g < groups; g++ {
		srcChannel := g * width * height * groupSize
		dstChannel := g * tx * ty * groupSize
		for yy := int64(0); yy < ty; yy++ {
			sy := yy * height / ty
			for xx := int64(0); xx < tx; xx++ {
				sx := xx * width / tx
				src := srcChannel + (sy*width+sx)*groupSize
				dst := dstChannel + (yy*tx+xx)*groupSize
				copy(thumb.Bytes[dst:dst+groupSize], full.Bytes[src:src+groupSize])
			}
		}
	}
	return thumb, nil
}

func thumbDims(img *scifio.ImageMetadata, width, height int64) (int64, int64) {
	tx, ty := img.ThumbSizeX, img.ThumbSizeY
	if tx > 0 && ty > 0 {
		return tx, ty
	}
	const maxDim = 128
	longest := max64(width, height)
	if longest <= maxDim {
		return width, height
	}
	scale := (longest + maxDim - 1) / maxDim
	return max64(width/scale, 1), max64(height/scale, 1)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

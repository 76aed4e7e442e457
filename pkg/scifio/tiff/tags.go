// Package tiff implements parsing and writing of TIFF 6.0 and BigTIFF
// datasets: directory walking, tag decoding, strip and tile plane
// reassembly, and a streaming plane writer.
package tiff

// FieldType is a TIFF entry value type, per TIFF 6.0 and BigTIFF.
type FieldType uint16

const (
	TypeByte      FieldType = 1  // u8
	TypeASCII     FieldType = 2  // NUL-terminated text
	TypeShort     FieldType = 3  // u16
	TypeLong      FieldType = 4  // u32
	TypeRational  FieldType = 5  // u32/u32
	TypeSByte     FieldType = 6  // i8
	TypeUndefined FieldType = 7  // opaque bytes
	TypeSShort    FieldType = 8  // i16
	TypeSLong     FieldType = 9  // i32
	TypeSRational FieldType = 10 // i32/i32
	TypeFloat     FieldType = 11 // f32
	TypeDouble    FieldType = 12 // f64
	TypeIFD       FieldType = 13 // u32 IFD pointer
	TypeLong8     FieldType = 16 // u64 (BigTIFF)
	TypeSLong8    FieldType = 17 // i64 (BigTIFF)
	TypeIFD8      FieldType = 18 // u64 IFD pointer (BigTIFF)
)

var typeSizes = map[FieldType]int{
	TypeByte:      1,
	TypeASCII:     1,
	TypeShort:     2,
	TypeLong:      4,
	TypeRational:  8,
	TypeSByte:     1,
	TypeUndefined: 1,
	TypeSShort:    2,
	TypeSLong:     4,
	TypeSRational: 8,
	TypeFloat:     4,
	TypeDouble:    8,
	TypeIFD:       4,
	TypeLong8:     8,
	TypeSLong8:    8,
	TypeIFD8:      8,
}

// Size returns the byte size of a single value of this type, or 0 for an
// unknown type.
func (t FieldType) Size() int { return typeSizes[t] }

// Tag identifiers used by the parser and writer.
const (
	NewSubfileType            uint16 = 254
	ImageWidth                uint16 = 256
	ImageLength               uint16 = 257
	BitsPerSample             uint16 = 258
	Compression               uint16 = 259
	PhotometricInterpretation uint16 = 262
	ImageDescription          uint16 = 270
	StripOffsets              uint16 = 273
	Orientation               uint16 = 274
	SamplesPerPixel           uint16 = 277
	RowsPerStrip              uint16 = 278
	StripByteCounts           uint16 = 279
	XResolution               uint16 = 282
	YResolution               uint16 = 283
	PlanarConfiguration       uint16 = 284
	ResolutionUnit            uint16 = 296
	Software                  uint16 = 305
	DateTime                  uint16 = 306
	Predictor                 uint16 = 317
	ColorMap                  uint16 = 320
	TileWidth                 uint16 = 322
	TileLength                uint16 = 323
	TileOffsets               uint16 = 324
	TileByteCounts            uint16 = 325
	SampleFormat              uint16 = 339
	// ImageJTag is the private tag carrying the newline-delimited ImageJ
	// extension block.
	ImageJTag uint16 = 50839
)

// Photometric interpretations.
const (
	PhotoWhiteIsZero uint16 = 0
	PhotoBlackIsZero uint16 = 1
	PhotoRGB         uint16 = 2
	PhotoPalette     uint16 = 3
)

// Sample formats.
const (
	SampleUnsigned uint16 = 1
	SampleSigned   uint16 = 2
	SampleFloat    uint16 = 3
)

package scifio

import (
	"fmt"

	"github.com/RayPlante/scifio/pkg/compress/rle"
)

// CodecOptions carries the plane geometry a codec needs to compress or
// decompress one fragment.
type CodecOptions struct {
	Width         int64
	Height        int64
	Channels      int
	BitsPerSample int
	LittleEndian  bool
	Interleaved   bool
	// MaxBytes is the expected decompressed size of the fragment.
	MaxBytes int
}

// Codec compresses and decompresses plane fragments. Codecs are pure byte
// transforms; pixel interpretation stays downstream.
type Codec interface {
	Compress(data []byte, opt CodecOptions) ([]byte, error)
	Decompress(data []byte, opt CodecOptions) ([]byte, error)
	// Name returns the codec identifier (e.g. "packbits").
	Name() string
	// TiffCode returns the TIFF COMPRESSION value for this codec.
	TiffCode() uint16
}

// TIFF compression codes for the built-in codecs.
const (
	TiffUncompressed uint16 = 1
	TiffPackBits     uint16 = 32773
)

// uncompressedCodec passes bytes through unchanged.
type uncompressedCodec struct{}

func (uncompressedCodec) Compress(data []byte, _ CodecOptions) ([]byte, error) {
	return data, nil
}

func (uncompressedCodec) Decompress(data []byte, _ CodecOptions) ([]byte, error) {
	return data, nil
}

func (uncompressedCodec) Name() string { return "uncompressed" }

func (uncompressedCodec) TiffCode() uint16 { return TiffUncompressed }

// packBitsCodec implements TIFF compression 32773.
type packBitsCodec struct{}

func (packBitsCodec) Compress(data []byte, _ CodecOptions) ([]byte, error) {
	return rle.Pack(data), nil
}

func (packBitsCodec) Decompress(data []byte, opt CodecOptions) ([]byte, error) {
	return rle.Unpack(data, opt.MaxBytes)
}

func (packBitsCodec) Name() string { return "packbits" }

func (packBitsCodec) TiffCode() uint16 { return TiffPackBits }

var codecsByName = map[string]Codec{
	"uncompressed": uncompressedCodec{},
	"packbits":     packBitsCodec{},
}

var codecsByCode = map[uint16]Codec{
	TiffUncompressed: uncompressedCodec{},
	TiffPackBits:     packBitsCodec{},
}

// CodecByName returns a codec by name. The empty name selects
// uncompressed.
func CodecByName(name string) (Codec, error) {
	if name == "" {
		name = "uncompressed"
	}
	c, ok := codecsByName[name]
	if !ok {
		return nil, fmt.Errorf("scifio: unknown codec %q", name)
	}
	return c, nil
}

// CodecByTiffCode returns the codec registered for a TIFF COMPRESSION
// value, or nil if the scheme is unsupported.
func CodecByTiffCode(code uint16) Codec {
	return codecsByCode[code]
}

// RegisterCodec adds a codec to both lookup tables. External compression
// schemes (LZW, JPEG, ...) hook in here.
func RegisterCodec(c Codec) {
	codecsByName[c.Name()] = c
	codecsByCode[c.TiffCode()] = c
}

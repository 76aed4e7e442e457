package scifio

import "fmt"

// PixelType enumerates the supported pixel encodings.
type PixelType int

const (
	Int8 PixelType = iota
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Float32
	Float64
)

var pixelTypeNames = map[PixelType]string{
	Int8:    "int8",
	Uint8:   "uint8",
	Int16:   "int16",
	Uint16:  "uint16",
	Int32:   "int32",
	Uint32:  "uint32",
	Float32: "float32",
	Float64: "float64",
}

func (t PixelType) String() string {
	if name, ok := pixelTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("pixeltype(%d)", int(t))
}

// BytesPerPixel returns the storage size of one sample.
func (t PixelType) BytesPerPixel() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// Signed reports whether the type carries negative values.
func (t PixelType) Signed() bool {
	switch t {
	case Int8, Int16, Int32, Float32, Float64:
		return true
	}
	return false
}

// FloatingPoint reports whether the type is an IEEE float encoding.
func (t PixelType) FloatingPoint() bool {
	return t == Float32 || t == Float64
}

package tiff

import (
	"errors"
	"fmt"
)

// Format errors surfaced by the directory model and the parser.
var (
	ErrNotATiff  = errors.New("tiff: not a TIFF stream")
	ErrCyclicIFD = errors.New("tiff: cyclic IFD chain")
)

// MissingTagError reports a required tag absent from a directory.
type MissingTagError struct{ ID uint16 }

func (e *MissingTagError) Error() string {
	return fmt.Sprintf("tiff: missing tag %d", e.ID)
}

// BadTagTypeError reports a tag whose stored type cannot coerce to the
// requested one.
type BadTagTypeError struct {
	ID   uint16
	Have FieldType
	Want FieldType
}

func (e *BadTagTypeError) Error() string {
	return fmt.Sprintf("tiff: tag %d has type %d, want %d", e.ID, e.Have, e.Want)
}

// Rational is an unsigned TIFF rational.
type Rational struct {
	Numer uint32
	Denom uint32
}

// SRational is a signed TIFF rational.
type SRational struct {
	Numer int32
	Denom int32
}

// Tag is one decoded directory entry: a 16-bit identifier, its field type,
// and the decoded value. Value holds one of: []uint8, string, []uint16,
// []uint32, []Rational, []int8, []int16, []int32, []SRational, []float32,
// []float64, []uint64, []int64, depending on Type.
type Tag struct {
	ID    uint16
	Type  FieldType
	Value any
}

// IFD is one image file directory: an ordered mapping from tag id to
// decoded tag, preserving insertion order for stable serialization. The
// model is dumb storage; layout fields are interpreted by the parser and
// the writer only.
type IFD struct {
	order []uint16
	tags  map[uint16]*Tag
}

// NewIFD creates an empty directory.
func NewIFD() *IFD {
	return &IFD{tags: make(map[uint16]*Tag)}
}

// Put stores a tag, preserving the original position when the id is
// already present.
func (d *IFD) Put(t *Tag) {
	if _, ok := d.tags[t.ID]; !ok {
		d.order = append(d.order, t.ID)
	}
	d.tags[t.ID] = t
}

// PutValue stores a value under id with the given field type.
func (d *IFD) PutValue(id uint16, typ FieldType, value any) {
	d.Put(&Tag{ID: id, Type: typ, Value: value})
}

// Get returns the tag stored under id.
func (d *IFD) Get(id uint16) (*Tag, bool) {
	t, ok := d.tags[id]
	return t, ok
}

// Has reports whether id is present.
func (d *IFD) Has(id uint16) bool {
	_, ok := d.tags[id]
	return ok
}

// Remove deletes id from the directory.
func (d *IFD) Remove(id uint16) {
	if _, ok := d.tags[id]; !ok {
		return
	}
	delete(d.tags, id)
	for i, tid := range d.order {
		if tid == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of entries.
func (d *IFD) Len() int { return len(d.order) }

// Tags iterates entries in insertion order.
func (d *IFD) Tags() []*Tag {
	out := make([]*Tag, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.tags[id])
	}
	return out
}

// Copy returns a shallow copy of the directory (tag values are shared).
func (d *IFD) Copy() *IFD {
	out := NewIFD()
	for _, t := range d.Tags() {
		tag := *t
		out.Put(&tag)
	}
	return out
}

// GetInt returns a scalar integer value, coercing small unsigned widths
// up.
func (d *IFD) GetInt(id uint16) (int64, error) {
	arr, err := d.GetIntArray(id)
	if err != nil {
		return 0, err
	}
	if len(arr) == 0 {
		return 0, &MissingTagError{ID: id}
	}
	return arr[0], nil
}

// GetIntDefault returns a scalar integer, or def when the tag is absent.
func (d *IFD) GetIntDefault(id uint16, def int64) int64 {
	v, err := d.GetInt(id)
	if err != nil {
		return def
	}
	return v
}

// GetIntArray returns an integer array value, coercing every integral
// width up to int64.
func (d *IFD) GetIntArray(id uint16) ([]int64, error) {
	t, ok := d.tags[id]
	if !ok {
		return nil, &MissingTagError{ID: id}
	}
	switch v := t.Value.(type) {
	case []uint8:
		return widen(v, func(x uint8) int64 { return int64(x) }), nil
	case []uint16:
		return widen(v, func(x uint16) int64 { return int64(x) }), nil
	case []uint32:
		return widen(v, func(x uint32) int64 { return int64(x) }), nil
	case []uint64:
		return widen(v, func(x uint64) int64 { return int64(x) }), nil
	case []int8:
		return widen(v, func(x int8) int64 { return int64(x) }), nil
	case []int16:
		return widen(v, func(x int16) int64 { return int64(x) }), nil
	case []int32:
		return widen(v, func(x int32) int64 { return int64(x) }), nil
	case []int64:
		return append([]int64(nil), v...), nil
	}
	return nil, &BadTagTypeError{ID: id, Have: t.Type, Want: TypeLong}
}

func widen[T any](in []T, conv func(T) int64) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = conv(v)
	}
	return out
}

// GetString returns an ASCII value.
func (d *IFD) GetString(id uint16) (string, error) {
	t, ok := d.tags[id]
	if !ok {
		return "", &MissingTagError{ID: id}
	}
	switch v := t.Value.(type) {
	case string:
		return v, nil
	case []uint8:
		return string(v), nil
	}
	return "", &BadTagTypeError{ID: id, Have: t.Type, Want: TypeASCII}
}

// GetRationalArray returns a rational array value.
func (d *IFD) GetRationalArray(id uint16) ([]Rational, error) {
	t, ok := d.tags[id]
	if !ok {
		return nil, &MissingTagError{ID: id}
	}
	if v, ok := t.Value.([]Rational); ok {
		return v, nil
	}
	return nil, &BadTagTypeError{ID: id, Have: t.Type, Want: TypeRational}
}

// GetBitsPerSample returns the per-sample bit depths, defaulting to a
// single 8-bit sample.
func (d *IFD) GetBitsPerSample() ([]int64, error) {
	if !d.Has(BitsPerSample) {
		return []int64{8}, nil
	}
	return d.GetIntArray(BitsPerSample)
}

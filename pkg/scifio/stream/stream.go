// Package stream provides a buffered, endian-aware primitive reader and
// writer over any source handle.
package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/RayPlante/scifio/pkg/scifio/handle"
)

// DefaultBufferSize is the capacity of the in-memory window when none is
// given.
const DefaultBufferSize = 64 * 1024

// Stream wraps a handle with an in-memory read/write window and typed
// primitive access in either byte order.
type Stream struct {
	h     handle.Handle
	order binary.ByteOrder

	buf      []byte
	bufStart int64
	validLen int
	dirty    bool

	pos int64
}

// New wraps h with the default window capacity.
func New(h handle.Handle) *Stream {
	return NewSize(h, DefaultBufferSize)
}

// NewSize wraps h with a window of the given capacity.
func NewSize(h handle.Handle, capacity int) *Stream {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Stream{
		h:     h,
		order: h.Order(),
		buf:   make([]byte, capacity),
	}
}

// Handle returns the backing source handle.
func (s *Stream) Handle() handle.Handle { return s.h }

// Order returns the byte order used by primitive access.
func (s *Stream) Order() binary.ByteOrder { return s.order }

// SetOrder changes the byte order used by subsequent primitive access.
func (s *Stream) SetOrder(o binary.ByteOrder) { s.order = o }

// Position returns the logical source position, independent of the window.
func (s *Stream) Position() int64 { return s.pos }

// Seek moves the logical position.
func (s *Stream) Seek(pos int64) error {
	if pos < 0 {
		return fmt.Errorf("stream: negative seek %d", pos)
	}
	s.pos = pos
	return nil
}

// Skip advances the logical position by n bytes.
func (s *Stream) Skip(n int64) error { return s.Seek(s.pos + n) }

// Length returns the stream length, including unflushed window content.
func (s *Stream) Length() int64 {
	n := s.h.Length()
	if s.dirty && s.bufStart+int64(s.validLen) > n {
		n = s.bufStart + int64(s.validLen)
	}
	return n
}

// SetLength truncates or extends the underlying handle.
func (s *Stream) SetLength(n int64) error {
	if err := s.Flush(); err != nil {
		return err
	}
	if err := s.h.SetLength(n); err != nil {
		return err
	}
	s.validLen = 0
	if s.pos > n {
		s.pos = n
	}
	return nil
}

// Flush writes the dirty window back to the handle. Idempotent.
func (s *Stream) Flush() error {
	if !s.dirty {
		return nil
	}
	if err := s.h.Seek(s.bufStart); err != nil {
		return err
	}
	if _, err := s.h.Write(s.buf[:s.validLen]); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// Close flushes and closes the backing handle.
func (s *Stream) Close() error {
	if err := s.Flush(); err != nil {
		s.h.Close()
		return err
	}
	return s.h.Close()
}

// inWindow reports whether the window holds the byte at pos.
func (s *Stream) inWindow(pos int64) bool {
	return s.validLen > 0 && pos >= s.bufStart && pos < s.bufStart+int64(s.validLen)
}

// fill repositions the window at pos and fills it from the handle.
func (s *Stream) fill(pos int64) error {
	if err := s.Flush(); err != nil {
		return err
	}
	s.bufStart = pos
	s.validLen = 0
	if pos >= s.h.Length() {
		return nil
	}
	if err := s.h.Seek(pos); err != nil {
		return err
	}
	want := s.buf
	if remain := s.h.Length() - pos; remain < int64(len(want)) {
		want = want[:remain]
	}
	total := 0
	for total < len(want) {
		n, err := s.h.Read(want[total:])
		total += n
		if err != nil || n == 0 {
			break
		}
	}
	s.validLen = total
	return nil
}

// Read fills p from the logical position, returning the count read.
func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	// large reads bypass the window
	if len(p) >= len(s.buf) && !s.inWindow(s.pos) {
		if err := s.Flush(); err != nil {
			return 0, err
		}
		if err := s.h.Seek(s.pos); err != nil {
			return 0, err
		}
		n, err := s.h.Read(p)
		s.pos += int64(n)
		return n, err
	}
	if !s.inWindow(s.pos) {
		if err := s.fill(s.pos); err != nil {
			return 0, err
		}
		if s.validLen == 0 {
			return 0, handle.ErrUnexpectedEnd
		}
	}
	off := int(s.pos - s.bufStart)
	n := copy(p, s.buf[off:s.validLen])
	s.pos += int64(n)
	return n, nil
}

// ReadFully fills p completely or fails with ErrUnexpectedEnd.
func (s *Stream) ReadFully(p []byte) error {
	total := 0
	for total < len(p) {
		n, err := s.Read(p[total:])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) && total >= len(p) {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return handle.ErrUnexpectedEnd
			}
			return err
		}
		if n == 0 {
			return handle.ErrUnexpectedEnd
		}
	}
	return nil
}

// Write stores p at the logical position.
func (s *Stream) Write(p []byte) (int, error) {
	// large writes bypass the window
	if len(p) >= len(s.buf) {
		if err := s.Flush(); err != nil {
			return 0, err
		}
		s.validLen = 0
		if err := s.h.Seek(s.pos); err != nil {
			return 0, err
		}
		n, err := s.h.Write(p)
		s.pos += int64(n)
		return n, err
	}
	// restart the window at pos unless the write lands inside it
	if !(s.pos >= s.bufStart && s.pos <= s.bufStart+int64(s.validLen) &&
		int(s.pos-s.bufStart)+len(p) <= len(s.buf)) {
		if err := s.fill(s.pos); err != nil {
			return 0, err
		}
	}
	off := int(s.pos - s.bufStart)
	n := copy(s.buf[off:], p)
	if off+n > s.validLen {
		s.validLen = off + n
	}
	s.dirty = true
	s.pos += int64(n)
	return n, nil
}

// -- primitive reads --

func (s *Stream) readN(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := s.ReadFully(b); err != nil {
		return nil, err
	}
	return b, nil
}

// ReadBool reads one byte, reporting whether it is nonzero.
func (s *Stream) ReadBool() (bool, error) {
	v, err := s.ReadUint8()
	return v != 0, err
}

func (s *Stream) ReadUint8() (uint8, error) {
	b, err := s.readN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *Stream) ReadInt8() (int8, error) {
	v, err := s.ReadUint8()
	return int8(v), err
}

func (s *Stream) ReadUint16() (uint16, error) {
	b, err := s.readN(2)
	if err != nil {
		return 0, err
	}
	return s.order.Uint16(b), nil
}

func (s *Stream) ReadInt16() (int16, error) {
	v, err := s.ReadUint16()
	return int16(v), err
}

func (s *Stream) ReadUint32() (uint32, error) {
	b, err := s.readN(4)
	if err != nil {
		return 0, err
	}
	return s.order.Uint32(b), nil
}

func (s *Stream) ReadInt32() (int32, error) {
	v, err := s.ReadUint32()
	return int32(v), err
}

func (s *Stream) ReadUint64() (uint64, error) {
	b, err := s.readN(8)
	if err != nil {
		return 0, err
	}
	return s.order.Uint64(b), nil
}

func (s *Stream) ReadInt64() (int64, error) {
	v, err := s.ReadUint64()
	return int64(v), err
}

func (s *Stream) ReadFloat32() (float32, error) {
	v, err := s.ReadUint32()
	return math.Float32frombits(v), err
}

func (s *Stream) ReadFloat64() (float64, error) {
	v, err := s.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadString reads n bytes as ASCII, terminating at the first NUL.
func (s *Stream) ReadString(n int) (string, error) {
	b, err := s.readN(n)
	if err != nil {
		return "", err
	}
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), nil
		}
	}
	return string(b), nil
}

// ReadPascalString reads a u16 length prefix followed by that many UTF-8
// bytes.
func (s *Stream) ReadPascalString() (string, error) {
	n, err := s.ReadUint16()
	if err != nil {
		return "", err
	}
	b, err := s.readN(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadLine reads bytes up to and excluding the delimiter, consuming it.
// Reaching end of stream before the delimiter returns what was read with
// ErrUnexpectedEnd.
func (s *Stream) ReadLine(delim byte) (string, error) {
	var out []byte
	for {
		b, err := s.ReadUint8()
		if err != nil {
			return string(out), handle.ErrUnexpectedEnd
		}
		if b == delim {
			return string(out), nil
		}
		out = append(out, b)
	}
}

// -- primitive writes --

func (s *Stream) writeAll(b []byte) error {
	_, err := s.Write(b)
	return err
}

func (s *Stream) WriteBool(v bool) error {
	if v {
		return s.WriteUint8(1)
	}
	return s.WriteUint8(0)
}

func (s *Stream) WriteUint8(v uint8) error { return s.writeAll([]byte{v}) }

func (s *Stream) WriteInt8(v int8) error { return s.WriteUint8(uint8(v)) }

func (s *Stream) WriteUint16(v uint16) error {
	b := make([]byte, 2)
	s.order.PutUint16(b, v)
	return s.writeAll(b)
}

func (s *Stream) WriteInt16(v int16) error { return s.WriteUint16(uint16(v)) }

func (s *Stream) WriteUint32(v uint32) error {
	b := make([]byte, 4)
	s.order.PutUint32(b, v)
	return s.writeAll(b)
}

func (s *Stream) WriteInt32(v int32) error { return s.WriteUint32(uint32(v)) }

func (s *Stream) WriteUint64(v uint64) error {
	b := make([]byte, 8)
	s.order.PutUint64(b, v)
	return s.writeAll(b)
}

func (s *Stream) WriteInt64(v int64) error { return s.WriteUint64(uint64(v)) }

func (s *Stream) WriteFloat32(v float32) error {
	return s.WriteUint32(math.Float32bits(v))
}

func (s *Stream) WriteFloat64(v float64) error {
	return s.WriteUint64(math.Float64bits(v))
}

// WriteString writes the raw bytes of v.
func (s *Stream) WriteString(v string) error { return s.writeAll([]byte(v)) }

// WritePascalString writes a u16 length prefix followed by the bytes of v.
func (s *Stream) WritePascalString(v string) error {
	if len(v) > math.MaxUint16 {
		return fmt.Errorf("stream: string of %d bytes exceeds pascal prefix", len(v))
	}
	if err := s.WriteUint16(uint16(len(v))); err != nil {
		return err
	}
	return s.WriteString(v)
}

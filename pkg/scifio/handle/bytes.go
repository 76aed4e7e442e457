package handle

import (
	"encoding/binary"
	"io"
)

// BytesHandle wraps a byte buffer as a random-access stream. The writable
// variant grows its capacity as needed; the read-only variant fails writes
// with ErrReadOnly.
type BytesHandle struct {
	buf      []byte // len(buf) is the capacity
	length   int64
	pos      int64
	order    binary.ByteOrder
	writable bool
	closed   bool
}

// NewBytes wraps data as a read-only stream.
func NewBytes(data []byte) *BytesHandle {
	return &BytesHandle{
		buf:    data,
		length: int64(len(data)),
		order:  binary.BigEndian,
	}
}

// NewBytesWritable copies data into a writable stream.
func NewBytesWritable(data []byte) *BytesHandle {
	return &BytesHandle{
		buf:      append([]byte(nil), data...),
		length:   int64(len(data)),
		order:    binary.BigEndian,
		writable: true,
	}
}

// NewBuffer creates an empty writable stream.
func NewBuffer() *BytesHandle {
	return NewBufferSize(0)
}

// NewBufferSize creates an empty writable stream with the given initial
// capacity.
func NewBufferSize(capacity int) *BytesHandle {
	return &BytesHandle{
		buf:      make([]byte, capacity),
		order:    binary.BigEndian,
		writable: true,
	}
}

// Bytes returns the written content of the stream.
func (h *BytesHandle) Bytes() []byte { return h.buf[:h.length] }

func (h *BytesHandle) Length() int64 { return h.length }

func (h *BytesHandle) SetLength(n int64) error {
	if h.closed {
		return ErrClosed
	}
	if !h.writable {
		return ErrReadOnly
	}
	if n > int64(len(h.buf)) {
		// grow to twice the requested length, preserving content
		grown := make([]byte, 2*n)
		copy(grown, h.buf)
		h.buf = grown
	}
	h.length = n
	if h.pos > h.length {
		h.pos = h.length
	}
	return nil
}

func (h *BytesHandle) Position() int64 { return h.pos }

func (h *BytesHandle) Seek(pos int64) error {
	if h.closed {
		return ErrClosed
	}
	if pos > h.length {
		if !h.writable {
			return ErrUnexpectedEnd
		}
		if err := h.SetLength(pos); err != nil {
			return err
		}
	}
	h.pos = pos
	return nil
}

func (h *BytesHandle) Read(p []byte) (int, error) {
	if h.closed {
		return 0, ErrClosed
	}
	if h.pos >= h.length {
		return 0, io.EOF
	}
	n := copy(p, h.buf[h.pos:h.length])
	h.pos += int64(n)
	return n, nil
}

func (h *BytesHandle) Write(p []byte) (int, error) {
	if h.closed {
		return 0, ErrClosed
	}
	if !h.writable {
		return 0, ErrReadOnly
	}
	end := h.pos + int64(len(p))
	if end > h.length {
		if err := h.SetLength(end); err != nil {
			return 0, err
		}
	}
	n := copy(h.buf[h.pos:], p)
	h.pos += int64(n)
	return n, nil
}

func (h *BytesHandle) Order() binary.ByteOrder     { return h.order }
func (h *BytesHandle) SetOrder(o binary.ByteOrder) { h.order = o }

func (h *BytesHandle) Close() error {
	h.closed = true
	return nil
}

package handle

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// FileHandle is a random-access stream over a local file. Read-only opens
// are memory-mapped when the file fits the address space; otherwise, and
// for read-write opens, access is paged through the OS file.
type FileHandle struct {
	f        *os.File
	mm       []byte // non-nil when memory-mapped
	length   int64
	pos      int64
	order    binary.ByteOrder
	writable bool
	closed   bool
}

// OpenFile opens path read-only.
func OpenFile(path string) (*FileHandle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("handle: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("handle: %w", err)
	}
	h := &FileHandle{f: f, length: info.Size(), order: binary.BigEndian}
	if h.length > 0 && h.length <= math.MaxInt32 {
		if mm, err := mmapFile(f, h.length); err == nil {
			h.mm = mm
		}
	}
	return h, nil
}

// CreateFile opens path read-write, creating it if necessary.
func CreateFile(path string) (*FileHandle, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("handle: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("handle: %w", err)
	}
	return &FileHandle{f: f, length: info.Size(), order: binary.BigEndian, writable: true}, nil
}

func (h *FileHandle) Length() int64 { return h.length }

func (h *FileHandle) SetLength(n int64) error {
	if h.closed {
		return ErrClosed
	}
	if !h.writable {
		return ErrReadOnly
	}
	if err := h.f.Truncate(n); err != nil {
		return fmt.Errorf("handle: %w", err)
	}
	h.length = n
	if h.pos > h.length {
		h.pos = h.length
	}
	return nil
}

func (h *FileHandle) Position() int64 { return h.pos }

func (h *FileHandle) Seek(pos int64) error {
	if h.closed {
		return ErrClosed
	}
	if pos > h.length && !h.writable {
		return ErrUnexpectedEnd
	}
	h.pos = pos
	return nil
}

func (h *FileHandle) Read(p []byte) (int, error) {
	if h.closed {
		return 0, ErrClosed
	}
	if h.pos >= h.length {
		return 0, io.EOF
	}
	if h.mm != nil {
		n := copy(p, h.mm[h.pos:h.length])
		h.pos += int64(n)
		return n, nil
	}
	if int64(len(p)) > h.length-h.pos {
		p = p[:h.length-h.pos]
	}
	n, err := h.f.ReadAt(p, h.pos)
	h.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("handle: %w", err)
	}
	return n, err
}

func (h *FileHandle) Write(p []byte) (int, error) {
	if h.closed {
		return 0, ErrClosed
	}
	if !h.writable {
		return 0, ErrReadOnly
	}
	n, err := h.f.WriteAt(p, h.pos)
	h.pos += int64(n)
	if h.pos > h.length {
		h.length = h.pos
	}
	if err != nil {
		return n, fmt.Errorf("handle: %w", err)
	}
	return n, nil
}

func (h *FileHandle) Order() binary.ByteOrder     { return h.order }
func (h *FileHandle) SetOrder(o binary.ByteOrder) { h.order = o }

func (h *FileHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if h.mm != nil {
		munmapFile(h.mm)
		h.mm = nil
	}
	return h.f.Close()
}

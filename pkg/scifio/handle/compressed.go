package handle

import (
	"compress/bzip2"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// handleReader adapts a Handle to io.Reader, advancing its position.
type handleReader struct{ h Handle }

func (r handleReader) Read(p []byte) (int, error) { return r.h.Read(p) }

// streamHandle backs the read-only decompressed sources. The decompressed
// stream behaves as if fully materialized but is decoded lazily; forward
// seeks discard, backward seeks restart the decompressor from its sync
// point.
type streamHandle struct {
	reopen func() (io.ReadCloser, error)

	cur    io.ReadCloser
	curPos int64 // decompressed position of cur
	length int64
	pos    int64
	order  binary.ByteOrder
	closed bool
}

func newStreamHandle(reopen func() (io.ReadCloser, error)) (*streamHandle, error) {
	h := &streamHandle{reopen: reopen, order: binary.BigEndian}
	// materialize the decompressed length once, up front
	r, err := reopen()
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(io.Discard, r)
	r.Close()
	if err != nil {
		return nil, fmt.Errorf("handle: %w", err)
	}
	h.length = n
	return h, nil
}

func (h *streamHandle) Length() int64 { return h.length }

func (h *streamHandle) SetLength(int64) error { return ErrReadOnly }

func (h *streamHandle) Position() int64 { return h.pos }

func (h *streamHandle) Seek(pos int64) error {
	if h.closed {
		return ErrClosed
	}
	h.pos = pos
	return nil
}

func (h *streamHandle) Read(p []byte) (int, error) {
	if h.closed {
		return 0, ErrClosed
	}
	if h.pos >= h.length {
		return 0, io.EOF
	}
	if h.cur == nil || h.pos < h.curPos {
		if h.cur != nil {
			h.cur.Close()
		}
		cur, err := h.reopen()
		if err != nil {
			return 0, err
		}
		h.cur = cur
		h.curPos = 0
	}
	if h.pos > h.curPos {
		n, err := io.CopyN(io.Discard, h.cur, h.pos-h.curPos)
		h.curPos += n
		if err != nil {
			return 0, fmt.Errorf("handle: %w", err)
		}
	}
	if int64(len(p)) > h.length-h.pos {
		p = p[:h.length-h.pos]
	}
	n, err := io.ReadFull(h.cur, p)
	h.pos += int64(n)
	h.curPos += int64(n)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return n, ErrUnexpectedEnd
	}
	if err != nil {
		return n, fmt.Errorf("handle: %w", err)
	}
	return n, nil
}

func (h *streamHandle) Write([]byte) (int, error) { return 0, ErrReadOnly }

func (h *streamHandle) Order() binary.ByteOrder     { return h.order }
func (h *streamHandle) SetOrder(o binary.ByteOrder) { h.order = o }

func (h *streamHandle) Close() error {
	h.closed = true
	if h.cur != nil {
		err := h.cur.Close()
		h.cur = nil
		return err
	}
	return nil
}

type nopReadCloser struct{ io.Reader }

func (nopReadCloser) Close() error { return nil }

// NewGzip exposes the decompressed content of a gzip-compressed source.
// Backward seeks restart decompression from the start of the archive.
func NewGzip(src Handle) (Handle, error) {
	return newStreamHandle(func() (io.ReadCloser, error) {
		if err := src.Seek(0); err != nil {
			return nil, err
		}
		zr, err := gzip.NewReader(handleReader{src})
		if err != nil {
			return nil, fmt.Errorf("handle: %w", err)
		}
		return zr, nil
	})
}

// NewBzip2 exposes the decompressed content of a bzip2-compressed source.
func NewBzip2(src Handle) (Handle, error) {
	return newStreamHandle(func() (io.ReadCloser, error) {
		if err := src.Seek(0); err != nil {
			return nil, err
		}
		return nopReadCloser{bzip2.NewReader(handleReader{src})}, nil
	})
}

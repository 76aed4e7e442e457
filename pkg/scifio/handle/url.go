package handle

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
)

// urlWindowSize is the span of each range request.
const urlWindowSize = 512 * 1024

// URLHandle is a read-only random-access stream over an HTTP resource.
// Random seeks issue range requests and refill a sliding buffer.
type URLHandle struct {
	client *http.Client
	url    string

	length   int64
	pos      int64
	buf      []byte
	bufStart int64
	order    binary.ByteOrder
	closed   bool
}

// OpenURL opens url read-only. Length is taken from Content-Length, or 0
// when the server does not report one.
func OpenURL(client *http.Client, url string) (*URLHandle, error) {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Head(url)
	if err != nil {
		return nil, fmt.Errorf("handle: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("handle: HEAD %s: %s", url, resp.Status)
	}
	length := resp.ContentLength
	if length < 0 {
		length = 0
	}
	return &URLHandle{
		client: client,
		url:    url,
		length: length,
		order:  binary.BigEndian,
	}, nil
}

func (h *URLHandle) Length() int64 { return h.length }

func (h *URLHandle) SetLength(int64) error { return ErrReadOnly }

func (h *URLHandle) Position() int64 { return h.pos }

func (h *URLHandle) Seek(pos int64) error {
	if h.closed {
		return ErrClosed
	}
	h.pos = pos
	return nil
}

// fill slides the buffer window to cover pos.
func (h *URLHandle) fill(pos int64) error {
	end := pos + urlWindowSize - 1
	if h.length > 0 && end >= h.length {
		end = h.length - 1
	}
	req, err := http.NewRequest(http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("handle: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", pos, end))
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("handle: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("handle: GET %s: %s", h.url, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("handle: %w", err)
	}
	if resp.StatusCode == http.StatusPartialContent {
		h.buf = body
		h.bufStart = pos
	} else {
		// server ignored the range request and sent the whole resource
		h.buf = body
		h.bufStart = 0
		h.length = int64(len(body))
	}
	return nil
}

func (h *URLHandle) Read(p []byte) (int, error) {
	if h.closed {
		return 0, ErrClosed
	}
	if h.length > 0 && h.pos >= h.length {
		return 0, io.EOF
	}
	if h.pos < h.bufStart || h.pos >= h.bufStart+int64(len(h.buf)) {
		if err := h.fill(h.pos); err != nil {
			return 0, err
		}
	}
	off := h.pos - h.bufStart
	if off >= int64(len(h.buf)) {
		return 0, io.EOF
	}
	n := copy(p, h.buf[off:])
	h.pos += int64(n)
	return n, nil
}

func (h *URLHandle) Write([]byte) (int, error) { return 0, ErrReadOnly }

func (h *URLHandle) Order() binary.ByteOrder     { return h.order }
func (h *URLHandle) SetOrder(o binary.ByteOrder) { h.order = o }

func (h *URLHandle) Close() error {
	h.closed = true
	h.buf = nil
	return nil
}

// Package handle provides uniform random-access byte streams over memory
// buffers, local files, HTTP URLs, and transparently decompressed archives.
package handle

import (
	"encoding/binary"
	"errors"
	"io"
)

// Handle is an open byte stream with a current position, a length, and a
// byte order. All reads and writes advance the position.
type Handle interface {
	io.Closer

	// Length returns the current length of the stream in bytes.
	Length() int64
	// SetLength truncates or extends the stream. Extension zero-fills when
	// the backing store supports it.
	SetLength(n int64) error
	// Position returns the current stream position.
	Position() int64
	// Seek moves the stream position.
	Seek(pos int64) error
	// Read fills p from the current position, returning the number of bytes
	// read. Returns io.EOF at end of stream.
	Read(p []byte) (int, error)
	// Write stores p at the current position, growing the stream if the
	// handle is writable.
	Write(p []byte) (int, error)
	// Order returns the byte order used by primitive decoding.
	Order() binary.ByteOrder
	// SetOrder changes the byte order used by primitive decoding.
	SetOrder(o binary.ByteOrder)
}

var (
	// ErrReadOnly reports a write against a read-only source.
	ErrReadOnly = errors.New("handle: source is read-only")
	// ErrUnexpectedEnd reports a read that could not be satisfied before the
	// end of the stream.
	ErrUnexpectedEnd = errors.New("handle: unexpected end of stream")
	// ErrClosed reports an operation on a closed source. In-flight reads on
	// a source closed by another goroutine fail with this error.
	ErrClosed = errors.New("handle: source is closed")
)

// ReadFully fills p completely or fails with ErrUnexpectedEnd.
func ReadFully(h Handle, p []byte) error {
	total := 0
	for total < len(p) {
		n, err := h.Read(p[total:])
		total += n
		if err == io.EOF || (err == nil && n == 0) {
			if total < len(p) {
				return ErrUnexpectedEnd
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

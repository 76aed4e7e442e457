package handle

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesHandle_ReadOnly(t *testing.T) {
	h := NewBytes([]byte{1, 2, 3, 4})
	require.Equal(t, int64(4), h.Length())

	buf := make([]byte, 2)
	require.NoError(t, ReadFully(h, buf))
	assert.Equal(t, []byte{1, 2}, buf)
	assert.Equal(t, int64(2), h.Position())

	_, err := h.Write([]byte{9})
	assert.ErrorIs(t, err, ErrReadOnly)

	require.NoError(t, h.Seek(3))
	err = ReadFully(h, make([]byte, 2))
	assert.ErrorIs(t, err, ErrUnexpectedEnd)
}

func TestBytesHandle_GrowthAndSeekPastEnd(t *testing.T) {
	h := NewBufferSize(4)
	require.Equal(t, int64(0), h.Length())

	n, err := h.Write(bytes.Repeat([]byte{0xAA}, 10))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, int64(10), h.Length())

	// seeking past the end extends the length
	require.NoError(t, h.Seek(20))
	assert.Equal(t, int64(20), h.Length())

	// growth preserves content
	require.NoError(t, h.Seek(0))
	buf := make([]byte, 10)
	require.NoError(t, ReadFully(h, buf))
	assert.Equal(t, bytes.Repeat([]byte{0xAA}, 10), buf)
}

func TestBytesHandle_SeekReadIdempotent(t *testing.T) {
	h := NewBytes([]byte{10, 20, 30, 40, 50})
	first := make([]byte, 3)
	second := make([]byte, 3)
	require.NoError(t, h.Seek(1))
	require.NoError(t, ReadFully(h, first))
	require.NoError(t, h.Seek(1))
	require.NoError(t, ReadFully(h, second))
	assert.Equal(t, first, second)
}

func TestBytesHandle_Cancelled(t *testing.T) {
	h := NewBytes([]byte{1, 2, 3})
	require.NoError(t, h.Close())
	_, err := h.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFileHandle_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")

	w, err := CreateFile(path)
	require.NoError(t, err)
	_, err = w.Write([]byte("scientific"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), w.Length())

	// write past length grows the file
	require.NoError(t, w.Seek(16))
	_, err = w.Write([]byte("image"))
	require.NoError(t, err)
	assert.Equal(t, int64(21), w.Length())
	require.NoError(t, w.Close())

	r, err := OpenFile(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, int64(21), r.Length())

	buf := make([]byte, 10)
	require.NoError(t, ReadFully(r, buf))
	assert.Equal(t, "scientific", string(buf))

	require.NoError(t, r.Seek(16))
	buf = make([]byte, 5)
	require.NoError(t, ReadFully(r, buf))
	assert.Equal(t, "image", string(buf))

	_, err = r.Write([]byte{1})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestFileHandle_Truncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.bin")
	w, err := CreateFile(path)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write(make([]byte, 100))
	require.NoError(t, err)
	require.NoError(t, w.SetLength(10))
	assert.Equal(t, int64(10), w.Length())
	assert.Equal(t, int64(10), w.Position())
}

func TestURLHandle_RangeReads(t *testing.T) {
	content := make([]byte, 2048)
	for i := range content {
		content[i] = byte(i)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "data.bin", time.Time{}, bytes.NewReader(content))
	}))
	defer srv.Close()

	h, err := OpenURL(srv.Client(), srv.URL+"/data.bin")
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, int64(2048), h.Length())

	buf := make([]byte, 4)
	require.NoError(t, h.Seek(1000))
	require.NoError(t, ReadFully(h, buf))
	assert.Equal(t, []byte{232, 233, 234, 235}, buf)

	// backwards seek refills the window
	require.NoError(t, h.Seek(2))
	require.NoError(t, ReadFully(h, buf))
	assert.Equal(t, []byte{2, 3, 4, 5}, buf)

	_, err = h.Write([]byte{1})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestGzipHandle(t *testing.T) {
	plain := bytes.Repeat([]byte("0123456789"), 100)
	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	_, err := zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	h, err := NewGzip(NewBytes(compressed.Bytes()))
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, int64(len(plain)), h.Length())

	buf := make([]byte, 10)
	require.NoError(t, h.Seek(500))
	require.NoError(t, ReadFully(h, buf))
	assert.Equal(t, plain[500:510], buf)

	// backward seek restarts decompression from the start
	require.NoError(t, h.Seek(5))
	require.NoError(t, ReadFully(h, buf))
	assert.Equal(t, plain[5:15], buf)

	_, err = h.Write([]byte{0})
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.ErrorIs(t, h.SetLength(1), ErrReadOnly)
}

func TestZipHandle(t *testing.T) {
	plain := []byte("zip entry payload, long enough to bother compressing")
	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	f, err := zw.Create("inner/data.raw")
	require.NoError(t, err)
	_, err = f.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	h, err := NewZip(NewBytes(archive.Bytes()), "")
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, int64(len(plain)), h.Length())

	buf := make([]byte, len(plain))
	require.NoError(t, ReadFully(h, buf))
	assert.Equal(t, plain, buf)

	require.NoError(t, h.Seek(4))
	buf = make([]byte, 5)
	require.NoError(t, ReadFully(h, buf))
	assert.Equal(t, plain[4:9], buf)
}

func TestZipHandle_MissingEntry(t *testing.T) {
	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	_, err := zw.Create("a.txt")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = NewZip(NewBytes(archive.Bytes()), "nope.txt")
	assert.Error(t, err)
}

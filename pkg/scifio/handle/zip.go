package handle

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// handleReaderAt adapts a Handle to io.ReaderAt by saving and restoring the
// position around each read.
type handleReaderAt struct{ h Handle }

func (r handleReaderAt) ReadAt(p []byte, off int64) (int, error) {
	saved := r.h.Position()
	defer r.h.Seek(saved)
	if err := r.h.Seek(off); err != nil {
		return 0, err
	}
	total := 0
	for total < len(p) {
		n, err := r.h.Read(p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// NewZip exposes the decompressed content of one entry of a zip archive.
// An empty entryName selects the first file entry. Backward seeks restart
// decompression from the chosen entry's start.
func NewZip(src Handle, entryName string) (Handle, error) {
	zr, err := zip.NewReader(handleReaderAt{src}, src.Length())
	if err != nil {
		return nil, fmt.Errorf("handle: %w", err)
	}
	var entry *zip.File
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		if entryName == "" || f.Name == entryName {
			entry = f
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("handle: zip entry %q not found", entryName)
	}
	h := &streamHandle{
		reopen: func() (io.ReadCloser, error) {
			rc, err := entry.Open()
			if err != nil {
				return nil, fmt.Errorf("handle: %w", err)
			}
			return rc, nil
		},
	}
	h.order = binary.BigEndian
	h.length = int64(entry.UncompressedSize64)
	return h, nil
}

//go:build !unix

package handle

import (
	"errors"
	"os"
)

func mmapFile(f *os.File, size int64) ([]byte, error) {
	return nil, errors.New("handle: mmap not supported on this platform")
}

func munmapFile(mm []byte) {}

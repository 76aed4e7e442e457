// Package location resolves dataset identifiers to concrete byte sources
// and provides cached directory listings for local paths and URLs.
package location

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Kind discriminates the backing of a resolved location.
type Kind int

const (
	KindFile Kind = iota
	KindURL
)

// Location is a resolved reference to a local file or a URL. Two Locations
// are equal iff their absolute paths are equal.
type Location struct {
	Kind         Kind
	AbsolutePath string
	IsDirectory  bool
	Length       int64
	LastModified time.Time
}

// IsURL reports whether id names an HTTP resource.
func IsURL(id string) bool {
	return strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://")
}

// Resolve stats id (after alias mapping through reg) into a Location.
// URL locations report directory-ness by a trailing slash and leave the
// modification time zero.
func (r *Registry) Resolve(id string) (Location, error) {
	id = r.MappedID(id)
	if IsURL(id) {
		loc := Location{
			Kind:         KindURL,
			AbsolutePath: id,
			IsDirectory:  strings.HasSuffix(id, "/"),
		}
		resp, err := r.client().Head(id)
		if err != nil {
			return Location{}, fmt.Errorf("location: %w", err)
		}
		resp.Body.Close()
		if resp.ContentLength > 0 {
			loc.Length = resp.ContentLength
		}
		return loc, nil
	}
	abs, err := filepath.Abs(id)
	if err != nil {
		return Location{}, fmt.Errorf("location: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Location{}, fmt.Errorf("location: %w", err)
	}
	return Location{
		Kind:         KindFile,
		AbsolutePath: abs,
		IsDirectory:  info.IsDir(),
		Length:       info.Size(),
		LastModified: info.ModTime(),
	}, nil
}

// Equal reports whether two locations refer to the same absolute path.
func (l Location) Equal(other Location) bool {
	return l.AbsolutePath == other.AbsolutePath
}

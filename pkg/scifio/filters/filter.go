// Package filters provides composable reader transforms. Each filter wraps
// a parent reader, owns it outright, and exposes it through Parent(); the
// chain forms a list released by closing the outermost filter.
package filters

import (
	"github.com/RayPlante/scifio/pkg/scifio"
)

// ReaderFilter is the no-op base filter: every operation delegates to the
// parent. Concrete filters embed it and override what they change.
type ReaderFilter struct {
	parent scifio.Reader
}

var _ scifio.Reader = (*ReaderFilter)(nil)

// NewReaderFilter wraps parent with an identity filter.
func NewReaderFilter(parent scifio.Reader) *ReaderFilter {
	return &ReaderFilter{parent: parent}
}

// Parent returns the wrapped reader.
func (f *ReaderFilter) Parent() scifio.Reader { return f.parent }

func (f *ReaderFilter) ImageCount() int { return f.parent.ImageCount() }

func (f *ReaderFilter) Metadata(imageIndex int) *scifio.ImageMetadata {
	return f.parent.Metadata(imageIndex)
}

func (f *ReaderFilter) PlaneCount(imageIndex int) int64 {
	return f.parent.PlaneCount(imageIndex)
}

func (f *ReaderFilter) OpenPlane(imageIndex int, planeIndex int64, offsets, lengths []int64, cfg *scifio.Config) (*scifio.Plane, error) {
	return f.parent.OpenPlane(imageIndex, planeIndex, offsets, lengths, cfg)
}

func (f *ReaderFilter) OpenThumbPlane(imageIndex int, planeIndex int64) (*scifio.Plane, error) {
	return f.parent.OpenThumbPlane(imageIndex, planeIndex)
}

func (f *ReaderFilter) CurrentName() string { return f.parent.CurrentName() }

func (f *ReaderFilter) Close() error { return f.parent.Close() }

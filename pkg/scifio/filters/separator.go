package filters

import (
	"fmt"
	"math"
	"sync"

	"github.com/RayPlante/scifio/pkg/scifio"
	"github.com/RayPlante/scifio/pkg/scifio/dtools"
)

// PlaneSeparator virtually splits planar axes (typically Channel) out of a
// parent reader, projecting a reader whose planes cover one separated
// coordinate each. Large parent planes are fetched strip-wise; the most
// recent single-fetch open is kept in a single-slot cache, and a
// strip-wise open clears it.
type PlaneSeparator struct {
	mu sync.Mutex

	parent scifio.Reader
	types  []scifio.AxisType

	meta    []*scifio.ImageMetadata
	offsets []int // per image: number of axes split out

	// memoryBudget bounds single-fetch plane sizes; fetches larger than
	// this run strip-wise.
	memoryBudget int64

	// single-slot cache of the last parent plane opened
	lastPlane      *scifio.Plane
	lastPlaneIndex int64
	lastImageIndex int
	lastOffsets    []int64
	lastLengths    []int64
}

var _ scifio.Reader = (*PlaneSeparator)(nil)

// NewPlaneSeparator wraps parent, separating the given axis types. X and Y
// cannot be separated.
func NewPlaneSeparator(parent scifio.Reader, types ...scifio.AxisType) (*PlaneSeparator, error) {
	for _, t := range types {
		if t == scifio.AxisX || t == scifio.AxisY {
			return nil, fmt.Errorf("%w: cannot separate axis %s", scifio.ErrInvalidAxisSpec, t)
		}
	}
	ps := &PlaneSeparator{
		parent:         parent,
		types:          types,
		memoryBudget:   math.MaxInt32,
		lastPlaneIndex: -1,
		lastImageIndex: -1,
	}
	ps.deriveMetadata()
	return ps, nil
}

// deriveMetadata moves the separated axis types from the planar prefix to
// the head of the non-planar tail of every image.
func (ps *PlaneSeparator) deriveMetadata() {
	count := ps.parent.ImageCount()
	ps.meta = make([]*scifio.ImageMetadata, count)
	ps.offsets = make([]int, count)
	for i := 0; i < count; i++ {
		parentMeta := ps.parent.Metadata(i)
		if parentMeta.Indexed {
			// palette expansion is a downstream concern; indexed images
			// pass through unchanged
			ps.meta[i] = parentMeta
			continue
		}
		derived := parentMeta.Copy()
		var kept, split []scifio.Axis
		for ai, axis := range derived.Axes[:derived.PlanarAxisCount] {
			if ps.separates(axis.Type) {
				split = append(split, axis)
				if ai < derived.InterleavedAxisCount {
					derived.InterleavedAxisCount--
				}
			} else {
				kept = append(kept, axis)
			}
		}
		tail := derived.Axes[derived.PlanarAxisCount:]
		derived.Axes = append(append(kept, split...), tail...)
		derived.PlanarAxisCount = len(kept)
		ps.meta[i] = derived
		ps.offsets[i] = len(split)
	}
}

func (ps *PlaneSeparator) separates(t scifio.AxisType) bool {
	for _, s := range ps.types {
		if s == t {
			return true
		}
	}
	return false
}

// SetMemoryBudget overrides the single-fetch size bound.
func (ps *PlaneSeparator) SetMemoryBudget(n int64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.memoryBudget = n
}

// SetSource replaces the parent reader and invalidates the cache.
func (ps *PlaneSeparator) SetSource(parent scifio.Reader) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.parent = parent
	ps.deriveMetadata()
	ps.invalidate()
}

func (ps *PlaneSeparator) invalidate() {
	ps.lastPlane = nil
	ps.lastPlaneIndex = -1
	ps.lastImageIndex = -1
	ps.lastOffsets = nil
	ps.lastLengths = nil
}

// Parent returns the wrapped reader.
func (ps *PlaneSeparator) Parent() scifio.Reader { return ps.parent }

func (ps *PlaneSeparator) ImageCount() int { return len(ps.meta) }

func (ps *PlaneSeparator) Metadata(imageIndex int) *scifio.ImageMetadata {
	return ps.meta[imageIndex]
}

func (ps *PlaneSeparator) PlaneCount(imageIndex int) int64 {
	return ps.meta[imageIndex].PlaneCount()
}

func (ps *PlaneSeparator) CurrentName() string { return ps.parent.CurrentName() }

func (ps *PlaneSeparator) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.invalidate()
	return ps.parent.Close()
}

// OriginalIndex maps a virtual plane index to the corresponding plane in
// the unseparated parent.
func (ps *PlaneSeparator) OriginalIndex(imageIndex int, planeIndex int64) int64 {
	meta := ps.meta[imageIndex]
	if meta.PlaneCount() == ps.parent.PlaneCount(imageIndex) {
		return planeIndex
	}
	offset := ps.offsets[imageIndex]
	lengths := meta.AxesLengthsNonPlanar()
	coords := scifio.RasterToPosition(lengths, planeIndex)
	return scifio.PositionToRaster(lengths[offset:], coords[offset:])
}

// OpenPlane assembles the requested virtual plane from its parent plane,
// strip-wise when the parent plane exceeds the memory budget.
func (ps *PlaneSeparator) OpenPlane(imageIndex int, planeIndex int64, offsets, lengths []int64, cfg *scifio.Config) (*scifio.Plane, error) {
	if imageIndex < 0 || imageIndex >= len(ps.meta) {
		return nil, scifio.ErrIndexOutOfRange
	}
	meta := ps.meta[imageIndex]
	if planeIndex < 0 || planeIndex >= meta.PlaneCount() {
		return nil, scifio.ErrIndexOutOfRange
	}
	parentMeta := ps.parent.Metadata(imageIndex)
	if parentMeta.Indexed {
		return ps.parent.OpenPlane(imageIndex, planeIndex, offsets, lengths, cfg)
	}
	if len(offsets) != meta.PlanarAxisCount || len(lengths) != meta.PlanarAxisCount {
		return nil, fmt.Errorf("%w: region rank %d, planar rank %d",
			scifio.ErrInvalidAxisSpec, len(offsets), meta.PlanarAxisCount)
	}

	source := ps.OriginalIndex(imageIndex, planeIndex)
	splitOffset := ps.offsets[imageIndex]
	interleaved := parentMeta.InterleavedAxisCount > 0

	completePosition := scifio.RasterToPosition(meta.AxesLengthsNonPlanar(), planeIndex)
	separatedPosition := completePosition[:splitOffset]
	separatedLengths := meta.AxesLengthsNonPlanar()[:splitOffset]
	bpp := int64(meta.PixelType.BytesPerPixel())

	plane := scifio.NewPlane(meta, offsets, lengths)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.haveCached(source, imageIndex, offsets, lengths) {
		SplitChannels(ps.lastPlane.Bytes, plane.Bytes, separatedPosition, separatedLengths,
			bpp, false, interleaved, int64(len(plane.Bytes)))
		return plane, nil
	}

	parentOffsets, parentLengths := ps.translateRegion(imageIndex, splitOffset, offsets, lengths)

	// strip count: one fetch when the parent plane fits, else sqrt(h)
	// strips of the Y axis
	parentPlaneSize, err := parentMeta.PlaneSize()
	if err != nil {
		return nil, &scifio.OutOfMemoryPlaneError{ImageIndex: imageIndex, PlaneIndex: planeIndex}
	}
	yIdx := meta.AxisIndex(scifio.AxisY)
	h := lengths[yIdx]
	strips := int64(1)
	if parentPlaneSize > ps.memoryBudget || parentPlaneSize > math.MaxInt32 {
		strips = int64(math.Sqrt(float64(h)))
		if strips < 1 {
			strips = 1
		}
	}
	stripHeight := h / strips
	lastStripHeight := stripHeight + (h - stripHeight*strips)
	if stripHeight == 0 {
		strips, stripHeight, lastStripHeight = 1, h, h
	}

	// bytes in one output row-slab (everything but Y)
	rowSizes := []int64{bpp}
	for i, l := range lengths {
		if i != yIdx {
			rowSizes = append(rowSizes, l)
		}
	}
	rowBytes, err := dtools.SafeMultiply32(rowSizes...)
	if err != nil {
		return nil, &scifio.OutOfMemoryPlaneError{ImageIndex: imageIndex, PlaneIndex: planeIndex}
	}

	parentYIdx := parentMeta.AxisIndex(scifio.AxisY)

	var lastFetched *scifio.Plane
	strip := plane.Bytes
	if strips != 1 {
		strip = make([]byte, stripHeight*rowBytes)
	}
	for i := int64(0); i < strips; i++ {
		thisHeight := stripHeight
		if i == strips-1 {
			thisHeight = lastStripHeight
		}
		po := append([]int64(nil), parentOffsets...)
		pl := append([]int64(nil), parentLengths...)
		po[parentYIdx] += i * stripHeight
		pl[parentYIdx] = thisHeight

		fetched, err := ps.parent.OpenPlane(imageIndex, source, po, pl, cfg)
		if err != nil {
			return nil, fmt.Errorf("filters: parent read failed: %w", err)
		}
		lastFetched = fetched

		if strips != 1 && thisHeight != stripHeight {
			strip = make([]byte, thisHeight*rowBytes)
		}
		SplitChannels(fetched.Bytes, strip, separatedPosition, separatedLengths,
			bpp, false, interleaved, int64(len(strip)))
		if strips != 1 {
			copy(plane.Bytes[i*stripHeight*rowBytes:], strip)
		}
	}

	// the cache records the user-requested coordinates; a strip-wise fetch
	// leaves only the last strip in hand, so only single-fetch planes are
	// cached
	if strips == 1 {
		ps.lastPlane = lastFetched
		ps.lastPlaneIndex = source
		ps.lastImageIndex = imageIndex
		ps.lastOffsets = append([]int64(nil), offsets...)
		ps.lastLengths = append([]int64(nil), lengths...)
	} else {
		ps.invalidate()
	}
	return plane, nil
}

// translateRegion converts virtual offsets/lengths into the parent's
// planar coordinate space: axes that remain planar copy through, split
// axes are requested in full.
func (ps *PlaneSeparator) translateRegion(imageIndex, splitOffset int, offsets, lengths []int64) ([]int64, []int64) {
	meta := ps.meta[imageIndex]
	parentMeta := ps.parent.Metadata(imageIndex)

	parentOffsets := make([]int64, len(offsets)+splitOffset)
	parentLengths := make([]int64, len(lengths)+splitOffset)
	for parentIdx, axis := range parentMeta.AxesPlanar() {
		currentIdx := meta.AxisIndex(axis.Type)
		if currentIdx >= 0 && currentIdx < meta.PlanarAxisCount {
			parentOffsets[parentIdx] = offsets[currentIdx]
			parentLengths[parentIdx] = lengths[currentIdx]
		} else {
			// split out of the planar prefix: request the full span
			parentOffsets[parentIdx] = 0
			parentLengths[parentIdx] = axis.Length
		}
	}
	return parentOffsets, parentLengths
}

// haveCached reports an exact cache match: same plane, same image, and
// the same start and end on every axis. Sub-region reuse is not
// supported.
func (ps *PlaneSeparator) haveCached(source int64, imageIndex int, offsets, lengths []int64) bool {
	if ps.lastPlane == nil || ps.lastOffsets == nil || ps.lastLengths == nil {
		return false
	}
	if source != ps.lastPlaneIndex || imageIndex != ps.lastImageIndex {
		return false
	}
	if len(offsets) != len(ps.lastOffsets) {
		return false
	}
	for i := range offsets {
		if offsets[i] != ps.lastOffsets[i] {
			return false
		}
		if offsets[i]+lengths[i] != ps.lastOffsets[i]+ps.lastLengths[i] {
			return false
		}
	}
	return true
}

// OpenThumbPlane projects the separated coordinate out of the parent's
// thumbnail plane. Always a single fetch and a full-plane extract.
func (ps *PlaneSeparator) OpenThumbPlane(imageIndex int, planeIndex int64) (*scifio.Plane, error) {
	if imageIndex < 0 || imageIndex >= len(ps.meta) {
		return nil, scifio.ErrIndexOutOfRange
	}
	meta := ps.meta[imageIndex]
	if planeIndex < 0 || planeIndex >= meta.PlaneCount() {
		return nil, scifio.ErrIndexOutOfRange
	}
	source := ps.OriginalIndex(imageIndex, planeIndex)
	thumb, err := ps.parent.OpenThumbPlane(imageIndex, source)
	if err != nil {
		return nil, fmt.Errorf("filters: parent read failed: %w", err)
	}
	parentMeta := ps.parent.Metadata(imageIndex)
	if parentMeta.Indexed {
		return thumb, nil
	}

	splitOffset := ps.offsets[imageIndex]
	if splitOffset == 0 {
		return thumb, nil
	}
	completePosition := scifio.RasterToPosition(meta.AxesLengthsNonPlanar(), planeIndex)
	separatedPosition := completePosition[:splitOffset]
	separatedLengths := meta.AxesLengthsNonPlanar()[:splitOffset]

	nChannels := int64(1)
	for _, l := range separatedLengths {
		nChannels *= l
	}
	out := make([]byte, int64(len(thumb.Bytes))/nChannels)
	bpp := int64(meta.PixelType.BytesPerPixel())
	interleaved := parentMeta.InterleavedAxisCount > 0
	SplitChannels(thumb.Bytes, out, separatedPosition, separatedLengths,
		bpp, false, interleaved, int64(len(out)))

	thumbMeta := meta.Copy()
	for i := range thumbMeta.Axes {
		switch thumbMeta.Axes[i].Type {
		case scifio.AxisX:
			thumbMeta.Axes[i].Length = thumb.Meta.AxisLength(scifio.AxisX)
		case scifio.AxisY:
			thumbMeta.Axes[i].Length = thumb.Meta.AxisLength(scifio.AxisY)
		}
	}
	offsets := make([]int64, thumbMeta.PlanarAxisCount)
	return &scifio.Plane{
		Bytes:   out,
		Offsets: offsets,
		Lengths: thumbMeta.AxesLengthsPlanar(),
		Meta:    thumbMeta,
	}, nil
}

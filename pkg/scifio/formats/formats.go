// Package formats resolves identifiers to readers and writers. Container
// formats are a closed enumeration dispatched by suffix and magic bytes
// rather than a runtime plugin registry.
package formats

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/RayPlante/scifio/pkg/scifio"
	"github.com/RayPlante/scifio/pkg/scifio/dtools"
	"github.com/RayPlante/scifio/pkg/scifio/filters"
	"github.com/RayPlante/scifio/pkg/scifio/handle"
	"github.com/RayPlante/scifio/pkg/scifio/location"
	"github.com/RayPlante/scifio/pkg/scifio/stream"
	"github.com/RayPlante/scifio/pkg/scifio/tiff"
)

// Format enumerates the supported container formats.
type Format int

const (
	FormatUnknown Format = iota
	FormatTIFF
)

func (f Format) String() string {
	if f == FormatTIFF {
		return "TIFF"
	}
	return "unknown"
}

// ErrUnknownFormat reports an identifier no checker claimed.
var ErrUnknownFormat = errors.New("formats: no format recognizes this dataset")

// tiffSuffixes are the filename extensions the TIFF checker claims.
var tiffSuffixes = []string{"tif", "tiff", "tf2", "tf8", "btf", "ome.tif"}

// Detect identifies the container format of an open source by its magic
// bytes.
func Detect(h handle.Handle) (Format, error) {
	if err := h.Seek(0); err != nil {
		return FormatUnknown, err
	}
	header := make([]byte, 4)
	if err := handle.ReadFully(h, header); err != nil {
		return FormatUnknown, nil
	}
	if err := h.Seek(0); err != nil {
		return FormatUnknown, err
	}

	order := string(header[:2])
	if order != "II" && order != "MM" {
		return FormatUnknown, nil
	}
	little := order == "II"
	magic := dtools.BytesToUint16(header, 2, 2, little)
	if magic == 42 || magic == 43 {
		return FormatTIFF, nil
	}
	return FormatUnknown, nil
}

// DetectName guesses the format from the identifier's suffix alone,
// without opening it.
func DetectName(id string) Format {
	if dtools.CheckSuffix(id, tiffSuffixes...) {
		return FormatTIFF
	}
	return FormatUnknown
}

// Open resolves id through the registry, detects its format, and builds
// the configured reader pipeline on top of the parsed dataset.
func Open(reg *location.Registry, id string, cfg *scifio.Config) (scifio.Reader, error) {
	if cfg == nil {
		cfg = scifio.DefaultConfig()
	}
	h, err := reg.Open(id)
	if err != nil {
		return nil, err
	}
	format, err := Detect(h)
	if err != nil {
		h.Close()
		return nil, err
	}
	if format == FormatUnknown {
		h.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, id)
	}
	slog.Debug("opening dataset", "id", id, "format", format.String())

	reader, err := tiff.NewReader(id, stream.New(h))
	if err != nil {
		h.Close()
		return nil, err
	}

	// filters stack outside-in; the separator has the highest priority of
	// the enabled set
	var out scifio.Reader = reader
	if len(cfg.SeparateAxes) > 0 {
		sep, err := filters.NewPlaneSeparator(out, cfg.SeparateAxes...)
		if err != nil {
			out.Close()
			return nil, err
		}
		out = sep
	}
	return out, nil
}

// CreateTiff opens id for writing and prepares a TIFF writer for the
// given images.
func CreateTiff(id string, images []*scifio.ImageMetadata, cfg *scifio.Config) (scifio.Writer, error) {
	h, err := handle.CreateFile(id)
	if err != nil {
		return nil, err
	}
	w, err := tiff.NewWriter(id, stream.New(h), images, cfg)
	if err != nil {
		h.Close()
		return nil, err
	}
	return w, nil
}

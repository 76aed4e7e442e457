package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/RayPlante/scifio/pkg/scifio"
	"github.com/RayPlante/scifio/pkg/scifio/formats"
	"github.com/RayPlante/scifio/pkg/scifio/location"
)

// NewConvertCmd rewrites a dataset as TIFF or BigTIFF.
func NewConvertCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "read a dataset and rewrite it as TIFF/BigTIFF",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _ := cmd.Flags().GetString("in")
			out, _ := cmd.Flags().GetString("out")
			if in == "" {
				return fmt.Errorf("--in is required")
			}
			if out == "" {
				out = strings.TrimSuffix(in, ".tif") + "-" + uuid.NewString()[:8] + ".tif"
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if compression, _ := cmd.Flags().GetString("compression"); compression != "" {
				cfg.Compression = compression
			}
			if separate, _ := cmd.Flags().GetString("separate"); separate != "" {
				axis, err := scifio.ParseAxisType(separate)
				if err != nil {
					return err
				}
				cfg.SeparateAxes = []scifio.AxisType{axis}
			}

			reg := location.NewRegistry()
			defer reg.Clear()
			r, err := formats.Open(reg, in, cfg)
			if err != nil {
				return err
			}
			defer r.Close()

			images := make([]*scifio.ImageMetadata, r.ImageCount())
			for i := range images {
				images[i] = r.Metadata(i)
			}
			writeCfg := *cfg
			writeCfg.SequentialWrites = true
			w, err := formats.CreateTiff(out, images, &writeCfg)
			if err != nil {
				return err
			}

			for i := 0; i < r.ImageCount(); i++ {
				offsets, lengths := scifio.FullPlaneArgs(r.Metadata(i))
				for p := int64(0); p < r.PlaneCount(i); p++ {
					plane, err := r.OpenPlane(i, p, offsets, lengths, cfg)
					if err != nil {
						w.Close()
						return fmt.Errorf("reading plane %d: %w", p, err)
					}
					if err := w.SavePlane(i, p, plane, offsets, lengths); err != nil {
						w.Close()
						return fmt.Errorf("writing plane %d: %w", p, err)
					}
				}
			}
			if err := w.Close(); err != nil {
				return err
			}
			slog.InfoContext(ctx, "converted dataset", "in", in, "out", out)
			fmt.Println(out)
			return nil
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringP("in", "i", "", "input dataset path or URL")
	pf.StringP("out", "o", "", "output TIFF path (generated when omitted)")
	pf.StringP("compression", "c", "", "codec name (uncompressed|packbits)")
	pf.StringP("separate", "s", "", "axis type to separate before writing (e.g. Channel)")
	return cmd
}

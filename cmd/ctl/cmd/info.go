package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/RayPlante/scifio/pkg/scifio/formats"
	"github.com/RayPlante/scifio/pkg/scifio/location"
)

// imageInfo is the JSON shape emitted per image.
type imageInfo struct {
	PixelType    string     `json:"pixelType"`
	LittleEndian bool       `json:"littleEndian"`
	Indexed      bool       `json:"indexed"`
	PlaneCount   int64      `json:"planeCount"`
	Axes         []axisInfo `json:"axes"`
}

type axisInfo struct {
	Type   string  `json:"type"`
	Length int64   `json:"length"`
	Planar bool    `json:"planar"`
	Scale  float64 `json:"scale,omitempty"`
	Unit   string  `json:"unit,omitempty"`
}

// NewInfoCmd dumps dataset metadata.
func NewInfoCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "parse a dataset and dump its metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("uri")
			if id == "" {
				return fmt.Errorf("--uri is required")
			}
			reg := location.NewRegistry()
			defer reg.Clear()

			r, err := formats.Open(reg, id, nil)
			if err != nil {
				return err
			}
			defer r.Close()

			var infos []imageInfo
			for i := 0; i < r.ImageCount(); i++ {
				m := r.Metadata(i)
				info := imageInfo{
					PixelType:    m.PixelType.String(),
					LittleEndian: m.LittleEndian,
					Indexed:      m.Indexed,
					PlaneCount:   m.PlaneCount(),
				}
				for ai, a := range m.Axes {
					info.Axes = append(info.Axes, axisInfo{
						Type:   a.Type.String(),
						Length: a.Length,
						Planar: ai < m.PlanarAxisCount,
						Scale:  a.Scale,
						Unit:   a.Unit,
					})
				}
				infos = append(infos, info)
			}

			switch format, _ := cmd.Flags().GetString("format"); format {
			case "text":
				for i, info := range infos {
					fmt.Printf("image %d: %s, %d planes\n", i, info.PixelType, info.PlaneCount)
					for _, a := range info.Axes {
						fmt.Printf("  %s=%d planar=%v\n", a.Type, a.Length, a.Planar)
					}
				}
			default:
				j, err := json.Marshal(infos)
				if err != nil {
					return err
				}
				os.Stdout.Write(j)
				fmt.Println()
			}
			return nil
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringP("uri", "u", "", "dataset path or URL")
	pf.StringP("format", "f", "json", "output format (text|json)")
	return cmd
}

// NewListCmd lists directory contents through the location registry.
func NewListCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "list a local or URL directory through the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hidden, _ := cmd.Flags().GetBool("hidden")
			reg := location.NewRegistry()
			defer reg.Clear()
			names, err := reg.List(args[0], hidden)
			if err != nil {
				return err
			}
			for _, name := range names {
				if formats.DetectName(name) != formats.FormatUnknown {
					fmt.Printf("%s\t(%s)\n", name, formats.DetectName(name))
					continue
				}
				fmt.Println(name)
			}
			return nil
		},
	}
	cmd.Flags().Bool("hidden", false, "include hidden entries")
	return cmd
}

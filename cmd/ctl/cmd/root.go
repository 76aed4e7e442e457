package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/RayPlante/scifio/pkg/logging"
	"github.com/RayPlante/scifio/pkg/scifio"
)

// fileConfig is the YAML configuration loaded via --config.
type fileConfig struct {
	LogLevel     string `yaml:"log_level"`
	Compression  string `yaml:"compression"`
	LittleEndian *bool  `yaml:"little_endian"`
	BigTiff      *bool  `yaml:"big_tiff"`
}

func NewRoot(ctx context.Context, gitsha string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scifioctl",
		Short: "a CLI to inspect and convert scientific image datasets",
		Long:  "scifioctl parses TIFF/BigTIFF datasets, dumps their metadata, and rewrites them",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// the boot logger from main stays in place unless the flag
			// asks for a different level
			if !cmd.Flags().Changed("log-level") {
				return
			}
			logLevel, _ := cmd.Flags().GetString("log-level")
			var level slog.Level
			if err := level.UnmarshalText([]byte(strings.ToUpper(logLevel))); err != nil {
				level = slog.LevelInfo
				slog.WarnContext(ctx, "Invalid log level, defaulting to INFO", "level", logLevel, "error", err)
			}
			if path := os.Getenv("SCIFIO_LOG_FILE"); path != "" {
				slog.SetDefault(logging.FileLogger(path, true, level))
			} else {
				slog.SetDefault(logging.Logger(os.Stderr, false, level))
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			printCommandTree(cmd, 0)
		},
	}
	cmd.AddCommand(
		NewVersionCmd(ctx, gitsha),
		NewInfoCmd(ctx),
		NewConvertCmd(ctx),
		NewListCmd(ctx),
	)
	pf := cmd.PersistentFlags()
	pf.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	pf.String("config", "", "YAML config file with writer defaults")
	return cmd
}

func printCommandTree(cmd *cobra.Command, indent int) {
	fmt.Println(strings.Repeat("\t", indent), cmd.Use+":", cmd.Short)
	for _, subCmd := range cmd.Commands() {
		printCommandTree(subCmd, indent+1)
	}
}

func NewVersionCmd(ctx context.Context, gitsha string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "git sha for this build",
		Long:  "git sha for this build",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(gitsha)
		},
	}
	return cmd
}

// loadConfig merges the YAML config file (if given) into a Config.
func loadConfig(cmd *cobra.Command) (*scifio.Config, error) {
	cfg := scifio.DefaultConfig()
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Compression = fc.Compression
	if fc.LittleEndian != nil {
		cfg.LittleEndian = *fc.LittleEndian
	}
	cfg.BigTiff = fc.BigTiff
	return cfg, nil
}

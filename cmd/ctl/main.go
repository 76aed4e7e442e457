package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cmd "github.com/RayPlante/scifio/cmd/ctl/cmd"
	"github.com/RayPlante/scifio/pkg/logging"
)

var GitSHA = "NA"

// bootLogger builds the startup logger before flags are parsed. The
// SCIFIO_LOG_LEVEL and SCIFIO_LOG_FILE environment variables let batch
// jobs redirect logs without touching the command line; --log-level
// still overrides the level once the root command runs.
func bootLogger() *slog.Logger {
	level := slog.LevelInfo
	if v := os.Getenv("SCIFIO_LOG_LEVEL"); v != "" {
		if err := level.UnmarshalText([]byte(strings.ToUpper(v))); err != nil {
			level = slog.LevelInfo
		}
	}
	if path := os.Getenv("SCIFIO_LOG_FILE"); path != "" {
		return logging.FileLogger(path, true, level)
	}
	return logging.Logger(os.Stderr, false, level)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.SetDefault(bootLogger())
	ctx = logging.AppendCtx(ctx,
		slog.String("tool", "scifioctl"),
		slog.String("git", GitSHA),
	)

	if err := cmd.NewRoot(ctx, GitSHA).ExecuteContext(ctx); err != nil {
		slog.ErrorContext(ctx, "command failed", "error", err)
		os.Exit(1)
	}
}

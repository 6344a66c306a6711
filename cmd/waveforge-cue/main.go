package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
)

const appVersion = "0.1.0"

func main() {
	ctx := context.Background()

	appl := &cli.Command{
		Name:    "waveforge-cue",
		Usage:   "Split a cue sheet's referenced audio into one filter-chained file per track",
		Version: appVersion,
		Commands: []*cli.Command{
			splitCommand(),
		},
	}

	if err := appl.Run(ctx, os.Args); err != nil {
		slog.Error("failed to run", "error", err)
		os.Exit(1)
	}
}

//nolint:wrapcheck
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/farcloser/waveforge"
	"github.com/farcloser/waveforge/internal/cue"
)

var errSplitArgs = errors.New("expected exactly one argument: cue sheet path")

func splitCommand() *cli.Command {
	return &cli.Command{
		Name:      "split",
		Usage:     "Arrange a cue sheet's tracks and write one output file per track",
		ArgsUsage: "<sheet.cue>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out-dir", Aliases: []string{"o"}, Usage: "Output directory", Value: "."},
			&cli.StringFlag{
				Name: "template", Value: "${TRACK} ${TITLE}.wav",
				Usage: "Output filename template, substituting ${TAG} placeholders",
			},
			&cli.StringFlag{Name: "gain", Usage: "Linear multiplier or signed dB value applied to every track"},
			&cli.IntFlag{Name: "bits", Usage: "Target integer bit depth (0 keeps the float-staged domain)"},
			&cli.BoolFlag{Name: "dither", Usage: "Apply TPDF dither when quantizing"},
			&cli.BoolFlag{Name: "limit", Usage: "Enable the soft-clip limiter on every track"},
			&cli.StringFlag{
				Name: "container", Value: "wav",
				Usage: "Output container for every track: wav, adts, mp4",
			},
			&cli.StringFlag{Name: "codec", Value: "aac", Usage: "MP4/ADTS payload codec: aac, alac"},
			&cli.IntFlag{Name: "bitrate", Usage: "Encoder bitrate in bps (0 lets the encoder choose)"},
			&cli.StringFlag{Name: "gapless", Value: "none", Usage: "MP4 gapless signalling: none, itunsmpb, editlist, both"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return fmt.Errorf("%w: got %d", errSplitArgs, cmd.NArg())
			}

			return runSplit(ctx, cmd, cmd.Args().First())
		},
	}
}

func runSplit(ctx context.Context, cmd *cli.Command, sheetPath string) error {
	f, err := os.Open(sheetPath) //nolint:gosec // CLI tool reads the user-specified cue sheet path
	if err != nil {
		return fmt.Errorf("opening %s: %w", sheetPath, err)
	}

	sheet, err := cue.Parse(f)
	f.Close()

	if err != nil {
		return fmt.Errorf("parsing cue sheet %s: %w", sheetPath, err)
	}

	baseDir := filepath.Dir(sheetPath)

	tracks, err := cue.BuildTracks(ctx, sheet, baseDir, cmd.String("template"))
	if err != nil {
		return fmt.Errorf("arranging tracks: %w", err)
	}

	cfg, err := trackConfig(cmd)
	if err != nil {
		return err
	}

	outDir := cmd.String("out-dir")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory %s: %w", outDir, err)
	}

	for i, t := range tracks {
		if err := writeTrack(ctx, t, outDir, cfg); err != nil {
			// writeTrack always closes t.Source itself (directly on an
			// assembly failure, via the deferred chain.Close() on any
			// later failure); only the not-yet-attempted tracks still
			// need their sources released here.
			for _, remaining := range tracks[i+1:] {
				remaining.Source.Close()
			}

			return fmt.Errorf("track %d: %w", t.Number, err)
		}
	}

	return nil
}

func writeTrack(ctx context.Context, t cue.TrackResult, outDir string, cfg waveforge.Config) error {
	chain, err := waveforge.Assemble(t.Source, cfg)
	if err != nil {
		t.Source.Close()

		return fmt.Errorf("assembling filter chain: %w", err)
	}
	defer chain.Close()

	outPath := filepath.Join(outDir, t.Filename)

	out, err := os.Create(outPath) //nolint:gosec // CLI tool writes to the templated, user-controlled output path
	if err != nil {
		return fmt.Errorf("creating %s: %w", outPath, err)
	}
	defer out.Close()

	cfg.MP4Options.Tags = t.Tags

	if cfg.Sink == waveforge.SinkWAV {
		sink, err := waveforge.NewWAVSink(out, chain.Format())
		if err != nil {
			return fmt.Errorf("opening WAV sink: %w", err)
		}

		return waveforge.Run(ctx, chain, sink)
	}

	sink, err := waveforge.NewMP4Sink(out, chain.Format(), cfg.MP4Options)
	if err != nil {
		return fmt.Errorf("opening MP4/ADTS sink: %w", err)
	}

	return waveforge.RunEncoded(ctx, chain, sink)
}

func trackConfig(cmd *cli.Command) (waveforge.Config, error) {
	var cfg waveforge.Config

	if g := cmd.String("gain"); g != "" {
		gain, err := waveforge.ParseGain(g)
		if err != nil {
			return cfg, fmt.Errorf("parsing --gain: %w", err)
		}

		cfg.GainLinear = gain
	}

	if cmd.IsSet("bits") {
		cfg.TargetBits = cmd.Int("bits")
		cfg.Dither = cmd.Bool("dither")
	}

	cfg.Limit = cmd.Bool("limit")

	var opts waveforge.MP4Options

	switch strings.ToLower(cmd.String("container")) {
	case "wav", "":
		cfg.Sink = waveforge.SinkWAV

		return cfg, nil
	case "adts":
		opts.Container = waveforge.ContainerADTS
		cfg.Sink = waveforge.SinkADTS
	case "mp4":
		opts.Container = waveforge.ContainerMP4
		cfg.Sink = waveforge.SinkMP4AAC
	default:
		return cfg, fmt.Errorf("unrecognized --container %q", cmd.String("container"))
	}

	switch strings.ToLower(cmd.String("codec")) {
	case "aac", "":
		opts.Codec = waveforge.AAC
	case "alac":
		opts.Codec = waveforge.ALAC

		if opts.Container == waveforge.ContainerMP4 {
			cfg.Sink = waveforge.SinkMP4ALAC
		}
	default:
		return cfg, fmt.Errorf("unrecognized --codec %q", cmd.String("codec"))
	}

	opts.Bitrate = cmd.Int("bitrate")

	switch strings.ToLower(cmd.String("gapless")) {
	case "none", "":
		opts.Gapless = waveforge.GaplessNone
	case "itunsmpb":
		opts.Gapless = waveforge.GaplessITunSMPB
	case "editlist":
		opts.Gapless = waveforge.GaplessEditList
	case "both":
		opts.Gapless = waveforge.GaplessBoth
	default:
		return cfg, fmt.Errorf("unrecognized --gapless %q", cmd.String("gapless"))
	}

	cfg.MP4Options = opts

	return cfg, nil
}

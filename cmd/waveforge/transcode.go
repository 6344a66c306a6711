//nolint:wrapcheck
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/farcloser/waveforge"
)

var errTranscodeArgs = errors.New("expected exactly two arguments: input and output path")

func transcodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "transcode",
		Usage:     "Decode, filter and re-encode one audio file",
		ArgsUsage: "<input> <output>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Persisted-defaults config file to seed options from"},
			&cli.BoolFlag{Name: "ignore-length", Usage: "Treat a WAV data chunk of size 0xFFFFFFFF as unknown length"},
			&cli.IntFlag{Name: "raw-rate", Usage: "Sample rate for headerless raw PCM input"},
			&cli.IntFlag{Name: "raw-channels", Usage: "Channel count for headerless raw PCM input"},
			&cli.IntFlag{Name: "raw-bits", Usage: "Bits per sample for headerless raw PCM input", Value: 16},

			&cli.StringFlag{Name: "channel-map", Usage: "Comma-separated 1-based output channel order, e.g. 2,1"},

			&cli.StringFlag{Name: "matrix", Usage: "Named preset (mono, stereo, ...) or path to a matrix file"},
			&cli.BoolFlag{Name: "matrix-normalize", Usage: "Normalize matrix row gains so no channel can clip"},

			&cli.Float64Flag{Name: "lowpass", Usage: "Anti-aliasing low-pass cutoff in Hz, applied only when downsampling"},
			&cli.IntFlag{Name: "lowpass-taps", Usage: "FIR tap count for --lowpass (0 selects the package default)"},

			&cli.IntFlag{Name: "rate", Usage: "Output sample rate (0 keeps the source rate)"},
			&cli.IntFlag{Name: "quality", Usage: "Resample quality, 1-4", Value: 4},

			&cli.StringFlag{Name: "gain", Usage: "Linear multiplier or signed dB value, e.g. +3dB or 0.5"},

			&cli.BoolFlag{Name: "compress", Usage: "Enable the knee compressor"},
			&cli.Float64Flag{Name: "threshold", Usage: "Compressor threshold in dBFS", Value: -18},
			&cli.Float64Flag{Name: "ratio", Usage: "Compressor ratio, N:1", Value: 4},
			&cli.Float64Flag{Name: "knee", Usage: "Compressor knee width in dB", Value: 6},
			&cli.Float64Flag{Name: "attack", Usage: "Compressor attack time in seconds", Value: 0.01},
			&cli.Float64Flag{Name: "release", Usage: "Compressor release time in seconds", Value: 0.1},

			&cli.BoolFlag{Name: "limit", Usage: "Enable the soft-clip limiter"},

			&cli.IntFlag{Name: "bits", Usage: "Target integer bit depth (0 keeps the float-staged domain)"},
			&cli.BoolFlag{Name: "dither", Usage: "Apply TPDF dither when quantizing"},
			&cli.IntFlag{Name: "dither-seed", Usage: "Deterministic dither seed (0 included: the same seed always gives the same dither)"},

			&cli.StringFlag{Name: "trim-start", Usage: "Trim start, as a frame count"},
			&cli.StringFlag{Name: "trim-duration", Usage: "Trim duration in frames (0 runs to end of source)"},

			&cli.StringFlag{
				Name: "container", Value: "wav",
				Usage: "Output container: wav, adts, mp4",
			},
			&cli.StringFlag{
				Name: "codec", Value: "aac",
				Usage: "MP4/ADTS payload codec: aac, alac",
			},
			&cli.IntFlag{Name: "bitrate", Usage: "Encoder bitrate in bps (0 lets the encoder choose)"},
			&cli.StringFlag{
				Name: "gapless", Value: "none",
				Usage: "MP4 gapless signalling: none, itunsmpb, editlist, both",
			},
			&cli.IntFlag{Name: "edit-start", Usage: "Encoder-delay samples trimmed from the front for gapless playback"},
			&cli.IntFlag{Name: "edit-end", Usage: "Encoder-padding samples trimmed from the back for gapless playback"},
			&cli.BoolFlag{Name: "optimize", Usage: "Re-mux moov-first after the initial MP4 write"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 2 {
				return fmt.Errorf("%w: got %d", errTranscodeArgs, cmd.NArg())
			}

			return runTranscode(ctx, cmd, cmd.Args().Get(0), cmd.Args().Get(1))
		},
	}
}

func runTranscode(ctx context.Context, cmd *cli.Command, inPath, outPath string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	opts := waveforge.OpenOptions{IgnoreLength: cmd.Bool("ignore-length")}

	if cmd.IsSet("raw-rate") || cmd.IsSet("raw-channels") {
		f := waveforge.StreamFormat{
			SampleRate:             cmd.Int("raw-rate"),
			Channels:               cmd.Int("raw-channels"),
			Encoding:               waveforge.SignedInt,
			BitsPerSample:          cmd.Int("raw-bits"),
			ContainerBitsPerSample: roundUpToByte(cmd.Int("raw-bits")),
			ByteOrder:              waveforge.LittleEndian,
		}
		opts.RawFormat = &f
	}

	src, err := waveforge.OpenSource(ctx, inPath, opts)
	if err != nil {
		return fmt.Errorf("opening %s: %w", inPath, err)
	}

	chain, err := waveforge.Assemble(src, cfg)
	if err != nil {
		src.Close()

		return fmt.Errorf("assembling filter chain: %w", err)
	}
	defer chain.Close()

	out, err := os.Create(outPath) //nolint:gosec // CLI tool writes to the user-specified output path
	if err != nil {
		return fmt.Errorf("creating %s: %w", outPath, err)
	}
	defer out.Close()

	return writeOutput(ctx, chain, out, cfg)
}

func writeOutput(ctx context.Context, chain waveforge.Source, out *os.File, cfg waveforge.Config) error {
	switch cfg.Sink {
	case waveforge.SinkWAV:
		sink, err := waveforge.NewWAVSink(out, chain.Format())
		if err != nil {
			return fmt.Errorf("opening WAV sink: %w", err)
		}

		return waveforge.Run(ctx, chain, sink)
	default:
		sink, err := waveforge.NewMP4Sink(out, chain.Format(), cfg.MP4Options)
		if err != nil {
			return fmt.Errorf("opening MP4/ADTS sink: %w", err)
		}

		return waveforge.RunEncoded(ctx, chain, sink)
	}
}

func buildConfig(cmd *cli.Command) (waveforge.Config, error) {
	var cfg waveforge.Config

	if path := cmd.String("config"); path != "" {
		f, err := os.Open(path) //nolint:gosec // CLI tool reads the user-specified config path
		if err != nil {
			return cfg, fmt.Errorf("opening config file %s: %w", path, err)
		}

		cfg, err = waveforge.LoadConfigFile(f)
		f.Close()

		if err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if cmd.IsSet("trim-start") || cmd.IsSet("trim-duration") {
		cfg.Trim = true

		if cmd.IsSet("trim-start") {
			n, err := strconv.ParseInt(cmd.String("trim-start"), 10, 64)
			if err != nil {
				return cfg, fmt.Errorf("parsing --trim-start: %w", err)
			}

			cfg.TrimStart = n
		}

		cfg.TrimDuration = waveforge.Infinite

		if cmd.IsSet("trim-duration") {
			n, err := strconv.ParseInt(cmd.String("trim-duration"), 10, 64)
			if err != nil {
				return cfg, fmt.Errorf("parsing --trim-duration: %w", err)
			}

			if n > 0 {
				cfg.TrimDuration = n
			}
		}
	}

	if m := cmd.String("channel-map"); m != "" {
		mapping, err := parseChannelMap(m)
		if err != nil {
			return cfg, err
		}

		cfg.ChannelMap = mapping
	}

	if name := cmd.String("matrix"); name != "" {
		matrix, err := resolveMatrix(name)
		if err != nil {
			return cfg, err
		}

		cfg.Matrix = matrix
		cfg.MatrixNormalize = cmd.Bool("matrix-normalize")
	}

	if cmd.IsSet("lowpass") {
		cfg.LowpassHz = cmd.Float64("lowpass")
		cfg.LowpassTaps = cmd.Int("lowpass-taps")
	}

	if cmd.IsSet("rate") {
		cfg.OutputRate = cmd.Int("rate")
	}

	cfg.ResampleQuality = waveforge.Quality(cmd.Int("quality"))

	if g := cmd.String("gain"); g != "" {
		gain, err := waveforge.ParseGain(g)
		if err != nil {
			return cfg, fmt.Errorf("parsing --gain: %w", err)
		}

		cfg.GainLinear = gain
	}

	if cmd.Bool("compress") {
		cfg.Compress = true
		cfg.Compressor = waveforge.CompressorParams{
			ThresholdDB: cmd.Float64("threshold"),
			RatioToOne:  cmd.Float64("ratio"),
			KneeWidthDB: cmd.Float64("knee"),
			AttackSec:   cmd.Float64("attack"),
			ReleaseSec:  cmd.Float64("release"),
		}
	}

	cfg.Limit = cmd.Bool("limit")

	if cmd.IsSet("bits") {
		cfg.TargetBits = cmd.Int("bits")
		cfg.Dither = cmd.Bool("dither")
		cfg.DitherSeed = int64(cmd.Int("dither-seed"))
	}

	sink, mp4opts, err := resolveSink(cmd)
	if err != nil {
		return cfg, err
	}

	cfg.Sink = sink
	cfg.MP4Options = mp4opts

	return cfg, nil
}

func resolveSink(cmd *cli.Command) (waveforge.SinkKind, waveforge.MP4Options, error) {
	var opts waveforge.MP4Options

	switch strings.ToLower(cmd.String("container")) {
	case "wav", "":
		return waveforge.SinkWAV, opts, nil
	case "adts":
		opts.Container = waveforge.ContainerADTS
	case "mp4":
		opts.Container = waveforge.ContainerMP4
	default:
		return 0, opts, fmt.Errorf("unrecognized --container %q", cmd.String("container"))
	}

	switch strings.ToLower(cmd.String("codec")) {
	case "aac", "":
		opts.Codec = waveforge.AAC
	case "alac":
		opts.Codec = waveforge.ALAC
	default:
		return 0, opts, fmt.Errorf("unrecognized --codec %q", cmd.String("codec"))
	}

	opts.Bitrate = cmd.Int("bitrate")
	opts.Optimize = cmd.Bool("optimize")
	opts.EditStart = int64(cmd.Int("edit-start"))
	opts.EditEnd = int64(cmd.Int("edit-end"))

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
		return 0, opts, fmt.Errorf("unrecognized --gapless %q", cmd.String("gapless"))
	}

	sink := waveforge.SinkADTS
	if opts.Container == waveforge.ContainerMP4 {
		sink = waveforge.SinkMP4AAC
		if opts.Codec == waveforge.ALAC {
			sink = waveforge.SinkMP4ALAC
		}
	}

	return sink, opts, nil
}

func parseChannelMap(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	mapping := make([]int, len(parts))

	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("parsing --channel-map %q: %w", s, err)
		}

		mapping[i] = n
	}

	return mapping, nil
}

func resolveMatrix(name string) (waveforge.Matrix, error) {
	if preset, ok := waveforge.MatrixPresets[name]; ok {
		return preset, nil
	}

	f, err := os.Open(name) //nolint:gosec // CLI tool reads the user-specified matrix path
	if err != nil {
		return nil, fmt.Errorf("opening matrix %q: %w", name, err)
	}
	defer f.Close()

	matrix, err := waveforge.LoadMatrixFile(f)
	if err != nil {
		return nil, fmt.Errorf("parsing matrix file %q: %w", name, err)
	}

	return matrix, nil
}

func roundUpToByte(bits int) int {
	return ((bits + 7) / 8) * 8
}

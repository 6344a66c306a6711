package waveforge

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/farcloser/waveforge/internal/dsp/compressor"
	"github.com/farcloser/waveforge/internal/dsp/scaler"
	"github.com/farcloser/waveforge/internal/errs"
	"github.com/farcloser/waveforge/internal/integration/ratekernel"
	"github.com/farcloser/waveforge/internal/sink/mp4"
)

// Re-exports so a Config can be built without reaching into internal/*
// (same root-package re-export habit as the StreamFormat/error aliases
// in contracts.go).
type (
	Quality        = ratekernel.Quality
	CompressorParams = compressor.Params
	SidechainSink  = compressor.SidechainSink
	Container      = mp4.Container
	Codec          = mp4.Codec
	GaplessMode    = mp4.GaplessMode
)

const (
	ContainerADTS = mp4.ContainerADTS
	ContainerMP4  = mp4.ContainerMP4

	AAC  = mp4.AAC
	ALAC = mp4.ALAC

	GaplessNone     = mp4.GaplessNone
	GaplessITunSMPB = mp4.GaplessITunSMPB
	GaplessEditList = mp4.GaplessEditList
	GaplessBoth     = mp4.GaplessBoth
)

// ParseGain accepts a bare linear multiplier or a signed dB value
// ("+3dB"/"-6dB").
func ParseGain(s string) (float64, error) {
	return scaler.ParseGain(s)
}

// SinkKind selects which sink the assembler attaches.
type SinkKind int

const (
	SinkWAV SinkKind = iota
	SinkADTS
	SinkMP4AAC
	SinkMP4ALAC
)

// Config drives the pipeline assembler: each DSP stage is conditional
// on its own trigger field, stacked in a fixed order regardless of the
// order fields are set here.
type Config struct {
	// 1. Trimmer.
	Trim         bool
	TrimStart    int64
	TrimDuration int64 // structural.Infinite means "until EOF"

	// 2. ChannelMapper (step 2).
	ChannelMap []int // 1-based permutation; nil/empty skips this stage

	// 3. Matrix mixer (step 3).
	Matrix          Matrix // nil skips this stage
	MatrixNormalize bool

	// 4. Low-pass FIR (step 4, only meaningful when downsampling).
	LowpassHz   float64 // <= 0 skips this stage
	LowpassTaps int     // <= 0 selects the package default

	// 5. Resampler (step 5; skipped when OutputRate == 0 or equals
	// the upstream's current rate at assembly time).
	OutputRate      int
	ResampleQuality Quality

	// 6. Scaler (step 6).
	GainLinear float64 // 0 or 1 skips this stage; use ParseGain for string input

	// 7. Compressor (step 7).
	Compress   bool
	Compressor CompressorParams

	// 8. Limiter (step 8).
	Limit bool

	// 9. Quantizer (step 9; applied only when TargetBits > 0 — with
	// TargetBits == 0 the float-staged stream reaches the sink as is).
	TargetBits int
	Dither     bool
	DitherSeed int64

	// Sink selection.
	Sink        SinkKind
	MP4Options  mp4.Options // Container/Codec/Bitrate/Gapless/Tags/Optimize, for SinkMP4AAC/SinkMP4ALAC/SinkADTS
}

// LoadConfigFile reads a qaac-style persisted-defaults file (SPEC_FULL.md
// "supplemented features", from original_source/'s configfile.cpp):
// line-oriented "key=value" pairs, "#"-prefixed comment lines, blank
// lines ignored. It seeds the subset of Config that maps onto simple
// scalars; Matrix/ChannelMap/MP4Options are left for the caller to set
// from their own flag parsing since they don't have a single obvious
// scalar encoding.
func LoadConfigFile(r io.Reader) (Config, error) {
	var cfg Config

	scanner := bufio.NewScanner(r)

	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return cfg, fmt.Errorf("%w: config file line %d: missing '='", errs.ErrMalformedContainer, lineNo)
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if err := applyConfigKey(&cfg, key, value); err != nil {
			return cfg, fmt.Errorf("%w: config file line %d: %w", errs.ErrMalformedContainer, lineNo, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	return cfg, nil
}

func applyConfigKey(cfg *Config, key, value string) error {
	switch key {
	case "rate":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}

		cfg.OutputRate = n
	case "bits":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}

		cfg.TargetBits = n
	case "dither":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}

		cfg.Dither = b
	case "gain":
		g, err := scaler.ParseGain(value)
		if err != nil {
			return err
		}

		cfg.GainLinear = g
	case "limiter":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}

		cfg.Limit = b
	case "lowpass":
		hz, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}

		cfg.LowpassHz = hz
	case "bitrate":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}

		cfg.MP4Options.Bitrate = n
	default:
		return fmt.Errorf("unrecognized config key %q", key)
	}

	return nil
}

package waveforge

import (
	"github.com/farcloser/waveforge/internal/dsp/compressor"
	"github.com/farcloser/waveforge/internal/dsp/limiter"
	"github.com/farcloser/waveforge/internal/dsp/lowpass"
	"github.com/farcloser/waveforge/internal/dsp/mixer"
	"github.com/farcloser/waveforge/internal/dsp/quantize"
	"github.com/farcloser/waveforge/internal/dsp/resample"
	"github.com/farcloser/waveforge/internal/dsp/scaler"
	"github.com/farcloser/waveforge/internal/floatstage"
	"github.com/farcloser/waveforge/internal/source/structural"
)

// Infinite marks a Trimmer duration that runs "until EOF", re-exported from internal/source/structural.
const Infinite = structural.Infinite

// Assemble stacks filters on top of src in a fixed, deterministic
// order, each stage conditional on its own Config trigger, and returns the filter chain's final Source ready to be
// pulled by a Sink. Construction failures classified ErrInvalidMatrix,
// ErrRangeError or ErrUnsupportedFormat leave no partially-built stage
// reachable: each constructor either returns a ready Stage or an error,
// and Assemble stops at the first error without wrapping a dangling
// upstream around anything.
func Assemble(src Source, cfg Config) (Source, error) {
	cur := src

	// 1. Trimmer.
	if cfg.Trim {
		t, err := structural.NewTrimmer(cur, cfg.TrimStart, cfg.TrimDuration)
		if err != nil {
			return nil, err
		}

		cur = t
	}

	// 2. ChannelMapper. Config.ChannelMap uses 1-based indices over
	// the input channel count, the convention cue tools expose; the
	// structural package's permutation vector is 0-based, so Assemble
	// translates at this one boundary rather than pushing the CLI's
	// indexing convention down into the filter implementation.
	if len(cfg.ChannelMap) > 0 {
		zeroBased := make([]int, len(cfg.ChannelMap))
		for i, p := range cfg.ChannelMap {
			zeroBased[i] = p - 1
		}

		cm, err := structural.NewChannelMapper(cur, zeroBased)
		if err != nil {
			return nil, err
		}

		cur = cm
	}

	// The universal float-domain staging happens once,
	// here, ahead of every arithmetic stage — matrix mixer through
	// quantizer all assume (or guarantee) a float32 upstream.
	cur = floatstage.New(cur)

	// 3. Matrix mixer.
	if cfg.Matrix != nil {
		m, err := mixer.New(cur, cfg.Matrix, cfg.MatrixNormalize)
		if err != nil {
			return nil, err
		}

		cur = m
	}

	// 4. Low-pass FIR, only when downsampling.
	downsampling := cfg.OutputRate > 0 && cfg.OutputRate < cur.Format().SampleRate
	if cfg.LowpassHz > 0 && downsampling {
		lp, err := lowpass.New(cur, cfg.LowpassHz, cfg.LowpassTaps)
		if err != nil {
			return nil, err
		}

		cur = lp
	}

	// 5. Resampler.
	if cfg.OutputRate > 0 && cfg.OutputRate != cur.Format().SampleRate {
		rs, err := resample.New(cur, cfg.OutputRate, cfg.ResampleQuality)
		if err != nil {
			return nil, err
		}

		cur = rs
	}

	// 6. Scaler.
	if cfg.GainLinear != 0 && cfg.GainLinear != 1 {
		cur = scaler.New(cur, cfg.GainLinear)
	}

	// 7. Compressor.
	if cfg.Compress {
		cur = compressor.New(cur, cfg.Compressor)
	}

	// 8. Limiter.
	if cfg.Limit {
		cur = limiter.New(cur)
	}

	// 9. Quantizer, only when output needs a narrower integer depth
	// or a float/int domain change; TargetBits
	// == 0 with the stream already in float keeps the float-staged
	// passthrough as-is.
	if cfg.TargetBits > 0 {
		q, err := quantize.New(cur, cfg.TargetBits, cfg.Dither, cfg.DitherSeed)
		if err != nil {
			return nil, err
		}

		cur = q
	}

	// 10. Endian converter: never needed inside the graph — the WAV sink byte-swaps at its own boundary,
	// and the MP4/ADTS sink consumes encoded bitstream frames, not
	// raw PCM, so there is no in-graph stage to insert here.

	return cur, nil
}

// Package quantize implements the dither quantizer:
// float or higher-bit integer input narrowed to a target integer depth,
// with optional TPDF dither, or passed through to float output with only
// anti-denormal conditioning.
package quantize

import (
	"math"
	"math/rand"

	"github.com/farcloser/waveforge/internal/floatstage"
	"github.com/farcloser/waveforge/internal/format"
)

// Chapter is an alias of format.Chapter (see internal/source/wav's
// identical note on why every package shares the same underlying type).
type Chapter = format.Chapter

// Source is the narrowed upstream contract (avoids an import cycle with
// the root package).
type Source interface {
	Format() format.StreamFormat
	Length() (int64, bool)
	Seekable() bool
	Seek(int64) error
	ReadFrames([]byte, int) (int, error)
	Tags() map[string]string
	Chapters() []Chapter
	Close() error
}

// maxDitherDepth is the depth cutoff: dither is only ever applied at or
// below 18 bits, where the quantization step is coarse enough to hear.
const maxDitherDepth = 18

// Stage narrows an upstream stream to TargetBits (or passes through to
// float), optionally applying TPDF dither.
type Stage struct {
	upstream Source
	in       format.StreamFormat
	out      format.StreamFormat
	dither   bool
	rng      *rand.Rand

	scratchFloat []float32
	scratchBytes []byte
}

// New builds a quantizer. targetBits is the semantic output bit depth
// for integer output, or 0 to request float output (only anti-denormal
// conditioning is applied in that case). dither is honored only when
// targetBits <= 18. seed makes dither reproducible
// per-sink.
func New(upstream Source, targetBits int, dither bool, seed int64) (*Stage, error) {
	in := upstream.Format()

	out := in
	if targetBits == 0 {
		out.Encoding = format.Float
		out.BitsPerSample = 32
		out.ContainerBitsPerSample = 32
	} else {
		out.Encoding = format.SignedInt
		out.BitsPerSample = targetBits
		out.ContainerBitsPerSample = containerWidth(targetBits)
	}

	out.ByteOrder = format.LittleEndian

	if err := out.Validate(); err != nil {
		return nil, err
	}

	return &Stage{
		upstream: upstream,
		in:       in,
		out:      out,
		dither:   dither && targetBits > 0 && targetBits <= maxDitherDepth,
		rng:      rand.New(rand.NewSource(seed)), //nolint:gosec // dither RNG is explicitly non-cryptographic
	}, nil
}

func containerWidth(bits int) int {
	switch {
	case bits <= 8:
		return 8
	case bits <= 16:
		return 16
	case bits <= 24:
		return 24
	default:
		return 32
	}
}

func (s *Stage) Format() format.StreamFormat { return s.out }
func (s *Stage) Length() (int64, bool)       { return s.upstream.Length() }
func (s *Stage) Seekable() bool              { return s.upstream.Seekable() }
func (s *Stage) Seek(frame int64) error      { return s.upstream.Seek(frame) }
func (s *Stage) Tags() map[string]string     { return s.upstream.Tags() }
func (s *Stage) Chapters() []Chapter         { return s.upstream.Chapters() }
func (s *Stage) Close() error                { return s.upstream.Close() }
func (s *Stage) Upstream() Source            { return s.upstream }

func (s *Stage) ReadFrames(buf []byte, n int) (int, error) {
	channels := s.in.Channels

	need := n * channels * s.in.BytesPerSample()
	if cap(s.scratchBytes) < need {
		s.scratchBytes = make([]byte, need)
	}

	raw := s.scratchBytes[:need]

	frames, err := s.upstream.ReadFrames(raw, n)
	if err != nil {
		return 0, err
	}

	samples := frames * channels
	if cap(s.scratchFloat) < samples {
		s.scratchFloat = make([]float32, samples)
	}

	fbuf := s.scratchFloat[:samples]

	if _, err := floatstage.ReadAsFloat(s.in, raw[:frames*s.in.BytesPerSample()*channels], fbuf); err != nil {
		return 0, err
	}

	if s.out.Encoding == format.Float {
		// Anti-denormal conditioning: adding and removing a tiny offset
		// flushes subnormal samples to zero.
		const denormEpsilon float32 = 1e-30

		for i := range fbuf {
			v := fbuf[i] + denormEpsilon
			fbuf[i] = v - denormEpsilon
		}

		return floatstage.WriteAsContainer(s.out, fbuf, buf), nil
	}

	for i := range fbuf {
		fbuf[i] = s.quantizeSample(fbuf[i])
	}

	return floatstage.WriteAsContainer(s.out, fbuf, buf), nil
}

// quantizeSample applies rounding, optional TPDF dither and
// saturation, returning a float32 already snapped to the target depth's
// integer grid in the [-1, 1) normalized domain.
func (s *Stage) quantizeSample(x float32) float32 {
	depth := s.out.BitsPerSample
	scale := float64(int64(1) << uint(depth-1))

	v := float64(x) * scale

	if s.dither {
		n := (s.rng.Float64() - 0.5) + (s.rng.Float64() - 0.5) // triangular on (-1, 1)
		v += n
	}

	v = math.Round(v)

	max := scale - 1
	min := -scale

	if v > max {
		v = max
	}

	if v < min {
		v = min
	}

	return float32(v / scale)
}

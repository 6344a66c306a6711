// Package floatstage implements the universal decode-to-float converter
// used between DSP stages. Every filter that needs arithmetic reads
// through ReadAsFloat instead of re-deriving its own per-bit-depth
// normalization switch; this package is that switch, written once,
// covering float32 in/out and big-endian sources.
package floatstage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/farcloser/waveforge/internal/errs"
	"github.com/farcloser/waveforge/internal/format"
)

const denormEpsilon = 1e-30

// Source is the narrowed upstream contract this package depends on, a
// structural copy of the root waveforge.Source interface (avoids an
// import cycle back to the root package, same pattern every dsp/*
// package and source adapter follows).
type Source interface {
	Format() format.StreamFormat
	Length() (frames int64, known bool)
	Seekable() bool
	Seek(frame int64) error
	ReadFrames(buf []byte, n int) (int, error)
	Tags() map[string]string
	Chapters() []Chapter
	Close() error
}

// Chapter is an alias of format.Chapter (see internal/source/wav's
// identical note on why every package shares the same underlying type).
type Chapter = format.Chapter

// Stage re-encodes upstream into the canonical float32 little-endian
// domain every arithmetic-heavy filter after it assumes it is already
// in. Most dsp/* stages (quantize, limiter, compressor, mixer,
// resample) are defensive and call ReadAsFloat on whatever encoding
// their upstream hands them, but the pipeline assembler still inserts
// this Stage once, right after the structural filters and before the
// matrix mixer, so the simpler arithmetic stages (scaler, lowpass) that
// read buf as raw float32 without staging it themselves can assume a
// float32 upstream unconditionally rather than repeating the same
// conversion switch a third time.
type Stage struct {
	upstream Source
	in, out  format.StreamFormat

	rawScratch []byte
	floatBuf   []float32
}

// New wraps upstream, exposing the same channel count and sample rate
// but Encoding == Float, BitsPerSample == ContainerBitsPerSample == 32.
// If upstream is already in that exact format, New still wraps it (the
// cost is one redundant copy, not a correctness issue); the assembler
// does not special-case "already float" to keep the filter chain's
// shape uniform.
func New(upstream Source) *Stage {
	in := upstream.Format()

	out := in
	out.Encoding = format.Float
	out.BitsPerSample = 32
	out.ContainerBitsPerSample = 32
	out.ByteOrder = format.LittleEndian

	return &Stage{upstream: upstream, in: in, out: out}
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
	bps := s.in.BytesPerSample()

	need := n * channels * bps
	if cap(s.rawScratch) < need {
		s.rawScratch = make([]byte, need)
	}

	raw := s.rawScratch[:need]

	frames, err := s.upstream.ReadFrames(raw, n)
	if err != nil {
		return 0, err
	}

	samples := frames * channels
	if cap(s.floatBuf) < samples {
		s.floatBuf = make([]float32, samples)
	}

	fbuf := s.floatBuf[:samples]

	if _, err := ReadAsFloat(s.in, raw[:frames*channels*bps], fbuf); err != nil {
		return 0, err
	}

	return WriteAsContainer(s.out, fbuf, buf), nil
}

// ReadAsFloat decodes n frames of interleaved samples from src (raw
// container-width bytes, format f) into dst (interleaved float32,
// channels*n long). It returns the number of frames decoded.
func ReadAsFloat(f format.StreamFormat, src []byte, dst []float32) (int, error) {
	bytesPerSample := f.BytesPerSample()
	channels := f.Channels

	frames := len(src) / (bytesPerSample * channels)
	if frames*channels > len(dst) {
		frames = len(dst) / channels
	}

	n := frames * channels

	for i := range n {
		off := i * bytesPerSample
		raw := src[off : off+bytesPerSample]

		var sample float32

		switch f.Encoding {
		case format.Float:
			sample = decodeFloatSample(raw, f.ByteOrder, f.BitsPerSample)
		case format.SignedInt:
			sample = decodeIntSample(raw, f.ByteOrder, f.BitsPerSample, false)
		case format.UnsignedInt:
			sample = decodeIntSample(raw, f.ByteOrder, f.BitsPerSample, true)
		default:
			return 0, fmt.Errorf("%w: encoding %v", errs.ErrUnsupportedFormat, f.Encoding)
		}

		dst[i] = sample
	}

	return frames, nil
}

func decodeFloatSample(raw []byte, order format.ByteOrder, bits int) float32 {
	switch bits {
	case 32:
		bo := binary.ByteOrder(binary.LittleEndian)
		if order == format.BigEndian {
			bo = binary.BigEndian
		}

		return math.Float32frombits(bo.Uint32(raw))
	case 64:
		bo := binary.ByteOrder(binary.LittleEndian)
		if order == format.BigEndian {
			bo = binary.BigEndian
		}

		x := math.Float64frombits(bo.Uint64(raw))
		x += denormEpsilon
		x -= denormEpsilon

		return float32(x)
	default:
		return 0
	}
}

// decodeIntSample reads a `bits`-wide container sample (8/16/24/32,
// native width = len(raw)*8) and normalizes it to [-1, 1). 24-bit values
// are sign-extended from the top byte so sign survives an unequal
// container width. Unsigned samples are re-centred by flipping the sign
// bit before the same signed-path normalization.
func decodeIntSample(raw []byte, order format.ByteOrder, bits int, unsigned bool) float32 {
	width := len(raw)

	var u uint32

	if order == format.BigEndian {
		for _, b := range raw {
			u = u<<8 | uint32(b)
		}
	} else {
		for i := width - 1; i >= 0; i-- {
			u = u<<8 | uint32(raw[i])
		}
	}

	if unsigned {
		u ^= 1 << uint(width*8-1)
	}

	var signed int32

	switch width {
	case 1:
		signed = int32(int8(u))
	case 2:
		signed = int32(int16(u))
	case 3:
		signed = int32(u << 8) // sign-extend from top byte via arithmetic shift
		signed >>= 8
	case 4:
		signed = int32(u)
	default:
		signed = int32(u)
	}

	divisor := float32(int64(1) << uint(bits-1))

	return float32(signed) / divisor
}

// WriteAsContainer encodes n frames of interleaved float32 samples (src)
// into dst as raw container-width bytes of format f, with saturation but
// no dithering — used for direct float passthrough and for sinks that
// accept float natively. The quantizer owns the dithered integer path.
func WriteAsContainer(f format.StreamFormat, src []float32, dst []byte) int {
	bytesPerSample := f.BytesPerSample()
	channels := f.Channels

	frames := len(src) / channels
	if frames*bytesPerSample*channels > len(dst) {
		frames = len(dst) / (bytesPerSample * channels)
	}

	n := frames * channels

	for i := range n {
		off := i * bytesPerSample
		out := dst[off : off+bytesPerSample]

		switch f.Encoding {
		case format.Float:
			encodeFloatSample(src[i], f.ByteOrder, f.BitsPerSample, out)
		case format.SignedInt:
			encodeIntSample(src[i], f.ByteOrder, f.BitsPerSample, false, out)
		case format.UnsignedInt:
			encodeIntSample(src[i], f.ByteOrder, f.BitsPerSample, true, out)
		}
	}

	return frames
}

func encodeFloatSample(sample float32, order format.ByteOrder, bits int, out []byte) {
	bo := binary.ByteOrder(binary.LittleEndian)
	if order == format.BigEndian {
		bo = binary.BigEndian
	}

	switch bits {
	case 32:
		bo.PutUint32(out, math.Float32bits(sample))
	case 64:
		bo.PutUint64(out, math.Float64bits(float64(sample)))
	}
}

func encodeIntSample(sample float32, order format.ByteOrder, bits int, unsigned bool, out []byte) {
	width := len(out)

	scale := float64(int64(1) << uint(bits-1))

	v := int64(math.Round(float64(sample) * scale))

	max := int64(1)<<uint(bits-1) - 1
	min := -(int64(1) << uint(bits-1))

	if v > max {
		v = max
	}

	if v < min {
		v = min
	}

	u := uint32(v)
	if unsigned {
		u ^= 1 << uint(width*8-1)
	}

	if order == format.BigEndian {
		for i := width - 1; i >= 0; i-- {
			out[i] = byte(u)
			u >>= 8
		}
	} else {
		for i := range width {
			out[i] = byte(u)
			u >>= 8
		}
	}
}

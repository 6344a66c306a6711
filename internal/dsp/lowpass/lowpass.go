// Package lowpass implements the anti-aliasing low-pass FIR stage that
// the pipeline assembler inserts ahead of a downsampling resampler.
// It is a windowed-sinc design, distinct from
// internal/dsp/mixer's Hilbert transformer but built the same way:
// gonum's dsp/window Hamming window over a hand-derived kernel, kept
// per-channel via a history ring buffer.
package lowpass

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/window"

	"github.com/farcloser/waveforge/internal/errs"
	"github.com/farcloser/waveforge/internal/format"
)

// Source is the minimal upstream contract this package depends on.
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

// Stage is a windowed-sinc FIR low-pass filter run independently per
// channel.
type Stage struct {
	upstream Source
	taps     []float64
	origin   int
	history  map[int][]float64
}

// New builds a low-pass FIR with a -6dB point at cutoffHz, sized
// numTaps (forced odd so the filter has a well-defined integer-sample
// group delay). Passing numTaps <= 0 selects sampleRate/25 forced odd,
// a width comparable to the Hilbert transformer's sampleRate/12 but
// narrower since a sinc kernel converges faster than the Hilbert one.
func New(upstream Source, cutoffHz float64, numTaps int) (*Stage, error) {
	rate := upstream.Format().SampleRate
	if cutoffHz <= 0 || cutoffHz >= float64(rate)/2 {
		return nil, fmt.Errorf("%w: low-pass cutoff %gHz out of range for sample rate %d", errs.ErrRangeError, cutoffHz, rate)
	}

	if numTaps <= 0 {
		numTaps = rate / 25
	}

	if numTaps%2 == 0 {
		numTaps++
	}

	origin := (numTaps - 1) / 2
	fc := cutoffHz / float64(rate)

	taps := make([]float64, numTaps)
	for i := range taps {
		n := i - origin
		if n == 0 {
			taps[i] = 2 * fc
		} else {
			taps[i] = math.Sin(2*math.Pi*fc*float64(n)) / (math.Pi * float64(n))
		}
	}

	taps = window.Hamming(taps)

	sum := 0.0
	for _, c := range taps {
		sum += c
	}

	if sum != 0 {
		for i := range taps {
			taps[i] /= sum
		}
	}

	return &Stage{upstream: upstream, taps: taps, origin: origin, history: make(map[int][]float64)}, nil
}

// Latency reports the filter's input-sample group delay.
func (s *Stage) Latency() int { return s.origin }

func (s *Stage) Format() format.StreamFormat { return s.upstream.Format() }
func (s *Stage) Length() (int64, bool)       { return s.upstream.Length() }
func (s *Stage) Seekable() bool              { return false }

func (s *Stage) Seek(int64) error {
	return fmt.Errorf("%w: low-pass filter holds per-channel history", errs.ErrSeekUnsupported)
}

func (s *Stage) Tags() map[string]string { return s.upstream.Tags() }
func (s *Stage) Chapters() []Chapter     { return s.upstream.Chapters() }
func (s *Stage) Close() error            { return s.upstream.Close() }
func (s *Stage) Upstream() Source        { return s.upstream }

// ReadFrames pulls float32 frames from upstream (the assembler always
// inserts internal/floatstage.Stage ahead of the filter chain) and
// convolves each channel independently through the FIR.
func (s *Stage) ReadFrames(buf []byte, n int) (int, error) {
	channels := s.upstream.Format().Channels

	m, err := s.upstream.ReadFrames(buf, n)
	if err != nil {
		return m, err
	}

	for f := range m {
		for ch := range channels {
			off := (f*channels + ch) * 4

			x := math.Float32frombits(
				uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24,
			)

			y := s.apply(ch, float64(x))

			bits := math.Float32bits(float32(y))
			buf[off] = byte(bits)
			buf[off+1] = byte(bits >> 8)
			buf[off+2] = byte(bits >> 16)
			buf[off+3] = byte(bits >> 24)
		}
	}

	return m, nil
}

func (s *Stage) apply(channel int, x float64) float64 {
	buf := append(s.history[channel], x)
	if len(buf) > len(s.taps)*4 {
		buf = buf[len(buf)-len(s.taps)*2:]
	}

	s.history[channel] = buf

	if len(buf) < len(s.taps) {
		return 0
	}

	tail := buf[len(buf)-len(s.taps):]

	sum := 0.0

	for i, c := range s.taps {
		sum += c * tail[i]
	}

	return sum
}

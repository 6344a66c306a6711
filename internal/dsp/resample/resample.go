// Package resample implements the resampler harness: it does not
// implement a resampler itself, it drives one (ratekernel's
// gopxl/beep-backed kernel), tracking peak and latency, and rescaling a
// disk-spilled temp stream on the final read pass if the peak exceeds
// unity.
package resample

import (
	"fmt"
	"io"
	"os"

	"github.com/farcloser/waveforge/internal/errs"
	"github.com/farcloser/waveforge/internal/floatstage"
	"github.com/farcloser/waveforge/internal/format"
	"github.com/farcloser/waveforge/internal/integration/ratekernel"
)

// Chapter is an alias of format.Chapter (see internal/source/wav's
// identical note on why every package shares the same underlying type).
type Chapter = format.Chapter

// Source is the narrowed upstream contract.
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

const workBufFrames = 4096

// Stage is the resampler harness filter.
type Stage struct {
	upstream Source
	in, out  format.StreamFormat
	kernel   *ratekernel.Kernel

	inFramesSeen  int64
	outFramesSeen int64
	upstreamDone  bool

	peak float32

	spill      *os.File
	spillBytes int64
	finalizing bool
	readBack   *os.File
	readOff    int64

	rawScratch   []byte
	floatIn      []float64
	kernelOut    []float64
	outFloat32   []float32
}

// New builds a resampler harness converting upstream to outputRate.
// quality is passed straight through to the kernel.
func New(upstream Source, outputRate int, quality ratekernel.Quality) (*Stage, error) {
	in := upstream.Format()

	out := in
	out.SampleRate = outputRate

	s := &Stage{upstream: upstream, in: in, out: out}

	pull := func(buf []float64, wantFrames int) (int, error) {
		return s.pullUpstream(buf, wantFrames)
	}

	s.kernel = ratekernel.New(in.SampleRate, outputRate, in.Channels, quality, pull)

	spill, err := os.CreateTemp("", "waveforge-resample-*.f32")
	if err != nil {
		return nil, fmt.Errorf("%w: resample temp file: %w", errs.ErrIOFailure, err)
	}

	s.spill = spill

	return s, nil
}

func (s *Stage) Format() format.StreamFormat { return s.out }
func (s *Stage) Length() (int64, bool)       { return 0, false } // rate-converted length is unknown until drained
func (s *Stage) Seekable() bool              { return false }

func (s *Stage) Seek(int64) error {
	return fmt.Errorf("%w: resampler harness does not support seeking", errs.ErrSeekUnsupported)
}

func (s *Stage) Tags() map[string]string { return s.upstream.Tags() }
func (s *Stage) Chapters() []Chapter     { return s.upstream.Chapters() }
func (s *Stage) Upstream() Source        { return s.upstream }

func (s *Stage) Close() error {
	if s.spill != nil {
		name := s.spill.Name()
		_ = s.spill.Close()
		_ = os.Remove(name)
	}

	if s.readBack != nil {
		_ = s.readBack.Close()
	}

	return s.upstream.Close()
}

// pullUpstream feeds the kernel: decodes upstream frames to float64,
// interleaved, channels wide. Drains the kernel after EOF with
// zero-padding of length InputLatency.
func (s *Stage) pullUpstream(buf []float64, wantFrames int) (int, error) {
	channels := s.in.Channels
	bps := s.in.BytesPerSample()

	if s.upstreamDone {
		// Zero-pad the drain tail.
		n := s.InputLatency()
		if n > wantFrames {
			n = wantFrames
		}

		for i := range n * channels {
			buf[i] = 0
		}

		return n, nil
	}

	need := wantFrames * channels * bps
	if cap(s.rawScratch) < need {
		s.rawScratch = make([]byte, need)
	}

	raw := s.rawScratch[:need]

	frames, err := s.upstream.ReadFrames(raw, wantFrames)
	if err != nil {
		return 0, err
	}

	if frames == 0 {
		s.upstreamDone = true

		return s.pullUpstream(buf, wantFrames)
	}

	samples := frames * channels
	if cap(s.floatIn) < samples {
		s.floatIn = make([]float64, samples)
	}

	f32 := make([]float32, samples)

	if _, err := floatstage.ReadAsFloat(s.in, raw[:frames*channels*bps], f32); err != nil {
		return 0, err
	}

	for i, v := range f32 {
		buf[i] = float64(v)
	}

	s.inFramesSeen += int64(frames)

	return frames, nil
}

// InputLatency returns the number of input-rate samples still inside
// the kernel. The harness estimates it from the observed in/out frame
// ratio, since the kernel doesn't report it directly.
func (s *Stage) InputLatency() int {
	if s.inFramesSeen == 0 || s.outFramesSeen == 0 {
		return 0
	}

	ratio := float64(s.outFramesSeen) / float64(s.inFramesSeen)
	expectedOut := float64(s.inFramesSeen) * float64(s.out.SampleRate) / float64(s.in.SampleRate)
	drift := expectedOut - float64(s.outFramesSeen)

	if drift <= 0 {
		return 0
	}

	return int(drift / ratio)
}

// ReadFrames first drives the kernel until it has fully drained,
// spilling the converted samples to a temp file while tracking the
// running peak; every call then returns frames read back from the spill
// on the final read pass, rescaled by 1/peak if peak exceeds unity.
func (s *Stage) ReadFrames(buf []byte, n int) (int, error) {
	channels := s.out.Channels

	for !s.finalizing {
		if err := s.fillAndSpill(n, channels); err != nil {
			return 0, err
		}
	}

	return s.readBackScaled(buf, n, channels)
}

func (s *Stage) fillAndSpill(n, channels int) error {
	samples := n * channels
	if cap(s.kernelOut) < samples {
		s.kernelOut = make([]float64, samples)
	}

	got, err := s.kernel.Process(s.kernelOut, n, channels)
	if err != nil {
		return err
	}

	s.outFramesSeen += int64(got)

	if got == 0 {
		s.finalizing = true

		return nil
	}

	gotSamples := got * channels
	if cap(s.outFloat32) < gotSamples {
		s.outFloat32 = make([]float32, gotSamples)
	}

	f32 := s.outFloat32[:gotSamples]

	for i, v := range s.kernelOut[:gotSamples] {
		fv := float32(v)
		f32[i] = fv

		if a := abs32(fv); a > s.peak {
			s.peak = a
		}
	}

	raw := make([]byte, gotSamples*4)
	floatstage.WriteAsContainer(format.StreamFormat{
		Channels: channels, ContainerBitsPerSample: 32, BitsPerSample: 32, Encoding: format.Float,
		SampleRate: s.out.SampleRate, ByteOrder: format.LittleEndian,
	}, f32, raw)

	if _, err := s.spill.Write(raw); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	s.spillBytes += int64(len(raw))

	return nil
}

func (s *Stage) readBackScaled(buf []byte, n, channels int) (int, error) {
	if s.readBack == nil {
		rb, err := os.Open(s.spill.Name())
		if err != nil {
			return 0, fmt.Errorf("%w: reopening resample spill: %w", errs.ErrIOFailure, err)
		}

		s.readBack = rb
	}

	scale := float32(1)
	if s.peak > 1.0 {
		scale = 1.0 / s.peak
	}

	samples := n * channels
	raw := make([]byte, samples*4)

	read, err := s.readBack.Read(raw)
	if read == 0 {
		if err != nil && err != io.EOF {
			return 0, fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
		}

		return 0, nil
	}

	frames := read / (channels * 4)

	f32 := make([]float32, frames*channels)
	if _, err := floatstage.ReadAsFloat(format.StreamFormat{
		Channels: channels, ContainerBitsPerSample: 32, BitsPerSample: 32, Encoding: format.Float,
		SampleRate: s.out.SampleRate, ByteOrder: format.LittleEndian,
	}, raw[:frames*channels*4], f32); err != nil {
		return 0, err
	}

	for i := range f32 {
		f32[i] *= scale
	}

	s.readOff += int64(read)

	return floatstage.WriteAsContainer(s.out, f32, buf), nil
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}

	return v
}

// Package ratekernel adapts github.com/gopxl/beep's Resampler as the
// in-process rate-conversion kernel the resampler harness drives
//. Unlike the AAC/ALAC codec kernel, this "external
// collaborator" never crosses a process boundary — it is the same
// in-process dependency go-musicfox uses for playback-rate conversion
// in the retrieval pack.
package ratekernel

import (
	"github.com/gopxl/beep"
)

// Quality mirrors beep's resampler quality knob (higher = better, 1-4
// covers beep's documented useful range; beep rejects values outside
// [1, 64], so New clamps a zero value up to defaultQuality).
type Quality int

const defaultQuality = Quality(4)

// feeder adapts a frame-pulling callback into a beep.Streamer so
// beep.Resample can pull through it.
type feeder struct {
	channels int
	pull     func(buf []float64, wantFrames int) (gotFrames int, err error)
	scratch  []float64
	err      error
}

func (f *feeder) Stream(samples [][2]float64) (int, bool) {
	if f.err != nil {
		return 0, false
	}

	need := len(samples) * f.channels
	if cap(f.scratch) < need {
		f.scratch = make([]float64, need)
	}

	buf := f.scratch[:need]

	n, err := f.pull(buf, len(samples))
	if err != nil {
		f.err = err
	}

	for i := range n {
		l := buf[i*f.channels]

		r := l
		if f.channels > 1 {
			r = buf[i*f.channels+1]
		}

		samples[i] = [2]float64{l, r}
	}

	return n, n > 0
}

func (f *feeder) Err() error { return f.err }

// Kernel wraps a beep.Resampler as the harness's `create`/`process`
// handle.
type Kernel struct {
	resampler *beep.Resampler
	feed      *feeder
	buf       [][2]float64
}

// New builds a kernel converting from inputRate to outputRate, pulling
// channels-wide input frames via pull. beep's resampler is stereo: only
// the first two channels of each frame are converted (mono input is
// duplicated into both), and channels beyond the second are not carried.
func New(
	inputRate, outputRate, channels int,
	quality Quality,
	pull func(buf []float64, wantFrames int) (int, error),
) *Kernel {
	if quality < 1 {
		quality = defaultQuality
	}

	f := &feeder{channels: channels, pull: pull}

	resampler := beep.Resample(int(quality), beep.SampleRate(inputRate), beep.SampleRate(outputRate), f)

	return &Kernel{resampler: resampler, feed: f}
}

// Process pulls as much input as it needs to fill outFrames output
// frames (interleaved, channels-wide; only the first two channel slots of
// each output frame are written). It returns the number of output
// frames produced; fewer than requested signals the kernel has drained
// its input.
func (k *Kernel) Process(out []float64, outFrames, channels int) (int, error) {
	if cap(k.buf) < outFrames {
		k.buf = make([][2]float64, outFrames)
	}

	buf := k.buf[:outFrames]

	n, _ := k.resampler.Stream(buf)

	for i := range n {
		out[i*channels] = buf[i][0]

		if channels > 1 {
			out[i*channels+1] = buf[i][1]
		}
	}

	return n, k.feed.Err()
}

// SetRatio allows the harness to retune the conversion ratio
// mid-stream (beep.Resampler supports this; the constant-rate pipeline
// never needs it, but the hook is kept for parity with beep's API
// surface).
func (k *Kernel) SetRatio(ratio float64) {
	k.resampler.SetRatio(ratio)
}

// Package limiter implements the soft-clip limiter: a lookahead-free,
// per-channel cubic-shaping limiter operating over
// zero-crossing-bounded regions of a growable scratch buffer.
package limiter

import (
	"fmt"

	"github.com/farcloser/waveforge/internal/errs"
	"github.com/farcloser/waveforge/internal/floatstage"
	"github.com/farcloser/waveforge/internal/format"
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

// Threshold is the default ceiling, about -0.069 dBFS.
const Threshold = 0.9921875

const hardClip = 3 * Threshold

// channelState is one channel's growable scratch buffer plus the
// high-watermark up to which shaping has already been applied.
type channelState struct {
	x         []float32
	processed int
}

// Stage is the limiter filter. Latency is bounded in typical audio by
// the worst-case distance to the next zero crossing.
type Stage struct {
	upstream Source
	f        format.StreamFormat
	channels []channelState

	rawScratch []byte
	inFloat    []float32
	outFloat   []float32
}

// New wraps upstream with a soft-clip limiter, operating in the float
// domain and re-encoding to the upstream's container format on output.
func New(upstream Source) *Stage {
	f := upstream.Format()

	return &Stage{
		upstream: upstream,
		f:        f,
		channels: make([]channelState, f.Channels),
	}
}

func (s *Stage) Format() format.StreamFormat { return s.f }
func (s *Stage) Length() (int64, bool)       { return s.upstream.Length() }
func (s *Stage) Seekable() bool              { return false }

func (s *Stage) Seek(int64) error {
	return fmt.Errorf("%w: limiter holds internal shaping state", errs.ErrSeekUnsupported)
}

func (s *Stage) Tags() map[string]string { return s.upstream.Tags() }
func (s *Stage) Chapters() []Chapter     { return s.upstream.Chapters() }
func (s *Stage) Close() error            { return s.upstream.Close() }
func (s *Stage) Upstream() Source        { return s.upstream }

// ReadFrames pulls upstream frames, appends them (hard-clipped to
// ±3*Threshold on ingest) to each channel's scratch buffer, shapes every
// fully-bounded region, and emits as many frames as every channel has
// finished processing.
func (s *Stage) ReadFrames(buf []byte, n int) (int, error) {
	channels := s.f.Channels
	bps := s.f.BytesPerSample()

	rawNeed := n * channels * bps
	if cap(s.rawScratch) < rawNeed {
		s.rawScratch = make([]byte, rawNeed)
	}

	raw := s.rawScratch[:rawNeed]

	pulled, err := s.upstream.ReadFrames(raw, n)
	if pulled == 0 && err == nil {
		// Upstream is done: the trailing same-sign run can no longer
		// grow, so shape whatever is left and release it.
		s.flushTail()

		return s.drain(buf, n)
	}

	if err != nil {
		return 0, err
	}

	samples := pulled * channels
	if cap(s.inFloat) < samples {
		s.inFloat = make([]float32, samples)
	}

	fin := s.inFloat[:samples]

	if _, err := floatstage.ReadAsFloat(s.f, raw[:pulled*channels*bps], fin); err != nil {
		return 0, err
	}

	for ch := range channels {
		state := &s.channels[ch]

		for i := range pulled {
			v := fin[i*channels+ch]
			if v > hardClip {
				v = hardClip
			}

			if v < -hardClip {
				v = -hardClip
			}

			state.x = append(state.x, v)
		}
	}

	s.shapeAll()

	return s.drain(buf, n)
}

// shapeAll shapes every channel's new, fully-bounded regions.
func (s *Stage) shapeAll() {
	for ch := range s.channels {
		state := &s.channels[ch]
		shapeChannel(state, lastSignTransitionTail(state.x), false)
	}
}

// flushTail shapes every channel's remaining samples, including the
// trailing same-sign run shapeAll holds back while more input could
// still arrive.
func (s *Stage) flushTail() {
	for ch := range s.channels {
		state := &s.channels[ch]
		shapeChannel(state, len(state.x), true)
	}
}

func shapeChannel(state *channelState, limit int, final bool) {
	for {
		i := firstExceedance(state.x, state.processed, limit)
		if i < 0 {
			state.processed = limit

			break
		}

		start := extendToZeroCrossingBackward(state.x, i)
		end := extendToZeroCrossingForward(state.x, i, limit)

		if end >= limit && !final {
			// Region may still grow; stop until more input arrives.
			state.processed = start

			break
		}

		if end > limit {
			end = limit
		}

		peak, peakIdx := regionPeak(state.x, start, end)
		shapeRegion(state.x, start, end, peak, peakIdx)

		state.processed = end
	}
}

// lastSignTransitionTail scans from the end, shrinking while trailing
// samples keep the sign of x[limit-1], so a tail that may still grow is
// excluded from shaping.
func lastSignTransitionTail(x []float32) int {
	limit := len(x)
	for limit > 1 && sameSign(x[limit-1], x[limit-2]) {
		limit--
	}

	return limit
}

func sameSign(a, b float32) bool {
	return (a >= 0) == (b >= 0)
}

func firstExceedance(x []float32, from, to int) int {
	for i := from; i < to; i++ {
		v := x[i]
		if v > Threshold || v < -Threshold {
			return i
		}
	}

	return -1
}

func extendToZeroCrossingBackward(x []float32, i int) int {
	start := i
	for start > 0 && sameSign(x[start], x[start-1]) {
		start--
	}

	return start
}

func extendToZeroCrossingForward(x []float32, i, limit int) int {
	end := i
	for end < limit-1 && sameSign(x[end], x[end+1]) {
		end++
	}

	return end + 1
}

func regionPeak(x []float32, start, end int) (float32, int) {
	peak := x[start]
	peakIdx := start

	for i := start + 1; i < end; i++ {
		if abs32(x[i]) > abs32(peak) {
			peak = x[i]
			peakIdx = i
		}
	}

	return peak, peakIdx
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}

	return v
}

// shapeRegion applies the quadratic or cubic shaping polynomial in
// place over x[start:end]: the curve passes through (±T, ±T) and maps
// the region peak onto ±T with a continuous derivative at ±T.
func shapeRegion(x []float32, start, end int, peak float32, _ int) {
	p := float64(peak)
	t := float64(Threshold)

	absP := p
	if absP < 0 {
		absP = -absP
	}

	var a, b, c float64

	if absP < 2*t {
		a = (absP - t) / (p * p)
		if p > 0 {
			a = -a
		}
	} else {
		c = (absP - 2*t) / (absP * absP * absP)
		b = (3*t - 2*absP) / (p * p)
		if p < 0 {
			b = -b
		}
	}

	for i := start; i < end; i++ {
		xv := float64(x[i])

		var y float64
		if absP < 2*t {
			y = xv + a*xv*xv
		} else {
			y = xv + b*xv*xv + c*xv*xv*xv
		}

		x[i] = float32(y)
	}
}

// drain emits as many frames as every channel has finished processing,
// then compacts each channel's scratch buffer.
func (s *Stage) drain(buf []byte, want int) (int, error) {
	channels := s.f.Channels

	avail := s.channels[0].processed
	for ch := 1; ch < channels; ch++ {
		if s.channels[ch].processed < avail {
			avail = s.channels[ch].processed
		}
	}

	if avail == 0 {
		return 0, nil
	}

	n := avail
	if n > want {
		n = want
	}

	if bufFrames := len(buf) / (channels * s.f.BytesPerSample()); n > bufFrames {
		n = bufFrames
	}

	samples := n * channels
	if cap(s.outFloat) < samples {
		s.outFloat = make([]float32, samples)
	}

	out := s.outFloat[:samples]

	for ch := range channels {
		state := &s.channels[ch]
		for i := range n {
			out[i*channels+ch] = state.x[i]
		}
	}

	for ch := range s.channels {
		state := &s.channels[ch]
		state.x = append(state.x[:0], state.x[n:]...)
		state.processed -= n
	}

	floatstage.WriteAsContainer(s.f, out, buf)

	return n, nil
}

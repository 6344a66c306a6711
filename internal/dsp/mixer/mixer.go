// Package mixer implements the matrix mixer and Hilbert phase-shift
// path: a complex-valued M×N downmix/remix matrix where a non-zero
// imaginary coefficient selects the 90°-shifted copy of an input
// channel, built with gonum's dense matrix and window packages.
package mixer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/mat"

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

// Coefficient is one matrix entry: Real is a direct mixing coefficient,
// Imag non-zero means "use the 90°-shifted copy of this input channel".
// A column may not mix real and imaginary entries across rows.
type Coefficient struct {
	Real, Imag float64
}

// Matrix is an M (output) x N (input) coefficient grid.
type Matrix [][]Coefficient

// Named matrix presets, accepted anywhere a matrix file is.
var Presets = map[string]Matrix{
	"mono": {
		{{Real: 0.5}, {Real: 0.5}},
	},
	"stereo": {
		{{Real: 1}, {Real: 0}},
		{{Real: 0}, {Real: 1}},
	},
}

// Stage is the mixer filter.
type Stage struct {
	upstream Source
	in, out  format.StreamFormat
	m        Matrix
	coeffs   *mat.Dense // signed Real+Imag of each entry of m, built once at New
	shiftCol []bool     // per input column, true if that column uses the Hilbert path

	hilbert    *hilbertFIR
	syncQueues [][]float32 // per pass-through input channel, delay line matching Hilbert latency

	rawScratch []byte
	inFloat    []float32
	outFloat   []float32
}

// New validates m (ragged rows, mixed real/imaginary columns, channel
// count) against upstream's channel count, builds the Hilbert FIR if any
// column needs phase shifting, and returns a ready Stage. normalize
// divides each output row by the sum of its absolute coefficients.
func New(upstream Source, m Matrix, normalize bool) (*Stage, error) {
	in := upstream.Format()

	if len(m) == 0 {
		return nil, fmt.Errorf("%w: empty mixing matrix", errs.ErrInvalidMatrix)
	}

	width := len(m[0])
	if width != in.Channels {
		return nil, fmt.Errorf("%w: matrix has %d columns, input has %d channels", errs.ErrInvalidMatrix, width, in.Channels)
	}

	for r, row := range m {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", errs.ErrInvalidMatrix, r, len(row), width)
		}
	}

	shiftCol := make([]bool, width)

	for col := range width {
		sawReal, sawImag := false, false

		for _, row := range m {
			c := row[col]
			if c.Real != 0 {
				sawReal = true
			}

			if c.Imag != 0 {
				sawImag = true
			}
		}

		if sawReal && sawImag {
			return nil, fmt.Errorf("%w: column %d mixes real and imaginary coefficients", errs.ErrInvalidMatrix, col)
		}

		shiftCol[col] = sawImag
	}

	mCopy := normalizeMatrix(m, normalize)

	out := in
	out.Channels = len(mCopy)
	out.Layout = nil

	// A column is exclusively real or exclusively imaginary, so one
	// dense matrix of coeff.Real+coeff.Imag carries whichever part the
	// column uses; the Hilbert path substitution happens per input
	// sample before the multiply.
	rows := make([]float64, 0, len(mCopy)*width)

	for _, row := range mCopy {
		for _, c := range row {
			rows = append(rows, c.Real+c.Imag)
		}
	}

	s := &Stage{
		upstream: upstream,
		in:       in,
		out:      out,
		m:        mCopy,
		coeffs:   mat.NewDense(len(mCopy), width, rows),
		shiftCol: shiftCol,
	}

	needsHilbert := false

	for _, v := range shiftCol {
		if v {
			needsHilbert = true

			break
		}
	}

	if needsHilbert {
		s.hilbert = newHilbertFIR(in.SampleRate)
		s.syncQueues = make([][]float32, width)
	}

	return s, nil
}

// normalizeMatrix divides each row by the sum of |coefficients| when
// requested, preserving energy.
func normalizeMatrix(m Matrix, normalize bool) Matrix {
	out := make(Matrix, len(m))

	for r, row := range m {
		out[r] = append([]Coefficient(nil), row...)

		if !normalize {
			continue
		}

		sum := 0.0

		for _, c := range row {
			sum += math.Hypot(c.Real, c.Imag)
		}

		if sum == 0 {
			continue
		}

		for i := range out[r] {
			out[r][i].Real /= sum
			out[r][i].Imag /= sum
		}
	}

	return out
}

// hilbertFIR is a linear-phase FIR Hilbert transformer:
// num_taps = sample_rate/12 forced odd, coefficients
// ±1/k on odd taps, Hamming-windowed, with the input channel pre-divided
// by the filter's computed passband gain.
type hilbertFIR struct {
	taps    []float64
	origin  int
	gain    float64
	history map[int][]float64 // per input channel ring buffer, keyed by channel index
}

func newHilbertFIR(sampleRate int) *hilbertFIR {
	numTaps := sampleRate / 12
	if numTaps%2 == 0 {
		numTaps++
	}

	origin := (numTaps - 1) / 2

	taps := make([]float64, numTaps)

	for k := 1; k <= origin; k++ {
		if k%2 == 1 {
			v := 1.0 / float64(k)
			taps[origin+k] = v
			taps[origin-k] = -v
		}
	}

	taps = window.Hamming(taps)

	gain := 0.0
	sign := 1.0

	for i := 0; origin+1+2*i < numTaps; i++ {
		gain += sign * taps[origin+1+2*i]
		sign = -sign
	}

	gain *= 2
	if gain == 0 {
		gain = 1
	}

	return &hilbertFIR{taps: taps, origin: origin, gain: gain, history: make(map[int][]float64)}
}

func (h *hilbertFIR) latency() int { return h.origin }

// apply runs the FIR across one channel's full, in-order sample history
// (the Stage keeps one logical history per Hilbert input channel,
// appending as frames arrive and convolving from the tap-length tail).
func (h *hilbertFIR) apply(channel int, x float64) float64 {
	buf := append(h.history[channel], x/h.gain)
	if len(buf) > len(h.taps)*4 {
		buf = buf[len(buf)-len(h.taps)*2:]
	}

	h.history[channel] = buf

	if len(buf) < len(h.taps) {
		return 0
	}

	tail := buf[len(buf)-len(h.taps):]

	sum := 0.0

	for i, c := range h.taps {
		sum += c * tail[i]
	}

	return sum
}

func (s *Stage) Format() format.StreamFormat { return s.out }
func (s *Stage) Length() (int64, bool)       { return s.upstream.Length() }
func (s *Stage) Seekable() bool              { return false }

func (s *Stage) Seek(int64) error {
	return fmt.Errorf("%w: mixer holds Hilbert filter state", errs.ErrSeekUnsupported)
}

func (s *Stage) Tags() map[string]string { return s.upstream.Tags() }
func (s *Stage) Chapters() []Chapter     { return s.upstream.Chapters() }
func (s *Stage) Close() error            { return s.upstream.Close() }
func (s *Stage) Upstream() Source        { return s.upstream }

func (s *Stage) ReadFrames(buf []byte, n int) (int, error) {
	inCh := s.in.Channels
	bps := s.in.BytesPerSample()

	need := n * inCh * bps
	if cap(s.rawScratch) < need {
		s.rawScratch = make([]byte, need)
	}

	raw := s.rawScratch[:need]

	frames, err := s.upstream.ReadFrames(raw, n)
	if err != nil {
		return 0, err
	}

	if frames == 0 {
		return 0, nil
	}

	samplesIn := frames * inCh
	if cap(s.inFloat) < samplesIn {
		s.inFloat = make([]float32, samplesIn)
	}

	fin := s.inFloat[:samplesIn]

	if _, err := floatstage.ReadAsFloat(s.in, raw[:frames*inCh*bps], fin); err != nil {
		return 0, err
	}

	outCh := s.out.Channels

	samplesOut := frames * outCh
	if cap(s.outFloat) < samplesOut {
		s.outFloat = make([]float32, samplesOut)
	}

	fout := s.outFloat[:samplesOut]

	shifted := make([]float64, inCh)
	inVec := mat.NewVecDense(inCh, nil)
	outVec := mat.NewVecDense(outCh, nil)

	for i := range frames {
		for ch := range inCh {
			x := float64(fin[i*inCh+ch])

			switch {
			case s.shiftCol[ch]:
				shifted[ch] = s.hilbert.apply(ch, x)
			case s.hilbert != nil:
				// Pass channels are delayed by the Hilbert filter's
				// latency so shifted and unshifted streams stay
				// phase-aligned.
				shifted[ch] = s.delayPass(ch, x)
			default:
				shifted[ch] = x
			}
		}

		for ch := range inCh {
			inVec.SetVec(ch, shifted[ch])
		}

		outVec.MulVec(s.coeffs, inVec)

		for ch := range outCh {
			fout[i*outCh+ch] = float32(outVec.AtVec(ch))
		}
	}

	return floatstage.WriteAsContainer(s.out, fout[:samplesOut], buf), nil
}

// delayPass runs one pass-through input sample through a FIFO whose
// depth equals the Hilbert filter latency.
func (s *Stage) delayPass(ch int, x float64) float64 {
	q := append(s.syncQueues[ch], float32(x))

	var out float64

	if len(q) > s.hilbert.latency() {
		out = float64(q[0])
		q = q[1:]
	}

	s.syncQueues[ch] = q

	return out
}

// Latency reports the Hilbert filter's input-sample latency, or 0 if no
// column uses the phase-shift path.
func (s *Stage) Latency() int {
	if s.hilbert == nil {
		return 0
	}

	return s.hilbert.latency()
}

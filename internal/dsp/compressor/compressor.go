// Package compressor implements the knee compressor: a log-domain gain
// computer with a soft knee, a decoupled attack/release peak-detector
// smoother, and an optional sidechain sink receiving the per-frame
// linear gain.
package compressor

import (
	"math"

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

// SidechainSink receives one linear gain value per frame when sidechain
// logging is enabled.
type SidechainSink interface {
	WriteGain(gain float32) error
}

const denormEpsilon = 1e-120

// Params configures one compressor instance, all levels in dB except
// Ratio and the two time constants.
type Params struct {
	ThresholdDB float64
	RatioToOne  float64 // e.g. 4 means 4:1
	KneeWidthDB float64
	AttackSec   float64
	ReleaseSec  float64
	Sidechain   SidechainSink // nil disables sidechain logging
}

// Stage is the compressor filter.
type Stage struct {
	upstream Source
	f        format.StreamFormat
	p        Params

	tLo, tHi, slope float64
	alphaAttack     float64
	alphaRelease    float64

	yRelease float64
	yAttack  float64

	rawScratch []byte
	floatBuf   []float32
}

// New builds a compressor stage bound to upstream's sample rate.
func New(upstream Source, p Params) *Stage {
	f := upstream.Format()

	tLo := p.ThresholdDB - p.KneeWidthDB/2
	tHi := p.ThresholdDB + p.KneeWidthDB/2
	slope := (1 - p.RatioToOne) / p.RatioToOne

	alphaAttack := 0.0
	if p.AttackSec > 0 {
		alphaAttack = math.Exp(-1 / (p.AttackSec * float64(f.SampleRate)))
	}

	alphaRelease := 0.0
	if p.ReleaseSec > 0 {
		alphaRelease = math.Exp(-1 / (p.ReleaseSec * float64(f.SampleRate)))
	}

	return &Stage{
		upstream:     upstream,
		f:            f,
		p:            p,
		tLo:          tLo,
		tHi:          tHi,
		slope:        slope,
		alphaAttack:  alphaAttack,
		alphaRelease: alphaRelease,
	}
}

func (s *Stage) Format() format.StreamFormat { return s.f }
func (s *Stage) Length() (int64, bool)       { return s.upstream.Length() }
func (s *Stage) Seekable() bool              { return s.upstream.Seekable() }
func (s *Stage) Seek(frame int64) error      { return s.upstream.Seek(frame) }
func (s *Stage) Tags() map[string]string     { return s.upstream.Tags() }
func (s *Stage) Chapters() []Chapter         { return s.upstream.Chapters() }
func (s *Stage) Close() error                { return s.upstream.Close() }
func (s *Stage) Upstream() Source            { return s.upstream }

// gainComputer is the static gain curve G(x): x and the threshold are
// in dB.
func (s *Stage) gainComputer(xDB float64) float64 {
	switch {
	case xDB < s.tLo:
		return 0
	case xDB > s.tHi:
		return s.slope * (xDB - s.p.ThresholdDB)
	default:
		d := xDB - s.tLo

		return d * d * s.slope / (2 * s.p.KneeWidthDB)
	}
}

func (s *Stage) ReadFrames(buf []byte, n int) (int, error) {
	channels := s.f.Channels
	bps := s.f.BytesPerSample()

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

	if _, err := floatstage.ReadAsFloat(s.f, raw[:frames*channels*bps], fbuf); err != nil {
		return 0, err
	}

	for i := range frames {
		frame := fbuf[i*channels : (i+1)*channels]

		peak := float32(0)

		for _, v := range frame {
			if a := abs32(v); a > peak {
				peak = a
			}
		}

		xDB := -200.0
		if peak > 0 {
			xDB = 20 * math.Log10(float64(peak))
		}

		g := s.gainComputer(xDB)

		// Decoupled peak detector: release follower clamped so it never
		// exceeds the instantaneous gain reduction, then the attack
		// smoother relaxes toward it.
		if g < s.yRelease {
			s.yRelease = g
		} else {
			s.yRelease = s.alphaRelease*s.yRelease + (1-s.alphaRelease)*g
		}

		s.yAttack = s.alphaAttack*s.yAttack + (1-s.alphaAttack)*s.yRelease

		s.yAttack += denormEpsilon
		s.yAttack -= denormEpsilon

		linGain := float32(math.Pow(10, s.yAttack/20))

		for ch := range frame {
			frame[ch] *= linGain
		}

		if s.p.Sidechain != nil {
			if err := s.p.Sidechain.WriteGain(linGain); err != nil {
				return i, err
			}
		}
	}

	return floatstage.WriteAsContainer(s.f, fbuf[:samples], buf), nil
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}

	return v
}

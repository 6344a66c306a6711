// Package scaler implements the gain-scaling stage. ParseGain accepts
// either a raw linear multiplier or a signed dB value, so the CLI's
// --gain flag can carry both forms.
package scaler

import (
	"fmt"
	"math"
	"strconv"
	"strings"

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

// ParseGain accepts either a bare linear multiplier ("0.5", "2") or a
// signed decibel value with a leading sign ("+3dB", "-6dB", "-6db").
// Bare numbers are linear; a sign is mandatory for the dB form to
// disambiguate it from a linear value less than 1, mirroring the
// original's own convention.
func ParseGain(s string) (float64, error) {
	s = strings.TrimSpace(s)

	lower := strings.ToLower(s)
	if strings.HasSuffix(lower, "db") {
		numPart := strings.TrimSpace(s[:len(s)-2])
		if numPart == "" || (numPart[0] != '+' && numPart[0] != '-') {
			return 0, fmt.Errorf("%w: dB gain %q must have a leading sign", errs.ErrUnsupportedFormat, s)
		}

		db, err := strconv.ParseFloat(numPart, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: malformed gain %q", errs.ErrUnsupportedFormat, s)
		}

		return math.Pow(10, db/20), nil
	}

	linear, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed gain %q", errs.ErrUnsupportedFormat, s)
	}

	return linear, nil
}

// Stage multiplies every sample by a fixed linear gain.
type Stage struct {
	upstream Source
	gain     float32
}

// New builds a gain stage applying linear to every sample pulled from
// upstream. Use ParseGain to derive linear from a CLI-style gain string.
func New(upstream Source, linear float64) *Stage {
	return &Stage{upstream: upstream, gain: float32(linear)}
}

func (s *Stage) Format() format.StreamFormat { return s.upstream.Format() }
func (s *Stage) Length() (int64, bool)       { return s.upstream.Length() }
func (s *Stage) Seekable() bool              { return s.upstream.Seekable() }
func (s *Stage) Seek(frame int64) error      { return s.upstream.Seek(frame) }
func (s *Stage) Tags() map[string]string     { return s.upstream.Tags() }
func (s *Stage) Chapters() []Chapter         { return s.upstream.Chapters() }
func (s *Stage) Close() error                { return s.upstream.Close() }
func (s *Stage) Upstream() Source            { return s.upstream }

// ReadFrames expects upstream to emit float32 samples (the assembler
// always inserts internal/floatstage.Stage ahead of the filter chain);
// it multiplies each sample by the configured gain in place.
func (s *Stage) ReadFrames(buf []byte, n int) (int, error) {
	m, err := s.upstream.ReadFrames(buf, n)
	if err != nil {
		return m, err
	}

	channels := s.upstream.Format().Channels
	samples := m * channels

	for i := range samples {
		off := i * 4

		v := math.Float32frombits(
			uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24,
		)
		v *= s.gain

		bits := math.Float32bits(v)
		buf[off] = byte(bits)
		buf[off+1] = byte(bits >> 8)
		buf[off+2] = byte(bits >> 16)
		buf[off+3] = byte(bits >> 24)
	}

	return m, nil
}

// Package raw implements the raw-PCM Source adapter: a byte stream with no container framing at all, accepted only
// when the caller pre-declares its StreamFormat (there is no magic to
// probe).
package raw

import (
	"fmt"
	"io"

	"github.com/farcloser/waveforge/internal/errs"
	"github.com/farcloser/waveforge/internal/format"
)

// Chapter is an alias of format.Chapter (see internal/source/wav's
// identical note).
type Chapter = format.Chapter

// Source streams PCM frames straight out of an unframed byte stream.
type Source struct {
	r        io.ReadSeeker
	f        format.StreamFormat
	base     int64 // stream offset Source was opened at
	length   int64
	lenKnown bool
	pos      int64
}

// Open wraps r as a raw PCM source of format f. size is the byte-stream
// length, or a negative value if unknown (streaming input).
func Open(r io.ReadSeeker, size int64, f format.StreamFormat) (*Source, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	base, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	src := &Source{r: r, f: f, base: base}

	if size >= 0 {
		src.length = (size - base) / int64(f.BytesPerFrame())
		src.lenKnown = true
	}

	return src, nil
}

func (s *Source) Format() format.StreamFormat { return s.f }
func (s *Source) Length() (int64, bool)       { return s.length, s.lenKnown }
func (s *Source) Seekable() bool              { return true }

func (s *Source) Seek(frame int64) error {
	off := s.base + frame*int64(s.f.BytesPerFrame())

	if _, err := s.r.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	s.pos = frame

	return nil
}

func (s *Source) ReadFrames(buf []byte, n int) (int, error) {
	frameBytes := s.f.BytesPerFrame()

	if s.lenKnown {
		remaining := s.length - s.pos
		if remaining <= 0 {
			return 0, nil
		}

		if int64(n) > remaining {
			n = int(remaining)
		}
	}

	need := n * frameBytes
	if need > len(buf) {
		n = len(buf) / frameBytes
		need = n * frameBytes
	}

	read, err := io.ReadFull(s.r, buf[:need])
	frames := read / frameBytes

	s.pos += int64(frames)

	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return frames, nil
		}

		return frames, fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	return frames, nil
}

func (s *Source) Tags() map[string]string { return nil }
func (s *Source) Chapters() []Chapter     { return nil }

func (s *Source) Close() error {
	if closer, ok := s.r.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}

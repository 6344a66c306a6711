// Package flac implements the FLAC Source adapter on top
// of the pure-Go github.com/mewkiz/flac decoder, the same dependency the
// go-musicfox reference repo in the retrieval pack uses for FLAC
// playback. The adapter owns StreamFormat resolution, tag/chapter
// extraction (including an embedded cuesheet comment) and the
// frame-at-a-time decode-to-interleaved-int conversion; mewkiz/flac owns
// the entropy decode itself.
package flac

import (
	"fmt"
	"io"

	mflac "github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"

	"github.com/farcloser/waveforge/internal/errs"
	"github.com/farcloser/waveforge/internal/format"
)

// Chapter is an alias of format.Chapter (see internal/source/wav's
// identical note).
type Chapter = format.Chapter

// Source streams PCM frames decoded from a FLAC stream.
type Source struct {
	stream   *mflac.Stream
	closer   io.Closer
	f        format.StreamFormat
	length   int64
	lenKnown bool
	tags     map[string]string
	chapters []Chapter

	seekable bool

	pending    *frame.Frame // leftover subframes not yet drained to the caller
	pendingOff int          // frames already consumed from pending
	skip       int64        // frames to discard after a mid-frame Seek
}

// Open probes r for the "fLaC" magic via mewkiz/flac and, on success,
// returns a ready-to-read Source. A probe failure is surfaced as
// ErrUnsupportedFormat so the caller's adapter chain tries the next
// decoder.
func Open(r io.Reader) (*Source, error) {
	closer, _ := r.(io.Closer)

	stream, err := mflac.New(r)
	if err != nil {
		return nil, fmt.Errorf("%w: flac probe: %w", errs.ErrUnsupportedFormat, err)
	}

	info := stream.Info

	// FLAC is natively signed at every depth; 8-bit centring
	// (signed->unsigned) happens only at the WAV sink boundary.
	f := format.StreamFormat{
		SampleRate:             int(info.SampleRate),
		Channels:               int(info.NChannels),
		Encoding:               format.SignedInt,
		BitsPerSample:          int(info.BitsPerSample),
		ContainerBitsPerSample: containerWidth(int(info.BitsPerSample)),
		ByteOrder:              format.LittleEndian,
	}

	_, seekable := r.(io.Seeker)

	src := &Source{
		stream:   stream,
		closer:   closer,
		f:        f,
		seekable: seekable,
		tags:     make(map[string]string),
	}

	if info.NSamples > 0 {
		src.length = int64(info.NSamples)
		src.lenKnown = true
	}

	for _, block := range stream.Blocks {
		switch v := block.Body.(type) {
		case *meta.VorbisComment:
			for _, tag := range v.Tags {
				if len(tag) == 2 {
					src.tags[vorbisToITunes(tag[0])] = tag[1]
				}
			}
		case *meta.CueSheet:
			src.chapters = cueSheetChapters(v, f.SampleRate)
		}
	}

	return src, nil
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

func vorbisToITunes(key string) string {
	switch key {
	case "TITLE":
		return "nam"
	case "ARTIST":
		return "ART"
	case "ALBUM":
		return "alb"
	case "GENRE":
		return "gen"
	case "DATE":
		return "day"
	case "COMMENT":
		return "cmt"
	case "COMPOSER":
		return "wrt"
	default:
		return "----:com.apple.iTunes:" + key
	}
}

// cueSheetChapters converts an embedded FLAC cuesheet's track list into
// chapter durations, using the stream's known sample rate.
func cueSheetChapters(cs *meta.CueSheet, sampleRate int) []Chapter {
	var out []Chapter

	for i, track := range cs.Tracks {
		if !track.IsAudio || i == len(cs.Tracks)-1 {
			continue // skip the lead-out track
		}

		next := cs.Tracks[i+1].Offset

		dur := 0.0

		if next > track.Offset && sampleRate > 0 {
			dur = float64(next-track.Offset) / float64(sampleRate)
		}

		out = append(out, Chapter{Title: fmt.Sprintf("Track %d", track.Num), Duration: dur})
	}

	return out
}

func (s *Source) Format() format.StreamFormat { return s.f }
func (s *Source) Length() (int64, bool)       { return s.length, s.lenKnown }
func (s *Source) Seekable() bool              { return s.seekable }

func (s *Source) Seek(target int64) error {
	if !s.seekable {
		return fmt.Errorf("%w: flac stream is not backed by a seeker", errs.ErrSeekUnsupported)
	}

	// The decoder seeks to the start of the frame containing target;
	// the difference is decoded and discarded on the next read.
	actual, err := s.stream.Seek(uint64(target))
	if err != nil {
		return fmt.Errorf("%w: flac seek: %w", errs.ErrSeekUnsupported, err)
	}

	s.pending = nil
	s.pendingOff = 0
	s.skip = target - int64(actual)

	return nil
}

// ReadFrames decodes whole FLAC frames and repacks each subframe's
// int32 samples into the adapter's interleaved container width.
func (s *Source) ReadFrames(buf []byte, n int) (int, error) {
	frameBytes := s.f.BytesPerFrame()
	bps := s.f.BytesPerSample()

	written := 0

	for written < n {
		if s.pending == nil {
			fr, err := s.stream.ParseNext()
			if err != nil {
				if err == io.EOF {
					return written, nil
				}

				return written, fmt.Errorf("%w: flac decode: %w", errs.ErrCodecFailure, err)
			}

			s.pending = fr
			s.pendingOff = 0
		}

		fr := s.pending
		blockSize := int(fr.BlockSize)

		for s.skip > 0 && s.pendingOff < blockSize {
			s.pendingOff++
			s.skip--
		}

		for s.pendingOff < blockSize && written < n {
			base := written * frameBytes

			for ch := range s.f.Channels {
				sample := int32(0)
				if ch < len(fr.Subframes) {
					sample = fr.Subframes[ch].Samples[s.pendingOff]
				}

				putLittleEndianSigned(buf[base+ch*bps:base+(ch+1)*bps], sample)
			}

			s.pendingOff++
			written++
		}

		if s.pendingOff >= blockSize {
			s.pending = nil
		}
	}

	return written, nil
}

func putLittleEndianSigned(out []byte, v int32) {
	u := uint32(v)
	for i := range out {
		out[i] = byte(u)
		u >>= 8
	}
}

func (s *Source) Tags() map[string]string { return s.tags }
func (s *Source) Chapters() []Chapter     { return s.chapters }

func (s *Source) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}

	return nil
}

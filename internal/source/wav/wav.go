// Package wav implements the WAV/RF64 Source adapter: it
// probes the RIFF/RF64 magic, parses the fmt chunk (including
// WAVEFORMATEXTENSIBLE), locates the data chunk, and streams interleaved
// PCM frames in the file's native encoding.
package wav

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/farcloser/waveforge/internal/errs"
	"github.com/farcloser/waveforge/internal/format"
	"github.com/farcloser/waveforge/internal/iff"
)

const (
	fmtPCM        = 1
	fmtIEEEFloat  = 3
	fmtExtensible = 0xFFFE
)

var subFormatPCM = [16]byte{
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00,
	0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71,
}

var subFormatFloat = [16]byte{
	0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00,
	0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71,
}

// Chapter is an alias of format.Chapter so this package's Source
// satisfies the shared narrowed Source interface (see
// internal/source/structural) without redeclaring an incompatible type.
type Chapter = format.Chapter

// Source streams PCM frames out of a WAV/RF64 file.
type Source struct {
	r          io.ReadSeeker
	f          format.StreamFormat
	dataOffset int64
	dataSize   int64 // bytes; not consulted when unknownLen is set (--ignore-length on an unknown size)
	pos        int64 // frames read so far
	tags       map[string]string
	unknownLen bool
}

// Options configures WAV edge-case handling: a data chunk whose
// declared size is ~0u is treated as unknown length when
// --ignore-length is asserted.
type Options struct {
	IgnoreLength bool
}

// Open probes r for a RIFF/RF64/WAVE magic and, on success, returns a
// ready-to-read Source. Returns ErrUnsupportedFormat on a probe miss so
// the caller's adapter chain can try the next decoder.
func Open(r io.ReadSeeker, size int64, opts Options) (*Source, error) {
	rd, formatID, err := iff.Probe(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrUnsupportedFormat, err)
	}

	if formatID.String() != "WAVE" {
		return nil, fmt.Errorf("%w: top-level format %q is not WAVE", errs.ErrUnsupportedFormat, formatID)
	}

	src := &Source{r: r, tags: make(map[string]string)}

	var gotFmt, gotData bool

chunks:
	for {
		chunk, err := rd.Next()
		if err != nil {
			return nil, err
		}

		if chunk.ContainerEnd {
			break
		}

		switch chunk.FourCC.String() {
		case "fmt ":
			payload, err := rd.ReadPayload(chunk.Size)
			if err != nil {
				return nil, err
			}

			if src.f, err = parseFmt(payload); err != nil {
				return nil, err
			}

			gotFmt = true

		case "data":
			pos, err := r.Seek(0, io.SeekCurrent)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
			}

			src.dataOffset = pos
			src.dataSize = chunk.Size

			if uint32(chunk.Size) == 0xFFFFFFFF {
				// RF64: the ds64 chunk's own dataSize64 field governs the
				// top-level "data" chunk directly (it is not carried via
				// the per-chunk override table, which is reserved for
				// other chunks that also exceed 32 bits).
				if ds64 := rd.DS64(); ds64 != nil {
					src.dataSize = int64(ds64.DataSize64)
				} else if !opts.IgnoreLength {
					return nil, fmt.Errorf("%w: data chunk has unknown size", errs.ErrMalformedContainer)
				} else {
					src.unknownLen = true
				}
			}

			gotData = true

			if src.unknownLen {
				// No declared size to skip past: the data chunk runs to
				// the end of the stream, so chunk scanning stops here.
				break chunks
			}

			if err := rd.Skip(src.dataSize); err != nil {
				return nil, err
			}

		case "LIST":
			payload, err := rd.ReadPayload(chunk.Size)
			if err != nil {
				return nil, err
			}

			parseListInfo(payload, src.tags)

		default:
			if err := rd.Skip(chunk.Size); err != nil {
				return nil, err
			}
		}
	}

	if !gotFmt || !gotData {
		return nil, fmt.Errorf("%w: missing fmt or data chunk", errs.ErrMalformedContainer)
	}

	if err := src.f.Validate(); err != nil {
		return nil, err
	}

	if _, err := r.Seek(src.dataOffset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	return src, nil
}

func parseFmt(b []byte) (format.StreamFormat, error) {
	if len(b) < 16 {
		return format.StreamFormat{}, fmt.Errorf("%w: fmt chunk too short (%d bytes)", errs.ErrMalformedContainer, len(b))
	}

	tag := binary.LittleEndian.Uint16(b[0:2])
	channels := int(binary.LittleEndian.Uint16(b[2:4]))
	sampleRate := int(binary.LittleEndian.Uint32(b[4:8]))
	containerBits := int(binary.LittleEndian.Uint16(b[14:16]))

	bitsPerSample := containerBits
	var mask uint32

	if tag == fmtExtensible && len(b) >= 40 {
		bitsPerSample = int(binary.LittleEndian.Uint16(b[18:20]))
		mask = binary.LittleEndian.Uint32(b[20:24])

		var sub [16]byte

		copy(sub[:], b[24:40])

		if sub == subFormatFloat {
			tag = fmtIEEEFloat
		} else {
			tag = fmtPCM
		}
	}

	enc := format.SignedInt
	if tag == fmtIEEEFloat {
		enc = format.Float
	} else if bitsPerSample == 8 {
		enc = format.UnsignedInt
	}

	f := format.StreamFormat{
		SampleRate:             sampleRate,
		Channels:               channels,
		Encoding:               enc,
		BitsPerSample:          bitsPerSample,
		ContainerBitsPerSample: containerBits,
		ByteOrder:              format.LittleEndian,
	}

	if mask != 0 {
		if layout, err := format.LayoutFromMask(mask, channels); err == nil {
			f.Layout = layout
		}
	}

	return f, nil
}

// parseListInfo extracts INFO sub-chunks (INAM/IART/etc.) into tags,
// mapped onto the iTunes four-char key set the rest of the pipeline uses.
func parseListInfo(b []byte, tags map[string]string) {
	if len(b) < 4 || string(b[0:4]) != "INFO" {
		return
	}

	var infoToITunes = map[string]string{
		"INAM": "nam", "IART": "ART", "IPRD": "alb", "IGNR": "gen",
		"ICMT": "cmt", "ICRD": "day", "IWRI": "wrt",
	}

	pos := 4
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		pos += 8

		if pos+size > len(b) {
			break
		}

		if key, ok := infoToITunes[id]; ok {
			value := string(b[pos : pos+size])
			for len(value) > 0 && value[len(value)-1] == 0 {
				value = value[:len(value)-1]
			}

			tags[key] = value
		}

		pos += size
		if size%2 != 0 {
			pos++
		}
	}
}

func (s *Source) Format() format.StreamFormat { return s.f }

func (s *Source) Length() (int64, bool) {
	if s.unknownLen {
		return 0, false
	}

	return s.dataSize / int64(s.f.BytesPerFrame()), true
}

func (s *Source) Seekable() bool { return true }

func (s *Source) Seek(frame int64) error {
	off := s.dataOffset + frame*int64(s.f.BytesPerFrame())

	if _, err := s.r.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	s.pos = frame

	return nil
}

func (s *Source) ReadFrames(buf []byte, n int) (int, error) {
	frameBytes := s.f.BytesPerFrame()

	if !s.unknownLen {
		total, _ := s.Length()

		remaining := total - s.pos
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

func (s *Source) Tags() map[string]string { return s.tags }
func (s *Source) Chapters() []Chapter     { return nil }

func (s *Source) Close() error {
	if closer, ok := s.r.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}

// Package wavpack implements the WavPack Source adapter.
// The block header and APEv2 tag block are parsed natively in Go (the
// channel count comes from the mono flag alone; no channel mask is read,
// so the format carries no Layout); the entropy-coded residual decode is delegated to the external
// `wvunpack` command-line tool via internal/integration/codeckernel,
// the same treatment the AAC/ALAC encoders get on the sink side.
package wavpack

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/farcloser/waveforge/internal/errs"
	"github.com/farcloser/waveforge/internal/format"
	"github.com/farcloser/waveforge/internal/integration/codeckernel"
)

const blockHeaderSize = 32

// WavPack flags-word bit layout (subset the adapter needs).
const (
	flagBytesStoredMask = 0x3   // bits 0-1: bytes stored minus one
	flagMono             = 0x4  // bit 2: mono flag
	flagShift            = 0x1F // bits 13-17: left-shift amount
	flagShiftPos         = 13
	flagFloat            = 1 << 7
)

var sampleRateTable = [15]int{
	6000, 8000, 9600, 11025, 12000, 16000, 22050, 24000,
	32000, 44100, 48000, 64000, 88200, 96000, 192000,
}

type blockHeader struct {
	ckSize       uint32
	totalSamples uint32
	flags        uint32
}

func parseBlockHeader(b []byte) (blockHeader, error) {
	if len(b) < blockHeaderSize || string(b[0:4]) != "wvpk" {
		return blockHeader{}, fmt.Errorf("%w: not a wavpack block", errs.ErrUnsupportedFormat)
	}

	return blockHeader{
		ckSize:       binary.LittleEndian.Uint32(b[4:8]),
		totalSamples: binary.LittleEndian.Uint32(b[12:16]),
		flags:        binary.LittleEndian.Uint32(b[24:28]),
	}, nil
}

func (h blockHeader) channels() int {
	if h.flags&flagMono != 0 {
		return 1
	}

	return 2
}

func (h blockHeader) bitsPerSample() int {
	return int(h.flags&flagBytesStoredMask+1) * 8
}

func (h blockHeader) isFloat() bool {
	return h.flags&flagFloat != 0
}

// Chapter is an alias of format.Chapter (see internal/source/wav's
// identical note).
type Chapter = format.Chapter

// Source streams PCM decoded from a WavPack file by shelling out to
// wvunpack for the entropy stage.
type Source struct {
	f        format.StreamFormat
	length   int64
	lenKnown bool
	tags     map[string]string

	pcm    *bufio.Reader
	closer io.Closer
	pos    int64
}

// Open probes r for the "wvpk" block magic, resolves StreamFormat and
// tags natively, then starts an external wvunpack process streaming raw
// PCM from the decoded file.
func Open(ctx context.Context, r io.ReadSeeker, path string) (*Source, error) {
	closer, _ := r.(io.Closer)

	var hdr [blockHeaderSize]byte

	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: wavpack header: %w", errs.ErrShortRead, err)
	}

	bh, err := parseBlockHeader(hdr[:])
	if err != nil {
		return nil, err
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	sampleRate := sampleRateTable[(binary.LittleEndian.Uint32(hdr[24:28])>>23)&0xF]

	enc := format.SignedInt
	if bh.isFloat() {
		enc = format.Float
	}

	f := format.StreamFormat{
		SampleRate:             sampleRate,
		Channels:               bh.channels(),
		Encoding:               enc,
		BitsPerSample:          bh.bitsPerSample(),
		ContainerBitsPerSample: bh.bitsPerSample(),
		ByteOrder:              format.LittleEndian,
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()

	go func() {
		err := codeckernel.DecodeRaw(ctx, "wvunpack", []string{"-q", "-o", "-", path}, nil, pw)
		_ = pw.CloseWithError(err)
	}()

	src := &Source{
		f:        f,
		length:   int64(bh.totalSamples),
		lenKnown: bh.totalSamples > 0,
		tags:     parseAPEv2Tags(r),
		pcm:      bufio.NewReaderSize(pr, 64*1024),
		closer:   closer,
	}

	// Discard the WAV container header wvunpack's "-o -" output wraps the
	// raw PCM in (a 44-byte canonical RIFF header); the adapter wants
	// interleaved samples only.
	var wavHdr [44]byte
	if _, err := io.ReadFull(src.pcm, wavHdr[:]); err != nil {
		return nil, fmt.Errorf("%w: wvunpack output header: %w", errs.ErrCodecFailure, err)
	}

	return src, nil
}

// parseAPEv2Tags scans the trailing APEv2 tag block, if present, for the
// handful of fields the pipeline cares about. A missing/unsupported APEv2
// footer yields an empty tag set rather than an error.
func parseAPEv2Tags(r io.ReadSeeker) map[string]string {
	tags := make(map[string]string)

	end, err := r.Seek(0, io.SeekEnd)
	if err != nil || end < 32 {
		return tags
	}

	var footer [32]byte

	if _, err := r.Seek(end-32, io.SeekStart); err != nil {
		return tags
	}

	if _, err := io.ReadFull(r, footer[:]); err != nil || string(footer[0:8]) != "APETAGEX" {
		return tags
	}

	tagSize := binary.LittleEndian.Uint32(footer[12:16])
	itemCount := binary.LittleEndian.Uint32(footer[16:20])

	if _, err := r.Seek(end-int64(tagSize), io.SeekStart); err != nil {
		return tags
	}

	buf := make([]byte, tagSize-32)
	if _, err := io.ReadFull(r, buf); err != nil {
		return tags
	}

	off := 0

	for range itemCount {
		if off+8 > len(buf) {
			break
		}

		valSize := int(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 8 // value size + flags

		nameEnd := off
		for nameEnd < len(buf) && buf[nameEnd] != 0 {
			nameEnd++
		}

		name := string(buf[off:nameEnd])
		off = nameEnd + 1

		if off+valSize > len(buf) {
			break
		}

		tags[apev2ToITunes(name)] = string(buf[off : off+valSize])
		off += valSize
	}

	return tags
}

func apev2ToITunes(key string) string {
	switch key {
	case "Title":
		return "nam"
	case "Artist":
		return "ART"
	case "Album":
		return "alb"
	case "Genre":
		return "gen"
	case "Year":
		return "day"
	case "Comment":
		return "cmt"
	default:
		return "----:com.apple.iTunes:" + key
	}
}

func (s *Source) Format() format.StreamFormat { return s.f }
func (s *Source) Length() (int64, bool)       { return s.length, s.lenKnown }
func (s *Source) Seekable() bool              { return false }

func (s *Source) Seek(int64) error {
	return fmt.Errorf("%w: wavpack source streams from an external decoder", errs.ErrSeekUnsupported)
}

func (s *Source) ReadFrames(buf []byte, n int) (int, error) {
	frameBytes := s.f.BytesPerFrame()

	need := n * frameBytes
	if need > len(buf) {
		n = len(buf) / frameBytes
		need = n * frameBytes
	}

	read, err := io.ReadFull(s.pcm, buf[:need])
	frames := read / frameBytes

	s.pos += int64(frames)

	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return frames, nil
		}

		return frames, fmt.Errorf("%w: %w", errs.ErrCodecFailure, err)
	}

	return frames, nil
}

func (s *Source) Tags() map[string]string { return s.tags }
func (s *Source) Chapters() []Chapter     { return nil }

func (s *Source) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}

	return nil
}

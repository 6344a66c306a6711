// Package wav implements the WAV/RF64 sink: header synthesis (including
// WAVEFORMATEXTENSIBLE), sample packing at the sink boundary (byte-swap,
// 8-bit sign flip), and ds64 back-patching on finalize for outputs
// exceeding 4 GiB.
package wav

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/farcloser/waveforge/internal/errs"
	"github.com/farcloser/waveforge/internal/format"
)

const rf64Threshold = int64(1) << 32 // 4 GiB

var subFormatPCM = [16]byte{
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00,
	0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71,
}

var subFormatFloat = [16]byte{
	0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00,
	0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71,
}

// Sink writes a RIFF/RF64 WAVE file.
type Sink struct {
	w        io.Writer
	ws       io.WriteSeeker // non-nil when w is seekable
	f        format.StreamFormat
	dataSize int64
	odd      bool
	closed   bool
}

// New opens a WAV/RF64 sink writing f-formatted frames to w. If w also
// implements io.WriteSeeker, the sink reserves a 36-byte JUNK chunk for
// later ds64 back-patching and fixes up sizes on Finalize instead of
// streaming an unknown-length header.
func New(w io.Writer, f format.StreamFormat) (*Sink, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	s := &Sink{w: w, f: f}
	if ws, ok := w.(io.WriteSeeker); ok {
		s.ws = ws
	}

	if err := s.writeHeader(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Sink) extensible() bool {
	return s.f.Channels > 2 || s.f.BitsPerSample > 16 || s.f.Encoding == format.Float || s.f.Layout != nil
}

func (s *Sink) writeHeader() error {
	var riff [12]byte

	copy(riff[0:4], "RIFF")
	copy(riff[8:12], "WAVE")
	// Placeholder size, patched on Finalize for seekable output.
	binary.LittleEndian.PutUint32(riff[4:8], 0xFFFFFFFF)

	if _, err := s.w.Write(riff[:]); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	if s.ws != nil {
		// 36 bytes total (8-byte header + 28-byte payload), exactly the
		// ds64 chunk that replaces it if the output outgrows 4 GiB.
		var junk [8 + 28]byte

		copy(junk[0:4], "JUNK")
		binary.LittleEndian.PutUint32(junk[4:8], 28)

		if _, err := s.w.Write(junk[:]); err != nil {
			return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
		}
	}

	fmtChunk := s.buildFmtChunk()
	if _, err := s.w.Write(fmtChunk); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	var dataHdr [8]byte

	copy(dataHdr[0:4], "data")
	binary.LittleEndian.PutUint32(dataHdr[4:8], 0xFFFFFFFF)

	if _, err := s.w.Write(dataHdr[:]); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	return nil
}

func (s *Sink) buildFmtChunk() []byte {
	ext := s.extensible()

	size := 16
	if ext {
		size = 40
	}

	buf := make([]byte, 8+size)
	copy(buf[0:4], "fmt ")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(size))

	tag := uint16(1)
	if ext {
		tag = 0xFFFE
	} else if s.f.Encoding == format.Float {
		tag = 3
	}

	binary.LittleEndian.PutUint16(buf[8:10], tag)
	binary.LittleEndian.PutUint16(buf[10:12], uint16(s.f.Channels))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(s.f.SampleRate))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(s.f.SampleRate*s.f.BytesPerFrame()))
	binary.LittleEndian.PutUint16(buf[20:22], uint16(s.f.BytesPerFrame()))
	binary.LittleEndian.PutUint16(buf[22:24], uint16(s.f.ContainerBitsPerSample))

	if ext {
		binary.LittleEndian.PutUint16(buf[24:26], 22) // cbSize
		binary.LittleEndian.PutUint16(buf[26:28], uint16(s.f.BitsPerSample))

		var mask uint32
		if s.f.Layout != nil {
			mask = format.MaskFromLayout(s.f.Layout)
		}

		binary.LittleEndian.PutUint32(buf[28:32], mask)

		sub := subFormatPCM
		if s.f.Encoding == format.Float {
			sub = subFormatFloat
		}

		copy(buf[32:48], sub[:])
	}

	return buf
}

// WriteFrames packs nFrames frames (already in the sink's container
// width) from buf, byte-swapping native-BE samples into little-endian
// storage and flipping 8-bit signed to WAVE's unsigned convention at
// the sink boundary.
func (s *Sink) WriteFrames(buf []byte, nBytes int, nFrames int) error {
	out := buf[:nBytes]

	if s.needsPacking() {
		packed := make([]byte, nBytes)
		copy(packed, out)
		s.pack(packed)
		out = packed
	}

	if _, err := s.w.Write(out); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	s.dataSize += int64(nBytes)

	return nil
}

func (s *Sink) needsPacking() bool {
	if s.f.ByteOrder == format.BigEndian {
		return true
	}

	return s.f.ContainerBitsPerSample == 8 && s.f.Encoding == format.SignedInt
}

func (s *Sink) pack(b []byte) {
	width := s.f.BytesPerSample()

	if s.f.ByteOrder == format.BigEndian && width > 1 {
		for off := 0; off+width <= len(b); off += width {
			for i, j := off, off+width-1; i < j; i, j = i+1, j-1 {
				b[i], b[j] = b[j], b[i]
			}
		}
	}

	if s.f.ContainerBitsPerSample == 8 && s.f.Encoding == format.SignedInt {
		for i := range b {
			b[i] ^= 0x80
		}
	}
}

func (s *Sink) Format() format.StreamFormat { return s.f }

// Finalize pads to an even byte count, then either back-patches the
// 32-bit RIFF/data sizes (if the total fits in 4 GiB) or rewrites the
// leading RIFF as RF64 and fills the reserved JUNK chunk as ds64.
func (s *Sink) Finalize() error {
	if s.dataSize%2 != 0 {
		if _, err := s.w.Write([]byte{0}); err != nil {
			return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
		}

		s.odd = true
	}

	if s.ws == nil {
		return nil
	}

	riffSize := s.riffSize()

	if riffSize <= rf64Threshold {
		return s.patch32()
	}

	return s.patchRF64()
}

func (s *Sink) riffSize() int64 {
	fmtSize := int64(8 + fmtChunkSize(s))

	return 4 + int64(junkChunkSize(s)) + fmtSize + 8 + s.dataSize // "WAVE" + junk + fmt chunk + data header + payload
}

func (s *Sink) patch32() error {
	if _, err := s.ws.Seek(4, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	var sz [4]byte

	binary.LittleEndian.PutUint32(sz[:], uint32(s.riffSize()))

	if _, err := s.ws.Write(sz[:]); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	dataSizeOffset := int64(12) + int64(junkChunkSize(s)) + int64(8+fmtChunkSize(s)) + 4

	if _, err := s.ws.Seek(dataSizeOffset, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	binary.LittleEndian.PutUint32(sz[:], uint32(s.dataSize))

	if _, err := s.ws.Write(sz[:]); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	return nil
}

func (s *Sink) patchRF64() error {
	if _, err := s.ws.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	if _, err := s.ws.Write([]byte("RF64")); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	var ds64 [8 + 28]byte

	copy(ds64[0:4], "ds64")
	binary.LittleEndian.PutUint32(ds64[4:8], 28) // no size-1 table entries
	binary.LittleEndian.PutUint64(ds64[8:16], uint64(s.riffSize()))
	binary.LittleEndian.PutUint64(ds64[16:24], uint64(s.dataSize))
	binary.LittleEndian.PutUint64(ds64[24:32], uint64(s.dataSize/int64(s.f.BytesPerFrame())))

	if _, err := s.ws.Seek(12, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	if _, err := s.ws.Write(ds64[:]); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	return nil
}

func junkChunkSize(s *Sink) int {
	if s.ws == nil {
		return 0
	}

	return 8 + 28
}

func fmtChunkSize(s *Sink) int {
	if s.extensible() {
		return 40
	}

	return 16
}

func (s *Sink) Close() error {
	if closer, ok := s.w.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}

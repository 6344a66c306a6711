package lowpass_test

import (
	"math"
	"testing"

	"github.com/farcloser/waveforge/internal/dsp/lowpass"
	"github.com/farcloser/waveforge/internal/format"
)

func monoFloatFormat(rate int) format.StreamFormat {
	return format.StreamFormat{
		SampleRate: rate, Channels: 1, Encoding: format.Float,
		BitsPerSample: 32, ContainerBitsPerSample: 32, ByteOrder: format.LittleEndian,
	}
}

func putFloat32LE(buf []byte, off int, v float32) {
	bits := math.Float32bits(v)
	buf[off] = byte(bits)
	buf[off+1] = byte(bits >> 8)
	buf[off+2] = byte(bits >> 16)
	buf[off+3] = byte(bits >> 24)
}

func readFloat32LE(buf []byte, off int) float32 {
	bits := uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
	return math.Float32frombits(bits)
}

type constSource struct {
	f      format.StreamFormat
	amp    float32
	length int
	pos    int
}

func (s *constSource) Format() format.StreamFormat { return s.f }
func (s *constSource) Length() (int64, bool)       { return int64(s.length), true }
func (s *constSource) Seekable() bool              { return false }
func (s *constSource) Seek(int64) error             { return nil }
func (s *constSource) Tags() map[string]string     { return nil }
func (s *constSource) Chapters() []format.Chapter  { return nil }
func (s *constSource) Close() error                 { return nil }

func (s *constSource) ReadFrames(buf []byte, n int) (int, error) {
	remaining := s.length - s.pos
	if remaining <= 0 {
		return 0, nil
	}

	if n > remaining {
		n = remaining
	}

	for i := range n {
		putFloat32LE(buf, i*4, s.amp)
	}

	s.pos += n

	return n, nil
}

// TestNewRejectsOutOfRangeCutoff verifies a cutoff at or above Nyquist
// is rejected.
func TestNewRejectsOutOfRangeCutoff(t *testing.T) {
	t.Parallel()

	src := &constSource{f: monoFloatFormat(44100), length: 10}

	if _, err := lowpass.New(src, 22050, 31); err == nil {
		t.Fatal("expected error for cutoff at Nyquist")
	}

	if _, err := lowpass.New(src, 0, 31); err == nil {
		t.Fatal("expected error for non-positive cutoff")
	}
}

// TestNewForcesOddTapCount verifies an even tap count is bumped to odd
// so the filter has an integer-sample group delay.
func TestNewForcesOddTapCount(t *testing.T) {
	t.Parallel()

	src := &constSource{f: monoFloatFormat(44100), length: 10}

	st, err := lowpass.New(src, 1000, 30)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if st.Latency() != 15 { // (31-1)/2
		t.Errorf("Latency = %d, want 15 (30 bumped to 31 taps)", st.Latency())
	}
}

// TestDCGainConvergesToUnity verifies a constant (DC) input converges
// to its own amplitude once the filter's history window fills, since
// the normalized tap sum is 1 at DC.
func TestDCGainConvergesToUnity(t *testing.T) {
	t.Parallel()

	const amp = float32(0.5)

	src := &constSource{f: monoFloatFormat(44100), amp: amp, length: 500}

	st, err := lowpass.New(src, 2000, 31)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	buf := make([]byte, 500*4)

	n, err := st.ReadFrames(buf, 500)
	if err != nil {
		t.Fatalf("ReadFrames: %v", err)
	}

	if n != 500 {
		t.Fatalf("n = %d, want 500", n)
	}

	tail := readFloat32LE(buf, (n-1)*4)
	if math.Abs(float64(tail-amp)) > 0.01 {
		t.Errorf("steady-state DC output = %v, want ~%v", tail, amp)
	}
}

// TestSeekUnsupported verifies the filter refuses to seek, since it
// holds per-channel convolution history that a seek would invalidate.
func TestSeekUnsupported(t *testing.T) {
	t.Parallel()

	src := &constSource{f: monoFloatFormat(44100), length: 10}

	st, err := lowpass.New(src, 1000, 31)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if st.Seekable() {
		t.Error("Seekable() = true, want false")
	}

	if err := st.Seek(0); err == nil {
		t.Error("expected Seek to fail")
	}
}

package scaler_test

import (
	"math"
	"testing"

	"github.com/farcloser/waveforge/internal/dsp/scaler"
	"github.com/farcloser/waveforge/internal/format"
)

func floatFormat(channels int) format.StreamFormat {
	return format.StreamFormat{
		SampleRate: 44100, Channels: channels, Encoding: format.Float,
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

type memSource struct {
	f    format.StreamFormat
	data []byte
	pos  int
}

func (s *memSource) Format() format.StreamFormat { return s.f }
func (s *memSource) Length() (int64, bool)       { return 0, false }
func (s *memSource) Seekable() bool              { return false }
func (s *memSource) Seek(int64) error             { return nil }
func (s *memSource) Tags() map[string]string     { return nil }
func (s *memSource) Chapters() []format.Chapter  { return nil }
func (s *memSource) Close() error                 { return nil }

func (s *memSource) ReadFrames(buf []byte, n int) (int, error) {
	frameBytes := s.f.BytesPerFrame()

	avail := (len(s.data) - s.pos) / frameBytes
	if n > avail {
		n = avail
	}

	need := n * frameBytes
	copy(buf, s.data[s.pos:s.pos+need])
	s.pos += need

	return n, nil
}

// TestParseGainLinear verifies a bare number parses as a linear
// multiplier.
func TestParseGainLinear(t *testing.T) {
	t.Parallel()

	g, err := scaler.ParseGain("0.5")
	if err != nil {
		t.Fatalf("ParseGain: %v", err)
	}

	if g != 0.5 {
		t.Errorf("gain = %v, want 0.5", g)
	}
}

// TestParseGainDecibels verifies a signed dB value converts via
// 10^(db/20).
func TestParseGainDecibels(t *testing.T) {
	t.Parallel()

	g, err := scaler.ParseGain("+6dB")
	if err != nil {
		t.Fatalf("ParseGain: %v", err)
	}

	want := math.Pow(10, 6.0/20)
	if math.Abs(g-want) > 1e-9 {
		t.Errorf("gain = %v, want %v", g, want)
	}

	g2, err := scaler.ParseGain("-6db")
	if err != nil {
		t.Fatalf("ParseGain: %v", err)
	}

	want2 := math.Pow(10, -6.0/20)
	if math.Abs(g2-want2) > 1e-9 {
		t.Errorf("gain = %v, want %v", g2, want2)
	}
}

// TestParseGainDecibelsRequiresSign verifies an unsigned dB string is
// rejected, since a bare number is ambiguous with a linear multiplier
// below 1.
func TestParseGainDecibelsRequiresSign(t *testing.T) {
	t.Parallel()

	if _, err := scaler.ParseGain("6dB"); err == nil {
		t.Fatal("expected error for unsigned dB gain")
	}
}

// TestStageMultipliesEverySample verifies Stage.ReadFrames multiplies
// each interleaved float32 sample by the configured linear gain.
func TestStageMultipliesEverySample(t *testing.T) {
	t.Parallel()

	f := floatFormat(2)

	data := make([]byte, 2*f.BytesPerFrame())
	putFloat32LE(data, 0, 0.1)
	putFloat32LE(data, 4, 0.2)
	putFloat32LE(data, 8, -0.3)
	putFloat32LE(data, 12, 0.4)

	src := &memSource{f: f, data: data}
	st := scaler.New(src, 2.0)

	buf := make([]byte, len(data))

	n, err := st.ReadFrames(buf, 2)
	if err != nil {
		t.Fatalf("ReadFrames: %v", err)
	}

	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}

	want := []float32{0.2, 0.4, -0.6, 0.8}
	for i, w := range want {
		got := readFloat32LE(buf, i*4)
		if math.Abs(float64(got-w)) > 1e-6 {
			t.Errorf("sample %d = %v, want %v", i, got, w)
		}
	}
}

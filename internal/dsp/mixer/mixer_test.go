package mixer_test

import (
	"math"
	"testing"

	"github.com/farcloser/waveforge/internal/dsp/mixer"
	"github.com/farcloser/waveforge/internal/format"
)

type memSource struct {
	f      format.StreamFormat
	frames [][]float32
	pos    int
}

func (m *memSource) Format() format.StreamFormat { return m.f }
func (m *memSource) Length() (int64, bool)       { return int64(len(m.frames)), true }
func (m *memSource) Seekable() bool              { return true }
func (m *memSource) Seek(frame int64) error      { m.pos = int(frame); return nil }
func (m *memSource) Tags() map[string]string     { return nil }
func (m *memSource) Chapters() []format.Chapter  { return nil }
func (m *memSource) Close() error                { return nil }

func (m *memSource) ReadFrames(buf []byte, n int) (int, error) {
	if m.pos >= len(m.frames) {
		return 0, nil
	}

	avail := len(m.frames) - m.pos
	if n > avail {
		n = avail
	}

	ch := m.f.Channels

	for i := range n {
		for c := range ch {
			putFloat32LE(buf[(i*ch+c)*4:(i*ch+c)*4+4], m.frames[m.pos+i][c])
		}
	}

	m.pos += n

	return n, nil
}

func putFloat32LE(b []byte, v float32) {
	bits := math.Float32bits(v)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
}

func readFloat32LE(b []byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24

	return math.Float32frombits(bits)
}

func stereoFormat() format.StreamFormat {
	return format.StreamFormat{
		SampleRate: 44100, Channels: 2, Encoding: format.Float,
		BitsPerSample: 32, ContainerBitsPerSample: 32, ByteOrder: format.LittleEndian,
	}
}

func TestMonoDownmixPreset(t *testing.T) {
	t.Parallel()

	src := &memSource{f: stereoFormat(), frames: [][]float32{{1, 0}, {0, 1}, {0.5, 0.5}}}

	st, err := mixer.New(src, mixer.Presets["mono"], false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if st.Format().Channels != 1 {
		t.Fatalf("output channels = %d, want 1", st.Format().Channels)
	}

	out := make([]byte, 3*4)

	n, err := st.ReadFrames(out, 3)
	if err != nil {
		t.Fatalf("ReadFrames: %v", err)
	}

	if n != 3 {
		t.Fatalf("n = %d, want 3", n)
	}

	want := []float32{0.5, 0.5, 0.5}
	for i, w := range want {
		got := readFloat32LE(out[i*4 : i*4+4])
		if math.Abs(float64(got-w)) > 1e-5 {
			t.Errorf("frame %d: got %v, want %v", i, got, w)
		}
	}
}

func TestInvalidMatrixRaggedRows(t *testing.T) {
	t.Parallel()

	src := &memSource{f: stereoFormat(), frames: [][]float32{{0, 0}}}

	bad := mixer.Matrix{
		{{Real: 1}, {Real: 0}},
		{{Real: 0}},
	}

	if _, err := mixer.New(src, bad, false); err == nil {
		t.Fatal("expected error for ragged matrix row")
	}
}

func TestInvalidMatrixMixedRealImaginaryColumn(t *testing.T) {
	t.Parallel()

	src := &memSource{f: stereoFormat(), frames: [][]float32{{0, 0}}}

	bad := mixer.Matrix{
		{{Real: 1}, {Real: 0}},
		{{Imag: 1}, {Real: 0}},
	}

	if _, err := mixer.New(src, bad, false); err == nil {
		t.Fatal("expected error for column mixing real and imaginary coefficients")
	}
}

func TestInvalidMatrixChannelCountMismatch(t *testing.T) {
	t.Parallel()

	src := &memSource{f: stereoFormat(), frames: [][]float32{{0, 0}}}

	bad := mixer.Matrix{
		{{Real: 1}, {Real: 0}, {Real: 0}},
	}

	if _, err := mixer.New(src, bad, false); err == nil {
		t.Fatal("expected error for matrix column count != input channel count")
	}
}

func TestRowNormalizationPreservesEnergy(t *testing.T) {
	t.Parallel()

	src := &memSource{f: stereoFormat(), frames: [][]float32{{1, 1}}}

	m := mixer.Matrix{
		{{Real: 2}, {Real: 2}}, // sum |coeff| = 4, normalized divides by 4
	}

	st, err := mixer.New(src, m, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out := make([]byte, 4)

	if _, err := st.ReadFrames(out, 1); err != nil {
		t.Fatalf("ReadFrames: %v", err)
	}

	got := readFloat32LE(out)

	want := float32(1.0) // (2*1 + 2*1) / 4 == 1
	if math.Abs(float64(got-want)) > 1e-5 {
		t.Fatalf("normalized output = %v, want %v", got, want)
	}
}

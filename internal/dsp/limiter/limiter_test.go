package limiter_test

import (
	"math"
	"testing"

	"github.com/farcloser/waveforge/internal/dsp/limiter"
	"github.com/farcloser/waveforge/internal/format"
)

type memSource struct {
	f      format.StreamFormat
	frames [][]float32
	pos    int
}

func (m *memSource) Format() format.StreamFormat    { return m.f }
func (m *memSource) Length() (int64, bool)          { return int64(len(m.frames)), true }
func (m *memSource) Seekable() bool                 { return true }
func (m *memSource) Seek(frame int64) error         { m.pos = int(frame); return nil }
func (m *memSource) Tags() map[string]string        { return nil }
func (m *memSource) Chapters() []format.Chapter     { return nil }
func (m *memSource) Close() error                   { return nil }

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
			v := m.frames[m.pos+i][c]
			off := (i*ch + c) * 4
			putFloat32LE(buf[off:off+4], v)
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

func floatFormat(channels int) format.StreamFormat {
	return format.StreamFormat{
		SampleRate: 44100, Channels: channels, Encoding: format.Float,
		BitsPerSample: 32, ContainerBitsPerSample: 32, ByteOrder: format.LittleEndian,
	}
}

func readFloat32LE(b []byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24

	return math.Float32frombits(bits)
}

// TestLimiterNeverExceedsThreshold verifies max output stays at or
// under the threshold for any input bounded by |x| <= 1. A sine
// crossing zero each half-cycle gives the limiter plenty of shaping
// regions to resolve without unbounded latency.
func TestLimiterNeverExceedsThreshold(t *testing.T) {
	t.Parallel()

	const n = 2000

	frames := make([][]float32, n)

	for i := range n {
		v := float32(math.Sin(2 * math.Pi * float64(i) / 37))
		frames[i] = []float32{v}
	}

	src := &memSource{f: floatFormat(1), frames: frames}
	st := limiter.New(src)

	out := make([]byte, n*4)

	total := 0
	for {
		m, err := st.ReadFrames(out[total*4:], n)
		if err != nil {
			t.Fatalf("ReadFrames: %v", err)
		}

		if m == 0 {
			break
		}

		total += m

		if total >= n {
			break
		}
	}

	if total == 0 {
		t.Fatal("limiter produced no output at all")
	}

	for i := range total {
		v := readFloat32LE(out[i*4 : i*4+4])
		if math.Abs(float64(v)) > limiter.Threshold+1e-6 {
			t.Fatalf("frame %d: |%v| exceeds threshold %v", i, v, limiter.Threshold)
		}
	}
}

// TestLimiterPassesQuietSignalUnchanged verifies samples well under
// threshold are not reshaped (no region opens for them).
func TestLimiterPassesQuietSignalUnchanged(t *testing.T) {
	t.Parallel()

	const n = 200

	frames := make([][]float32, n)

	for i := range n {
		v := float32(0.1 * math.Sin(2*math.Pi*float64(i)/23))
		frames[i] = []float32{v}
	}

	src := &memSource{f: floatFormat(1), frames: frames}
	st := limiter.New(src)

	out := make([]byte, n*4)

	total := 0
	for {
		m, err := st.ReadFrames(out[total*4:], n-total)
		if err != nil {
			t.Fatalf("ReadFrames: %v", err)
		}

		if m == 0 {
			break
		}

		total += m
	}

	for i := range total {
		got := readFloat32LE(out[i*4 : i*4+4])
		want := frames[i][0]

		if math.Abs(float64(got-want)) > 1e-5 {
			t.Errorf("frame %d: got %v, want unchanged %v", i, got, want)
		}
	}
}

package compressor_test

import (
	"math"
	"testing"

	"github.com/farcloser/waveforge/internal/dsp/compressor"
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

func floatFormat(rate int) format.StreamFormat {
	return format.StreamFormat{
		SampleRate: rate, Channels: 1, Encoding: format.Float,
		BitsPerSample: 32, ContainerBitsPerSample: 32, ByteOrder: format.LittleEndian,
	}
}

// TestSteadyStateGainReduction verifies that for steady-state input
// above threshold, the settled gain reduction equals
// slope*(input_dB - threshold) within 0.1 dB. A constant-magnitude
// input (peak per frame is always the same) reaches steady state
// fastest.
func TestSteadyStateGainReduction(t *testing.T) {
	t.Parallel()

	const rate = 44100

	const n = 20000

	inputLevel := float32(0.5) // constant magnitude every frame

	frames := make([][]float32, n)
	for i := range n {
		frames[i] = []float32{inputLevel}
	}

	src := &memSource{f: floatFormat(rate), frames: frames}

	params := compressor.Params{
		ThresholdDB: -20,
		RatioToOne:  4,
		KneeWidthDB: 0,
		AttackSec:   0.001,
		ReleaseSec:  0.001,
	}

	st := compressor.New(src, params)

	out := make([]byte, n*4)

	total := 0
	for total < n {
		m, err := st.ReadFrames(out[total*4:], n-total)
		if err != nil {
			t.Fatalf("ReadFrames: %v", err)
		}

		if m == 0 {
			break
		}

		total += m
	}

	if total != n {
		t.Fatalf("total = %d, want %d", total, n)
	}

	inputDB := 20 * math.Log10(float64(inputLevel))
	slope := (1 - params.RatioToOne) / params.RatioToOne
	wantGainDB := slope * (inputDB - params.ThresholdDB)
	wantOut := float32(math.Pow(10, wantGainDB/20)) * inputLevel

	// Sample the tail, well past the attack/release settling time.
	got := readFloat32LE(out[(n-1)*4 : n*4])

	if math.Abs(float64(got-wantOut)) > 0.01 {
		t.Fatalf("steady-state output = %v, want ~%v (gain reduction %.3f dB)", got, wantOut, wantGainDB)
	}
}

// TestBelowThresholdUnaffected verifies input under T_lo gets zero gain
// reduction (the G(x) branch below the knee).
func TestBelowThresholdUnaffected(t *testing.T) {
	t.Parallel()

	const n = 1000

	inputLevel := float32(0.01) // well under -20 dB threshold

	frames := make([][]float32, n)
	for i := range n {
		frames[i] = []float32{inputLevel}
	}

	src := &memSource{f: floatFormat(44100), frames: frames}

	st := compressor.New(src, compressor.Params{
		ThresholdDB: -20, RatioToOne: 4, KneeWidthDB: 0, AttackSec: 0.001, ReleaseSec: 0.001,
	})

	out := make([]byte, n*4)

	total := 0
	for total < n {
		m, err := st.ReadFrames(out[total*4:], n-total)
		if err != nil {
			t.Fatalf("ReadFrames: %v", err)
		}

		if m == 0 {
			break
		}

		total += m
	}

	got := readFloat32LE(out[(n-1)*4 : n*4])
	if math.Abs(float64(got-inputLevel)) > 1e-4 {
		t.Fatalf("below-threshold output = %v, want ~unchanged %v", got, inputLevel)
	}
}

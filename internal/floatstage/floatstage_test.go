package floatstage_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/farcloser/waveforge/internal/floatstage"
	"github.com/farcloser/waveforge/internal/format"
)

func intFormat(bits, container int, order format.ByteOrder) format.StreamFormat {
	return format.StreamFormat{
		SampleRate:             44100,
		Channels:               1,
		Encoding:               format.SignedInt,
		BitsPerSample:          bits,
		ContainerBitsPerSample: container,
		ByteOrder:              order,
	}
}

// TestIntFloatIntInvolution verifies the staging involution: "
// involution up to precision": int -> f32 -> int at the same depth must
// be bit-exact for depth <= 24.
func TestIntFloatIntInvolution(t *testing.T) {
	t.Parallel()

	for _, bits := range []int{8, 16, 24} {
		f := intFormat(bits, bits, format.LittleEndian)
		if bits == 8 {
			f.ContainerBitsPerSample = 8
		}

		bps := f.BytesPerSample()

		values := []int32{0, 1, -1, 42, -42}
		max := int32(1)<<(uint(bits)-1) - 1
		min := -(int32(1) << (uint(bits) - 1))
		values = append(values, max, min)

		for _, v := range values {
			raw := make([]byte, bps)
			writeSigned(raw, v, bps)

			var fbuf [1]float32

			if _, err := floatstage.ReadAsFloat(f, raw, fbuf[:]); err != nil {
				t.Fatalf("bits=%d ReadAsFloat: %v", bits, err)
			}

			out := make([]byte, bps)
			floatstage.WriteAsContainer(f, fbuf[:], out)

			got := readSigned(out, bps)
			if got != v {
				t.Errorf("bits=%d: round trip %d -> %v -> %d, want exact", bits, v, fbuf[0], got)
			}
		}
	}
}

func writeSigned(raw []byte, v int32, width int) {
	u := uint32(v)
	for i := range width {
		raw[i] = byte(u)
		u >>= 8
	}
}

func readSigned(raw []byte, width int) int32 {
	var u uint32
	for i := width - 1; i >= 0; i-- {
		u = u<<8 | uint32(raw[i])
	}

	switch width {
	case 1:
		return int32(int8(u))
	case 2:
		return int32(int16(u))
	case 3:
		signed := int32(u << 8)

		return signed >> 8
	default:
		return int32(u)
	}
}

// TestBigEndianByteSwap verifies a big-endian source is byte-swapped
// into host order before conversion.
func TestBigEndianByteSwap(t *testing.T) {
	t.Parallel()

	f := intFormat(16, 16, format.BigEndian)

	raw := []byte{0x7F, 0xFF} // +32767 big-endian

	var fbuf [1]float32

	if _, err := floatstage.ReadAsFloat(f, raw, fbuf[:]); err != nil {
		t.Fatalf("ReadAsFloat: %v", err)
	}

	want := float32(32767) / float32(32768)
	if math.Abs(float64(fbuf[0]-want)) > 1e-6 {
		t.Fatalf("got %v, want %v", fbuf[0], want)
	}
}

// TestUnsignedRecentering verifies unsigned samples are re-centred by
// XOR-ing the top bit before normalization.
func TestUnsignedRecentering(t *testing.T) {
	t.Parallel()

	f := format.StreamFormat{
		SampleRate: 44100, Channels: 1, Encoding: format.UnsignedInt,
		BitsPerSample: 8, ContainerBitsPerSample: 8, ByteOrder: format.LittleEndian,
	}

	// Unsigned 8-bit midpoint (128) must decode to ~0.0.
	var fbuf [1]float32
	if _, err := floatstage.ReadAsFloat(f, []byte{128}, fbuf[:]); err != nil {
		t.Fatalf("ReadAsFloat: %v", err)
	}

	if math.Abs(float64(fbuf[0])) > 1e-6 {
		t.Fatalf("unsigned midpoint decoded to %v, want ~0", fbuf[0])
	}

	// Unsigned 0 must decode to the most-negative value.
	if _, err := floatstage.ReadAsFloat(f, []byte{0}, fbuf[:]); err != nil {
		t.Fatalf("ReadAsFloat: %v", err)
	}

	if fbuf[0] >= 0 {
		t.Fatalf("unsigned 0 decoded to %v, want negative", fbuf[0])
	}
}

// TestFloat64NarrowingConditionsDenormals exercises the anti-denormal
// add/subtract path for f64 -> f32 narrowing.
func TestFloat64NarrowingConditionsDenormals(t *testing.T) {
	t.Parallel()

	f := format.StreamFormat{
		SampleRate: 44100, Channels: 1, Encoding: format.Float,
		BitsPerSample: 64, ContainerBitsPerSample: 64, ByteOrder: format.LittleEndian,
	}

	raw := make([]byte, 8)
	binary.LittleEndian.PutUint64(raw, math.Float64bits(0.25))

	var fbuf [1]float32

	if _, err := floatstage.ReadAsFloat(f, raw, fbuf[:]); err != nil {
		t.Fatalf("ReadAsFloat: %v", err)
	}

	if math.Abs(float64(fbuf[0])-0.25) > 1e-7 {
		t.Fatalf("got %v, want ~0.25", fbuf[0])
	}
}

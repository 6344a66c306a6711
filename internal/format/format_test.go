package format_test

import (
	"testing"

	"github.com/farcloser/waveforge/internal/format"
)

func TestChannelMaskRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []uint32{
		1 << format.FrontLeft,
		1<<format.FrontLeft | 1<<format.FrontRight,
		1<<format.FrontLeft | 1<<format.FrontRight | 1<<format.FrontCenter |
			1<<format.LowFrequency | 1<<format.BackLeft | 1<<format.BackRight,
	}

	for _, mask := range cases {
		layout, err := format.LayoutFromMask(mask, popcount(mask))
		if err != nil {
			t.Fatalf("LayoutFromMask(0x%x): %v", mask, err)
		}

		got := format.MaskFromLayout(layout)
		if got != mask {
			t.Errorf("round trip mismatch: want 0x%x, got 0x%x", mask, got)
		}
	}
}

func popcount(mask uint32) int {
	n := 0

	for mask != 0 {
		n += int(mask & 1)
		mask >>= 1
	}

	return n
}

func TestStreamFormatValidate(t *testing.T) {
	t.Parallel()

	good := format.StreamFormat{
		SampleRate: 44100, Channels: 2, Encoding: format.SignedInt,
		BitsPerSample: 16, ContainerBitsPerSample: 16,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected valid format, got %v", err)
	}

	bad := good
	bad.ContainerBitsPerSample = 12

	if err := bad.Validate(); err == nil {
		t.Fatal("expected validation error for non-byte-aligned container width")
	}

	bad = good
	bad.Channels = 9

	if err := bad.Validate(); err == nil {
		t.Fatal("expected validation error for channels > 8")
	}
}

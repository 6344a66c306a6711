package mp4

import (
	"fmt"
	"testing"
)

func TestADTSHeader(t *testing.T) {
	asc := ASC{ObjectType: 2, SamplingRateIdx: 4, ChannelConfig: 2}

	// 193 payload bytes + the 7-byte header = frame_length 200 (0xC8):
	// AAC-LC at 44.1 kHz stereo, no CRC, VBR buffer fullness.
	got := ADTSHeader(asc, 193)

	want := []byte{0xFF, 0xF1, 0x50, 0x80, 0x19, 0x1F, 0xFC}

	if len(got) != len(want) {
		t.Fatalf("ADTSHeader length = %d, want %d (% X)", len(got), len(want), got)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ADTSHeader = % X, want % X", got, want)
		}
	}
}

func TestITunSMPB(t *testing.T) {
	// totalFramesOut is computed in whole AAC frames of 1024 samples, so
	// editStart/editEnd/total here are chosen as a self-consistent
	// multiple of 1024 rather than an arbitrary sample count.
	const (
		editStart = 2112
		editEnd   = 2176 // 2*1024 + 128, an arbitrary tail trim
		frames    = 435  // total encoded AAC frames
	)

	s := &Sink{
		opts:          Options{EditStart: editStart, EditEnd: editEnd},
		samples:       make([]sample, frames),
		frameDuration: aacFrameSamples,
	}

	// The samples field carries the effective length: frames written
	// minus encoder delay and padding.
	editDuration := int64(frames)*1024 - editStart - editEnd

	want := fmt.Sprintf(
		" 00000000 %08X %08X %08X%08X 00000000 00000000 00000000 00000000 00000000 00000000 00000000 00000000",
		int64(editStart), int64(editEnd), uint32(editDuration>>32), uint32(editDuration),
	)

	got := s.iTunSMPB()

	if got != want {
		t.Fatalf("iTunSMPB() = %q, want %q", got, want)
	}
}

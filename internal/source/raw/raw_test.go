package raw_test

import (
	"bytes"
	"testing"

	"github.com/farcloser/waveforge/internal/format"
	"github.com/farcloser/waveforge/internal/source/raw"
)

func stereoS16Format() format.StreamFormat {
	return format.StreamFormat{
		SampleRate: 44100, Channels: 2, Encoding: format.SignedInt,
		BitsPerSample: 16, ContainerBitsPerSample: 16, ByteOrder: format.LittleEndian,
	}
}

// TestOpenComputesLengthFromDeclaredSize verifies Length() derives frame
// count from the byte-stream size and the caller-declared format, since
// raw PCM carries no framing of its own.
func TestOpenComputesLengthFromDeclaredSize(t *testing.T) {
	t.Parallel()

	f := stereoS16Format()
	frameBytes := f.BytesPerFrame()

	data := make([]byte, 10*frameBytes)
	r := bytes.NewReader(data)

	src, err := raw.Open(r, int64(len(data)), f)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	length, known := src.Length()
	if !known || length != 10 {
		t.Fatalf("Length() = %d, %v; want 10, true", length, known)
	}
}

// TestOpenUnknownSizeStreamsUntilEOF verifies a negative size leaves
// length unknown, so ReadFrames must rely on the underlying reader's
// own EOF instead of a precomputed frame count.
func TestOpenUnknownSizeStreamsUntilEOF(t *testing.T) {
	t.Parallel()

	f := stereoS16Format()
	frameBytes := f.BytesPerFrame()

	data := make([]byte, 5*frameBytes)
	for i := range data {
		data[i] = byte(i)
	}

	r := bytes.NewReader(data)

	src, err := raw.Open(r, -1, f)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, known := src.Length(); known {
		t.Fatal("Length() reported known, want unknown for negative size")
	}

	buf := make([]byte, 100*frameBytes)

	n, err := src.ReadFrames(buf, 100)
	if err != nil {
		t.Fatalf("ReadFrames: %v", err)
	}

	if n != 5 {
		t.Fatalf("n = %d, want 5 (capped by underlying EOF)", n)
	}

	if !bytes.Equal(buf[:5*frameBytes], data) {
		t.Fatal("read payload does not match source bytes")
	}
}

// TestSeekIsRelativeToOpenOffset verifies Seek computes its absolute
// stream offset from the position Source was opened at, not from
// stream-absolute zero, so a raw stream embedded mid-file (after some
// header bytes already consumed by the caller) still seeks correctly.
func TestSeekIsRelativeToOpenOffset(t *testing.T) {
	t.Parallel()

	f := stereoS16Format()
	frameBytes := f.BytesPerFrame()

	header := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	payload := make([]byte, 10*frameBytes)

	for i := range payload {
		payload[i] = byte(i + 1)
	}

	full := append(append([]byte{}, header...), payload...)
	r := bytes.NewReader(full)

	if _, err := r.Seek(int64(len(header)), 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	src, err := raw.Open(r, int64(len(full)), f)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := src.Seek(3); err != nil {
		t.Fatalf("Seek(3): %v", err)
	}

	buf := make([]byte, frameBytes)

	n, err := src.ReadFrames(buf, 1)
	if err != nil {
		t.Fatalf("ReadFrames: %v", err)
	}

	if n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}

	want := payload[3*frameBytes : 4*frameBytes]
	if !bytes.Equal(buf, want) {
		t.Fatalf("frame 3 bytes = %v, want %v", buf, want)
	}
}

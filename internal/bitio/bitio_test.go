package bitio_test

import (
	"testing"

	"github.com/farcloser/waveforge/internal/bitio"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	t.Parallel()

	w := bitio.NewWriter()
	w.Put(0x1F, 5)  // object type
	w.Put(0x4, 4)   // sampling rate index
	w.Put(0x2, 4)   // channel config
	w.Put(0xA5, 8)

	buf := w.Bytes()

	r := bitio.NewReader(buf)

	v, err := r.Get(5)
	if err != nil || v != 0x1F {
		t.Fatalf("Get(5) = %d, %v; want 0x1F", v, err)
	}

	v, err = r.Get(4)
	if err != nil || v != 0x4 {
		t.Fatalf("Get(4) = %d, %v; want 0x4", v, err)
	}

	v, err = r.Get(4)
	if err != nil || v != 0x2 {
		t.Fatalf("Get(4) = %d, %v; want 0x2", v, err)
	}

	v, err = r.Get(8)
	if err != nil || v != 0xA5 {
		t.Fatalf("Get(8) = %d, %v; want 0xA5", v, err)
	}
}

func TestPeekDoesNotAdvance(t *testing.T) {
	t.Parallel()

	r := bitio.NewReader([]byte{0xFF, 0x00})

	p1, err := r.Peek(8)
	if err != nil || p1 != 0xFF {
		t.Fatalf("Peek(8) = %d, %v; want 0xFF", p1, err)
	}

	p2, err := r.Peek(8)
	if err != nil || p2 != 0xFF {
		t.Fatalf("second Peek(8) = %d, %v; want 0xFF (unchanged)", p2, err)
	}

	if _, err := r.Get(8); err != nil {
		t.Fatalf("Get(8): %v", err)
	}

	v, err := r.Peek(8)
	if err != nil || v != 0x00 {
		t.Fatalf("Peek(8) after advance = %d, %v; want 0x00", v, err)
	}
}

func TestShortReadErrors(t *testing.T) {
	t.Parallel()

	r := bitio.NewReader([]byte{0xFF})
	if _, err := r.Get(9); err == nil {
		t.Fatal("expected short-read error for 9 bits over 1 byte")
	}
}

func TestByteAlign(t *testing.T) {
	t.Parallel()

	w := bitio.NewWriter()
	w.Put(0x5, 3)
	w.ByteAlign()
	w.Put(0xFF, 8)

	buf := w.Bytes()
	if len(buf) != 2 {
		t.Fatalf("len(buf) = %d, want 2", len(buf))
	}

	if buf[0] != 0x5<<5 {
		t.Fatalf("buf[0] = %#x, want %#x", buf[0], byte(0x5<<5))
	}

	if buf[1] != 0xFF {
		t.Fatalf("buf[1] = %#x, want 0xFF", buf[1])
	}
}

func TestCopyPreservesOpaqueBits(t *testing.T) {
	t.Parallel()

	w := bitio.NewWriter()
	w.Put(0b1011, 4)

	src := bitio.NewReader(w.Bytes())

	dst := bitio.NewWriter()
	if err := dst.Copy(src, 4); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	got := bitio.NewReader(dst.Bytes())

	v, err := got.Get(4)
	if err != nil || v != 0b1011 {
		t.Fatalf("round-tripped value = %#b, %v; want 0b1011", v, err)
	}
}

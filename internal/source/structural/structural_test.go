package structural_test

import (
	"testing"

	"github.com/farcloser/waveforge/internal/format"
	"github.com/farcloser/waveforge/internal/source/structural"
)

func monoFormat() format.StreamFormat {
	return format.StreamFormat{
		SampleRate: 44100, Channels: 1, Encoding: format.UnsignedInt,
		BitsPerSample: 8, ContainerBitsPerSample: 8, ByteOrder: format.LittleEndian,
	}
}

// markerSource emits length frames, each a single byte equal to marker,
// and records every Seek call it receives.
type markerSource struct {
	f       format.StreamFormat
	length  int64
	marker  byte
	pos     int64
	seekLog []int64
}

func (s *markerSource) Format() format.StreamFormat { return s.f }
func (s *markerSource) Length() (int64, bool)       { return s.length, true }
func (s *markerSource) Seekable() bool              { return true }

func (s *markerSource) Seek(frame int64) error {
	s.pos = frame
	s.seekLog = append(s.seekLog, frame)

	return nil
}

func (s *markerSource) Tags() map[string]string       { return nil }
func (s *markerSource) Chapters() []format.Chapter     { return nil }
func (s *markerSource) Close() error                   { return nil }

func (s *markerSource) ReadFrames(buf []byte, n int) (int, error) {
	remaining := s.length - s.pos
	if remaining <= 0 {
		return 0, nil
	}

	if int64(n) > remaining {
		n = int(remaining)
	}

	for i := range n {
		buf[i] = s.marker
	}

	s.pos += int64(n)

	return n, nil
}

// TestCompositeSeekAndRead walks a composite of three sub-sources of
// lengths 100, 200, 300 frames; seek(250) leaves
// source index 1 at internal position 150; read(200) returns 50 frames
// from source 1 then 150 from source 2; a subsequent seek(50) sets
// source 0's position to 50 and rewinds sources 1 and 2 to zero.
func TestCompositeSeekAndRead(t *testing.T) {
	t.Parallel()

	f := monoFormat()

	s0 := &markerSource{f: f, length: 100, marker: 0}
	s1 := &markerSource{f: f, length: 200, marker: 1}
	s2 := &markerSource{f: f, length: 300, marker: 2}

	comp, err := structural.NewComposite(f, []structural.Source{s0, s1, s2})
	if err != nil {
		t.Fatalf("NewComposite: %v", err)
	}

	total, known := comp.Length()
	if !known || total != 600 {
		t.Fatalf("Length() = %d, %v; want 600, true", total, known)
	}

	if err := comp.Seek(250); err != nil {
		t.Fatalf("Seek(250): %v", err)
	}

	if s1.pos != 150 {
		t.Fatalf("s1.pos = %d, want 150", s1.pos)
	}

	buf := make([]byte, 200)

	n, err := comp.ReadFrames(buf, 200)
	if err != nil {
		t.Fatalf("ReadFrames: %v", err)
	}

	if n != 200 {
		t.Fatalf("n = %d, want 200", n)
	}

	for i := range 50 {
		if buf[i] != 1 {
			t.Fatalf("byte %d = %d, want marker 1 (from source 1)", i, buf[i])
		}
	}

	for i := 50; i < 200; i++ {
		if buf[i] != 2 {
			t.Fatalf("byte %d = %d, want marker 2 (from source 2)", i, buf[i])
		}
	}

	if err := comp.Seek(50); err != nil {
		t.Fatalf("Seek(50): %v", err)
	}

	if s0.pos != 50 {
		t.Fatalf("s0.pos after Seek(50) = %d, want 50", s0.pos)
	}

	if s1.pos != 0 {
		t.Fatalf("s1.pos after Seek(50) = %d, want 0 (rewound)", s1.pos)
	}
}

func TestTrimmerCapsDurationAndOffsetsStart(t *testing.T) {
	t.Parallel()

	f := monoFormat()
	src := &markerSource{f: f, length: 1000, marker: 7}

	tr, err := structural.NewTrimmer(src, 100, 50)
	if err != nil {
		t.Fatalf("NewTrimmer: %v", err)
	}

	if src.pos != 100 {
		t.Fatalf("upstream seeked to %d, want 100", src.pos)
	}

	buf := make([]byte, 80)

	n, err := tr.ReadFrames(buf, 80)
	if err != nil {
		t.Fatalf("ReadFrames: %v", err)
	}

	if n != 50 {
		t.Fatalf("n = %d, want 50 (capped at trim duration)", n)
	}
}

func TestTrimmerRejectsStartBeyondLength(t *testing.T) {
	t.Parallel()

	f := monoFormat()
	src := &markerSource{f: f, length: 10, marker: 0}

	if _, err := structural.NewTrimmer(src, 100, structural.Infinite); err == nil {
		t.Fatal("expected RangeError for trim start exceeding source length")
	}
}

func TestChannelMapperPermutesChannels(t *testing.T) {
	t.Parallel()

	f := format.StreamFormat{
		SampleRate: 44100, Channels: 3, Encoding: format.UnsignedInt,
		BitsPerSample: 8, ContainerBitsPerSample: 8, ByteOrder: format.LittleEndian,
	}

	src := &stereoMarkerSource{f: f, frames: [][]byte{{10, 20, 30}, {40, 50, 60}}}

	// output[0] = input[2], output[1] = input[0], output[2] = input[1]
	cm, err := structural.NewChannelMapper(src, []int{2, 0, 1})
	if err != nil {
		t.Fatalf("NewChannelMapper: %v", err)
	}

	buf := make([]byte, 2*3)

	n, err := cm.ReadFrames(buf, 2)
	if err != nil {
		t.Fatalf("ReadFrames: %v", err)
	}

	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}

	want := []byte{30, 10, 20, 60, 40, 50}
	for i, w := range want {
		if buf[i] != w {
			t.Errorf("byte %d = %d, want %d", i, buf[i], w)
		}
	}
}

type stereoMarkerSource struct {
	f      format.StreamFormat
	frames [][]byte
	pos    int
}

func (s *stereoMarkerSource) Format() format.StreamFormat { return s.f }
func (s *stereoMarkerSource) Length() (int64, bool)       { return int64(len(s.frames)), true }
func (s *stereoMarkerSource) Seekable() bool              { return true }
func (s *stereoMarkerSource) Seek(frame int64) error      { s.pos = int(frame); return nil }
func (s *stereoMarkerSource) Tags() map[string]string     { return nil }
func (s *stereoMarkerSource) Chapters() []format.Chapter  { return nil }
func (s *stereoMarkerSource) Close() error                { return nil }

func (s *stereoMarkerSource) ReadFrames(buf []byte, n int) (int, error) {
	if s.pos >= len(s.frames) {
		return 0, nil
	}

	avail := len(s.frames) - s.pos
	if n > avail {
		n = avail
	}

	ch := s.f.Channels

	for i := range n {
		copy(buf[i*ch:(i+1)*ch], s.frames[s.pos+i])
	}

	s.pos += n

	return n, nil
}

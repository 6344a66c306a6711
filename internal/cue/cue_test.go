package cue

import (
	"strings"
	"testing"
)

// TestArrangeScenario arranges a two-track sheet: TRACK 01
// INDEX 01 00:00:00, TRACK 02 INDEX 00 03:59:60 INDEX 01 04:00:00.
// After arrangement, track 1 has one segment [0, 18000 frames) and
// track 2 has one segment starting at 18000 with no known end.
func TestArrangeScenario(t *testing.T) {
	t.Parallel()

	text := `FILE "album.wav" WAVE
  TRACK 01 AUDIO
    INDEX 01 00:00:00
  TRACK 02 AUDIO
    INDEX 00 03:59:60
    INDEX 01 04:00:00
`

	sheet, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	arr, err := Arrange(sheet)
	if err != nil {
		t.Fatalf("Arrange: %v", err)
	}

	if len(arr.Tracks) != 2 {
		t.Fatalf("len(Tracks) = %d, want 2", len(arr.Tracks))
	}

	t1 := arr.Tracks[0]
	if len(t1.Segments) != 1 {
		t.Fatalf("track 1 segments = %d, want 1", len(t1.Segments))
	}

	if t1.Segments[0].StartFrames != 0 {
		t.Errorf("track 1 start = %d, want 0", t1.Segments[0].StartFrames)
	}

	if !t1.Segments[0].EndKnown || t1.Segments[0].EndFrames != 18000 {
		t.Errorf("track 1 end = (%d, known=%v), want (18000, true)", t1.Segments[0].EndFrames, t1.Segments[0].EndKnown)
	}

	t2 := arr.Tracks[1]
	if len(t2.Segments) != 1 {
		t.Fatalf("track 2 segments = %d, want 1", len(t2.Segments))
	}

	if t2.Segments[0].StartFrames != 18000 {
		t.Errorf("track 2 start = %d, want 18000", t2.Segments[0].StartFrames)
	}

	if t2.Segments[0].EndKnown {
		t.Errorf("track 2 end should be unknown (runs to EOF), got %d", t2.Segments[0].EndFrames)
	}
}

// TestArrangeIsIdempotent verifies arrangement is a pure function of
// the parsed sheet: running it twice yields identical tracks.
func TestArrangeIsIdempotent(t *testing.T) {
	t.Parallel()

	text := `FILE "album.wav" WAVE
  TRACK 01 AUDIO
    INDEX 01 00:00:00
  TRACK 02 AUDIO
    INDEX 00 03:59:60
    INDEX 01 04:00:00
  TRACK 03 AUDIO
    PREGAP 00:02:00
    INDEX 01 08:00:00
`

	sheet, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	first, err := Arrange(sheet)
	if err != nil {
		t.Fatalf("Arrange (first): %v", err)
	}

	second, err := Arrange(sheet)
	if err != nil {
		t.Fatalf("Arrange (second): %v", err)
	}

	if len(first.Tracks) != len(second.Tracks) {
		t.Fatalf("track count differs: %d vs %d", len(first.Tracks), len(second.Tracks))
	}

	for i := range first.Tracks {
		a, b := first.Tracks[i], second.Tracks[i]

		if a.Number != b.Number || len(a.Segments) != len(b.Segments) {
			t.Fatalf("track %d differs between runs", i)
		}

		for j := range a.Segments {
			if a.Segments[j] != b.Segments[j] {
				t.Fatalf("track %d segment %d differs: %+v vs %+v", i, j, a.Segments[j], b.Segments[j])
			}
		}
	}
}

// TestMissingIndex01Rejected verifies every track must have an INDEX 01
// to be arrangeable.
func TestMissingIndex01Rejected(t *testing.T) {
	t.Parallel()

	text := `FILE "album.wav" WAVE
  TRACK 01 AUDIO
    INDEX 02 00:01:00
`

	sheet, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if _, err := Arrange(sheet); err == nil {
		t.Fatal("expected error for track missing INDEX 01")
	}
}

// TestTitleScopeDiscVsTrack exercises "TITLE at disc scope if before any
// TRACK, else at track scope".
func TestTitleScopeDiscVsTrack(t *testing.T) {
	t.Parallel()

	text := `TITLE "Disc Title"
FILE "album.wav" WAVE
  TRACK 01 AUDIO
    TITLE "Track One"
    INDEX 01 00:00:00
`

	sheet, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if sheet.discTags["TITLE"] != "Disc Title" {
		t.Errorf("disc title = %q, want %q", sheet.discTags["TITLE"], "Disc Title")
	}

	if sheet.tracks[0].tags["TITLE"] != "Track One" {
		t.Errorf("track title = %q, want %q", sheet.tracks[0].tags["TITLE"], "Track One")
	}
}

// TestRunawayQuoteFailsWithLineNumber verifies an unterminated quoted
// field fails the line.
func TestRunawayQuoteFailsWithLineNumber(t *testing.T) {
	t.Parallel()

	text := "TITLE \"unterminated\nFILE \"x.wav\" WAVE\n"

	if _, err := Parse(strings.NewReader(text)); err == nil {
		t.Fatal("expected runaway-quote parse error")
	}
}

// TestQuotedFieldWithEmbeddedQuote verifies "" decodes to a literal
// embedded quote inside a quoted field.
func TestQuotedFieldWithEmbeddedQuote(t *testing.T) {
	t.Parallel()

	lines, err := tokenize(strings.NewReader(`TITLE "She said ""hi"""` + "\n"))
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}

	if len(lines) != 1 || len(lines[0].fields) != 2 {
		t.Fatalf("unexpected tokenization: %+v", lines)
	}

	want := `She said "hi"`
	if lines[0].fields[1] != want {
		t.Fatalf("field = %q, want %q", lines[0].fields[1], want)
	}
}

// TestPregapSynthesizesGapSegment verifies a PREGAP produces a leading
// __GAP__ segment.
func TestPregapSynthesizesGapSegment(t *testing.T) {
	t.Parallel()

	text := `FILE "album.wav" WAVE
  TRACK 01 AUDIO
    PREGAP 00:02:00
    INDEX 01 00:02:00
`

	sheet, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	arr, err := Arrange(sheet)
	if err != nil {
		t.Fatalf("Arrange: %v", err)
	}

	segs := arr.Tracks[0].Segments
	if len(segs) != 2 {
		t.Fatalf("segments = %d, want 2 (gap + audio)", len(segs))
	}

	if !segs[0].Gap || segs[0].File != gapSentinel {
		t.Errorf("segment 0 = %+v, want a gap segment", segs[0])
	}

	if segs[0].EndFrames != 150 { // 00:02:00 = 2*75 frames
		t.Errorf("pregap length = %d frames, want 150", segs[0].EndFrames)
	}
}

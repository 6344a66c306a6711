package cue

import (
	"fmt"

	"github.com/farcloser/waveforge/internal/errs"
)

// Segment is one resolved piece of a track's timeline: either a slice
// of a physical audio file (CD-frame range, Gap == false) or a
// synthetic silence span from a PREGAP/POSTGAP command (Gap == true,
// File == "__GAP__").
type Segment struct {
	File        string
	Kind        string
	StartFrames int64
	EndFrames   int64 // valid only if EndKnown
	EndKnown    bool
	Gap         bool
}

const gapSentinel = "__GAP__"

// Track is one arranged track: its overlaid tags and ordered segment
// list, ready for internal/cue's builder to turn into a Composite.
type Track struct {
	Number   int
	Tags     map[string]string
	Segments []Segment
}

// Arrangement is a fully resolved cue sheet.
type Arrangement struct {
	DiscTags map[string]string
	Tracks   []Track
}

// Arrange runs the post-parse arrangement pass: INDEX 01 presence,
// strictly-ascending INDEX numbers, INDEX 00 folded into the previous
// track's tail, PREGAP/POSTGAP synthesized as gap segments, and
// adjacent same-file contiguous segments merged. Arrange is idempotent:
// re-running it on the same Sheet yields an identical Arrangement.
func Arrange(sheet *Sheet) (*Arrangement, error) {
	if err := validateIndexes(sheet.tracks); err != nil {
		return nil, err
	}

	arranged := &Arrangement{DiscTags: sheet.discTags}

	for i, t := range sheet.tracks {
		segs, err := buildTrackSegments(sheet.tracks, i)
		if err != nil {
			return nil, err
		}

		arranged.Tracks = append(arranged.Tracks, Track{
			Number:   t.number,
			Tags:     t.tags,
			Segments: mergeContiguous(segs),
		})
	}

	return arranged, nil
}

func validateIndexes(tracks []*rawTrack) error {
	for _, t := range tracks {
		if len(t.indexes) == 0 {
			return fmt.Errorf("%w: track %d has no INDEX commands", errs.ErrMalformedContainer, t.number)
		}

		prev := -1
		hasIndex1 := false

		for _, ix := range t.indexes {
			if ix.num <= prev {
				return fmt.Errorf(
					"%w: track %d INDEX numbers not strictly ascending at line %d",
					errs.ErrMalformedContainer, t.number, ix.lineNo,
				)
			}

			prev = ix.num

			if ix.num == 1 {
				hasIndex1 = true
			}
		}

		if !hasIndex1 {
			return fmt.Errorf("%w: track %d missing INDEX 01", errs.ErrMalformedContainer, t.number)
		}

		if t.file == nil {
			return fmt.Errorf("%w: track %d has no preceding FILE command", errs.ErrMalformedContainer, t.number)
		}
	}

	return nil
}

func findIndex(t *rawTrack, num int) (indexMark, bool) {
	for _, ix := range t.indexes {
		if ix.num == num {
			return ix, true
		}
	}

	return indexMark{}, false
}

// buildTrackSegments resolves track i's [pregap] audio [postgap]
// segment list. The audio segment's end boundary is the next track's
// INDEX 01 when it shares the same file (this is what "INDEX 00
// belongs to the previous track's tail" amounts to: whatever gap sits
// between this track's end-of-audio and the next track's INDEX 01 is
// folded into this track rather than carved out as the next track's
// own leading segment), or EOF otherwise.
func buildTrackSegments(tracks []*rawTrack, i int) ([]Segment, error) {
	t := tracks[i]

	idx1, _ := findIndex(t, 1)

	var segments []Segment

	if t.pregap != nil {
		segments = append(segments, Segment{File: gapSentinel, Gap: true, EndFrames: t.pregap.Frames(), EndKnown: true})
	}

	audio := Segment{
		File:        t.file.path,
		Kind:        t.file.kind,
		StartFrames: idx1.pos.Frames(),
	}

	if i+1 < len(tracks) {
		next := tracks[i+1]
		if next.file != nil && next.file.path == t.file.path {
			nextIdx1, ok := findIndex(next, 1)
			if ok {
				audio.EndFrames = nextIdx1.pos.Frames()
				audio.EndKnown = true
			}
		}
	}

	if audio.EndKnown && audio.EndFrames < audio.StartFrames {
		return nil, fmt.Errorf(
			"%w: track %d audio range ends before it starts", errs.ErrRangeError, t.number,
		)
	}

	segments = append(segments, audio)

	if t.postgap != nil {
		segments = append(segments, Segment{File: gapSentinel, Gap: true, EndFrames: t.postgap.Frames(), EndKnown: true})
	}

	return segments, nil
}

// mergeContiguous folds adjacent segments that share a (non-gap) file
// path and form a contiguous frame range into one segment.
func mergeContiguous(segs []Segment) []Segment {
	if len(segs) < 2 {
		return segs
	}

	out := make([]Segment, 0, len(segs))
	out = append(out, segs[0])

	for _, s := range segs[1:] {
		last := &out[len(out)-1]

		if !last.Gap && !s.Gap && last.File == s.File && last.EndKnown && last.EndFrames == s.StartFrames {
			last.EndFrames = s.EndFrames
			last.EndKnown = s.EndKnown

			continue
		}

		out = append(out, s)
	}

	return out
}

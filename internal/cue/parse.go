package cue

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/farcloser/waveforge/internal/errs"
)

// Position is a cue-sheet mm:ss:ff timestamp, 75 CD frames per second.
type Position struct {
	Min, Sec, Frame int
}

// Frames returns the absolute CD-frame offset this position names.
func (p Position) Frames() int64 {
	return int64(p.Min)*60*75 + int64(p.Sec)*75 + int64(p.Frame)
}

// Samples converts a CD-frame offset to a sample offset at rate:
// round(frame / 75 * rate).
func Samples(frames int64, rate int) int64 {
	num := frames * int64(rate)

	return (num + 75/2) / 75
}

func parsePosition(field string, lineNo int) (Position, error) {
	parts := strings.Split(field, ":")
	if len(parts) != 3 {
		return Position{}, fmt.Errorf("%w: malformed mm:ss:ff %q at line %d", errs.ErrMalformedContainer, field, lineNo)
	}

	vals := make([]int, 3)

	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return Position{}, fmt.Errorf("%w: malformed mm:ss:ff %q at line %d", errs.ErrMalformedContainer, field, lineNo)
		}

		vals[i] = v
	}

	return Position{Min: vals[0], Sec: vals[1], Frame: vals[2]}, nil
}

// fileRef names one physical audio file and its declared type token
// (WAVE, BINARY, MOTOROLA, AIFF, MP3, ...).
type fileRef struct {
	path string
	kind string
}

// indexMark is one INDEX command attached to a track.
type indexMark struct {
	num int
	pos Position
	lineNo int
}

// rawTrack is a track as parsed, before the arrangement pass resolves
// indexes and gaps into segments.
type rawTrack struct {
	number  int
	file    *fileRef
	indexes []indexMark
	pregap  *Position
	postgap *Position
	tags    map[string]string
}

// Sheet is a parsed (but not yet arranged) cue sheet.
type Sheet struct {
	discTags map[string]string
	tracks   []*rawTrack
}

// Parse tokenizes and parses a cue sheet from r. It does not perform
// the arrangement pass (see Arrange); the returned Sheet reflects only
// command dispatch and scoping.
func Parse(r io.Reader) (*Sheet, error) {
	lines, err := tokenize(r)
	if err != nil {
		return nil, err
	}

	sheet := &Sheet{discTags: make(map[string]string)}

	var curFile *fileRef

	var curTrack *rawTrack

	for _, ln := range lines {
		cmd := strings.ToUpper(ln.fields[0])
		args := ln.fields[1:]

		switch cmd {
		case "FILE":
			if len(args) < 2 {
				return nil, fmt.Errorf("%w: FILE needs path and type at line %d", errs.ErrMalformedContainer, ln.number)
			}

			curFile = &fileRef{path: args[0], kind: strings.ToUpper(args[len(args)-1])}

		case "TRACK":
			if len(args) < 1 {
				return nil, fmt.Errorf("%w: TRACK needs a number at line %d", errs.ErrMalformedContainer, ln.number)
			}

			num, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, fmt.Errorf("%w: bad TRACK number at line %d", errs.ErrMalformedContainer, ln.number)
			}

			curTrack = &rawTrack{number: num, file: curFile, tags: make(map[string]string)}
			sheet.tracks = append(sheet.tracks, curTrack)

		case "INDEX":
			if curTrack == nil {
				return nil, fmt.Errorf("%w: INDEX before any TRACK at line %d", errs.ErrMalformedContainer, ln.number)
			}

			if len(args) != 2 {
				return nil, fmt.Errorf("%w: INDEX needs number and position at line %d", errs.ErrMalformedContainer, ln.number)
			}

			num, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, fmt.Errorf("%w: bad INDEX number at line %d", errs.ErrMalformedContainer, ln.number)
			}

			pos, err := parsePosition(args[1], ln.number)
			if err != nil {
				return nil, err
			}

			curTrack.indexes = append(curTrack.indexes, indexMark{num: num, pos: pos, lineNo: ln.number})

		case "PREGAP", "POSTGAP":
			if curTrack == nil {
				return nil, fmt.Errorf("%w: %s before any TRACK at line %d", errs.ErrMalformedContainer, cmd, ln.number)
			}

			if len(args) != 1 {
				return nil, fmt.Errorf("%w: %s needs one position at line %d", errs.ErrMalformedContainer, cmd, ln.number)
			}

			pos, err := parsePosition(args[0], ln.number)
			if err != nil {
				return nil, err
			}

			if cmd == "PREGAP" {
				curTrack.pregap = &pos
			} else {
				curTrack.postgap = &pos
			}

		case "REM":
			if len(args) < 2 {
				continue // a bare REM with no key/value carries nothing to propagate
			}

			setTag(sheet, curTrack, args[0], strings.Join(args[1:], " "))

		case "CATALOG", "ISRC", "PERFORMER", "SONGWRITER", "TITLE":
			if len(args) < 1 {
				continue
			}

			setTag(sheet, curTrack, cmd, strings.Join(args, " "))

		default:
			// Unrecognized commands (REM-less vendor extensions) are
			// ignored rather than rejected, matching real-world cue
			// sheets that carry tool-specific metadata lines.
		}
	}

	return sheet, nil
}

// setTag records a tag at disc scope if no track is open yet, else at
// the current track's scope.
func setTag(sheet *Sheet, track *rawTrack, key, value string) {
	if track == nil {
		sheet.discTags[key] = value

		return
	}

	track.tags[key] = value
}

package cue

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/farcloser/waveforge/internal/errs"
	"github.com/farcloser/waveforge/internal/format"
	"github.com/farcloser/waveforge/internal/source/structural"
)

// structuralSource is the interface every per-track Composite
// satisfies; it is structural.Source under another name to keep this
// package's public surface independent of that package's import path.
type structuralSource = structural.Source

// TrackResult is one arranged, source-built track ready to be piped
// into a sink: its overlaid tags, templated output filename, and the
// Composite virtual source to read frames from.
type TrackResult struct {
	Number   int
	Tags     map[string]string
	Filename string
	Source   structuralSource
}

// BuildTracks arranges and materializes every track of an already parsed
// cue sheet into a per-track virtual Source. baseDir
// resolves FILE paths that are not already absolute (cue sheets
// conventionally reference audio files relative to the sheet's own
// directory). filenameTemplate is rendered per track via
// RenderFilename.
func BuildTracks(ctx context.Context, sheet *Sheet, baseDir, filenameTemplate string) ([]TrackResult, error) {
	arrangement, err := Arrange(sheet)
	if err != nil {
		return nil, err
	}

	total := len(arrangement.Tracks)

	results := make([]TrackResult, 0, total)

	for _, t := range arrangement.Tracks {
		res, err := buildTrack(ctx, t, arrangement.DiscTags, total, baseDir, filenameTemplate)
		if err != nil {
			return nil, err
		}

		results = append(results, res)
	}

	return results, nil
}

// pendingGap marks a not-yet-materialized Null segment: its duration
// is known (CD frames) but its StreamFormat is not, until the track's
// first audio segment is opened.
type pendingGap struct {
	durationFrames int64
}

func buildTrack(
	ctx context.Context, t Track, discTags map[string]string, total int, baseDir, filenameTemplate string,
) (TrackResult, error) {
	slots := make([]any, len(t.Segments)) // either structuralSource or pendingGap

	var (
		trackFmt format.StreamFormat
		haveFmt  bool
		opened   []structuralSource // for cleanup on error
	)

	closeOpened := func() {
		for _, s := range opened {
			_ = s.Close()
		}
	}

	for i, seg := range t.Segments {
		if seg.Gap {
			slots[i] = pendingGap{durationFrames: seg.EndFrames}

			continue
		}

		path := seg.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}

		src, err := openAudioFile(ctx, path)
		if err != nil {
			closeOpened()

			return TrackResult{}, err
		}

		opened = append(opened, src)

		if !haveFmt {
			trackFmt = src.Format()
			haveFmt = true
		}

		rate := src.Format().SampleRate
		start := Samples(seg.StartFrames, rate)

		length := structural.Infinite
		if seg.EndKnown {
			length = Samples(seg.EndFrames, rate) - start
		}

		trimmed, err := structural.NewTrimmer(src, start, length)
		if err != nil {
			closeOpened()

			return TrackResult{}, err
		}

		slots[i] = structuralSource(trimmed)
	}

	if !haveFmt {
		return TrackResult{}, fmt.Errorf("%w: track %d has no audio segments", errs.ErrMalformedContainer, t.Number)
	}

	subs := make([]structuralSource, len(slots))

	for i, slot := range slots {
		if gap, ok := slot.(pendingGap); ok {
			subs[i] = structural.NewNull(trackFmt, Samples(gap.durationFrames, trackFmt.SampleRate))

			continue
		}

		subs[i] = slot.(structuralSource)
	}

	composite, err := structural.NewComposite(trackFmt, subs)
	if err != nil {
		closeOpened()

		return TrackResult{}, err
	}

	tags := overlayTags(discTags, t.Tags, t.Number, total)
	filename := RenderFilename(filenameTemplate, tags)

	return TrackResult{Number: t.Number, Tags: tags, Filename: filename, Source: composite}, nil
}

// overlayTags produces a track's final tag set: disc-level tags
// overlaid by track-level tags, with TRACK n/total injected.
func overlayTags(disc, track map[string]string, number, total int) map[string]string {
	out := make(map[string]string, len(disc)+len(track)+1)

	for k, v := range disc {
		out[k] = v
	}

	for k, v := range track {
		out[k] = v
	}

	out["TRACK"] = fmt.Sprintf("%d/%d", number, total)

	return out
}

var filenamePlaceholder = regexp.MustCompile(`\$\{([^}]+)\}`)

const illegalFilenameChars = "/\\?|<>*\":"

// RenderFilename substitutes ${tag} placeholders in template with
// values from tags and replaces characters illegal in filenames
// (/\?|<>*":) with underscores.
func RenderFilename(template string, tags map[string]string) string {
	substituted := filenamePlaceholder.ReplaceAllStringFunc(template, func(match string) string {
		key := match[2 : len(match)-1]

		return tags[key]
	})

	var sb strings.Builder

	for _, r := range substituted {
		if strings.ContainsRune(illegalFilenameChars, r) {
			sb.WriteByte('_')
		} else {
			sb.WriteRune(r)
		}
	}

	return sb.String()
}

package cue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/farcloser/waveforge/internal/errs"
	"github.com/farcloser/waveforge/internal/source/flac"
	"github.com/farcloser/waveforge/internal/source/tak"
	"github.com/farcloser/waveforge/internal/source/wav"
	"github.com/farcloser/waveforge/internal/source/wavpack"
)

// openAudioFile opens path with the container/codec adapter selected by
// its extension. A cue sheet's declared FILE type token (WAVE, BINARY,
// MOTOROLA, ...) predates formats like FLAC/WavPack/TAK that real cue
// sheets reference anyway, so dispatch goes by extension instead of
// the token; the token is otherwise unused here.
//
// A missing file fails with errs.ErrRangeError.
func openAudioFile(ctx context.Context, path string) (structuralSource, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: cue sheet references missing file %q", errs.ErrRangeError, path)
		}

		return nil, fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".rf64", ".wave":
		return wav.Open(f, info.Size(), wav.Options{})
	case ".flac":
		return flac.Open(f)
	case ".wv":
		return wavpack.Open(ctx, f, path)
	case ".tak":
		return tak.Open(ctx, f, path)
	default:
		_ = f.Close()

		return nil, fmt.Errorf("%w: cue sheet file %q has an unrecognized extension", errs.ErrUnsupportedFormat, path)
	}
}

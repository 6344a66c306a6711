package waveforge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/farcloser/waveforge/internal/source/flac"
	"github.com/farcloser/waveforge/internal/source/raw"
	"github.com/farcloser/waveforge/internal/source/tak"
	"github.com/farcloser/waveforge/internal/source/wav"
	"github.com/farcloser/waveforge/internal/source/wavpack"
)

// OpenOptions configures container probing.
type OpenOptions struct {
	// IgnoreLength treats a WAV data chunk whose declared size is
	// ~0u as "unknown length", reading until the byte stream ends.
	IgnoreLength bool

	// RawFormat, if non-nil, is tried last: it lets the caller
	// pre-declare a StreamFormat for a headerless PCM stream, the only
	// way raw input is ever accepted.
	RawFormat *StreamFormat
}

// OpenSource probes path with each container adapter in turn (RIFF/RF64
// WAV, FLAC, WavPack, TAK), trying the next adapter whenever one fails
// with ErrUnsupportedFormat or ErrMalformedContainer, and falls back to
// the raw-PCM adapter only if opts.RawFormat is set. WavPack and TAK need the file path itself (to
// shell out to wvunpack/taktool and, for WavPack, to look for a
// companion .wvc correction file next to it), so this only works on
// real files, not arbitrary io.Readers.
func OpenSource(ctx context.Context, path string, opts OpenOptions) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	size := info.Size()

	if src, ok, err := tryWAV(f, size, opts); ok {
		return src, err
	}

	if src, ok, err := tryFLAC(f); ok {
		return src, err
	}

	if src, ok, err := tryWavPack(ctx, f, path); ok {
		return src, err
	}

	if src, ok, err := tryTAK(ctx, f, path); ok {
		return src, err
	}

	if opts.RawFormat != nil {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()

			return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
		}

		src, err := raw.Open(f, size, *opts.RawFormat)
		if err != nil {
			f.Close()

			return nil, err
		}

		return src, nil
	}

	f.Close()

	return nil, fmt.Errorf("%w: no adapter recognized %s", ErrUnsupportedFormat, path)
}

// rewind seeks f back to the start before the next probe attempt; every
// adapter above consumes bytes from the shared handle even when its own
// probe fails.
func rewind(f *os.File) error {
	_, err := f.Seek(0, io.SeekStart)

	return err
}

func probeFailed(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrMalformedContainer)
}

func tryWAV(f *os.File, size int64, opts OpenOptions) (Source, bool, error) {
	if err := rewind(f); err != nil {
		return nil, true, err
	}

	src, err := wav.Open(f, size, wav.Options{IgnoreLength: opts.IgnoreLength})
	if err == nil {
		return src, true, nil
	}

	if !probeFailed(err) {
		f.Close()

		return nil, true, err
	}

	return nil, false, nil
}

func tryFLAC(f *os.File) (Source, bool, error) {
	if err := rewind(f); err != nil {
		return nil, true, err
	}

	src, err := flac.Open(f)
	if err == nil {
		return src, true, nil
	}

	if !probeFailed(err) {
		f.Close()

		return nil, true, err
	}

	return nil, false, nil
}

func tryWavPack(ctx context.Context, f *os.File, path string) (Source, bool, error) {
	if err := rewind(f); err != nil {
		return nil, true, err
	}

	src, err := wavpack.Open(ctx, f, path)
	if err == nil {
		return src, true, nil
	}

	if !probeFailed(err) {
		f.Close()

		return nil, true, err
	}

	return nil, false, nil
}

func tryTAK(ctx context.Context, f *os.File, path string) (Source, bool, error) {
	if err := rewind(f); err != nil {
		return nil, true, err
	}

	src, err := tak.Open(ctx, f, path)
	if err == nil {
		return src, true, nil
	}

	if !probeFailed(err) {
		f.Close()

		return nil, true, err
	}

	return nil, false, nil
}

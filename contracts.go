// Package waveforge is the root of the transcoding pipeline: it defines
// the Source/Sink/Filter contracts every stage implements, re-exports the
// StreamFormat descriptor and error taxonomy, and assembles a configured
// filter chain on top of a decoded source.
package waveforge

import (
	"github.com/farcloser/waveforge/internal/errs"
	"github.com/farcloser/waveforge/internal/format"
)

// StreamFormat, Encoding, ByteOrder and ChannelLayout are re-exported from
// internal/format so callers outside the module never import an internal
// package directly.
type (
	StreamFormat  = format.StreamFormat
	Encoding      = format.Encoding
	ByteOrder     = format.ByteOrder
	ChannelLayout = format.ChannelLayout
)

const (
	SignedInt   = format.SignedInt
	UnsignedInt = format.UnsignedInt
	Float       = format.Float

	LittleEndian = format.LittleEndian
	BigEndian    = format.BigEndian
)

// Error taxonomy re-exports. Callers classify failures with
// errors.Is(err, waveforge.ErrXxx) without reaching into internal/errs.
var (
	ErrShortRead          = errs.ErrShortRead
	ErrMalformedContainer = errs.ErrMalformedContainer
	ErrUnsupportedFormat  = errs.ErrUnsupportedFormat
	ErrSeekUnsupported    = errs.ErrSeekUnsupported
	ErrRangeError         = errs.ErrRangeError
	ErrInvalidMatrix      = errs.ErrInvalidMatrix
	ErrCodecFailure       = errs.ErrCodecFailure
	ErrIOFailure          = errs.ErrIOFailure
)

// Chapter is one chapter marker: Title plus a relative Duration in
// seconds. The first chapter's effective start is
// always zero; durations are laid end to end. It is an alias of
// format.Chapter so every internal package's Chapters() method
// (each avoiding an import cycle back to this root package by
// aliasing the same type) satisfies this interface directly.
type Chapter = format.Chapter

// Source is a pull-model producer of interleaved PCM frames with a
// stable StreamFormat. Implementations: container/codec
// adapters (internal/source/*) and structural sources
// (internal/source/structural).
type Source interface {
	// Format returns the StreamFormat this source emits. It never
	// changes over the Source's lifetime.
	Format() StreamFormat

	// Length returns the total frame count, or (0, false) if unknown
	// (streaming / non-seekable input).
	Length() (frames int64, known bool)

	// Seekable reports whether Seek is supported.
	Seekable() bool

	// Seek repositions to an absolute frame offset. Returns
	// ErrSeekUnsupported if Seekable() is false.
	Seek(frame int64) error

	// ReadFrames decodes up to n frames into buf (interleaved,
	// channels*n samples long in the source's native container
	// encoding) and returns the number of frames actually produced.
	// 0 means end of stream; a short read does not by itself mean EOF.
	ReadFrames(buf []byte, n int) (int, error)

	// Tags returns iTunes-style tag key/value pairs, possibly empty.
	Tags() map[string]string

	// Chapters returns chapter markers, possibly empty.
	Chapters() []Chapter

	// Close tears the source down, releasing the decoder and the
	// underlying byte stream it owns.
	Close() error
}

// Sink is a pull-driven consumer: it repeatedly calls ReadFrames on its
// upstream Source and commits the result. Filters implement both Source
// (what they expose downstream) and hold an upstream Source internally;
// the FilterSource helper type documents that shape.
type Sink interface {
	// Format returns the StreamFormat this sink expects on its input.
	Format() StreamFormat

	// WriteFrames commits n frames (channels*n samples, nBytes raw
	// bytes) of the sink's input format.
	WriteFrames(buf []byte, nBytes int, n int) error

	// Finalize commits headers/trailers. After Finalize, no further
	// WriteFrames calls are valid. On a fatal error prior to Finalize,
	// the output must be considered corrupt.
	Finalize() error

	// Close releases the sink's output file handle. Calling Close
	// without a prior successful Finalize leaves a corrupt file.
	Close() error
}

// FilterSource is the shape every DSP stage satisfies: it is itself a
// Source (so stages compose), and it exclusively owns its upstream
// Source.
type FilterSource interface {
	Source
	Upstream() Source
}

// BitrateAuto is the sentinel for "let the encoder choose its own
// ceiling for this format and channel layout" instead of a silent zero meaning the same thing.
const BitrateAuto = 0

// Package errs defines the closed error taxonomy shared by every stage of
// the pipeline. Stages wrap one of these sentinels with fmt.Errorf so
// callers can classify a failure with errors.Is without depending on
// stage-specific error types.
package errs

import "errors"

var (
	// ErrShortRead marks a byte stream that ended mid-chunk or mid-frame.
	ErrShortRead = errors.New("premature end of stream")

	// ErrMalformedContainer marks a failed magic probe, a bad chunk size,
	// or an unknown mandatory structure.
	ErrMalformedContainer = errors.New("malformed container")

	// ErrUnsupportedFormat marks a format probe that cannot proceed:
	// bit depth above 32, channels above 8, or a zero sample rate.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrSeekUnsupported marks a seek request against a non-seekable source.
	ErrSeekUnsupported = errors.New("seek not supported")

	// ErrRangeError marks a cue/trim range that exceeds the source length,
	// or a cue sheet referencing a file that does not exist.
	ErrRangeError = errors.New("range exceeds source")

	// ErrInvalidMatrix marks a ragged mixing matrix, a column mixing real
	// and imaginary coefficients, or a channel-count mismatch.
	ErrInvalidMatrix = errors.New("invalid mixing matrix")

	// ErrCodecFailure marks a non-zero return from an external codec kernel.
	ErrCodecFailure = errors.New("codec kernel failure")

	// ErrIOFailure marks a failed underlying byte operation.
	ErrIOFailure = errors.New("io failure")
)

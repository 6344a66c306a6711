package waveforge

import (
	"context"
	"fmt"
	"io"

	"github.com/farcloser/waveforge/internal/sink/mp4"
)

// frameBatch is the pull granularity Run and RunEncoded request from
// the assembled filter chain per call.
const frameBatch = 4096

// Run drives src into sink: pull frameBatch frames at a time, write
// them, and stop once two consecutive reads return zero frames (stages
// carrying internal latency, like the limiter or the resampler, can
// return an empty batch without that meaning end of stream, so one zero
// read is not conclusive). Cancellation is cooperative, checked between
// frame batches; a cancelled run returns without finalizing, leaving
// partial output that must be considered corrupt, the same as any other
// fatal mid-stream error.
func Run(ctx context.Context, src Source, sink Sink) error {
	f := sink.Format()
	bpf := f.BytesPerFrame()
	buf := make([]byte, frameBatch*bpf)

	consecutiveZero := 0

	for consecutiveZero < 2 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrIOFailure, err)
		}

		n, err := src.ReadFrames(buf, frameBatch)
		if err != nil {
			return err
		}

		if n == 0 {
			consecutiveZero++

			continue
		}

		consecutiveZero = 0

		if err := sink.WriteFrames(buf[:n*bpf], n*bpf, n); err != nil {
			return err
		}
	}

	return sink.Finalize()
}

// RunEncoded drives src through sink's external AAC/ALAC codec kernel
// (mp4.Sink.EncodeFromPCM) instead of WriteFrames, for the MP4/ADTS
// sink which consumes pre-encoded frames rather than
// raw PCM.
func RunEncoded(ctx context.Context, src Source, sink *mp4.Sink) error {
	if err := sink.EncodeFromPCM(ctx, &sourceReader{src: src, bpf: src.Format().BytesPerFrame()}); err != nil {
		return err
	}

	return sink.Finalize()
}

// sourceReader adapts a pull-model Source into an io.Reader of raw
// interleaved PCM bytes, the shape codeckernel.Encode's stdin pipe
// expects.
type sourceReader struct {
	src    Source
	bpf    int
	buf    []byte
	off, n int
}

func (r *sourceReader) Read(p []byte) (int, error) {
	if r.off >= r.n {
		frames := len(p) / r.bpf
		if frames == 0 {
			frames = 1
		}

		need := frames * r.bpf
		if cap(r.buf) < need {
			r.buf = make([]byte, need)
		}

		// Same two-consecutive-zero EOF rule as Run: stages carrying
		// internal latency may return one empty batch mid-stream.
		got, err := r.src.ReadFrames(r.buf[:need], frames)
		if err != nil {
			return 0, err
		}

		if got == 0 {
			again, err := r.src.ReadFrames(r.buf[:need], frames)
			if err != nil {
				return 0, err
			}

			if again == 0 {
				return 0, io.EOF
			}

			got = again
		}

		r.buf = r.buf[:got*r.bpf]
		r.off, r.n = 0, len(r.buf)
	}

	n := copy(p, r.buf[r.off:r.n])
	r.off += n

	return n, nil
}

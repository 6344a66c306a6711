package waveforge

import (
	"io"

	"github.com/farcloser/waveforge/internal/sink/mp4"
	"github.com/farcloser/waveforge/internal/sink/wav"
)

// MP4Options configures the MP4/ADTS sink, re-exported
// from internal/sink/mp4 so callers never import it directly.
type MP4Options = mp4.Options

// NewWAVSink opens a RIFF/RF64 WAV sink over w, promoting to RF64 on
// Finalize if the written size exceeds 4 GiB. Pass an
// io.WriteSeeker for back-patched headers; a plain io.Writer streams an
// unknown-length header that is never rewritten.
func NewWAVSink(w io.Writer, f StreamFormat) (Sink, error) {
	return wav.New(w, f)
}

// NewMP4Sink opens an MP4/M4A or ADTS sink over w. The
// returned sink does not accept raw PCM via WriteFrames: feed it
// through RunEncoded, which drives the external AAC/ALAC codec
// kernel and hands the sink encoded frames via EncodeFromPCM.
func NewMP4Sink(w io.Writer, f StreamFormat, opts MP4Options) (*mp4.Sink, error) {
	return mp4.New(w, f, opts)
}

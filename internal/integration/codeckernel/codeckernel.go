// Package codeckernel wraps the external encoder and decoder processes
// the pipeline delegates codec math to: stdin PCM in, stdout encoded
// frames out, a context timeout, stderr captured into a classified
// error.
package codeckernel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/farcloser/primordium/fault"

	"github.com/farcloser/waveforge/internal/format"
	"github.com/farcloser/waveforge/internal/integration/binary"
)

const timeout = 5 * time.Minute

// Codec names the target bitstream; the core never implements either
// encoder itself.
type Codec int

const (
	AAC Codec = iota
	ALAC
)

func (c Codec) ffmpegName() string {
	if c == ALAC {
		return "alac"
	}

	return "aac"
}

// Options configures one encode invocation.
type Options struct {
	Codec   Codec
	Bitrate int // bits/sec; waveforge.BitrateAuto lets the encoder choose
	Format  format.StreamFormat
}

// Encode pipes raw interleaved PCM (in Options.Format) from input
// through an external `ffmpeg` process and writes the resulting
// ADTS-framed AAC stream to output. ALAC has no self-delimiting raw
// framing, so it cannot stream this way; use EncodeALACFile for it.
func Encode(ctx context.Context, input io.Reader, output io.Writer, opts Options) error {
	slog.Debug("codeckernel.Encode", "codec", opts.Codec, "stage", "start")

	if opts.Codec != AAC {
		return fmt.Errorf("%w: streaming encode is AAC-only", fault.ErrCommandFailure)
	}

	ffmpegPath, found := binary.Available("ffmpeg")
	if !found {
		return fmt.Errorf("%w: ffmpeg", fault.ErrMissingRequirements)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-f", pcmFormatSpec(opts.Format),
		"-ar", strconv.Itoa(opts.Format.SampleRate),
		"-ac", strconv.Itoa(opts.Format.Channels),
		"-i", "-",
		"-c:a", opts.Codec.ffmpegName(),
		"-v", "quiet",
	}

	if opts.Bitrate > 0 {
		args = append(args, "-b:a", strconv.Itoa(opts.Bitrate))
	}

	args = append(args, "-f", "adts", "-")

	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	cmd.Stdout = output
	cmd.Stdin = input

	var stderr bytes.Buffer

	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			slog.Debug("codeckernel.Encode", "codec", opts.Codec, "stage", "timeout")

			return fmt.Errorf("%w: after %v", fault.ErrTimeout, timeout)
		}

		slog.Debug("codeckernel.Encode", "codec", opts.Codec, "stage", "error")

		return fmt.Errorf("%w: %s: %w", fault.ErrCommandFailure, stderr.String(), err)
	}

	return nil
}

// EncodeALACFile pipes raw interleaved PCM from input through an
// external `ffmpeg` ALAC encode into outPath as an intermediate MP4.
// ALAC frames are not self-delimiting, so the kernel has to hand back a
// container carrying the sample table and magic cookie; the MP4 sink
// demuxes that intermediate natively and re-muxes it with its own box
// tree.
func EncodeALACFile(ctx context.Context, input io.Reader, outPath string, opts Options) error {
	slog.Debug("codeckernel.EncodeALACFile", "stage", "start")

	ffmpegPath, found := binary.Available("ffmpeg")
	if !found {
		return fmt.Errorf("%w: ffmpeg", fault.ErrMissingRequirements)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-f", pcmFormatSpec(opts.Format),
		"-ar", strconv.Itoa(opts.Format.SampleRate),
		"-ac", strconv.Itoa(opts.Format.Channels),
		"-i", "-",
		"-c:a", "alac",
		"-v", "quiet",
		"-y",
		"-f", "ipod", outPath,
	}

	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	cmd.Stdin = input

	var stderr bytes.Buffer

	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: after %v", fault.ErrTimeout, timeout)
		}

		return fmt.Errorf("%w: %s: %w", fault.ErrCommandFailure, stderr.String(), err)
	}

	return nil
}

// DecodeRaw shells out to an external command-line decoder (wvunpack,
// taktool, ...) that reads a compressed file from stdin and writes raw
// interleaved PCM to stdout. It is the entropy-decode half of the
// WavPack/TAK source adapters: container/header parsing stays native
// Go, only the residual decode crosses a process boundary, the same
// treatment the AAC/ALAC encoders get on the sink side.
func DecodeRaw(ctx context.Context, binName string, args []string, input io.Reader, output io.Writer) error {
	path, found := binary.Available(binName)
	if !found {
		return fmt.Errorf("%w: %s", fault.ErrMissingRequirements, binName)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = input
	cmd.Stdout = output

	var stderr bytes.Buffer

	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: after %v", fault.ErrTimeout, timeout)
		}

		return fmt.Errorf("%w: %s: %w", fault.ErrCommandFailure, stderr.String(), err)
	}

	return nil
}

func pcmFormatSpec(f format.StreamFormat) string {
	if f.Encoding == format.Float {
		return "f32le"
	}

	//nolint:gosec // bits-per-sample is bounded by StreamFormat.Validate
	return "s" + strconv.Itoa(f.ContainerBitsPerSample) + "le"
}

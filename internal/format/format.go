// Package format holds the StreamFormat descriptor that every source,
// filter and sink in the pipeline agrees on, plus the channel-layout
// bitmask <-> ordered-list resolution used by the channel mapper and the
// WAV/RF64 sink's WAVEFORMATEXTENSIBLE writer.
package format

import (
	"fmt"
	"math/bits"

	"github.com/farcloser/waveforge/internal/errs"
)

// Chapter is a named, timed subdivision of a source (a cue-sheet track,
// a FLAC embedded cuesheet entry, an MP4 chapter track entry). It lives
// here, rather than being redeclared per package, so every source
// adapter's Chapters() method shares one underlying type and can
// satisfy a common Source interface without an import cycle back to
// the root package.
type Chapter struct {
	Title    string
	Duration float64 // seconds
}

// Encoding is the sample arithmetic domain.
type Encoding int

const (
	SignedInt Encoding = iota
	UnsignedInt
	Float
)

func (e Encoding) String() string {
	switch e {
	case SignedInt:
		return "signed-int"
	case UnsignedInt:
		return "unsigned-int"
	case Float:
		return "float"
	default:
		return "unknown"
	}
}

// ByteOrder is the native endianness of samples as they arrive from a
// source. Once inside the graph, float-staged samples are always
// little-endian; ByteOrder only matters at the source/sink boundary.
type ByteOrder int

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

// StreamFormat fully describes the samples flowing between two stages.
// Adjacent stages must agree on every field except at an explicit
// adapter (the channel mapper, the quantizer, the endian converter).
type StreamFormat struct {
	SampleRate            int
	Channels              int
	Encoding              Encoding
	BitsPerSample         int // semantic valid-bit count: 8/16/24/32 int, 32/64 float
	ContainerBitsPerSample int // storage width >= BitsPerSample, rounded up to 8
	ByteOrder             ByteOrder
	Layout                ChannelLayout
}

// Validate checks the descriptor's internal invariants.
func (f StreamFormat) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", errs.ErrUnsupportedFormat, f.SampleRate)
	}

	if f.Channels <= 0 || f.Channels > 8 {
		return fmt.Errorf("%w: %d channels", errs.ErrUnsupportedFormat, f.Channels)
	}

	if f.ContainerBitsPerSample%8 != 0 {
		return fmt.Errorf("%w: container width %d not byte-aligned", errs.ErrMalformedContainer, f.ContainerBitsPerSample)
	}

	if f.ContainerBitsPerSample < f.BitsPerSample {
		return fmt.Errorf(
			"%w: container width %d narrower than semantic width %d",
			errs.ErrMalformedContainer, f.ContainerBitsPerSample, f.BitsPerSample,
		)
	}

	if f.Encoding != Float && f.BitsPerSample > 32 {
		return fmt.Errorf("%w: %d-bit integer", errs.ErrUnsupportedFormat, f.BitsPerSample)
	}

	return nil
}

// BytesPerFrame returns channels * container_bits_per_sample/8.
func (f StreamFormat) BytesPerFrame() int {
	return f.Channels * f.ContainerBitsPerSample / 8
}

// BytesPerSample returns container_bits_per_sample/8 for a single channel.
func (f StreamFormat) BytesPerSample() int {
	return f.ContainerBitsPerSample / 8
}

// Equal reports whether two formats describe identical sample streams,
// including channel layout. StreamFormat embeds a slice field
// (Layout), so it cannot be compared with ==; callers that need to
// check "do these stages agree" (Composite's sub-source check) must
// go through Equal instead.
func (f StreamFormat) Equal(other StreamFormat) bool {
	if f.SampleRate != other.SampleRate ||
		f.Channels != other.Channels ||
		f.Encoding != other.Encoding ||
		f.BitsPerSample != other.BitsPerSample ||
		f.ContainerBitsPerSample != other.ContainerBitsPerSample ||
		f.ByteOrder != other.ByteOrder {
		return false
	}

	if len(f.Layout) != len(other.Layout) {
		return false
	}

	for i, p := range f.Layout {
		if other.Layout[i] != p {
			return false
		}
	}

	return true
}

// ChannelPosition is one of the 18 standard speaker positions.
type ChannelPosition int

const (
	FrontLeft ChannelPosition = iota
	FrontRight
	FrontCenter
	LowFrequency
	BackLeft
	BackRight
	FrontLeftOfCenter
	FrontRightOfCenter
	BackCenter
	SideLeft
	SideRight
	TopCenter
	TopFrontLeft
	TopFrontCenter
	TopFrontRight
	TopBackLeft
	TopBackCenter
	TopBackRight

	numChannelPositions
)

var channelPositionNames = [numChannelPositions]string{
	"FL", "FR", "FC", "LFE", "BL", "BR", "FLC", "FRC", "BC",
	"SL", "SR", "TC", "TFL", "TFC", "TFR", "TBL", "TBC", "TBR",
}

func (p ChannelPosition) String() string {
	if p < 0 || p >= numChannelPositions {
		return "?"
	}

	return channelPositionNames[p]
}

// ChannelLayout is an ordered list of speaker positions, one per channel.
type ChannelLayout []ChannelPosition

// AACOrder is the canonical AAC program-config-element channel ordering
// for up to 6 channels (C, L, R, BL, BR, LFE — simplified to the common
// 5.1 case; mono/stereo collapse to their natural prefix).
var AACOrder = ChannelLayout{
	FrontCenter, FrontLeft, FrontRight, BackLeft, BackRight, LowFrequency,
}

// WAVEOrder is the canonical Microsoft WAVEFORMATEXTENSIBLE channel
// ordering (dwChannelMask bit order, low bit first) for up to 6 channels.
var WAVEOrder = ChannelLayout{
	FrontLeft, FrontRight, FrontCenter, LowFrequency, BackLeft, BackRight,
}

// MaskFromLayout packs an ordered channel list into a WAVEFORMATEXTENSIBLE
// dwChannelMask bitmask.
func MaskFromLayout(layout ChannelLayout) uint32 {
	var mask uint32
	for _, p := range layout {
		if p >= 0 && p < numChannelPositions {
			mask |= 1 << uint(p)
		}
	}

	return mask
}

// LayoutFromMask expands a dwChannelMask bitmask into an ordered channel
// list, in ascending bit order. popcount(mask) must equal channels.
func LayoutFromMask(mask uint32, channels int) (ChannelLayout, error) {
	if bits.OnesCount32(mask) != channels {
		return nil, fmt.Errorf(
			"%w: mask 0x%x has %d bits set, want %d channels",
			errs.ErrMalformedContainer, mask, bits.OnesCount32(mask), channels,
		)
	}

	layout := make(ChannelLayout, 0, channels)

	for i := range numChannelPositions {
		if mask&(1<<uint(i)) != 0 {
			layout = append(layout, ChannelPosition(i))
		}
	}

	return layout, nil
}

// Permutation returns, for each output channel in `to`, the 0-based index
// of that position in `from`. Used by the channel mapper to build its
// permutation vector from two named layouts instead of raw indices.
func Permutation(from, to ChannelLayout) ([]int, error) {
	index := make(map[ChannelPosition]int, len(from))
	for i, p := range from {
		index[p] = i
	}

	perm := make([]int, len(to))

	for i, p := range to {
		j, ok := index[p]
		if !ok {
			return nil, fmt.Errorf("%w: position %s not present in source layout", errs.ErrInvalidMatrix, p)
		}

		perm[i] = j
	}

	return perm, nil
}

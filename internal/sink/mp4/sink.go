// Package mp4 implements the MP4/ADTS sink: it accepts already-encoded
// AAC or ALAC frames (the bitstream encoder itself is an external
// process), and either wraps each frame with a 7-byte ADTS header (no
// container) or muxes a single-track MP4/M4A with gapless playback
// metadata (edts edit list and/or iTunSMPB tag).
package mp4

import (
	"context"
	bin "encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/farcloser/waveforge/internal/bitio"
	"github.com/farcloser/waveforge/internal/errs"
	"github.com/farcloser/waveforge/internal/format"
	"github.com/farcloser/waveforge/internal/integration/codeckernel"
)

// Container selects the output framing.
type Container int

const (
	ContainerADTS Container = iota
	ContainerMP4
)

// Codec names the payload bitstream.
type Codec int

const (
	AAC Codec = iota
	ALAC
)

// GaplessMode selects which gapless signalling the MP4 sink emits.
type GaplessMode int

const (
	GaplessNone GaplessMode = iota
	GaplessITunSMPB
	GaplessEditList
	GaplessBoth
)

// Options configures one sink instance.
type Options struct {
	Container   Container
	Codec       Codec
	Bitrate     int // waveforge.BitrateAuto lets the encoder choose
	Gapless     GaplessMode
	EditStart   int64 // encoder-delay frames to trim from the front
	EditEnd     int64 // padding frames to trim from the back
	Tags        map[string]string
	Optimize    bool // order moov ahead of mdat in the written file
}

type sample struct {
	size int
}

// sttsEntry is one run of equal-duration samples, carried through from
// an ingested intermediate for ALAC (the encoder's final frame is
// usually short) and synthesized as a single uniform run for AAC.
type sttsEntry struct {
	count, delta uint32
}

const (
	aacFrameSamples  = 1024
	alacFrameSamples = 4096
)

// Sink writes encoded AAC/ALAC frames as ADTS or muxes them into MP4.
type Sink struct {
	w    io.Writer
	ws   io.WriteSeeker
	f    format.StreamFormat
	opts Options

	asc               ASC
	alac              ALACCookie
	haveASC, haveALAC bool

	frameDuration int // samples per encoded frame
	mdat          []byte
	samples       []sample
	stts          []sttsEntry // nil means uniform frameDuration runs

	bitrateWindow []int // byte counts of frames emitted in the trailing ~1s window
	maxBitrate    int
	totalBytes    int64
}

// New builds a sink of the given format and options. The decoder
// configuration (ASC or ALAC magic cookie) is captured from the codec
// kernel's output during EncodeFromPCM, or supplied up front via
// SetASC/SetALACCookie by callers driving the sink with pre-encoded
// frames.
func New(w io.Writer, f format.StreamFormat, opts Options) (*Sink, error) {
	if opts.Container == ContainerADTS && opts.Codec == ALAC {
		return nil, fmt.Errorf("%w: ADTS framing carries AAC only", errs.ErrUnsupportedFormat)
	}

	frameDuration := aacFrameSamples
	if opts.Codec == ALAC {
		frameDuration = alacFrameSamples
	}

	s := &Sink{w: w, f: f, opts: opts, frameDuration: frameDuration}
	if ws, ok := w.(io.WriteSeeker); ok {
		s.ws = ws
	}

	return s, nil
}

// SetASC records the AAC AudioSpecificConfig extracted from the
// encoder's out-of-band config, required before Finalize for AAC/MP4 or
// AAC/ADTS output.
func (s *Sink) SetASC(raw []byte) error {
	asc, err := ParseASC(raw)
	if err != nil {
		return err
	}

	s.asc = asc
	s.haveASC = true

	return nil
}

// SetALACCookie records the ALAC magic cookie, required before Finalize
// for ALAC/MP4 output.
func (s *Sink) SetALACCookie(raw []byte) error {
	cookie, err := ParseALACCookie(raw)
	if err != nil {
		return err
	}

	s.alac = cookie
	s.haveALAC = true

	return nil
}

// EncodeFromPCM drives the external codec kernel over in. AAC streams
// through ffmpeg's ADTS output, emitted verbatim (ContainerADTS) or
// de-framed into the MP4 sample table (ContainerMP4). ALAC has no
// self-delimiting framing, so the kernel writes an intermediate MP4 to
// a temp file that is demuxed natively for its sample table and magic
// cookie, then re-muxed by Finalize.
func (s *Sink) EncodeFromPCM(ctx context.Context, in io.Reader) error {
	if s.opts.Codec == ALAC {
		return s.encodeALAC(ctx, in)
	}

	pr, pw := io.Pipe()

	errCh := make(chan error, 1)

	go func() {
		err := codeckernel.Encode(ctx, in, pw, codeckernel.Options{
			Codec: codeckernel.AAC, Bitrate: s.opts.Bitrate, Format: s.f,
		})
		_ = pw.CloseWithError(err)
		errCh <- err
	}()

	if err := s.consumeADTSStream(pr); err != nil {
		return err
	}

	return <-errCh
}

func (s *Sink) encodeALAC(ctx context.Context, in io.Reader) error {
	tmp, err := os.CreateTemp("", "waveforge-alac-*.m4a")
	if err != nil {
		return fmt.Errorf("%w: alac temp file: %w", errs.ErrIOFailure, err)
	}

	name := tmp.Name()
	_ = tmp.Close()

	defer os.Remove(name)

	if err := codeckernel.EncodeALACFile(ctx, in, name, codeckernel.Options{
		Codec: codeckernel.ALAC, Bitrate: s.opts.Bitrate, Format: s.f,
	}); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrCodecFailure, err)
	}

	return s.ingestALACFile(name)
}

// consumeADTSStream reads the encoder's ADTS output (ffmpeg's `-f adts`
// muxing) frame by frame, stripping headers for MP4 output or passing
// them through verbatim for ADTS output.
func (s *Sink) consumeADTSStream(r io.Reader) error {
	var hdr [7]byte

	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF {
				return nil
			}

			return fmt.Errorf("%w: %w", errs.ErrCodecFailure, err)
		}

		frameLen := int(hdr[3]&0x3)<<11 | int(hdr[4])<<3 | int(hdr[5])>>5
		payloadLen := frameLen - 7

		if payloadLen < 0 {
			return fmt.Errorf("%w: negative ADTS payload length", errs.ErrMalformedContainer)
		}

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("%w: %w", errs.ErrCodecFailure, err)
		}

		if !s.haveASC {
			if err := s.ascFromADTS(hdr); err != nil {
				return err
			}
		}

		s.recordBitrate(frameLen)

		switch s.opts.Container {
		case ContainerADTS:
			if _, err := s.w.Write(hdr[:]); err != nil {
				return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
			}

			if _, err := s.w.Write(payload); err != nil {
				return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
			}
		case ContainerMP4:
			s.mdat = append(s.mdat, payload...)
			s.samples = append(s.samples, sample{size: payloadLen})
		}
	}
}

// ascFromADTS reconstructs the two-byte AudioSpecificConfig out of the
// first ADTS header the kernel emits, so the MP4 esds carries the same
// object type / rate index / channel config the stream was encoded
// with.
func (s *Sink) ascFromADTS(hdr [7]byte) error {
	profile := int(hdr[2]>>6) & 0x3
	rateIdx := int(hdr[2]>>2) & 0xF
	chanConfig := int(hdr[2]&0x1)<<2 | int(hdr[3]>>6)

	w := bitio.NewWriter()
	w.Put(uint32(profile+1), 5)
	w.Put(uint32(rateIdx), 4)
	w.Put(uint32(chanConfig), 4)
	w.ByteAlign()

	return s.SetASC(w.Bytes())
}

// recordBitrate maintains the running maximum 1-second-windowed bitrate
// that Finalize writes into esds's maxBitrate field.
func (s *Sink) recordBitrate(frameBytes int) {
	s.totalBytes += int64(frameBytes)
	s.bitrateWindow = append(s.bitrateWindow, frameBytes)

	framesPerSec := 1
	if s.f.SampleRate > 0 {
		framesPerSec = s.f.SampleRate / s.frameDuration
		if framesPerSec < 1 {
			framesPerSec = 1
		}
	}

	if len(s.bitrateWindow) > framesPerSec {
		s.bitrateWindow = s.bitrateWindow[len(s.bitrateWindow)-framesPerSec:]
	}

	windowBytes := 0
	for _, b := range s.bitrateWindow {
		windowBytes += b
	}

	bps := windowBytes * 8
	if bps > s.maxBitrate {
		s.maxBitrate = bps
	}
}

func (s *Sink) Format() format.StreamFormat { return s.f }

// WriteFrames is unused for this sink: frames arrive pre-encoded via
// EncodeFromPCM. It exists to satisfy the Sink contract for callers that
// drive every sink uniformly.
func (s *Sink) WriteFrames([]byte, int, int) error {
	return fmt.Errorf("%w: mp4 sink consumes encoded frames via EncodeFromPCM, not WriteFrames", errs.ErrIOFailure)
}

// Finalize writes the MP4 box tree (ftyp/moov/mdat) for Container ==
// ContainerMP4; ADTS output needs no trailer. If Optimize is set, the
// moov box is written before mdat directly (this sink never needs a
// second re-mux pass since frame sizes are known once encoding is done).
func (s *Sink) Finalize() error {
	if s.opts.Container == ContainerADTS {
		return nil
	}

	if s.opts.Codec == AAC && !s.haveASC {
		return fmt.Errorf("%w: mp4/aac finalize without ASC", errs.ErrCodecFailure)
	}

	if s.opts.Codec == ALAC && !s.haveALAC {
		return fmt.Errorf("%w: mp4/alac finalize without ALAC cookie", errs.ErrCodecFailure)
	}

	ftyp := buildFtyp()

	// moov's size does not depend on the chunk-offset value stco
	// carries (a fixed 4 bytes), so build it once to learn the size,
	// then again with the real mdat payload offset.
	probe := s.buildMoov(0)
	mdatPayload := uint32(len(ftyp) + len(probe) + 8)
	moov := s.buildMoov(mdatPayload)

	mdat := box("mdat", s.mdat)

	for _, b := range [][]byte{ftyp, moov, mdat} {
		if _, err := s.w.Write(b); err != nil {
			return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
		}
	}

	return nil
}

func buildFtyp() []byte {
	body := append([]byte("M4A "), beU32(0)...)
	body = append(body, []byte("M4A ")...)
	body = append(body, []byte("mp42")...)
	body = append(body, []byte("isom")...)

	return box("ftyp", body)
}

func (s *Sink) buildMoov(mdatPayload uint32) []byte {
	mvhd := s.buildMVHD()
	trak := s.buildTrak(mdatPayload)
	udta := s.buildUDTA()

	return boxes("moov", mvhd, trak, udta)
}

func (s *Sink) buildMVHD() []byte {
	body := make([]byte, 100)
	// version/flags, creation/mod time left zero.
	bin.BigEndian.PutUint32(body[12:16], uint32(s.f.SampleRate)) // timescale
	bin.BigEndian.PutUint32(body[16:20], uint32(s.totalFramesOut()))
	bin.BigEndian.PutUint32(body[20:24], 0x00010000) // rate 1.0
	bin.BigEndian.PutUint16(body[24:26], 0x0100)     // volume 1.0
	putUnityMatrix(body[36:72])
	bin.BigEndian.PutUint32(body[96:100], 2) // next track id

	return box("mvhd", body)
}

func putUnityMatrix(b []byte) {
	bin.BigEndian.PutUint32(b[0:4], 0x00010000)
	bin.BigEndian.PutUint32(b[16:20], 0x00010000)
	bin.BigEndian.PutUint32(b[32:36], 0x40000000)
}

func (s *Sink) totalFramesOut() int64 {
	if s.stts != nil {
		var total int64

		for _, e := range s.stts {
			total += int64(e.count) * int64(e.delta)
		}

		return total
	}

	return int64(len(s.samples)) * int64(s.frameDuration)
}

func (s *Sink) buildTrak(mdatPayload uint32) []byte {
	tkhd := s.buildTKHD()
	mdia := s.buildMDIA(mdatPayload)

	parts := [][]byte{tkhd}

	if s.opts.Gapless == GaplessEditList || s.opts.Gapless == GaplessBoth {
		parts = append(parts, s.buildEDTS())
	}

	parts = append(parts, mdia)

	return boxes("trak", parts...)
}

func (s *Sink) buildTKHD() []byte {
	body := make([]byte, 84)
	body[3] = 7                                                  // enabled | in-movie | in-preview
	bin.BigEndian.PutUint32(body[12:16], 1)                      // track id
	bin.BigEndian.PutUint32(body[20:24], uint32(s.totalFramesOut()))
	bin.BigEndian.PutUint16(body[36:38], 0x0100) // volume 1.0
	putUnityMatrix(body[40:76])

	return box("tkhd", body)
}

// buildEDTS emits one edit: media_time = EditStart, segment_duration =
// edit_duration.
func (s *Sink) buildEDTS() []byte {
	editDuration := s.totalFramesOut() - s.opts.EditStart - s.opts.EditEnd

	body := make([]byte, 8)
	bin.BigEndian.PutUint32(body[4:8], 1)

	entry := make([]byte, 12)
	bin.BigEndian.PutUint32(entry[0:4], uint32(editDuration))
	bin.BigEndian.PutUint32(entry[4:8], uint32(s.opts.EditStart))
	bin.BigEndian.PutUint16(entry[8:10], 1)

	elst := box("elst", append(body, entry...))

	return box("edts", elst)
}

func (s *Sink) buildMDIA(mdatPayload uint32) []byte {
	mdhd := make([]byte, 24)
	bin.BigEndian.PutUint32(mdhd[12:16], uint32(s.f.SampleRate))
	bin.BigEndian.PutUint32(mdhd[16:20], uint32(s.totalFramesOut()))
	bin.BigEndian.PutUint16(mdhd[20:22], 0x55C4) // language: und

	hdlr := box("hdlr", append(append(make([]byte, 8), []byte("soun")...), make([]byte, 13)...))

	minf := s.buildMINF(mdatPayload)

	return boxes("mdia", box("mdhd", mdhd), hdlr, minf)
}

func (s *Sink) buildMINF(mdatPayload uint32) []byte {
	smhd := box("smhd", make([]byte, 8))
	dinf := box("dinf", box("dref", append(beU32(1), box("url ", []byte{0, 0, 0, 1})...)))
	stbl := s.buildSTBL(mdatPayload)

	return boxes("minf", smhd, dinf, stbl)
}

func (s *Sink) buildSTBL(mdatPayload uint32) []byte {
	stsd := s.buildSTSD()
	stts := s.buildSTTS()
	stsz := s.buildSTSZ()
	stsc := boxes("stsc", beU32(0), beU32(1), concat(beU32(1), beU32(uint32(len(s.samples))), beU32(1)))
	stco := boxes("stco", beU32(0), beU32(1), beU32(mdatPayload))

	return boxes("stbl", stsd, stts, stsz, stsc, stco)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}

	return out
}

func (s *Sink) buildSTSD() []byte {
	var entry []byte

	channels := s.f.Channels
	if channels > 2 {
		channels = 2 // sample entry channel count is capped at 2; the real count lives in the codec config
	}

	if s.opts.Codec == AAC {
		esds := s.buildESDS()
		sampleEntry := audioSampleEntry("mp4a", channels, s.f.BitsPerSample, esds)
		entry = sampleEntry
	} else {
		cookie := concat(s.alac.SpecificConfig[:])

		var chanAtom []byte
		if len(s.alac.ChannelLayout) > 0 {
			chanAtom = box("chan", s.alac.ChannelLayout)
		}

		alacBox := box("alac", concat([]byte{0, 0, 0, 0}, cookie))
		sampleEntry := audioSampleEntry("alac", channels, s.f.BitsPerSample, concat(alacBox, chanAtom))
		entry = sampleEntry
	}

	return box("stsd", concat(beU32(0), beU32(1), entry))
}

func audioSampleEntry(name string, channels, bits int, config []byte) []byte {
	body := make([]byte, 28)
	bin.BigEndian.PutUint16(body[6:8], 1) // data reference index
	bin.BigEndian.PutUint16(body[16:18], uint16(channels))
	bin.BigEndian.PutUint16(body[18:20], uint16(bits))

	return box(name, concat(body, config))
}

func (s *Sink) buildESDS() []byte {
	asc := s.asc.Raw

	decSpecificInfo := descriptor(0x05, asc)
	avgBitrate := uint32(s.totalBytes * 8 * int64(s.f.SampleRate) / max64(s.totalFramesOut(), 1))

	decConfig := concat(
		[]byte{0x40}, // object type: MPEG-4 Audio
		[]byte{0x15}, // stream type (audio) << 2 | upstream | reserved
		[]byte{0, 0, 0}, // buffer size DB
		beU32(uint32(s.maxBitrate)),
		beU32(avgBitrate),
		decSpecificInfo,
	)
	decConfigDesc := descriptor(0x04, decConfig)

	slConfig := descriptor(0x06, []byte{0x02})

	esDescriptor := concat([]byte{0, 0, 0, 0}, descriptor(0x03, concat([]byte{0, 1, 0}, decConfigDesc, slConfig)))

	return box("esds", esDescriptor)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}

	return b
}

// descriptor wraps an MPEG-4 descriptor tag/length/payload, encoding
// the length in the expandable 7-bits-per-byte form (an ASC carrying a
// program-config element can push a DecoderConfigDescriptor past 127
// bytes).
func descriptor(tag byte, body []byte) []byte {
	length := len(body)

	enc := []byte{byte(length & 0x7F)}
	for length >>= 7; length > 0; length >>= 7 {
		enc = append([]byte{byte(length&0x7F) | 0x80}, enc...)
	}

	return concat([]byte{tag}, enc, body)
}

func (s *Sink) buildSTTS() []byte {
	entries := s.stts
	if entries == nil {
		entries = []sttsEntry{{count: uint32(len(s.samples)), delta: uint32(s.frameDuration)}}
	}

	body := concat(beU32(0), beU32(uint32(len(entries))))
	for _, e := range entries {
		body = append(body, concat(beU32(e.count), beU32(e.delta))...)
	}

	return box("stts", body)
}

func (s *Sink) buildSTSZ() []byte {
	body := concat(beU32(0), beU32(0), beU32(uint32(len(s.samples))))

	for _, sm := range s.samples {
		body = append(body, beU32(uint32(sm.size))...)
	}

	return box("stsz", body)
}

func (s *Sink) buildUDTA() []byte {
	if len(s.opts.Tags) == 0 && s.opts.Gapless == GaplessNone {
		return box("udta", nil)
	}

	ilst := s.buildILST()
	hdlr := box("hdlr", concat(make([]byte, 8), []byte("mdir"), []byte("appl"), make([]byte, 9)))
	meta := box("meta", concat([]byte{0, 0, 0, 0}, hdlr, ilst))

	return box("udta", meta)
}

// tagAtoms maps the pipeline's tag keys (the adapters' iTunes
// short codes and the cue parser's command names) onto ilst atom names.
var tagAtoms = map[string]string{
	"nam": "\xa9nam", "TITLE": "\xa9nam",
	"ART": "\xa9ART", "PERFORMER": "\xa9ART",
	"alb": "\xa9alb", "ALBUM": "\xa9alb",
	"gen": "\xa9gen", "GENRE": "\xa9gen",
	"day": "\xa9day", "DATE": "\xa9day",
	"cmt": "\xa9cmt", "COMMENT": "\xa9cmt",
	"wrt": "\xa9wrt", "SONGWRITER": "\xa9wrt", "COMPOSER": "\xa9wrt",
	"grp": "\xa9grp", "too": "\xa9too",
	"aART": "aART", "ALBUMARTIST": "aART",
}

const freeFormPrefix = "----:com.apple.iTunes:"

func (s *Sink) buildILST() []byte {
	var items []byte

	for key, value := range s.opts.Tags {
		switch {
		case key == "TRACK":
			items = append(items, buildTrackItem(value)...)
		case strings.HasPrefix(key, freeFormPrefix):
			items = append(items, s.buildFreeFormTag(key[len(freeFormPrefix):], value)...)
		default:
			atom, ok := tagAtoms[key]
			if !ok {
				// Namespaced custom pair without a dedicated atom.
				items = append(items, s.buildFreeFormTag(key, value)...)

				continue
			}

			items = append(items, buildTagItem(atom, value)...)
		}
	}

	if s.opts.Gapless == GaplessITunSMPB || s.opts.Gapless == GaplessBoth {
		items = append(items, s.buildFreeFormTag("iTunSMPB", s.iTunSMPB())...)
	}

	return box("ilst", items)
}

func buildTagItem(atom, value string) []byte {
	data := box("data", concat(beU32(1), beU32(0), []byte(value)))

	return box(atom, data)
}

// buildTrackItem renders "n/total" as the binary trkn atom.
func buildTrackItem(value string) []byte {
	numPart, totalPart, _ := strings.Cut(value, "/")
	num, _ := strconv.Atoi(numPart)
	total, _ := strconv.Atoi(totalPart)

	body := concat(beU16(0), beU16(uint16(num)), beU16(uint16(total)), beU16(0))
	data := box("data", concat(beU32(0), beU32(0), body))

	return box("trkn", data)
}

func (s *Sink) buildFreeFormTag(name, value string) []byte {
	mean := box("mean", concat(beU32(0), []byte("com.apple.iTunes")))
	name4 := box("name", concat(beU32(0), []byte(name)))
	data := box("data", concat(beU32(1), beU32(0), []byte(value)))

	return box("----", concat(mean, name4, data))
}

// iTunSMPB renders the 12-hex-field free-form tag value.
func (s *Sink) iTunSMPB() string {
	editStart := s.opts.EditStart
	editDuration := s.totalFramesOut() - s.opts.EditStart - s.opts.EditEnd
	padding := s.totalFramesOut() - editStart - editDuration

	// The samples field is the effective length: frames written minus
	// encoder delay and padding.
	samplesHi := uint32(editDuration >> 32)
	samplesLo := uint32(editDuration)

	return fmt.Sprintf(
		" 00000000 %08X %08X %08X%08X 00000000 00000000 00000000 00000000 00000000 00000000 00000000 00000000",
		editStart, padding, samplesHi, samplesLo,
	)
}

func (s *Sink) Close() error {
	if closer, ok := s.w.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}

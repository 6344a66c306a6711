// Demux of the ALAC kernel's intermediate MP4: the external encoder hands back a
// container, and the sink lifts its sample table, sample payloads and
// ALACSpecificConfig out of it before re-muxing with its own box tree.
package mp4

import (
	bin "encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/farcloser/waveforge/internal/errs"
)

// ingestALACFile reads the intermediate MP4 at path, extracting the
// ALAC magic cookie, the per-sample sizes/durations and every sample's
// payload bytes into the sink's own accumulation state.
func (s *Sink) ingestALACFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}
	defer f.Close()

	moov, err := findTopLevelBox(f, "moov")
	if err != nil {
		return err
	}

	stbl, err := findBoxPath(moov, "trak", "mdia", "minf", "stbl")
	if err != nil {
		return err
	}

	if err := s.ingestCookie(stbl); err != nil {
		return err
	}

	sizes, err := parseSTSZ(stbl)
	if err != nil {
		return err
	}

	stts, err := parseSTTS(stbl)
	if err != nil {
		return err
	}

	offsets, spc, err := parseChunkLayout(stbl)
	if err != nil {
		return err
	}

	if err := s.ingestSamples(f, sizes, offsets, spc); err != nil {
		return err
	}

	s.stts = stts
	if len(stts) > 0 {
		s.frameDuration = int(stts[0].delta)
	}

	return nil
}

// findTopLevelBox scans the file's top-level boxes for name and returns
// its body.
func findTopLevelBox(f *os.File, name string) ([]byte, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	for {
		var hdr [8]byte

		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("%w: no %s box in intermediate", errs.ErrMalformedContainer, name)
			}

			return nil, fmt.Errorf("%w: %w", errs.ErrShortRead, err)
		}

		size := int64(bin.BigEndian.Uint32(hdr[0:4]))
		boxName := string(hdr[4:8])

		if size == 1 {
			var large [8]byte

			if _, err := io.ReadFull(f, large[:]); err != nil {
				return nil, fmt.Errorf("%w: %w", errs.ErrShortRead, err)
			}

			size = int64(bin.BigEndian.Uint64(large[:])) - 8
		}

		if size < 8 {
			return nil, fmt.Errorf("%w: box %q size %d", errs.ErrMalformedContainer, boxName, size)
		}

		if boxName == name {
			body := make([]byte, size-8)
			if _, err := io.ReadFull(f, body); err != nil {
				return nil, fmt.Errorf("%w: %w", errs.ErrShortRead, err)
			}

			return body, nil
		}

		if _, err := f.Seek(size-8, io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
		}
	}
}

// findChildBox locates the first child box called name within body.
func findChildBox(body []byte, name string) ([]byte, error) {
	pos := 0

	for pos+8 <= len(body) {
		size := int(bin.BigEndian.Uint32(body[pos : pos+4]))
		boxName := string(body[pos+4 : pos+8])

		if size < 8 || pos+size > len(body) {
			return nil, fmt.Errorf("%w: box %q size %d", errs.ErrMalformedContainer, boxName, size)
		}

		if boxName == name {
			return body[pos+8 : pos+size], nil
		}

		pos += size
	}

	return nil, fmt.Errorf("%w: no %s box in intermediate", errs.ErrMalformedContainer, name)
}

func findBoxPath(body []byte, path ...string) ([]byte, error) {
	var err error

	for _, name := range path {
		body, err = findChildBox(body, name)
		if err != nil {
			return nil, err
		}
	}

	return body, nil
}

// audioSampleEntryHeaderSize is the fixed part of an ISO-BMFF audio
// sample entry before codec-specific child boxes.
const audioSampleEntryHeaderSize = 28

// ingestCookie pulls the ALACSpecificConfig (and optional channel
// layout) out of stsd's alac sample entry.
func (s *Sink) ingestCookie(stbl []byte) error {
	stsd, err := findChildBox(stbl, "stsd")
	if err != nil {
		return err
	}

	if len(stsd) < 8 {
		return fmt.Errorf("%w: truncated stsd", errs.ErrMalformedContainer)
	}

	entry, err := findChildBox(stsd[8:], "alac")
	if err != nil {
		return err
	}

	if len(entry) < audioSampleEntryHeaderSize {
		return fmt.Errorf("%w: truncated alac sample entry", errs.ErrMalformedContainer)
	}

	// The codec-specific children (the alac config box, maybe a chan
	// box) follow the fixed entry header; ParseALACCookie accepts this
	// wrapped form as-is.
	return s.SetALACCookie(entry[audioSampleEntryHeaderSize:])
}

func parseSTSZ(stbl []byte) ([]uint32, error) {
	stsz, err := findChildBox(stbl, "stsz")
	if err != nil {
		return nil, err
	}

	if len(stsz) < 12 {
		return nil, fmt.Errorf("%w: truncated stsz", errs.ErrMalformedContainer)
	}

	uniform := bin.BigEndian.Uint32(stsz[4:8])
	count := int(bin.BigEndian.Uint32(stsz[8:12]))

	sizes := make([]uint32, count)

	if uniform != 0 {
		for i := range sizes {
			sizes[i] = uniform
		}

		return sizes, nil
	}

	if len(stsz) < 12+4*count {
		return nil, fmt.Errorf("%w: stsz table shorter than its count", errs.ErrMalformedContainer)
	}

	for i := range sizes {
		sizes[i] = bin.BigEndian.Uint32(stsz[12+4*i : 16+4*i])
	}

	return sizes, nil
}

func parseSTTS(stbl []byte) ([]sttsEntry, error) {
	stts, err := findChildBox(stbl, "stts")
	if err != nil {
		return nil, err
	}

	if len(stts) < 8 {
		return nil, fmt.Errorf("%w: truncated stts", errs.ErrMalformedContainer)
	}

	count := int(bin.BigEndian.Uint32(stts[4:8]))
	if len(stts) < 8+8*count {
		return nil, fmt.Errorf("%w: stts table shorter than its count", errs.ErrMalformedContainer)
	}

	entries := make([]sttsEntry, count)

	for i := range entries {
		entries[i] = sttsEntry{
			count: bin.BigEndian.Uint32(stts[8+8*i : 12+8*i]),
			delta: bin.BigEndian.Uint32(stts[12+8*i : 16+8*i]),
		}
	}

	return entries, nil
}

// parseChunkLayout returns the absolute chunk offsets (stco or co64)
// and, per chunk, its sample count resolved from stsc's run-length
// table.
func parseChunkLayout(stbl []byte) ([]int64, []int, error) {
	var offsets []int64

	if stco, err := findChildBox(stbl, "stco"); err == nil {
		count := int(bin.BigEndian.Uint32(stco[4:8]))
		if len(stco) < 8+4*count {
			return nil, nil, fmt.Errorf("%w: stco table shorter than its count", errs.ErrMalformedContainer)
		}

		for i := range count {
			offsets = append(offsets, int64(bin.BigEndian.Uint32(stco[8+4*i:12+4*i])))
		}
	} else if co64, err := findChildBox(stbl, "co64"); err == nil {
		count := int(bin.BigEndian.Uint32(co64[4:8]))
		if len(co64) < 8+8*count {
			return nil, nil, fmt.Errorf("%w: co64 table shorter than its count", errs.ErrMalformedContainer)
		}

		for i := range count {
			offsets = append(offsets, int64(bin.BigEndian.Uint64(co64[8+8*i:16+8*i])))
		}
	} else {
		return nil, nil, fmt.Errorf("%w: neither stco nor co64 in intermediate", errs.ErrMalformedContainer)
	}

	stsc, err := findChildBox(stbl, "stsc")
	if err != nil {
		return nil, nil, err
	}

	entryCount := int(bin.BigEndian.Uint32(stsc[4:8]))
	if len(stsc) < 8+12*entryCount {
		return nil, nil, fmt.Errorf("%w: stsc table shorter than its count", errs.ErrMalformedContainer)
	}

	perChunk := make([]int, len(offsets))

	for i := range entryCount {
		first := int(bin.BigEndian.Uint32(stsc[8+12*i : 12+12*i]))
		samples := int(bin.BigEndian.Uint32(stsc[12+12*i : 16+12*i]))

		last := len(offsets)
		if i+1 < entryCount {
			last = int(bin.BigEndian.Uint32(stsc[20+12*i:24+12*i])) - 1
		}

		for c := first - 1; c < last && c < len(perChunk); c++ {
			perChunk[c] = samples
		}
	}

	return offsets, perChunk, nil
}

// ingestSamples walks the chunk layout reading every sample's payload
// into the sink's mdat accumulator, recording bitrate as it goes.
func (s *Sink) ingestSamples(f *os.File, sizes []uint32, offsets []int64, perChunk []int) error {
	next := 0

	for c, off := range offsets {
		if _, err := f.Seek(off, io.SeekStart); err != nil {
			return fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
		}

		for range perChunk[c] {
			if next >= len(sizes) {
				break
			}

			size := int(sizes[next])

			payload := make([]byte, size)
			if _, err := io.ReadFull(f, payload); err != nil {
				return fmt.Errorf("%w: %w", errs.ErrShortRead, err)
			}

			s.mdat = append(s.mdat, payload...)
			s.samples = append(s.samples, sample{size: size})
			s.recordBitrate(size)

			next++
		}
	}

	if next != len(sizes) {
		return fmt.Errorf("%w: chunk layout covers %d of %d samples", errs.ErrMalformedContainer, next, len(sizes))
	}

	return nil
}

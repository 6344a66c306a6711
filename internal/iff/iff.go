// Package iff implements a chunk-iterating reader over IFF-family
// containers (RIFF/RF64/WAVE), including RF64's ds64 64-bit size-table
// promotion. It does not interpret chunk payloads beyond ds64; callers
// descend into containers and read payload bytes themselves.
package iff

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/farcloser/waveforge/internal/errs"
)

// FourCC is a 4-byte chunk identifier, e.g. "RIFF", "data", "ds64".
type FourCC [4]byte

func (f FourCC) String() string { return string(f[:]) }

func fourCC(s string) FourCC {
	var f FourCC
	copy(f[:], s)

	return f
}

var (
	ccRIFF = fourCC("RIFF")
	ccRF64 = fourCC("RF64")
	ccDS64 = fourCC("ds64")

	// ccContainerEnd is synthesized by Reader.Next when a descent scope
	// completes; it carries no payload.
	ccContainerEnd = fourCC("\x00end")
)

var containerFourCCs = map[FourCC]bool{
	fourCC("RIFF"): true,
	fourCC("RF64"): true,
	fourCC("LIST"): true,
	fourCC("CAT "): true,
	fourCC("FORM"): true,
}

// IsContainer reports whether a four-cc introduces a nested chunk list
// (the caller decides whether to descend into it).
func IsContainer(cc FourCC) bool { return containerFourCCs[cc] }

// Chunk describes one chunk header as returned by Reader.Next.
type Chunk struct {
	FourCC FourCC
	Size   int64 // payload size in bytes, ds64-promoted when overridden
	// ContainerEnd is true for the synthetic chunk emitted when a
	// descent scope completes; FourCC and Size are meaningless then.
	ContainerEnd bool
}

// DS64 carries the RF64 ds64 chunk's 64-bit size overrides.
type DS64 struct {
	RIFFSize64 uint64
	DataSize64 uint64
	SampleCount uint64
	Table       map[FourCC]uint64 // four-cc -> 64-bit size override
}

// Reader iterates chunks within one descent scope (the top level, or the
// payload of a container chunk the caller chose to descend into).
type Reader struct {
	r       io.Reader
	remain  int64 // bytes left in this scope, -1 if unknown (non-seekable top level)
	ds64    *DS64 // set once the top-level ds64 chunk has been read
	skipPad bool  // true once next Read must first skip a pending pad byte
}

// NewReader wraps r as a top-level IFF reader. size is the total number
// of bytes available (the file size, or -1 if unknown).
func NewReader(r io.Reader, size int64) *Reader {
	return &Reader{r: r, remain: size}
}

// Probe reads the 12-byte RIFF/RF64 header (four-cc, size, format id) and
// returns a Reader positioned at the first child chunk, plus the format
// id ("WAVE" for our purposes).
func Probe(r io.Reader, size int64) (*Reader, FourCC, error) {
	var hdr [12]byte

	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, FourCC{}, fmt.Errorf("%w: riff header: %w", errs.ErrShortRead, err)
	}

	var top FourCC
	copy(top[:], hdr[0:4])

	if top != ccRIFF && top != ccRF64 {
		return nil, FourCC{}, fmt.Errorf("%w: unknown top-level id %q", errs.ErrMalformedContainer, top)
	}

	var formatID FourCC
	copy(formatID[:], hdr[8:12])

	declaredSize := int64(binary.LittleEndian.Uint32(hdr[4:8]))

	remain := size - 12 // minus the 12-byte header we already consumed
	if size < 0 {
		remain = declaredSize - 4 // the declared size counts the format id we already consumed
	}

	reader := &Reader{r: r, remain: remain}

	if top == ccRF64 {
		chunk, err := reader.Next()
		if err != nil {
			return nil, FourCC{}, err
		}

		if chunk.FourCC != ccDS64 {
			return nil, FourCC{}, fmt.Errorf("%w: RF64 first child must be ds64, got %q", errs.ErrMalformedContainer, chunk.FourCC)
		}

		ds64, err := readDS64(reader.r, chunk.Size)
		if err != nil {
			return nil, FourCC{}, err
		}

		if err := reader.finishChunk(chunk.Size); err != nil {
			return nil, FourCC{}, err
		}

		reader.ds64 = ds64
	}

	return reader, formatID, nil
}

func readDS64(r io.Reader, size int64) (*DS64, error) {
	if size < 28 || (size-28)%12 != 0 {
		return nil, fmt.Errorf("%w: ds64 size %d not 28+12N", errs.ErrMalformedContainer, size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: ds64 payload: %w", errs.ErrShortRead, err)
	}

	ds := &DS64{
		RIFFSize64:  binary.LittleEndian.Uint64(buf[0:8]),
		DataSize64:  binary.LittleEndian.Uint64(buf[8:16]),
		SampleCount: binary.LittleEndian.Uint64(buf[16:24]),
		Table:       make(map[FourCC]uint64),
	}

	tableEntries := int(binary.LittleEndian.Uint32(buf[24:28]))
	off := 28

	for range tableEntries {
		if off+12 > len(buf) {
			break
		}

		var cc FourCC

		copy(cc[:], buf[off:off+4])
		ds.Table[cc] = binary.LittleEndian.Uint64(buf[off+4 : off+12])
		off += 12
	}

	return ds, nil
}

// Next returns the next chunk header in the current scope, or a
// ContainerEnd chunk when the scope is exhausted.
func (rd *Reader) Next() (Chunk, error) {
	if rd.skipPad {
		if err := rd.skip(1); err != nil {
			return Chunk{}, err
		}

		if rd.remain > 0 {
			rd.remain--
		}

		rd.skipPad = false
	}

	if rd.remain == 0 {
		return Chunk{ContainerEnd: true}, nil
	}

	var hdr [8]byte

	n, err := io.ReadFull(rd.r, hdr[:])
	if err != nil {
		if n == 0 && rd.remain < 0 {
			// Non-seekable stream exhausted with unknown remaining size.
			return Chunk{ContainerEnd: true}, nil
		}

		return Chunk{}, fmt.Errorf("%w: chunk header: %w", errs.ErrShortRead, err)
	}

	var cc FourCC

	copy(cc[:], hdr[0:4])

	size := int64(binary.LittleEndian.Uint32(hdr[4:8]))
	if size == 0xFFFFFFFF && rd.ds64 != nil {
		if override, ok := rd.ds64.Table[cc]; ok {
			size = int64(override)
		}
	}

	if rd.remain > 0 {
		rd.remain -= 8
	}

	rd.skipPad = size%2 != 0

	return Chunk{FourCC: cc, Size: size}, nil
}

// finishChunk must be called after fully consuming (reading or skipping)
// a chunk's declared payload, before calling Next again.
func (rd *Reader) finishChunk(size int64) error {
	if rd.remain > 0 {
		rd.remain -= size
	}

	return nil
}

// Skip discards a chunk's payload (size bytes) without reading it, then
// marks the scope accounting consistent with finishChunk.
func (rd *Reader) Skip(size int64) error {
	if err := rd.skip(size); err != nil {
		return err
	}

	return rd.finishChunk(size)
}

func (rd *Reader) skip(n int64) error {
	if n <= 0 {
		return nil
	}

	if seeker, ok := rd.r.(io.Seeker); ok {
		if _, err := seeker.Seek(n, io.SeekCurrent); err == nil {
			return nil
		}
	}

	if _, err := io.CopyN(io.Discard, rd.r, n); err != nil {
		return fmt.Errorf("%w: skipping %d bytes: %w", errs.ErrShortRead, n, err)
	}

	return nil
}

// ReadPayload reads exactly size bytes of a chunk's payload and advances
// scope accounting; callers pass the Size from the Chunk just returned
// by Next.
func (rd *Reader) ReadPayload(size int64) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(rd.r, buf); err != nil {
		return nil, fmt.Errorf("%w: chunk payload (%d bytes): %w", errs.ErrShortRead, size, err)
	}

	if err := rd.finishChunk(size); err != nil {
		return nil, err
	}

	return buf, nil
}

// PayloadReader returns an io.Reader bounded to exactly size bytes of
// chunk payload, for callers that want to stream rather than buffer it
// (e.g. the PCM data chunk). The caller must fully drain it (or Skip the
// remainder) before calling Next again, and must call Done after, which
// performs scope accounting.
func (rd *Reader) PayloadReader(size int64) (io.Reader, func()) {
	lr := io.LimitReader(rd.r, size)

	return lr, func() { _ = rd.finishChunk(size) }
}

// DS64 returns the RF64 size-override table, or nil for a plain RIFF file.
func (rd *Reader) DS64() *DS64 { return rd.ds64 }

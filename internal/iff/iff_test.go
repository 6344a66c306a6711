package iff_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/farcloser/waveforge/internal/iff"
)

func buildRIFFWave(t *testing.T, dataPayload []byte) []byte {
	t.Helper()

	var buf bytes.Buffer

	buf.WriteString("RIFF")

	var sizePlaceholder [4]byte

	buf.Write(sizePlaceholder[:])
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	writeU32(&buf, 16)
	buf.Write(make([]byte, 16))

	buf.WriteString("data")
	writeU32(&buf, uint32(len(dataPayload)))
	buf.Write(dataPayload)

	if len(dataPayload)%2 != 0 {
		buf.WriteByte(0)
	}

	out := buf.Bytes()
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))

	return out
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func TestChunkIteration(t *testing.T) {
	t.Parallel()

	raw := buildRIFFWave(t, []byte{1, 2, 3, 4, 5})

	r := bytes.NewReader(raw)

	rd, formatID, err := iff.Probe(r, int64(len(raw)))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}

	if formatID.String() != "WAVE" {
		t.Fatalf("formatID = %q, want WAVE", formatID.String())
	}

	fmtChunk, err := rd.Next()
	if err != nil {
		t.Fatalf("Next (fmt): %v", err)
	}

	if fmtChunk.FourCC.String() != "fmt " || fmtChunk.Size != 16 {
		t.Fatalf("fmt chunk = %+v", fmtChunk)
	}

	if err := rd.Skip(fmtChunk.Size); err != nil {
		t.Fatalf("Skip(fmt): %v", err)
	}

	dataChunk, err := rd.Next()
	if err != nil {
		t.Fatalf("Next (data): %v", err)
	}

	if dataChunk.FourCC.String() != "data" || dataChunk.Size != 5 {
		t.Fatalf("data chunk = %+v", dataChunk)
	}

	payload, err := rd.ReadPayload(dataChunk.Size)
	if err != nil {
		t.Fatalf("ReadPayload: %v", err)
	}

	if !bytes.Equal(payload, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("payload = %v, want [1 2 3 4 5]", payload)
	}

	// Odd-sized chunk must have been pad-skipped; the scope should now
	// report container-end with nothing left to read.
	end, err := rd.Next()
	if err != nil {
		t.Fatalf("Next (end): %v", err)
	}

	if !end.ContainerEnd {
		t.Fatalf("expected ContainerEnd, got %+v", end)
	}
}

func TestRF64DS64SizeTableOverride(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	buf.WriteString("RF64")

	var sizePlaceholder [4]byte

	buf.Write(sizePlaceholder[:])
	buf.WriteString("WAVE")

	buf.WriteString("ds64")
	writeU32(&buf, 28+12) // one table entry

	writeU64(&buf, 0)                  // riffSize64 (unused by this test)
	writeU64(&buf, 10)                 // dataSize64: override for "data"
	writeU64(&buf, 5)                  // sampleCount
	writeU32(&buf, 1)                  // table entry count
	buf.WriteString("data")            // table entry four-cc
	writeU64(&buf, 10)                 // table entry 64-bit size

	buf.WriteString("data")
	writeU32(&buf, 0xFFFFFFFF) // sentinel: defer to ds64 table
	buf.Write(make([]byte, 10))

	out := buf.Bytes()
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))

	r := bytes.NewReader(out)

	rd, formatID, err := iff.Probe(r, int64(len(out)))
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}

	if formatID.String() != "WAVE" {
		t.Fatalf("formatID = %q", formatID.String())
	}

	if rd.DS64() == nil {
		t.Fatal("expected ds64 to be populated")
	}

	if rd.DS64().SampleCount != 5 {
		t.Fatalf("SampleCount = %d, want 5", rd.DS64().SampleCount)
	}

	dataChunk, err := rd.Next()
	if err != nil {
		t.Fatalf("Next (data): %v", err)
	}

	if dataChunk.Size != 10 {
		t.Fatalf("data chunk size = %d, want 10 (ds64-overridden)", dataChunk.Size)
	}
}

func TestMalformedDS64SizeRejected(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	buf.WriteString("RF64")

	var sizePlaceholder [4]byte

	buf.Write(sizePlaceholder[:])
	buf.WriteString("WAVE")

	buf.WriteString("ds64")
	writeU32(&buf, 30) // not 28 + 12*N
	buf.Write(make([]byte, 30))

	out := buf.Bytes()
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))

	_, _, err := iff.Probe(bytes.NewReader(out), int64(len(out)))
	if err == nil {
		t.Fatal("expected malformed ds64 size to be rejected")
	}
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

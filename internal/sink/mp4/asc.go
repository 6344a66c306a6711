// AudioSpecificConfig / ADTS header handling.
package mp4

import (
	"fmt"

	"github.com/farcloser/waveforge/internal/bitio"
	"github.com/farcloser/waveforge/internal/errs"
)

// ASC is a parsed AudioSpecificConfig.
type ASC struct {
	ObjectType       int
	SamplingRateIdx  int
	SampleRate       int // resolved, whether from the table or an explicit 24-bit rate
	ChannelConfig    int
	PCEBytes         []byte // present verbatim when ChannelConfig == 0
	Raw              []byte
}

var aacSampleRates = [13]int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

// ParseASC parses an MPEG-4 AudioSpecificConfig.
func ParseASC(raw []byte) (ASC, error) {
	r := bitio.NewReader(raw)

	objType, err := r.Get(5)
	if err != nil {
		return ASC{}, fmt.Errorf("%w: asc object type: %w", errs.ErrMalformedContainer, err)
	}

	idx, err := r.Get(4)
	if err != nil {
		return ASC{}, fmt.Errorf("%w: asc sampling rate index: %w", errs.ErrMalformedContainer, err)
	}

	sampleRate := 0

	if idx == 15 {
		rate, err := r.Get(24)
		if err != nil {
			return ASC{}, fmt.Errorf("%w: asc explicit rate: %w", errs.ErrMalformedContainer, err)
		}

		sampleRate = int(rate)
	} else if int(idx) < len(aacSampleRates) {
		sampleRate = aacSampleRates[idx]
	}

	chanConfig, err := r.Get(4)
	if err != nil {
		return ASC{}, fmt.Errorf("%w: asc channel config: %w", errs.ErrMalformedContainer, err)
	}

	asc := ASC{
		ObjectType:      int(objType),
		SamplingRateIdx: int(idx),
		SampleRate:      sampleRate,
		ChannelConfig:   int(chanConfig),
		Raw:             raw,
	}

	if chanConfig == 0 {
		// A program-config element follows; the core copies it verbatim
		// (it does not interpret channel routing beyond that).
		remainingBits := r.BitsRemaining()
		remainingBytes := (remainingBits + 7) / 8

		w := bitio.NewWriter()
		if err := w.Copy(r, remainingBits); err != nil {
			return ASC{}, fmt.Errorf("%w: asc pce copy: %w", errs.ErrMalformedContainer, err)
		}

		pce := w.Bytes()
		if len(pce) > remainingBytes {
			pce = pce[:remainingBytes]
		}

		asc.PCEBytes = pce
	}

	return asc, nil
}

// ADTSHeader emits the 7-byte MSB-first ADTS header for one AAC packet
//. frameLength is 7 + len(pceBytes) + len(payload).
func ADTSHeader(asc ASC, payloadLen int) []byte {
	pceLen := len(asc.PCEBytes)
	frameLength := 7 + pceLen + payloadLen

	w := bitio.NewWriter()
	w.Put(0xFFF, 12) // syncword
	w.Put(0, 1)      // ID: MPEG-4
	w.Put(0, 2)      // layer
	w.Put(1, 1)      // no CRC
	w.Put(uint32(asc.ObjectType-1), 2)
	w.Put(uint32(asc.SamplingRateIdx), 4)
	w.Put(0, 1) // private bit
	w.Put(uint32(asc.ChannelConfig), 3)
	w.Put(0, 1) // originality
	w.Put(0, 1) // home
	w.Put(0, 1) // copyrighted id bit
	w.Put(0, 1) // copyrighted id start
	w.Put(uint32(frameLength), 13)
	w.Put(0x7FF, 11) // buffer fullness, VBR
	w.Put(0, 2)      // raw data blocks - 1

	hdr := w.Bytes()
	if len(asc.PCEBytes) > 0 {
		hdr = append(hdr, asc.PCEBytes...)
	}

	return hdr
}

// ALAC magic cookie parsing.
package mp4

import (
	"fmt"

	"github.com/farcloser/waveforge/internal/errs"
)

// ALACCookie carries the fixed 24-byte ALACSpecificConfig plus an
// optional 12-byte ALACChannelLayout, passed to the MP4 track as-is.
type ALACCookie struct {
	SpecificConfig [24]byte
	ChannelLayout  []byte // 12 bytes, or nil
}

// ParseALACCookie accepts either a bare 24-byte ALACSpecificConfig or
// one wrapped by frma/alac/chan atoms, and strips the wrapping.
func ParseALACCookie(raw []byte) (ALACCookie, error) {
	if len(raw) == 24 {
		var cookie ALACCookie

		copy(cookie.SpecificConfig[:], raw)

		return cookie, nil
	}

	var cookie ALACCookie

	found := false

	pos := 0
	for pos+8 <= len(raw) {
		size := int(beUint32(raw[pos : pos+4]))
		name := string(raw[pos+4 : pos+8])

		if size < 8 || pos+size > len(raw) {
			break
		}

		body := raw[pos+8 : pos+size]

		switch name {
		case "alac":
			if len(body) >= 24+4 {
				// Some wrappers prefix the config with a 4-byte version/flags.
				copy(cookie.SpecificConfig[:], body[len(body)-24:])
				found = true
			} else if len(body) == 24 {
				copy(cookie.SpecificConfig[:], body)
				found = true
			}
		case "chan":
			if len(body) >= 12 {
				cookie.ChannelLayout = append([]byte(nil), body[len(body)-12:]...)
			}
		}

		pos += size
	}

	if !found {
		return ALACCookie{}, fmt.Errorf("%w: unrecognized ALAC magic cookie", errs.ErrMalformedContainer)
	}

	return cookie, nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

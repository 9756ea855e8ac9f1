package core

import (
	"github.com/tturner/cipadapter/internal/enip"
	"github.com/tturner/cipadapter/internal/logging"
)

// maxStreamBuffer bounds the bytes held for one socket while a frame is
// incomplete: a header plus the largest declared length.
const maxStreamBuffer = enip.HeaderSize + 0xFFFF

// parseENIPStream splits buffer into complete frames and returns the bytes of
// a trailing partial frame. Frames with non-zero options are dropped.
func parseENIPStream(buffer []byte, logger *logging.Logger) ([]enip.ENIPEncapsulation, []byte) {
	frames := make([]enip.ENIPEncapsulation, 0, 1)
	offset := 0
	for {
		total := enip.FrameLength(buffer[offset:])
		if total == 0 || len(buffer[offset:]) < total {
			break
		}
		encap, err := enip.DecodeENIP(buffer[offset : offset+total])
		offset += total
		if err != nil {
			logger.Debug("decode encapsulation: %v", err)
			continue
		}
		if encap.Options != 0 {
			logger.Debug("dropping %s with options 0x%08X", enip.CommandName(encap.Command), encap.Options)
			continue
		}
		frames = append(frames, encap)
	}

	if offset == 0 {
		return frames, buffer
	}
	remaining := make([]byte, len(buffer)-offset)
	copy(remaining, buffer[offset:])
	return frames, remaining
}

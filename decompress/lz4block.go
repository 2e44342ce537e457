package decompress

import (
	"fmt"

	"github.com/nasa-jpl/odinflash/odinerr"
)

// slidingWindow retains the most recent bytes of decompressed output so
// matches in later blocks can reference data produced by earlier blocks,
// bounded to the LZ4 maximum back-reference distance (64 KiB) rather than
// growing with total stream length.
type slidingWindow struct {
	buf []byte
	cap int
}

func newSlidingWindow(capacity int) *slidingWindow {
	return &slidingWindow{cap: capacity}
}

func (w *slidingWindow) append(b []byte) {
	w.buf = append(w.buf, b...)
	if len(w.buf) > w.cap {
		w.buf = w.buf[len(w.buf)-w.cap:]
	}
}

// byteAt returns the byte at a negative offset from the end of the
// window, used while a match is being copied into out before it has
// itself been appended to the window.
func (w *slidingWindow) byteAt(distanceFromEnd int, out []byte) (byte, bool) {
	if distanceFromEnd <= len(out) {
		return out[len(out)-distanceFromEnd], true
	}
	idx := len(w.buf) - (distanceFromEnd - len(out))
	if idx < 0 || idx >= len(w.buf) {
		return 0, false
	}
	return w.buf[idx], true
}

// lsicExtend reads the LSIC (linear small-integer code) continuation
// bytes following a token nibble of 15: each additional byte of 0xFF adds
// 255 to the length, terminated by a byte < 0xFF.
func lsicExtend(p []byte, pos *int) (int, error) {
	total := 0
	for {
		if *pos >= len(p) {
			return 0, fmt.Errorf("lsic extension runs past end of block")
		}
		b := p[*pos]
		*pos++
		total += int(b)
		if b != 0xFF {
			break
		}
	}
	return total, nil
}

// decodeLZ4Block decodes one compressed LZ4 block using the standard
// block format: a token byte whose high nibble is the literal length and
// low nibble is the match length (both LSIC-extensible), a literal run,
// then (if not the last sequence) a 2-byte little-endian match offset and
// a match copy. pos is the stream position at the start of this block,
// used only for error reporting.
func decodeLZ4Block(p []byte, window *slidingWindow, pos int64) ([]byte, error) {
	out := make([]byte, 0, len(p)*3)
	i := 0
	for i < len(p) {
		token := p[i]
		i++

		litLen := int(token >> 4)
		if litLen == 15 {
			extra, err := lsicExtend(p, &i)
			if err != nil {
				return nil, &odinerr.Decompression{StreamPosition: pos, Reason: err.Error()}
			}
			litLen += extra
		}
		if i+litLen > len(p) {
			return nil, &odinerr.Decompression{StreamPosition: pos, Reason: "literal run exceeds block bounds"}
		}
		if len(out)+litLen > MaxBlockSize {
			return nil, &odinerr.Decompression{StreamPosition: pos, Reason: "decoded block exceeds MaxBlockSize"}
		}
		out = append(out, p[i:i+litLen]...)
		i += litLen

		if i == len(p) {
			// last sequence in the block carries no match
			break
		}
		if i+2 > len(p) {
			return nil, &odinerr.Decompression{StreamPosition: pos, Reason: "truncated match offset"}
		}
		offset := int(p[i]) | int(p[i+1])<<8
		i += 2
		if offset == 0 {
			return nil, &odinerr.Decompression{StreamPosition: pos, Reason: "zero match offset"}
		}

		matchLen := int(token & 0x0F)
		if matchLen == 15 {
			extra, err := lsicExtend(p, &i)
			if err != nil {
				return nil, &odinerr.Decompression{StreamPosition: pos, Reason: err.Error()}
			}
			matchLen += extra
		}
		matchLen += 4 // minimum match length

		if offset > len(out)+len(window.buf) {
			return nil, &odinerr.Decompression{StreamPosition: pos, Reason: fmt.Sprintf("match offset %d exceeds current output position", offset)}
		}
		if len(out)+matchLen > MaxBlockSize {
			return nil, &odinerr.Decompression{StreamPosition: pos, Reason: "decoded block exceeds MaxBlockSize"}
		}

		for m := 0; m < matchLen; m++ {
			b, ok := window.byteAt(offset, out)
			if !ok {
				return nil, &odinerr.Decompression{StreamPosition: pos, Reason: "match reaches outside decode window"}
			}
			out = append(out, b)
		}
	}
	return out, nil
}

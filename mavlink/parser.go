package mavlink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// ErrChecksum indicates a frame whose checksum does not match its content.
var ErrChecksum = errors.New("frame checksum mismatch")

// Parse splits the given buffer into frames. Bytes in front of a start-of-frame marker and frames with a bad
// checksum are skipped, an incomplete frame at the end of the buffer is omitted.
func Parse(buf []byte) []Frame {
	result := make([]Frame, 0, 4)
	for i := 0; i < len(buf); {
		if buf[i] != STXv1 && buf[i] != STXv2 {
			i++
			continue
		}
		n, ok := frameLength(buf[i:])
		if !ok || i+n > len(buf) {
			i++
			continue
		}
		frame, err := parseFrame(buf[i : i+n])
		if err != nil {
			i++
			continue
		}
		result = append(result, frame)
		i += n
	}
	return result
}

// frameLength returns the total length of the frame starting at buf[0], as far as the header is available.
func frameLength(buf []byte) (int, bool) {
	switch buf[0] {
	case STXv1:
		if len(buf) < 2 {
			return 0, false
		}
		return headerLenV1 + int(buf[1]) + checksumLen, true
	case STXv2:
		if len(buf) < 3 {
			return 0, false
		}
		n := headerLenV2 + int(buf[1]) + checksumLen
		if buf[2]&incompatSigned != 0 {
			n += signatureLen
		}
		return n, true
	default:
		return 0, false
	}
}

// parseFrame checks a buffer that holds exactly one frame and wraps it into a Frame.
func parseFrame(buf []byte) (Frame, error) {
	var id MessageID
	var checked []byte
	var crcAt int
	switch buf[0] {
	case STXv1:
		id = MessageID(buf[5])
		crcAt = headerLenV1 + int(buf[1])
	case STXv2:
		id = MessageID(buf[7]) | MessageID(buf[8])<<8 | MessageID(buf[9])<<16
		crcAt = headerLenV2 + int(buf[1])
	default:
		return Frame{}, fmt.Errorf("invalid start of frame 0x%02x", buf[0])
	}
	checked = buf[1:crcAt]

	if _, known := messages[id]; known {
		expected := frameChecksum(checked, id)
		actual := uint16(buf[crcAt]) | uint16(buf[crcAt+1])<<8
		if expected != actual {
			return Frame{}, fmt.Errorf("%s: %w", id, ErrChecksum)
		}
	}

	frame := make([]byte, len(buf))
	copy(frame, buf)
	return Frame{buf: frame, id: id}, nil
}

// Reader reads frames from a continuous byte stream, e.g. the serial link to an autopilot.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 1024)}
}

// Read blocks until the next valid frame is available. Garbage between frames and frames with a bad
// checksum are skipped. Read returns the error of the underlying reader, if any.
func (r *Reader) Read() (Frame, error) {
	for {
		stx, err := r.r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if stx != STXv1 && stx != STXv2 {
			continue
		}

		head, err := r.r.Peek(2)
		if err == io.EOF {
			continue
		} else if err != nil {
			return Frame{}, err
		}
		var n int
		if stx == STXv1 {
			n, _ = frameLength([]byte{stx, head[0]})
		} else {
			n, _ = frameLength([]byte{stx, head[0], head[1]})
		}

		rest, err := r.r.Peek(n - 1)
		if err == io.EOF {
			// not enough data left for the announced length, so this was no frame start
			continue
		} else if err != nil {
			return Frame{}, err
		}
		buf := make([]byte, 0, n)
		buf = append(buf, stx)
		buf = append(buf, rest...)
		frame, err := parseFrame(buf)
		if err != nil {
			// resynchronize at the byte following this start marker
			continue
		}
		if _, err := r.r.Discard(n - 1); err != nil {
			return Frame{}, err
		}
		return frame, nil
	}
}

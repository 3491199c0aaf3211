// Package codec converts batches of MAVLink frames into transit payloads that fit into one SMS and back.
//
// Encoding: hex text of all frames, concatenated → raw LZMA stream without header → base64.
package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"

	"github.com/ftl/sms-telemetry/mavlink"
)

// MaxPayloadLength is the channel budget: the number of characters that fit into one SMS.
const MaxPayloadLength = 160

// DecodeError indicates a transit payload that cannot be restored. The whole payload is lost.
type DecodeError struct {
	Stage string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode transit payload, %s failed: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Encode the given frames into a transit payload.
func Encode(frames []mavlink.Frame) (string, error) {
	var hexText bytes.Buffer
	for _, frame := range frames {
		hexText.WriteString(mavlink.BinaryToHex(frame.Bytes()))
	}

	compressed, err := compress(hexText.Bytes())
	if err != nil {
		return "", fmt.Errorf("cannot compress %d frames: %w", len(frames), err)
	}
	return base64.StdEncoding.EncodeToString(compressed), nil
}

// EncodedLength returns the length of the transit payload for the given frames.
func EncodedLength(frames []mavlink.Frame) (int, error) {
	payload, err := Encode(frames)
	if err != nil {
		return 0, err
	}
	return len(payload), nil
}

// Fits reports if the given payload fits into one SMS.
func Fits(payload string) bool {
	return len(payload) <= MaxPayloadLength
}

// Decode the given transit payload into frames. A trailing frame that is only partially present is omitted.
func Decode(payload string) ([]mavlink.Frame, error) {
	compressed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Stage: "base64", Err: err}
	}

	hexText, err := decompress(compressed)
	if err != nil {
		return nil, &DecodeError{Stage: "lzma", Err: err}
	}

	buf, err := mavlink.HexToBinary(string(hexText))
	if err != nil {
		return nil, &DecodeError{Stage: "hex", Err: err}
	}

	return mavlink.Parse(buf), nil
}

// streamHeader is the classic LZMA header that the writer configuration below produces. It is identical
// for every payload, so it is stripped before transit and restored on receipt.
var streamHeader = mustStreamHeader()

const streamHeaderLen = 13

func newWriter(w io.Writer) (*lzma.Writer, error) {
	config := lzma.WriterConfig{
		DictCap:   lzma.MinDictCap,
		EOSMarker: true,
	}
	return config.NewWriter(w)
}

func mustStreamHeader() []byte {
	var buf bytes.Buffer
	w, err := newWriter(&buf)
	if err != nil {
		panic(err)
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return append([]byte{}, buf.Bytes()[:streamHeaderLen]...)
}

func compress(data []byte) ([]byte, error) {
	var result bytes.Buffer
	w, err := newWriter(&result)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return result.Bytes()[streamHeaderLen:], nil
}

func decompress(data []byte) ([]byte, error) {
	stream := io.MultiReader(bytes.NewReader(streamHeader), bytes.NewReader(data))
	r, err := lzma.NewReader(stream)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

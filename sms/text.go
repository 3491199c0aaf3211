package sms

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

/* Text related types and functions */

// Charset is the TE character set selected with AT+CSCS according to [27.007] 5.5
type Charset string

// All supported character sets
const (
	IRA      Charset = "IRA"
	GSM      Charset = "GSM"
	ISO88591 Charset = "8859-1"
	UCS2     Charset = "UCS2"
)

// textCodecs contains the encoding.Encoding instances for all character sets that are not plain ASCII on the wire.
var textCodecs = map[Charset]encoding.Encoding{
	ISO88591: charmap.ISO8859_1,
	UCS2:     unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
}

var fallbackCodec encoding.Encoding = charmap.ISO8859_1 // be lenient and use ISO8859-1 as fallback if anything goes havoc

// CharsetByName maps all supported character sets by their name as string
var CharsetByName = map[string]Charset{
	"IRA":    IRA,
	"GSM":    GSM,
	"8859-1": ISO88591,
	"UCS2":   UCS2,
}

// ParseCharset returns the Charset with the given name.
func ParseCharset(name string) (Charset, error) {
	sanitized := strings.ToUpper(strings.TrimSpace(name))
	result, ok := CharsetByName[sanitized]
	if !ok {
		return "", fmt.Errorf("unsupported character set %s", name)
	}
	return result, nil
}

// DecodeText converts text received from the modem in the given character set into UTF-8.
// UCS2 text arrives as hex encoded UTF-16BE.
func DecodeText(charset Charset, text string) (string, error) {
	raw := []byte(text)
	if charset == UCS2 {
		var err error
		raw, err = hex.DecodeString(strings.TrimSpace(text))
		if err != nil {
			return "", fmt.Errorf("cannot decode UCS2 hex text: %w", err)
		}
	}

	codec, ok := textCodecs[charset]
	if !ok {
		if isASCII(raw) {
			return string(raw), nil
		}
		codec = fallbackCodec // we have no matching codec, but be lenient and use the fallback
	}

	utf8, err := codec.NewDecoder().Bytes(raw)
	return string(utf8), err
}

// EncodeText converts UTF-8 text into the given character set for sending it to the modem.
func EncodeText(charset Charset, text string) (string, error) {
	codec, ok := textCodecs[charset]
	if !ok {
		if !isASCII([]byte(text)) {
			return "", fmt.Errorf("text cannot be sent in character set %s", charset)
		}
		return text, nil
	}

	encoded, err := codec.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return "", fmt.Errorf("text cannot be sent in character set %s: %w", charset, err)
	}
	if charset == UCS2 {
		return strings.ToUpper(hex.EncodeToString(encoded)), nil
	}
	return string(encoded), nil
}

func isASCII(raw []byte) bool {
	for _, b := range raw {
		if b > 0x7F {
			return false
		}
	}
	return true
}

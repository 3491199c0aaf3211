package mavlink

import (
	"encoding/hex"
	"regexp"
	"strings"
)

var hexSanitizer = regexp.MustCompile(`\s+`)

// HexToBinary converts the hex text that travels inside a transit payload back into raw frame bytes.
func HexToBinary(s string) ([]byte, error) {
	sanitized := hexSanitizer.ReplaceAllString(s, "")
	return hex.DecodeString(sanitized)
}

// BinaryToHex converts raw frame bytes into the upper case hex text that is compressed for transit.
func BinaryToHex(buf []byte) string {
	return strings.ToUpper(hex.EncodeToString(buf))
}

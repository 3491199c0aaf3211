package sms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeText(t *testing.T) {
	tt := []struct {
		desc     string
		charset  Charset
		value    string
		expected string
		invalid  bool
	}{
		{desc: "ira", charset: IRA, value: "aGVsbG8=", expected: "aGVsbG8="},
		{desc: "gsm", charset: GSM, value: "a+b/c=", expected: "a+b/c="},
		{desc: "latin1", charset: ISO88591, value: "gr\xfc\xdf", expected: "grüß"},
		{desc: "ucs2", charset: UCS2, value: "00610047", expected: "aG"},
		{desc: "invalid ucs2", charset: UCS2, value: "0061Z", invalid: true},
		{desc: "fallback", charset: IRA, value: "gr\xfc\xdf", expected: "grüß"},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			actual, err := DecodeText(tc.charset, tc.value)
			if tc.invalid {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestEncodeText(t *testing.T) {
	tt := []struct {
		desc     string
		charset  Charset
		value    string
		expected string
		invalid  bool
	}{
		{desc: "ira", charset: IRA, value: "aGVsbG8=", expected: "aGVsbG8="},
		{desc: "ucs2", charset: UCS2, value: "aG", expected: "00610047"},
		{desc: "non ascii in ira", charset: IRA, value: "grüß", invalid: true},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			actual, err := EncodeText(tc.charset, tc.value)
			if tc.invalid {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestParseCharset(t *testing.T) {
	actual, err := ParseCharset(" ucs2 ")
	assert.NoError(t, err)
	assert.Equal(t, UCS2, actual)

	_, err = ParseCharset("EBCDIC")
	assert.Error(t, err)
}

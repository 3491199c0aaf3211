package sms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseListing(t *testing.T) {
	zone := time.FixedZone("", 2*60*60)
	tt := []struct {
		desc     string
		lines    []string
		expected []Message
		invalid  bool
	}{
		{
			desc:     "empty",
			expected: []Message{},
		},
		{
			desc: "single message",
			lines: []string{
				`+CMGL: 3,"REC UNREAD","+15551234567",,"21/04/11,10:15:00+08"`,
				"XQAAAAEA",
			},
			expected: []Message{
				{Index: 3, Status: ReceivedUnread, Sender: "+15551234567", Timestamp: time.Date(2021, time.April, 11, 10, 15, 0, 0, zone), Text: "XQAAAAEA"},
			},
		},
		{
			desc: "multi line text and no timestamp",
			lines: []string{
				`+CMGL: 1,"REC READ","+15551234567"`,
				"first line",
				"second line",
				`+CMGL: 2,"REC READ","+15557654321"`,
				"other",
			},
			expected: []Message{
				{Index: 1, Status: ReceivedRead, Sender: "+15551234567", Text: "first line\nsecond line"},
				{Index: 2, Status: ReceivedRead, Sender: "+15557654321", Text: "other"},
			},
		},
		{
			desc: "leading noise",
			lines: []string{
				"",
				`+CMGL: 1,"REC READ","+15551234567"`,
				"text",
			},
			expected: []Message{
				{Index: 1, Status: ReceivedRead, Sender: "+15551234567", Text: "text"},
			},
		},
		{
			desc: "invalid index",
			lines: []string{
				`+CMGL: x,"REC READ","+15551234567"`,
			},
			invalid: true,
		},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			actual, err := ParseListing(tc.lines, IRA)
			if tc.invalid {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, len(tc.expected), len(actual))
			for i := range tc.expected {
				assert.Equal(t, tc.expected[i].Index, actual[i].Index)
				assert.Equal(t, tc.expected[i].Status, actual[i].Status)
				assert.Equal(t, tc.expected[i].Sender, actual[i].Sender)
				assert.Equal(t, tc.expected[i].Text, actual[i].Text)
				assert.True(t, tc.expected[i].Timestamp.Equal(actual[i].Timestamp))
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tt := []struct {
		desc     string
		value    string
		expected time.Time
		invalid  bool
	}{
		{
			desc:     "positive zone",
			value:    `"21/04/11,10:15:00+08"`,
			expected: time.Date(2021, time.April, 11, 8, 15, 0, 0, time.UTC),
		},
		{
			desc:     "negative zone",
			value:    "21/04/11,10:15:00-16",
			expected: time.Date(2021, time.April, 11, 14, 15, 0, 0, time.UTC),
		},
		{
			desc:    "garbage",
			value:   "yesterday",
			invalid: true,
		},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			actual, err := ParseTimestamp(tc.value)
			if tc.invalid {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.True(t, tc.expected.Equal(actual), "%s != %s", tc.expected, actual)
		})
	}
}

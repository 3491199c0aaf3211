package sms

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Message is one short text message stored in the modem.
type Message struct {
	Index     int
	Status    MessageStatus
	Sender    Address
	Timestamp time.Time
	Text      string
}

func (m Message) String() string {
	return fmt.Sprintf("Message %d from %s at %s: %s", m.Index, m.Sender, m.Timestamp.Format(time.RFC3339), m.Text)
}

const listingPrefix = "+CMGL:"

// ParseListing parses the response lines of AT+CMGL. Every message consists of a +CMGL header line followed by
// the message text. Texts that span several lines are joined with a line feed.
func ParseListing(lines []string, charset Charset) ([]Message, error) {
	result := make([]Message, 0, len(lines)/2)
	var current *Message
	var text []string

	complete := func() error {
		if current == nil {
			return nil
		}
		decoded, err := DecodeText(charset, strings.Join(text, "\n"))
		if err != nil {
			return fmt.Errorf("message %d: %w", current.Index, err)
		}
		current.Text = decoded
		result = append(result, *current)
		current = nil
		text = nil
		return nil
	}

	for _, line := range lines {
		if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(line)), listingPrefix) {
			if current != nil {
				text = append(text, line)
			}
			continue
		}
		if err := complete(); err != nil {
			return nil, err
		}
		header, err := ParseListingHeader(line)
		if err != nil {
			return nil, err
		}
		current = &header
	}
	if err := complete(); err != nil {
		return nil, err
	}
	return result, nil
}

// ParseListingHeader parses one +CMGL header line: +CMGL: <index>,<stat>,<oa/da>,[<alpha>],[<scts>]
func ParseListingHeader(line string) (Message, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(strings.ToUpper(trimmed), listingPrefix) {
		return Message{}, fmt.Errorf("invalid header, +CMGL expected: %s", line)
	}

	fields := splitFields(trimmed[len(listingPrefix):])
	if len(fields) < 3 {
		return Message{}, fmt.Errorf("invalid header, wrong field count: %s", line)
	}

	var result Message
	var err error
	result.Index, err = strconv.Atoi(fields[0])
	if err != nil {
		return Message{}, fmt.Errorf("invalid message index %s: %v", fields[0], err)
	}
	result.Status = MessageStatus(strings.ToUpper(fields[1]))
	result.Sender = Address(fields[2])

	if len(fields) >= 5 && fields[4] != "" {
		result.Timestamp, err = ParseTimestamp(fields[4])
		if err != nil {
			return Message{}, err
		}
	}

	return result, nil
}

// splitFields splits a comma separated list of values, where quoted values may contain commas.
func splitFields(s string) []string {
	result := make([]string, 0, 6)
	var field strings.Builder
	quoted := false
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			result = append(result, strings.TrimSpace(field.String()))
			field.Reset()
		default:
			field.WriteRune(r)
		}
	}
	return append(result, strings.TrimSpace(field.String()))
}

// ParseTimestamp parses a service centre time stamp "yy/MM/dd,hh:mm:ss±zz", where zz is the offset to UTC in
// quarters of an hour.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	if len(s) != 20 {
		return time.Time{}, fmt.Errorf("invalid timestamp: %s", s)
	}
	local, err := time.Parse("06/01/02,15:04:05", s[:17])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %s: %w", s, err)
	}
	quarters, err := strconv.Atoi(s[17:])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp zone %s: %w", s, err)
	}
	zone := time.FixedZone("", quarters*15*60)
	return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), local.Second(), 0, zone), nil
}

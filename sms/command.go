package sms

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type Requester interface {
	Request(context.Context, string) ([]string, error)
}

type RequesterFunc func(context.Context, string) ([]string, error)

func (f RequesterFunc) Request(ctx context.Context, request string) ([]string, error) {
	return f(ctx, request)
}

// Address is the phone number of a party in an SMS exchange.
type Address string

const (
	// CR separates the command line of AT+CMGS from the message body
	CR = "\x0d"
	// CtrlZ terminates the message body of AT+CMGS
	CtrlZ = "\x1a"

	// EchoOff disables the command echo of the modem according to V.250
	EchoOff = "ATE0"
	// TextMode selects the SMS text mode according to [27.005] 3.2.3
	TextMode = "AT+CMGF=1"
	// IndicateNewMessages lets the modem report new stored messages with +CMTI according to [27.005] 3.4.1
	IndicateNewMessages = "AT+CNMI=2,1,0,0,0"
	// NewMessageIndication is the prefix of the unsolicited result code for new stored messages
	NewMessageIndication = "+CMTI:"
)

// MessageStatus selects messages by their storage status according to [27.005] 3.1
type MessageStatus string

// All message status values in text mode
const (
	ReceivedUnread MessageStatus = "REC UNREAD"
	ReceivedRead   MessageStatus = "REC READ"
	StoredUnsent   MessageStatus = "STO UNSENT"
	StoredSent     MessageStatus = "STO SENT"
	AllMessages    MessageStatus = "ALL"
)

// DeleteFlag selects which messages are deleted at once according to [27.005] 3.5.4
type DeleteFlag int

// All defined delete flags
const (
	DeleteIndex DeleteFlag = iota
	DeleteRead
	DeleteReadAndSent
	DeleteReadSentAndUnsent
	DeleteAll
)

// SelectCharset according to [27.007] 5.5
func SelectCharset(charset Charset) string {
	return fmt.Sprintf("AT+CSCS=%q", charset)
}

// SendMessage according to [27.005] 3.5.1. The body is sent after the modem prompted for it.
func SendMessage(destination Address, text string) string {
	return fmt.Sprintf("AT+CMGS=%q"+CR+"%s"+CtrlZ, destination, text)
}

// ListMessages according to [27.005] 3.4.2. Listing unread messages marks them as read.
func ListMessages(status MessageStatus) string {
	return fmt.Sprintf("AT+CMGL=%q", status)
}

// DeleteMessages according to [27.005] 3.5.4. The index is ignored by the modem for all flags but DeleteIndex.
func DeleteMessages(index int, flag DeleteFlag) string {
	return fmt.Sprintf("AT+CMGD=%d,%d", index, flag)
}

var sendMessageResponse = regexp.MustCompile(`^\+CMGS: *(\d+)`)

// RequestSendMessage sends the given text to the destination and returns the message reference assigned by
// the network.
func RequestSendMessage(ctx context.Context, requester Requester, destination Address, text string, charset Charset) (int, error) {
	encoded, err := EncodeText(charset, text)
	if err != nil {
		return 0, err
	}
	responses, err := requester.Request(ctx, SendMessage(destination, encoded))
	if err != nil {
		return 0, err
	}
	for _, response := range responses {
		parts := sendMessageResponse.FindStringSubmatch(strings.TrimSpace(response))
		if len(parts) != 2 {
			continue
		}
		return strconv.Atoi(parts[1])
	}
	return 0, fmt.Errorf("no message reference received")
}

// RequestMessages lists all messages with the given status.
func RequestMessages(ctx context.Context, requester Requester, status MessageStatus, charset Charset) ([]Message, error) {
	responses, err := requester.Request(ctx, ListMessages(status))
	if err != nil {
		return nil, err
	}
	return ParseListing(responses, charset)
}

// RequestDeleteMessages deletes all messages selected by the given flag.
func RequestDeleteMessages(ctx context.Context, requester Requester, flag DeleteFlag) error {
	_, err := requester.Request(ctx, DeleteMessages(1, flag))
	return err
}

var newMessageIndication = regexp.MustCompile(`^\+CMTI: *"([^"]*)", *(\d+)`)

// ParseNewMessageIndication parses the +CMTI indication and returns the memory and the index of the new message.
func ParseNewMessageIndication(line string) (string, int, error) {
	parts := newMessageIndication.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(line)))
	if len(parts) != 3 {
		return "", 0, fmt.Errorf("unexpected indication: %s", line)
	}
	index, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", 0, err
	}
	return parts[1], index, nil
}

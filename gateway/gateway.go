// Package gateway owns the access to the modem: sending one transit payload, listing unread payloads and
// purging the message storage. The gateway never locks on its own, callers hold a Lock while they use it.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ftl/sms-telemetry/codec"
	"github.com/ftl/sms-telemetry/sms"
)

const (
	// DefaultSettleDelay is the time given to the modem to download messages that are still queued in the network.
	DefaultSettleDelay = 5 * time.Second
	// DefaultPurgeTimeout bounds a purge.
	DefaultPurgeTimeout = 90 * time.Second

	probeAttempts = 10
)

// Indications allows to register handlers for unsolicited result codes of the modem.
type Indications interface {
	AddIndication(prefix string, trailingLines int, handler func(lines []string)) error
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCharset selects the character set used on the modem interface.
func WithCharset(charset sms.Charset) Option {
	return func(g *Gateway) {
		g.charset = charset
	}
}

// WithSettleDelay sets the delay between deleting messages and checking the storage during a purge.
func WithSettleDelay(delay time.Duration) Option {
	return func(g *Gateway) {
		g.settleDelay = delay
	}
}

// Gateway sends and receives transit payloads through the modem. The remote address is fixed.
type Gateway struct {
	requester   sms.Requester
	remote      sms.Address
	charset     sms.Charset
	settleDelay time.Duration
	arrivals    chan struct{}
}

func New(requester sms.Requester, remote sms.Address, opts ...Option) *Gateway {
	result := &Gateway{
		requester:   requester,
		remote:      remote,
		charset:     sms.IRA,
		settleDelay: DefaultSettleDelay,
		arrivals:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(result)
	}
	return result
}

func logger() *zerolog.Logger {
	l := log.With().Str("component", "gateway").Logger()
	return &l
}

// Prepare brings the modem into SMS text mode with the configured character set. If the modem supports a
// prober, it is used first to get the modem's attention.
func (g *Gateway) Prepare(ctx context.Context) error {
	if prober, ok := g.requester.(interface {
		Probe(context.Context, int) error
	}); ok {
		if err := prober.Probe(ctx, probeAttempts); err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}

	for _, request := range []string{sms.EchoOff, sms.TextMode, sms.SelectCharset(g.charset)} {
		if _, err := g.requester.Request(ctx, request); err != nil {
			return fmt.Errorf("%w: %s failed: %w", ErrTransport, request, err)
		}
	}

	// not all modems are able to report new messages, polling works without
	if _, err := g.requester.Request(ctx, sms.IndicateNewMessages); err != nil {
		logger().Warn().Err(err).Msg("modem does not indicate new messages")
	}
	return nil
}

// Watch registers for the new message indication of the modem. Every indication is signalled on Arrivals.
func (g *Gateway) Watch(indications Indications) error {
	return indications.AddIndication(sms.NewMessageIndication, 0, func(lines []string) {
		if len(lines) > 0 {
			if _, index, err := sms.ParseNewMessageIndication(lines[0]); err == nil {
				logger().Debug().Int("index", index).Msg("new message indicated")
			}
		}
		g.notifyArrival()
	})
}

func (g *Gateway) notifyArrival() {
	select {
	case g.arrivals <- struct{}{}:
	default:
	}
}

// Arrivals signals that new messages are stored in the modem. Signals are coalesced.
func (g *Gateway) Arrivals() <-chan struct{} {
	return g.arrivals
}

// Send transmits one payload to the remote address. Payloads that do not fit into one SMS are refused without
// touching the device.
func (g *Gateway) Send(ctx context.Context, payload string) error {
	if !codec.Fits(payload) {
		return fmt.Errorf("%w: %d characters, %d allowed", ErrPayloadTooLarge, len(payload), codec.MaxPayloadLength)
	}

	reference, err := sms.RequestSendMessage(ctx, g.requester, g.remote, payload, g.charset)
	if err != nil {
		return fmt.Errorf("%w: cannot send to %s: %w", ErrTransport, g.remote, err)
	}
	logger().Debug().Int("reference", reference).Int("length", len(payload)).Msg("payload sent")
	return nil
}

// ReceiveAll lists all unread messages and returns their texts in storage order. The modem marks them as read.
func (g *Gateway) ReceiveAll(ctx context.Context) ([]string, error) {
	messages, err := sms.RequestMessages(ctx, g.requester, sms.ReceivedUnread, g.charset)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot list unread messages: %w", ErrTransport, err)
	}

	result := make([]string, 0, len(messages))
	for _, message := range messages {
		result = append(result, message.Text)
	}
	return result, nil
}

// DeleteRead removes all messages that were already read from the modem's storage.
func (g *Gateway) DeleteRead(ctx context.Context) error {
	if err := sms.RequestDeleteMessages(ctx, g.requester, sms.DeleteRead); err != nil {
		return fmt.Errorf("%w: cannot delete read messages: %w", ErrTransport, err)
	}
	return nil
}

// Purge deletes all stored messages again and again, until the storage stays empty after the settle delay or
// the timeout is exceeded. Messages may still arrive while purging from a peer that keeps sending.
// Purge reports if the storage was confirmed to be empty.
func (g *Gateway) Purge(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for round := 1; ; round++ {
		if err := sms.RequestDeleteMessages(ctx, g.requester, sms.DeleteAll); err != nil {
			logger().Warn().Err(err).Int("round", round).Msg("cannot delete stored messages")
		}

		select {
		case <-ctx.Done():
			logger().Warn().Int("rounds", round).Msg("purge timed out")
			return false
		case <-time.After(g.settleDelay):
		}

		messages, err := sms.RequestMessages(ctx, g.requester, sms.AllMessages, g.charset)
		switch {
		case err != nil:
			logger().Warn().Err(err).Int("round", round).Msg("cannot check message storage")
		case len(messages) == 0:
			logger().Info().Int("rounds", round).Msg("message storage purged")
			return true
		default:
			logger().Debug().Int("round", round).Int("remaining", len(messages)).Msg("messages arrived while purging")
		}

		if ctx.Err() != nil {
			logger().Warn().Int("rounds", round).Msg("purge timed out")
			return false
		}
	}
}

// Package dispatch polls the gateway for received transit payloads and hands the decoded frames to the relay side.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ftl/sms-telemetry/codec"
	"github.com/ftl/sms-telemetry/gateway"
	"github.com/ftl/sms-telemetry/mavlink"
)

// Receiver lists all unread transit payloads. The caller holds the transport lock.
type Receiver interface {
	ReceiveAll(ctx context.Context) ([]string, error)
}

type readDeleter interface {
	DeleteRead(ctx context.Context) error
}

// Decoder turns a transit payload into frames.
type Decoder func(string) ([]mavlink.Frame, error)

// FrameHandler is called for every received frame, in payload order and in order within a payload.
type FrameHandler func(mavlink.Frame)

// Stats counts what the dispatcher received.
type Stats struct {
	Polls        int // polls that read the device
	Busy         int // polls skipped because the transport was busy
	Payloads     int // payloads decoded successfully
	DecodeErrors int // payloads lost because they could not be decoded
	Frames       int // frames handed to the handler
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDecoder replaces codec.Decode.
func WithDecoder(decoder Decoder) Option {
	return func(d *Dispatcher) {
		d.decode = decoder
	}
}

// WithNonBlocking skips a poll if the transport is busy instead of waiting for it.
func WithNonBlocking() Option {
	return func(d *Dispatcher) {
		d.mode = gateway.NonBlocking
	}
}

// WithMaxPayloads limits the number of payloads that are applied per poll. Further payloads are kept and
// applied by the following polls, before the device is read again.
func WithMaxPayloads(n int) Option {
	return func(d *Dispatcher) {
		d.maxPayloads = n
	}
}

// WithDeleteRead removes read messages from the device storage after every read, if the receiver supports it.
func WithDeleteRead() Option {
	return func(d *Dispatcher) {
		d.deleteRead = true
	}
}

// Dispatcher reads payloads from the device, decodes them and forwards the frames.
type Dispatcher struct {
	receiver    Receiver
	lock        gateway.Locker
	handler     FrameHandler
	decode      Decoder
	mode        gateway.Mode
	maxPayloads int
	deleteRead  bool

	mu      sync.Mutex
	backlog []string
	stats   Stats
}

func New(receiver Receiver, lock gateway.Locker, handler FrameHandler, opts ...Option) *Dispatcher {
	result := &Dispatcher{
		receiver: receiver,
		lock:     lock,
		handler:  handler,
		decode:   codec.Decode,
		mode:     gateway.Blocking,
	}
	for _, opt := range opts {
		opt(result)
	}
	return result
}

func logger() *zerolog.Logger {
	l := log.With().Str("component", "dispatch").Logger()
	return &l
}

// Poll reads all unread payloads from the device, unless there are payloads left from a previous poll, and
// forwards the frames of the payloads. A payload that cannot be decoded is dropped, the other payloads are
// still forwarded. Poll returns the number of forwarded frames.
func (d *Dispatcher) Poll(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.backlog) == 0 {
		payloads, err := d.read(ctx)
		if errors.Is(err, gateway.ErrBusy) {
			d.stats.Busy++
			logger().Debug().Msg("transport busy, poll skipped")
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		d.stats.Polls++
		d.backlog = payloads
	}

	n := len(d.backlog)
	if d.maxPayloads > 0 && n > d.maxPayloads {
		n = d.maxPayloads
	}
	payloads := d.backlog[:n]
	d.backlog = d.backlog[n:]

	forwarded := 0
	for _, payload := range payloads {
		frames, err := d.decode(payload)
		if err != nil {
			d.stats.DecodeErrors++
			logger().Warn().Err(err).Int("length", len(payload)).Msg("payload dropped")
			continue
		}
		d.stats.Payloads++
		for _, frame := range frames {
			d.handler(frame)
			forwarded++
		}
	}
	d.stats.Frames += forwarded
	if forwarded > 0 {
		logger().Debug().Int("payloads", len(payloads)).Int("frames", forwarded).Int("backlog", len(d.backlog)).Msg("frames forwarded")
	}
	return forwarded, nil
}

func (d *Dispatcher) read(ctx context.Context) ([]string, error) {
	var result []string
	err := d.lock.Do(ctx, d.mode, func(ctx context.Context) error {
		var err error
		result, err = d.receiver.ReceiveAll(ctx)
		if err != nil {
			return err
		}
		if !d.deleteRead || len(result) == 0 {
			return nil
		}
		if deleter, ok := d.receiver.(readDeleter); ok {
			if err := deleter.DeleteRead(ctx); err != nil {
				logger().Warn().Err(err).Msg("cannot delete read messages")
			}
		}
		return nil
	})
	return result, err
}

// Run polls in the given interval until the context is done. A signal on wake triggers an extra poll.
// Failures are logged and do not stop the loop.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration, wake <-chan struct{}) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
		if _, err := d.Poll(ctx); err != nil && ctx.Err() == nil {
			logger().Error().Err(err).Msg("poll failed")
		}
	}
}

// Backlog returns the number of payloads that were read but not applied yet.
func (d *Dispatcher) Backlog() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.backlog)
}

// Stats returns a snapshot of the dispatcher's counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.stats
}

// HeartbeatCache keeps the most recent heartbeat frame. It is safe for concurrent use.
type HeartbeatCache struct {
	mu      sync.RWMutex
	frame   mavlink.Frame
	valid   bool
	updated time.Time
}

// Observe remembers the frame if it is a heartbeat.
func (c *HeartbeatCache) Observe(frame mavlink.Frame) {
	if !frame.IsHeartbeat() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = frame
	c.valid = true
	c.updated = time.Now()
}

// Last returns the most recent heartbeat and reports if there was one.
func (c *HeartbeatCache) Last() (mavlink.Frame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frame, c.valid
}

// Age returns the time since the most recent heartbeat was observed, or zero if there was none.
func (c *HeartbeatCache) Age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid {
		return 0
	}
	return time.Since(c.updated)
}

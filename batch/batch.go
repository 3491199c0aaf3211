// Package batch packs frames into transit payloads. Frames are collected until the next frame would push the
// encoded batch over the channel budget, then the collected frames are sent as one payload through the gateway.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ftl/sms-telemetry/codec"
	"github.com/ftl/sms-telemetry/gateway"
	"github.com/ftl/sms-telemetry/mavlink"
)

// ErrFrameTooLarge indicates a single frame whose encoding alone exceeds the channel budget.
var ErrFrameTooLarge = errors.New("frame too large for one payload")

// Sender transmits one payload. The caller holds the transport lock.
type Sender interface {
	Send(ctx context.Context, payload string) error
}

// Encoder turns a batch of frames into a transit payload.
type Encoder func([]mavlink.Frame) (string, error)

// Strategy decides what happens to a batch without critical frames when the transport is busy.
type Strategy int

const (
	// DropWhenBusy discards the batch if the transport is busy. Stale telemetry is worth less than a stalled producer.
	DropWhenBusy Strategy = iota
	// WaitWhenBusy waits for the transport.
	WaitWhenBusy
)

// ParseStrategy returns the Strategy with the given name: drop or wait.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "", "drop":
		return DropWhenBusy, nil
	case "wait":
		return WaitWhenBusy, nil
	default:
		return 0, fmt.Errorf("invalid contention strategy %s", name)
	}
}

func (s Strategy) String() string {
	switch s {
	case DropWhenBusy:
		return "drop"
	case WaitWhenBusy:
		return "wait"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Stats counts what happened to the frames and batches of a Batcher.
type Stats struct {
	Frames   int // frames accepted into a batch
	Rejected int // frames that could never fit into a payload
	Sent     int // batches sent
	Dropped  int // batches dropped because the transport was busy
	Failed   int // batches lost because of a transport failure
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithEncoder replaces codec.Encode.
func WithEncoder(encoder Encoder) Option {
	return func(b *Batcher) {
		b.encode = encoder
	}
}

// WithBudget replaces codec.MaxPayloadLength as channel budget.
func WithBudget(budget int) Option {
	return func(b *Batcher) {
		b.budget = budget
	}
}

// WithStrategy sets the contention strategy for batches without critical frames.
func WithStrategy(strategy Strategy) Option {
	return func(b *Batcher) {
		b.strategy = strategy
	}
}

// Batcher owns the pending batch of one endpoint. All operations are serialized by the batcher's own mutex,
// which is independent from the transport lock.
type Batcher struct {
	sender   Sender
	lock     gateway.Locker
	encode   Encoder
	budget   int
	strategy Strategy

	mu             sync.Mutex
	pending        []mavlink.Frame
	pendingPayload string
	stats          Stats
}

func New(sender Sender, lock gateway.Locker, opts ...Option) *Batcher {
	result := &Batcher{
		sender:   sender,
		lock:     lock,
		encode:   codec.Encode,
		budget:   codec.MaxPayloadLength,
		strategy: DropWhenBusy,
	}
	for _, opt := range opts {
		opt(result)
	}
	return result
}

func logger() *zerolog.Logger {
	l := log.With().Str("component", "batch").Logger()
	return &l
}

// Add puts the frame into the pending batch. If the frame does not fit anymore, the pending batch is flushed
// without it and a new batch is started with the frame.
func (b *Batcher) Add(ctx context.Context, frame mavlink.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	candidate := make([]mavlink.Frame, len(b.pending), len(b.pending)+1)
	copy(candidate, b.pending)
	candidate = append(candidate, frame)
	payload, err := b.encode(candidate)
	if err != nil {
		return err
	}
	if len(payload) <= b.budget {
		b.pending = candidate
		b.pendingPayload = payload
		b.stats.Frames++
		return nil
	}

	if len(b.pending) == 0 {
		return b.reject(frame, len(payload))
	}

	logger().Debug().Int("frames", len(b.pending)).Int("length", len(b.pendingPayload)).Msg("batch full")
	flushErr := b.flushLocked(ctx)

	payload, err = b.encode([]mavlink.Frame{frame})
	if err != nil {
		return errors.Join(flushErr, err)
	}
	if len(payload) > b.budget {
		return errors.Join(flushErr, b.reject(frame, len(payload)))
	}
	b.pending = []mavlink.Frame{frame}
	b.pendingPayload = payload
	b.stats.Frames++
	return flushErr
}

func (b *Batcher) reject(frame mavlink.Frame, length int) error {
	b.stats.Rejected++
	return fmt.Errorf("%w: %s encodes to %d characters, %d allowed", ErrFrameTooLarge, frame, length, b.budget)
}

// SendNow sends the frame as a batch of its own and waits for the transport as long as necessary.
// The pending batch is not touched.
func (b *Batcher) SendNow(ctx context.Context, frame mavlink.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	payload, err := b.encode([]mavlink.Frame{frame})
	if err != nil {
		return err
	}
	if len(payload) > b.budget {
		return b.reject(frame, len(payload))
	}
	b.stats.Frames++
	return b.send(ctx, gateway.Blocking, []mavlink.Frame{frame}, payload)
}

// Flush sends the pending batch, if there is one.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.flushLocked(ctx)
}

func (b *Batcher) flushLocked(ctx context.Context) error {
	batch := b.pending
	payload := b.pendingPayload
	b.pending = nil
	b.pendingPayload = ""
	if len(batch) == 0 {
		return nil
	}

	mode := gateway.NonBlocking
	if b.strategy == WaitWhenBusy || containsCritical(batch) {
		mode = gateway.Blocking
	}
	return b.send(ctx, mode, batch, payload)
}

func (b *Batcher) send(ctx context.Context, mode gateway.Mode, batch []mavlink.Frame, payload string) error {
	err := b.lock.Do(ctx, mode, func(ctx context.Context) error {
		return b.sender.Send(ctx, payload)
	})
	switch {
	case errors.Is(err, gateway.ErrBusy):
		b.stats.Dropped++
		logger().Info().Int("frames", len(batch)).Msg("transport busy, batch dropped")
		return nil
	case err != nil:
		b.stats.Failed++
		return fmt.Errorf("cannot send batch of %d frames: %w", len(batch), err)
	default:
		b.stats.Sent++
		logger().Debug().Int("frames", len(batch)).Int("length", len(payload)).Stringer("mode", mode).Msg("batch sent")
		return nil
	}
}

func containsCritical(batch []mavlink.Frame) bool {
	for _, frame := range batch {
		if frame.Critical() {
			return true
		}
	}
	return false
}

// Run adds every frame from the given channel until the channel is closed or the context is done. Failures are
// logged and do not stop the loop. The pending batch is flushed when the channel is closed.
func (b *Batcher) Run(ctx context.Context, frames <-chan mavlink.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return b.Flush(ctx)
			}
			if err := b.Add(ctx, frame); err != nil {
				logger().Error().Err(err).Str("type", frame.Type()).Msg("cannot batch frame")
			}
		}
	}
}

// Pending returns a copy of the pending batch.
func (b *Batcher) Pending() []mavlink.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]mavlink.Frame{}, b.pending...)
}

// Stats returns a snapshot of the batcher's counters.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.stats
}

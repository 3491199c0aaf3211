// Package relay runs the two endpoints of the SMS link. The station sits next to the ground control software,
// the vehicle next to the autopilot.
package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ftl/sms-telemetry/batch"
	"github.com/ftl/sms-telemetry/dispatch"
	"github.com/ftl/sms-telemetry/gateway"
)

const (
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultHeartbeatInterval = 500 * time.Millisecond
	DefaultMailboxInterval   = 5 * time.Second
)

// Channel is the SMS link as seen by an endpoint. gateway.Gateway implements it.
type Channel interface {
	batch.Sender
	dispatch.Receiver
	Purge(ctx context.Context, timeout time.Duration) bool
}

type settings struct {
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	mailboxInterval   time.Duration
	purgeTimeout      time.Duration
	strategy          batch.Strategy
	deleteRead        bool
	wake              <-chan struct{}
}

func defaultSettings() settings {
	return settings{
		pollInterval:      DefaultPollInterval,
		heartbeatInterval: DefaultHeartbeatInterval,
		mailboxInterval:   DefaultMailboxInterval,
		purgeTimeout:      gateway.DefaultPurgeTimeout,
		strategy:          batch.DropWhenBusy,
	}
}

// Option configures a Station or a Vehicle.
type Option func(*settings)

// WithPollInterval sets how often the station checks for received telemetry.
func WithPollInterval(interval time.Duration) Option {
	return func(s *settings) {
		s.pollInterval = interval
	}
}

// WithHeartbeatInterval sets how often the station repeats the last vehicle heartbeat to the ground control software.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(s *settings) {
		s.heartbeatInterval = interval
	}
}

// WithMailboxInterval sets how often the vehicle checks for received commands.
func WithMailboxInterval(interval time.Duration) Option {
	return func(s *settings) {
		s.mailboxInterval = interval
	}
}

// WithPurgeTimeout bounds the purge of the modem storage at startup.
func WithPurgeTimeout(timeout time.Duration) Option {
	return func(s *settings) {
		s.purgeTimeout = timeout
	}
}

// WithContention sets what the vehicle does with a telemetry batch when the modem is busy.
func WithContention(strategy batch.Strategy) Option {
	return func(s *settings) {
		s.strategy = strategy
	}
}

// WithDeleteRead removes read messages from the modem storage after every mailbox check.
func WithDeleteRead() Option {
	return func(s *settings) {
		s.deleteRead = true
	}
}

// WithWake triggers an early mailbox check of the station whenever the channel is signalled, e.g. by
// gateway.Arrivals. The vehicle ignores it and checks its mailbox only at the mailbox interval.
func WithWake(wake <-chan struct{}) Option {
	return func(s *settings) {
		s.wake = wake
	}
}

func logger() *zerolog.Logger {
	l := log.With().Str("component", "relay").Logger()
	return &l
}

// purge empties the modem storage so that stale messages from an earlier session are not relayed.
func purge(ctx context.Context, channel Channel, lock gateway.Locker, timeout time.Duration) error {
	logger().Info().Dur("timeout", timeout).Msg("purging modem storage")
	var purged bool
	err := lock.Do(ctx, gateway.Blocking, func(ctx context.Context) error {
		purged = channel.Purge(ctx, timeout)
		return nil
	})
	if err != nil {
		return err
	}
	if purged {
		logger().Info().Msg("modem storage empty")
	} else {
		logger().Warn().Msg("modem storage still not empty, stale messages may be relayed")
	}
	return nil
}

// stopped maps the result of an endpoint's activities to the result of Run: a cancellation of the
// parent context is a regular shutdown.
func stopped(parent context.Context, err error) error {
	if parent.Err() != nil {
		return nil
	}
	return err
}

package relay

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ftl/sms-telemetry/batch"
	"github.com/ftl/sms-telemetry/dispatch"
	"github.com/ftl/sms-telemetry/gateway"
	"github.com/ftl/sms-telemetry/gcs"
	"github.com/ftl/sms-telemetry/mavlink"
)

// GCS is the link to the ground control software.
type GCS interface {
	Send(frame mavlink.Frame) error
	Receive(ctx context.Context) ([]mavlink.Frame, error)
}

// Station relays commands from the ground control software to the vehicle and telemetry from the vehicle to the
// ground control software.
type Station struct {
	settings   settings
	channel    Channel
	lock       gateway.Locker
	gcs        GCS
	batcher    *batch.Batcher
	dispatcher *dispatch.Dispatcher
	heartbeats *dispatch.HeartbeatCache
}

func NewStation(channel Channel, lock gateway.Locker, link GCS, opts ...Option) *Station {
	result := &Station{
		settings:   defaultSettings(),
		channel:    channel,
		lock:       lock,
		gcs:        link,
		heartbeats: &dispatch.HeartbeatCache{},
	}
	for _, opt := range opts {
		opt(&result.settings)
	}

	result.batcher = batch.New(channel, lock)
	dispatchOpts := []dispatch.Option{dispatch.WithNonBlocking()}
	if result.settings.deleteRead {
		dispatchOpts = append(dispatchOpts, dispatch.WithDeleteRead())
	}
	result.dispatcher = dispatch.New(channel, lock, result.forward, dispatchOpts...)

	return result
}

// Run purges the modem and then relays until the context is done.
func (s *Station) Run(ctx context.Context) error {
	if err := purge(ctx, s.channel, s.lock, s.settings.purgeTimeout); err != nil {
		return stopped(ctx, err)
	}

	logger().Info().Dur("poll", s.settings.pollInterval).Dur("heartbeat", s.settings.heartbeatInterval).Msg("station running")
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.listen(groupCtx)
	})
	group.Go(func() error {
		return s.repeatHeartbeats(groupCtx)
	})
	group.Go(func() error {
		return s.dispatcher.Run(groupCtx, s.settings.pollInterval, s.settings.wake)
	})
	err := group.Wait()

	logger().Info().Interface("uplink", s.batcher.Stats()).Interface("downlink", s.dispatcher.Stats()).Msg("station stopped")
	return stopped(ctx, err)
}

// listen sends every frame from the ground control software to the vehicle, one frame per message.
// Heartbeats of the ground control software are not sent.
func (s *Station) listen(ctx context.Context) error {
	for {
		frames, err := s.gcs.Receive(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, gcs.ErrClosed) {
			return err
		}
		if err != nil {
			logger().Error().Err(err).Msg("cannot receive from gcs")
			continue
		}

		for _, frame := range frames {
			if frame.IsHeartbeat() {
				continue
			}
			if err := s.batcher.SendNow(ctx, frame); err != nil {
				logger().Error().Err(err).Str("type", frame.Type()).Msg("cannot send command")
			}
		}
	}
}

// repeatHeartbeats feeds the ground control software with the last heartbeat of the vehicle, so that it does
// not consider the vehicle lost between two received messages.
func (s *Station) repeatHeartbeats(ctx context.Context) error {
	ticker := time.NewTicker(s.settings.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		heartbeat, ok := s.heartbeats.Last()
		if !ok {
			continue
		}
		if err := s.gcs.Send(heartbeat); err != nil {
			logger().Warn().Err(err).Msg("cannot repeat heartbeat")
		}
	}
}

func (s *Station) forward(frame mavlink.Frame) {
	s.heartbeats.Observe(frame)
	if err := s.gcs.Send(frame); err != nil {
		logger().Error().Err(err).Str("type", frame.Type()).Msg("cannot forward telemetry")
	}
}

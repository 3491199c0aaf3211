package relay

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/ftl/sms-telemetry/batch"
	"github.com/ftl/sms-telemetry/dispatch"
	"github.com/ftl/sms-telemetry/gateway"
	"github.com/ftl/sms-telemetry/mavlink"
)

// ErrAutopilotLost indicates that the autopilot stopped delivering frames.
var ErrAutopilotLost = errors.New("autopilot lost")

// Autopilot is the link to the flight controller.
type Autopilot interface {
	Frames() <-chan mavlink.Frame
	Write(frame mavlink.Frame) error
}

// Vehicle relays telemetry from the autopilot to the station and commands from the station to the autopilot.
type Vehicle struct {
	settings   settings
	channel    Channel
	lock       gateway.Locker
	autopilot  Autopilot
	batcher    *batch.Batcher
	dispatcher *dispatch.Dispatcher
}

func NewVehicle(channel Channel, lock gateway.Locker, autopilot Autopilot, opts ...Option) *Vehicle {
	result := &Vehicle{
		settings:  defaultSettings(),
		channel:   channel,
		lock:      lock,
		autopilot: autopilot,
	}
	for _, opt := range opts {
		opt(&result.settings)
	}

	result.batcher = batch.New(channel, lock, batch.WithStrategy(result.settings.strategy))
	dispatchOpts := []dispatch.Option{dispatch.WithMaxPayloads(1)}
	if result.settings.deleteRead {
		dispatchOpts = append(dispatchOpts, dispatch.WithDeleteRead())
	}
	result.dispatcher = dispatch.New(channel, lock, result.apply, dispatchOpts...)

	return result
}

// Run purges the modem and then relays until the context is done or the autopilot is lost.
func (v *Vehicle) Run(ctx context.Context) error {
	if err := purge(ctx, v.channel, v.lock, v.settings.purgeTimeout); err != nil {
		return stopped(ctx, err)
	}

	logger().Info().Dur("mailbox", v.settings.mailboxInterval).Stringer("contention", v.settings.strategy).Msg("vehicle running")
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := v.batcher.Run(groupCtx, v.autopilot.Frames())
		switch {
		case groupCtx.Err() != nil:
			return err
		case err == nil:
			return ErrAutopilotLost
		default:
			return errors.Join(ErrAutopilotLost, err)
		}
	})
	group.Go(func() error {
		// one command per mailbox interval, arrivals do not shorten it
		return v.dispatcher.Run(groupCtx, v.settings.mailboxInterval, nil)
	})
	err := group.Wait()

	logger().Info().Interface("downlink", v.batcher.Stats()).Interface("uplink", v.dispatcher.Stats()).Msg("vehicle stopped")
	return stopped(ctx, err)
}

func (v *Vehicle) apply(frame mavlink.Frame) {
	if err := v.autopilot.Write(frame); err != nil {
		logger().Error().Err(err).Str("type", frame.Type()).Msg("cannot apply command")
		return
	}
	logger().Debug().Str("type", frame.Type()).Msg("command applied")
}

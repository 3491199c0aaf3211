package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/ftl/sms-telemetry/autopilot"
	"github.com/ftl/sms-telemetry/com"
	"github.com/ftl/sms-telemetry/config"
	"github.com/ftl/sms-telemetry/gateway"
	"github.com/ftl/sms-telemetry/gcs"
	"github.com/ftl/sms-telemetry/logging"
	"github.com/ftl/sms-telemetry/relay"
	"github.com/ftl/sms-telemetry/serial"
	"github.com/ftl/sms-telemetry/sms"
)

var errAborted = errors.New("aborted by operator")

func main() {
	vehicle := flag.Bool("vehicle", false, "run on the vehicle, next to the autopilot (default)")
	ground := flag.Bool("ground", false, "run on the ground station, next to the ground control software")
	configPath := flag.String("config", "", "path of the TOML configuration file")
	yes := flag.Bool("yes", false, "skip the confirmation of the configuration")
	flag.Parse()

	if err := run(*configPath, *vehicle, *ground, *yes); err != nil {
		fmt.Fprintf(os.Stderr, "smsrelay: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, vehicle, ground, yes bool) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}
	mode, err := selectMode(vehicle, ground, cfg.Mode, configPath != "")
	if err != nil {
		return err
	}
	cfg.Mode = mode

	logging.Configure(cfg.DebugLevel, os.Stderr)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	if !yes {
		if err := confirm(os.Stdin, os.Stdout, cfg); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return launch(ctx, cfg)
}

// selectMode decides the endpoint role. A mode flag wins over the configuration file, without both the vehicle
// is the default.
func selectMode(vehicle, ground bool, configured config.Mode, fromFile bool) (config.Mode, error) {
	switch {
	case vehicle && ground:
		return "", errors.New("use either -vehicle or -ground")
	case vehicle:
		return config.Vehicle, nil
	case ground:
		return config.Ground, nil
	case fromFile && configured != "":
		return configured, nil
	default:
		return config.Vehicle, nil
	}
}

// confirm shows the configuration and asks the operator to approve it.
func confirm(in io.Reader, out io.Writer, cfg config.Config) error {
	fmt.Fprintln(out, "Verifying initialization values...")
	fmt.Fprintln(out, cfg.Summary())
	fmt.Fprint(out, "Are these values correct? (y/n) ")

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && answer != "") {
		return fmt.Errorf("cannot read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		fmt.Fprintln(out, "launching telemetry...")
		return nil
	case "n", "no":
		fmt.Fprintln(out, "Please correct the configuration file.")
		return errAborted
	default:
		return fmt.Errorf("%w: invalid answer %q", errAborted, strings.TrimSpace(answer))
	}
}

func launch(ctx context.Context, cfg config.Config) error {
	modem, closer, err := openModem(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	channel := gateway.New(modem, sms.Address(cfg.RemoteNumber),
		gateway.WithCharset(cfg.ModemCharset),
		gateway.WithSettleDelay(cfg.SettleDelay),
	)
	if err := channel.Prepare(ctx); err != nil {
		return fmt.Errorf("cannot prepare modem: %w", err)
	}
	if err := channel.Watch(modem); err != nil {
		log.Warn().Err(err).Msg("cannot watch for new messages")
	}
	lock := gateway.NewLock()

	opts := []relay.Option{
		relay.WithPurgeTimeout(cfg.PurgeTimeout),
		relay.WithDeleteRead(),
	}

	switch cfg.Mode {
	case config.Ground:
		link, err := gcs.Open(cfg.LocalPort, cfg.GCSPort)
		if err != nil {
			return err
		}
		defer link.Close()

		log.Info().Msg("launching ground station")
		station := relay.NewStation(channel, lock, link, append(opts,
			relay.WithPollInterval(cfg.PollInterval),
			relay.WithHeartbeatInterval(cfg.HeartbeatInterval),
			relay.WithWake(channel.Arrivals()),
		)...)
		return station.Run(ctx)
	default:
		vehicleLink, err := autopilot.Open(cfg.AutopilotPath, cfg.AutopilotBaud)
		if err != nil {
			return err
		}
		defer vehicleLink.Close()

		log.Info().Msg("launching vehicle")
		vehicle := relay.NewVehicle(channel, lock, vehicleLink, append(opts,
			relay.WithMailboxInterval(cfg.MailboxInterval),
			relay.WithContention(cfg.Contention),
		)...)
		return vehicle.Run(ctx)
	}
}

func openModem(cfg config.Config) (*com.COM, io.Closer, error) {
	portName := cfg.ModemPath
	if portName == "" {
		var err error
		portName, err = serial.FindModemPortName()
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("port", portName).Msg("modem detected")
	}

	if cfg.TraceFile == "" {
		return serial.Open(portName, cfg.ModemBaud)
	}

	traceFile, err := os.Create(cfg.TraceFile)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create trace file: %w", err)
	}
	modem, device, err := serial.OpenWithTrace(portName, cfg.ModemBaud, traceFile)
	if err != nil {
		traceFile.Close()
		return nil, nil, err
	}
	return modem, closers{device, traceFile}, nil
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for _, closer := range c {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

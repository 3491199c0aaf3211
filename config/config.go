// Package config loads the settings of one relay endpoint from a TOML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ftl/sms-telemetry/autopilot"
	"github.com/ftl/sms-telemetry/batch"
	"github.com/ftl/sms-telemetry/gateway"
	"github.com/ftl/sms-telemetry/gcs"
	"github.com/ftl/sms-telemetry/relay"
	"github.com/ftl/sms-telemetry/serial"
	"github.com/ftl/sms-telemetry/sms"
)

// Mode selects the endpoint role.
type Mode string

const (
	Vehicle Mode = "vehicle"
	Ground  Mode = "ground"
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vehicle":
		return Vehicle, nil
	case "ground", "groundstation", "station":
		return Ground, nil
	default:
		return "", fmt.Errorf("invalid mode %q", s)
	}
}

const DefaultAutopilotPath = "/dev/ttyACM0"

type Config struct {
	Mode              Mode
	RemoteNumber      string
	ModemPath         string
	ModemBaud         int
	ModemCharset      sms.Charset
	AutopilotPath     string
	AutopilotBaud     int
	GCSPort           int
	LocalPort         int
	MailboxInterval   time.Duration
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	PurgeTimeout      time.Duration
	SettleDelay       time.Duration
	Contention        batch.Strategy
	DebugLevel        int
	TraceFile         string
}

func Default() Config {
	return Config{
		Mode:              Vehicle,
		ModemBaud:         serial.DefaultBaudRate,
		ModemCharset:      sms.IRA,
		AutopilotPath:     DefaultAutopilotPath,
		AutopilotBaud:     autopilot.DefaultBaudRate,
		GCSPort:           gcs.DefaultGCSPort,
		LocalPort:         gcs.DefaultLocalPort,
		MailboxInterval:   relay.DefaultMailboxInterval,
		PollInterval:      relay.DefaultPollInterval,
		HeartbeatInterval: relay.DefaultHeartbeatInterval,
		PurgeTimeout:      gateway.DefaultPurgeTimeout,
		SettleDelay:       gateway.DefaultSettleDelay,
		Contention:        batch.DropWhenBusy,
		DebugLevel:        3,
	}
}

type fileConfig struct {
	Mode              string `toml:"mode"`
	RemoteNumber      string `toml:"remote_number"`
	ModemPath         string `toml:"modem_path"`
	ModemBaud         int    `toml:"modem_baud"`
	ModemCharset      string `toml:"modem_charset"`
	AutopilotPath     string `toml:"autopilot_path"`
	AutopilotBaud     int    `toml:"autopilot_baud"`
	GCSPort           int    `toml:"gcs_port"`
	LocalPort         int    `toml:"local_port"`
	MailboxInterval   string `toml:"mailbox_interval"`
	PollInterval      string `toml:"poll_interval"`
	HeartbeatInterval string `toml:"heartbeat_interval"`
	PurgeTimeout      string `toml:"purge_timeout"`
	SettleDelay       string `toml:"settle_delay"`
	Contention        string `toml:"contention"`
	DebugLevel        int    `toml:"debug_level"`
	TraceFile         string `toml:"trace_file"`
}

// Load reads the given file on top of the defaults. Keys that are not in the file keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown keys %v", undecoded)
	}

	if meta.IsDefined("mode") {
		cfg.Mode, err = ParseMode(raw.Mode)
		if err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("remote_number") {
		cfg.RemoteNumber = strings.TrimSpace(raw.RemoteNumber)
	}
	if meta.IsDefined("modem_path") {
		cfg.ModemPath = strings.TrimSpace(raw.ModemPath)
	}
	if meta.IsDefined("modem_baud") {
		cfg.ModemBaud = raw.ModemBaud
	}
	if meta.IsDefined("modem_charset") {
		cfg.ModemCharset, err = sms.ParseCharset(strings.TrimSpace(raw.ModemCharset))
		if err != nil {
			return Config{}, fmt.Errorf("parse modem_charset: %w", err)
		}
	}
	if meta.IsDefined("autopilot_path") {
		cfg.AutopilotPath = strings.TrimSpace(raw.AutopilotPath)
	}
	if meta.IsDefined("autopilot_baud") {
		cfg.AutopilotBaud = raw.AutopilotBaud
	}
	if meta.IsDefined("gcs_port") {
		cfg.GCSPort = raw.GCSPort
	}
	if meta.IsDefined("local_port") {
		cfg.LocalPort = raw.LocalPort
	}

	durations := []struct {
		key   string
		raw   string
		value *time.Duration
	}{
		{"mailbox_interval", raw.MailboxInterval, &cfg.MailboxInterval},
		{"poll_interval", raw.PollInterval, &cfg.PollInterval},
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"purge_timeout", raw.PurgeTimeout, &cfg.PurgeTimeout},
		{"settle_delay", raw.SettleDelay, &cfg.SettleDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		*d.value, err = time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
	}

	if meta.IsDefined("contention") {
		cfg.Contention, err = batch.ParseStrategy(strings.TrimSpace(raw.Contention))
		if err != nil {
			return Config{}, fmt.Errorf("parse contention: %w", err)
		}
	}
	if meta.IsDefined("debug_level") {
		cfg.DebugLevel = raw.DebugLevel
	}
	if meta.IsDefined("trace_file") {
		cfg.TraceFile = strings.TrimSpace(raw.TraceFile)
	}

	return cfg, nil
}

// Validate reports all values that prevent the endpoint from starting.
func (c Config) Validate() error {
	var errs []error
	if c.Mode != Vehicle && c.Mode != Ground {
		errs = append(errs, fmt.Errorf("invalid mode %q", c.Mode))
	}
	if !isPhoneNumber(c.RemoteNumber) {
		errs = append(errs, fmt.Errorf("invalid remote_number %q", c.RemoteNumber))
	}
	if c.ModemBaud <= 0 {
		errs = append(errs, fmt.Errorf("invalid modem_baud %d", c.ModemBaud))
	}
	switch c.Mode {
	case Vehicle:
		if c.AutopilotPath == "" {
			errs = append(errs, errors.New("autopilot_path missing"))
		}
		if c.AutopilotBaud <= 0 {
			errs = append(errs, fmt.Errorf("invalid autopilot_baud %d", c.AutopilotBaud))
		}
		if c.MailboxInterval <= 0 {
			errs = append(errs, fmt.Errorf("invalid mailbox_interval %s", c.MailboxInterval))
		}
	case Ground:
		if !isPort(c.GCSPort) {
			errs = append(errs, fmt.Errorf("invalid gcs_port %d", c.GCSPort))
		}
		if !isPort(c.LocalPort) {
			errs = append(errs, fmt.Errorf("invalid local_port %d", c.LocalPort))
		}
		if c.GCSPort == c.LocalPort {
			errs = append(errs, fmt.Errorf("gcs_port and local_port are both %d", c.GCSPort))
		}
		if c.PollInterval <= 0 {
			errs = append(errs, fmt.Errorf("invalid poll_interval %s", c.PollInterval))
		}
		if c.HeartbeatInterval <= 0 {
			errs = append(errs, fmt.Errorf("invalid heartbeat_interval %s", c.HeartbeatInterval))
		}
	}
	if c.PurgeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid purge_timeout %s", c.PurgeTimeout))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("invalid settle_delay %s", c.SettleDelay))
	}
	if c.DebugLevel < 0 || c.DebugLevel > 4 {
		errs = append(errs, fmt.Errorf("invalid debug_level %d, use 0 to 4", c.DebugLevel))
	}
	return errors.Join(errs...)
}

func isPhoneNumber(s string) bool {
	digits := strings.TrimPrefix(s, "+")
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isPort(port int) bool {
	return port > 0 && port <= 0xFFFF
}

// Summary lists the values that matter for the selected mode, one per line, for the operator to confirm.
func (c Config) Summary() string {
	modemPath := c.ModemPath
	if modemPath == "" {
		modemPath = "(auto-detect)"
	}

	var lines []string
	add := func(name string, value any) {
		lines = append(lines, fmt.Sprintf("  -%s = %v", name, value))
	}
	add("MODE", c.Mode)
	add("REMOTE PHONE NUMBER", c.RemoteNumber)
	add("MODEM PATH", modemPath)
	add("MODEM BAUD", c.ModemBaud)
	switch c.Mode {
	case Vehicle:
		add("AUTOPILOT PATH", c.AutopilotPath)
		add("AUTOPILOT BAUD", c.AutopilotBaud)
		add("MAILBOX INTERVAL", c.MailboxInterval)
		add("CONTENTION", c.Contention)
	case Ground:
		add("GCS PORT", c.GCSPort)
		add("LOCAL PORT", c.LocalPort)
		add("POLL INTERVAL", c.PollInterval)
		add("HEARTBEAT INTERVAL", c.HeartbeatInterval)
	}
	add("DEBUG LEVEL", c.DebugLevel)
	return strings.Join(lines, "\n")
}

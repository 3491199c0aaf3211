// Package logging sets up the global zerolog logger of the relay.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EnvLogLevel overrides the level derived from the debug level, e.g. SMSRELAY_LOG_LEVEL=trace.
const EnvLogLevel = "SMSRELAY_LOG_LEVEL"

// LevelFromDebug maps a debug level to a log level. 0 is silent, 4 is the most verbose.
func LevelFromDebug(debugLevel int) zerolog.Level {
	switch {
	case debugLevel <= 0:
		return zerolog.Disabled
	case debugLevel == 1:
		return zerolog.ErrorLevel
	case debugLevel == 2:
		return zerolog.WarnLevel
	case debugLevel == 3:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "off", "none", "disabled":
		return zerolog.Disabled, true
	default:
		return zerolog.NoLevel, false
	}
}

// Configure replaces the global logger with a console logger writing to out and returns it.
func Configure(debugLevel int, out io.Writer) zerolog.Logger {
	level := LevelFromDebug(debugLevel)
	if override, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		level = override
	}

	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    !isTerminal(out),
	}
	logger := zerolog.New(output).Level(level).With().Timestamp().Str("app", "smsrelay").Logger()
	log.Logger = logger
	return logger
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Package logging constructs the process diagnostic logger. Diagnostic output
// is separate from the EVE event stream: it goes to stderr (or the console
// writer) and describes the engine itself, never the traffic.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Format constants for diagnostic log output.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New creates the root diagnostic logger. format selects JSON or the
// human-readable console writer; level is a zerolog level name, defaulting
// to info when unrecognized.
func New(format, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var zl zerolog.Logger
	if format == FormatConsole {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zl = zerolog.New(os.Stderr)
	}

	return zl.Level(lvl).With().
		Timestamp().
		Str("component", "suricata").
		Logger()
}

// Nop returns a logger that discards everything, for tests and disabled
// subsystems.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

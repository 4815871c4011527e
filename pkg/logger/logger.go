// Package logger holds the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance
var Log zerolog.Logger

func init() {
	Configure("info", "")
}

// Configure rebuilds the global logger.
//
// Format "json" writes JSON to stdout, "console" writes human readable output
// to stderr. An empty format picks console unless APP_ENV is "production".
// Unknown levels fall back to info.
func Configure(level, format string) {
	if format == "" {
		format = "console"
		if os.Getenv("APP_ENV") == "production" {
			format = "json"
		}
	}

	var out io.Writer = os.Stdout
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	Log = zerolog.New(out).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// Named returns a child of the global logger tagged with a component name.
func Named(component string) zerolog.Logger {
	return Log.With().Str("component", component).Logger()
}

// GetLogger returns the global logger instance
func GetLogger() zerolog.Logger {
	return Log
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

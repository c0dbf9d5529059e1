// Package logging holds the process-wide zerolog logger and hands out named children of it.
package logging

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var root atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	root.Store(&l)
}

// Init configures the root logger.  level is a zerolog level name ("debug",
// "info", ...); an empty or unknown level means info.  console switches to
// the human-readable writer.
func Init(level string, console bool) zerolog.Logger {
	return InitWriter(os.Stderr, level, console)
}

// InitWriter is Init with an explicit destination
func InitWriter(w io.Writer, level string, console bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	l := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	root.Store(&l)
	return l
}

// Get returns the root logger
func Get() zerolog.Logger {
	return *root.Load()
}

// Named returns a child of the root logger tagged with a component field
func Named(component string) zerolog.Logger {
	return root.Load().With().Str("component", component).Logger()
}

// Discard is a logger that drops everything, for tests and library defaults
func Discard() zerolog.Logger {
	return zerolog.New(io.Discard)
}

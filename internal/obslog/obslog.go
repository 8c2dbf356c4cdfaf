// Package obslog is the orchestrator's logging entry point: one
// component-scoped zerolog.Logger per package instead of formatting
// strings by hand. Grounded on cuemby-warren's pkg/log (Init/WithComponent,
// console-writer-by-default, JSON on request) — the pack's actual
// structured-logging precedent; the teacher itself has no logging
// library of its own (tools/si/util.go's warnf/infof/fatal are plain
// fmt wrappers around ANSI color codes for a human-facing CLI, not a
// structured logger).
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base = newBase(os.Stderr)

func newBase(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// SetOutput redirects the base logger that later For calls derive from.
// Loggers already returned by For keep the writer they were built with.
func SetOutput(w io.Writer) { base = newBase(w) }

// SetDebug raises the global log level when HAL9000_DEBUG=true.
func SetDebug(on bool) {
	if on {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// For returns a logger scoped to one component, e.g. obslog.For("pool").
func For(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("HAL9000_DEBUG") == "true" {
		SetDebug(true)
	}
}

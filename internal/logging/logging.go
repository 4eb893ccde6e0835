// Package logging provides the structured logger shared across every
// subsystem of the message-database CORE.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.Mutex
	base zerolog.Logger = zerolog.New(defaultWriter()).With().Timestamp().Logger()
)

func defaultWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
}

// Configure sets the global log level and output writer. Call once at
// startup; safe to call again in tests to reset state.
func Configure(level zerolog.Level, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = defaultWriter()
	}
	zerolog.SetGlobalLevel(level)
	base = zerolog.New(w).With().Timestamp().Logger()
}

// WithComponent returns a logger tagged with the given component name, the
// way every subsystem in this repo identifies its log lines.
func WithComponent(name string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base.With().Str("component", name).Logger()
}

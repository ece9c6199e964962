// Package logging provides component-keyed structured loggers for the
// client core. Library code logs at Debug for wire-level noise and at
// Warn/Error for failures the caller will also see through return values.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	root = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.WarnLevel)
)

// Init configures the root logger. level accepts zerolog level names
// ("debug", "info", ...); console enables human-readable output for CLIs.
// Safe to call more than once; the last call wins.
func Init(w io.Writer, level string, console bool) {
	if w == nil {
		w = os.Stderr
	}
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	mu.Lock()
	defer mu.Unlock()
	root = zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

// New returns a logger tagged with the given component name.
func New(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With().Str("component", component).Logger()
}

// Nop returns a disabled logger, useful as a test default.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

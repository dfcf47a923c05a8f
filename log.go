package mimicidx

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a console-writing zerolog.Logger at level. Build
// operations log at info level (subject counts, wall time); query
// operations log at debug level (resolved byte range, elapsed time).
func NewLogger(level zerolog.Level) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// NopLogger returns a logger that discards everything. Builder,
// QueryEngine and Facade do not use it: they take a *zerolog.Logger
// that may be nil and check for nil before logging.
func NopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// NewCLILogger is the logger constructor the cmd/ binaries share: -v
// turns on debug-level console logging, otherwise everything but
// warnings and above is discarded.
func NewCLILogger(verbose bool) zerolog.Logger {
	if verbose {
		return NewLogger(zerolog.DebugLevel)
	}
	return NewLogger(zerolog.WarnLevel)
}

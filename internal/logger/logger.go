package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup configures the process logger. format "pretty" writes colored
// console lines for local development; anything else writes JSON for log
// shippers. Unknown levels fall back to info rather than failing startup.
func Setup(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stdout
	if format == "pretty" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		With().
		Timestamp().
		Caller().
		Str("service", "evaltra").
		Logger()
}

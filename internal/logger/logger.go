package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-chi/httplog"
	"github.com/rs/zerolog"
)

// Options selects the level and output format of the service logger
type Options struct {
	Level  string    // debug, info, warn, error
	Format string    // json (default) or text
	Out    io.Writer // defaults to stdout
}

// New builds the service logger. Unknown levels fall back to info.
func New(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Format == "text" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(ParseLevel(opts.Level)).
		With().
		Timestamp().
		Str("service", "webhook-guard").
		Logger()
}

// HTTPOptions maps the service logger options onto the request logger,
// keeping credentials out of the logged headers
func HTTPOptions(opts Options) httplog.Options {
	return httplog.Options{
		LogLevel:    ParseLevel(opts.Level).String(),
		JSON:        opts.Format != "text",
		SkipHeaders: []string{"authorization", "x-hub-signature-256"},
	}
}

func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

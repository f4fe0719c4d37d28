// Package logging builds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New creates a logger writing to stdout. format "json" emits one JSON object
// per line; anything else uses the human-readable console writer.
func New(level, format string) zerolog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

func NewWithWriter(out io.Writer, level, format string) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(level))

	writer := out
	if !strings.EqualFold(strings.TrimSpace(format), "json") {
		writer = zerolog.ConsoleWriter{Out: out}
	}

	return zerolog.New(writer).
		With().
		Timestamp().
		Str("service", "studyhub-api").
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

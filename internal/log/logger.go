package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog console logger with the given level string (debug, info, warn, error).
func New(level string) *zerolog.Logger {
	return NewWithWriter(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}, level)
}

// NewWithWriter builds a logger on an arbitrary writer; pass os.Stdout for JSON lines.
func NewWithWriter(w io.Writer, level string) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	logger := zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
	return &logger
}

// Nop returns a disabled logger.
func Nop() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

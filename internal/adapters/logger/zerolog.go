package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// ZerologLogger implements the ports.Logger interface on top of zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

// ParseLevel converts a config string to a zerolog level. Unknown strings
// default to Info.
func ParseLevel(levelStr string) zerolog.Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates a logger writing JSON lines to stderr at the given level.
func New(level zerolog.Level) *ZerologLogger {
	return NewWithWriter(level, os.Stderr)
}

// NewWithWriter creates a logger against an arbitrary writer (used in tests).
func NewWithWriter(level zerolog.Level, w io.Writer) *ZerologLogger {
	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &ZerologLogger{log: zl}
}

func (l *ZerologLogger) event(e *zerolog.Event, msg string, fields []map[string]interface{}) {
	if len(fields) > 0 && fields[0] != nil {
		e = e.Fields(fields[0])
	}
	e.Msg(msg)
}

// Debug logs a message at Debug level.
func (l *ZerologLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.event(l.log.Debug(), msg, fields)
}

// Info logs a message at Info level.
func (l *ZerologLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.event(l.log.Info(), msg, fields)
}

// Warn logs a message at Warning level.
func (l *ZerologLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.event(l.log.Warn(), msg, fields)
}

// Error logs an error message at Error level.
func (l *ZerologLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.event(l.log.Error().Err(err), msg, fields)
}

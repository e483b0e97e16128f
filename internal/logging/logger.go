// Package logging provides the structured logger used across the service.
// Call sites pass a message plus Fields; output is JSON written by zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Fields carries structured key/value pairs for a log line.
type Fields map[string]interface{}

// Logger is a named structured logger.
type Logger struct {
	zl zerolog.Logger
}

var level = zerolog.InfoLevel

// SetLevel sets the minimum level for loggers created afterwards.
// Unknown names fall back to info.
func SetLevel(name string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	level = lvl
}

// New creates a logger writing JSON lines to stdout tagged with service.
func New(service string) *Logger {
	return NewWithWriter(service, os.Stdout)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(service string, w io.Writer) *Logger {
	zl := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger()
	return &Logger{zl: zl}
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger that always includes fields.
func (l *Logger) With(fields Fields) *Logger {
	return &Logger{zl: l.zl.With().Fields(map[string]interface{}(fields)).Logger()}
}

func (l *Logger) Debug(msg string, fields ...Fields) {
	write(l.zl.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...Fields) {
	write(l.zl.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...Fields) {
	write(l.zl.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...Fields) {
	write(l.zl.Error(), msg, fields)
}

// Fatal logs and exits the process with status 1.
func (l *Logger) Fatal(msg string, fields ...Fields) {
	write(l.zl.WithLevel(zerolog.FatalLevel), msg, fields)
	os.Exit(1)
}

// Zerolog exposes the underlying logger for middleware that wants the
// zerolog event API directly.
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zl
}

func write(ev *zerolog.Event, msg string, fields []Fields) {
	if ev == nil {
		return
	}
	for _, f := range fields {
		for k, v := range f {
			if err, ok := v.(error); ok {
				ev = ev.AnErr(k, err)
				continue
			}
			ev = ev.Interface(k, v)
		}
	}
	ev.Msg(msg)
}

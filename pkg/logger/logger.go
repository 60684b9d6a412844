package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger represents a simple logger interface
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
	With(keyvals ...interface{}) Logger
}

type zeroLogger struct {
	zl zerolog.Logger
}

// NewLogger creates a new JSON logger writing to stdout with the specified level
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stdout)
}

// NewLoggerWithWriter creates a new logger writing to w
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	return &zeroLogger{
		zl: zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger(),
	}
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() Logger {
	return &zeroLogger{zl: zerolog.Nop()}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *zeroLogger) Debug(msg string, keyvals ...interface{}) {
	l.write(l.zl.Debug(), msg, keyvals)
}

func (l *zeroLogger) Info(msg string, keyvals ...interface{}) {
	l.write(l.zl.Info(), msg, keyvals)
}

func (l *zeroLogger) Warn(msg string, keyvals ...interface{}) {
	l.write(l.zl.Warn(), msg, keyvals)
}

func (l *zeroLogger) Error(msg string, keyvals ...interface{}) {
	l.write(l.zl.Error(), msg, keyvals)
}

// With returns a child logger that always carries the given key/value pairs
func (l *zeroLogger) With(keyvals ...interface{}) Logger {
	return &zeroLogger{zl: l.zl.With().Fields(toFields(keyvals)).Logger()}
}

func (l *zeroLogger) write(e *zerolog.Event, msg string, keyvals []interface{}) {
	if len(keyvals) == 0 {
		e.Msg(msg)
		return
	}
	e.Fields(toFields(keyvals)).Msg(msg)
}

// toFields turns alternating key/value pairs into a field map. A trailing key
// without a value is recorded as "missing".
func toFields(keyvals []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keyvals)/2)

	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvals[i])
		}

		if i+1 < len(keyvals) {
			value := keyvals[i+1]
			if err, isErr := value.(error); isErr {
				value = err.Error()
			}
			fields[key] = value
		} else {
			fields[key] = "missing"
		}
	}

	return fields
}

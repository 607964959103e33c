// Package logger provides named component loggers backed by zerolog.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a named logger handed to every service and middleware.
type Logger struct {
	zl zerolog.Logger
}

var (
	mu     sync.Mutex
	output io.Writer = os.Stderr
	level            = zerolog.InfoLevel
)

// Configure sets the global output and minimum level. Level accepts the
// zerolog names (debug, info, warn, error). Unknown names keep info.
func Configure(w io.Writer, levelName string) {
	mu.Lock()
	defer mu.Unlock()
	if w != nil {
		output = w
	}
	if parsed, err := zerolog.ParseLevel(strings.ToLower(levelName)); err == nil && levelName != "" {
		level = parsed
	}
}

// NewDefault returns a logger for the named component using the global
// configuration. Services call this when no logger was injected.
func NewDefault(component string) *Logger {
	mu.Lock()
	w := output
	lvl := level
	mu.Unlock()

	zl := zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("component", component).
		Logger()
	return &Logger{zl: zl}
}

// NewConsole returns a logger with human-readable output, for local runs.
func NewConsole(component string) *Logger {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.DebugLevel).With().
		Timestamp().
		Str("component", component).
		Logger()
	return &Logger{zl: zl}
}

// With returns a child logger carrying an extra field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.zl.Warn().Msgf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.zl.Error().Msgf(format, args...) }

// Err logs an error with the message, keeping the error in its own field.
func (l *Logger) Err(err error, format string, args ...interface{}) {
	l.zl.Error().Err(err).Msgf(format, args...)
}

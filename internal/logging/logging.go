// Package logging provides the leveled logger used across reposync. It is a
// thin wrapper around zerolog so that packages depend on a stable internal
// surface rather than on the logging backend directly.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	LevelError = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// Config controls logger construction.
type Config struct {
	Level  int
	Output io.Writer // defaults to stderr
}

type Logger struct {
	logger zerolog.Logger
}

// NewLogger returns a logger writing human-readable output at the configured
// level.
func NewLogger(c Config) *Logger {
	out := c.Output
	if out == nil {
		out = os.Stderr
	}

	return &Logger{
		logger: zerolog.New(zerolog.ConsoleWriter{Out: out}).
			Level(zerologLevel(c.Level)).
			With().Timestamp().Logger(),
	}
}

// NewNopLogger returns a logger that discards everything. Used in tests.
func NewNopLogger() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithName returns a logger that tags every message with a component name.
func (l *Logger) WithName(name string) *Logger {
	return &Logger{logger: l.logger.With().Str("component", name).Logger()}
}

func (l *Logger) Debugf(format string, args ...any) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.logger.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.logger.Error().Msgf(format, args...)
}

func zerologLevel(level int) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

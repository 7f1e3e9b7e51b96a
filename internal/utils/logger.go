// internal/utils/logger.go

package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for logging throughout the application.
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...interface{})
	Info(msg string)
	Infof(format string, args ...interface{})
	Warn(msg string)
	Warnf(format string, args ...interface{})
	Error(msg string)
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// LogOptions controls where and how log records are written.
type LogOptions struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	File   string // optional rotating log file

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// zeroLogger adapts zerolog to the Logger interface.
type zeroLogger struct {
	zl zerolog.Logger
}

// NewLogger creates a logger from the given options. Console output goes to
// stderr so that fetched bodies written to stdout stay clean.
func NewLogger(opts LogOptions) Logger {
	var console io.Writer = os.Stderr
	if !strings.EqualFold(opts.Format, "json") {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}
	}

	out := console
	if opts.File != "" {
		out = zerolog.MultiLevelWriter(console, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 7),
			Compress:   true,
		})
	}

	zl := zerolog.New(out).Level(ParseLevel(opts.Level)).With().Timestamp().Logger()
	return &zeroLogger{zl: zl}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return &zeroLogger{zl: zerolog.Nop()}
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *zeroLogger) Debug(msg string) { l.zl.Debug().Msg(msg) }

func (l *zeroLogger) Debugf(format string, args ...interface{}) {
	l.zl.Debug().Msg(fmt.Sprintf(format, args...))
}

func (l *zeroLogger) Info(msg string) { l.zl.Info().Msg(msg) }

func (l *zeroLogger) Infof(format string, args ...interface{}) {
	l.zl.Info().Msg(fmt.Sprintf(format, args...))
}

func (l *zeroLogger) Warn(msg string) { l.zl.Warn().Msg(msg) }

func (l *zeroLogger) Warnf(format string, args ...interface{}) {
	l.zl.Warn().Msg(fmt.Sprintf(format, args...))
}

func (l *zeroLogger) Error(msg string) { l.zl.Error().Msg(msg) }

func (l *zeroLogger) Errorf(format string, args ...interface{}) {
	l.zl.Error().Msg(fmt.Sprintf(format, args...))
}

func (l *zeroLogger) WithField(key string, value interface{}) Logger {
	return &zeroLogger{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l *zeroLogger) WithFields(fields map[string]interface{}) Logger {
	return &zeroLogger{zl: l.zl.With().Fields(fields).Logger()}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

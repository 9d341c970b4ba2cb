package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	// DebugLevel for debug messages
	DebugLevel LogLevel = "debug"
	// InfoLevel for informational messages
	InfoLevel LogLevel = "info"
	// WarnLevel for warning messages
	WarnLevel LogLevel = "warn"
	// ErrorLevel for error messages
	ErrorLevel LogLevel = "error"
)

var zerologLevels = map[LogLevel]zerolog.Level{
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
}

// Format represents the output format for logs
type Format string

const (
	// JSONFormat outputs logs as JSON
	JSONFormat Format = "json"
	// HumanFormat outputs logs in human-readable format
	HumanFormat Format = "human"
)

// Config holds logger configuration
type Config struct {
	Format Format
	Level  LogLevel
	Output io.Writer // Optional, defaults to stdout
}

// Logger provides structured logging
type Logger struct {
	config Config
	writer io.Writer
	zl     zerolog.Logger
}

// NewLogger creates a new logger with the given configuration
func NewLogger(config Config) *Logger {
	writer := config.Output
	if writer == nil {
		writer = os.Stdout
	}

	var out io.Writer = writer
	if config.Format != JSONFormat {
		out = zerolog.ConsoleWriter{Out: writer, NoColor: true, TimeFormat: time.RFC3339}
	}

	level, ok := zerologLevels[config.Level]
	if !ok {
		level = zerolog.InfoLevel
	}

	return &Logger{
		config: config,
		writer: writer,
		zl:     zerolog.New(out).Level(level).With().Timestamp().Logger(),
	}
}

// NewNopLogger returns a logger that discards everything. Useful for tests.
func NewNopLogger() *Logger {
	return &Logger{
		config: Config{Level: ErrorLevel},
		writer: io.Discard,
		zl:     zerolog.Nop(),
	}
}

// ParseLevel converts a config string to a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch LogLevel(s) {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel:
		return LogLevel(s)
	case "warning":
		return WarnLevel
	default:
		return InfoLevel
	}
}

// With returns a child logger that adds fields to every entry.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	return &Logger{
		config: l.config,
		writer: l.writer,
		zl:     l.zl.With().Fields(fields).Logger(),
	}
}

// Zerolog exposes the underlying logger for libraries that want one.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

func (l *Logger) log(level LogLevel, message string, fields map[string]interface{}) {
	zlevel, ok := zerologLevels[level]
	if !ok {
		zlevel = zerolog.InfoLevel
	}
	event := l.zl.WithLevel(zlevel)
	if event == nil {
		return
	}
	if len(fields) > 0 {
		event = event.Fields(fields)
	}
	event.Msg(message)
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.log(DebugLevel, message, fields)
}

// Info logs an info message
func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.log(InfoLevel, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.log(WarnLevel, message, fields)
}

// Error logs an error message
func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.log(ErrorLevel, message, fields)
}

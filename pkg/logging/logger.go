package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns string representation of log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a textual level ("debug", "warning", ...) to a LogLevel.
// Unknown values fall back to InfoLevel.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel, FatalLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Fields represents structured log fields
type Fields map[string]interface{}

type runIDKey struct{}

// WithRunID returns a context whose log lines carry the given run identifier.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID extracts the run identifier stored by WithRunID.
func RunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// StructuredLogger provides structured logging with context
type StructuredLogger struct {
	service string
	version string
	level   *slog.LevelVar
	handler slog.Handler
	logger  *slog.Logger
}

// NewStructuredLogger creates a JSON logger writing to stdout
func NewStructuredLogger(service, version string, level LogLevel) *StructuredLogger {
	return newLogger(service, version, level, os.Stdout, false)
}

// NewDevLogger creates a colourised human-readable logger for local runs
func NewDevLogger(service, version string, level LogLevel) *StructuredLogger {
	return newLogger(service, version, level, os.Stdout, true)
}

// New picks the dev or JSON handler from the application environment
func New(appEnv, service, version string, level LogLevel) *StructuredLogger {
	if appEnv == "dev" {
		return NewDevLogger(service, version, level)
	}
	return NewStructuredLogger(service, version, level)
}

func newLogger(service, version string, level LogLevel, w io.Writer, dev bool) *StructuredLogger {
	l := &StructuredLogger{
		service: service,
		version: version,
		level:   new(slog.LevelVar),
	}
	l.level.Set(level.slogLevel())
	l.build(w, dev)
	return l
}

func (l *StructuredLogger) build(w io.Writer, dev bool) {
	if dev {
		l.handler = tint.NewHandler(w, &tint.Options{
			Level:      l.level,
			TimeFormat: time.Kitchen,
		})
	} else {
		l.handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l.level})
	}

	hostname, _ := os.Hostname()
	l.logger = slog.New(l.handler).With(
		"service", l.service,
		"version", l.version,
		"hostname", hostname,
	)
}

// SetOutput redirects log output as JSON to w
func (l *StructuredLogger) SetOutput(w io.Writer) {
	l.build(w, false)
}

// SetLevel sets the minimum log level
func (l *StructuredLogger) SetLevel(level LogLevel) {
	l.level.Set(level.slogLevel())
}

// Slog exposes the underlying slog.Logger for libraries that want one.
func (l *StructuredLogger) Slog() *slog.Logger {
	return l.logger
}

// Debug logs a debug message with structured fields
func (l *StructuredLogger) Debug(ctx context.Context, message string, fields Fields) {
	l.log(ctx, DebugLevel, message, fields, nil)
}

// Info logs an info message with structured fields
func (l *StructuredLogger) Info(ctx context.Context, message string, fields Fields) {
	l.log(ctx, InfoLevel, message, fields, nil)
}

// Warn logs a warning message with structured fields
func (l *StructuredLogger) Warn(ctx context.Context, message string, fields Fields) {
	l.log(ctx, WarnLevel, message, fields, nil)
}

// Error logs an error message with structured fields and error details
func (l *StructuredLogger) Error(ctx context.Context, message string, fields Fields, err error) {
	l.log(ctx, ErrorLevel, message, fields, err)
}

// Fatal logs a fatal message and exits the program
func (l *StructuredLogger) Fatal(ctx context.Context, message string, fields Fields, err error) {
	l.log(ctx, FatalLevel, message, fields, err)
	os.Exit(1)
}

func (l *StructuredLogger) log(ctx context.Context, level LogLevel, message string, fields Fields, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	lvl := level.slogLevel()
	if !l.logger.Enabled(ctx, lvl) {
		return
	}

	attrs := make([]slog.Attr, 0, 3)
	if runID := RunID(ctx); runID != "" {
		attrs = append(attrs, slog.String("run_id", runID))
	}
	if len(fields) > 0 {
		fa := make([]any, 0, len(fields)*2)
		for k, v := range fields {
			fa = append(fa, k, v)
		}
		attrs = append(attrs, slog.Group("fields", fa...))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	if level == FatalLevel {
		attrs = append(attrs, slog.Bool("fatal", true))
	}

	l.logger.LogAttrs(ctx, lvl, message, attrs...)
}

// WithFields creates a new logger with additional fields
func (l *StructuredLogger) WithFields(fields Fields) *ContextLogger {
	return &ContextLogger{
		logger: l,
		fields: fields,
	}
}

// ContextLogger wraps StructuredLogger with additional context fields
type ContextLogger struct {
	logger *StructuredLogger
	fields Fields
}

// Debug logs a debug message with context fields
func (c *ContextLogger) Debug(ctx context.Context, message string, fields Fields) {
	c.logger.Debug(ctx, message, c.mergeFields(fields))
}

// Info logs an info message with context fields
func (c *ContextLogger) Info(ctx context.Context, message string, fields Fields) {
	c.logger.Info(ctx, message, c.mergeFields(fields))
}

// Warn logs a warning message with context fields
func (c *ContextLogger) Warn(ctx context.Context, message string, fields Fields) {
	c.logger.Warn(ctx, message, c.mergeFields(fields))
}

// Error logs an error message with context fields
func (c *ContextLogger) Error(ctx context.Context, message string, fields Fields, err error) {
	c.logger.Error(ctx, message, c.mergeFields(fields), err)
}

// mergeFields merges context fields with provided fields
func (c *ContextLogger) mergeFields(fields Fields) Fields {
	merged := make(Fields, len(c.fields)+len(fields))
	for k, v := range c.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *StructuredLogger {
	return newLogger("test", "test", ErrorLevel, io.Discard, false)
}

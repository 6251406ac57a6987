// Package log provides the leveled logger shared by treekv components.
package log

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents the logging level
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelFatal logs and then exits the process
	LevelFatal
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

// String returns the string representation of the log level
func (l Level) String() string {
	if l >= LevelDebug && l <= LevelFatal {
		return levelNames[l]
	}
	return fmt.Sprintf("LEVEL(%d)", l)
}

// ParseLevel maps a level name such as "debug" or "WARN" to its Level.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger interface defines the methods for logging at different levels
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	// Fatal logs a fatal-level message and then calls os.Exit(1)
	Fatal(msg string, args ...interface{})
	// WithFields returns a new logger with the given fields added to the context
	WithFields(fields map[string]interface{}) Logger
	// WithField returns a new logger with the given field added to the context
	WithField(key string, value interface{}) Logger
	GetLevel() Level
	SetLevel(level Level)
}

// sink is shared by a logger and every logger derived from it, so lines
// written through different field sets never interleave.
type sink struct {
	mu    sync.Mutex
	out   io.Writer
	level atomic.Int32
}

// StandardLogger writes one line per message:
// [time] [LEVEL] key=value ... message
type StandardLogger struct {
	sink   *sink
	fields string
	kv     map[string]interface{}
}

// LoggerOption is a function that configures a StandardLogger
type LoggerOption func(*StandardLogger)

// NewStandardLogger creates a new StandardLogger with the given options
func NewStandardLogger(options ...LoggerOption) *StandardLogger {
	l := &StandardLogger{
		sink: &sink{out: os.Stdout},
		kv:   make(map[string]interface{}),
	}
	l.sink.level.Store(int32(LevelInfo))
	for _, option := range options {
		option(l)
	}
	l.fields = formatFields(l.kv)
	return l
}

// WithLevel sets the logging level
func WithLevel(level Level) LoggerOption {
	return func(l *StandardLogger) {
		l.sink.level.Store(int32(level))
	}
}

// WithOutput sets the output writer
func WithOutput(out io.Writer) LoggerOption {
	return func(l *StandardLogger) {
		l.sink.out = out
	}
}

// WithInitialFields sets initial fields for the logger
func WithInitialFields(fields map[string]interface{}) LoggerOption {
	return func(l *StandardLogger) {
		for k, v := range fields {
			l.kv[k] = v
		}
	}
}

// Discard returns a logger that drops everything. Tests use it to keep output quiet.
func Discard() *StandardLogger {
	return NewStandardLogger(WithOutput(io.Discard), WithLevel(LevelFatal+1))
}

func formatFields(kv map[string]interface{}) string {
	if len(kv) == 0 {
		return ""
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, kv[k])
	}
	return b.String()
}

func (l *StandardLogger) log(level Level, msg string, args ...interface{}) {
	if int32(level) < l.sink.level.Load() {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")

	l.sink.mu.Lock()
	fmt.Fprintf(l.sink.out, "[%s] [%s]%s %s\n", timestamp, level, l.fields, msg)
	l.sink.mu.Unlock()

	if level == LevelFatal {
		os.Exit(1)
	}
}

func (l *StandardLogger) Debug(msg string, args ...interface{}) { l.log(LevelDebug, msg, args...) }
func (l *StandardLogger) Info(msg string, args ...interface{})  { l.log(LevelInfo, msg, args...) }
func (l *StandardLogger) Warn(msg string, args ...interface{})  { l.log(LevelWarn, msg, args...) }
func (l *StandardLogger) Error(msg string, args ...interface{}) { l.log(LevelError, msg, args...) }
func (l *StandardLogger) Fatal(msg string, args ...interface{}) { l.log(LevelFatal, msg, args...) }

// WithFields returns a new logger with the given fields added to the context.
// The new logger shares output and level with l.
func (l *StandardLogger) WithFields(fields map[string]interface{}) Logger {
	kv := make(map[string]interface{}, len(l.kv)+len(fields))
	for k, v := range l.kv {
		kv[k] = v
	}
	for k, v := range fields {
		kv[k] = v
	}
	return &StandardLogger{sink: l.sink, kv: kv, fields: formatFields(kv)}
}

// WithField returns a new logger with the given field added to the context
func (l *StandardLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

func (l *StandardLogger) GetLevel() Level {
	return Level(l.sink.level.Load())
}

func (l *StandardLogger) SetLevel(level Level) {
	l.sink.level.Store(int32(level))
}

var defaultLogger atomic.Pointer[StandardLogger]

func init() {
	defaultLogger.Store(NewStandardLogger())
}

// SetDefaultLogger sets the default logger instance
func SetDefaultLogger(logger *StandardLogger) {
	defaultLogger.Store(logger)
}

// GetDefaultLogger returns the default logger instance
func GetDefaultLogger() *StandardLogger {
	return defaultLogger.Load()
}

func Debug(msg string, args ...interface{}) { GetDefaultLogger().Debug(msg, args...) }
func Info(msg string, args ...interface{})  { GetDefaultLogger().Info(msg, args...) }
func Warn(msg string, args ...interface{})  { GetDefaultLogger().Warn(msg, args...) }
func Error(msg string, args ...interface{}) { GetDefaultLogger().Error(msg, args...) }

// WithField returns a logger derived from the default logger
func WithField(key string, value interface{}) Logger {
	return GetDefaultLogger().WithField(key, value)
}

// WithFields returns a logger derived from the default logger
func WithFields(fields map[string]interface{}) Logger {
	return GetDefaultLogger().WithFields(fields)
}

// Package logging provides structured, component-scoped logging for the
// voice memo pipeline. Entries are encoded by zap and written to a daily
// rotating file, optionally mirrored to stderr.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a log severity level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel converts a config string (debug, info, error) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Float64 creates a float64 field
func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Strings creates a string list field
func Strings(key string, value []string) Field {
	return Field{Key: key, Value: value}
}

// Logger handles structured logging
type Logger interface {
	Info(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	Debug(msg string, fields ...Field)
	WithComponent(component string) Logger
	Close() error
}

// Format selects the line encoding.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Config configures the logger
type Config struct {
	// LogDir is the directory where log files are stored (default: ~/.lecture/logs)
	LogDir string
	// Prefix is the log file prefix (e.g., "watch" produces watch-YYYY-MM-DD.log)
	Prefix string
	// RetentionDays is the number of days to retain old log files (default: 30)
	RetentionDays int
	// Component names the logger (e.g., "watcher")
	Component string
	// MinLevel is the minimum log level to write (default: LevelInfo)
	MinLevel Level
	// Format is console or json (default: console)
	Format Format
	// Stderr mirrors every entry to standard error.
	Stderr bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	homeDir, _ := os.UserHomeDir()
	return Config{
		LogDir:        filepath.Join(homeDir, ".lecture", "logs"),
		Prefix:        "watch",
		RetentionDays: 30,
		MinLevel:      LevelInfo,
		Format:        FormatConsole,
	}
}

// ZapLogger implements Logger on top of a zap core.
type ZapLogger struct {
	zl   *zap.Logger
	file *dailyFile
	owns bool
}

// New creates a logger writing to the daily rotating file described by config.
func New(config Config) (*ZapLogger, error) {
	if config.LogDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		config.LogDir = filepath.Join(homeDir, ".lecture", "logs")
	}
	if config.Prefix == "" {
		config.Prefix = "watch"
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = 30
	}
	if config.Format == "" {
		config.Format = FormatConsole
	}

	file, err := newDailyFile(config.LogDir, config.Prefix, config.RetentionDays)
	if err != nil {
		return nil, err
	}

	level := zap.NewAtomicLevelAt(config.MinLevel.zapLevel())
	cores := []zapcore.Core{
		zapcore.NewCore(newEncoder(config.Format), file, level),
	}
	if config.Stderr {
		cores = append(cores, zapcore.NewCore(newEncoder(FormatConsole), zapcore.Lock(os.Stderr), level))
	}

	zl := zap.New(zapcore.NewTee(cores...))
	if config.Component != "" {
		zl = zl.Named(config.Component)
	}

	logger := &ZapLogger{zl: zl, file: file, owns: true}

	// Cleanup errors are logged, not fatal
	if err := file.cleanOld(); err != nil {
		logger.Error("failed to clean old logs", err)
	}

	return logger, nil
}

// FromZap wraps an existing zap logger, e.g. one built over zaptest/observer.
func FromZap(zl *zap.Logger) *ZapLogger {
	return &ZapLogger{zl: zl}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return FromZap(zap.NewNop())
}

func newEncoder(format Format) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	if format == FormatJSON {
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString("[" + name + "]")
	}
	return zapcore.NewConsoleEncoder(cfg)
}

// Info logs an informational message
func (l *ZapLogger) Info(msg string, fields ...Field) {
	l.zl.Info(msg, toZap(fields)...)
}

// Error logs an error message
func (l *ZapLogger) Error(msg string, err error, fields ...Field) {
	zf := toZap(fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	l.zl.Error(msg, zf...)
}

// Debug logs a debug message
func (l *ZapLogger) Debug(msg string, fields ...Field) {
	l.zl.Debug(msg, toZap(fields)...)
}

// WithComponent returns a logger sharing the same output, named after component.
func (l *ZapLogger) WithComponent(component string) Logger {
	return &ZapLogger{zl: l.zl.Named(component), file: l.file}
}

// Close flushes and closes the underlying file. Child loggers created by
// WithComponent do not own the file and Close on them only flushes.
func (l *ZapLogger) Close() error {
	_ = l.zl.Sync()
	if l.owns && l.file != nil {
		return l.file.Close()
	}
	return nil
}

// LogPath returns the path to the current log file, or "" for loggers
// without a file.
func (l *ZapLogger) LogPath() string {
	if l.file == nil {
		return ""
	}
	return l.file.Path()
}

// Zap exposes the underlying logger for libraries that take *zap.Logger.
func (l *ZapLogger) Zap() *zap.Logger {
	return l.zl
}

func toZap(fields []Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

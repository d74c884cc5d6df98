package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the global logger.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	Output io.Writer
}

type Logger struct {
	zl zerolog.Logger
}

func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	out := cfg.Output
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zl := zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.zl.Info().Msg(fmt.Sprintf(format, v...))
}

func (l *Logger) Warn(format string, v ...interface{}) {
	l.zl.Warn().Msg(fmt.Sprintf(format, v...))
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.zl.Error().Msg(fmt.Sprintf(format, v...))
}

func (l *Logger) Debug(format string, v ...interface{}) {
	l.zl.Debug().Msg(fmt.Sprintf(format, v...))
}

func (l *Logger) Fatal(format string, v ...interface{}) {
	l.zl.Error().Msg(fmt.Sprintf(format, v...))
	os.Exit(1)
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Global logger instance
var (
	mu           sync.RWMutex
	GlobalLogger = New(Config{Level: "info", Format: "json"})
)

// Init replaces the global logger. Safe to call more than once.
func Init(cfg Config) {
	l := New(cfg)
	mu.Lock()
	GlobalLogger = l
	mu.Unlock()
}

func global() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return GlobalLogger
}

// With returns a child context on the global logger for structured fields:
//
//	log := logger.With().Str("connection_id", id).Logger()
func With() zerolog.Context {
	return global().zl.With()
}

// Errorw starts a structured error event on the global logger.
func Errorw() *zerolog.Event {
	return global().zl.Error()
}

// Warnw starts a structured warning event on the global logger.
func Warnw() *zerolog.Event {
	return global().zl.Warn()
}

// Debugw starts a structured debug event on the global logger.
func Debugw() *zerolog.Event {
	return global().zl.Debug()
}

// Convenience functions
func Info(format string, v ...interface{}) {
	global().Info(format, v...)
}

func Warn(format string, v ...interface{}) {
	global().Warn(format, v...)
}

func Error(format string, v ...interface{}) {
	global().Error(format, v...)
}

func Debug(format string, v ...interface{}) {
	global().Debug(format, v...)
}

func Fatal(format string, v ...interface{}) {
	global().Fatal(format, v...)
}

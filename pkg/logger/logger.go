// Package logger provides structured logging utilities.
package logger

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper around zap.Logger.
type Logger struct {
	*zap.Logger
}

// ServiceName is attached to every production log line.
const ServiceName = "agent-console"

// New creates a JSON logger at the given level writing to stderr.
func New(level string) (*Logger, error) {
	return newJSON(parseLevel(level), zapcore.Lock(os.Stderr)), nil
}

// newJSON builds the production core: RFC3339 timestamps, millisecond
// durations, per-second sampling of repeated lines, stack traces from error
// level up.
func newJSON(level zapcore.Level, out zapcore.WriteSyncer) *Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), out, zap.NewAtomicLevelAt(level))
	core = zapcore.NewSamplerWithOptions(core, time.Second, 100, 100)

	return &Logger{Logger: zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
		zap.Fields(zap.String("service", ServiceName)),
	)}
}

// NewDevelopment creates a development logger with pretty output.
func NewDevelopment() (*Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: logger}, nil
}

// NewForEnv picks the development logger when env is "development".
func NewForEnv(env, level string) (*Logger, error) {
	if strings.EqualFold(env, "development") {
		return NewDevelopment()
	}
	return New(level)
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// With creates a child logger with additional fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// Named creates a named child logger.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name)}
}

// WithSession creates a child logger scoped to one console session.
func (l *Logger) WithSession(tenantID, user, activationKey string) *Logger {
	return l.With(
		zap.String("tenant_id", tenantID),
		zap.String("user_id", user),
		zap.String("activation", activationKey),
	)
}

// parseLevel maps a level name to a zap level, defaulting to info.
func parseLevel(level string) zapcore.Level {
	if strings.EqualFold(level, "warning") {
		return zapcore.WarnLevel
	}
	l, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

var global *Logger

func init() {
	global, _ = NewForEnv(os.Getenv("ENV"), os.Getenv("LOG_LEVEL"))
	if global == nil {
		global = NewNop()
	}
}

// Global returns the global logger instance.
func Global() *Logger {
	return global
}

// SetGlobal sets the global logger instance.
func SetGlobal(l *Logger) {
	global = l
}

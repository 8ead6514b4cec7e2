// Package logger owns the process-wide zap logger and the per-request
// loggers derived from a context.
package logger

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kailera/acertaia-api/internal/tenant"
)

// Log is the global logger
var Log = zap.NewNop()

// Options selects how the global logger is built.
type Options struct {
	Level       string
	Service     string
	Environment string
	// Console switches to the human readable encoder used in development.
	Console bool
}

// Initialize replaces Log. An unknown level falls back to info.
func Initialize(opts Options) error {
	level := zap.InfoLevel
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level = zap.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	encoderCfg.EncodeDuration = zapcore.MillisDurationEncoder

	encoding := "json"
	if opts.Console {
		encoding = "console"
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	fields := map[string]interface{}{}
	if opts.Service != "" {
		fields["service"] = opts.Service
	}
	if opts.Environment != "" {
		fields["env"] = opts.Environment
	}

	built, err := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      opts.Console,
		Encoding:         encoding,
		EncoderConfig:    encoderCfg,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    fields,
	}.Build()
	if err != nil {
		return err
	}

	Log = built
	return nil
}

type loggerKey struct{}

// WithLogger attaches a scoped logger to the context
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the context logger, or Log, decorated with whatever
// request scope ctx carries.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return Log
	}
	return decorate(ctx, FromContextOr(ctx, Log))
}

// FromContextOr returns the logger attached to ctx, else fallback, else Log.
// Unlike FromContext it adds no scope fields.
func FromContextOr(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
			return l
		}
	}
	if fallback != nil {
		return fallback
	}
	return Log
}

func decorate(ctx context.Context, l *zap.Logger) *zap.Logger {
	fields := make([]zap.Field, 0, 3)
	if id := tenant.RequestID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if owner, err := tenant.OwnerID(ctx); err == nil {
		fields = append(fields, zap.String("owner_id", owner))
	}
	if instance := tenant.Instance(ctx); instance != "" {
		fields = append(fields, zap.String("instance", instance))
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// Sync flushes any buffered log entries
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}

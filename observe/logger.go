package observe

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a minimal structured logging interface.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: logging must be best-effort and must not panic.
type Logger interface {
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)
	// With returns a logger that adds fields to every entry.
	With(fields ...Field) Logger
}

// Field represents a structured log field.
type Field struct {
	Key   string
	Value any
}

// Err returns the conventional "error" field. A nil error yields an empty
// string value.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: ""}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Log outputs.
const (
	OutputStderr = "stderr"
	OutputStdout = "stdout"
	OutputFile   = "file"
)

// LoggingConfig configures the logging subsystem.
type LoggingConfig struct {
	Enabled bool       `yaml:"enabled"`
	Level   string     `yaml:"level"`  // debug|info|warn|error
	Output  string     `yaml:"output"` // stderr|stdout|file
	File    FileConfig `yaml:"file"`
}

// FileConfig configures rotation for file output.
type FileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

func (c LoggingConfig) validate() error {
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	switch c.Output {
	case "", OutputStderr, OutputStdout:
	case OutputFile:
		if c.File.Path == "" {
			return fmt.Errorf("%w: file output requires file.path", ErrInvalidLogOutput)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogOutput, c.Output)
	}
	return nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "":
		return zapcore.InfoLevel, nil
	case "debug", "info", "warn", "error":
		return zapcore.ParseLevel(s)
	default:
		return zapcore.InfoLevel, fmt.Errorf("%w: %q", ErrInvalidLogLevel, s)
	}
}

// zapLogger adapts a zap core to Logger.
type zapLogger struct {
	z *zap.Logger
}

// NewLogger builds a JSON logger writing to the configured output.
func NewLogger(cfg LoggingConfig) (Logger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	var w io.Writer
	switch cfg.Output {
	case OutputStdout:
		w = os.Stdout
	case OutputFile:
		w = &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
	default:
		w = os.Stderr
	}
	return NewLoggerWithWriter(cfg.Level, w), nil
}

// NewLoggerWithWriter builds a JSON logger writing to w. Unknown levels
// fall back to info.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	lvl, _ := parseLevel(level)
	enc := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), lvl)
	return &zapLogger{z: zap.New(core)}
}

// NewZapLogger wraps an existing zap logger.
func NewZapLogger(z *zap.Logger) Logger {
	if z == nil {
		return NopLogger()
	}
	return &zapLogger{z: z}
}

func (l *zapLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.z.Info(msg, withTrace(ctx, toZap(fields))...)
}

func (l *zapLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.z.Warn(msg, withTrace(ctx, toZap(fields))...)
}

func (l *zapLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.z.Error(msg, withTrace(ctx, toZap(fields))...)
}

func (l *zapLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.z.Debug(msg, withTrace(ctx, toZap(fields))...)
}

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(toZap(fields)...)}
}

// Sync flushes buffered entries.
func (l *zapLogger) Sync() error {
	return l.z.Sync()
}

// withTrace appends the trace id of the span in ctx, if any.
func withTrace(ctx context.Context, zf []zap.Field) []zap.Field {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		zf = append(zf, zap.String("trace_id", sc.TraceID().String()))
	}
	return zf
}

// toZap converts fields, redacting sensitive keys.
func toZap(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	for _, f := range fields {
		if isRedactedField(f.Key) {
			out = append(out, zap.String(f.Key, "[REDACTED]"))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

var redacted = func() map[string]bool {
	m := make(map[string]bool, len(RedactedFields))
	for _, k := range RedactedFields {
		m[k] = true
	}
	return m
}()

func isRedactedField(key string) bool {
	return redacted[key]
}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Info(context.Context, string, ...Field)  {}
func (nopLogger) Warn(context.Context, string, ...Field)  {}
func (nopLogger) Error(context.Context, string, ...Field) {}
func (nopLogger) Debug(context.Context, string, ...Field) {}

func (l nopLogger) With(...Field) Logger { return l }

package logging

import (
	"fmt"
	"io"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls logger construction.
type Options struct {
	Level string
	// File is a strftime pattern such as "logs/face-verify.%Y%m%d.log". Empty
	// disables the file sink.
	File         string
	MaxAge       time.Duration
	RotationTime time.Duration
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds a production ready structured logger. When opts.File is set
// the JSON output is also written to a rotating log file; the returned closer
// releases it.
func NewLogger(opts Options) (*zap.Logger, io.Closer, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	if opts.File == "" {
		return logger, nopCloser{}, nil
	}

	rotateOpts := []rotatelogs.Option{}
	if opts.MaxAge > 0 {
		rotateOpts = append(rotateOpts, rotatelogs.WithMaxAge(opts.MaxAge))
	}
	if opts.RotationTime > 0 {
		rotateOpts = append(rotateOpts, rotatelogs.WithRotationTime(opts.RotationTime))
	}
	writer, err := rotatelogs.New(opts.File, rotateOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("open rotating log %q: %w", opts.File, err)
	}

	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(cfg.EncoderConfig), zapcore.AddSync(writer), level)
	logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))
	return logger, writer, nil
}

// WithOperation enriches the logger with operation and request identifiers.
func WithOperation(logger *zap.Logger, operation, requestID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	return logger.With(fields...)
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package commons

import (
	"io"
	"os"
	"path/filepath"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func zapWriter() io.Writer { return os.Stderr }

// Logger is the structured logging contract used throughout the pipeline.
// Implementations must be safe for concurrent use.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	// With returns a derived logger that tags every subsequent entry with
	// the given key/value pairs, e.g. With("session_id", id).
	With(args ...interface{}) Logger
	Sync() error
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// Option configures NewApplicationLogger.
type Option func(*loggerOptions)

type loggerOptions struct {
	name  string
	path  string
	level string
}

func Name(name string) Option { return func(o *loggerOptions) { o.name = name } }
func Path(path string) Option { return func(o *loggerOptions) { o.path = path } }
func Level(level string) Option { return func(o *loggerOptions) { o.level = level } }

// NewApplicationLogger builds a Logger writing JSON lines to stderr and,
// when Path is non-empty, to a lumberjack-rotated file under that
// directory named "<name>.log".
func NewApplicationLogger(opts ...Option) (Logger, error) {
	o := &loggerOptions{name: "voicecapture", level: "info"}
	for _, apply := range opts {
		apply(o)
	}

	level := zapcore.InfoLevel
	if err := level.Set(o.level); err != nil {
		level = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(zapWriter())), level),
	}
	if o.path != "" {
		rotated := &lumberjack.Logger{
			Filename:   filepath.Join(o.path, o.name+".log"),
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotated), level))
	}

	core := zapcore.NewTee(cores...)
	base := zap.New(core).Named(o.name)
	return &zapLogger{sugar: base.Sugar()}, nil
}

func (l *zapLogger) Debug(args ...interface{})                 { l.sugar.Debug(args...) }
func (l *zapLogger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Info(args ...interface{})                  { l.sugar.Info(args...) }
func (l *zapLogger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Warn(args ...interface{})                  { l.sugar.Warn(args...) }
func (l *zapLogger) Warnf(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Error(args ...interface{})                 { l.sugar.Error(args...) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }
func (l *zapLogger) Fatalf(format string, args ...interface{}) { l.sugar.Fatalf(format, args...) }
func (l *zapLogger) Sync() error                                { return l.sugar.Sync() }

func (l *zapLogger) With(args ...interface{}) Logger {
	return &zapLogger{sugar: l.sugar.With(args...)}
}

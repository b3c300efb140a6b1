// Package commons holds the cross-cutting interfaces every other
// package is handed at construction time — logging today, nothing
// else yet. Grounded on the teacher's pkg/commons.Logger usage
// (Infow/Errorw/.../Infof style calls seen throughout
// internal/channel, internal/callcontext, internal/transformer).
package commons

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the structured logging contract every component depends on.
// Two calling conventions are supported, matching the teacher: structured
// key/value pairs (the "w" suffix, sugared zap style) and classic
// printf-style formatting.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// With returns a Logger that always carries the given key/value
	// pairs — used to scope a logger to a room, peer, or tick.
	With(keysAndValues ...interface{}) Logger
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// Option configures the zap-backed Logger.
type Option func(*config)

type config struct {
	development bool
	filePath    string
	maxSizeMB   int
	maxBackups  int
	maxAgeDays  int
}

// WithDevelopment switches to a human-readable console encoder.
func WithDevelopment() Option { return func(c *config) { c.development = true } }

// WithRotatingFile enables lumberjack-backed rotating file output
// alongside stderr — the production configuration the teacher runs.
func WithRotatingFile(path string, maxSizeMB, maxBackups, maxAgeDays int) Option {
	return func(c *config) {
		c.filePath = path
		c.maxSizeMB = maxSizeMB
		c.maxBackups = maxBackups
		c.maxAgeDays = maxAgeDays
	}
}

// New builds a Logger. Development mode uses a readable console
// encoder; production mode uses JSON and, if WithRotatingFile was
// given, tees into a lumberjack-rotated file.
func New(opts ...Option) Logger {
	c := &config{maxSizeMB: 100, maxBackups: 5, maxAgeDays: 28}
	for _, opt := range opts {
		opt(c)
	}

	var encoder zapcore.Encoder
	level := zapcore.InfoLevel
	if c.development {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encCfg)
		level = zapcore.DebugLevel
	} else {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level),
	}
	if c.filePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   c.filePath,
			MaxSize:    c.maxSizeMB,
			MaxBackups: c.maxBackups,
			MaxAge:     c.maxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}

	core := zapcore.NewTee(cores...)
	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &zapLogger{s: zl.Sugar()}
}

func (l *zapLogger) Debug(args ...interface{}) { l.s.Debug(args...) }
func (l *zapLogger) Info(args ...interface{})  { l.s.Info(args...) }
func (l *zapLogger) Warn(args ...interface{})  { l.s.Warn(args...) }
func (l *zapLogger) Error(args ...interface{}) { l.s.Error(args...) }

func (l *zapLogger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})  { l.s.Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }

func (l *zapLogger) Debugw(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Infow(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warnw(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }

func (l *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{s: l.s.With(kv...)}
}

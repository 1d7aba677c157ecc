// Package log wraps zap behind the small logging interface used across the
// map server.
package log

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger handed to every component.
//
//nolint:interfacebloat // mirrors the sugared zap surface we rely on
type Logger interface {
	Info(keyvals ...interface{})
	Debug(keyvals ...interface{})
	Warn(keyvals ...interface{})
	Error(keyvals ...interface{})
	Fatal(keyvals ...interface{})
	Infow(msg string, keyvals ...interface{})
	Debugw(msg string, keyvals ...interface{})
	Warnw(msg string, keyvals ...interface{})
	Errorw(msg string, keyvals ...interface{})
	Fatalw(msg string, keyvals ...interface{})
	With(args ...interface{}) Logger
	Named(s string) Logger
	AddCallerSkip(skip int) Logger
	Sync() error
}

type sugared struct {
	*zap.SugaredLogger
}

func (l *sugared) With(args ...interface{}) Logger {
	return &sugared{l.SugaredLogger.With(args...)}
}

func (l *sugared) Named(s string) Logger {
	return &sugared{l.SugaredLogger.Named(s)}
}

func (l *sugared) AddCallerSkip(skip int) Logger {
	return &sugared{l.WithOptions(zap.AddCallerSkip(skip))}
}

// Levels understood by New.
const (
	DebugLevel = int(zapcore.DebugLevel)
	InfoLevel  = int(zapcore.InfoLevel)
	WarnLevel  = int(zapcore.WarnLevel)
	ErrorLevel = int(zapcore.ErrorLevel)
	FatalLevel = int(zapcore.FatalLevel)
)

// TestLogsEnv, when set to DEBUG, lowers the default level to debug.
const TestLogsEnv = "MAPSERVER_TEST_LOGS"

// DefaultLevel is the level of the logger returned by DefaultLogger.
var DefaultLevel = InfoLevel

//nolint:gochecknoinits // debug logs in CI are toggled through the environment
func init() {
	if v, ok := os.LookupEnv(TestLogsEnv); ok && v == "DEBUG" {
		DefaultLevel = DebugLevel
	}
}

var defaultOnce sync.Once

// DefaultLogger returns the process wide logger, JSON encoded on stdout.
func DefaultLogger() Logger {
	defaultOnce.Do(func() {
		zap.ReplaceGlobals(newZap(nil, true, DefaultLevel))
	})
	return &sugared{zap.S()}
}

// ConfigureDefaultLogger replaces the process wide logger.
func ConfigureDefaultLogger(output zapcore.WriteSyncer, level int, jsonFormat bool) {
	defaultOnce.Do(func() {})
	zap.ReplaceGlobals(newZap(output, jsonFormat, level))
}

// New returns a logger writing to output (stdout when nil) at the given level.
func New(output zapcore.WriteSyncer, level int, jsonFormat bool) Logger {
	return &sugared{newZap(output, jsonFormat, level).Sugar()}
}

func newZap(output zapcore.WriteSyncer, jsonFormat bool, level int) *zap.Logger {
	if output == nil {
		output = os.Stdout
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if jsonFormat {
		encoder = zapcore.NewJSONEncoder(cfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(cfg)
	}
	return zap.New(zapcore.NewCore(encoder, output, zapcore.Level(level)), zap.WithCaller(true))
}

type ctxKey struct{}

// ToContext attaches l to ctx.
func ToContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContextOrDefault returns the logger stored by ToContext, or the default one.
func FromContextOrDefault(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return DefaultLogger()
}

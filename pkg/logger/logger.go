package logger

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger for the given level ("debug", "info", ...) and
// format ("console" or "json").
func New(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.Set(strings.ToLower(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		CallerKey:    "caller",
		MessageKey:   "msg",
		LineEnding:   zapcore.DefaultLineEnding,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.CapitalLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(format) {
	case "", "console":
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zapLevel)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)), nil
}

var global atomic.Pointer[zap.Logger]

func init() {
	l, _ := New("info", "console")
	global.Store(l)
}

// SetGlobal replaces the process-wide logger.
func SetGlobal(l *zap.Logger) {
	if l != nil {
		global.Store(l)
	}
}

// L returns the process-wide logger without the helper caller skip.
func L() *zap.Logger {
	return global.Load().WithOptions(zap.AddCallerSkip(-1))
}

// With returns a child of the global logger carrying fields.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

func Sync() {
	_ = global.Load().Sync()
}

// Convenience functions
func Info(format string, v ...interface{}) {
	global.Load().Info(fmt.Sprintf(format, v...))
}

func Warn(format string, v ...interface{}) {
	global.Load().Warn(fmt.Sprintf(format, v...))
}

func Error(format string, v ...interface{}) {
	global.Load().Error(fmt.Sprintf(format, v...))
}

func Debug(format string, v ...interface{}) {
	global.Load().Debug(fmt.Sprintf(format, v...))
}

func Fatal(format string, v ...interface{}) {
	global.Load().Error(fmt.Sprintf(format, v...))
	Sync()
	os.Exit(1)
}

package logger

import (
	"os"
	"strings"

	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// ParseLevel maps LOG_LEVEL values to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

type Logger struct {
	prefix string
	level  Level
	sugar  *zap.SugaredLogger
}

func New(prefix string, level Level) *Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		zap.NewAtomicLevelAt(level.zapLevel()),
	)
	return NewWithCore(core, prefix, level)
}

// NewWithCore builds a Logger on top of an existing zap core.
func NewWithCore(core zapcore.Core, prefix string, level Level) *Logger {
	z := zap.New(core)
	if name := loggerName(prefix); name != "" {
		z = z.Named(name)
	}
	return &Logger{
		prefix: prefix,
		level:  level,
		sugar:  z.Sugar(),
	}
}

func loggerName(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "[]")
}

// Named returns a child logger sharing the same sink.
func (l *Logger) Named(module string) *Logger {
	return &Logger{
		prefix: l.prefix + "[" + module + "] ",
		level:  l.level,
		sugar:  l.sugar.Named(module),
	}
}

// With attaches structured key/value pairs to every entry.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		prefix: l.prefix,
		level:  l.level,
		sugar:  l.sugar.With(keysAndValues...),
	}
}

func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}

func (l *Logger) Debug(args ...interface{}) {
	if l.level <= DEBUG {
		l.sugar.Debug(args...)
	}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.level <= DEBUG {
		l.sugar.Debugf(format, args...)
	}
}

func (l *Logger) Info(args ...interface{}) {
	if l.level <= INFO {
		l.sugar.Info(args...)
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l.level <= INFO {
		l.sugar.Infof(format, args...)
	}
}

func (l *Logger) Warn(args ...interface{}) {
	if l.level <= WARN {
		l.sugar.Warn(args...)
	}
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	if l.level <= WARN {
		l.sugar.Warnf(format, args...)
	}
}

func (l *Logger) Error(args ...interface{}) {
	if l.level <= ERROR {
		l.sugar.Error(args...)
	}
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.level <= ERROR {
		l.sugar.Errorf(format, args...)
	}
}

func (l *Logger) Fatal(args ...interface{}) {
	l.sugar.Fatal(args...)
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.sugar.Fatalf(format, args...)
}

func (l *Logger) Sub(module string) waLog.Logger {
	return &WhatsAppLogger{logger: l.Named(module)}
}

// WhatsAppLogger adapts Logger to the whatsmeow logging interface.
type WhatsAppLogger struct {
	logger *Logger
}

func (w *WhatsAppLogger) Debugf(format string, args ...interface{}) {
	w.logger.Debugf(format, args...)
}

func (w *WhatsAppLogger) Infof(format string, args ...interface{}) {
	w.logger.Infof(format, args...)
}

func (w *WhatsAppLogger) Warnf(format string, args ...interface{}) {
	w.logger.Warnf(format, args...)
}

func (w *WhatsAppLogger) Errorf(format string, args ...interface{}) {
	w.logger.Errorf(format, args...)
}

func (w *WhatsAppLogger) Sub(module string) waLog.Logger {
	return w.logger.Sub(module)
}

func NewWhatsAppLogger(prefix string, level Level) waLog.Logger {
	return &WhatsAppLogger{
		logger: New(prefix, level),
	}
}

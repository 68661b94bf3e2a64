// High level log wrapper, so it can output different log based on level.
//
// There are five levels in total: FATAL, ERROR, WARNING, INFO, DEBUG.
// The default log output level is INFO, you can change it by:
// - call log.SetLevelByString()
// - set environment variable `LOG_LEVEL`
//
// Output goes to stderr unless SetRotatingFile is called, in which case it is
// written to a size-rotated file.

package log

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

type Logger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

var _log = New()

func SetLevelByString(level string) {
	_log.SetLevelByString(level)
}

func GetLogLevel() string {
	return _log.level.Level().String()
}

// SetOutput redirects the global logger, keeping its level.
func SetOutput(w io.Writer) {
	_log = newLogger(zapcore.AddSync(w), _log.level)
}

// SetRotatingFile sends the global logger output to filename, rotating it
// once it reaches maxSizeMB.
func SetRotatingFile(filename string, maxSizeMB, maxBackups int) {
	SetOutput(&lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		LocalTime:  true,
	})
}

func Sync() error {
	return _log.sugar.Sync()
}

func Info(v ...interface{}) {
	_log.sugar.Info(v...)
}

func Infof(format string, v ...interface{}) {
	_log.sugar.Infof(format, v...)
}

func Panic(v ...interface{}) {
	_log.sugar.Panic(v...)
}

func Panicf(format string, v ...interface{}) {
	_log.sugar.Panicf(format, v...)
}

func Debug(v ...interface{}) {
	_log.sugar.Debug(v...)
}

func Debugf(format string, v ...interface{}) {
	_log.sugar.Debugf(format, v...)
}

func Warn(v ...interface{}) {
	_log.sugar.Warn(v...)
}

func Warnf(format string, v ...interface{}) {
	_log.sugar.Warnf(format, v...)
}

func Error(v ...interface{}) {
	_log.sugar.Error(v...)
}

func Errorf(format string, v ...interface{}) {
	_log.sugar.Errorf(format, v...)
}

func Fatal(v ...interface{}) {
	_log.sugar.Fatal(v...)
}

func Fatalf(format string, v ...interface{}) {
	_log.sugar.Fatalf(format, v...)
}

func (l *Logger) SetLevelByString(level string) {
	l.level.SetLevel(StringToLogLevel(level))
}

func StringToLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "fatal":
		return zapcore.FatalLevel
	case "error":
		return zapcore.ErrorLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	}
	return zapcore.DebugLevel
}

func New() *Logger {
	level := zapcore.InfoLevel
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		level = StringToLogLevel(l)
	}
	return newLogger(zapcore.Lock(os.Stderr), zap.NewAtomicLevelAt(level))
}

func newLogger(ws zapcore.WriteSyncer, level zap.AtomicLevel) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, level)
	// Skip the package-level wrapper frame.
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &Logger{sugar: logger.Sugar(), level: level}
}
